package auth

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"example.com/voicematch/signaling"
)

const testSecret = "test-secret"

func TestTokenRoundTrip(t *testing.T) {
	age := 27
	region := "Kyoto"
	token, err := NewToken(testSecret, "u-1", "mio", signaling.GenderFemale, &age, &region)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}

	claims, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != "u-1" || claims.Nickname != "mio" {
		t.Errorf("claims = %+v, want u-1/mio", claims)
	}
	if claims.Age == nil || *claims.Age != age {
		t.Errorf("Age = %v, want %d", claims.Age, age)
	}

	partner := claims.Partner()
	if partner.Nickname != "mio" || partner.Gender != signaling.GenderFemale {
		t.Errorf("Partner() = %+v", partner)
	}
	if partner.Region == nil || *partner.Region != region {
		t.Errorf("Partner().Region = %v, want %q", partner.Region, region)
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := NewToken(testSecret, "u-1", "mio", signaling.GenderFemale, nil, nil)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}
	if _, err := ParseToken("other-secret", token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestParseTokenGarbage(t *testing.T) {
	if _, err := ParseToken(testSecret, "not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestParseTokenRejectsNonHMAC(t *testing.T) {
	// alg=none style token must be rejected by the method check.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-1"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := ParseToken(testSecret, signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseToken(none-alg) error = %v, want ErrInvalidToken", err)
	}
}

func TestParseTokenMissingUserID(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Nickname: "ghost"})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := ParseToken(testSecret, signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseToken(no userId) error = %v, want ErrInvalidToken", err)
	}
}
