package match

import (
	"time"

	"example.com/voicematch/signaling"
)

// Disclosure level thresholds. Levels are derived from elapsed call time
// only and are monotonic non-decreasing within a call.
const (
	// Level 1 adds the partner's age.
	disclosureAgeAfter = 30 * time.Second
	// Level 2 adds the partner's region.
	disclosureRegionAfter = 60 * time.Second
	// Level 3 is the full profile.
	disclosureFullAfter = 180 * time.Second
)

// MaxDisclosureLevel is the level at which the full profile is visible.
const MaxDisclosureLevel = 3

// Level maps elapsed call time to a disclosure level 0–3.
func Level(elapsed time.Duration) int {
	switch {
	case elapsed >= disclosureFullAfter:
		return 3
	case elapsed >= disclosureRegionAfter:
		return 2
	case elapsed >= disclosureAgeAfter:
		return 1
	default:
		return 0
	}
}

// RedactPartner returns the view of a partner profile permitted at the
// given disclosure level. Nickname and gender are always visible.
func RedactPartner(p signaling.Partner, level int) signaling.Partner {
	out := signaling.Partner{
		Nickname: p.Nickname,
		Gender:   p.Gender,
	}
	if level >= 1 {
		out.Age = p.Age
	}
	if level >= 2 {
		out.Region = p.Region
	}
	return out
}
