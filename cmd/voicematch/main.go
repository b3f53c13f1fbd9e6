// Command voicematch is a terminal client for the anonymous call service:
// it mints a profile token, connects to the signaling server, queues for a
// match and runs the resulting voice call until interrupted.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"example.com/voicematch/audio"
	"example.com/voicematch/auth"
	"example.com/voicematch/config"
	"example.com/voicematch/match"
	"example.com/voicematch/rtc"
	"example.com/voicematch/signaling"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	token, err := mintToken(cfg)
	if err != nil {
		logger.Error("token", "error", err)
		os.Exit(1)
	}

	engine := rtc.NewEngine(rtc.Config{
		ICEServers: iceServers(cfg),
		Microphone: audio.NullMicrophone{},
	}, logger)

	channel := signaling.NewChannel(cfg.ServerURL, logger)

	coord := match.New(channel, engine, match.NopAudioSession{}, match.Config{}, logger)
	coord.AddListener(printEvent)

	channel.SetHandler(coord)
	engine.OnLocalCandidate(coord.HandleLocalCandidate)
	engine.OnConnectionState(coord.HandleConnectionState)

	if err := channel.Connect(token); err != nil {
		logger.Error("connect", "url", cfg.ServerURL, "error", err)
		os.Exit(1)
	}
	defer channel.Disconnect()

	if err := coord.StartMatching(); err != nil {
		logger.Error("start matching", "error", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	// Leave cleanly whatever phase we are in.
	if err := coord.HangUp(); err != nil {
		coord.CancelMatching()
	}
}

func mintToken(cfg *config.Config) (string, error) {
	nickname := envOr("NICKNAME", "anonymous")
	gender := signaling.Gender(envOr("GENDER", "other"))

	var age *int
	if v := os.Getenv("AGE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", fmt.Errorf("bad AGE %q: %w", v, err)
		}
		age = &n
	}
	var region *string
	if v := os.Getenv("REGION"); v != "" {
		region = &v
	}

	return auth.NewToken(cfg.JWTSecret, uuid.New().String(), nickname, gender, age, region)
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	if cfg.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{cfg.TURNServer},
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNCredential,
		})
	}
	return servers
}

func printEvent(ev match.Event) {
	switch ev.Kind {
	case match.EventStateChanged:
		if ev.Partner != nil {
			fmt.Printf("-- %s (partner: %s)\n", ev.State, ev.Partner.Nickname)
		} else if ev.State == match.StateEnded {
			fmt.Printf("-- ended (%s)\n", ev.Reason)
		} else {
			fmt.Printf("-- %s\n", ev.State)
		}
	case match.EventDisclosureChanged:
		fmt.Printf("-- disclosure level %d: %s\n", ev.Level, formatPartner(*ev.Partner))
	case match.EventError:
		fmt.Printf("-- error: %v\n", ev.Err)
	}
}

func formatPartner(p signaling.Partner) string {
	out := fmt.Sprintf("%s (%s", p.Nickname, p.Gender)
	if p.Age != nil {
		out += fmt.Sprintf(", %d", *p.Age)
	}
	if p.Region != nil {
		out += ", " + *p.Region
	}
	return out + ")"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
