/*
Package main is a reference SlopeLink tracker client.

It creates or joins a party, drives a party.Session over the websocket
transport, publishes a simulated GPS track on a fixed tick, and runs the
barometric altitude estimator against a simulated pressure source. It exists
to exercise the client-side presence stack end to end against a running
server.
*/
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"slopelink/internal/app/altitude"
	"slopelink/internal/app/party"
	"slopelink/internal/app/profile"
	"slopelink/internal/configs"
	"slopelink/internal/pkg/logx"
)

const publishInterval = 3 * time.Second

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "SlopeLink server base URL")
	code := flag.String("code", "", "party code to join (empty creates a new party)")
	userID := flag.String("uid", "", "local user id (required)")
	avatarURL := flag.String("avatar", "", "local avatar URL")
	lat := flag.Float64("lat", 46.537, "starting latitude")
	lon := flag.Float64("lon", 8.126, "starting longitude")
	flag.Parse()

	logx.InitGlobalLogger(true)

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: tracker -uid <user-id> [-code <party-code>]")
		os.Exit(1)
	}

	partyCode := *code
	if partyCode == "" {
		created, err := createParty(*serverURL)
		if err != nil {
			logx.Fatal(err, "Failed to create party")
		}
		partyCode = created
		logx.Info("Created new party", "party_code", partyCode)
	}

	// Client-side profile resolution goes through the server's profile
	// endpoint, cached exactly like the server caches its store.
	cache := profile.NewCache(profile.NewHTTPStore(*serverURL))

	transport := party.NewWSTransport(*serverURL, *userID, *avatarURL)
	session := party.NewSession(transport, cache, *userID, *avatarURL, party.SessionConfig{
		StaleAfter:  30 * time.Second,
		StalePolicy: configs.StalePolicyMark,
	})
	transport.Bind(
		func(msg party.PresenceMessage) {
			session.HandlePresence(context.Background(), msg)
		},
		session.HandleMemberLeft,
	)

	joinCtx, cancelJoin := context.WithTimeout(context.Background(), 10*time.Second)
	err := session.Join(joinCtx, partyCode)
	cancelJoin()
	if err != nil {
		logx.Fatal(err, "Failed to join party", "party_code", partyCode)
	}

	estimator := altitude.NewEstimator(newSimulatedBarometer(), altitude.DefaultAlpha)
	if err := estimator.Start(); err != nil {
		logx.Fatal(err, "Failed to start altitude estimator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	curLat, curLon := *lat, *lon

	for {
		select {
		case <-ticker.C:
			// Drift the simulated track downhill a little each tick.
			curLat += (rand.Float64() - 0.5) * 0.0005
			curLon += (rand.Float64() - 0.5) * 0.0005

			session.PublishPosition(ctx, curLat, curLon)
			session.ReapStale()

			members := session.Members()
			names := make([]string, 0, len(members))
			for _, m := range members {
				label := m.UserID
				if m.UserName != "" {
					label = m.UserName
				}
				if m.Stale {
					label += " (stale)"
				}
				names = append(names, label)
			}

			if alt, ok := estimator.Current(); ok {
				logx.Info("Party status",
					"party_code", partyCode,
					"members", strings.Join(names, ", "),
					"altitude_m", fmt.Sprintf("%.1f", alt),
				)
			} else {
				logx.Info("Party status",
					"party_code", partyCode,
					"members", strings.Join(names, ", "),
				)
			}

		case <-ctx.Done():
			logx.Info("Shutting down tracker...")
			estimator.Stop()
			session.Leave()
			return
		}
	}
}

// createParty opens a new party through the HTTP API and returns its code.
func createParty(serverURL string) (string, error) {
	endpoint := strings.TrimSuffix(serverURL, "/") + "/api/party/create"

	res, err := http.Post(endpoint, "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("create party request: %w", err)
	}
	defer res.Body.Close()

	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			PartyCode string `json:"partyCode"`
		} `json:"data"`
	}

	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("decode create party response: %w", err)
	}

	if envelope.Code != 0 || envelope.Data.PartyCode == "" {
		return "", fmt.Errorf("create party failed: %s", envelope.Message)
	}

	return envelope.Data.PartyCode, nil
}

// simulatedBarometer emits a slow random walk around standard sea-level
// pressure, standing in for the platform sensor during development.
type simulatedBarometer struct {
	mu       sync.Mutex
	pressure float64
}

func newSimulatedBarometer() *simulatedBarometer {
	return &simulatedBarometer{pressure: 1013.25}
}

// Subscribe starts a goroutine emitting one sample per second until the
// returned cancel function is called.
func (b *simulatedBarometer) Subscribe(fn func(pressureHPa float64)) (func(), error) {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				b.mu.Lock()
				b.pressure += (rand.Float64() - 0.5) * 0.4
				sample := b.pressure
				b.mu.Unlock()

				fn(sample)

			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { close(done) })
	}

	return cancel, nil
}
