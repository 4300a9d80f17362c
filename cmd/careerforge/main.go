// Command careerforge is a terminal client for a careerforge-cloud server.
// It signs in through the identity provider, loads the account's usage
// against its plan limits, and can charge one unit of a feature, exercising
// the same session and quota machinery the dashboard runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"github.com/careerforge/careerforge-cloud/internal/client"
	"github.com/careerforge/careerforge-cloud/internal/fault"
	"github.com/careerforge/careerforge-cloud/internal/identity"
	"github.com/careerforge/careerforge-cloud/internal/quota"
	"github.com/careerforge/careerforge-cloud/internal/ratelimit"
	"github.com/careerforge/careerforge-cloud/internal/session"
)

func main() {
	_ = godotenv.Load()

	apiURL := flag.String("api", envOr("CAREERFORGE_API_URL", "http://localhost:8080"), "careerforge-cloud server base URL")
	identityURL := flag.String("identity", os.Getenv("IDENTITY_URL"), "identity provider base URL")
	identityKey := flag.String("identity-key", os.Getenv("IDENTITY_API_KEY"), "identity provider publishable key")
	email := flag.String("email", os.Getenv("CAREERFORGE_EMAIL"), "account email")
	password := flag.String("password", os.Getenv("CAREERFORGE_PASSWORD"), "account password")
	charge := flag.String("charge", "", "charge one unit of this feature before printing usage")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if *identityURL == "" || *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "identity URL, email, and password are required (flags or environment)")
		os.Exit(2)
	}

	if err := run(*apiURL, *identityURL, *identityKey, *email, *password, *charge); err != nil {
		fmt.Fprintln(os.Stderr, "error:", fault.UserMessage(err))
		os.Exit(1)
	}
}

func run(apiURL, identityURL, identityKey, email, password, charge string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	provider := identity.NewHTTPClient(identityURL, identityKey)
	manager, err := session.NewManager(provider, ratelimit.New(), session.Config{})
	if err != nil {
		return err
	}
	defer manager.Close()

	ident, err := manager.SignIn(ctx, email, password)
	if err != nil {
		return err
	}

	// The token source follows the manager, so a mid-run refresh rotates
	// the bearer token under the store.
	store := client.NewUsageClient(apiURL, func() string {
		if current := manager.Current(); current != nil {
			return current.AccessToken
		}
		return ""
	})
	tracker := quota.NewTracker(store)

	if _, err := tracker.LoadUsage(ctx, ident.UserID); err != nil {
		return err
	}

	if charge != "" {
		if err := chargeFeature(ctx, tracker, charge); err != nil {
			return err
		}
	}

	printUsage(tracker)
	return nil
}

// chargeFeature charges one unit, reloading and retrying once on a version
// conflict from a concurrent device.
func chargeFeature(ctx context.Context, tracker *quota.Tracker, feature string) error {
	_, err := tracker.Increment(ctx, feature, 1, map[string]any{"source": "cli"})
	if fault.KindOf(err) == fault.KindVersionConflict {
		rec := tracker.Snapshot()
		if _, err := tracker.LoadUsage(ctx, rec.UserID); err != nil {
			return err
		}
		_, err = tracker.Increment(ctx, feature, 1, map[string]any{"source": "cli"})
	}
	return err
}

func printUsage(tracker *quota.Tracker) {
	rec := tracker.Snapshot()
	fmt.Printf("%s (%s plan)\n", rec.UserID, rec.PlanType)

	features := make([]string, 0, len(rec.Counts))
	for feature := range rec.Counts {
		features = append(features, feature)
	}
	sort.Strings(features)

	for _, feature := range features {
		limit := tracker.Limit(feature)
		if limit < 0 {
			fmt.Printf("  %-28s %d / unlimited\n", feature, rec.Used(feature))
			continue
		}
		fmt.Printf("  %-28s %d / %d\n", feature, rec.Used(feature), limit)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
