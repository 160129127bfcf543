package e2e

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"credanchor/e2e/steps/credential"
	"credanchor/e2e/steps/proof"
)

// TestFeatures runs every feature file as its own subtest against a fresh
// in-process server per scenario. Set GODOG_TAGS to filter scenarios.
func TestFeatures(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("features", "*.feature"))
	if err != nil || len(files) == 0 {
		t.Fatalf("no feature files found: %v", err)
	}
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".feature")
		t.Run(name, func(t *testing.T) {
			suite := godog.TestSuite{
				Name:                name,
				ScenarioInitializer: func(sc *godog.ScenarioContext) { initScenario(t, sc) },
				Options: &godog.Options{
					Format:   "pretty",
					Paths:    []string{file},
					Tags:     os.Getenv("GODOG_TAGS"),
					Strict:   true,
					TestingT: t,
				},
			}
			if suite.Run() != 0 {
				t.Fatalf("feature %s failed", name)
			}
		})
	}
}

func initScenario(t *testing.T, sc *godog.ScenarioContext) {
	tc := &TestContext{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		*tc = *NewTestContext(newServer(t))
		return ctx, nil
	})
	sc.After(func(ctx context.Context, scenario *godog.Scenario, err error) (context.Context, error) {
		if err != nil {
			t.Logf("scenario %q failed; last response: %s", scenario.Name, tc.LastResponseBody)
		}
		tc.Close()
		return ctx, nil
	})

	RegisterSteps(sc, tc)
	credential.RegisterSteps(sc, tc)
	proof.RegisterSteps(sc, tc)
}
