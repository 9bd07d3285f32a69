package e2e

import (
	"context"
	"testing"
	"time"
)

// runOnAllConfigs is a helper that runs a test on all configurations.
// S3 configurations join when Localstack is reachable.
func runOnAllConfigs(t *testing.T, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()

	for _, cfg := range AllConfigurations() {
		t.Run(cfg.Name, func(t *testing.T) {
			tc := NewTestContext(t, cfg)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}

	if !CheckLocalstackAvailable(t) {
		t.Logf("Localstack not available, skipping S3 configurations")
		return
	}

	for _, cfg := range S3Configurations() {
		t.Run(cfg.Name, func(t *testing.T) {
			helper := NewLocalstackHelper(t)
			defer helper.Cleanup()
			SetupS3Config(t, cfg, helper)

			tc := NewTestContext(t, cfg)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}
}

// runOnConfig runs a test on a single named configuration
func runOnConfig(t *testing.T, name string, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()

	cfg := GetConfiguration(name)
	if cfg == nil {
		t.Fatalf("Unknown configuration %q", name)
	}

	tc := NewTestContext(t, cfg)
	defer tc.Cleanup()

	testFunc(t, tc)
}

// testCtx returns a context bounded for a single test step
func testCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
