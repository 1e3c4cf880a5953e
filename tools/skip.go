// Package tools provides small helpers shared by the module's test suites.
package tools

import "testing"

type SkipTestArgs struct {
	Long bool // skip under `go test -short`
}

// CheckSkip centralizes the long-test skip convention used across the
// module's ginkgo suite bootstraps.
func CheckSkip(t *testing.T, args SkipTestArgs) {
	if args.Long && testing.Short() {
		t.Skip("skipping long-running suite in -short mode")
	}
}
