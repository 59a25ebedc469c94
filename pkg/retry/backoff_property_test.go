//go:build property
// +build property

package retry_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"sandboxnotify/pkg/retry"
)

// Property: base <= Jitter(base, r) < 1.5*base for every r in [0, 1)
func TestJitterBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("jittered delay stays inside [base, 1.5*base)", prop.ForAll(
		func(baseMs int64, r float64) bool {
			base := time.Duration(baseMs) * time.Millisecond
			d := retry.Jitter(base, r)
			return d >= base && float64(d) < float64(base)*retry.MaxJitterFactor
		},
		gen.Int64Range(1, 60_000),
		gen.Float64Range(0, 0.999999),
	))

	properties.Property("schedule never shrinks before the cap", prop.ForAll(
		func(seed int64) bool {
			j := retry.NewJitteredExponential(time.Second, 2, 0, seed)
			prev := time.Duration(0)
			for i := 0; i < 5; i++ {
				d := j.NextBackOff()
				if i > 0 && d < prev*2/3 {
					return false
				}
				prev = d
			}
			return true
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
