// Package probe runs startup checks against the map API and local storage.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single check when the probe sets none.
const DefaultTimeout = 5 * time.Second

// CheckFunc returns nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

// Probe is a single startup check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Timeout  time.Duration
	Critical bool // a failure prevents startup
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Run executes all probes concurrently. Results keep the order of probes.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))

	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			timeout := p.Timeout
			if timeout <= 0 {
				timeout = DefaultTimeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := p.Check(checkCtx)
			results[i] = Result{Probe: p, Error: err, Duration: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Analyze logs every result and joins the errors of failed critical probes.
func Analyze(results []Result) error {
	var critical []error

	for _, r := range results {
		took := r.Duration.Round(time.Millisecond)
		if r.Error == nil {
			slog.Info(fmt.Sprintf("[PASS] %-12s", r.Probe.Name), "took", took)
			continue
		}
		slog.Warn(fmt.Sprintf("[FAIL] %-12s", r.Probe.Name), "took", took, "critical", r.Probe.Critical, "error", r.Error)
		if r.Probe.Critical {
			critical = append(critical, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		}
	}

	return errors.Join(critical...)
}
