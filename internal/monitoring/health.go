package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProbeStatus is the outcome of a dependency probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDown     ProbeStatus = "down"
	StatusDegraded ProbeStatus = "degraded"
)

// ProbeResult captures one dependency check.
type ProbeResult struct {
	Component string        `json:"component"`
	Status    ProbeStatus   `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Report aggregates probe results. Status is the worst status observed.
type Report struct {
	Status    ProbeStatus   `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
	Checks    []ProbeResult `json:"checks"`
}

// Healthy reports whether the instance can serve traffic. Degraded dependencies still serve.
func (r Report) Healthy() bool {
	return r.Status != StatusDown
}

// Check is a named dependency probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) ProbeResult
}

// NewCheck constructs a check. A nil probe always reports down.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{Status: StatusDown, Details: "probe not implemented"}
		}
	}
	return Check{Name: name, Run: fn}
}

// Registry runs the registered probes on demand.
type Registry struct {
	checks []Check
	now    func() time.Time
}

// NewRegistry returns a registry holding the supplied checks.
func NewRegistry(checks ...Check) *Registry {
	r := &Registry{now: time.Now}
	for _, check := range checks {
		r.Register(check)
	}
	return r
}

// Register appends a probe. Unnamed checks are ignored.
func (r *Registry) Register(check Check) {
	if check.Name == "" {
		return
	}
	r.checks = append(r.checks, check)
}

// Evaluate runs every probe sequentially.
func (r *Registry) Evaluate(ctx context.Context) Report {
	if ctx == nil {
		ctx = context.Background()
	}
	report := Report{
		Status:    StatusUp,
		CheckedAt: r.now().UTC(),
		Checks:    make([]ProbeResult, 0, len(r.checks)),
	}

	for _, check := range r.checks {
		result := runCheck(ctx, check)
		report.Checks = append(report.Checks, result)
		report.Status = worst(report.Status, result.Status)
	}
	return report
}

func worst(current, next ProbeStatus) ProbeStatus {
	switch {
	case current == StatusDown || next == StatusDown:
		return StatusDown
	case current == StatusDegraded || next == StatusDegraded:
		return StatusDegraded
	default:
		return StatusUp
	}
}

func runCheck(ctx context.Context, check Check) (result ProbeResult) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			result = ProbeResult{Status: StatusDown, Details: fmt.Sprint(rec)}
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		result.Component = check.Name
	}()

	return check.Run(ctx)
}

// ResultFromError converts a probe error into a result. Timeouts are reported as degraded.
func ResultFromError(err error, duration time.Duration) ProbeResult {
	if duration < 0 {
		duration = 0
	}
	if err == nil {
		return ProbeResult{Status: StatusUp, Duration: duration}
	}

	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}
	return ProbeResult{Status: status, Details: err.Error(), Duration: duration}
}
