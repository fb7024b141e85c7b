package repositories

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/storefront/api/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck describes a dependency probe executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// DependencyHealthOption customises the dependency-backed health repository.
type DependencyHealthOption func(*dependencyHealthRepository)

// WithDependencyTimeout overrides the timeout applied when a check omits its own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithDependencyClock injects a custom clock, mainly for tests.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository returns a HealthRepository that runs every probe concurrently on
// Collect. Names must be unique and non-blank.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if err := validateChecks(checks); err != nil {
		return nil, fmt.Errorf("health repository: %w", err)
	}
	repo := &dependencyHealthRepository{
		checks:         slices.Clone(checks),
		defaultTimeout: defaultDependencyTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func validateChecks(checks []DependencyCheck) error {
	if len(checks) == 0 {
		return errors.New("no dependency checks registered")
	}
	names := make([]string, 0, len(checks))
	for _, check := range checks {
		name := strings.TrimSpace(check.Name)
		switch {
		case name == "":
			return errors.New("dependency check without a name")
		case check.Check == nil:
			return fmt.Errorf("dependency %q has no probe", name)
		case slices.Contains(names, name):
			return fmt.Errorf("dependency %q registered twice", name)
		}
		names = append(names, name)
	}
	return nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	probed := make([]domain.SystemHealthCheck, len(r.checks))
	var group errgroup.Group
	for i, check := range r.checks {
		group.Go(func() error {
			probed[i] = r.probe(ctx, check)
			return nil
		})
	}
	_ = group.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(probed)),
		GeneratedAt: r.now(),
	}
	for i, result := range probed {
		report.Checks[strings.TrimSpace(r.checks[i].Name)] = result
		report.Status = worse(report.Status, result.Status)
	}
	return report, nil
}

// probe runs one check under its deadline. Timeouts and cancellation are errors; any other probe
// failure only degrades.
func (r *dependencyHealthRepository) probe(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(probeCtx)
	if err == nil {
		err = probeCtx.Err()
	}
	result := domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: "ok", CheckedAt: r.now()}
	result.Latency = result.CheckedAt.Sub(start)
	if err == nil {
		return result
	}

	result.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Status, result.Detail = domain.HealthStatusError, "timeout"
	case errors.Is(err, context.Canceled):
		result.Status, result.Detail = domain.HealthStatusError, "cancelled"
	default:
		result.Status, result.Detail = domain.HealthStatusDegraded, err.Error()
	}
	return result
}

// worse returns the more severe of two statuses. Unknown statuses count as degraded.
func worse(current, next string) string {
	switch {
	case current == domain.HealthStatusError || next == domain.HealthStatusError:
		return domain.HealthStatusError
	case current == domain.HealthStatusOK && next == domain.HealthStatusOK:
		return domain.HealthStatusOK
	default:
		return domain.HealthStatusDegraded
	}
}
