package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// BuildInfo is the release metadata reported by /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	// HealthRepository probes the stores purchases and orders cannot run without. Any failing
	// check makes the report an error.
	HealthRepository repositories.HealthRepository
	// Advisory probes dependencies whose loss only delays side effects, such as the event topic.
	// A failing advisory check degrades the report but never turns it into an error.
	Advisory []repositories.DependencyCheck
	Clock    func() time.Time
	Build    BuildInfo
}

type systemService struct {
	critical repositories.HealthRepository
	advisory repositories.HealthRepository
	clock    func() time.Time
	build    BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	svc := &systemService{
		critical: deps.HealthRepository,
		clock:    func() time.Time { return clock().UTC() },
		build:    deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.clock()
	}
	if len(deps.Advisory) > 0 {
		advisory, err := repositories.NewDependencyHealthRepository(deps.Advisory, repositories.WithDependencyClock(svc.clock))
		if err != nil {
			return nil, fmt.Errorf("system service: advisory checks: %w", err)
		}
		svc.advisory = advisory
	}
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.critical.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, fmt.Errorf("system service: collect health: %w", err)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	report.Status = criticalStatus(report.Status, report.Checks)

	if s.advisory != nil {
		extra, err := s.advisory.Collect(ctx)
		if err != nil {
			return SystemHealthReport{}, fmt.Errorf("system service: collect advisory health: %w", err)
		}
		for name, check := range extra.Checks {
			if _, taken := report.Checks[name]; taken {
				name = "advisory:" + name
			}
			report.Checks[name] = check
			if !check.OK() && report.Status == domain.HealthStatusOK {
				report.Status = domain.HealthStatusDegraded
			}
		}
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.CommitSHA) == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	return report, nil
}

// criticalStatus escalates any failing critical check to an error: without its stores the
// instance cannot take purchases.
func criticalStatus(status string, checks map[string]domain.SystemHealthCheck) string {
	for _, check := range checks {
		if !check.OK() {
			return domain.HealthStatusError
		}
	}
	if strings.TrimSpace(status) == "" {
		return domain.HealthStatusOK
	}
	return status
}
