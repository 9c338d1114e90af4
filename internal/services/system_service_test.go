package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agriloop/api/internal/domain"
)

type stubHealthRepo struct {
	collectFn func(context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepo) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.SystemHealthReport{}, nil
}

func TestSystemServiceHealth(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
	repo := &stubHealthRepo{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusDegraded, Error: "deadline exceeded"},
				},
				GeneratedAt: now,
			}, nil
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{Health: repo, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded got %s", report.Status)
	}
	if _, ok := report.Checks["firestore"]; !ok {
		t.Fatalf("expected firestore check got %+v", report.Checks)
	}
}

func TestSystemServiceHealthDefaults(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
	svc, err := NewSystemService(SystemServiceDeps{Health: &stubHealthRepo{}, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok got %s", report.Status)
	}
	if report.Checks == nil {
		t.Fatal("expected non-nil checks map")
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceHealthCollectFailure(t *testing.T) {
	ctx := context.Background()
	repo := &stubHealthRepo{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{}, errors.New("probe wiring broken")
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{Health: repo})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	if _, err := svc.Health(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable got %v", err)
	}
}
