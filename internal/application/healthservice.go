package application

import (
	"context"
	"log/slog"
	"time"
)

// Health status values reported by HealthService.
const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthUnreachable = "unreachable"
)

// Pinger is satisfied by the database handle.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReport is the liveness view served on /api/v1/health.
type HealthReport struct {
	Status        string
	Database      string
	AuditDegraded bool
	AuditFailures int64
	CheckedAt     time.Time
}

// HealthService reports whether the credential subsystem can serve requests
// and whether audit entries are being lost.
type HealthService struct {
	db     Pinger
	audit  *AuditLog
	logger *slog.Logger
}

// NewHealthService creates a new HealthService with the required dependencies.
func NewHealthService(db Pinger, audit *AuditLog, logger *slog.Logger) *HealthService {
	return &HealthService{db: db, audit: audit, logger: logger}
}

// Check pings the database and reads the audit log state. A failed ping or a
// degraded audit log both make the overall status degraded. Driver errors are
// logged, never reported.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:        HealthOK,
		Database:      HealthOK,
		AuditDegraded: s.audit.Degraded(),
		AuditFailures: s.audit.Failures(),
		CheckedAt:     time.Now().UTC(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.Ping(pingCtx); err != nil {
		s.logger.Error("health check database ping failed", "error", err)
		report.Database = HealthUnreachable
		report.Status = HealthDegraded
	}
	if report.AuditDegraded {
		report.Status = HealthDegraded
	}
	return report
}
