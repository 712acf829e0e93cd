package sync

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kdwycz/certimate-webhook/internal/domain"
	"github.com/kdwycz/certimate-webhook/internal/ws"
)

// Aggregate merges per-host outcomes into one job status. It must only
// be called with at least one outcome; empty target groups are rejected
// before a job ever starts.
func Aggregate(outcomes []domain.HostOutcome) domain.JobStatus {
	ok, failed := 0, 0
	for _, outcome := range outcomes {
		if outcome.OK {
			ok++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return domain.StatusSucceeded
	case ok == 0:
		return domain.StatusFailed
	default:
		return domain.StatusPartiallyFailed
	}
}

// Reporter emits one structured record per terminal host outcome and
// one per completed job, and streams outcomes to websocket watchers.
type Reporter struct {
	logger *slog.Logger
	hub    *ws.Hub
}

// NewReporter constructs a reporter. The hub may be nil in tests.
func NewReporter(logger *slog.Logger, hub *ws.Hub) *Reporter {
	return &Reporter{logger: logger.With("component", "reporter"), hub: hub}
}

// Outcome reports one terminal host outcome as it arrives.
func (r *Reporter) Outcome(job *domain.SyncJob, outcome domain.HostOutcome) {
	fields := []any{
		"job_id", job.ID,
		"domain", job.Domain,
		"group", outcome.GroupName,
		"host", outcome.Host,
		"ok", outcome.OK,
	}
	if outcome.FailureKind != "" {
		fields = append(fields, "kind", outcome.FailureKind)
	}
	if outcome.ErrorDetail != "" {
		fields = append(fields, "detail", outcome.ErrorDetail)
	}
	if outcome.OK {
		r.logger.Info("host outcome", fields...)
	} else {
		r.logger.Warn("host outcome", fields...)
	}
	recordHostOutcome(outcome)

	if r.hub == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type":    "host_outcome",
		"job_id":  job.ID,
		"domain":  job.Domain,
		"outcome": outcome,
	})
	if err == nil {
		r.hub.Broadcast(job.Domain, payload)
	}
}

// Job reports a completed job with its final status.
func (r *Reporter) Job(job *domain.SyncJob, duration time.Duration) {
	fields := []any{
		"job_id", job.ID,
		"domain", job.Domain,
		"status", job.Status,
		"groups", len(job.GroupNames),
		"outcomes", len(job.Outcomes),
		"duration_ms", duration.Milliseconds(),
	}
	switch job.Status {
	case domain.StatusSucceeded:
		r.logger.Info("sync job finished", fields...)
	case domain.StatusPartiallyFailed:
		r.logger.Warn("sync job finished", fields...)
	default:
		r.logger.Error("sync job finished", fields...)
	}
	recordJob(job.Status, duration)

	if r.hub == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type":   "job_finished",
		"job_id": job.ID,
		"domain": job.Domain,
		"status": job.Status,
	})
	if err == nil {
		r.hub.Broadcast(job.Domain, payload)
	}
}
