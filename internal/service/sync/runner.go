package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/kdwycz/certimate-webhook/internal/domain"
	"github.com/kdwycz/certimate-webhook/internal/engine"
)

// Runner executes one sync job: one engine invocation per target group,
// each under its own timeout. Groups run concurrently and a failing
// group never prevents the others from being attempted.
type Runner struct {
	engine  engine.Engine
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner constructs a runner with the per-group execution timeout.
func NewRunner(eng engine.Engine, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		engine:  eng,
		timeout: timeout,
		logger:  logger.With("component", "runner"),
	}
}

// Run fans the job out to every target group and blocks until all
// dispatched invocations have finished. Each outcome is passed to
// report as it arrives; the full set is returned once complete.
func (r *Runner) Run(ctx context.Context, job *domain.SyncJob, vars engine.Vars, report func(domain.HostOutcome)) []domain.HostOutcome {
	results := make(chan domain.HostOutcome)

	var wg gosync.WaitGroup
	for _, group := range job.TargetGroups {
		wg.Add(1)
		go func(group domain.ServerGroup) {
			defer wg.Done()
			r.runGroup(ctx, job, group, vars, results)
		}(group)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]domain.HostOutcome, 0)
	for outcome := range results {
		outcomes = append(outcomes, outcome)
		if report != nil {
			report(outcome)
		}
	}
	return outcomes
}

func (r *Runner) runGroup(ctx context.Context, job *domain.SyncJob, group domain.ServerGroup, vars engine.Vars, results chan<- domain.HostOutcome) {
	// A panic inside the engine must stay scoped to this group; the
	// other groups keep running and the job still aggregates.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("group execution panicked",
				"job_id", job.ID, "domain", job.Domain, "group", group.Name, "panic", rec)
			for _, host := range group.Hosts {
				results <- domain.HostOutcome{
					Host:        host,
					GroupName:   group.Name,
					FailureKind: domain.FailureExecution,
					ErrorDetail: fmt.Sprintf("engine panic: %v", rec),
				}
			}
		}
	}()

	groupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	outcomes, err := r.engine.Execute(groupCtx, group, vars)
	if err != nil {
		kind := domain.FailureExecution
		if errors.Is(err, context.DeadlineExceeded) {
			kind = domain.FailureTimeout
		}
		r.logger.Error("group execution failed",
			"job_id", job.ID, "domain", job.Domain, "group", group.Name,
			"kind", kind, "error", err, "duration_ms", time.Since(start).Milliseconds())
		for _, host := range group.Hosts {
			results <- domain.HostOutcome{
				Host:        host,
				GroupName:   group.Name,
				FailureKind: kind,
				ErrorDetail: err.Error(),
			}
		}
		return
	}

	r.logger.Info("group execution finished",
		"job_id", job.ID, "domain", job.Domain, "group", group.Name,
		"hosts", len(outcomes), "duration_ms", time.Since(start).Milliseconds())
	for _, outcome := range outcomes {
		results <- outcome
	}
}
