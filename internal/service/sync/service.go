package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/kdwycz/certimate-webhook/internal/domain"
	"github.com/kdwycz/certimate-webhook/internal/engine"
	"github.com/kdwycz/certimate-webhook/internal/ws"
)

// Service is the orchestrator entry point the webhook handler calls. It
// validates a notification, resolves the domain against the topology,
// claims the domain lock and dispatches the sync job to the background,
// returning before any remote work happens.
type Service struct {
	topology *domain.Topology
	locks    *DomainLocks
	runner   *Runner
	reporter *Reporter
	logger   *slog.Logger

	mu      gosync.Mutex
	recent  []*domain.SyncJob
	maxKeep int

	wg  gosync.WaitGroup
	now func() time.Time
}

// New constructs the sync orchestrator.
func New(topology *domain.Topology, eng engine.Engine, hub *ws.Hub, logger *slog.Logger, groupTimeout time.Duration, jobHistory int) *Service {
	if jobHistory <= 0 {
		jobHistory = 100
	}
	return &Service{
		topology: topology,
		locks:    NewDomainLocks(),
		runner:   NewRunner(eng, groupTimeout, logger),
		reporter: NewReporter(logger, hub),
		logger:   logger.With("component", "sync"),
		maxKeep:  jobHistory,
		now:      time.Now,
	}
}

// ParseRequest validates the raw webhook body. The body must be a JSON
// object carrying a non-empty string field "name".
func ParseRequest(raw []byte) (domain.SyncRequest, error) {
	var payload struct {
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.SyncRequest{}, fmt.Errorf("%w: invalid JSON body", domain.ErrMalformedRequest)
	}
	if payload.Name == nil {
		return domain.SyncRequest{}, fmt.Errorf("%w: missing field name", domain.ErrMalformedRequest)
	}
	name := domain.NormalizeDomain(*payload.Name)
	if name == "" {
		return domain.SyncRequest{}, fmt.Errorf("%w: name must not be empty", domain.ErrMalformedRequest)
	}
	return domain.SyncRequest{Domain: name}, nil
}

// Trigger handles one validated webhook call end to end: resolve, lock,
// dispatch. It returns the accepted job, or ErrMalformedRequest,
// ErrUnknownDomain or ErrDomainBusy without starting any work.
func (s *Service) Trigger(raw []byte) (*domain.SyncJob, error) {
	req, err := ParseRequest(raw)
	if err != nil {
		return nil, err
	}

	mapping, groups, err := s.topology.Resolve(req.Domain)
	if err != nil {
		return nil, err
	}

	token, ok := s.locks.TryAcquire(req.Domain)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDomainBusy, req.Domain)
	}

	job := &domain.SyncJob{
		ID:           uuid.NewString(),
		Domain:       req.Domain,
		StartedAt:    s.now().UTC(),
		TargetGroups: groups,
		GroupNames:   mapping.ServerGroups,
		Status:       domain.StatusPending,
	}
	s.remember(job)
	s.logger.Info("sync job accepted", "job_id", job.ID, "domain", job.Domain, "groups", job.GroupNames)

	accepted := job.Snapshot()
	s.wg.Add(1)
	go s.execute(job, mapping, token)

	return accepted, nil
}

// execute runs one job in the background. The lock is released on every
// exit path and a panic inside the engine never escapes the job.
func (s *Service) execute(job *domain.SyncJob, mapping domain.DomainMapping, token *LockToken) {
	defer s.wg.Done()
	defer token.Release()
	defer func() {
		if rec := recover(); rec != nil {
			s.finishJob(job, domain.StatusFailed)
			s.logger.Error("sync job panicked", "job_id", job.ID, "domain", job.Domain, "panic", rec)
		}
	}()

	s.setStatus(job, domain.StatusRunning)

	vars := engine.Vars{
		SSLSourcePath:      mapping.SSLSourcePath,
		SSLTargetPath:      mapping.SSLTargetPath,
		SSLTargetParentDir: path.Dir(mapping.SSLTargetPath),
		ReloadCmd:          mapping.ReloadCmd,
		Extra:              mapping.ExtraVars,
	}

	outcomes := s.runner.Run(context.Background(), job, vars, func(outcome domain.HostOutcome) {
		s.appendOutcome(job, outcome)
		s.reporter.Outcome(job, outcome)
	})

	s.finishJob(job, Aggregate(outcomes))
}

// HasDomain reports whether the topology knows the domain.
func (s *Service) HasDomain(dom string) bool {
	_, _, err := s.topology.Resolve(dom)
	return err == nil
}

// Wait blocks until all in-flight jobs have finished. Used on shutdown
// and in tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Jobs returns snapshots of recent jobs, newest first, optionally
// filtered by domain.
func (s *Service) Jobs(dom string) []*domain.SyncJob {
	key := domain.NormalizeDomain(dom)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.SyncJob, 0, len(s.recent))
	for i := len(s.recent) - 1; i >= 0; i-- {
		job := s.recent[i]
		if key != "" && job.Domain != key {
			continue
		}
		out = append(out, job.Snapshot())
	}
	return out
}

func (s *Service) remember(job *domain.SyncJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, job)
	if len(s.recent) > s.maxKeep {
		s.recent = s.recent[len(s.recent)-s.maxKeep:]
	}
}

func (s *Service) setStatus(job *domain.SyncJob, status domain.JobStatus) {
	s.mu.Lock()
	job.Status = status
	s.mu.Unlock()
}

func (s *Service) appendOutcome(job *domain.SyncJob, outcome domain.HostOutcome) {
	s.mu.Lock()
	job.Outcomes = append(job.Outcomes, outcome)
	s.mu.Unlock()
}

func (s *Service) finishJob(job *domain.SyncJob, status domain.JobStatus) {
	now := s.now().UTC()
	s.mu.Lock()
	job.Status = status
	job.CompletedAt = &now
	s.mu.Unlock()
	s.reporter.Job(job, now.Sub(job.StartedAt))
}
