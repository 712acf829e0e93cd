package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/kdwycz/certimate-webhook/internal/domain"
)

func newTestTopology(t *testing.T) *domain.Topology {
	t.Helper()
	topology, err := domain.NewTopology(
		[]domain.ServerGroup{
			{Name: "web1", Hosts: []string{"10.0.0.1", "10.0.0.2"}},
			{Name: "web2", Hosts: []string{"10.0.1.1"}},
		},
		[]domain.DomainMapping{{
			Domain:        "example.com",
			ServerGroups:  []string{"web1", "web2"},
			SSLSourcePath: "/certs/example.com",
			SSLTargetPath: "/etc/nginx/ssl/example.com/fullchain.pem",
			ReloadCmd:     "nginx -s reload",
		}},
	)
	if err != nil {
		t.Fatalf("NewTopology returned error: %v", err)
	}
	return topology
}

func newTestService(t *testing.T, eng *fakeEngine) *Service {
	t.Helper()
	return New(newTestTopology(t), eng, nil, discardLogger(), time.Minute, 10)
}

func TestParseRequest(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{name: "valid", body: `{"name": "Example.COM"}`, want: "example.com", ok: true},
		{name: "empty name", body: `{"name": ""}`},
		{name: "whitespace name", body: `{"name": "   "}`},
		{name: "missing field", body: `{}`},
		{name: "wrong type", body: `{"name": 42}`},
		{name: "not json", body: `certificate updated`},
		{name: "json array", body: `["example.com"]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tc.body))
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if req.Domain != tc.want {
					t.Fatalf("expected %q, got %q", tc.want, req.Domain)
				}
				return
			}
			if !errors.Is(err, domain.ErrMalformedRequest) {
				t.Fatalf("expected ErrMalformedRequest, got %v", err)
			}
		})
	}
}

func TestTriggerRunsEveryGroupAndAggregates(t *testing.T) {
	eng := newFakeEngine()
	eng.errs["web2"] = errors.New("connection refused")
	svc := newTestService(t, eng)

	job, err := svc.Trigger([]byte(`{"name": "example.com"}`))
	if err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	if job.Status != domain.StatusPending {
		t.Fatalf("accepted job should be pending, got %v", job.Status)
	}
	svc.Wait()

	jobs := svc.Jobs("example.com")
	if len(jobs) != 1 {
		t.Fatalf("expected 1 recorded job, got %d", len(jobs))
	}
	final := jobs[0]
	if final.Status != domain.StatusPartiallyFailed {
		t.Fatalf("expected partially failed, got %v", final.Status)
	}
	if len(final.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(final.Outcomes))
	}
	if final.CompletedAt == nil {
		t.Fatal("completed job should carry a completion time")
	}
	if eng.callCount("web1") != 1 || eng.callCount("web2") != 1 {
		t.Fatalf("expected one invocation per group, got web1=%d web2=%d", eng.callCount("web1"), eng.callCount("web2"))
	}
}

func TestTriggerRejectsUnknownDomain(t *testing.T) {
	svc := newTestService(t, newFakeEngine())

	_, err := svc.Trigger([]byte(`{"name": "missing.example.org"}`))
	if !errors.Is(err, domain.ErrUnknownDomain) {
		t.Fatalf("expected ErrUnknownDomain, got %v", err)
	}
	if len(svc.Jobs("")) != 0 {
		t.Fatal("no job should be recorded for an unknown domain")
	}
}

func TestTriggerRejectsConcurrentSyncForSameDomain(t *testing.T) {
	eng := newFakeEngine()
	eng.block = make(chan struct{})
	svc := newTestService(t, eng)

	first, err := svc.Trigger([]byte(`{"name": "example.com"}`))
	if err != nil {
		t.Fatalf("first trigger failed: %v", err)
	}

	_, err = svc.Trigger([]byte(`{"name": "EXAMPLE.com"}`))
	if !errors.Is(err, domain.ErrDomainBusy) {
		t.Fatalf("expected ErrDomainBusy, got %v", err)
	}

	close(eng.block)
	svc.Wait()

	second, err := svc.Trigger([]byte(`{"name": "example.com"}`))
	if err != nil {
		t.Fatalf("trigger after completion failed: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a new job after the first completed")
	}
	svc.Wait()
}

func TestLockReleasedWhenEnginePanics(t *testing.T) {
	eng := newFakeEngine()
	eng.panics = true
	svc := newTestService(t, eng)

	if _, err := svc.Trigger([]byte(`{"name": "example.com"}`)); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	svc.Wait()

	jobs := svc.Jobs("example.com")
	if len(jobs) != 1 || jobs[0].Status != domain.StatusFailed {
		t.Fatalf("panicked job should be failed, got %+v", jobs)
	}

	eng.panics = false
	if _, err := svc.Trigger([]byte(`{"name": "example.com"}`)); err != nil {
		t.Fatalf("lock was not released after panic: %v", err)
	}
	svc.Wait()
}

func TestJobsFiltersByDomainNewestFirst(t *testing.T) {
	eng := newFakeEngine()
	svc := newTestService(t, eng)

	for i := 0; i < 3; i++ {
		if _, err := svc.Trigger([]byte(`{"name": "example.com"}`)); err != nil {
			t.Fatalf("trigger %d failed: %v", i, err)
		}
		svc.Wait()
	}

	jobs := svc.Jobs("example.com")
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].StartedAt.Before(jobs[2].StartedAt) {
		t.Fatal("jobs should be returned newest first")
	}
	if len(svc.Jobs("other.example.org")) != 0 {
		t.Fatal("filter should exclude other domains")
	}
}
