package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kdwycz/certimate-webhook/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGroup() domain.ServerGroup {
	return domain.ServerGroup{
		Name:       "web1",
		Hosts:      []string{"10.0.0.1", "10.0.0.2"},
		SSHUser:    "deploy",
		SSHKeyPath: "/etc/keys/deploy",
		SSHPort:    22,
	}
}

func testVars() Vars {
	return Vars{
		SSLSourcePath:      "/certs/example.com",
		SSLTargetPath:      "/etc/nginx/ssl/example.com",
		SSLTargetParentDir: "/etc/nginx/ssl",
		ReloadCmd:          "nginx -s reload",
	}
}

func newTestAnsible(run runFunc) *Ansible {
	a := NewAnsible("playbooks", "ssl_sync.yml", discardLogger())
	a.run = run
	return a
}

func TestExecuteMapsRecapToOutcomes(t *testing.T) {
	output := `PLAY RECAP ****
10.0.0.1 : ok=3 changed=1 unreachable=0 failed=0
10.0.0.2 : ok=1 changed=0 unreachable=0 failed=1
`
	eng := newTestAnsible(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name != "ansible-playbook" {
			t.Fatalf("unexpected command %q", name)
		}
		return []byte(output), errors.New("exit status 2")
	})

	outcomes, err := eng.Execute(context.Background(), testGroup(), testVars())
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].OK || outcomes[0].Host != "10.0.0.1" {
		t.Fatalf("unexpected first outcome: %+v", outcomes[0])
	}
	if outcomes[1].OK || outcomes[1].FailureKind != domain.FailureHost {
		t.Fatalf("unexpected second outcome: %+v", outcomes[1])
	}
}

func TestExecuteMarksHostMissingFromRecap(t *testing.T) {
	output := "PLAY RECAP ****\n10.0.0.1 : ok=3 changed=0 unreachable=0 failed=0\n"
	eng := newTestAnsible(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(output), nil
	})

	outcomes, err := eng.Execute(context.Background(), testGroup(), testVars())
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	missing := outcomes[1]
	if missing.OK || missing.Host != "10.0.0.2" || missing.FailureKind != domain.FailureHost {
		t.Fatalf("unexpected outcome for missing host: %+v", missing)
	}
}

func TestExecuteReturnsErrorWithoutRecap(t *testing.T) {
	eng := newTestAnsible(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("ansible-playbook: command not found"), errors.New("exec failed")
	})

	if _, err := eng.Execute(context.Background(), testGroup(), testVars()); err == nil {
		t.Fatal("expected error when invocation fails before any recap")
	}
}

func TestExecutePropagatesContextDeadline(t *testing.T) {
	eng := newTestAnsible(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := eng.Execute(ctx, testGroup(), testVars())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestBuildArgsIncludesConnectionSettings(t *testing.T) {
	group := testGroup()
	group.SSHPort = 2222
	group.SSHPass = "hunter2"
	vars := testVars()
	vars.Extra = map[string]string{"cert_owner": "www-data"}

	eng := newTestAnsible(nil)
	args, err := eng.buildArgs(group, vars)
	if err != nil {
		t.Fatalf("buildArgs returned error: %v", err)
	}

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-i 10.0.0.1,10.0.0.2,") {
		t.Fatalf("inventory missing from args: %v", args)
	}
	if !strings.Contains(joined, "-u deploy") || !strings.Contains(joined, "--private-key /etc/keys/deploy") {
		t.Fatalf("ssh settings missing from args: %v", args)
	}

	var extra map[string]string
	for i, arg := range args {
		if arg == "-e" && i+1 < len(args) {
			if err := json.Unmarshal([]byte(args[i+1]), &extra); err != nil {
				t.Fatalf("extra vars are not valid JSON: %v", err)
			}
		}
	}
	if extra["ssl_source_path"] != vars.SSLSourcePath {
		t.Fatalf("ssl_source_path missing: %v", extra)
	}
	if extra["ansible_port"] != "2222" || extra["ansible_ssh_pass"] != "hunter2" {
		t.Fatalf("connection extras missing: %v", extra)
	}
	if extra["cert_owner"] != "www-data" {
		t.Fatalf("mapping extra vars not forwarded: %v", extra)
	}
}
