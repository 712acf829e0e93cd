package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kdwycz/certimate-webhook/internal/domain"
)

// runFunc executes a command and returns its combined output. Swapped
// out in tests so no real ansible-playbook binary is needed.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Ansible shells out to ansible-playbook with a per-group inline
// inventory and reads per-host results from the PLAY RECAP block.
type Ansible struct {
	playbookPath string
	logger       *slog.Logger
	run          runFunc
}

// NewAnsible constructs the ansible-playbook adapter for the configured
// playbook file.
func NewAnsible(playbookDir, playbookFile string, logger *slog.Logger) *Ansible {
	return &Ansible{
		playbookPath: filepath.Join(playbookDir, playbookFile),
		logger:       logger.With("component", "engine"),
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		},
	}
}

// Execute runs the playbook against every host in the group. The
// playbook run covers all hosts in one invocation; individual host
// failures surface through the recap, not as an error.
func (a *Ansible) Execute(ctx context.Context, group domain.ServerGroup, vars Vars) ([]domain.HostOutcome, error) {
	args, err := a.buildArgs(group, vars)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("invoking ansible-playbook", "group", group.Name, "hosts", len(group.Hosts))
	output, runErr := a.run(ctx, "ansible-playbook", args...)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	recap := parseRecap(string(output))
	if len(recap) == 0 {
		if runErr != nil {
			return nil, fmt.Errorf("ansible-playbook for group %s: %w", group.Name, runErr)
		}
		return nil, fmt.Errorf("ansible-playbook for group %s produced no recap", group.Name)
	}

	outcomes := make([]domain.HostOutcome, 0, len(group.Hosts))
	for _, host := range group.Hosts {
		entry, ok := recap[host]
		switch {
		case !ok:
			outcomes = append(outcomes, domain.HostOutcome{
				Host:        host,
				GroupName:   group.Name,
				FailureKind: domain.FailureHost,
				ErrorDetail: "host missing from play recap",
			})
		case entry.succeeded():
			outcomes = append(outcomes, domain.HostOutcome{
				Host:      host,
				GroupName: group.Name,
				OK:        true,
			})
		default:
			outcomes = append(outcomes, domain.HostOutcome{
				Host:        host,
				GroupName:   group.Name,
				FailureKind: domain.FailureHost,
				ErrorDetail: fmt.Sprintf("unreachable=%d failed=%d", entry.Unreachable, entry.Failed),
			})
		}
	}
	return outcomes, nil
}

func (a *Ansible) buildArgs(group domain.ServerGroup, vars Vars) ([]string, error) {
	inventory := strings.Join(group.Hosts, ",") + ","

	extra := map[string]string{
		"ssl_source_path":   vars.SSLSourcePath,
		"ssl_target_path":   vars.SSLTargetPath,
		"ssl_target_parent": vars.SSLTargetParentDir,
		"reload_cmd":        vars.ReloadCmd,
	}
	for key, value := range vars.Extra {
		extra[key] = value
	}
	if group.SSHPort != 0 && group.SSHPort != 22 {
		extra["ansible_port"] = fmt.Sprintf("%d", group.SSHPort)
	}
	if group.SSHPass != "" {
		extra["ansible_ssh_pass"] = group.SSHPass
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("marshal extra vars: %w", err)
	}

	args := []string{a.playbookPath, "-i", inventory, "-e", string(extraJSON)}
	if group.SSHUser != "" {
		args = append(args, "-u", group.SSHUser)
	}
	if group.SSHKeyPath != "" {
		args = append(args, "--private-key", group.SSHKeyPath)
	}
	return args, nil
}
