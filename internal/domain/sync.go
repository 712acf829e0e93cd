package domain

import (
	"errors"
	"time"
)

// JobStatus tracks the lifecycle of one sync job.
type JobStatus string

const (
	StatusPending         JobStatus = "pending"
	StatusRunning         JobStatus = "running"
	StatusSucceeded       JobStatus = "succeeded"
	StatusPartiallyFailed JobStatus = "partially_failed"
	StatusFailed          JobStatus = "failed"
)

// Failure kinds recorded on HostOutcome when a push did not succeed.
const (
	FailureExecution = "execution_error"
	FailureTimeout   = "timeout"
	FailureHost      = "host_failed"
)

var (
	// ErrMalformedRequest indicates the webhook body could not be validated.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrUnknownDomain indicates no mapping exists for the requested domain.
	ErrUnknownDomain = errors.New("unknown domain")
	// ErrDomainBusy indicates a sync for the domain is already in flight.
	ErrDomainBusy = errors.New("domain sync already in flight")
)

// ServerGroup is a named set of hosts sharing SSH credentials.
type ServerGroup struct {
	Name       string   `yaml:"name"`
	Hosts      []string `yaml:"hosts"`
	SSHUser    string   `yaml:"ssh_user"`
	SSHKeyPath string   `yaml:"ssh_key_path"`
	SSHPass    string   `yaml:"ssh_pass"`
	SSHPort    int      `yaml:"ssh_port"`
}

// DomainMapping associates a certificate domain with the server groups
// that must receive it.
type DomainMapping struct {
	Domain        string            `yaml:"domain"`
	ServerGroups  []string          `yaml:"server_groups"`
	SSLSourcePath string            `yaml:"ssl_source_path"`
	SSLTargetPath string            `yaml:"ssl_target_path"`
	ReloadCmd     string            `yaml:"reload_cmd"`
	ExtraVars     map[string]string `yaml:"extra_vars"`
}

// SyncRequest is the validated payload of one webhook call.
type SyncRequest struct {
	Domain string `json:"name"`
}

// SyncJob is one end-to-end attempt to propagate a domain's certificate
// to all of its mapped server groups. It lives only in process memory.
type SyncJob struct {
	ID           string        `json:"id"`
	Domain       string        `json:"domain"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	TargetGroups []ServerGroup `json:"-"`
	GroupNames   []string      `json:"server_groups"`
	Status       JobStatus     `json:"status"`
	Outcomes     []HostOutcome `json:"outcomes,omitempty"`
}

// Snapshot returns a deep copy safe to hand to callers while the job
// keeps running. The caller is responsible for synchronizing access to
// the original.
func (j *SyncJob) Snapshot() *SyncJob {
	copied := *j
	copied.GroupNames = append([]string(nil), j.GroupNames...)
	copied.TargetGroups = append([]ServerGroup(nil), j.TargetGroups...)
	copied.Outcomes = append([]HostOutcome(nil), j.Outcomes...)
	return &copied
}

// HostOutcome is the result of attempting the deployment on one host.
type HostOutcome struct {
	Host        string `json:"host"`
	GroupName   string `json:"group"`
	OK          bool   `json:"ok"`
	FailureKind string `json:"failure_kind,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}
