// Package engine abstracts the remote execution mechanism that copies
// certificate material to hosts and reloads the web server.
package engine

import (
	"context"

	"github.com/kdwycz/certimate-webhook/internal/domain"
)

// Vars carries the per-mapping variables handed to one group invocation.
type Vars struct {
	SSLSourcePath      string
	SSLTargetPath      string
	SSLTargetParentDir string
	ReloadCmd          string
	Extra              map[string]string
}

// Engine executes the certificate push against one server group and
// reports one outcome per host. A returned error means the invocation
// failed before producing any per-host result.
type Engine interface {
	Execute(ctx context.Context, group domain.ServerGroup, vars Vars) ([]domain.HostOutcome, error)
}
