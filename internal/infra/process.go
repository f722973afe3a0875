// Package infra implements infrastructure concerns (process snapshots, focus feed).
package infra

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/screenmon/agent/internal/domain"
)

// ProcessProviderImpl implements domain.ProcessProvider using gopsutil.
//
// Window-manager introspection is platform specific and not available here, so
// "has a visible window" is approximated by current-user ownership: the agent
// runs per user, and the processes worth tracking are that user's own. A
// platform shim with real window information can replace this provider.
type ProcessProviderImpl struct {
	uid int
}

// NewProcessProvider creates a process snapshot provider scoped to the
// current user.
func NewProcessProvider() domain.ProcessProvider {
	return &ProcessProviderImpl{uid: os.Getuid()}
}

// Snapshot lists the currently running processes. A process that cannot be
// inspected (exited mid-scan, permission denied) is skipped.
func (pp *ProcessProviderImpl) Snapshot(ctx context.Context) ([]domain.ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]domain.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue // Process may have exited
		}
		infos = append(infos, domain.ProcessInfo{
			PID:              int(p.Pid),
			Name:             name,
			HasVisibleWindow: pp.ownedByCurrentUser(ctx, p),
		})
	}
	return infos, nil
}

func (pp *ProcessProviderImpl) ownedByCurrentUser(ctx context.Context, p *process.Process) bool {
	uids, err := p.UidsWithContext(ctx)
	if err != nil || len(uids) == 0 {
		return false
	}
	return int(uids[0]) == pp.uid
}

// Ensure ProcessProviderImpl implements domain.ProcessProvider.
var _ domain.ProcessProvider = (*ProcessProviderImpl)(nil)
