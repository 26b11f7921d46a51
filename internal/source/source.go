// Package source defines the adapter contract the orchestrator scans
// against. One implementation exists per upstream: the Xtream-style IPTV
// provider and the messaging-platform media archive. Adapters yield items
// lazily through the emit callback and never buffer a full phase result.
package source

import (
	"context"

	"github.com/mediafold/catalogsync/internal/model"
)

// Emit receives one raw item, or a per-item parse error when the adapter
// could read an entry's envelope but not its content (the item then carries
// at least Source and SourceID so the failure can be ledgered). Returning a
// non-nil error stops the scan; adapters must propagate it unchanged.
type Emit func(it model.RawItem, parseErr error) error

// Adapter is one upstream catalog source.
type Adapter interface {
	// Type identifies the upstream in fingerprints, refs and ledger rows.
	Type() model.SourceType
	// Label is the human-readable source name stamped on SourceRefs.
	Label() string
	// Enabled reports whether this source is configured at all. Disabled
	// sources are skipped and never probed.
	Enabled() bool
	// Preflight verifies credentials and reachability before any phase
	// starts. Returns preflight.ErrAuthRequired (terminal, no retry) or
	// preflight.ErrUnreachable (retry later) classified errors.
	Preflight(ctx context.Context) error
	// Scan streams the phase's items through emit in upstream order.
	// A returned error is a phase-level failure; per-item problems go
	// through emit's parseErr instead and must not abort the phase.
	Scan(ctx context.Context, phase model.Phase, emit Emit) error
}
