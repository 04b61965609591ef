// Package fanout applies a visitor to every attached chunk providing an
// index kind.
package fanout

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/hupe1980/chunkidx/chunk"
	"github.com/hupe1980/chunkidx/internal/registry"
	"github.com/hupe1980/chunkidx/model"
)

// ErrAbort stops a fan-out when returned (or wrapped) by a visitor.
var ErrAbort = errors.New("fanout aborted")

// Visitor is called once per chunk. Returning false stops the iteration.
type Visitor func(h *chunk.Handle) (bool, error)

// FailureFunc observes a chunk whose visit failed.
type FailureFunc func(id model.ChunkID, err error)

// Stats summarises one fan-out.
type Stats struct {
	Visited int
	Failed  int
	Stopped bool
}

// Processor runs fan-outs over a registry.
type Processor struct {
	reg       *registry.Registry
	logger    *slog.Logger
	onFailure FailureFunc
}

// New creates a Processor. onFailure may be nil.
func New(reg *registry.Registry, logger *slog.Logger, onFailure FailureFunc) *Processor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if onFailure == nil {
		onFailure = func(model.ChunkID, error) {}
	}
	return &Processor{reg: reg, logger: logger, onFailure: onFailure}
}

// Process visits every chunk of a fresh snapshot that provides kind, in
// ascending chunk id order. Chunks attached after the snapshot are not
// visited. A visitor error or panic is logged and the chunk counts as having
// contributed nothing; only an error wrapping ErrAbort stops the fan-out and
// is returned.
func (p *Processor) Process(kind string, visit Visitor) (Stats, error) {
	snap := p.reg.Snapshot()
	defer snap.Release()

	var st Stats
	for _, e := range snap.Entries() {
		h := e.Handle
		if !h.Provides(kind) {
			continue
		}
		st.Visited++

		cont, err := p.visitOne(h, visit)
		if err != nil {
			if errors.Is(err, ErrAbort) {
				st.Stopped = true
				return st, err
			}
			st.Failed++
			p.logger.Warn("fanout visitor failed", "chunk", uint32(h.ID()), "kind", kind, "error", err)
			p.onFailure(h.ID(), err)
			continue
		}
		if !cont {
			st.Stopped = true
			break
		}
	}
	return st, nil
}

func (p *Processor) visitOne(h *chunk.Handle, visit Visitor) (cont bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug("fanout visitor panic", "chunk", uint32(h.ID()), "stack", string(debug.Stack()))
			cont, err = true, fmt.Errorf("chunk %d: visitor panic: %v", h.ID(), r)
		}
	}()
	return visit(h)
}
