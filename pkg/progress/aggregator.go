// Package progress turns raw writer progress into display-ready snapshots.
package progress

import (
	"log/slog"
	"sync"

	"github.com/imagewriter/flashctl/pkg/size"
)

// Kind identifies which variant a Snapshot holds.
type Kind int

const (
	KindIdle Kind = iota
	KindWriting
	KindDone
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindWriting:
		return "writing"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable progress view. Only the fields of the current
// Kind are meaningful: BytesWritten, TotalBytes, Percent, Speed and Phase
// while writing, Message on error.
type Snapshot struct {
	Kind         Kind
	BytesWritten size.Bytes
	TotalBytes   size.Bytes
	Percent      int
	Speed        string
	Phase        string
	Message      string
}

// Idle is the snapshot before any progress arrives.
var Idle = Snapshot{Kind: KindIdle}

// Writing reports whether a write is in progress.
func (s Snapshot) Writing() bool { return s.Kind == KindWriting }

// Terminal reports whether the snapshot is Done or Error.
func (s Snapshot) Terminal() bool { return s.Kind == KindDone || s.Kind == KindError }

// Update is a raw progress event from the writer.
type Update struct {
	BytesWritten size.Bytes
	TotalBytes   size.Bytes
	Speed        string
	Phase        string
}

// Aggregator folds updates into the current snapshot.
type Aggregator struct {
	mu      sync.Mutex
	current Snapshot
}

// NewAggregator returns an aggregator in the Idle state.
func NewAggregator() *Aggregator {
	return &Aggregator{current: Idle}
}

// Snapshot returns the current view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Apply folds a progress update and returns the new snapshot. Written bytes
// are clamped to [0, total]; within one phase and total they never go
// backwards.
func (a *Aggregator) Apply(u Update) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := size.Max(u.TotalBytes, size.Zero)
	written := size.Clamp(u.BytesWritten, size.Zero, total)

	prev := a.current
	if prev.Kind == KindWriting && prev.Phase == u.Phase && prev.TotalBytes.Equal(total) {
		if size.GreaterThan(prev.BytesWritten, written) {
			slog.Debug("progress_regression_clamped", "reported", written.String(), "previous", prev.BytesWritten.String())
			written = prev.BytesWritten
		}
	}
	if !written.Equal(u.BytesWritten) {
		slog.Debug("progress_bytes_clamped", "reported", u.BytesWritten.String(), "total", total.String(), "clamped", written.String())
	}

	a.current = Snapshot{
		Kind:         KindWriting,
		BytesWritten: written,
		TotalBytes:   total,
		Percent:      Percent(written, total),
		Speed:        u.Speed,
		Phase:        u.Phase,
	}
	return a.current
}

// Complete records successful completion.
func (a *Aggregator) Complete() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	done := Snapshot{Kind: KindDone, Percent: 100}
	if a.current.Kind == KindWriting {
		done.BytesWritten = a.current.BytesWritten
		done.TotalBytes = a.current.TotalBytes
	}
	a.current = done
	return a.current
}

// Fail records a failure with a message shown verbatim.
func (a *Aggregator) Fail(message string) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	failed := Snapshot{Kind: KindError, Message: message}
	if a.current.Kind == KindWriting {
		failed.BytesWritten = a.current.BytesWritten
		failed.TotalBytes = a.current.TotalBytes
		failed.Percent = a.current.Percent
		failed.Phase = a.current.Phase
	}
	a.current = failed
	return a.current
}

// Reset returns to Idle.
func (a *Aggregator) Reset() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = Idle
	return a.current
}

// Percent computes floor(written*100/total) with arbitrary precision and
// bounds the result to [0, 100]. A zero total yields 0.
func Percent(written, total size.Bytes) int {
	if total.Sign() <= 0 {
		return 0
	}
	written = size.Clamp(written, size.Zero, total)
	q, err := size.Divide(size.Multiply(written, size.FromInt64(100)), total)
	if err != nil {
		return 0
	}
	p := int(size.ToDisplayNumber(q))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
