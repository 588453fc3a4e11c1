package workflow

import (
	"github.com/imagewriter/flashctl/pkg/devices"
	"github.com/imagewriter/flashctl/pkg/progress"
	"github.com/imagewriter/flashctl/pkg/size"
)

// Phase is the controller's position in the flash lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConfiguring
	PhaseAwaitingStartConfirm
	PhaseFlashing
	PhaseAwaitingCancelConfirm
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConfiguring:
		return "configuring"
	case PhaseAwaitingStartConfirm:
		return "awaiting_start_confirm"
	case PhaseFlashing:
		return "flashing"
	case PhaseAwaitingCancelConfirm:
		return "awaiting_cancel_confirm"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// inFlight reports whether the backend owns a running write.
func (p Phase) inFlight() bool {
	return p == PhaseFlashing || p == PhaseAwaitingCancelConfirm
}

// Intent is the pending confirmation, if any.
type Intent int

const (
	IntentNone Intent = iota
	IntentStartConfirm
	IntentCancelConfirm
)

func (i Intent) String() string {
	switch i {
	case IntentNone:
		return "none"
	case IntentStartConfirm:
		return "awaiting_start_confirm"
	case IntentCancelConfirm:
		return "awaiting_cancel_confirm"
	default:
		return "unknown"
	}
}

// Image references the disk image chosen for flashing.
type Image struct {
	Path string
	Size size.Bytes
}

// Snapshot is the presentation-facing view of the controller. Each snapshot
// is a fresh copy; Seq increases with every state change.
type Snapshot struct {
	Seq             uint64
	Phase           Phase
	Intent          Intent
	Devices         []devices.Device
	Device          *devices.Device
	Image           *Image
	Progress        progress.Snapshot
	CancelRequested bool
	Notice          string
}

// Done reports whether the flash finished successfully.
func (s Snapshot) Done() bool {
	return s.Phase == PhaseTerminal && s.Progress.Kind == progress.KindDone
}

// Failure returns the terminal failure, or nil.
func (s Snapshot) Failure() *FlashFailure {
	if s.Phase != PhaseTerminal || s.Progress.Kind != progress.KindError {
		return nil
	}
	return &FlashFailure{Message: s.Progress.Message}
}
