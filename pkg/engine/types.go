package engine

import "github.com/imagewriter/flashctl/pkg/size"

// FlashRequest is the FSM input
type FlashRequest struct {
	RunID          string
	ImagePath      string
	DevicePath     string
	DeviceCapacity size.Bytes
}

// FlashResponse is the FSM output (accumulated across transitions)
type FlashResponse struct {
	// From Record
	RunID string

	// From Prepare
	ImageSize size.Bytes

	// From Write
	BytesWritten size.Bytes
	LastLine     string

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateRecord   = "record"
	StatePrepare  = "prepare"
	StateWrite    = "write"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// machineName is the name the flash FSM is registered under
const machineName = "flash-run"

// cancelledMessage is the failure reported for a user-cancelled flash
const cancelledMessage = "flash cancelled"
