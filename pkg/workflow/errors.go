package workflow

import (
	"fmt"

	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/size"
)

var (
	// ErrInvalidTransition is returned when an action does not apply to the
	// current phase.
	ErrInvalidTransition = errors.New("action not allowed in current phase")

	// ErrSelectionLocked is returned when the image or device is changed
	// while a flash is in flight or awaiting dismissal.
	ErrSelectionLocked = errors.New("selection is locked while flashing")
)

// ValidationReason says why a flash request was rejected.
type ValidationReason int

const (
	NoDeviceSelected ValidationReason = iota + 1
	NoImageSelected
	ImageTooLarge
)

func (r ValidationReason) String() string {
	switch r {
	case NoDeviceSelected:
		return "no_device_selected"
	case NoImageSelected:
		return "no_image_selected"
	case ImageTooLarge:
		return "image_too_large"
	default:
		return "unknown"
	}
}

// ValidationError rejects a flash request before anything reaches the
// backend.
type ValidationError struct {
	Reason    ValidationReason
	ImageSize size.Bytes
	Capacity  size.Bytes
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case NoDeviceSelected:
		return "select a device to flash the image to"
	case NoImageSelected:
		return "select a disk image to flash to the device"
	case ImageTooLarge:
		return fmt.Sprintf("image (%s bytes) is larger than the device (%s bytes)", e.ImageSize, e.Capacity)
	default:
		return "invalid flash request"
	}
}

// BackendCommandError means a command could not be dispatched.
type BackendCommandError struct {
	Command string
	Err     error
}

func (e *BackendCommandError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Command, e.Err)
}

func (e *BackendCommandError) Unwrap() error {
	return e.Err
}

// FlashFailure is a failure reported by the backend while flashing. The
// message is opaque and shown as is.
type FlashFailure struct {
	Message string
}

func (e *FlashFailure) Error() string {
	return e.Message
}

// IsValidation reports whether err is a ValidationError with the given reason.
func IsValidation(err error, reason ValidationReason) bool {
	var verr *ValidationError
	return errors.As(err, &verr) && verr.Reason == reason
}
