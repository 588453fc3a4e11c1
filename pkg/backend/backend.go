// Package backend defines the narrow interface between the workflow
// controller and the flashing backend: fire-and-forget commands going out,
// events coming back.
package backend

import (
	"context"

	"github.com/imagewriter/flashctl/pkg/devices"
	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/size"
)

// ErrNoActiveFlash is returned by CancelFlash when no write is running. The
// run may have just ended, in which case its terminal event is still queued.
var ErrNoActiveFlash = errors.New("no flash in progress")

// FlashRequest carries everything the backend needs to start a write.
type FlashRequest struct {
	ImagePath      string
	DeviceID       string
	DeviceCapacity size.Bytes
}

// Commander issues commands to the backend. Every method returns as soon as
// the command is dispatched; results arrive later as events. A returned
// error means the command could not be dispatched at all.
type Commander interface {
	StartFlash(ctx context.Context, req FlashRequest) error
	CancelFlash(ctx context.Context) error
	PromptForImageFile(ctx context.Context) error
	EnumerateDevices(ctx context.Context) error
}

// Event is a notification from the backend.
type Event interface {
	eventName() string
}

// Name returns a short identifier for logging.
func Name(e Event) string {
	if e == nil {
		return "nil"
	}
	return e.eventName()
}

// DeviceListChanged carries a complete new device set.
type DeviceListChanged struct {
	Devices []devices.Device
}

// ImageSelected reports an image chosen through the file prompt.
type ImageSelected struct {
	Path string
	Size size.Bytes
}

// Progress reports bytes written so far for the running flash.
type Progress struct {
	BytesWritten size.Bytes
	TotalBytes   size.Bytes
	Speed        string
	Phase        string
}

// FlashCompleted ends the running flash successfully.
type FlashCompleted struct{}

// FlashFailed ends the running flash with an opaque message.
type FlashFailed struct {
	Message string
}

// Notice is a non-fatal backend error meant for the user, e.g. a failed
// enumeration or a rejected file.
type Notice struct {
	Message string
}

func (DeviceListChanged) eventName() string { return "device_list_changed" }
func (ImageSelected) eventName() string     { return "image_selected" }
func (Progress) eventName() string          { return "progress" }
func (FlashCompleted) eventName() string    { return "flash_completed" }
func (FlashFailed) eventName() string       { return "flash_failed" }
func (Notice) eventName() string            { return "notice" }
