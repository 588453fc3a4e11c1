// Package workflow implements the flash workflow controller: the state
// machine that takes one flash from device and image selection through a
// confirmed start, progress, optional confirmed cancellation, and a terminal
// outcome.
//
// User actions run synchronously under the controller's lock. Backend
// commands are fire-and-forget; their results come back as events passed to
// Apply (or Run). A Commander must therefore never block waiting for the
// controller to consume an event.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/imagewriter/flashctl/pkg/backend"
	"github.com/imagewriter/flashctl/pkg/devices"
	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/progress"
	"github.com/imagewriter/flashctl/pkg/size"
)

// target pins the image and device of the flash in flight so the summary
// survives device refreshes until dismissal.
type target struct {
	image  Image
	device devices.Device
}

// Controller is the flash workflow state machine.
type Controller struct {
	backend  backend.Commander
	catalog  *devices.Catalog
	progress *progress.Aggregator

	mu              sync.Mutex
	phase           Phase
	intent          Intent
	image           *Image
	active          *target
	cancelRequested bool
	notice          string
	seq             uint64

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
}

// NewController creates a controller in the Idle phase.
func NewController(commander backend.Commander) *Controller {
	return &Controller{
		backend:  commander,
		catalog:  devices.NewCatalog(),
		progress: progress.NewAggregator(),
		phase:    PhaseIdle,
		subs:     make(map[int]*subscriber),
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SelectImage sets the image to flash. An empty path clears it.
func (c *Controller) SelectImage(img Image) error {
	return c.update(func() error {
		if err := c.ensureUnlockedLocked("select_image"); err != nil {
			return err
		}
		c.setImageLocked(img)
		return nil
	})
}

// SelectDevice selects a device from the current catalog by identifier. An
// empty identifier clears the selection.
func (c *Controller) SelectDevice(id string) error {
	return c.update(func() error {
		if err := c.ensureUnlockedLocked("select_device"); err != nil {
			return err
		}
		if id == "" {
			c.catalog.ClearSelection()
		} else if _, err := c.catalog.Select(id); err != nil {
			slog.Warn("workflow_device_not_found", "device", id)
			return err
		}
		c.selectionChangedLocked()
		return nil
	})
}

// RequestFlash validates the selection and arms the start confirmation. A
// second call while the confirmation is armed starts the flash.
func (c *Controller) RequestFlash(ctx context.Context) error {
	return c.update(func() error {
		switch c.phase {
		case PhaseIdle, PhaseConfiguring:
			if _, _, err := c.validateLocked(); err != nil {
				c.notice = err.Error()
				slog.Info("workflow_flash_rejected", "reason", err.(*ValidationError).Reason.String())
				return err
			}
			c.intent = IntentStartConfirm
			c.setPhaseLocked(PhaseAwaitingStartConfirm)
			return nil
		case PhaseAwaitingStartConfirm:
			return c.startLocked(ctx)
		default:
			return c.invalidLocked("request_flash")
		}
	})
}

// RequestCancel arms the cancel confirmation without contacting the backend.
func (c *Controller) RequestCancel() error {
	return c.update(func() error {
		switch c.phase {
		case PhaseFlashing:
			c.intent = IntentCancelConfirm
			c.setPhaseLocked(PhaseAwaitingCancelConfirm)
			return nil
		case PhaseAwaitingCancelConfirm:
			return nil
		default:
			return c.invalidLocked("request_cancel")
		}
	})
}

// ConfirmPending confirms whichever confirmation is armed.
func (c *Controller) ConfirmPending(ctx context.Context) error {
	return c.update(func() error {
		switch c.phase {
		case PhaseAwaitingStartConfirm:
			return c.startLocked(ctx)
		case PhaseAwaitingCancelConfirm:
			c.intent = IntentNone
			err := c.backend.CancelFlash(ctx)
			if errors.Is(err, backend.ErrNoActiveFlash) {
				// The write already ended; its terminal event decides the outcome.
				c.setPhaseLocked(PhaseFlashing)
				slog.Info("workflow_cancel_too_late")
				return nil
			}
			if err != nil {
				return c.commandFailedLocked("cancel_flash", err)
			}
			c.cancelRequested = true
			c.setPhaseLocked(PhaseFlashing)
			slog.Info("workflow_cancel_requested")
			return nil
		default:
			return c.invalidLocked("confirm_pending")
		}
	})
}

// DeclinePending dismisses the armed confirmation without side effects.
func (c *Controller) DeclinePending() error {
	return c.update(func() error {
		switch c.phase {
		case PhaseAwaitingStartConfirm:
			c.intent = IntentNone
			c.setPhaseLocked(PhaseConfiguring)
		case PhaseAwaitingCancelConfirm:
			c.intent = IntentNone
			c.setPhaseLocked(PhaseFlashing)
		}
		return nil
	})
}

// Dismiss leaves a terminal outcome, clears everything and asks the backend
// for a fresh device list.
func (c *Controller) Dismiss(ctx context.Context) error {
	return c.update(func() error {
		if c.phase != PhaseTerminal {
			return c.invalidLocked("dismiss")
		}
		c.image = nil
		c.active = nil
		c.intent = IntentNone
		c.cancelRequested = false
		c.notice = ""
		c.catalog.ClearSelection()
		c.progress.Reset()
		c.setPhaseLocked(PhaseIdle)

		if err := c.catalog.Refresh(ctx, c.backend); err != nil {
			c.notice = err.Error()
			return &BackendCommandError{Command: "enumerate_devices", Err: err}
		}
		return nil
	})
}

// RefreshDevices asks the backend for a fresh device list.
func (c *Controller) RefreshDevices(ctx context.Context) error {
	return c.update(func() error {
		if err := c.catalog.Refresh(ctx, c.backend); err != nil {
			c.notice = err.Error()
			return &BackendCommandError{Command: "enumerate_devices", Err: err}
		}
		return nil
	})
}

// PromptForImage asks the backend to prompt the user for an image file. The
// choice arrives later as an ImageSelected event.
func (c *Controller) PromptForImage(ctx context.Context) error {
	return c.update(func() error {
		if err := c.ensureUnlockedLocked("prompt_for_image"); err != nil {
			return err
		}
		if err := c.backend.PromptForImageFile(ctx); err != nil {
			c.notice = err.Error()
			return &BackendCommandError{Command: "prompt_for_image_file", Err: err}
		}
		return nil
	})
}

// ClearNotice dismisses the current notice.
func (c *Controller) ClearNotice() {
	_ = c.update(func() error {
		c.notice = ""
		return nil
	})
}

// Apply folds a backend event into the state. Events that do not apply to
// the current phase are dropped.
func (c *Controller) Apply(ev backend.Event) {
	_ = c.update(func() error {
		switch e := ev.(type) {
		case backend.DeviceListChanged:
			c.catalog.Replace(e.Devices)
			c.selectionChangedLocked()
		case backend.ImageSelected:
			if c.phase.inFlight() || c.phase == PhaseTerminal {
				c.discardLocked(ev)
				return nil
			}
			c.setImageLocked(Image{Path: e.Path, Size: e.Size})
		case backend.Progress:
			if !c.phase.inFlight() {
				c.discardLocked(ev)
				return nil
			}
			c.progress.Apply(progress.Update{
				BytesWritten: e.BytesWritten,
				TotalBytes:   e.TotalBytes,
				Speed:        e.Speed,
				Phase:        e.Phase,
			})
		case backend.FlashCompleted:
			if !c.phase.inFlight() {
				c.discardLocked(ev)
				return nil
			}
			c.intent = IntentNone
			c.progress.Complete()
			c.setPhaseLocked(PhaseTerminal)
			slog.Info("workflow_flash_completed")
		case backend.FlashFailed:
			if !c.phase.inFlight() {
				c.discardLocked(ev)
				return nil
			}
			c.intent = IntentNone
			c.progress.Fail(e.Message)
			c.setPhaseLocked(PhaseTerminal)
			slog.Warn("workflow_flash_failed", "message", e.Message, "cancel_requested", c.cancelRequested)
		case backend.Notice:
			c.notice = e.Message
		default:
			c.discardLocked(ev)
		}
		return nil
	})
}

// Run applies events until the channel closes or ctx is done.
func (c *Controller) Run(ctx context.Context, events <-chan backend.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.Apply(ev)
		}
	}
}

// Subscribe returns a channel that receives the current snapshot and then
// every later one. Delivery conflates: a slow reader sees the latest state,
// never an older one. The returned func unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	sub := &subscriber{ch: make(chan Snapshot, 1)}

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = sub
	c.subMu.Unlock()

	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.subMu.Lock()
	sub.deliver(snap)
	c.subMu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			delete(c.subs, id)
			close(sub.ch)
		})
	}
}

// update runs fn under the lock and publishes the resulting snapshot.
func (c *Controller) update(fn func() error) error {
	c.mu.Lock()
	err := fn()
	c.seq++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.publish(snap)
	return err
}

func (c *Controller) publish(snap Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, sub := range c.subs {
		sub.deliver(snap)
	}
}

// subscriber is one Subscribe channel and the newest Seq handed to it.
// Both fields are guarded by subMu.
type subscriber struct {
	ch   chan Snapshot
	seen uint64
	sent bool
}

// deliver replaces any undelivered snapshot in the one-slot channel. A
// snapshot older than one already handed over is dropped, since publishes
// and the initial Subscribe snapshot can race.
func (s *subscriber) deliver(snap Snapshot) {
	if s.sent && snap.Seq <= s.seen {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
	s.seen, s.sent = snap.Seq, true
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Seq:             c.seq,
		Phase:           c.phase,
		Intent:          c.intent,
		Devices:         c.catalog.Devices(),
		Progress:        c.progress.Snapshot(),
		CancelRequested: c.cancelRequested,
		Notice:          c.notice,
	}

	if c.active != nil {
		img, dev := c.active.image, c.active.device
		snap.Image, snap.Device = &img, &dev
		return snap
	}
	if c.image != nil {
		img := *c.image
		snap.Image = &img
	}
	if dev, ok := c.catalog.Selected(); ok {
		snap.Device = &dev
	}
	return snap
}

func (c *Controller) setPhaseLocked(to Phase) {
	if c.phase == to {
		return
	}
	slog.Info("workflow_transition", "from", c.phase.String(), "to", to.String(), "intent", c.intent.String())
	c.phase = to
}

func (c *Controller) ensureUnlockedLocked(action string) error {
	if c.phase.inFlight() || c.phase == PhaseTerminal {
		slog.Warn("workflow_selection_locked", "action", action, "phase", c.phase.String())
		return fmt.Errorf("%w: %s during %s", ErrSelectionLocked, action, c.phase)
	}
	return nil
}

func (c *Controller) invalidLocked(action string) error {
	slog.Warn("workflow_invalid_transition", "action", action, "phase", c.phase.String())
	return fmt.Errorf("%w: %s during %s", ErrInvalidTransition, action, c.phase)
}

func (c *Controller) discardLocked(ev backend.Event) {
	slog.Debug("workflow_event_discarded", "event", backend.Name(ev), "phase", c.phase.String())
}

func (c *Controller) setImageLocked(img Image) {
	if img.Path == "" {
		c.image = nil
	} else {
		c.image = &img
		slog.Info("workflow_image_selected", "path", img.Path, "size", img.Size.String())
	}
	c.selectionChangedLocked()
}

// selectionChangedLocked invalidates an armed start confirmation and leaves
// Idle once something has been chosen. In flight the pinned target is kept.
func (c *Controller) selectionChangedLocked() {
	switch c.phase {
	case PhaseIdle:
		_, hasDevice := c.catalog.Selected()
		if c.image != nil || hasDevice {
			c.setPhaseLocked(PhaseConfiguring)
		}
	case PhaseAwaitingStartConfirm:
		c.intent = IntentNone
		c.setPhaseLocked(PhaseConfiguring)
		slog.Info("workflow_start_confirmation_reset")
	}
}

func (c *Controller) validateLocked() (Image, devices.Device, error) {
	dev, ok := c.catalog.Selected()
	if !ok {
		return Image{}, devices.Device{}, &ValidationError{Reason: NoDeviceSelected}
	}
	if c.image == nil {
		return Image{}, devices.Device{}, &ValidationError{Reason: NoImageSelected}
	}
	if size.GreaterThan(c.image.Size, dev.Capacity) {
		return Image{}, devices.Device{}, &ValidationError{
			Reason:    ImageTooLarge,
			ImageSize: c.image.Size,
			Capacity:  dev.Capacity,
		}
	}
	return *c.image, dev, nil
}

func (c *Controller) startLocked(ctx context.Context) error {
	img, dev, err := c.validateLocked()
	if err != nil {
		// Only reachable if the selection vanished without a change event.
		c.intent = IntentNone
		c.notice = err.Error()
		c.setPhaseLocked(PhaseConfiguring)
		return err
	}

	c.intent = IntentNone
	c.active = &target{image: img, device: dev}
	c.cancelRequested = false
	c.progress.Reset()

	req := backend.FlashRequest{
		ImagePath:      img.Path,
		DeviceID:       dev.ID,
		DeviceCapacity: dev.Capacity,
	}
	if err := c.backend.StartFlash(ctx, req); err != nil {
		return c.commandFailedLocked("start_flash", err)
	}

	c.setPhaseLocked(PhaseFlashing)
	slog.Info("workflow_flash_started", "image", img.Path, "device", dev.ID, "capacity", dev.Capacity.String())
	return nil
}

// commandFailedLocked ends the current attempt after a dispatch failure.
func (c *Controller) commandFailedLocked(command string, err error) error {
	cmdErr := &BackendCommandError{Command: command, Err: err}
	slog.Error("workflow_backend_command_failed", "command", command, "error", err)
	c.intent = IntentNone
	c.progress.Fail(cmdErr.Error())
	c.setPhaseLocked(PhaseTerminal)
	return cmdErr
}
