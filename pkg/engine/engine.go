// Package engine is the flashing backend. It runs each flash as a durable
// superfly/fsm run (record, prepare, write, complete), enumerates devices
// through blockdev and reports everything back as backend events.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/superfly/fsm"
	"golang.org/x/sync/singleflight"

	"github.com/imagewriter/flashctl/pkg/backend"
	"github.com/imagewriter/flashctl/pkg/blockdev"
	"github.com/imagewriter/flashctl/pkg/db"
	"github.com/imagewriter/flashctl/pkg/devices"
	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/imagefile"
	"github.com/imagewriter/flashctl/pkg/progress"
)

var (
	// ErrFlashInProgress is returned by StartFlash while another run is active.
	ErrFlashInProgress = errors.New("a flash is already in progress")

	// ErrNoActiveFlash is returned by CancelFlash when nothing is running.
	ErrNoActiveFlash = backend.ErrNoActiveFlash
)

// Options configures the engine
type Options struct {
	WriterCommand      string
	BlockSize          string
	UnmountBeforeFlash bool
	BinaryUnits        bool
	MaxRetries         int
	EventBuffer        int
}

// activeRun tracks the single flash in flight.
type activeRun struct {
	id        string
	cancel    context.CancelFunc
	cancelled bool
	failure   string
}

// Engine implements backend.Commander.
type Engine struct {
	opts      Options
	repo      *db.Repository
	validator *imagefile.Validator
	disks     blockdev.Manager
	prompter  Prompter
	manager   *fsm.Manager
	start     fsm.Start[FlashRequest, FlashResponse]

	ctx    context.Context
	stop   context.CancelFunc
	events chan backend.Event
	wg     sync.WaitGroup

	enumerate singleflight.Group

	mu  sync.Mutex
	run *activeRun
}

// New creates an engine and registers its FSM with manager. disks may be
// nil when device discovery is unavailable.
func New(
	ctx context.Context,
	manager *fsm.Manager,
	repo *db.Repository,
	validator *imagefile.Validator,
	disks blockdev.Manager,
	prompter Prompter,
	opts Options,
) (*Engine, error) {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	engineCtx, stop := context.WithCancel(context.Background())
	e := &Engine{
		opts:      opts,
		repo:      repo,
		validator: validator,
		disks:     disks,
		prompter:  prompter,
		manager:   manager,
		ctx:       engineCtx,
		stop:      stop,
		events:    make(chan backend.Event, opts.EventBuffer),
	}

	start, err := e.register(ctx, manager)
	if err != nil {
		stop()
		return nil, err
	}
	e.start = start

	slog.Info("engine_ready", "writer", opts.WriterCommand, "block_size", opts.BlockSize, "unmount", opts.UnmountBeforeFlash)
	return e, nil
}

// Events returns the event stream. It is never closed; stop reading once
// Close returns.
func (e *Engine) Events() <-chan backend.Event {
	return e.events
}

// Close cancels any running write and waits for background work.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.run != nil {
		e.run.cancelled = true
		if e.run.cancel != nil {
			e.run.cancel()
		}
	}
	e.mu.Unlock()

	e.stop()
	e.wg.Wait()
	return nil
}

func (e *Engine) emit(ev backend.Event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
		slog.Debug("engine_event_dropped", "event", backend.Name(ev))
	}
}

// StartFlash starts a new FSM run and returns once it is persisted.
func (e *Engine) StartFlash(ctx context.Context, req backend.FlashRequest) error {
	e.mu.Lock()
	if e.run != nil {
		e.mu.Unlock()
		return ErrFlashInProgress
	}
	runID := uuid.NewString()
	e.run = &activeRun{id: runID}
	e.mu.Unlock()

	msg := &FlashRequest{
		RunID:          runID,
		ImagePath:      req.ImagePath,
		DevicePath:     req.DeviceID,
		DeviceCapacity: req.DeviceCapacity,
	}
	version, err := e.start(ctx, runID, fsm.NewRequest(msg, &FlashResponse{}))
	if err != nil {
		e.mu.Lock()
		e.run = nil
		e.mu.Unlock()
		slog.Error("fsm_start_failed", "run_id", runID, "error", err)
		return errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm_started", "run_id", runID, "version", version, "image", req.ImagePath, "device", req.DeviceID)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.finish(runID, e.manager.Wait(e.ctx, version))
	}()
	return nil
}

// finish turns the end of a run into its terminal event.
func (e *Engine) finish(runID string, waitErr error) {
	e.mu.Lock()
	run := e.run
	if run != nil && run.id == runID {
		e.run = nil
	}
	e.mu.Unlock()

	if run == nil || run.id != runID {
		return
	}

	switch {
	case run.failure != "":
		e.emit(backend.FlashFailed{Message: run.failure})
	case waitErr != nil && run.cancelled:
		e.emit(backend.FlashFailed{Message: cancelledMessage})
	case waitErr != nil:
		e.emit(backend.FlashFailed{Message: waitErr.Error()})
	default:
		e.emit(backend.FlashCompleted{})
	}
	slog.Info("flash_finished", "run_id", runID, "failure", run.failure, "wait_error", waitErr)
}

// CancelFlash interrupts the running writer. The run then ends with a
// FlashFailed event.
func (e *Engine) CancelFlash(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run == nil {
		return ErrNoActiveFlash
	}
	e.run.cancelled = true
	if e.run.cancel != nil {
		e.run.cancel()
	}
	slog.Info("flash_cancel_requested", "run_id", e.run.id)
	return nil
}

func (e *Engine) cancelled(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run != nil && e.run.id == runID && e.run.cancelled
}

func (e *Engine) setFailure(runID, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != nil && e.run.id == runID && e.run.failure == "" {
		e.run.failure = message
	}
}

// beginWrite derives the writer's context. It reports false if the run was
// cancelled before the write began.
func (e *Engine) beginWrite(ctx context.Context, runID string) (context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run == nil || e.run.id != runID || e.run.cancelled {
		return nil, false
	}
	writeCtx, cancel := context.WithCancel(ctx)
	e.run.cancel = cancel
	return writeCtx, true
}

func (e *Engine) endWrite(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != nil && e.run.id == runID && e.run.cancel != nil {
		e.run.cancel()
		e.run.cancel = nil
	}
}

// EnumerateDevices lists target disks in the background. Concurrent calls
// share one lsblk invocation and produce one DeviceListChanged event.
func (e *Engine) EnumerateDevices(ctx context.Context) error {
	if e.disks == nil {
		return errors.New("device discovery unavailable")
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.enumerate.Do("devices", func() (any, error) {
			list, err := e.listDevices(e.ctx)
			if err != nil {
				slog.Error("enumerate_devices_failed", "error", err)
				e.emit(backend.Notice{Message: fmt.Sprintf("could not list devices: %v", err)})
				return nil, err
			}
			e.emit(backend.DeviceListChanged{Devices: list})
			return nil, nil
		})
	}()
	return nil
}

func (e *Engine) listDevices(ctx context.Context) ([]devices.Device, error) {
	disks, err := e.disks.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	list := make([]devices.Device, 0, len(disks))
	for _, d := range disks {
		list = append(list, devices.Device{
			ID:       d.Path,
			Label:    Label(d, e.opts.BinaryUnits),
			Capacity: d.Size,
		})
	}
	return list, nil
}

// Label renders a disk as "<path> (<model>, <size>)", dropping an empty model.
func Label(d *blockdev.DiskInfo, binary bool) string {
	capacity := progress.FormatBytes(d.Size, binary)
	if d.Model == "" {
		return fmt.Sprintf("%s (%s)", d.Path, capacity)
	}
	return fmt.Sprintf("%s (%s, %s)", d.Path, d.Model, capacity)
}

// PromptForImageFile opens the file prompt in the background. A chosen and
// valid file produces ImageSelected; a rejected one produces Notice; a
// dismissed prompt produces nothing.
func (e *Engine) PromptForImageFile(ctx context.Context) error {
	if e.prompter == nil {
		return ErrNoFileDialog
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		path, err := e.prompter.PromptForFile(e.ctx)
		if err != nil {
			slog.Error("file_prompt_failed", "error", err)
			e.emit(backend.Notice{Message: err.Error()})
			return
		}
		if path == "" {
			return
		}

		img, err := e.validator.Inspect(path)
		if err != nil {
			e.emit(backend.Notice{Message: err.Error()})
			return
		}
		e.emit(backend.ImageSelected{Path: img.Path, Size: img.Size})
	}()
	return nil
}
