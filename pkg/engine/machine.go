package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/superfly/fsm"

	"github.com/imagewriter/flashctl/pkg/backend"
	"github.com/imagewriter/flashctl/pkg/db"
	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/size"
)

// progressSaveInterval bounds how often bytes written reach the history table
const progressSaveInterval = time.Second

// register registers the flash FSM. Interrupted runs are never resumed, so
// the resume func is dropped.
func (e *Engine) register(ctx context.Context, manager *fsm.Manager) (fsm.Start[FlashRequest, FlashResponse], error) {
	start, _, err := fsm.Register[FlashRequest, FlashResponse](manager, machineName).
		Start(StateRecord, e.handleRecord).
		To(StatePrepare, e.handlePrepare).
		To(StateWrite, e.handleWrite).
		To(StateComplete, e.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, errors.Wrap(err, "failed to register FSM")
	}
	return start, nil
}

func (e *Engine) checkRetries(ctx context.Context, runID string) error {
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(e.opts.MaxRetries) {
		slog.Error("max_retries_exceeded", "run_id", runID, "max_retries", e.opts.MaxRetries)
		return fsm.Abort(fmt.Errorf("max retries (%d) exceeded", e.opts.MaxRetries))
	}
	return nil
}

// abort ends the run: the failure is remembered for the terminal event and
// written to history before the FSM is aborted.
func (e *Engine) abort(ctx context.Context, runID string, cause error) (*fsm.Response[FlashResponse], error) {
	status, message := db.StatusFailed, cause.Error()
	if e.cancelled(runID) || errors.Is(cause, context.Canceled) {
		status, message = db.StatusCancelled, cancelledMessage
	}

	e.setFailure(runID, message)
	if err := e.repo.UpdateStatus(ctx, runID, status, message); err != nil {
		slog.Error("status_update_failed", "run_id", runID, "status", status, "error", err)
	}

	slog.Warn("flash_aborted", "run_id", runID, "status", status, "reason", message)
	return nil, fsm.Abort(errors.New(message))
}

// handleRecord creates the history row (idempotent on retry)
func (e *Engine) handleRecord(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	runID := req.Msg.RunID
	slog.Info("fsm_state_record", "run_id", runID, "image", req.Msg.ImagePath, "device", req.Msg.DevicePath)

	if err := e.checkRetries(ctx, runID); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &FlashResponse{}
	}
	resp.RunID = runID

	existing, err := e.repo.GetByRunID(ctx, runID)
	if err != nil {
		return nil, errors.Wrap(err, "database error")
	}
	if existing == nil {
		flash := &db.Flash{
			RunID:          runID,
			ImagePath:      req.Msg.ImagePath,
			DevicePath:     req.Msg.DevicePath,
			DeviceCapacity: req.Msg.DeviceCapacity,
			Status:         db.StatusPending,
		}
		// A missing image is reported by prepare.
		if img, err := e.validator.Inspect(req.Msg.ImagePath); err == nil {
			flash.ImageSize = img.Size
		}
		if err := e.repo.Create(ctx, flash); err != nil {
			return nil, errors.Wrap(err, "failed to create flash record")
		}
	}

	resp.Status = db.StatusPending
	return fsm.NewResponse(resp), nil
}

// handlePrepare re-checks the image against the device and unmounts it
func (e *Engine) handlePrepare(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	runID := req.Msg.RunID
	slog.Info("fsm_state_prepare", "run_id", runID)

	if err := e.checkRetries(ctx, runID); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	if e.cancelled(runID) {
		return e.abort(ctx, runID, context.Canceled)
	}

	img, err := e.validator.Inspect(req.Msg.ImagePath)
	if err != nil {
		return e.abort(ctx, runID, err)
	}

	// The file may have changed since it was selected.
	if size.GreaterThan(img.Size, req.Msg.DeviceCapacity) {
		return e.abort(ctx, runID, fmt.Errorf("image (%s bytes) is larger than the device (%s bytes)",
			img.Size, req.Msg.DeviceCapacity))
	}
	resp.ImageSize = img.Size

	if e.opts.UnmountBeforeFlash && e.disks != nil {
		if err := e.disks.UnmountDevice(ctx, req.Msg.DevicePath); err != nil {
			return e.abort(ctx, runID, err)
		}
	}

	return fsm.NewResponse(resp), nil
}

// handleWrite runs the writer process and streams its progress
func (e *Engine) handleWrite(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	runID := req.Msg.RunID
	slog.Info("fsm_state_write", "run_id", runID)

	// A half-finished raw write is never retried.
	if fsm.RetryFromContext(ctx) > 0 {
		return e.abort(ctx, runID, fmt.Errorf("write interrupted"))
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	writeCtx, ok := e.beginWrite(ctx, runID)
	if !ok {
		return e.abort(ctx, runID, context.Canceled)
	}
	defer e.endWrite(runID)

	if err := e.repo.UpdateStatus(ctx, runID, db.StatusWriting, ""); err != nil {
		slog.Error("status_update_failed", "run_id", runID, "status", db.StatusWriting, "error", err)
	}

	total := resp.ImageSize
	phase := ""
	written := size.Zero
	lastSave := time.Time{}

	e.emit(backend.Progress{BytesWritten: size.Zero, TotalBytes: total, Phase: phase})

	err := runWriter(writeCtx, e.opts.WriterCommand, req.Msg.ImagePath, req.Msg.DevicePath, e.opts.BlockSize, func(line Line) {
		switch line.Kind {
		case LinePhase:
			phase = line.Phase
			written = size.Zero
			e.emit(backend.Progress{BytesWritten: size.Zero, TotalBytes: total, Speed: "", Phase: phase})
		case LineProgress:
			written = line.Bytes
			e.emit(backend.Progress{BytesWritten: written, TotalBytes: total, Speed: line.Speed, Phase: phase})
			if time.Since(lastSave) >= progressSaveInterval {
				lastSave = time.Now()
				e.saveProgress(ctx, runID, written)
			}
		}
	})
	resp.BytesWritten = written

	if err != nil {
		e.saveProgress(ctx, runID, written)
		return e.abort(ctx, runID, err)
	}

	// The writer can exit 0 without copying everything, e.g. when the
	// device is shorter than it claims.
	if written.Cmp(total) < 0 {
		e.saveProgress(ctx, runID, written)
		return e.abort(ctx, runID, fmt.Errorf("short write: %s of %s bytes written", written, total))
	}

	if n, ok := written.Uint64(); ok {
		slog.Info("write_complete", "run_id", runID, "written", humanize.Bytes(n))
	}
	return fsm.NewResponse(resp), nil
}

func (e *Engine) saveProgress(ctx context.Context, runID string, written size.Bytes) {
	if err := e.repo.UpdateProgress(ctx, runID, written); err != nil {
		slog.Error("progress_update_failed", "run_id", runID, "error", err)
	}
}

// handleComplete marks the run as done
func (e *Engine) handleComplete(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	runID := req.Msg.RunID
	slog.Info("fsm_state_complete", "run_id", runID)

	if err := e.checkRetries(ctx, runID); err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &FlashResponse{RunID: runID}
	}

	if err := e.repo.UpdateProgress(ctx, runID, resp.BytesWritten); err != nil {
		return nil, errors.Wrap(err, "failed to save progress")
	}
	if err := e.repo.UpdateStatus(ctx, runID, db.StatusDone, ""); err != nil {
		return nil, errors.Wrap(err, "failed to update status")
	}
	resp.Status = db.StatusDone

	slog.Info("fsm_complete", "run_id", runID, "status", db.StatusDone)
	return fsm.NewResponse(resp), nil
}
