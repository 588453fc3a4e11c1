package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/imagewriter/flashctl/pkg/size"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "flashes.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	f := &Flash{
		RunID:          "run-1",
		ImagePath:      "/images/debian.iso",
		ImageSize:      size.MustParse("658505728"),
		DevicePath:     "/dev/sdb",
		DeviceCapacity: size.MustParse("18446744073709551616000"),
		Status:         StatusPending,
	}
	if err := repo.Create(ctx, f); err != nil {
		t.Fatalf("failed to create flash: %v", err)
	}
	if f.ID == 0 {
		t.Error("ID not assigned")
	}

	got, err := repo.GetByRunID(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get flash: %v", err)
	}
	if got == nil {
		t.Fatal("flash not found")
	}
	if got.ImagePath != f.ImagePath || got.DevicePath != f.DevicePath || got.Status != StatusPending {
		t.Errorf("retrieved flash mismatch: got %+v", got)
	}
	// Beyond uint64: stored as text, must come back exactly.
	if !got.DeviceCapacity.Equal(f.DeviceCapacity) {
		t.Errorf("capacity = %s, want %s", got.DeviceCapacity, f.DeviceCapacity)
	}
	if !got.BytesWritten.IsZero() {
		t.Errorf("bytes written = %s, want 0", got.BytesWritten)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepo(t)
	got, err := repo.GetByRunID(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("GetByRunID = %v, %v; want nil, nil", got, err)
	}
}

func TestRepository_UpdateStatusAndProgress(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	repo.Create(ctx, &Flash{RunID: "run-1", ImagePath: "/a.img", DevicePath: "/dev/sdb", Status: StatusPending})

	if err := repo.UpdateProgress(ctx, "run-1", size.FromInt64(4096)); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := repo.UpdateStatus(ctx, "run-1", StatusFailed, "dd: No space left on device"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, _ := repo.GetByRunID(ctx, "run-1")
	if got.Status != StatusFailed || got.ErrorMessage != "dd: No space left on device" {
		t.Errorf("status not updated: %+v", got)
	}
	if got.BytesWritten.String() != "4096" {
		t.Errorf("bytes written = %s", got.BytesWritten)
	}
	if !got.Finished() {
		t.Error("failed flash should be finished")
	}

	if err := repo.UpdateStatus(ctx, "missing", StatusDone, ""); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestRepository_ListAndDeleteByStatus(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	repo.Create(ctx, &Flash{RunID: "a", ImagePath: "/a.img", DevicePath: "/dev/sdb", Status: StatusDone})
	repo.Create(ctx, &Flash{RunID: "b", ImagePath: "/b.img", DevicePath: "/dev/sdb", Status: StatusFailed})
	repo.Create(ctx, &Flash{RunID: "c", ImagePath: "/c.img", DevicePath: "/dev/sdc", Status: StatusWriting})

	flashes, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("failed to list flashes: %v", err)
	}
	if len(flashes) != 3 {
		t.Fatalf("expected 3 flashes, got %d", len(flashes))
	}
	if flashes[0].RunID != "c" {
		t.Errorf("newest first: got %s", flashes[0].RunID)
	}

	n, err := repo.DeleteByStatus(ctx, StatusDone, StatusFailed, StatusCancelled)
	if err != nil {
		t.Fatalf("DeleteByStatus: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}

	flashes, _ = repo.List(ctx)
	if len(flashes) != 1 || flashes[0].RunID != "c" {
		t.Errorf("unexpected remaining flashes: %+v", flashes)
	}

	if err := repo.Delete(ctx, flashes[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	flashes, _ = repo.List(ctx)
	if len(flashes) != 0 {
		t.Errorf("expected empty history, got %d", len(flashes))
	}
}
