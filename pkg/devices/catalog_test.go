package devices

import (
	"context"
	"testing"

	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/size"
)

func testDevices() []Device {
	return []Device{
		{ID: "/dev/sdb", Label: "/dev/sdb (SanDisk, 32.0 GB)", Capacity: size.FromInt64(32_000_000_000)},
		{ID: "/dev/sdc", Label: "/dev/sdc (4.0 TB)", Capacity: size.FromInt64(4_000_000_000_000)},
	}
}

func TestCatalog_Select(t *testing.T) {
	c := NewCatalog()
	c.Replace(testDevices())

	d, err := c.Select("/dev/sdc")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Capacity.String() != "4000000000000" {
		t.Errorf("unexpected capacity %s", d.Capacity)
	}

	got, ok := c.Selected()
	if !ok || got.ID != "/dev/sdc" {
		t.Errorf("Selected = %+v, %v", got, ok)
	}
}

func TestCatalog_SelectUnknown(t *testing.T) {
	c := NewCatalog()
	c.Replace(testDevices())

	if _, err := c.Select("/dev/sdz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := c.Selected(); ok {
		t.Error("failed select must not change the selection")
	}
}

func TestCatalog_ReplaceAlwaysResetsSelection(t *testing.T) {
	c := NewCatalog()
	devs := testDevices()

	for i := 0; i < 3; i++ {
		c.Replace(devs)
		if _, ok := c.Selected(); ok {
			t.Fatalf("round %d: selection survived refresh", i)
		}
		if _, err := c.Select("/dev/sdb"); err != nil {
			t.Fatalf("round %d: Select: %v", i, err)
		}
	}

	c.Replace(devs)
	if _, ok := c.Selected(); ok {
		t.Error("selection survived an identical refresh")
	}
	if c.Generation() != 4 {
		t.Errorf("Generation = %d, want 4", c.Generation())
	}
}

func TestCatalog_ReplaceCopiesInput(t *testing.T) {
	c := NewCatalog()
	devs := testDevices()
	c.Replace(devs)

	devs[0].ID = "/dev/mutated"
	if c.Devices()[0].ID != "/dev/sdb" {
		t.Error("catalog aliased the caller's slice")
	}
}

type recordingEnumerator struct {
	calls int
	err   error
}

func (r *recordingEnumerator) EnumerateDevices(ctx context.Context) error {
	r.calls++
	return r.err
}

func TestCatalog_Refresh(t *testing.T) {
	c := NewCatalog()
	e := &recordingEnumerator{}
	if err := c.Refresh(context.Background(), e); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if e.calls != 1 {
		t.Errorf("expected one enumeration request, got %d", e.calls)
	}

	e.err = errors.New("backend unavailable")
	if err := c.Refresh(context.Background(), e); err == nil {
		t.Error("expected refresh error")
	}
}
