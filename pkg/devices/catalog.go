// Package devices holds the catalog of flashable target devices.
package devices

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/size"
)

// ErrNotFound is returned when a device identifier is not in the current set.
var ErrNotFound = errors.New("device not found")

// Device is a target block device as reported by enumeration. Values are
// never patched; a new enumeration produces a new set.
type Device struct {
	ID       string     `json:"id" yaml:"id"`
	Label    string     `json:"label" yaml:"label"`
	Capacity size.Bytes `json:"capacity" yaml:"capacity"`
}

// Enumerator requests a fresh device list. The result is delivered later as
// an event, never as a return value.
type Enumerator interface {
	EnumerateDevices(ctx context.Context) error
}

// Catalog is the last-known device set and the current selection.
type Catalog struct {
	mu         sync.RWMutex
	devices    []Device
	selected   string
	generation uint64
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Refresh asks the enumerator for a new device list.
func (c *Catalog) Refresh(ctx context.Context, e Enumerator) error {
	slog.Info("device_catalog_refresh_requested")
	if err := e.EnumerateDevices(ctx); err != nil {
		slog.Error("device_catalog_refresh_failed", "error", err)
		return errors.Wrap(err, "enumerate devices")
	}
	return nil
}

// Replace swaps in a new device set and clears the selection, even if the
// selected identifier is still present: its capacity may have changed.
func (c *Catalog) Replace(devices []Device) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.devices = append([]Device(nil), devices...)
	c.selected = ""
	c.generation++

	slog.Info("device_catalog_replaced", "device_count", len(devices), "generation", c.generation)
}

// Select marks the device with the given identifier as selected.
func (c *Catalog) Select(id string) (Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range c.devices {
		if d.ID == id {
			c.selected = id
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ClearSelection resets the selection to none.
func (c *Catalog) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = ""
}

// Selected returns the selected device, if any.
func (c *Catalog) Selected() (Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.selected == "" {
		return Device{}, false
	}
	for _, d := range c.devices {
		if d.ID == c.selected {
			return d, true
		}
	}
	return Device{}, false
}

// Devices returns a copy of the current device set.
func (c *Catalog) Devices() []Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Device(nil), c.devices...)
}

// Generation counts how many times the set has been replaced.
func (c *Catalog) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}
