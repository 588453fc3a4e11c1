// Package imagefile validates disk image files before they are offered for
// flashing.
package imagefile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/size"
)

// DefaultExtensions are the image types accepted when none are configured.
var DefaultExtensions = []string{"iso", "img", "raw", "dmg"}

var (
	// ErrNotRegularFile is returned for sockets, devices and other special files.
	ErrNotRegularFile = errors.New("not a regular file")

	// ErrExtensionNotAllowed is returned for files without an accepted extension.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")

	// ErrImageTooLarge is returned when the file exceeds the configured limit.
	ErrImageTooLarge = errors.New("image exceeds maximum size")
)

// NotExistsError is returned when the path does not exist.
type NotExistsError struct{ Name string }

func (e *NotExistsError) Error() string {
	return fmt.Sprintf("image %s does not exist", e.Name)
}

// IsDirectoryError is returned when the path names a directory.
type IsDirectoryError struct{ Name string }

func (e *IsDirectoryError) Error() string {
	return fmt.Sprintf("image %s is a directory", e.Name)
}

// Image is a validated image file.
type Image struct {
	Path string
	Size size.Bytes
}

// Validator checks image files against the configured rules
type Validator struct {
	extensions map[string]bool
	maxSize    size.Bytes
}

// NewValidator creates a validator. An empty extension list accepts every
// file; a zero maxSize means no limit.
func NewValidator(extensions []string, maxSize size.Bytes) *Validator {
	v := &Validator{maxSize: maxSize}
	if len(extensions) > 0 {
		v.extensions = make(map[string]bool, len(extensions))
		for _, ext := range extensions {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext != "" {
				v.extensions[ext] = true
			}
		}
	}

	slog.Info("image_validator_init", "extensions", extensions, "max_size", maxSize.String())
	return v
}

// ValidateExtension checks the file name against the accepted extensions
func (v *Validator) ValidateExtension(path string) error {
	if len(v.extensions) == 0 {
		return nil
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !v.extensions[ext] {
		slog.Error("image_extension_rejected", "path", path, "extension", ext)
		return fmt.Errorf("%w: %q", ErrExtensionNotAllowed, filepath.Ext(path))
	}
	return nil
}

// ValidateFileSize checks a size against the configured maximum
func (v *Validator) ValidateFileSize(n size.Bytes) error {
	if v.maxSize.IsZero() || !size.GreaterThan(n, v.maxSize) {
		return nil
	}
	slog.Error("image_size_exceeded", "size", n.String(), "max_size", v.maxSize.String())
	return fmt.Errorf("%w: %s bytes is over the %s bytes limit", ErrImageTooLarge, n, v.maxSize)
}

// Inspect resolves path, checks it and returns its absolute path and size
func (v *Validator) Inspect(path string) (Image, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Image{}, errors.Wrapf(err, "resolve %s", path)
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return Image{}, &NotExistsError{Name: abs}
	}
	if err != nil {
		return Image{}, errors.Wrapf(err, "stat %s", abs)
	}
	if info.IsDir() {
		return Image{}, &IsDirectoryError{Name: abs}
	}
	if !info.Mode().IsRegular() {
		slog.Error("image_not_regular", "path", abs, "mode", info.Mode().String())
		return Image{}, fmt.Errorf("%w: %s", ErrNotRegularFile, abs)
	}

	if err := v.ValidateExtension(abs); err != nil {
		return Image{}, err
	}

	n := size.FromInt64(info.Size())
	if err := v.ValidateFileSize(n); err != nil {
		return Image{}, err
	}

	slog.Info("image_inspected", "path", abs, "size", humanize.Bytes(uint64(info.Size())))
	return Image{Path: abs, Size: n}, nil
}
