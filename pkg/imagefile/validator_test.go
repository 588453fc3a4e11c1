package imagefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/size"
)

func writeFile(t *testing.T, name string, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, make([]byte, n), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestInspect(t *testing.T) {
	v := NewValidator(DefaultExtensions, size.Zero)

	path := writeFile(t, "debian.ISO", 4096)
	img, err := v.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if img.Path != path || img.Size.String() != "4096" {
		t.Errorf("unexpected image: %+v", img)
	}
}

func TestInspect_Errors(t *testing.T) {
	v := NewValidator(DefaultExtensions, size.FromInt64(1024))
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		_, err := v.Inspect(filepath.Join(dir, "nope.img"))
		var notExists *NotExistsError
		if !errors.As(err, &notExists) {
			t.Errorf("expected NotExistsError, got %v", err)
		}
	})

	t.Run("directory", func(t *testing.T) {
		_, err := v.Inspect(dir)
		var isDir *IsDirectoryError
		if !errors.As(err, &isDir) {
			t.Errorf("expected IsDirectoryError, got %v", err)
		}
	})

	t.Run("extension", func(t *testing.T) {
		_, err := v.Inspect(writeFile(t, "notes.txt", 10))
		if !errors.Is(err, ErrExtensionNotAllowed) {
			t.Errorf("expected ErrExtensionNotAllowed, got %v", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		_, err := v.Inspect(writeFile(t, "big.img", 2048))
		if !errors.Is(err, ErrImageTooLarge) {
			t.Errorf("expected ErrImageTooLarge, got %v", err)
		}
	})
}

func TestValidateExtension(t *testing.T) {
	tests := []struct {
		extensions []string
		path       string
		shouldErr  bool
	}{
		{DefaultExtensions, "a.img", false},
		{DefaultExtensions, "a.raw", false},
		{DefaultExtensions, "a.dmg", false},
		{DefaultExtensions, "a.iso.gz", true},
		{DefaultExtensions, "noext", true},
		{[]string{".IMG"}, "a.img", false},
		{nil, "anything.bin", false},
	}

	for _, tt := range tests {
		err := NewValidator(tt.extensions, size.Zero).ValidateExtension(tt.path)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for %s with %v", tt.path, tt.extensions)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for %s: %v", tt.path, err)
		}
	}
}

func TestValidateFileSize(t *testing.T) {
	v := NewValidator(nil, size.FromInt64(100))

	if err := v.ValidateFileSize(size.FromInt64(100)); err != nil {
		t.Errorf("expected no error at the limit, got: %v", err)
	}
	if err := v.ValidateFileSize(size.FromInt64(150)); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("expected ErrImageTooLarge, got %v", err)
	}

	unlimited := NewValidator(nil, size.Zero)
	if err := unlimited.ValidateFileSize(size.MustParse("99999999999999999999")); err != nil {
		t.Errorf("zero limit should accept any size: %v", err)
	}
}
