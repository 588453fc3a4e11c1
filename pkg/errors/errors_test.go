package errors

import (
	"io"
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Fatal("wrapping nil should return nil")
	}

	err := Wrap(io.EOF, "read header")
	if err.Error() != "read header: EOF" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !Is(err, io.EOF) {
		t.Error("wrapped error should match io.EOF")
	}
}

func TestWrapf(t *testing.T) {
	err := Wrapf(io.EOF, "device %s", "/dev/sdb")
	if err.Error() != "device /dev/sdb: EOF" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
