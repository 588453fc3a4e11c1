package engine

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/imagewriter/flashctl/pkg/errors"
)

// WriterError is a non-zero exit of the writer process. Message is the last
// line the writer printed, which for dd is the reason it stopped.
type WriterError struct {
	Message string
	Err     error
}

func (e *WriterError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return e.Err.Error()
	}
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return msg
	}
	return e.Err.Error() + ": " + msg
}

func (e *WriterError) Unwrap() error {
	return e.Err
}

// writerArgs builds the dd-style argument list.
func writerArgs(imagePath, devicePath, blockSize string) []string {
	return []string{
		"if=" + imagePath,
		"of=" + devicePath,
		"bs=" + blockSize,
		"status=progress",
		"conv=fsync",
	}
}

// runWriter runs the writer until it exits or ctx is cancelled, passing each
// parsed output line to onLine. Cancelling ctx interrupts the writer so dd
// can flush and report before exiting.
func runWriter(ctx context.Context, command, imagePath, devicePath, blockSize string, onLine func(Line)) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return errors.New("writer command is empty")
	}
	args := append(fields[1:], writerArgs(imagePath, devicePath, blockSize)...)

	cmd := exec.CommandContext(ctx, fields[0], args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 5 * time.Second

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	slog.Info("writer_starting", "command", fields[0], "args", args)
	if err := cmd.Start(); err != nil {
		pw.Close()
		slog.Error("writer_start_failed", "command", fields[0], "error", err)
		return errors.Wrap(err, "failed to start writer")
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	lastLine := ""
	scanner := bufio.NewScanner(pr)
	scanner.Split(ScanCRLFLines)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		lastLine = text
		if line := ParseLine(text); line.Kind != LineOther {
			onLine(line)
		} else {
			slog.Debug("writer_output", "line", text)
		}
	}
	// Drain so Wait can finish even if the scanner stopped early.
	io.Copy(io.Discard, pr)

	if err := <-waitErr; err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("writer_failed", "error", err, "last_line", lastLine)
		return &WriterError{Message: lastLine, Err: err}
	}

	slog.Info("writer_finished", "last_line", lastLine)
	return nil
}
