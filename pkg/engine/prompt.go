package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/imagewriter/flashctl/pkg/errors"
)

// ErrNoFileDialog is returned when no supported file dialog is installed.
var ErrNoFileDialog = errors.New("no file dialog available (install zenity, kdialog or yad)")

// Prompter asks the user for an image file. An empty path with a nil error
// means the user dismissed the prompt.
type Prompter interface {
	PromptForFile(ctx context.Context) (string, error)
}

// dialog is one desktop file chooser and how to invoke it.
type dialog struct {
	name string
	args func(extensions []string) []string
}

var dialogs = []dialog{
	{"zenity", func(exts []string) []string {
		return []string{"--file-selection", "--title=Select disk image",
			"--file-filter=Disk images | " + globs(exts), "--file-filter=All files | *"}
	}},
	{"kdialog", func(exts []string) []string {
		return []string{"--getopenfilename", ".", globs(exts) + "|Disk images"}
	}},
	{"yad", func(exts []string) []string {
		return []string{"--file", "--title=Select disk image", "--file-filter=" + globs(exts)}
	}},
}

func globs(extensions []string) string {
	if len(extensions) == 0 {
		return "*"
	}
	patterns := make([]string, len(extensions))
	for i, ext := range extensions {
		patterns[i] = "*." + strings.TrimPrefix(ext, ".")
	}
	return strings.Join(patterns, " ")
}

// DialogPrompter uses the first installed desktop file chooser.
type DialogPrompter struct {
	Extensions []string
}

func (p *DialogPrompter) PromptForFile(ctx context.Context) (string, error) {
	for _, d := range dialogs {
		path, err := exec.LookPath(d.name)
		if err != nil {
			continue
		}

		slog.Info("file_prompt_opened", "dialog", d.name)
		out, err := exec.CommandContext(ctx, path, d.args(p.Extensions)...).Output()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
				slog.Info("file_prompt_dismissed", "dialog", d.name)
				return "", nil
			}
			return "", fmt.Errorf("%s: %w", d.name, err)
		}
		return strings.TrimSpace(string(out)), nil
	}
	return "", ErrNoFileDialog
}
