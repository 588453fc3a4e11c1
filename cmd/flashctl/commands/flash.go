package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/imagewriter/flashctl/internal/config"
	"github.com/imagewriter/flashctl/pkg/blockdev"
	"github.com/imagewriter/flashctl/pkg/db"
	"github.com/imagewriter/flashctl/pkg/engine"
	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/imagefile"
	"github.com/imagewriter/flashctl/pkg/progress"
	"github.com/imagewriter/flashctl/pkg/workflow"
)

var (
	flashImage  string
	flashPrompt bool
	flashDevice string
	flashYes    bool
)

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Write a disk image to a removable device",
	Long: `Write a disk image to a removable device.

The image comes from --image or, with --prompt, from a desktop file dialog.
The device comes from --device or an interactive list. The write starts only
after confirmation (skip it with --yes). Press Ctrl-C while writing to ask
for cancellation.`,
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringVar(&flashImage, "image", "", "Path to the disk image")
	flashCmd.Flags().BoolVar(&flashPrompt, "prompt", false, "Choose the image with a file dialog")
	flashCmd.Flags().StringVar(&flashDevice, "device", "", "Target device path (e.g. /dev/sdb)")
	flashCmd.Flags().BoolVarP(&flashYes, "yes", "y", false, "Start without asking for confirmation")
}

func runFlash(cmd *cobra.Command, args []string) error {
	if flashImage == "" && !flashPrompt {
		return fmt.Errorf("must specify --image or --prompt")
	}

	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	maxSize, err := cfg.MaxImageBytes()
	if err != nil {
		return err
	}

	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM init failed")
	}
	defer manager.Shutdown(10 * time.Second)

	var disks blockdev.Manager
	if m, err := blockdev.NewManager(); err != nil {
		slog.Warn("device_discovery_unavailable", "error", err)
	} else {
		disks = m
		defer m.Close()
	}

	validator := imagefile.NewValidator(cfg.ImageExtensions, maxSize)

	eng, err := engine.New(ctx, manager, repo, validator, disks,
		&engine.DialogPrompter{Extensions: cfg.ImageExtensions},
		engine.Options{
			WriterCommand:      cfg.WriterCommand,
			BlockSize:          cfg.BlockSize,
			UnmountBeforeFlash: cfg.UnmountBeforeFlash,
			BinaryUnits:        cfg.BinaryUnits,
			MaxRetries:         cfg.FSMMaxRetries,
		})
	if err != nil {
		return errors.Wrap(err, "engine init failed")
	}
	defer eng.Close()

	controller := workflow.NewController(eng)

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go controller.Run(runCtx, eng.Events())

	snaps, unsubscribe := controller.Subscribe()
	defer unsubscribe()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	s := &flashSession{
		ctx:   ctx,
		cfg:   cfg,
		ctl:   controller,
		snaps: snaps,
		lines: lineReader(os.Stdin),
		sigs:  sigs,
	}
	return s.run(validator)
}

// flashSession drives the controller from the terminal.
type flashSession struct {
	ctx   context.Context
	cfg   *config.Config
	ctl   *workflow.Controller
	snaps <-chan workflow.Snapshot
	lines <-chan string
	sigs  <-chan os.Signal
}

var errAborted = errors.New("aborted")

func (s *flashSession) run(validator *imagefile.Validator) error {
	if err := s.chooseDevice(); err != nil {
		return err
	}
	if err := s.chooseImage(validator); err != nil {
		return err
	}
	started, err := s.start()
	if err != nil || !started {
		return err
	}
	return s.watch()
}

// waitFor blocks until a snapshot newer than after satisfies cond. An
// interrupt aborts the wait.
func (s *flashSession) waitFor(after uint64, cond func(workflow.Snapshot) bool) (workflow.Snapshot, error) {
	for {
		select {
		case snap, ok := <-s.snaps:
			if !ok {
				return workflow.Snapshot{}, errAborted
			}
			if snap.Seq > after && cond(snap) {
				return snap, nil
			}
		case <-s.sigs:
			return workflow.Snapshot{}, errAborted
		}
	}
}

// ask prints question and reads one line. An interrupt counts as no answer.
func (s *flashSession) ask(question string) (string, error) {
	fmt.Print(question)
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", errAborted
		}
		return line, nil
	case <-s.sigs:
		fmt.Println()
		return "", errAborted
	}
}

func (s *flashSession) chooseDevice() error {
	before := s.ctl.Snapshot().Seq
	if err := s.ctl.RefreshDevices(s.ctx); err != nil {
		return err
	}

	// The refresh itself publishes before+1; the next change is its result.
	snap, err := s.waitFor(before+1, func(workflow.Snapshot) bool { return true })
	if err != nil {
		return err
	}
	if len(snap.Devices) == 0 {
		if snap.Notice != "" {
			return errors.New(snap.Notice)
		}
		return errors.New("no removable devices found")
	}
	s.ctl.ClearNotice()

	if flashDevice != "" {
		return s.ctl.SelectDevice(flashDevice)
	}

	fmt.Println("Available devices:")
	for i, d := range snap.Devices {
		fmt.Printf("  %d) %s\n", i+1, d.Label)
	}
	for {
		answer, err := s.ask(fmt.Sprintf("Select device [1-%d]: ", len(snap.Devices)))
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 1 || n > len(snap.Devices) {
			fmt.Println("Invalid choice")
			continue
		}
		return s.ctl.SelectDevice(snap.Devices[n-1].ID)
	}
}

func (s *flashSession) chooseImage(validator *imagefile.Validator) error {
	if flashImage != "" {
		img, err := validator.Inspect(flashImage)
		if err != nil {
			return err
		}
		return s.ctl.SelectImage(workflow.Image{Path: img.Path, Size: img.Size})
	}

	before := s.ctl.Snapshot().Seq
	if err := s.ctl.PromptForImage(s.ctx); err != nil {
		return err
	}
	fmt.Println("Waiting for file selection (Ctrl-C to abort)...")

	snap, err := s.waitFor(before+1, func(snap workflow.Snapshot) bool {
		return snap.Image != nil || snap.Notice != ""
	})
	if err != nil {
		return err
	}
	if snap.Image == nil {
		return errors.New(snap.Notice)
	}
	return nil
}

// start arms the start confirmation and asks for it. It reports false when
// the user declines.
func (s *flashSession) start() (bool, error) {
	if err := s.ctl.RequestFlash(s.ctx); err != nil {
		return false, err
	}

	snap := s.ctl.Snapshot()
	fmt.Printf("Image:  %s (%s)\n", snap.Image.Path, progress.FormatBytes(snap.Image.Size, s.cfg.BinaryUnits))
	fmt.Printf("Device: %s\n", snap.Device.Label)

	if !flashYes {
		fmt.Println("All data on the device will be destroyed.")
		answer, err := s.ask("Flash now? [y/N]: ")
		if err != nil || !isYes(answer) {
			s.ctl.DeclinePending()
			fmt.Println("Flash not started")
			return false, nil
		}
	}
	if err := s.ctl.ConfirmPending(s.ctx); err != nil {
		return false, err
	}
	return true, nil
}

// watch renders progress until the run reaches a terminal state.
func (s *flashSession) watch() error {
	for {
		select {
		case snap, ok := <-s.snaps:
			if !ok {
				return errAborted
			}
			if snap.Phase == workflow.PhaseTerminal {
				return s.finish(snap)
			}
			if snap.Intent != workflow.IntentCancelConfirm {
				s.render(snap)
			}
		case <-s.sigs:
			if err := s.ctl.RequestCancel(); err != nil {
				continue
			}
			fmt.Print("\nCancel the flash? The device will be left unusable. [y/N]: ")
		case line, ok := <-s.lines:
			if !ok {
				s.lines = nil
				continue
			}
			if s.ctl.Snapshot().Intent != workflow.IntentCancelConfirm {
				continue
			}
			if isYes(line) {
				if err := s.ctl.ConfirmPending(s.ctx); err != nil {
					fmt.Printf("Cancel failed: %v\n", err)
				} else {
					fmt.Println("Cancelling...")
				}
			} else {
				s.ctl.DeclinePending()
			}
		}
	}
}

func (s *flashSession) render(snap workflow.Snapshot) {
	p := snap.Progress
	if !p.Writing() {
		return
	}
	parts := []string{}
	if p.Phase != "" {
		parts = append(parts, p.Phase)
	}
	parts = append(parts, fmt.Sprintf("%3d%%", p.Percent),
		fmt.Sprintf("%s / %s", progress.FormatBytes(p.BytesWritten, s.cfg.BinaryUnits), progress.FormatBytes(p.TotalBytes, s.cfg.BinaryUnits)))
	if p.Speed != "" {
		parts = append(parts, p.Speed)
	}
	fmt.Printf("\r\033[K%s", strings.Join(parts, "  "))
}

func (s *flashSession) finish(snap workflow.Snapshot) error {
	fmt.Println()
	failure := snap.Failure()
	if failure == nil {
		fmt.Printf("Flash complete: %s written to %s\n", snap.Image.Path, snap.Device.ID)
	} else {
		fmt.Printf("Flash failed: %s\n", failure.Message)
	}

	if err := s.ctl.Dismiss(s.ctx); err != nil {
		slog.Debug("dismiss_failed", "error", err)
	}
	if failure != nil {
		return failure
	}
	return nil
}
