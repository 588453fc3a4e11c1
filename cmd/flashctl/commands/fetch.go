package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/imagefile"
	"github.com/imagewriter/flashctl/pkg/progress"
	"github.com/imagewriter/flashctl/pkg/storage"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <image-key>",
	Short: "Download an image from S3 into the work directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	imageKey := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireBucket(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	maxSize, err := cfg.MaxImageBytes()
	if err != nil {
		return err
	}
	validator := imagefile.NewValidator(cfg.ImageExtensions, maxSize)
	if err := validator.ValidateExtension(imageKey); err != nil {
		return err
	}

	if err := ensureDirectories(cfg.SQLitePath, "", cfg.WorkDir); err != nil {
		return err
	}

	client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	exists, err := client.Exists(ctx, imageKey)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("image %s not found in bucket %s", imageKey, cfg.S3Bucket)
	}

	result, err := client.Download(ctx, imageKey, filepath.Join(cfg.WorkDir, "images"))
	if err != nil {
		return errors.Wrap(err, "download failed")
	}

	img, err := validator.Inspect(result.LocalPath)
	if err != nil {
		os.Remove(result.LocalPath)
		return errors.Wrap(err, "downloaded image rejected")
	}

	fmt.Printf("Downloaded %s (%s)\n", img.Path, progress.FormatBytes(img.Size, cfg.BinaryUnits))
	fmt.Printf("SHA-256 %s\n", result.SHA256)
	fmt.Printf("Flash it with: flashctl flash --image %s\n", img.Path)
	return nil
}
