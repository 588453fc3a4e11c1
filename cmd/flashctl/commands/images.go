package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/progress"
	"github.com/imagewriter/flashctl/pkg/storage"
)

var (
	imagesPrefix string
	imagesOutput string
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List disk images available in the S3 bucket",
	RunE:  runImages,
}

func init() {
	rootCmd.AddCommand(imagesCmd)
	imagesCmd.Flags().StringVar(&imagesPrefix, "prefix", "", "Only list keys with this prefix")
	imagesCmd.Flags().StringVarP(&imagesOutput, "output", "o", "table", "Output format (table, json, yaml)")
}

func runImages(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireBucket(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	images, err := client.ListImages(ctx, imagesPrefix, cfg.ImageExtensions)
	if err != nil {
		return errors.Wrap(err, "list images failed")
	}

	if done, err := writeStructured(os.Stdout, imagesOutput, images); done || err != nil {
		return err
	}

	if len(images) == 0 {
		fmt.Println("No images found")
		return nil
	}

	fmt.Printf("%-50s %-12s %-16s\n", "KEY", "SIZE", "MODIFIED")
	fmt.Println("------------------------------------------------------------------------------")
	for _, img := range images {
		modified := "-"
		if !img.LastModified.IsZero() {
			modified = humanize.Time(img.LastModified)
		}
		fmt.Printf("%-50s %-12s %-16s\n", img.Key, progress.FormatBytes(img.Size, cfg.BinaryUnits), modified)
	}
	return nil
}
