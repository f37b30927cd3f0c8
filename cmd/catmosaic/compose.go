package main

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/catmosaic/catmosaic/internal/config"
	"github.com/catmosaic/catmosaic/internal/pack"
	"github.com/catmosaic/catmosaic/internal/worker"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newComposeCmd() *cobra.Command {
	composeCmd := &cobra.Command{
		Use:   "compose FILE...",
		Short: "Build a mosaic or archive from local image files",
		Long: `Build one batch from local files with the same encoder the batch workers
use. Files keep the order given on the command line.

The mode follows the output extension (.zip for an archive, anything else for a
mosaic) unless --mode is set. Layout and JPEG quality come from the config file.

Examples:
  catmosaic compose cats/*.jpg -o mosaic.png
  catmosaic compose a.jpg b.jpg -o batch.zip`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCompose,
	}
	composeCmd.Flags().StringVarP(&composeOutput, "output", "o", "", "output file")
	composeCmd.Flags().StringVarP(&composeMode, "mode", "m", "", "archive or mosaic (default: from output extension)")
	_ = composeCmd.MarkFlagRequired("output")
	return composeCmd
}

func runCompose(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mode := modeForOutput(composeOutput)
	if composeMode != "" {
		if mode, err = config.ParseMode(composeMode); err != nil {
			return err
		}
	}

	images, err := readImages(args)
	if err != nil {
		return err
	}

	part, err := worker.BuildPart(mode, images, cfg.Batch.JPEGQuality, cfg.Layout())
	if err != nil {
		return fmt.Errorf("compose %s: %w", mode, err)
	}
	if err := os.WriteFile(composeOutput, part.Data, 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	log.Info().
		Str("output", composeOutput).
		Str("mode", string(mode)).
		Int("images", len(images)).
		Str("size", humanize.Bytes(uint64(len(part.Data)))).
		Msg("wrote batch")
	return nil
}

func modeForOutput(path string) config.Mode {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return config.ModeArchive
	}
	return config.ModeMosaic
}

func readImages(paths []string) ([]image.Image, error) {
	images := make([]image.Image, 0, len(paths))
	var errs []error
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		img, err := pack.Decode(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		images = append(images, img)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return images, nil
}
