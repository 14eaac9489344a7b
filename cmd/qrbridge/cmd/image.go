package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrbridge/internal/detector"
	"github.com/MeKo-Tech/qrbridge/internal/results"
)

const (
	modeBytes  = "bytes"
	modePath   = "path"
	modePixels = "pixels"
)

func newImageCommand(a *app) *cobra.Command {
	var (
		mode   string
		async  bool
		filter fileFilter
	)
	cmd := &cobra.Command{
		Use:   "image <files...>",
		Short: "Detect QR codes in image files",
		Long: `Detect and decode QR codes in one or more image files.

Modes:
  bytes   read the file and pass the encoded bytes to the bridge (default)
  path    let the bridge open the file itself
  pixels  decode the image here and pass a pixel buffer to the bridge

Directories are expanded to the image files they contain, descending
into subdirectories with --recursive.

With --async all files are queued on the worker pool first and the
results are collected in input order.

Examples:
  qrbridge image ticket.png
  qrbridge image scans/*.jpg --async -o json
  qrbridge image scans/ --recursive --exclude '*_thumb.*'
  qrbridge image photo.jpg --mode pixels`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch mode {
			case modeBytes, modePath, modePixels:
			default:
				return fmt.Errorf("invalid mode: %s (must be one of: bytes, path, pixels)", mode)
			}

			files, err := filter.discoverInputs(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return errors.New("no image files found")
			}

			det, pool, err := a.openDetector()
			if err != nil {
				return err
			}
			defer a.closeDetector(det, pool)

			batchID := uuid.NewString()
			logger := a.logger.With("batch_id", batchID)
			logger.Info("Processing images", "files", len(files), "mode", mode, "async", async)

			var reports []fileReport
			if async {
				reports, err = detectImagesAsync(cmd, det, mode, files)
			} else {
				reports, err = detectImages(det, mode, files)
			}
			if err != nil {
				return err
			}

			if err := a.emitReports(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			failed := failedReports(reports)
			logger.Info("Images processed", "files", len(reports), "failed", failed)
			if failed > 0 {
				return fmt.Errorf("detection failed for %d of %d files", failed, len(reports))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", modeBytes, "input mode (bytes, path, pixels)")
	cmd.Flags().BoolVar(&async, "async", false, "queue all files on the worker pool")
	cmd.Flags().BoolVarP(&filter.recursive, "recursive", "r", false, "descend into subdirectories")
	cmd.Flags().StringSliceVar(&filter.include, "include", nil, "file patterns to include when expanding directories (default: common image types)")
	cmd.Flags().StringSliceVar(&filter.exclude, "exclude", nil, "file patterns to exclude")
	return cmd
}

func detectImages(det *detector.Detector, mode string, files []string) ([]fileReport, error) {
	reports := make([]fileReport, 0, len(files))
	for _, file := range files {
		var out results.Outcome
		switch mode {
		case modePath:
			out = det.DetectPath(file)
		case modePixels:
			img, err := imaging.Open(file, imaging.AutoOrientation(true))
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", file, err)
			}
			out = det.DetectImage(img)
		default:
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", file, err)
			}
			out = det.DetectBytes(data)
		}
		slog.Debug("Image processed", "file", file, "kind", out.Kind, "symbols", len(out.Symbols))
		reports = append(reports, newFileReport(file, out))
	}
	return reports, nil
}

func detectImagesAsync(cmd *cobra.Command, det *detector.Detector, mode string, files []string) ([]fileReport, error) {
	futures := make([]*detector.Future, 0, len(files))
	cancelAll := func() {
		for _, f := range futures {
			f.Cancel()
		}
	}

	for _, file := range files {
		var (
			f   *detector.Future
			err error
		)
		switch mode {
		case modePath:
			f, err = det.DetectPathAsync(file)
		case modePixels:
			img, openErr := imaging.Open(file, imaging.AutoOrientation(true))
			if openErr != nil {
				cancelAll()
				return nil, fmt.Errorf("failed to decode %s: %w", file, openErr)
			}
			f, err = det.DetectImageAsync(img)
		default:
			data, readErr := os.ReadFile(file)
			if readErr != nil {
				cancelAll()
				return nil, fmt.Errorf("failed to read %s: %w", file, readErr)
			}
			f, err = det.DetectBytesAsync(data)
		}
		if err != nil {
			cancelAll()
			return nil, fmt.Errorf("failed to queue %s: %w", file, err)
		}
		futures = append(futures, f)
	}

	ctx := cmd.Context()
	reports := make([]fileReport, 0, len(files))
	for i, f := range futures {
		if ctx.Err() != nil {
			cancelAll()
			return nil, ctx.Err()
		}
		out, err := f.Wait(ctx)
		if err != nil {
			cancelAll()
			if errors.Is(err, ctx.Err()) {
				return nil, fmt.Errorf("interrupted: %w", err)
			}
			return nil, fmt.Errorf("detection of %s did not complete: %w", files[i], err)
		}
		reports = append(reports, newFileReport(files[i], out))
	}
	return reports, nil
}
