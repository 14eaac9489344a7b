package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrbridge/internal/pixels"
)

func newPixelsCommand(a *app) *cobra.Command {
	var (
		format        string
		width, height int
		stride        int
		bottomUp      bool
	)
	cmd := &cobra.Command{
		Use:   "pixels <raw-file>",
		Short: "Detect QR codes in a raw pixel buffer",
		Long: `Detect QR codes in a file holding raw, uncompressed pixel rows.

Supported formats: gray, rgb, bgr, rgba, bgra, argb, abgr

The stride defaults to width times the bytes per pixel. Buffers stored
bottom row first are flipped before detection with --bottom-up.

Examples:
  qrbridge pixels frame.raw --format gray --width 640 --height 480
  qrbridge pixels dib.raw --format bgra --width 320 --height 240 --stride 1280 --bottom-up`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := pixels.ParseFormat(format)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			px := pixels.Descriptor{Data: data, Format: f, Width: width, Height: height, Stride: stride}
			if err := px.Validate(); err != nil {
				return err
			}
			if bottomUp {
				if err := px.FlipRows(); err != nil {
					return err
				}
			}

			det, pool, err := a.openDetector()
			if err != nil {
				return err
			}
			defer a.closeDetector(det, pool)

			out := det.DetectPixels(px)
			a.logger.Debug("Pixel buffer processed", "file", args[0], "format", f, "kind", out.Kind, "symbols", len(out.Symbols))

			reports := []fileReport{newFileReport(args[0], out)}
			if err := a.emitReports(cmd.OutOrStdout(), reports); err != nil {
				return err
			}
			if !out.OK() {
				return fmt.Errorf("detection failed: %w", out.Err())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "gray", "pixel format (gray, rgb, bgr, rgba, bgra, argb, abgr)")
	cmd.Flags().IntVar(&width, "width", 0, "image width in pixels")
	cmd.Flags().IntVar(&height, "height", 0, "image height in pixels")
	cmd.Flags().IntVar(&stride, "stride", 0, "bytes per row (0 = width * bytes per pixel)")
	cmd.Flags().BoolVar(&bottomUp, "bottom-up", false, "rows are stored bottom row first")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")
	return cmd
}
