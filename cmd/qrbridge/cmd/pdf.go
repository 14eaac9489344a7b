package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrbridge/internal/pdf"
)

func newPDFCommand(a *app) *cobra.Command {
	var (
		pages         string
		userPassword  string
		ownerPassword string
	)
	cmd := &cobra.Command{
		Use:   "pdf <file...>",
		Short: "Detect QR codes in the images embedded in PDF files",
		Long: `Extract the images embedded in PDF pages and detect QR codes in each.

Images are queued on the worker pool and reported per page.

Examples:
  qrbridge pdf invoice.pdf
  qrbridge pdf scans/*.pdf -o yaml
  qrbridge pdf report.pdf --pages 1-3,7
  qrbridge pdf locked.pdf --password secret`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			det, pool, err := a.openDetector()
			if err != nil {
				return err
			}
			defer a.closeDetector(det, pool)

			var creds *pdf.Credentials
			if userPassword != "" || ownerPassword != "" {
				creds = &pdf.Credentials{UserPassword: userPassword, OwnerPassword: ownerPassword}
			}
			proc := pdf.NewProcessor(det, pdf.WithLogger(a.logger), pdf.WithCredentials(creds))

			docs := make([]*pdf.DocumentResult, 0, len(args))
			for _, file := range args {
				doc, err := proc.ProcessFile(cmd.Context(), file, pages)
				if err != nil {
					return fmt.Errorf("failed to process %s: %w", file, err)
				}
				a.logger.Info("PDF processed", "file", file, "pages", len(doc.Pages), "symbols", len(doc.Texts()),
					"total_ms", doc.Processing.TotalTimeMs)
				docs = append(docs, doc)
			}

			format := a.cfg.Output.Format
			if format == "" || format == outputFormatText {
				return writeTextDocuments(cmd.OutOrStdout(), docs)
			}
			return writeStructured(cmd.OutOrStdout(), format, docs)
		},
	}
	cmd.Flags().StringVar(&pages, "pages", "", "page range to process (e.g. '1-5', '1,3,5')")
	cmd.Flags().StringVar(&userPassword, "password", "", "user password for encrypted documents")
	cmd.Flags().StringVar(&ownerPassword, "owner-password", "", "owner password for encrypted documents")
	return cmd
}

func writeTextDocuments(w io.Writer, docs []*pdf.DocumentResult) error {
	for _, doc := range docs {
		if _, err := fmt.Fprintf(w, "%s (%d pages)\n", doc.Filename, doc.TotalPages); err != nil {
			return err
		}
		found := false
		for _, page := range doc.Pages {
			for _, img := range page.Images {
				if img.Result.Code != 0 {
					fmt.Fprintf(w, "  page %d, %s: error: %s\n", page.PageNumber, img.Name, img.Result.Kind)
					continue
				}
				for _, s := range img.Result.Symbols {
					found = true
					fmt.Fprintf(w, "  page %d, %s: %s\n", page.PageNumber, img.Name, s.Text)
				}
			}
		}
		if !found {
			if _, err := fmt.Fprintln(w, "  no QR code found"); err != nil {
				return err
			}
		}
	}
	return nil
}
