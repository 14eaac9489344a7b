package pdf

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/MeKo-Tech/qrbridge/internal/detector"
)

// Processor runs detection over the images embedded in PDF files.
type Processor struct {
	det    *detector.Detector
	logger *slog.Logger
	creds  *Credentials
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithCredentials sets the passwords used for encrypted documents.
func WithCredentials(c *Credentials) ProcessorOption {
	return func(p *Processor) { p.creds = c }
}

// NewProcessor creates a PDF processor on det.
func NewProcessor(det *detector.Detector, opts ...ProcessorOption) *Processor {
	p := &Processor{det: det, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type pending struct {
	page, index int
	name        string
	future      *detector.Future
}

// ProcessFile extracts the images of the selected pages and detects QR codes
// in each of them concurrently on the detector's dispatcher. Per-image
// failures are reported in the result; only extraction and cancellation
// fail the whole call.
func (p *Processor) ProcessFile(ctx context.Context, filename, pageRange string) (*DocumentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	pageImages, err := ExtractImages(filename, pageRange, p.creds)
	if err != nil {
		return nil, err
	}
	extractTime := time.Since(start)

	pageNums := make([]int, 0, len(pageImages))
	for n := range pageImages {
		pageNums = append(pageNums, n)
	}
	sort.Ints(pageNums)

	detectStart := time.Now()
	var queued []pending
	cancelAll := func() {
		for _, q := range queued {
			q.future.Cancel()
		}
	}
	for _, n := range pageNums {
		for i, img := range pageImages[n] {
			f, err := p.det.DetectBytesAsync(img.Data)
			if err != nil {
				cancelAll()
				return nil, fmt.Errorf("failed to queue page %d image %d: %w", n, i, err)
			}
			queued = append(queued, pending{page: n, index: i, name: img.Name, future: f})
		}
	}

	doc := &DocumentResult{Filename: filename}
	byPage := make(map[int]int)
	for qi, q := range queued {
		out, err := q.future.Wait(ctx)
		if err != nil {
			for _, rest := range queued[qi+1:] {
				rest.future.Cancel()
			}
			return nil, fmt.Errorf("detection interrupted on page %d: %w", q.page, err)
		}
		pi, ok := byPage[q.page]
		if !ok {
			pi = len(doc.Pages)
			byPage[q.page] = pi
			doc.Pages = append(doc.Pages, PageResult{PageNumber: q.page})
		}
		doc.Pages[pi].Images = append(doc.Pages[pi].Images, ImageResult{ImageIndex: q.index, Name: q.name, Result: out.Report()})
		if !out.OK() {
			p.logger.Debug("Image detection failed", "page", q.page, "image", q.name, "kind", out.Kind)
		}
	}

	if n, err := PageCount(filename); err == nil {
		doc.TotalPages = n
	} else {
		p.logger.Debug("Page count unavailable", "file", filename, "error", err)
		if len(pageNums) > 0 {
			doc.TotalPages = pageNums[len(pageNums)-1]
		}
	}

	doc.Processing = ProcessingInfo{
		ExtractionTimeMs: extractTime.Milliseconds(),
		DetectionTimeMs:  time.Since(detectStart).Milliseconds(),
		TotalTimeMs:      time.Since(start).Milliseconds(),
	}
	p.logger.Debug("PDF processed", "file", filename, "pages", len(doc.Pages), "images", len(queued))
	return doc, nil
}
