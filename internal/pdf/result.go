package pdf

import "github.com/MeKo-Tech/qrbridge/internal/results"

// PageResult holds the detections for a single PDF page.
type PageResult struct {
	PageNumber int           `json:"page_number" yaml:"page_number"`
	Images     []ImageResult `json:"images" yaml:"images"`
}

// ImageResult holds the detection outcome for one embedded image.
type ImageResult struct {
	ImageIndex int            `json:"image_index" yaml:"image_index"`
	Name       string         `json:"name" yaml:"name"`
	Result     results.Report `json:"result" yaml:"result"`
}

// DocumentResult holds the detections for a PDF document.
type DocumentResult struct {
	Filename   string         `json:"filename" yaml:"filename"`
	TotalPages int            `json:"total_pages" yaml:"total_pages"`
	Pages      []PageResult   `json:"pages" yaml:"pages"`
	Processing ProcessingInfo `json:"processing" yaml:"processing"`
}

// ProcessingInfo contains timing information.
type ProcessingInfo struct {
	ExtractionTimeMs int64 `json:"extraction_time_ms" yaml:"extraction_time_ms"`
	DetectionTimeMs  int64 `json:"detection_time_ms" yaml:"detection_time_ms"`
	TotalTimeMs      int64 `json:"total_time_ms" yaml:"total_time_ms"`
}

// Texts returns every decoded string in page, image and symbol order.
func (d *DocumentResult) Texts() []string {
	var out []string
	for _, p := range d.Pages {
		for _, img := range p.Images {
			for _, s := range img.Result.Symbols {
				out = append(out, s.Text)
			}
		}
	}
	return out
}
