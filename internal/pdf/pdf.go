// Package pdf extracts the embedded images of a PDF and runs QR detection
// on their encoded bytes.
package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ExtractedImage is one embedded image in its stored encoding.
type ExtractedImage struct {
	Page int
	Name string
	Data []byte
}

// Credentials unlock encrypted documents.
type Credentials struct {
	UserPassword  string `json:"user_password,omitempty"`
	OwnerPassword string `json:"owner_password,omitempty"`
}

func configuration(creds *Credentials) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	if creds != nil {
		conf.UserPW = creds.UserPassword
		conf.OwnerPW = creds.OwnerPassword
	}
	return conf
}

// ExtractImages extracts the embedded images of the selected pages, grouped
// by page number. An empty pageRange selects every page.
func ExtractImages(filename, pageRange string, creds *Credentials) (map[int][]ExtractedImage, error) {
	pageNumbers, err := parsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}

	tempDir, err := os.MkdirTemp("", "qrbridge-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var pageStrings []string
	for _, n := range pageNumbers {
		pageStrings = append(pageStrings, strconv.Itoa(n))
	}

	if err := api.ExtractImagesFile(filename, tempDir, pageStrings, configuration(creds)); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return collectExtractedImages(tempDir, base)
}

// PageCount returns the number of pages in filename.
func PageCount(filename string) (int, error) {
	return api.PageCountFile(filename)
}

// collectExtractedImages reads every extracted file in dir and groups it by
// the page number encoded in its name.
func collectExtractedImages(dir, base string) (map[int][]ExtractedImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	result := make(map[int][]ExtractedImage)
	for _, name := range names {
		page, ok := parsePageFromFilename(name, base)
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // G304: files written by pdfcpu into our temp dir
		if err != nil {
			return nil, fmt.Errorf("failed to read extracted image %s: %w", name, err)
		}
		result[page] = append(result[page], ExtractedImage{Page: page, Name: name, Data: data})
	}
	return result, nil
}

// parsePageFromFilename extracts the page number from an extracted file
// name. pdfcpu writes <base>_<page>_<resource>.<ext>; the older
// page_<page>_image_<idx>.<ext> form is accepted too.
func parsePageFromFilename(filename, base string) (int, bool) {
	var rest string
	switch {
	case base != "" && strings.HasPrefix(filename, base+"_"):
		rest = strings.TrimPrefix(filename, base+"_")
	case strings.HasPrefix(filename, "page_"):
		rest = strings.TrimPrefix(filename, "page_")
	default:
		return 0, false
	}
	head, _, _ := strings.Cut(rest, "_")
	page, err := strconv.Atoi(head)
	if err != nil || page <= 0 {
		return 0, false
	}
	return page, true
}

// parsePageRange parses a page range string like "1-5" or "1,3,5".
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}

	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

// parseRangeToken parses either a single page token (e.g., "3") or a range token (e.g., "1-5").
func parseRangeToken(part string) ([]int, error) {
	if from, to, ok := strings.Cut(part, "-"); ok {
		start, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil || start <= 0 {
			return nil, fmt.Errorf("invalid start page: %s", from)
		}
		end, err := strconv.Atoi(strings.TrimSpace(to))
		if err != nil || end <= 0 {
			return nil, fmt.Errorf("invalid end page: %s", to)
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := strconv.Atoi(part)
	if err != nil || page <= 0 {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}
