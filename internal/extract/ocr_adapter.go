package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/ocr"
)

// PDFParser reads the embedded text layer of PDFs through pdftotext.
type PDFParser struct {
	tools *ocr.Tools
}

func NewPDFParser(t *ocr.Tools) *PDFParser {
	return &PDFParser{tools: t}
}

func (p *PDFParser) Parse(ctx context.Context, data []byte) (string, int, error) {
	return p.tools.PDFText(ctx, data)
}

// TesseractRecognizer is an offline Recognizer: PDFs are rendered page by page, images OCR'd directly.
type TesseractRecognizer struct {
	tools  *ocr.Tools
	logger *slog.Logger
}

var _ Recognizer = (*TesseractRecognizer)(nil)

func NewTesseractRecognizer(t *ocr.Tools, logger *slog.Logger) *TesseractRecognizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TesseractRecognizer{tools: t, logger: logger}
}

func (a *TesseractRecognizer) Recognize(ctx context.Context, data []byte, contentType string) (Recognition, error) {
	images := [][]byte{data}
	ext := ".png"
	if constants.ResolveFormat(contentType, "") == constants.PDF {
		pages, err := a.tools.RenderPages(ctx, data)
		if err != nil {
			return Recognition{}, common.OCRFailure(fmt.Errorf("render pages: %w", err))
		}
		images = pages
	} else if contentType == constants.ContentTypeJPEG || contentType == "image/jpg" {
		ext = ".jpg"
	}

	var (
		texts    []string
		warnings []string
		confSum  float32
		failures int
	)
	for i, img := range images {
		r, err := a.tools.Tesseract(ctx, img, ext)
		if err != nil {
			a.logger.Warn("tesseract page failed", "page", i+1, "error", err)
			warnings = append(warnings, fmt.Sprintf("page %d: %v", i+1, err))
			failures++
			continue
		}
		warnings = append(warnings, r.Warnings...)
		confSum += r.Confidence
		if t := strings.TrimSpace(r.Text); t != "" {
			texts = append(texts, t)
		}
	}
	if failures == len(images) {
		return Recognition{Warnings: warnings}, common.OCRFailure(fmt.Errorf("tesseract failed on every page"))
	}

	rec := Recognition{
		Text:     strings.Join(texts, "\n"),
		Pages:    len(images),
		Segments: len(images),
		Warnings: warnings,
		Degraded: len(warnings) > 0,
	}
	rec.NoText = rec.Text == ""
	if len(images) > 0 {
		rec.Confidence = confSum / float32(len(images))
	}
	return rec, nil
}
