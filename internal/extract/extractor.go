package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/joseph-ayodele/cv-screener/constants"
	"github.com/joseph-ayodele/cv-screener/internal/common"
	"github.com/joseph-ayodele/cv-screener/internal/ocr"
)

// Extractor runs native extraction first and falls back to OCR for PDFs whose text layer
// is missing or too thin. Images go straight to OCR.
type Extractor struct {
	parsers  map[constants.Format]NativeParser
	ocr      Recognizer
	minChars int
	logger   *slog.Logger
}

var _ TextExtractor = (*Extractor)(nil)

type ExtractorOption func(*Extractor)

// WithParser registers or replaces the native parser for a format.
func WithParser(f constants.Format, p NativeParser) ExtractorOption {
	return func(e *Extractor) { e.parsers[f] = p }
}

// WithMinNativeChars sets the non-whitespace character count native text must reach.
func WithMinNativeChars(n int) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.minChars = n
		}
	}
}

// NewExtractor builds an extractor with TXT and DOCX parsers. Register a PDF parser with WithParser.
// recognizer may be nil, in which case images fail and thin PDFs keep their native text.
func NewExtractor(recognizer Recognizer, logger *slog.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{
		parsers: map[constants.Format]NativeParser{
			constants.TXT:  PlainTextParser{},
			constants.DOCX: DOCXParser{},
		},
		ocr:      recognizer,
		minChars: constants.MinNativeChars,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CountMeaningful returns the number of non-whitespace runes in s.
func CountMeaningful(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

func (e *Extractor) Extract(ctx context.Context, doc Document) (Result, error) {
	start := time.Now()
	format := constants.ResolveFormat(doc.ContentType, filepath.Ext(doc.Filename))
	if format == "" {
		return Result{}, fmt.Errorf("%w: %q", common.ErrUnsupportedFormat, doc.ContentType)
	}
	if len(doc.Data) == 0 {
		return Result{}, common.InvalidInputf("document %q is empty", doc.Filename)
	}

	res := Result{Format: format}
	logger := e.logger.With("format", string(format), "filename", doc.Filename)
	logger.Debug("extract.start", "bytes", len(doc.Data))

	var err error
	switch format {
	case constants.IMAGE:
		err = e.recognize(ctx, doc, &res)
	case constants.PDF:
		err = e.extractPDF(ctx, doc, &res, logger)
	default:
		err = e.extractNative(ctx, doc, format, &res, logger)
	}
	if err != nil {
		logger.Error("extract.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return Result{}, err
	}

	res.Text = strings.TrimSpace(res.Text)
	if res.Text == "" {
		res.Text = constants.NoTextDetected
		res.NoText = true
		res.Degraded = true
	}
	if res.Confidence == 0 && !res.NoText {
		res.Confidence = ocr.Confidence(res.Text)
	}
	res.Duration = time.Since(start)
	logger.Info("extract.ok",
		"method", string(res.Method),
		"pages", res.Pages,
		"chars", len(res.Text),
		"degraded", res.Degraded,
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// native runs the format's parser and applies the quality threshold.
// It returns ErrNativeExtractionInsufficient, along with the text, when the yield is too thin.
func (e *Extractor) native(ctx context.Context, format constants.Format, data []byte) (string, int, error) {
	p, ok := e.parsers[format]
	if !ok {
		return "", 0, fmt.Errorf("%w: no native parser for %s", common.ErrUnsupportedFormat, format)
	}
	text, pages, err := p.Parse(ctx, data)
	if err != nil {
		return "", 0, err
	}
	text = ocr.Normalize(text)
	if n := CountMeaningful(text); n < e.minChars {
		return text, pages, fmt.Errorf("%w: %d of %d characters", common.ErrNativeExtractionInsufficient, n, e.minChars)
	}
	return text, pages, nil
}

func (e *Extractor) extractPDF(ctx context.Context, doc Document, res *Result, logger *slog.Logger) error {
	text, pages, err := e.native(ctx, constants.PDF, doc.Data)
	res.NativeChars = CountMeaningful(text)
	if err == nil {
		res.Text, res.Pages, res.Method = text, pages, MethodNativePDF
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(err, common.ErrNativeExtractionInsufficient) {
		logger.Info("extract.native.insufficient", "native_chars", res.NativeChars, "min_chars", e.minChars)
	} else {
		logger.Warn("extract.native.failed", "error", err)
		res.Warnings = append(res.Warnings, "native pdf extraction failed: "+err.Error())
	}

	if e.ocr == nil {
		if text == "" {
			return common.OCRFailure(errors.New("no OCR provider configured"))
		}
		res.Text, res.Pages, res.Method = text, pages, MethodNativePDF
		res.Degraded = true
		res.Warnings = append(res.Warnings, "native text below threshold, OCR unavailable")
		return nil
	}
	return e.recognize(ctx, doc, res)
}

func (e *Extractor) extractNative(ctx context.Context, doc Document, format constants.Format, res *Result, logger *slog.Logger) error {
	text, pages, err := e.native(ctx, format, doc.Data)
	res.NativeChars = CountMeaningful(text)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrNativeExtractionInsufficient):
		logger.Info("extract.native.short", "native_chars", res.NativeChars)
		res.Degraded = true
		res.Warnings = append(res.Warnings, err.Error())
	default:
		return fmt.Errorf("%s extraction: %w", strings.ToLower(string(format)), err)
	}
	res.Text, res.Pages = text, pages
	if format == constants.DOCX {
		res.Method = MethodNativeDOCX
	} else {
		res.Method = MethodNativeTXT
	}
	return nil
}

// recognize makes the single OCR call for the document.
func (e *Extractor) recognize(ctx context.Context, doc Document, res *Result) error {
	if e.ocr == nil {
		return common.OCRFailure(errors.New("no OCR provider configured"))
	}
	contentType := doc.ContentType
	if ct := constants.NormalizeContentType(contentType); ct == "" || ct == constants.ContentTypeOct {
		contentType = constants.ContentTypeForExt(filepath.Ext(doc.Filename))
	}
	rec, err := e.ocr.Recognize(ctx, doc.Data, contentType)
	if err != nil {
		return err
	}
	res.Method = MethodOCR
	res.Text = rec.Text
	res.Pages = rec.Pages
	res.Confidence = rec.Confidence
	res.Warnings = append(res.Warnings, rec.Warnings...)
	res.Degraded = res.Degraded || rec.Degraded || rec.NoText || len(rec.Warnings) > 0
	return nil
}
