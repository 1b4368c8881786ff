// Package ocr wraps the local poppler and tesseract binaries used for native PDF text,
// page rendering and offline OCR.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string
	DPI           int // rasterization DPI for scanned PDFs, default 300
	MaxPages      int // 0 = no limit

	EnableTSVConfidence bool
	PSM                 int // e.g., 6 is good for uniform block of text
	OEM                 int // 1 = LSTM; leave 0 to use default
}

// Tools runs the external binaries on in-memory documents through temp files.
type Tools struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

type Option func(*Tools)

// WithRunner replaces the exec runner (tests).
func WithRunner(r Runner) Option {
	return func(t *Tools) {
		if r != nil {
			t.runner = r
		}
	}
}

func NewTools(cfg Config, logger *slog.Logger, opts ...Option) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	t := &Tools{cfg: cfg, logger: logger}
	t.runner = execRunner{logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// PDFText returns the embedded text layer of a PDF with pages in order, and the page count.
func (t *Tools) PDFText(ctx context.Context, data []byte) (string, int, error) {
	start := time.Now()
	path, cleanup, err := writeTemp(data, ".pdf")
	if err != nil {
		return "", 0, err
	}
	defer cleanup()

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := t.runner.Run(ctx, t.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", 0, fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
	}

	// form feed separates pages; the last page is followed by one as well
	raw := strings.TrimSuffix(string(out), "\f")
	pages := strings.Split(raw, "\f")
	for i := range pages {
		pages[i] = Normalize(pages[i])
	}
	text := strings.TrimSpace(strings.Join(pages, "\n\n"))

	t.logger.Debug("ocr.pdftotext.ok", "pages", len(pages), "chars", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return text, len(pages), nil
}

// RenderPages rasterizes every PDF page to PNG and returns the images in page order.
func (t *Tools) RenderPages(ctx context.Context, data []byte) ([][]byte, error) {
	tmpDir, err := os.MkdirTemp("", "cvs-pp-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			t.logger.Warn("failed to remove temp dir", "path", tmpDir, "error", err)
		}
	}()

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, err
	}
	prefix := filepath.Join(tmpDir, "page")

	args := []string{"-r", strconv.Itoa(t.cfg.DPI), "-png"}
	if t.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(t.cfg.MaxPages))
	}
	args = append(args, in, prefix)

	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	if _, errb, err := t.runner.Run(ctx, t.cfg.Pdftoppm, args...); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// prefix-1.png, prefix-2.png, ... (zero padded for large documents)
	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images")
	}
	sort.Slice(matches, func(i, j int) bool { return pageNumber(matches[i]) < pageNumber(matches[j]) })
	if t.cfg.MaxPages > 0 && len(matches) > t.cfg.MaxPages {
		matches = matches[:t.cfg.MaxPages]
	}

	images := make([][]byte, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		images = append(images, b)
	}
	t.logger.Debug("ocr.pdftoppm.ok", "pages", len(images))
	return images, nil
}

func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	i := strings.LastIndex(base, "-")
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 0
	}
	return n
}

func writeTemp(data []byte, ext string) (string, func(), error) {
	f, err := os.CreateTemp("", "cvs-*"+ext)
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}
