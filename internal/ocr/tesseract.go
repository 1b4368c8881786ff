package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ImageResult is the outcome of running tesseract on one image.
type ImageResult struct {
	Text       string
	Confidence float32
	Warnings   []string
}

// Tesseract OCRs a single raster image. ext is the file extension hint (".png", ".jpg").
func (t *Tools) Tesseract(ctx context.Context, image []byte, ext string) (ImageResult, error) {
	if ext == "" {
		ext = ".png"
	}
	path, cleanup, err := writeTemp(image, ext)
	if err != nil {
		return ImageResult{}, err
	}
	defer cleanup()

	txt, warn, err := t.tesseractOCR(ctx, path)
	if err != nil {
		return ImageResult{Warnings: warn}, err
	}
	txt = Normalize(txt)

	var ocrConf float32
	if t.cfg.EnableTSVConfidence {
		if c, err2 := t.tesseractTSVConfidence(ctx, path); err2 == nil {
			ocrConf = c
		} else {
			warn = append(warn, err2.Error())
		}
	}
	heurConf := Confidence(txt)

	// weight OCR higher if present
	conf := heurConf
	if ocrConf > 0 {
		conf = 0.7*ocrConf + 0.3*heurConf
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return ImageResult{Text: txt, Confidence: conf, Warnings: warn}, nil
}

func (t *Tools) baseArgs(path string) []string {
	args := []string{path, "stdout", "-l", t.cfg.TesseractLang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	return args
}

func (t *Tools) tesseractOCR(ctx context.Context, path string) (string, []string, error) {
	// tesseract <file> stdout -l <lang>
	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, t.baseArgs(path)...)
	if err != nil {
		return "", []string{truncate(string(errb), 512)}, fmt.Errorf("tesseract: %w", err)
	}
	return reBoxNoise.ReplaceAllString(string(out), ""), nil, nil
}

// tesseractTSVConfidence runs tesseract in TSV mode and returns mean word conf in 0..1.
func (t *Tools) tesseractTSVConfidence(ctx context.Context, path string) (float32, error) {
	args := append(t.baseArgs(path), "tsv")
	out, _, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		return 0, fmt.Errorf("tesseract TSV: %w", err)
	}
	return meanTSVConfidence(string(out)), nil
}

func meanTSVConfidence(tsv string) float32 {
	var sum, n float64
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || ln == "" {
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[10]
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil && v >= 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float32(sum / n / 100.0)
}
