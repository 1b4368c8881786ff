package extract

import (
	"context"
	"time"

	"github.com/joseph-ayodele/cv-screener/constants"
)

// Document is an uploaded file held in memory.
type Document struct {
	Data        []byte
	ContentType string
	Filename    string
}

// TextExtractor turns a document into text.
type TextExtractor interface {
	Extract(ctx context.Context, doc Document) (Result, error)
}

// Method names how the final text was produced.
type Method string

const (
	MethodNativePDF  Method = "native-pdf"
	MethodNativeTXT  Method = "native-txt"
	MethodNativeDOCX Method = "native-docx"
	MethodOCR        Method = "ocr"
)

type Result struct {
	Text        string
	Format      constants.Format
	Method      Method
	Pages       int
	NativeChars int // non-whitespace characters the native parser produced
	Degraded    bool
	NoText      bool
	Warnings    []string
	Confidence  float32
	Duration    time.Duration
}

// NativeParser extracts the embedded text of one format.
type NativeParser interface {
	Parse(ctx context.Context, data []byte) (text string, pages int, err error)
}

// Recognition is the outcome of one OCR call over a whole document.
type Recognition struct {
	Text       string
	Pages      int
	Segments   int
	NoText     bool
	Degraded   bool
	Warnings   []string
	Confidence float32
}

// Recognizer performs OCR. It is called at most once per document.
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, contentType string) (Recognition, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, data []byte, contentType string) (Recognition, error)

func (f RecognizerFunc) Recognize(ctx context.Context, data []byte, contentType string) (Recognition, error) {
	return f(ctx, data, contentType)
}
