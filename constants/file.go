package constants

import (
	"mime"
	"strings"
)

// Format is the extraction strategy family for a document.
type Format string

const (
	PDF   Format = "PDF"
	IMAGE Format = "IMAGE"
	TXT   Format = "TXT"
	DOCX  Format = "DOCX"
)

// FileTypes holds the formats the extractor knows how to handle.
var FileTypes = []Format{PDF, IMAGE, TXT, DOCX}

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeTXT  = "text/plain"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
	ContentTypeOct  = "application/octet-stream"
)

const (
	// MaxUploadBytes caps a single uploaded document.
	MaxUploadBytes = 15 << 20
	// MaxOCRSegmentBytes is the per-request payload limit of the vision service.
	MaxOCRSegmentBytes = 10 << 20
	// MinNativeChars is the non-whitespace character count below which native text is treated as a scan.
	MinNativeChars = 100
	// NoTextDetected replaces an empty extraction result.
	NoTextDetected = "No text detected"
)

// AllowedExtensions holds the file extensions accepted for ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"txt":  {},
	"docx": {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
	"gif":  {},
	"bmp":  {},
	"tif":  {},
	"tiff": {},
}

var contentTypeFormats = map[string]Format{
	ContentTypePDF:  PDF,
	ContentTypeTXT:  TXT,
	"text/markdown": TXT,
	ContentTypeDOCX: DOCX,
	ContentTypeJPEG: IMAGE,
	"image/jpg":     IMAGE,
	ContentTypePNG:  IMAGE,
	"image/webp":    IMAGE,
	"image/gif":     IMAGE,
	"image/bmp":     IMAGE,
	"image/tiff":    IMAGE,
}

var extContentTypes = map[string]string{
	"pdf":  ContentTypePDF,
	"txt":  ContentTypeTXT,
	"md":   "text/markdown",
	"docx": ContentTypeDOCX,
	"jpg":  ContentTypeJPEG,
	"jpeg": ContentTypeJPEG,
	"png":  ContentTypePNG,
	"webp": "image/webp",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// NormalizeContentType strips parameters ("; charset=utf-8") and lowercases.
func NormalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// MapExtToFormat returns the format for a normalized extension, or "" if unsupported.
func MapExtToFormat(ext string) Format {
	ct, ok := extContentTypes[NormalizeExt(ext)]
	if !ok {
		return ""
	}
	return contentTypeFormats[ct]
}

// ContentTypeForExt guesses a MIME type from an extension; octet-stream when unknown.
func ContentTypeForExt(ext string) string {
	if ct, ok := extContentTypes[NormalizeExt(ext)]; ok {
		return ct
	}
	return ContentTypeOct
}

// ResolveFormat picks the extraction format from the content type, falling back to the
// filename extension when the content type is missing or generic.
func ResolveFormat(contentType, ext string) Format {
	ct := NormalizeContentType(contentType)
	if f, ok := contentTypeFormats[ct]; ok {
		return f
	}
	if ct == "" || ct == ContentTypeOct {
		return MapExtToFormat(ext)
	}
	return ""
}
