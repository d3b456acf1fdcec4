package model

import (
	"path"
	"strings"
	"time"
)

// DocumentFormat discriminates how a stored document must be prepared before
// it can be stamped.
type DocumentFormat string

const (
	// FormatPDF is a paged binary document; it is stamped as-is.
	FormatPDF DocumentFormat = "pdf"
	// FormatSVG is vector markup; it has to be converted to PDF first.
	FormatSVG DocumentFormat = "svg"
)

// Document represents a stored file in the system.
// This is a pure domain model with no database-specific dependencies or tags.
// It can be used across layers (HTTP, service, storage) without coupling to persistence.
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storage_path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Format derives the document format from its storage locator. The stored
// content type is client supplied at upload time and is not consulted.
func (d Document) Format() DocumentFormat {
	return FormatFromLocator(d.StoragePath)
}

// FormatFromLocator maps a storage key to a DocumentFormat by extension.
// Anything that is not SVG markup is treated as PDF.
func FormatFromLocator(locator string) DocumentFormat {
	if strings.EqualFold(path.Ext(locator), ".svg") {
		return FormatSVG
	}
	return FormatPDF
}
