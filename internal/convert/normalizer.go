// Package convert turns stored documents into PDF. PDF sources pass through
// untouched; SVG sources are rendered by an external conversion delegate.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"printgate/internal/model"
)

// ErrConversionFailed is returned when the delegate cannot produce a PDF.
var ErrConversionFailed = errors.New("conversion failed")

// Converter renders SVG markup to a PDF with the given page size.
type Converter interface {
	Convert(ctx context.Context, svg []byte, size PageSize) ([]byte, error)
}

// Normalizer produces a PDF byte stream from a source document.
type Normalizer struct {
	conv    Converter
	log     *zap.Logger
	timeout time.Duration
}

func NewNormalizer(conv Converter, log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{conv: conv, log: log}
}

// WithTimeout bounds each delegate call.
func (n *Normalizer) WithTimeout(d time.Duration) *Normalizer {
	n.timeout = d
	return n
}

// Normalize returns data unchanged for PDF sources and the delegate's output
// for SVG sources. Any delegate error or empty output yields ErrConversionFailed.
func (n *Normalizer) Normalize(ctx context.Context, format model.DocumentFormat, data []byte) ([]byte, error) {
	if format != model.FormatSVG {
		return data, nil
	}

	size := ViewportSize(data)
	n.log.Debug("converting svg",
		zap.Float64("page_width_pt", size.Width),
		zap.Float64("page_height_pt", size.Height),
		zap.Int("bytes", len(data)),
	)

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	out, err := n.conv.Convert(ctx, data, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: delegate returned empty output", ErrConversionFailed)
	}
	return out, nil
}

// htmlPage wraps SVG markup in a minimal HTML document sized to one page.
func htmlPage(svg []byte, size PageSize) string {
	if i := bytes.Index(bytes.ToLower(svg), []byte("<svg")); i > 0 {
		svg = svg[i:]
	}
	w, h := size.Inches()
	var buf bytes.Buffer
	buf.WriteString(`<!DOCTYPE html><html><head><meta charset="UTF-8"><style>`)
	fmt.Fprintf(&buf, "@page{size:%.4fin %.4fin;margin:0}", w, h)
	buf.WriteString("html,body{margin:0;padding:0}")
	fmt.Fprintf(&buf, "svg{display:block;width:%.4fin;height:%.4fin}", w, h)
	buf.WriteString("</style></head><body>")
	buf.Write(svg)
	buf.WriteString("</body></html>")
	return buf.String()
}
