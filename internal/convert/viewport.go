package convert

import (
	"bytes"
	"encoding/xml"
	"math"
	"strconv"
	"strings"
)

// PageSize is a page size in PDF points (1/72 inch).
type PageSize struct {
	Width  float64
	Height float64
}

// A4 is used when an SVG carries no usable viewport.
var A4 = PageSize{Width: 595.28, Height: 841.89}

// Inches converts the size to inches, the unit conversion delegates expect.
func (p PageSize) Inches() (w, h float64) {
	return p.Width / 72, p.Height / 72
}

var unitPoints = map[string]float64{
	"":   1,
	"px": 1,
	"pt": 1,
	"in": 72,
	"cm": 72 / 2.54,
	"mm": 72 / 25.4,
}

// ViewportSize derives the output page size from the root <svg> element.
// Explicit width and height attributes win, then the viewBox dimensions, then A4.
func ViewportSize(svg []byte) PageSize {
	dec := xml.NewDecoder(bytes.NewReader(svg))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return A4
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !strings.EqualFold(start.Name.Local, "svg") {
			return A4
		}
		return rootSize(start.Attr)
	}
}

func rootSize(attrs []xml.Attr) PageSize {
	var width, height, viewBox string
	for _, a := range attrs {
		switch a.Name.Local {
		case "width":
			width = a.Value
		case "height":
			height = a.Value
		case "viewBox":
			viewBox = a.Value
		}
	}

	w, okW := parseLength(width)
	h, okH := parseLength(height)
	if okW && okH {
		return PageSize{Width: w, Height: h}
	}
	if vw, vh, ok := parseViewBox(viewBox); ok {
		return PageSize{Width: vw, Height: vh}
	}
	return A4
}

func parseLength(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || strings.HasSuffix(s, "%") {
		return 0, false
	}
	unit := ""
	for u := range unitPoints {
		if u != "" && strings.HasSuffix(s, u) {
			unit = u
			break
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, unit)), 64)
	if err != nil || !usable(v) {
		return 0, false
	}
	return v * unitPoints[unit], true
}

func parseViewBox(s string) (w, h float64, ok bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) != 4 {
		return 0, 0, false
	}
	w, errW := strconv.ParseFloat(fields[2], 64)
	h, errH := strconv.ParseFloat(fields[3], 64)
	if errW != nil || errH != nil || !usable(w) || !usable(h) {
		return 0, 0, false
	}
	return w, h, true
}

func usable(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
