// Package pdftest builds small, valid PDF files with exact page sizes and
// inspects their content streams. It is meant for tests only.
package pdftest

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Size is a page size in PDF points.
type Size struct {
	Width  float64
	Height float64
}

// A4 and Letter in points.
var (
	A4     = Size{Width: 595.28, Height: 841.89}
	Letter = Size{Width: 612, Height: 792}
)

// Build returns a PDF with one blank page per size. With no sizes it returns a
// single A4 page.
func Build(sizes ...Size) []byte {
	if len(sizes) == 0 {
		sizes = []Size{A4}
	}

	// Object layout: 1 catalog, 2 pages, then (page, content) pairs.
	objects := make([]string, 0, 2+2*len(sizes))
	kids := make([]string, 0, len(sizes))
	for i := range sizes {
		kids = append(kids, fmt.Sprintf("%d 0 R", 3+2*i))
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(sizes)),
	)
	for i, s := range sizes {
		content := fmt.Sprintf("0.9 g 0 0 %s %s re f", num(s.Width), num(s.Height))
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %s %s] /Resources << >> /Contents %d 0 R >>",
				num(s.Width), num(s.Height), 4+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func num(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}

// ContainsText reports whether s appears in pdf, either in the raw bytes or in
// any Flate-compressed stream, as a literal or hex string.
func ContainsText(pdf []byte, s string) bool {
	needles := [][]byte{
		[]byte(s),
		[]byte(strings.ToUpper(hex.EncodeToString([]byte(s)))),
		[]byte(hex.EncodeToString([]byte(s))),
	}
	haystacks := append([][]byte{pdf}, Streams(pdf)...)
	for _, h := range haystacks {
		for _, n := range needles {
			if bytes.Contains(h, n) {
				return true
			}
		}
	}
	return false
}

// Streams returns the decoded content of every stream in pdf that inflates
// cleanly. Streams that are not Flate-compressed are skipped.
func Streams(pdf []byte) [][]byte {
	var out [][]byte
	rest := pdf
	for {
		i := bytes.Index(rest, []byte("stream"))
		if i < 0 {
			return out
		}
		// Skip the "stream" inside "endstream".
		if i >= 3 && string(rest[i-3:i]) == "end" {
			rest = rest[i+len("stream"):]
			continue
		}
		body := rest[i+len("stream"):]
		body = bytes.TrimLeft(body, "\r")
		body = bytes.TrimPrefix(body, []byte("\n"))
		end := bytes.Index(body, []byte("endstream"))
		if end < 0 {
			return out
		}
		if data, err := inflate(body[:end]); err == nil {
			out = append(out, data)
		}
		rest = body[end+len("endstream"):]
	}
}

func inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil && len(data) == 0 {
		return nil, err
	}
	return data, nil
}
