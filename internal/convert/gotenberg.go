package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

const gotenbergRoute = "/forms/chromium/convert/html"

// maxConvertedBytes caps the delegate's response body.
const maxConvertedBytes = 256 << 20

// Gotenberg converts SVG through a Gotenberg-compatible HTTP delegate.
type Gotenberg struct {
	endpoint string
	client   *http.Client
	maxBytes int64
}

// NewGotenberg returns a converter posting to endpoint. The client carries
// timeouts and tracing; nil uses http.DefaultClient.
func NewGotenberg(endpoint string, client *http.Client) *Gotenberg {
	if client == nil {
		client = http.DefaultClient
	}
	return &Gotenberg{endpoint: strings.TrimRight(endpoint, "/"), client: client, maxBytes: maxConvertedBytes}
}

func (g *Gotenberg) Convert(ctx context.Context, svg []byte, size PageSize) ([]byte, error) {
	body, contentType, err := gotenbergForm(svg, size)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+gotenbergRoute, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call delegate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("delegate returned status %d", resp.StatusCode)
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read delegate response: %w", err)
	}
	if int64(len(out)) > g.maxBytes {
		return nil, fmt.Errorf("delegate response exceeds %d bytes", g.maxBytes)
	}
	return out, nil
}

func gotenbergForm(svg []byte, size PageSize) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.WriteString(part, htmlPage(svg, size)); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}

	w, h := size.Inches()
	fields := [][2]string{
		{"paperWidth", strconv.FormatFloat(w, 'f', 4, 64)},
		{"paperHeight", strconv.FormatFloat(h, 'f', 4, 64)},
		{"marginTop", "0"},
		{"marginBottom", "0"},
		{"marginLeft", "0"},
		{"marginRight", "0"},
		{"printBackground", "true"},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
