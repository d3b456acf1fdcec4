// Package enhance forwards rendered PDFs to an optional quality enhancement
// service. The proxy never fails: any problem leaves the input untouched.
package enhance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"printgate/internal/config"
)

const maxEnhancedBytes = 256 << 20

var pdfMagic = []byte("%PDF-")

// Proxy calls the enhancement delegate when enabled.
type Proxy struct {
	cfg      config.EnhancerConfig
	client   *http.Client
	log      *zap.Logger
	maxBytes int64
}

// NewProxy builds a proxy from an explicit configuration value. The client
// should carry tracing; the per-call timeout comes from cfg.Timeout.
func NewProxy(cfg config.EnhancerConfig, client *http.Client, log *zap.Logger) *Proxy {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Proxy{cfg: cfg, client: client, log: log, maxBytes: maxEnhancedBytes}
}

// Enabled reports whether the delegate will be called.
func (p *Proxy) Enabled() bool {
	return p.cfg.Enabled && p.cfg.Endpoint != ""
}

// Enhance returns the delegate's output, or pdf itself when the proxy is
// disabled or the delegate fails in any way.
func (p *Proxy) Enhance(ctx context.Context, pdf []byte) []byte {
	if !p.Enabled() {
		return pdf
	}
	out, err := p.call(ctx, pdf)
	if err != nil {
		p.log.Warn("enhancement skipped", zap.String("endpoint", p.cfg.Endpoint), zap.Error(err))
		return pdf
	}
	return out
}

func (p *Proxy) call(ctx context.Context, pdf []byte) ([]byte, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(pdf))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", "application/pdf")
	if name, value := authHeader(p.cfg); name != "" {
		req.Header.Set(name, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("delegate returned status %d", resp.StatusCode)
	}
	out, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(out)) > p.maxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", p.maxBytes)
	}
	if len(out) == 0 {
		return nil, errors.New("delegate returned empty body")
	}
	if !bytes.HasPrefix(bytes.TrimLeft(out, " \t\r\n"), pdfMagic) {
		return nil, errors.New("delegate returned non-pdf body")
	}
	return out, nil
}

func authHeader(cfg config.EnhancerConfig) (string, string) {
	if cfg.AuthHeaderName == "" || cfg.AuthHeaderValue == "" {
		return "", ""
	}
	value := cfg.AuthHeaderValue
	if strings.EqualFold(cfg.AuthHeaderName, "Authorization") && !strings.Contains(value, " ") {
		value = "Bearer " + value
	}
	return cfg.AuthHeaderName, value
}
