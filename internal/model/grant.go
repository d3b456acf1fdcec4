package model

import "time"

// AccessGrant is one recipient's right to print a specific document a limited
// number of times. Grants are created by the assignment workflow; this
// service only reads them and decrements RemainingPrints.
type AccessGrant struct {
	ID              string    `json:"id"`
	Token           string    `json:"-"`
	DocumentID      string    `json:"document_id"`
	OwnerID         string    `json:"user_id"`
	RemainingPrints int       `json:"remaining_prints"`
	ExpiresAt       time.Time `json:"expires_at"`
	// WatermarkText is the operator supplied base string; empty means the
	// configured default.
	WatermarkText string    `json:"watermark_text,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	// Document is the joined target document, nil when the row is missing.
	Document *Document `json:"document,omitempty"`
}

// Expired reports whether the grant can no longer be used at instant now.
func (g AccessGrant) Expired(now time.Time) bool {
	return !g.ExpiresAt.After(now)
}

// PrintLogEntry is the append-only audit record written once per authorized print.
type PrintLogEntry struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	OwnerID    string    `json:"user_id"`
	Token      string    `json:"-"`
	ClientIP   string    `json:"client_ip"`
	UserAgent  string    `json:"user_agent"`
	PrintedAt  time.Time `json:"printed_at"`
}
