package models

import "time"

// DefaultName is used when a recipient row has no name column.
const DefaultName = "User"

// Recipient is one person tracked by phone number for the campaign and
// the appointment flow. Phone is the canonical key.
type Recipient struct {
	Name                string
	Phone               string
	Sent                bool
	Date                string // ISO date, empty = no date chosen
	Token               int    // 0 = no token assigned
	Cancelled           bool
	PendingCancellation bool
}

// HasToken reports whether a booking token has been assigned.
func (r *Recipient) HasToken() bool {
	return r.Token > 0
}

// ResponseValue is the recorded answer to the campaign message.
type ResponseValue string

const (
	ResponseYes ResponseValue = "YES"
	ResponseNo  ResponseValue = "NO"
)

// Response is one row of the append-only response log.
type Response struct {
	Name      string
	Phone     string
	Response  ResponseValue
	Timestamp time.Time
}

// Media is an optional attachment sent with the campaign message.
type Media struct {
	Path     string
	MimeType string
}

// Status mirrors the connection state artifact written by the transport:
// a pending QR code (as a PNG data URL) and whether a session is live.
type Status struct {
	QR        *string `json:"qr"`
	Connected bool    `json:"connected"`
}
