// Package phone canonicalizes phone numbers and matches transport sender
// ids against stored recipients.
package phone

import (
	"strings"

	"whatsapp-campaign/internal/models"
)

// Normalize strips everything but digits, keeping a single leading plus
// if present.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	plus := strings.HasPrefix(raw, "+")

	var b strings.Builder
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	if plus {
		return "+" + b.String()
	}
	return b.String()
}

// Digits strips every non-digit character, including a leading plus.
func Digits(raw string) string {
	var b strings.Builder
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// SenderDigits extracts the phone digits from a transport sender id. A JID
// from a linked device carries a device suffix in its user part
// ("919876543210:7@s.whatsapp.net"); the server and device parts are
// dropped before digit extraction so the device number never bleeds into
// the phone.
func SenderDigits(senderID string) string {
	if i := strings.IndexByte(senderID, '@'); i >= 0 {
		senderID = senderID[:i]
	}
	if i := strings.IndexByte(senderID, ':'); i >= 0 {
		senderID = senderID[:i]
	}
	return Digits(senderID)
}

// MatchSender resolves a transport sender id (a JID like
// "919876543210@s.whatsapp.net") to a stored recipient. Transport ids often
// carry country-code digits the operator never typed, so the stored phone is
// matched as a suffix of the sender digits. When several stored phones
// satisfy the suffix relation the longest one wins, so "+0123" beats "123";
// equal lengths fall back to first-in-list.
func MatchSender(senderID string, recipients []models.Recipient) *models.Recipient {
	sender := SenderDigits(senderID)
	if sender == "" {
		return nil
	}

	var (
		best    *models.Recipient
		bestLen int
	)
	for i := range recipients {
		digits := Digits(recipients[i].Phone)
		if digits == "" || !strings.HasSuffix(sender, digits) {
			continue
		}
		if len(digits) > bestLen {
			best = &recipients[i]
			bestLen = len(digits)
		}
	}
	return best
}
