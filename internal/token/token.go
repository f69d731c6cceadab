// Package token assigns sequential booking numbers.
package token

import "whatsapp-campaign/internal/models"

// Next returns the next unused token within the given date scope: one more
// than the highest token already assigned to a recipient with the same date.
// An empty date scopes globally over all recipients. Tokens start at 1 and
// are dense in order of confirmation. Callers must serialize allocations
// against a current snapshot; two calls over the same stale list can hand
// out the same number.
func Next(recipients []models.Recipient, date string) int {
	max := 0
	for _, r := range recipients {
		if date != "" && r.Date != date {
			continue
		}
		if r.Token > max {
			max = r.Token
		}
	}
	return max + 1
}
