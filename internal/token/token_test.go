package token_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"whatsapp-campaign/internal/models"
	"whatsapp-campaign/internal/token"
)

func TestNext(t *testing.T) {
	recipients := []models.Recipient{
		{Phone: "+1", Date: "2026-09-01", Token: 1},
		{Phone: "+2", Date: "2026-09-01", Token: 2},
		{Phone: "+3", Date: "2026-09-02", Token: 1},
		{Phone: "+4", Date: "2026-09-02"},
	}

	t.Run("scoped to date", func(t *testing.T) {
		assert.Equal(t, 3, token.Next(recipients, "2026-09-01"))
		assert.Equal(t, 2, token.Next(recipients, "2026-09-02"))
	})

	t.Run("fresh date starts at one", func(t *testing.T) {
		assert.Equal(t, 1, token.Next(recipients, "2026-09-03"))
	})

	t.Run("empty date scopes globally", func(t *testing.T) {
		assert.Equal(t, 3, token.Next(recipients, ""))
	})

	t.Run("empty list starts at one", func(t *testing.T) {
		assert.Equal(t, 1, token.Next(nil, "2026-09-01"))
	})
}
