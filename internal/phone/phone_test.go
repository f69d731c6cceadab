package phone_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-campaign/internal/models"
	"whatsapp-campaign/internal/phone"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "+9876543210", phone.Normalize("+98 765-432 10"))
	assert.Equal(t, "9876543210", phone.Normalize("(987) 654-3210"))
	assert.Equal(t, "+919876543210", phone.Normalize(" +91 98765 43210 "))
	assert.Equal(t, "", phone.Normalize("n/a"))
}

func TestDigits(t *testing.T) {
	assert.Equal(t, "9876543210", phone.Digits("+9876543210"))
	assert.Equal(t, "919876543210", phone.Digits("919876543210@s.whatsapp.net"))
	assert.Equal(t, "", phone.Digits("@broadcast"))
}

func TestSenderDigits(t *testing.T) {
	assert.Equal(t, "919876543210", phone.SenderDigits("919876543210@s.whatsapp.net"))
	// Linked devices append :device to the user part; it must not leak
	// into the phone digits.
	assert.Equal(t, "919876543210", phone.SenderDigits("919876543210:7@s.whatsapp.net"))
	assert.Equal(t, "919876543210", phone.SenderDigits("+91 98765 43210"))
	assert.Equal(t, "", phone.SenderDigits("@broadcast"))
}

func TestMatchSender(t *testing.T) {
	recipients := []models.Recipient{
		{Name: "Alice", Phone: "+9876543210"},
		{Name: "Bob", Phone: "+1234567890"},
	}

	t.Run("sender id with extra country digits matches by suffix", func(t *testing.T) {
		m := phone.MatchSender("919876543210@s.whatsapp.net", recipients)
		require.NotNil(t, m)
		assert.Equal(t, "Alice", m.Name)
	})

	t.Run("device-suffixed sender id matches its stored phone", func(t *testing.T) {
		stored := []models.Recipient{{Name: "Alice", Phone: "+919876543210"}}
		m := phone.MatchSender("919876543210:7@s.whatsapp.net", stored)
		require.NotNil(t, m)
		assert.Equal(t, "Alice", m.Name)
	})

	t.Run("non-matching sender resolves to nil", func(t *testing.T) {
		assert.Nil(t, phone.MatchSender("5550000000@s.whatsapp.net", recipients))
	})

	t.Run("longest stored phone wins when one is a suffix of another", func(t *testing.T) {
		ambiguous := []models.Recipient{
			{Name: "Short", Phone: "543210"},
			{Name: "Long", Phone: "+9876543210"},
		}
		m := phone.MatchSender("919876543210@s.whatsapp.net", ambiguous)
		require.NotNil(t, m)
		assert.Equal(t, "Long", m.Name)
	})

	t.Run("empty sender never matches", func(t *testing.T) {
		assert.Nil(t, phone.MatchSender("@s.whatsapp.net", recipients))
	})
}
