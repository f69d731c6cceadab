package dispatch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-campaign/internal/dispatch"
	"whatsapp-campaign/internal/models"
	"whatsapp-campaign/internal/storage"
)

type sentCall struct {
	phone string
	text  string
	media *models.Media
}

type fakeTransport struct {
	mu         sync.Mutex
	offNetwork map[string]bool
	failing    map[string]bool
	gate       chan struct{}
	entered    chan struct{}
	enterOnce  sync.Once
	sent       []sentCall
}

func (f *fakeTransport) IsRegistered(ctx context.Context, phone string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.offNetwork[phone], nil
}

func (f *fakeTransport) Send(ctx context.Context, phone, text string, media *models.Media) error {
	if f.gate != nil {
		f.enterOnce.Do(func() { close(f.entered) })
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[phone] {
		return errors.New("transport down")
	}
	f.sent = append(f.sent, sentCall{phone: phone, text: text, media: media})
	return nil
}

func (f *fakeTransport) calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.sent...)
}

func newDispatcher(t *testing.T, transport dispatch.Transport, cfg dispatch.Config) (*dispatch.Dispatcher, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.SetMessageText("Please book your appointment."))
	return dispatch.NewDispatcher(store, transport, cfg, zerolog.Nop()), store
}

func TestRunSendsOncePerRecipient(t *testing.T) {
	transport := &fakeTransport{}
	d, store := newDispatcher(t, transport, dispatch.Config{})
	require.NoError(t, store.Save([]models.Recipient{
		{Name: "Alice", Phone: "+9876543210"},
		{Name: "Bob", Phone: "+1234567890", Sent: true},
		{Name: "Carol", Phone: "+5550001111", Cancelled: true},
	}))

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.Result{Sent: 1}, res)

	calls := transport.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "+9876543210", calls[0].phone)
	assert.Contains(t, calls[0].text, "Hi Alice,")
	assert.Contains(t, calls[0].text, "Please book your appointment.")
	assert.Contains(t, calls[0].text, "1️⃣ Yes")

	recipients, err := store.Load()
	require.NoError(t, err)
	assert.True(t, recipients[0].Sent)

	// Second pass with everything marked sends to nobody.
	res, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.Result{}, res)
	assert.Len(t, transport.calls(), 1)
}

func TestRunSkipsUnreachable(t *testing.T) {
	transport := &fakeTransport{offNetwork: map[string]bool{"+1234567890": true}}
	d, store := newDispatcher(t, transport, dispatch.Config{})
	require.NoError(t, store.Save([]models.Recipient{
		{Name: "Alice", Phone: "+9876543210"},
		{Name: "Bob", Phone: "+1234567890"},
	}))

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.Result{Sent: 1, Skipped: 1}, res)

	recipients, err := store.Load()
	require.NoError(t, err)
	assert.True(t, recipients[0].Sent)
	// Unreachable recipients stay pending and are retried next run.
	assert.False(t, recipients[1].Sent)
}

func TestRunIsolatesFailures(t *testing.T) {
	transport := &fakeTransport{failing: map[string]bool{"+9876543210": true}}
	d, store := newDispatcher(t, transport, dispatch.Config{})
	require.NoError(t, store.Save([]models.Recipient{
		{Name: "Alice", Phone: "+9876543210"},
		{Name: "Bob", Phone: "+1234567890"},
	}))

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.Result{Sent: 1, Failed: 1}, res)

	recipients, err := store.Load()
	require.NoError(t, err)
	assert.False(t, recipients[0].Sent)
	assert.True(t, recipients[1].Sent)
}

func TestRunAssignsCampaignTokens(t *testing.T) {
	transport := &fakeTransport{}
	d, store := newDispatcher(t, transport, dispatch.Config{AssignTokens: true})
	require.NoError(t, store.Save([]models.Recipient{
		{Name: "Alice", Phone: "+9876543210"},
		{Name: "Bob", Phone: "+1234567890"},
	}))

	_, err := d.Run(context.Background())
	require.NoError(t, err)

	calls := transport.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].text, "token is: 1")
	assert.Contains(t, calls[1].text, "token is: 2")

	recipients, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, recipients[0].Token)
	assert.Equal(t, 2, recipients[1].Token)
}

func TestRunReusesTokenAfterFailedSend(t *testing.T) {
	transport := &fakeTransport{failing: map[string]bool{"+9876543210": true}}
	d, store := newDispatcher(t, transport, dispatch.Config{AssignTokens: true})
	require.NoError(t, store.Save([]models.Recipient{
		{Name: "Alice", Phone: "+9876543210"},
	}))

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.Result{Failed: 1}, res)

	// The token was committed before the send attempt; the failure only
	// leaves the recipient unmarked.
	recipients, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, recipients[0].Token)
	assert.False(t, recipients[0].Sent)

	transport.mu.Lock()
	transport.failing["+9876543210"] = false
	transport.mu.Unlock()

	res, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.Result{Sent: 1}, res)

	calls := transport.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].text, "token is: 1")

	recipients, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, recipients[0].Token)
	assert.True(t, recipients[0].Sent)
}

func TestRunAttachesMedia(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.SetMessageText("See the attached flyer."))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "media.png"), []byte("png"), 0644))
	require.NoError(t, store.Save([]models.Recipient{{Name: "Alice", Phone: "+9876543210"}}))

	transport := &fakeTransport{}
	d := dispatch.NewDispatcher(store, transport, dispatch.Config{}, zerolog.Nop())

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)

	calls := transport.calls()
	require.NotNil(t, calls[0].media)
	assert.Equal(t, "image/png", calls[0].media.MimeType)
}

func TestRunRejectsOverlap(t *testing.T) {
	transport := &fakeTransport{gate: make(chan struct{}), entered: make(chan struct{})}
	d, store := newDispatcher(t, transport, dispatch.Config{})
	require.NoError(t, store.Save([]models.Recipient{{Name: "Alice", Phone: "+9876543210"}}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := d.Run(context.Background())
		assert.NoError(t, err)
	}()

	// Wait until the first run is parked inside Send; a second run must
	// then refuse to start.
	<-transport.entered
	_, err := d.Run(context.Background())
	assert.ErrorIs(t, err, dispatch.ErrRunInProgress)

	close(transport.gate)
	<-done
}
