package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/busybox42/mailfixture/internal/fixture"
	"github.com/busybox42/mailfixture/internal/logging"
	"github.com/busybox42/mailfixture/internal/mailhog"
	"github.com/busybox42/mailfixture/internal/message"
	"github.com/busybox42/mailfixture/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource returns whatever message was set last
type fakeSource struct {
	mu    sync.Mutex
	msg   *store.Message
	err   error
	calls int
}

func (f *fakeSource) Latest(_ context.Context) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.msg == nil {
		return nil, mailhog.ErrNoMessages
	}
	return f.msg, nil
}

func (f *fakeSource) set(msg *store.Message, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msg, f.err = msg, err
}

func capture(t *testing.T, f fixture.Fixture) *store.Message {
	t.Helper()

	composed, err := message.Compose(f, "localhost")
	require.NoError(t, err)
	msg, err := store.Parse(composed.Data, store.Envelope{From: composed.From, To: composed.To})
	require.NoError(t, err)
	return msg
}

func newTestWatcher(t *testing.T, config Config, source Source) (*Watcher, *[]Event) {
	t.Helper()

	var events []Event
	w, err := New(config, source, func(e Event) { events = append(events, e) }, logging.Discard())
	require.NoError(t, err)
	return w, &events
}

func TestNew(t *testing.T) {
	_, err := New(DefaultConfig(), nil, func(Event) {}, nil)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), &fakeSource{}, nil, nil)
	assert.Error(t, err)

	w, err := New(Config{}, &fakeSource{}, func(Event) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, "@every 2s", w.Schedule())
	assert.Equal(t, fixture.DefaultTo, w.config.Recipient)
}

func TestPoll(t *testing.T) {
	source := &fakeSource{}
	w, events := newTestWatcher(t, DefaultConfig(), source)
	ctx := context.Background()

	// Empty mailbox primes the watcher
	assert.Equal(t, KindEmpty, w.Poll(ctx).Kind)

	first := capture(t, fixture.Default())
	source.set(first, nil)

	event := w.Poll(ctx)
	require.Equal(t, KindNew, event.Kind)
	assert.Equal(t, first.ID, event.Message.ID)
	require.NotNil(t, event.Census)
	assert.Equal(t, 2, event.Census.OuterH1)
	assert.Equal(t, 1, event.Census.Forms)

	// Same message again
	assert.Equal(t, KindUnchanged, w.Poll(ctx).Kind)

	other := fixture.Default()
	other.To = "someone@else.test"
	source.set(capture(t, other), nil)

	event = w.Poll(ctx)
	assert.Equal(t, KindSkipped, event.Kind)
	assert.Contains(t, event.Reason, "not addressed to test@local.test")

	source.set(nil, errors.New("connection refused"))
	event = w.Poll(ctx)
	assert.Equal(t, KindError, event.Kind)
	assert.EqualError(t, event.Err, "connection refused")

	assert.Len(t, *events, 5)
}

func TestPollBaseline(t *testing.T) {
	existing := capture(t, fixture.Default())

	t.Run("Existing message is the baseline", func(t *testing.T) {
		source := &fakeSource{msg: existing}
		w, _ := newTestWatcher(t, DefaultConfig(), source)

		assert.Equal(t, KindUnchanged, w.Poll(context.Background()).Kind)

		next := capture(t, fixture.Default())
		source.set(next, nil)
		assert.Equal(t, KindNew, w.Poll(context.Background()).Kind)
	})

	t.Run("Include existing", func(t *testing.T) {
		config := DefaultConfig()
		config.IncludeExisting = true
		w, _ := newTestWatcher(t, config, &fakeSource{msg: existing})

		assert.Equal(t, KindNew, w.Poll(context.Background()).Kind)
	})
}

func TestPollWithoutHTML(t *testing.T) {
	config := DefaultConfig()
	config.IncludeExisting = true

	msg := &store.Message{
		ID:      "plain",
		To:      []*store.Path{{Mailbox: "test", Domain: "local.test"}},
		Content: &store.Content{Body: "   "},
	}
	w, _ := newTestWatcher(t, config, &fakeSource{msg: msg})

	event := w.Poll(context.Background())
	assert.Equal(t, KindSkipped, event.Kind)
	assert.Equal(t, "no HTML content", event.Reason)
}

func TestRun(t *testing.T) {
	source := &fakeSource{}

	var mu sync.Mutex
	var kinds []Kind
	config := DefaultConfig()
	config.Interval = time.Second

	w, err := New(config, source, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, e.Kind)
	}, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	// A second Run while the first is active is rejected
	assert.Error(t, w.Run(ctx))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, KindEmpty, kinds[0])
}
