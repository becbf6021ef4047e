package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
)

var errBusDown = errors.New("bus down")

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingPublisher) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func event(sessionID string, typ constants.EventType) domain.Event {
	return domain.Event{Type: typ, SessionID: sessionID, Timestamp: time.Now()}
}

func TestHub_FiltersBySession(t *testing.T) {
	t.Parallel()

	hub := NewHub(zerolog.Nop())
	one := hub.Subscribe("s1", 4)
	all := hub.Subscribe("", 4)
	defer one.Close()
	defer all.Close()

	require.NoError(t, hub.Publish(context.Background(), event("s1", constants.EventStarted)))
	require.NoError(t, hub.Publish(context.Background(), event("s2", constants.EventStarted)))

	got := <-one.C()
	assert.Equal(t, "s1", got.SessionID)
	assert.Empty(t, one.C())

	assert.Equal(t, "s1", (<-all.C()).SessionID)
	assert.Equal(t, "s2", (<-all.C()).SessionID)
}

func TestHub_DropsWhenSubscriberIsSlow(t *testing.T) {
	t.Parallel()

	hub := NewHub(zerolog.Nop())
	sub := hub.Subscribe("s1", 2)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(context.Background(), event("s1", constants.EventProgress)))
	}
	assert.Len(t, sub.C(), 2)
	assert.Equal(t, 3, sub.Dropped())
}

func TestHub_CloseSubscription(t *testing.T) {
	t.Parallel()

	hub := NewHub(zerolog.Nop())
	sub := hub.Subscribe("s1", 1)
	assert.Equal(t, 1, hub.Len())

	sub.Close()
	sub.Close()
	assert.Zero(t, hub.Len())

	_, ok := <-sub.C()
	assert.False(t, ok)
	require.NoError(t, hub.Publish(context.Background(), event("s1", constants.EventProgress)))
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	hub := NewHub(zerolog.Nop())
	sub := hub.Subscribe("", 0)
	hub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := hub.Subscribe("s1", 1)
	_, ok = <-late.C()
	assert.False(t, ok)
	late.Close()
}

func TestMulti_PublishesToAllAndJoinsErrors(t *testing.T) {
	t.Parallel()

	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errBusDown}
	m := Multi{ok, nil, failing, Nop{}}

	err := m.Publish(context.Background(), event("s1", constants.EventCompleted))
	require.ErrorIs(t, err, errBusDown)
	assert.Len(t, ok.Events(), 1)
	assert.Len(t, failing.Events(), 1)

	require.NoError(t, Multi{ok}.Publish(context.Background(), event("s1", constants.EventCompleted)))
}

func TestPublisherFunc(t *testing.T) {
	t.Parallel()

	var got constants.EventType
	p := PublisherFunc(func(_ context.Context, ev domain.Event) error {
		got = ev.Type
		return nil
	})
	require.NoError(t, p.Publish(context.Background(), event("s1", constants.EventPaused)))
	assert.Equal(t, constants.EventPaused, got)
}
