package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestHandler_InitialState(t *testing.T) {
	h := NewHandler(context.Background())
	defer h.Stop()

	require.NoError(t, h.Context().Err())
	assert.False(t, isClosed(h.Interrupted()))
	assert.False(t, isClosed(h.Forced()))
}

func TestHandler_FirstSignalInterrupts(t *testing.T) {
	h := NewHandler(context.Background())
	defer h.Stop()

	h.handleSignal()

	require.ErrorIs(t, h.Context().Err(), context.Canceled)
	assert.True(t, isClosed(h.Interrupted()))
	assert.False(t, isClosed(h.Forced()), "one signal only starts the drain")
}

func TestHandler_SecondSignalForces(t *testing.T) {
	h := NewHandler(context.Background())
	defer h.Stop()

	h.handleSignal()
	h.handleSignal()
	h.handleSignal()

	assert.True(t, isClosed(h.Interrupted()))
	assert.True(t, isClosed(h.Forced()))
}

func TestHandler_ListenProcessesRepeatedSignals(t *testing.T) {
	h := NewHandler(context.Background())
	defer h.Stop()

	h.sigChan <- nil
	h.sigChan <- nil

	require.Eventually(t, func() bool {
		return isClosed(h.Forced())
	}, time.Second, 5*time.Millisecond)
	assert.True(t, isClosed(h.Interrupted()))
}

func TestHandler_StopCancelsContext(t *testing.T) {
	h := NewHandler(context.Background())

	h.Stop()
	h.Stop()

	require.Error(t, h.Context().Err())
	assert.False(t, isClosed(h.Interrupted()), "stopping is not an interrupt")
}

func TestHandler_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	h := NewHandler(parent)
	defer h.Stop()

	cancel()

	require.Error(t, h.Context().Err())
	assert.False(t, isClosed(h.Interrupted()))
}
