package mediaengine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/callkit/pkg/call"
)

func acquireSync(t *testing.T, e *Engine) error {
	t.Helper()
	result := make(chan error, 1)
	e.Acquire(func(err error) {
		result <- err
	})
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("acquire did not complete")
		return nil
	}
}

func TestEngineLazyAcquire(t *testing.T) {
	e := New(DefaultConfig())
	defer func() { require.NoError(t, e.Close()) }()

	// До Acquire транспорты недоступны
	_, err := e.NewTransport("c1", call.MediaVoice)
	require.Error(t, err, "transport before acquire should fail")

	require.NoError(t, acquireSync(t, e), "first acquire should initialize the engine")
	require.NoError(t, acquireSync(t, e), "repeated acquire should reuse the engine")
}

func TestEngineCapabilityCheckFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CapabilityCheck = func() error {
		return errors.New("microphone permission denied")
	}
	e := New(cfg)
	defer func() { require.NoError(t, e.Close()) }()

	err := acquireSync(t, e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "microphone permission denied")
}

func TestEngineCreatesVoiceTransport(t *testing.T) {
	e := New(DefaultConfig())
	defer func() { require.NoError(t, e.Close()) }()
	require.NoError(t, acquireSync(t, e))

	done := make(chan struct{})
	e.Submit(func() {
		defer close(done)
		transport, err := e.NewTransport("c1", call.MediaVoice)
		require.NoError(t, err)
		defer func() { _ = transport.Close() }()

		offer, err := transport.CreateOffer(context.Background())
		require.NoError(t, err)
		require.NotNil(t, offer)
		assert.Equal(t, "offer", offer.Type)
		assert.True(t, strings.Contains(offer.SDP, "m=audio"), "voice offer should carry audio")
		assert.False(t, strings.Contains(offer.SDP, "m=video"), "voice offer should not carry video")
	})
	<-done
}

func TestEngineCreatesVideoTransport(t *testing.T) {
	e := New(DefaultConfig())
	defer func() { require.NoError(t, e.Close()) }()
	require.NoError(t, acquireSync(t, e))

	done := make(chan struct{})
	e.Submit(func() {
		defer close(done)
		transport, err := e.NewTransport("c1", call.MediaVideo)
		require.NoError(t, err)
		defer func() { _ = transport.Close() }()

		offer, err := transport.CreateOffer(context.Background())
		require.NoError(t, err)
		assert.True(t, strings.Contains(offer.SDP, "m=audio"))
		assert.True(t, strings.Contains(offer.SDP, "m=video"), "video offer should carry video")
	})
	<-done
}

func TestEngineAnswerExchange(t *testing.T) {
	caller := New(DefaultConfig())
	callee := New(DefaultConfig())
	defer func() {
		require.NoError(t, caller.Close())
		require.NoError(t, callee.Close())
	}()
	require.NoError(t, acquireSync(t, caller))
	require.NoError(t, acquireSync(t, callee))

	done := make(chan struct{})
	go func() {
		defer close(done)
		outbound, err := caller.NewTransport("c1", call.MediaVoice)
		require.NoError(t, err)
		defer func() { _ = outbound.Close() }()
		inbound, err := callee.NewTransport("c1", call.MediaVoice)
		require.NoError(t, err)
		defer func() { _ = inbound.Close() }()

		offer, err := outbound.CreateOffer(context.Background())
		require.NoError(t, err)

		answer, err := inbound.CreateAnswer(context.Background(), *offer)
		require.NoError(t, err)
		require.NotNil(t, answer)
		assert.Equal(t, "answer", answer.Type)
		assert.True(t, strings.Contains(answer.SDP, "m=audio"))

		require.NoError(t, outbound.ApplyRemoteAnswer(context.Background(), *answer))
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("answer exchange did not complete")
	}
}

func TestEngineReleaseResetsInitialization(t *testing.T) {
	e := New(DefaultConfig())
	defer func() { require.NoError(t, e.Close()) }()
	require.NoError(t, acquireSync(t, e))

	e.Release()
	// Release выполняется на воркере: дожидаемся через следующую задачу
	settled := make(chan struct{})
	e.Submit(func() { close(settled) })
	<-settled

	_, err := e.NewTransport("c1", call.MediaVoice)
	require.Error(t, err, "released engine should require a new acquire")

	require.NoError(t, acquireSync(t, e), "engine should be acquirable again after release")
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	e := New(DefaultConfig())
	require.NoError(t, acquireSync(t, e))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	err := acquireSync(t, e)
	require.Error(t, err, "closed engine should refuse acquire")
}
