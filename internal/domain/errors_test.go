package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Network.Do", ErrConnect, "example.org:443")
	want := "Network.Do: example.org:443: connection failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Processor.Search", ErrEngineSuspended, "")
	want := "Processor.Search: engine suspended"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("RetryTransport.RoundTrip", ErrProxy, "socks5://127.0.0.1:9050")
	if !errors.Is(err, ErrProxy) {
		t.Error("errors.Is should match ErrProxy")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("Engine.Load", ErrInvalidInput, "bad type"))
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Engine.Load", de.Op)
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeConnect, ErrorCodeOf(ErrConnect))
	assert.Equal(t, CodeProxy, ErrorCodeOf(ErrProxy))
	assert.Equal(t, CodeProtocol, ErrorCodeOf(ErrProtocol))
	assert.Equal(t, CodeUnsupportedProtocol, ErrorCodeOf(ErrUnsupportedProtocol))
}

func TestErrorCodeOf_WrappedTransportError(t *testing.T) {
	err := fmt.Errorf("%w: dial tcp: connection refused", ErrConnect)
	assert.Equal(t, CodeConnect, ErrorCodeOf(fmt.Errorf("engine wiki: %w", err)))
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	err := NewSubSystemError("engine", "Registry.Processor", ErrNotFound, "nope")
	assert.Equal(t, CodeEngineNotFound, ErrorCodeOf(err))
	assert.Equal(t, CodeEngineNotFound, err.Code())

	other := NewSubSystemError("unknown", "X", ErrNotFound, "")
	assert.Equal(t, CodeNotFound, other.Code())
}

func TestErrorCodeOf_Unknown(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(errors.New("something else")))
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
	err := WrapOp("Config.Load", ErrConfigLoad)
	assert.ErrorIs(t, err, ErrConfigLoad)
	assert.Equal(t, "Config.Load: failed to load configuration", err.Error())
}
