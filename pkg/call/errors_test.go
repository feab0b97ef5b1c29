package call

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCallErrorCodeStrings проверяет, что каждый код имеет уникальное
// строковое представление.
func TestCallErrorCodeStrings(t *testing.T) {
	codes := []CallErrorCode{
		ErrorCodeCallLimitReached,
		ErrorCodeRoomBusy,
		ErrorCodeCurrentCallNotReady,
		ErrorCodeUnknownCall,
		ErrorCodeInvalidTransition,
		ErrorCodeEngineUnavailable,
		ErrorCodeTransportNotReady,
		ErrorCodeSignalSendFailed,
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		str := code.String()
		assert.NotContains(t, str, "Unknown(", "код %d должен иметь имя", int(code))
		assert.False(t, seen[str], "строка %q не должна повторяться", str)
		seen[str] = true
	}

	assert.Contains(t, CallErrorCode(9999).String(), "Unknown(")
}

// TestCallErrorFormat проверяет формат сообщения и разворачивание причины.
func TestCallErrorFormat(t *testing.T) {
	cause := errors.New("socket closed")
	err := newCallError(ErrorCodeSignalSendFailed, "call-1", "!room:example.org", "send invite failed", cause)

	msg := err.Error()
	assert.Contains(t, msg, "SignalSendFailed")
	assert.Contains(t, msg, "call-1")
	assert.Contains(t, msg, "!room:example.org")
	assert.Contains(t, msg, "socket closed")

	require.ErrorIs(t, err, cause, "Unwrap должен возвращать причину")

	bare := newCallError(ErrorCodeUnknownCall, "call-2", "!other:example.org", "signaling event for unknown call", nil)
	assert.Contains(t, bare.Error(), "UnknownCall")
	assert.Nil(t, bare.Unwrap())
}
