package call

import (
	"fmt"
)

// CallErrorCode определяет типизированные коды ошибок ядра вызовов.
type CallErrorCode int

const (
	// Ошибки допуска
	ErrorCodeCallLimitReached CallErrorCode = iota + 2000
	ErrorCodeRoomBusy
	ErrorCodeCurrentCallNotReady

	// Ошибки маршрутизации
	ErrorCodeUnknownCall
	ErrorCodeInvalidTransition

	// Ошибки медиа
	ErrorCodeEngineUnavailable
	ErrorCodeTransportNotReady

	// Ошибки сигнализации
	ErrorCodeSignalSendFailed
)

// String возвращает строковое представление кода ошибки.
func (code CallErrorCode) String() string {
	switch code {
	case ErrorCodeCallLimitReached:
		return "CallLimitReached"
	case ErrorCodeRoomBusy:
		return "RoomBusy"
	case ErrorCodeCurrentCallNotReady:
		return "CurrentCallNotReady"
	case ErrorCodeUnknownCall:
		return "UnknownCall"
	case ErrorCodeInvalidTransition:
		return "InvalidTransition"
	case ErrorCodeEngineUnavailable:
		return "EngineUnavailable"
	case ErrorCodeTransportNotReady:
		return "TransportNotReady"
	case ErrorCodeSignalSendFailed:
		return "SignalSendFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// CallError - типизированная ошибка ядра вызовов с контекстом для
// диагностики. За публичную границу Registry не распространяется:
// используется во внутренних слоях и в логах.
type CallError struct {
	Code    CallErrorCode
	CallID  string
	RoomID  string
	Message string
	Cause   error
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [call=%s room=%s]: %s: %v", e.Code, e.CallID, e.RoomID, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [call=%s room=%s]: %s", e.Code, e.CallID, e.RoomID, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

func newCallError(code CallErrorCode, callID, roomID, message string, cause error) *CallError {
	return &CallError{
		Code:    code,
		CallID:  callID,
		RoomID:  roomID,
		Message: message,
		Cause:   cause,
	}
}
