package call

import (
	"time"

	"github.com/google/uuid"
)

// CallState представляет состояние жизненного цикла вызова.
type CallState string

func (s CallState) String() string {
	return string(s)
}

const (
	// StateIdle - начальное состояние, сессия создана но не запущена
	StateIdle CallState = "Idle"
	// StateDialing - исходящий вызов, offer отправлен или отправляется
	StateDialing CallState = "Dialing"
	// StateRinging - входящий вызов, получен invite, ожидается решение пользователя
	StateRinging CallState = "Ringing"
	// StateAnswering - входящий вызов принят, идет обмен answer/offer
	StateAnswering CallState = "Answering"
	// StateConnected - вызов установлен
	StateConnected CallState = "Connected"
	// StateTerminated - терминальное состояние, переходы из него запрещены
	StateTerminated CallState = "Terminated"
)

// Terminal сообщает, является ли состояние терминальным.
func (s CallState) Terminal() bool {
	return s == StateTerminated
}

// Direction определяет направление вызова.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MediaKind определяет вид медиа вызова.
type MediaKind string

const (
	MediaVoice MediaKind = "voice"
	MediaVideo MediaKind = "video"
)

// HoldState описывает hold под-состояние установленного вызова.
// Локальный и удаленный hold выставляются независимо и не меняют
// основное состояние сессии.
type HoldState string

const (
	HoldNeither HoldState = "neitherHeld"
	HoldLocal   HoldState = "localHeld"
	HoldRemote  HoldState = "remoteHeld"
	HoldBoth    HoldState = "bothHeld"
)

// HangupReason - причина завершения вызова, передается в сигнальном
// событии hangup и в уведомлениях жизненного цикла.
type HangupReason string

const (
	ReasonUserHangup        HangupReason = "user_hangup"
	ReasonInviteTimeout     HangupReason = "invite_timeout"
	ReasonIceFailed         HangupReason = "ice_failed"
	ReasonAnsweredElsewhere HangupReason = "answered_elsewhere"
	ReasonReplaced          HangupReason = "replaced"
	ReasonUserMediaFailed   HangupReason = "user_media_failed"
)

// AudioRoute - текущий маршрут аудио.
type AudioRoute string

const (
	RouteEarpiece  AudioRoute = "earpiece"
	RouteSpeaker   AudioRoute = "speaker"
	RouteHeadset   AudioRoute = "headset"
	RouteBluetooth AudioRoute = "bluetooth"
)

// Config содержит конфигурацию Registry.
type Config struct {
	// MaxConcurrentCalls жесткий лимит одновременных незавершенных вызовов.
	// По умолчанию: 2
	MaxConcurrentCalls int

	// ConnectTimeout максимальное время установления соединения.
	// По истечении вызов завершается с причиной invite_timeout.
	// По умолчанию: 30 секунд
	ConnectTimeout time.Duration

	// RingTimeout максимальное время ожидания ответа на входящий вызов.
	// Эффективное значение - минимум из RingTimeout и lifetime из invite.
	// По умолчанию: 90 секунд
	RingTimeout time.Duration

	// PartyID идентификатор локальной стороны в сигнальных событиях.
	// Если пустой, генерируется автоматически.
	PartyID string

	// Metrics опциональный сборщик метрик. nil отключает сбор.
	Metrics *MetricsCollector
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentCalls: 2,
		ConnectTimeout:     30 * time.Second,
		RingTimeout:        90 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentCalls == 0 {
		c.MaxConcurrentCalls = 2
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.RingTimeout == 0 {
		c.RingTimeout = 90 * time.Second
	}
	if c.PartyID == "" {
		c.PartyID = uuid.New().String()
	}
}
