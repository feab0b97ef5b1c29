package call

import "context"

// MediaTransport абстрагирует медиа транспорт одного вызова.
// Реализуется пакетом mediaengine поверх peer connection; создание и
// закрытие транспорта выполняется на контексте сериализации движка.
type MediaTransport interface {
	// CreateOffer создает локальное SDP предложение для исходящего вызова.
	CreateOffer(ctx context.Context) (*SessionDescription, error)

	// CreateAnswer применяет удаленный offer и создает локальный answer.
	CreateAnswer(ctx context.Context, remoteOffer SessionDescription) (*SessionDescription, error)

	// ApplyRemoteAnswer применяет удаленный answer для исходящего вызова.
	ApplyRemoteAnswer(ctx context.Context, answer SessionDescription) error

	// ApplyRemoteDescription применяет описание из события negotiate.
	// Если описание является offer, возвращает созданный answer для
	// отправки удаленной стороне, иначе nil.
	ApplyRemoteDescription(ctx context.Context, desc SessionDescription) (*SessionDescription, error)

	// AddRemoteCandidate добавляет удаленный ICE кандидат.
	AddRemoteCandidate(ctx context.Context, candidate CandidateInfo) error

	// SetMicrophoneMuted включает/выключает передачу локального аудио.
	SetMicrophoneMuted(muted bool) error

	// SetCameraEnabled включает/выключает передачу локального видео.
	SetCameraEnabled(enabled bool) error

	// AttachRenderer подключает приемник удаленных медиа дорожек.
	AttachRenderer(renderer VideoRenderer)

	// DetachRenderer отключает приемник удаленных медиа дорожек.
	DetachRenderer()

	// OnLocalCandidate устанавливает обработчик локальных ICE кандидатов.
	OnLocalCandidate(handler func(CandidateInfo))

	// OnFailure устанавливает обработчик фатального сбоя транспорта.
	OnFailure(handler func(error))

	// Close освобождает ресурсы транспорта.
	Close() error
}

// MediaProvider - общий медиа движок, разделяемый всеми сессиями.
// Acquire идемпотентен; Release вызывается только когда незавершенных
// сессий не осталось. Вся медленная работа выполняется на выделенном
// контексте сериализации движка, вызовы Acquire и Submit не блокируют.
type MediaProvider interface {
	// Acquire запрашивает инициализацию движка. done вызывается на
	// контексте сериализации: с nil при успехе, с ошибкой при недоступности
	// платформенной капабилити.
	Acquire(done func(error))

	// NewTransport создает медиа транспорт вызова. Должен вызываться
	// только на контексте сериализации (из done колбэка Acquire или из
	// задачи Submit) после успешного Acquire.
	NewTransport(callID string, media MediaKind) (MediaTransport, error)

	// Submit ставит задачу в FIFO очередь контекста сериализации.
	Submit(task func())

	// Release освобождает движок. Выполняется на том же контексте
	// сериализации, который его создал.
	Release()
}

// VideoRenderer - приемник уведомлений об удаленных медиа дорожках,
// подключаемый UI слоем к вызову. Декодирование и отрисовка кадров
// остаются на стороне реализации.
type VideoRenderer interface {
	// OnRemoteTrack вызывается при появлении удаленной дорожки.
	OnRemoteTrack(trackID string, kind string)
	// OnTrackEnded вызывается при завершении удаленной дорожки.
	OnTrackEnded(trackID string)
}

// PresentationService - внешний сервис системных уведомлений о вызовах.
type PresentationService interface {
	// IncomingCall вызывается при входящем вызове в состоянии Ringing.
	IncomingCall(callID, roomID, callerID string, media MediaKind)
	// CallStarted вызывается при старте исходящего вызова.
	CallStarted(callID, roomID string)
	// CallConnected вызывается при установлении вызова.
	CallConnected(callID string)
	// CallTerminated вызывается когда вызов достиг терминального состояния.
	CallTerminated(callID string, reason HangupReason)
}

// AudioRouter - внешняя подсистема маршрутизации аудио.
type AudioRouter interface {
	// CallStarted уведомляет о старте вызова.
	CallStarted(media MediaKind)
	// CallEnded уведомляет о завершении последнего вызова.
	CallEnded()
}

// BackgroundSync - капабилити временного ускорения фоновой синхронизации
// на время входящего вызова в фоне.
type BackgroundSync interface {
	// RequestBoost запрашивает ускоренную синхронизацию для вызова.
	RequestBoost(callID string)
	// CancelBoost снимает запрос при разрешении вызова.
	CancelBoost(callID string)
}

// CallListener получает уведомления Registry об изменениях.
// Уведомления доставляются по снапшоту множества подписчиков, вне
// внутренних блокировок Registry.
type CallListener interface {
	// OnCurrentCallChanged вызывается при смене активного вызова.
	// nil означает, что активных вызовов не осталось.
	OnCurrentCallChanged(session *Session)
	// OnAudioRouteChanged вызывается при смене маршрута аудио.
	OnAudioRouteChanged(route AudioRoute)
}

// noopPresentation заглушки для необязательных коллабораторов.
type noopPresentation struct{}

func (noopPresentation) IncomingCall(string, string, string, MediaKind) {}
func (noopPresentation) CallStarted(string, string) {}
func (noopPresentation) CallConnected(string) {}
func (noopPresentation) CallTerminated(string, HangupReason) {}

type noopAudioRouter struct{}

func (noopAudioRouter) CallStarted(MediaKind) {}
func (noopAudioRouter) CallEnded() {}

type noopBackgroundSync struct{}

func (noopBackgroundSync) RequestBoost(string) {}
func (noopBackgroundSync) CancelBoost(string) {}
