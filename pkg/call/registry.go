package call

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Deps - зависимости Registry. Sender и Media обязательны; остальные
// возможности платформы опциональны и заменяются no-op реализациями.
type Deps struct {
	Sender       SignalSender
	Media        MediaProvider
	Presentation PresentationService
	Audio        AudioRouter
	Sync         BackgroundSync
}

// Registry управляет всеми сессиями вызовов: контроль допуска, индексы
// по идентификатору вызова и комнате, арбитраж активного вызова и
// жизненный цикл медиа движка. Все публичные операции потокобезопасны
// и не блокируются на медиа работе.
type Registry struct {
	config Config
	deps   Deps

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	byCallID map[string]*Session
	byRoomID map[string][]*Session
	current  *Session
	closed   bool

	listeners *listenerSet
	metrics   *MetricsCollector
}

var _ sessionLifecycle = (*Registry)(nil)

// NewRegistry создает Registry. Возвращает ошибку, если не переданы
// обязательные зависимости.
func NewRegistry(config Config, deps Deps) (*Registry, error) {
	if deps.Sender == nil {
		return nil, errors.New("signal sender is required")
	}
	if deps.Media == nil {
		return nil, errors.New("media provider is required")
	}
	config.applyDefaults()
	if deps.Presentation == nil {
		deps.Presentation = noopPresentation{}
	}
	if deps.Audio == nil {
		deps.Audio = noopAudioRouter{}
	}
	if deps.Sync == nil {
		deps.Sync = noopBackgroundSync{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		config:    config,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		byCallID:  make(map[string]*Session),
		byRoomID:  make(map[string][]*Session),
		listeners: newListenerSet(),
		metrics:   config.Metrics,
	}, nil
}

// PartyID возвращает party id этого устройства.
func (r *Registry) PartyID() string {
	return r.config.PartyID
}

// CurrentCall возвращает текущий активный вызов или nil.
func (r *Registry) CurrentCall() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// CallByID возвращает сессию по идентификатору вызова или nil.
func (r *Registry) CallByID(callID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byCallID[callID]
}

// CallsForConversation возвращает все не завершенные вызовы комнаты.
func (r *Registry) CallsForConversation(roomID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := r.byRoomID[roomID]
	out := make([]*Session, len(sessions))
	copy(out, sessions)
	return out
}

// ActiveCallCount возвращает число не завершенных вызовов.
func (r *Registry) ActiveCallCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCallID)
}

// AddListener регистрирует слушателя изменений активного вызова.
func (r *Registry) AddListener(l CallListener) {
	r.listeners.Add(l)
}

// RemoveListener снимает регистрацию слушателя.
func (r *Registry) RemoveListener(l CallListener) {
	r.listeners.Remove(l)
}

// NotifyAudioRouteChanged рассылает слушателям смену аудио маршрута.
func (r *Registry) NotifyAudioRouteChanged(route AudioRoute) {
	r.listeners.notifyAudioRoute(route)
}

// admitLocked проверяет допуск нового вызова. Вызывается под r.mu.
func (r *Registry) admitLocked(roomID string) *CallError {
	if len(r.byRoomID[roomID]) > 0 {
		return newCallError(ErrorCodeRoomBusy, "", roomID,
			"conversation already has an active call", nil)
	}
	if len(r.byCallID) >= r.config.MaxConcurrentCalls {
		return newCallError(ErrorCodeCallLimitReached, "", roomID,
			"maximum concurrent call count reached", nil)
	}
	if r.current != nil && r.current.State() != StateConnected {
		return newCallError(ErrorCodeCurrentCallNotReady, r.current.ID(), roomID,
			"current call is not connected yet", nil)
	}
	return nil
}

// StartOutgoingCall запускает исходящий вызов в комнате. Новый вызов
// немедленно становится текущим; прежний установленный вызов ставится
// на удержание. Медиа ресурсы запрашиваются асинхронно. Возвращает nil,
// если вызов отклонен контролем допуска (причина логируется).
//
// Время жизни сессии привязано к контексту Registry, а не к контексту
// вызывающего: отправка сигнальных событий продолжается и после ухода
// с экрана, инициировавшего вызов.
func (r *Registry) StartOutgoingCall(roomID, calleeID string, media MediaKind) *Session {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		slog.Warn("Registry.StartOutgoingCall registry closed",
			slog.String("roomID", roomID))
		return nil
	}
	if admitErr := r.admitLocked(roomID); admitErr != nil {
		r.mu.Unlock()
		r.metrics.AdmissionRejected(admitErr.Code)
		slog.Warn("Registry.StartOutgoingCall rejected",
			slog.String("roomID", roomID),
			slog.String("code", admitErr.Code.String()),
			slog.String("reason", admitErr.Message))
		return nil
	}
	s := newSession(r.ctx, uuid.New().String(), roomID, calleeID, DirectionOutgoing, media, &r.config, sessionDeps{
		sender:    r.deps.Sender,
		media:     r.deps.Media,
		lifecycle: r,
		metrics:   r.metrics,
	})
	r.byCallID[s.id] = s
	r.byRoomID[roomID] = append(r.byRoomID[roomID], s)
	prev := r.current
	r.current = s
	var toHold *Session
	if prev != nil && prev.State() == StateConnected {
		toHold = prev
	}
	r.mu.Unlock()

	slog.Info("Registry.StartOutgoingCall",
		slog.String("callID", s.id),
		slog.String("roomID", roomID),
		slog.String("calleeID", calleeID),
		slog.String("media", string(media)))

	if toHold != nil {
		toHold.setAutoHold()
	}
	s.startOutgoing()
	r.metrics.CallCreated(s.id, DirectionOutgoing)
	r.deps.Presentation.CallStarted(s.id, roomID)
	r.deps.Audio.CallStarted(media)
	r.listeners.notifyCurrentCall(s)
	r.requestMedia(s, s.beginOffer)
	return s
}

// RouteSignalingEvent направляет входящее сигнальное событие вызова.
// События для неизвестных вызовов и эхо собственных событий отбрасываются
// с логированием, паника исключена.
func (r *Registry) RouteSignalingEvent(ev SignalingEvent) {
	// Хоумсервер отражает и собственные события, включая invite:
	// без этой проверки эхо invite после локального завершения создало бы
	// призрачный входящий вызов от самих себя
	if ev.Content.PartyID == r.config.PartyID {
		slog.Debug("Registry.RouteSignalingEvent own event ignored",
			slog.String("eventType", string(ev.Type)),
			slog.String("callID", ev.Content.CallID))
		return
	}
	if ev.Type == EventInvite {
		r.handleInvite(ev)
		return
	}
	s := r.CallByID(ev.Content.CallID)
	if s == nil {
		r.metrics.SignalDropped(ev.Type)
		dropErr := newCallError(ErrorCodeUnknownCall, ev.Content.CallID, ev.RoomID,
			"signaling event for unknown call", nil)
		slog.Debug("Registry.RouteSignalingEvent dropped",
			slog.String("eventType", string(ev.Type)),
			slog.String("error", dropErr.Error()))
		return
	}
	switch ev.Type {
	case EventAnswer:
		s.onAnswerReceived(ev.Content)
	case EventCandidates:
		s.onCandidatesReceived(ev.Content)
	case EventHangup:
		s.onRemoteHangup(ev.Content)
	case EventReject:
		s.onRemoteReject(ev.Content)
	case EventSelectAnswer:
		s.onSelectAnswerReceived(ev.Content)
	case EventNegotiate:
		s.onNegotiateReceived(ev.Content)
	default:
		r.metrics.SignalDropped(ev.Type)
		slog.Debug("Registry.RouteSignalingEvent unsupported event type",
			slog.String("eventType", string(ev.Type)),
			slog.String("callID", ev.Content.CallID))
	}
}

// handleInvite обрабатывает входящий invite: контроль допуска, создание
// сессии в Ringing и уведомление платформы. Вызов не становится текущим
// до принятия пользователем.
func (r *Registry) handleInvite(ev SignalingEvent) {
	content := ev.Content
	if content.CallID == "" || content.Offer == nil {
		slog.Warn("Registry.handleInvite malformed invite",
			slog.String("roomID", ev.RoomID),
			slog.String("callID", content.CallID))
		return
	}
	media := offerMediaKind(content.Offer.SDP)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, exists := r.byCallID[content.CallID]; exists {
		r.mu.Unlock()
		r.metrics.SignalDropped(EventInvite)
		slog.Debug("Registry.handleInvite duplicate invite",
			slog.String("callID", content.CallID))
		return
	}
	if admitErr := r.admitLocked(ev.RoomID); admitErr != nil {
		r.mu.Unlock()
		r.metrics.AdmissionRejected(admitErr.Code)
		slog.Warn("Registry.handleInvite rejected",
			slog.String("callID", content.CallID),
			slog.String("roomID", ev.RoomID),
			slog.String("code", admitErr.Code.String()))
		return
	}
	s := newSession(r.ctx, content.CallID, ev.RoomID, ev.SenderID, DirectionIncoming, media, &r.config, sessionDeps{
		sender:    r.deps.Sender,
		media:     r.deps.Media,
		lifecycle: r,
		metrics:   r.metrics,
	})
	r.byCallID[s.id] = s
	r.byRoomID[ev.RoomID] = append(r.byRoomID[ev.RoomID], s)
	r.mu.Unlock()

	slog.Info("Registry.handleInvite incoming call",
		slog.String("callID", s.id),
		slog.String("roomID", ev.RoomID),
		slog.String("callerID", ev.SenderID),
		slog.String("media", string(media)))

	s.startRinging(content.Offer, content.Lifetime, content.PartyID)
	r.metrics.CallCreated(s.id, DirectionIncoming)
	r.deps.Sync.RequestBoost(s.id)
	r.deps.Presentation.IncomingCall(s.id, ev.RoomID, ev.SenderID, media)
	r.deps.Audio.CallStarted(media)
}

// EndCallsForConversation завершает все вызовы комнаты. Для локально
// инициированного завершения удаленной стороне отправляется hangup.
func (r *Registry) EndCallsForConversation(roomID string, originatedLocally bool) {
	sessions := r.CallsForConversation(roomID)
	for _, s := range sessions {
		s.endForConversation(originatedLocally)
	}
}

// requestMedia запрашивает медиа движок и транспорт для сессии на
// контексте сериализации, затем выполняет продолжение then.
func (r *Registry) requestMedia(s *Session, then func()) {
	r.deps.Media.Acquire(func(err error) {
		if err != nil {
			engineErr := newCallError(ErrorCodeEngineUnavailable, s.ID(), s.RoomID(),
				"media engine unavailable", err)
			slog.Error("Registry.requestMedia failed",
				slog.String("error", engineErr.Error()))
			return
		}
		r.metrics.EngineAcquired(true)
		t, err := r.deps.Media.NewTransport(s.ID(), s.Media())
		if err != nil {
			transportErr := newCallError(ErrorCodeTransportNotReady, s.ID(), s.RoomID(),
				"transport creation failed", err)
			slog.Error("Registry.requestMedia failed",
				slog.String("error", transportErr.Error()))
			return
		}
		s.attachTransport(t)
		if then != nil {
			then()
		}
	})
}

// callBecameActive обрабатывает установление вызова: вызов становится
// текущим, прежний установленный вызов ставится на удержание.
func (r *Registry) callBecameActive(s *Session) {
	r.mu.Lock()
	prev := r.current
	changed := prev != s
	if changed {
		r.current = s
	}
	r.mu.Unlock()

	if changed && prev != nil && !prev.State().Terminal() {
		prev.setAutoHold()
	}
	r.deps.Presentation.CallConnected(s.ID())
	r.deps.Sync.CancelBoost(s.ID())
	if changed {
		r.listeners.notifyCurrentCall(s)
	}
}

// callEnded обрабатывает завершение сессии: удаление из индексов,
// продвижение пережившего вызова в текущие и освобождение медиа движка
// после последнего вызова.
func (r *Registry) callEnded(s *Session, reason HangupReason) {
	r.mu.Lock()
	delete(r.byCallID, s.id)
	sessions := r.byRoomID[s.roomID]
	for i, candidate := range sessions {
		if candidate == s {
			r.byRoomID[s.roomID] = append(sessions[:i], sessions[i+1:]...)
			break
		}
	}
	if len(r.byRoomID[s.roomID]) == 0 {
		delete(r.byRoomID, s.roomID)
	}
	wasCurrent := r.current == s
	var promoted *Session
	if wasCurrent {
		promoted = r.latestSurvivorLocked()
		r.current = promoted
	}
	remaining := len(r.byCallID)
	r.mu.Unlock()

	if promoted != nil {
		promoted.clearAutoHold()
	}
	r.metrics.CallTerminated(s.id)
	r.deps.Presentation.CallTerminated(s.id, reason)
	r.deps.Sync.CancelBoost(s.id)
	if wasCurrent {
		r.listeners.notifyCurrentCall(promoted)
	}
	if remaining == 0 {
		r.deps.Audio.CallEnded()
		r.deps.Media.Release()
		r.metrics.EngineAcquired(false)
	}
}

// latestSurvivorLocked возвращает самую новую из оставшихся сессий.
// Вызывается под r.mu.
func (r *Registry) latestSurvivorLocked() *Session {
	var latest *Session
	for _, s := range r.byCallID {
		if latest == nil || s.createdAt.After(latest.createdAt) {
			latest = s
		}
	}
	return latest
}

// Close завершает все вызовы и останавливает Registry. Идемпотентен.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.byCallID))
	for _, s := range r.byCallID {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.endInternal(true, ReasonUserHangup, EventHangup)
	}
	if len(sessions) == 0 {
		r.deps.Media.Release()
	}
	r.cancel()
	slog.Info("Registry closed")
	return nil
}
