package call

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// sessionLifecycle - внутренний приемник событий жизненного цикла сессии.
// Реализуется Registry: сессия сообщает о переходе в активное состояние и
// о достижении терминального состояния, а также запрашивает медиа ресурсы.
type sessionLifecycle interface {
	callBecameActive(s *Session)
	callEnded(s *Session, reason HangupReason)
	requestMedia(s *Session, then func())
}

// sessionDeps - явные зависимости сессии, передаются при создании.
type sessionDeps struct {
	sender    SignalSender
	media     MediaProvider
	lifecycle sessionLifecycle
	metrics   *MetricsCollector
}

func formEventName(src, dst CallState) string {
	builder := strings.Builder{}
	builder.WriteString(string(src))
	builder.WriteString("_to_")
	builder.WriteString(string(dst))
	return builder.String()
}

/*
FSM для Session:

Состояния и переходы:

1. Idle (начальное состояние)
   - Idle → Dialing    (исходящий вызов запущен)
   - Idle → Ringing    (получен входящий invite)
   - Idle → Terminated (завершение до старта)

2. Dialing (исходящий, offer отправляется/отправлен)
   - Dialing → Connected  (получен answer)
   - Dialing → Terminated (hangup/reject/таймаут)

3. Ringing (входящий, ожидается решение пользователя)
   - Ringing → Answering  (пользователь принял вызов)
   - Ringing → Terminated (reject/hangup/таймаут/answered elsewhere)

4. Answering (входящий принят, идет обмен answer)
   - Answering → Connected  (answer отправлен)
   - Answering → Terminated (сбой/таймаут/hangup)

5. Connected (вызов установлен; hold под-состояние меняется независимо)
   - Connected → Terminated

6. Terminated (терминальное состояние, переходы запрещены,
   все дальнейшие сигнальные события игнорируются)

Диаграмма переходов:
[Idle] → [Dialing] → [Connected] → [Terminated]
[Idle] → [Ringing] → [Answering] → [Connected] → [Terminated]
*/

// Session представляет одну сессию вызова. Создается Registry при старте
// исходящего вызова или при получении входящего invite; уничтожается
// (удаляется из индексов, ресурсы освобождаются) при достижении
// терминального состояния.
type Session struct {
	// Идентификация вызова
	id         string
	roomID     string
	opponentID string
	partyID    string
	direction  Direction
	media      MediaKind
	createdAt  time.Time

	deps sessionDeps

	// Таймауты установления соединения
	connectTimeout time.Duration
	ringTimeout    time.Duration

	ctx context.Context

	fsm *fsm.FSM
	mu  sync.Mutex

	// hold и медиа флаги
	localHold     bool
	remoteHold    bool
	autoHeld      bool
	micMuted      bool
	cameraEnabled bool

	// Сигнальный контекст удаленной стороны
	remotePartyID string
	remoteOffer   *SessionDescription

	// Медиа транспорт и буфер кандидатов до его готовности
	transport         MediaTransport
	pendingCandidates []CandidateInfo
	pendingRenderer   VideoRenderer

	// Таймер установления соединения / ожидания ответа
	timer *time.Timer

	// Контекст завершения
	locallyEnded bool
	endReason    HangupReason

	stateHandler func(CallState)
	handlersMu   sync.Mutex
}

func newSession(ctx context.Context, id, roomID, opponentID string, direction Direction, media MediaKind, cfg *Config, deps sessionDeps) *Session {
	s := &Session{
		id:             id,
		roomID:         roomID,
		opponentID:     opponentID,
		partyID:        cfg.PartyID,
		direction:      direction,
		media:          media,
		createdAt:      time.Now(),
		deps:           deps,
		connectTimeout: cfg.ConnectTimeout,
		ringTimeout:    cfg.RingTimeout,
		ctx:            ctx,
		cameraEnabled:  media == MediaVideo,
	}
	s.initFSM()
	return s
}

func (s *Session) initFSM() {
	s.fsm = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: formEventName(StateIdle, StateDialing), Src: []string{string(StateIdle)}, Dst: string(StateDialing)},
			{Name: formEventName(StateIdle, StateRinging), Src: []string{string(StateIdle)}, Dst: string(StateRinging)},
			{Name: formEventName(StateIdle, StateTerminated), Src: []string{string(StateIdle)}, Dst: string(StateTerminated)},
			{Name: formEventName(StateDialing, StateConnected), Src: []string{string(StateDialing)}, Dst: string(StateConnected)},
			{Name: formEventName(StateDialing, StateTerminated), Src: []string{string(StateDialing)}, Dst: string(StateTerminated)},
			{Name: formEventName(StateRinging, StateAnswering), Src: []string{string(StateRinging)}, Dst: string(StateAnswering)},
			{Name: formEventName(StateRinging, StateTerminated), Src: []string{string(StateRinging)}, Dst: string(StateTerminated)},
			{Name: formEventName(StateAnswering, StateConnected), Src: []string{string(StateAnswering)}, Dst: string(StateConnected)},
			{Name: formEventName(StateAnswering, StateTerminated), Src: []string{string(StateAnswering)}, Dst: string(StateTerminated)},
			{Name: formEventName(StateConnected, StateTerminated), Src: []string{string(StateConnected)}, Dst: string(StateTerminated)},
		}, fsm.Callbacks{
			"after_event": s.afterStateChange,
		})
}

func (s *Session) afterStateChange(_ context.Context, e *fsm.Event) {
	s.deps.metrics.StateTransition(CallState(e.Src), CallState(e.Dst))
}

// ID возвращает уникальный идентификатор вызова.
func (s *Session) ID() string {
	return s.id
}

// RoomID возвращает идентификатор комнаты, которой принадлежит вызов.
func (s *Session) RoomID() string {
	return s.roomID
}

// OpponentID возвращает идентификатор удаленного участника.
func (s *Session) OpponentID() string {
	return s.opponentID
}

// Direction возвращает направление вызова.
func (s *Session) Direction() Direction {
	return s.direction
}

// Media возвращает вид медиа вызова.
func (s *Session) Media() MediaKind {
	return s.media
}

// CreatedAt возвращает время создания сессии.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// State возвращает текущее состояние сессии.
func (s *Session) State() CallState {
	return CallState(s.fsm.Current())
}

// HoldState возвращает hold под-состояние. Имеет смысл только для
// установленного вызова, но флаги хранятся независимо от состояния.
func (s *Session) HoldState() HoldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.localHold && s.remoteHold:
		return HoldBoth
	case s.localHold:
		return HoldLocal
	case s.remoteHold:
		return HoldRemote
	default:
		return HoldNeither
	}
}

// IsLocalOnHold сообщает, поставлен ли вызов на удержание локально.
func (s *Session) IsLocalOnHold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localHold
}

// IsRemoteOnHold сообщает, поставлен ли вызов на удержание удаленной стороной.
func (s *Session) IsRemoteOnHold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteHold
}

// IsMicrophoneMuted сообщает, отключен ли локальный микрофон.
func (s *Session) IsMicrophoneMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micMuted
}

// IsCameraEnabled сообщает, включена ли локальная камера.
func (s *Session) IsCameraEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cameraEnabled
}

// RemotePartyID возвращает party id удаленной стороны, когда он известен.
func (s *Session) RemotePartyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remotePartyID
}

// EndReason возвращает причину завершения для терминальной сессии.
func (s *Session) EndReason() HangupReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// OnStateChange устанавливает обработчик изменения состояния сессии.
// Обработчик вызывается вне внутренних блокировок.
func (s *Session) OnStateChange(handler func(CallState)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.stateHandler = handler
}

func (s *Session) notifyState(state CallState) {
	s.handlersMu.Lock()
	handler := s.stateHandler
	s.handlersMu.Unlock()
	if handler != nil {
		handler(state)
	}
}

// transitionLocked выполняет переход FSM. Вызывается под s.mu.
func (s *Session) transitionLocked(dst CallState) error {
	cur := CallState(s.fsm.Current())
	return s.fsm.Event(context.TODO(), formEventName(cur, dst))
}

// startOutgoing переводит сессию в Dialing и взводит таймер установления.
func (s *Session) startOutgoing() {
	s.mu.Lock()
	if err := s.transitionLocked(StateDialing); err != nil {
		s.mu.Unlock()
		slog.Error("Session.startOutgoing transition failed",
			slog.String("callID", s.id),
			slog.String("code", ErrorCodeInvalidTransition.String()),
			slog.String("error", err.Error()))
		return
	}
	s.armTimerLocked(s.connectTimeout, ReasonInviteTimeout)
	s.mu.Unlock()
	s.notifyState(StateDialing)
}

// startRinging переводит входящую сессию в Ringing и сохраняет offer.
// Эффективное время ожидания - минимум из RingTimeout и lifetime invite.
func (s *Session) startRinging(offer *SessionDescription, lifetime uint32, remotePartyID string) {
	s.mu.Lock()
	if err := s.transitionLocked(StateRinging); err != nil {
		s.mu.Unlock()
		slog.Error("Session.startRinging transition failed",
			slog.String("callID", s.id),
			slog.String("code", ErrorCodeInvalidTransition.String()),
			slog.String("error", err.Error()))
		return
	}
	s.remoteOffer = offer
	s.remotePartyID = remotePartyID
	ringFor := s.ringTimeout
	if lifetime > 0 {
		if fromInvite := time.Duration(lifetime) * time.Millisecond; fromInvite < ringFor {
			ringFor = fromInvite
		}
	}
	s.armTimerLocked(ringFor, ReasonInviteTimeout)
	s.mu.Unlock()
	s.notifyState(StateRinging)
}

// Accept принимает входящий вызов. Валиден только в состоянии Ringing;
// запускает обмен answer с удаленной стороной. Запрос медиа ресурсов
// выполняется асинхронно на контексте сериализации движка.
func (s *Session) Accept() {
	s.mu.Lock()
	if err := s.transitionLocked(StateAnswering); err != nil {
		cur := CallState(s.fsm.Current())
		s.mu.Unlock()
		slog.Warn("Session.Accept ignored",
			slog.String("callID", s.id),
			slog.String("code", ErrorCodeInvalidTransition.String()),
			slog.String("state", cur.String()))
		return
	}
	s.armTimerLocked(s.connectTimeout, ReasonInviteTimeout)
	s.mu.Unlock()
	s.notifyState(StateAnswering)

	s.deps.lifecycle.requestMedia(s, s.beginAnswer)
}

// Reject отклоняет входящий вызов в состоянии Ringing. Удаленной стороне
// отправляется reject; hangup не отправляется.
func (s *Session) Reject() {
	if s.State() != StateRinging {
		slog.Warn("Session.Reject ignored",
			slog.String("callID", s.id),
			slog.String("code", ErrorCodeInvalidTransition.String()),
			slog.String("state", s.State().String()))
		return
	}
	s.endInternal(true, ReasonUserHangup, EventReject)
}

// End завершает вызов локально. Идемпотентен: повторный вызов для уже
// завершенной сессии является no-op.
func (s *Session) End() {
	s.endInternal(true, ReasonUserHangup, EventHangup)
}

// SetLocalOnHold ставит/снимает локальное удержание. Не меняет основное
// состояние сессии.
func (s *Session) SetLocalOnHold(onHold bool) {
	s.mu.Lock()
	s.localHold = onHold
	if !onHold {
		s.autoHeld = false
	}
	s.mu.Unlock()
	slog.Debug("Session.SetLocalOnHold",
		slog.String("callID", s.id),
		slog.Bool("onHold", onHold))
}

// SetRemoteOnHold отмечает удержание со стороны удаленного участника.
func (s *Session) SetRemoteOnHold(onHold bool) {
	s.mu.Lock()
	s.remoteHold = onHold
	s.mu.Unlock()
	slog.Debug("Session.SetRemoteOnHold",
		slog.String("callID", s.id),
		slog.Bool("onHold", onHold))
}

// setAutoHold ставит вызов на удержание при арбитраже активного вызова.
// Удержание, поставленное пользователем, не перекрывается: снятие при
// продвижении относится только к арбитражному удержанию.
func (s *Session) setAutoHold() {
	s.mu.Lock()
	if !s.localHold {
		s.localHold = true
		s.autoHeld = true
	}
	s.mu.Unlock()
}

// clearAutoHold снимает удержание, если оно было поставлено арбитражем,
// а не пользователем.
func (s *Session) clearAutoHold() {
	s.mu.Lock()
	if s.autoHeld {
		s.localHold = false
		s.autoHeld = false
	}
	s.mu.Unlock()
}

// SetMicrophoneMuted включает/выключает локальный микрофон.
func (s *Session) SetMicrophoneMuted(muted bool) {
	s.mu.Lock()
	s.micMuted = muted
	t := s.transport
	s.mu.Unlock()
	if t != nil {
		s.deps.media.Submit(func() {
			if err := t.SetMicrophoneMuted(muted); err != nil {
				slog.Warn("Session.SetMicrophoneMuted transport failed",
					slog.String("callID", s.id),
					slog.String("error", err.Error()))
			}
		})
	}
}

// SetCameraEnabled включает/выключает локальную камеру.
func (s *Session) SetCameraEnabled(enabled bool) {
	s.mu.Lock()
	s.cameraEnabled = enabled
	t := s.transport
	s.mu.Unlock()
	if t != nil {
		s.deps.media.Submit(func() {
			if err := t.SetCameraEnabled(enabled); err != nil {
				slog.Warn("Session.SetCameraEnabled transport failed",
					slog.String("callID", s.id),
					slog.String("error", err.Error()))
			}
		})
	}
}

// AttachRenderer подключает приемник удаленных медиа дорожек. Если медиа
// транспорт еще не готов, подключение откладывается до его готовности.
func (s *Session) AttachRenderer(renderer VideoRenderer) {
	s.mu.Lock()
	t := s.transport
	if t == nil {
		s.pendingRenderer = renderer
	}
	s.mu.Unlock()
	if t != nil {
		t.AttachRenderer(renderer)
	}
}

// DetachRenderer отключает приемник удаленных медиа дорожек.
func (s *Session) DetachRenderer() {
	s.mu.Lock()
	t := s.transport
	s.pendingRenderer = nil
	s.mu.Unlock()
	if t != nil {
		t.DetachRenderer()
	}
}

// attachTransport привязывает медиа транспорт к сессии. Вызывается на
// контексте сериализации движка. Если сессия уже завершена, транспорт
// немедленно закрывается.
func (s *Session) attachTransport(t MediaTransport) {
	s.mu.Lock()
	if CallState(s.fsm.Current()).Terminal() {
		s.mu.Unlock()
		if err := t.Close(); err != nil {
			slog.Warn("Session.attachTransport close after termination failed",
				slog.String("callID", s.id),
				slog.String("error", err.Error()))
		}
		return
	}
	s.transport = t
	pending := s.pendingCandidates
	s.pendingCandidates = nil
	renderer := s.pendingRenderer
	s.pendingRenderer = nil
	muted := s.micMuted
	camera := s.cameraEnabled
	s.mu.Unlock()

	t.OnLocalCandidate(s.sendLocalCandidate)
	t.OnFailure(s.onTransportFailure)
	if renderer != nil {
		t.AttachRenderer(renderer)
	}
	if muted {
		if err := t.SetMicrophoneMuted(true); err != nil {
			slog.Warn("Session.attachTransport apply mute failed",
				slog.String("callID", s.id),
				slog.String("error", err.Error()))
		}
	}
	if !camera && s.media == MediaVideo {
		if err := t.SetCameraEnabled(false); err != nil {
			slog.Warn("Session.attachTransport apply camera failed",
				slog.String("callID", s.id),
				slog.String("error", err.Error()))
		}
	}
	for _, c := range pending {
		if err := t.AddRemoteCandidate(s.ctx, c); err != nil {
			slog.Warn("Session.attachTransport buffered candidate failed",
				slog.String("callID", s.id),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Session) currentTransport() MediaTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// beginOffer создает offer и отправляет invite удаленной стороне.
// Вызывается на контексте сериализации после привязки транспорта.
func (s *Session) beginOffer() {
	t := s.currentTransport()
	if t == nil {
		return
	}
	offer, err := t.CreateOffer(s.ctx)
	if err != nil {
		// Соединение не установится, таймер завершит вызов
		slog.Error("Session.beginOffer create offer failed",
			slog.String("callID", s.id),
			slog.String("roomID", s.roomID),
			slog.String("error", err.Error()))
		return
	}
	content := CallEventContent{
		CallID:   s.id,
		PartyID:  s.partyID,
		Version:  CallSignalingVersion,
		Lifetime: uint32(s.connectTimeout.Milliseconds()),
		Offer:    offer,
	}
	if err := s.deps.sender.SendCallEvent(s.ctx, s.roomID, EventInvite, content); err != nil {
		slog.Error("Session.beginOffer send invite failed",
			slog.String("callID", s.id),
			slog.String("code", ErrorCodeSignalSendFailed.String()),
			slog.String("roomID", s.roomID),
			slog.String("error", err.Error()))
	}
}

// beginAnswer применяет сохраненный offer, создает answer и отправляет
// его удаленной стороне. Вызывается на контексте сериализации.
func (s *Session) beginAnswer() {
	t := s.currentTransport()
	if t == nil {
		return
	}
	s.mu.Lock()
	offer := s.remoteOffer
	s.mu.Unlock()
	if offer == nil {
		slog.Error("Session.beginAnswer no stored offer",
			slog.String("callID", s.id))
		return
	}
	answer, err := t.CreateAnswer(s.ctx, *offer)
	if err != nil {
		slog.Error("Session.beginAnswer create answer failed",
			slog.String("callID", s.id),
			slog.String("roomID", s.roomID),
			slog.String("error", err.Error()))
		return
	}
	content := CallEventContent{
		CallID:  s.id,
		PartyID: s.partyID,
		Version: CallSignalingVersion,
		Answer:  answer,
	}
	if err := s.deps.sender.SendCallEvent(s.ctx, s.roomID, EventAnswer, content); err != nil {
		slog.Error("Session.beginAnswer send answer failed",
			slog.String("callID", s.id),
			slog.String("code", ErrorCodeSignalSendFailed.String()),
			slog.String("roomID", s.roomID),
			slog.String("error", err.Error()))
		return
	}
	s.connect()
}

// connect переводит сессию в Connected и сообщает Registry об активации.
func (s *Session) connect() {
	s.mu.Lock()
	if err := s.transitionLocked(StateConnected); err != nil {
		cur := CallState(s.fsm.Current())
		s.mu.Unlock()
		slog.Debug("Session.connect ignored",
			slog.String("callID", s.id),
			slog.String("code", ErrorCodeInvalidTransition.String()),
			slog.String("state", cur.String()))
		return
	}
	s.disarmTimerLocked()
	s.mu.Unlock()
	s.notifyState(StateConnected)
	s.deps.lifecycle.callBecameActive(s)
}

// onAnswerReceived обрабатывает answer удаленной стороны (исходящий вызов).
func (s *Session) onAnswerReceived(content CallEventContent) {
	s.mu.Lock()
	cur := CallState(s.fsm.Current())
	if cur != StateDialing {
		s.mu.Unlock()
		slog.Debug("Session.onAnswerReceived ignored",
			slog.String("callID", s.id),
			slog.String("state", cur.String()))
		return
	}
	if content.Answer == nil {
		s.mu.Unlock()
		slog.Warn("Session.onAnswerReceived answer payload missing",
			slog.String("callID", s.id))
		return
	}
	s.remotePartyID = content.PartyID
	answer := *content.Answer
	s.mu.Unlock()

	s.deps.media.Submit(func() {
		t := s.currentTransport()
		if t == nil {
			slog.Warn("Session.onAnswerReceived transport not ready",
				slog.String("callID", s.id),
				slog.String("code", ErrorCodeTransportNotReady.String()))
			return
		}
		if err := t.ApplyRemoteAnswer(s.ctx, answer); err != nil {
			slog.Error("Session.onAnswerReceived apply answer failed",
				slog.String("callID", s.id),
				slog.String("error", err.Error()))
			return
		}
		// Фиксируем выбранную ответившую сторону для остальных устройств
		selectContent := CallEventContent{
			CallID:          s.id,
			PartyID:         s.partyID,
			Version:         CallSignalingVersion,
			SelectedPartyID: content.PartyID,
		}
		if err := s.deps.sender.SendCallEvent(s.ctx, s.roomID, EventSelectAnswer, selectContent); err != nil {
			slog.Warn("Session.onAnswerReceived send select_answer failed",
				slog.String("callID", s.id),
				slog.String("code", ErrorCodeSignalSendFailed.String()),
				slog.String("error", err.Error()))
		}
		s.connect()
	})
}

// onCandidatesReceived обрабатывает удаленные ICE кандидаты.
// Валидно в Dialing, Answering и Connected; до готовности транспорта
// кандидаты буферизуются.
func (s *Session) onCandidatesReceived(content CallEventContent) {
	s.mu.Lock()
	cur := CallState(s.fsm.Current())
	if cur != StateDialing && cur != StateAnswering && cur != StateConnected {
		s.mu.Unlock()
		slog.Debug("Session.onCandidatesReceived ignored",
			slog.String("callID", s.id),
			slog.String("state", cur.String()))
		return
	}
	if s.transport == nil {
		s.pendingCandidates = append(s.pendingCandidates, content.Candidates...)
		s.mu.Unlock()
		return
	}
	t := s.transport
	s.mu.Unlock()

	candidates := content.Candidates
	s.deps.media.Submit(func() {
		for _, c := range candidates {
			if err := t.AddRemoteCandidate(s.ctx, c); err != nil {
				slog.Warn("Session.onCandidatesReceived add candidate failed",
					slog.String("callID", s.id),
					slog.String("error", err.Error()))
			}
		}
	})
}

// onNegotiateReceived обрабатывает повторное согласование сессии.
// Валидно в Dialing, Answering и Connected.
func (s *Session) onNegotiateReceived(content CallEventContent) {
	cur := s.State()
	if cur != StateDialing && cur != StateAnswering && cur != StateConnected {
		slog.Debug("Session.onNegotiateReceived ignored",
			slog.String("callID", s.id),
			slog.String("state", cur.String()))
		return
	}
	if content.Description == nil {
		slog.Warn("Session.onNegotiateReceived description missing",
			slog.String("callID", s.id))
		return
	}
	desc := *content.Description
	s.deps.media.Submit(func() {
		t := s.currentTransport()
		if t == nil {
			slog.Warn("Session.onNegotiateReceived transport not ready",
				slog.String("callID", s.id),
				slog.String("code", ErrorCodeTransportNotReady.String()))
			return
		}
		answer, err := t.ApplyRemoteDescription(s.ctx, desc)
		if err != nil {
			slog.Error("Session.onNegotiateReceived apply failed",
				slog.String("callID", s.id),
				slog.String("error", err.Error()))
			return
		}
		if answer == nil {
			return
		}
		reply := CallEventContent{
			CallID:      s.id,
			PartyID:     s.partyID,
			Version:     CallSignalingVersion,
			Description: answer,
		}
		if err := s.deps.sender.SendCallEvent(s.ctx, s.roomID, EventNegotiate, reply); err != nil {
			slog.Warn("Session.onNegotiateReceived send reply failed",
				slog.String("callID", s.id),
				slog.String("code", ErrorCodeSignalSendFailed.String()),
				slog.String("error", err.Error()))
		}
	})
}

// onSelectAnswerReceived обрабатывает выбор ответившей стороны.
// Если выбрана не эта сессия, вызов был принят на другом устройстве:
// завершаем локально без отправки hangup. Это штатный арбитраж
// нескольких устройств, а не ошибка.
func (s *Session) onSelectAnswerReceived(content CallEventContent) {
	if content.SelectedPartyID == s.partyID {
		slog.Debug("Session.onSelectAnswerReceived own party selected",
			slog.String("callID", s.id))
		return
	}
	slog.Info("Session.onSelectAnswerReceived answered elsewhere",
		slog.String("callID", s.id),
		slog.String("selectedPartyID", content.SelectedPartyID))
	s.endInternal(true, ReasonAnsweredElsewhere, "")
}

// onRemoteHangup обрабатывает hangup удаленной стороны.
func (s *Session) onRemoteHangup(content CallEventContent) {
	reason := content.Reason
	if reason == "" {
		reason = ReasonUserHangup
	}
	s.endInternal(false, reason, "")
}

// onRemoteReject обрабатывает reject удаленной стороны: вызов завершается
// локально, hangup не отправляется.
func (s *Session) onRemoteReject(content CallEventContent) {
	s.endInternal(false, ReasonUserHangup, "")
}

// sendLocalCandidate отправляет локальный ICE кандидат удаленной стороне.
func (s *Session) sendLocalCandidate(candidate CandidateInfo) {
	if s.State().Terminal() {
		return
	}
	content := CallEventContent{
		CallID:     s.id,
		PartyID:    s.partyID,
		Version:    CallSignalingVersion,
		Candidates: []CandidateInfo{candidate},
	}
	if err := s.deps.sender.SendCallEvent(s.ctx, s.roomID, EventCandidates, content); err != nil {
		slog.Warn("Session.sendLocalCandidate send failed",
			slog.String("callID", s.id),
			slog.String("code", ErrorCodeSignalSendFailed.String()),
			slog.String("error", err.Error()))
	}
}

// onTransportFailure обрабатывает фатальный сбой медиа транспорта.
func (s *Session) onTransportFailure(err error) {
	slog.Warn("Session.onTransportFailure",
		slog.String("callID", s.id),
		slog.String("error", err.Error()))
	s.endInternal(true, ReasonIceFailed, EventHangup)
}

// onTimeout обрабатывает истечение таймера установления соединения.
func (s *Session) onTimeout(reason HangupReason) {
	slog.Info("Session.onTimeout connection timed out",
		slog.String("callID", s.id),
		slog.String("roomID", s.roomID),
		slog.String("state", s.State().String()))
	s.endInternal(true, reason, EventHangup)
}

// armTimerLocked взводит таймер установления. Вызывается под s.mu.
func (s *Session) armTimerLocked(d time.Duration, reason HangupReason) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, func() {
		s.onTimeout(reason)
	})
}

// disarmTimerLocked снимает таймер установления. Вызывается под s.mu.
func (s *Session) disarmTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// endForConversation завершает сессию по запросу завершения всех вызовов
// комнаты. Hangup отправляется только для локально инициированного
// завершения.
func (s *Session) endForConversation(originatedLocally bool) {
	signal := EventType("")
	if originatedLocally {
		signal = EventHangup
	}
	s.endInternal(originatedLocally, ReasonUserHangup, signal)
}

// endInternal выполняет единственный терминальный переход сессии.
// Идемпотентен: для уже завершенной сессии возвращает false без побочных
// эффектов. signal определяет исходящее сигнальное событие (hangup,
// reject или ничего).
func (s *Session) endInternal(originatedLocally bool, reason HangupReason, signal EventType) bool {
	s.mu.Lock()
	cur := CallState(s.fsm.Current())
	if cur.Terminal() {
		s.mu.Unlock()
		return false
	}
	if err := s.transitionLocked(StateTerminated); err != nil {
		s.mu.Unlock()
		slog.Error("Session.endInternal transition failed",
			slog.String("callID", s.id),
			slog.String("code", ErrorCodeInvalidTransition.String()),
			slog.String("state", cur.String()),
			slog.String("error", err.Error()))
		return false
	}
	s.locallyEnded = originatedLocally
	s.endReason = reason
	s.disarmTimerLocked()
	t := s.transport
	s.transport = nil
	s.pendingCandidates = nil
	s.mu.Unlock()

	slog.Info("Session ended",
		slog.String("callID", s.id),
		slog.String("roomID", s.roomID),
		slog.String("reason", string(reason)),
		slog.Bool("originatedLocally", originatedLocally))

	s.notifyState(StateTerminated)

	if signal != "" {
		content := CallEventContent{
			CallID:  s.id,
			PartyID: s.partyID,
			Version: CallSignalingVersion,
		}
		if signal == EventHangup {
			content.Reason = reason
		}
		if err := s.deps.sender.SendCallEvent(s.ctx, s.roomID, signal, content); err != nil {
			slog.Warn("Session.endInternal send signal failed",
				slog.String("callID", s.id),
				slog.String("code", ErrorCodeSignalSendFailed.String()),
				slog.String("eventType", string(signal)),
				slog.String("error", err.Error()))
		}
	}

	if t != nil {
		s.deps.media.Submit(func() {
			if err := t.Close(); err != nil {
				slog.Warn("Session.endInternal transport close failed",
					slog.String("callID", s.id),
					slog.String("error", err.Error()))
			}
		})
	}

	s.deps.lifecycle.callEnded(s, reason)
	return true
}
