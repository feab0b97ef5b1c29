package call

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// sentEvent - одно отправленное сигнальное событие.
type sentEvent struct {
	Ctx     context.Context
	RoomID  string
	Type    EventType
	Content CallEventContent
}

// mockSender записывает отправленные сигнальные события.
type mockSender struct {
	mu     sync.Mutex
	events []sentEvent
	err    error
}

func (m *mockSender) SendCallEvent(ctx context.Context, roomID string, eventType EventType, content CallEventContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, sentEvent{Ctx: ctx, RoomID: roomID, Type: eventType, Content: content})
	return nil
}

func (m *mockSender) eventsOfType(t EventType) []sentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentEvent
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (m *mockSender) allEvents() []sentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentEvent, len(m.events))
	copy(out, m.events)
	return out
}

// mockTransport - медиа транспорт без реального WebRTC.
type mockTransport struct {
	mu              sync.Mutex
	offersCreated   int
	answersCreated  int
	appliedAnswers  []SessionDescription
	candidates      []CandidateInfo
	micMuted        bool
	cameraEnabled   bool
	closed          bool
	renderer        VideoRenderer
	candidateCB     func(CandidateInfo)
	failureCB       func(error)
	createOfferErr  error
	createAnswerErr error
}

func (m *mockTransport) CreateOffer(context.Context) (*SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createOfferErr != nil {
		return nil, m.createOfferErr
	}
	m.offersCreated++
	return &SessionDescription{Type: "offer", SDP: "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"}, nil
}

func (m *mockTransport) CreateAnswer(_ context.Context, _ SessionDescription) (*SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createAnswerErr != nil {
		return nil, m.createAnswerErr
	}
	m.answersCreated++
	return &SessionDescription{Type: "answer", SDP: "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"}, nil
}

func (m *mockTransport) ApplyRemoteAnswer(_ context.Context, answer SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appliedAnswers = append(m.appliedAnswers, answer)
	return nil
}

func (m *mockTransport) ApplyRemoteDescription(_ context.Context, desc SessionDescription) (*SessionDescription, error) {
	if desc.Type == "offer" {
		return &SessionDescription{Type: "answer", SDP: "v=0\r\n"}, nil
	}
	return nil, nil
}

func (m *mockTransport) AddRemoteCandidate(_ context.Context, candidate CandidateInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, candidate)
	return nil
}

func (m *mockTransport) SetMicrophoneMuted(muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.micMuted = muted
	return nil
}

func (m *mockTransport) SetCameraEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cameraEnabled = enabled
	return nil
}

func (m *mockTransport) AttachRenderer(renderer VideoRenderer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderer = renderer
}

func (m *mockTransport) DetachRenderer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderer = nil
}

func (m *mockTransport) OnLocalCandidate(cb func(CandidateInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidateCB = cb
}

func (m *mockTransport) OnFailure(cb func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureCB = cb
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) remoteCandidates() []CandidateInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CandidateInfo, len(m.candidates))
	copy(out, m.candidates)
	return out
}

func (m *mockTransport) emitLocalCandidate(c CandidateInfo) {
	m.mu.Lock()
	cb := m.candidateCB
	m.mu.Unlock()
	if cb != nil {
		cb(c)
	}
}

func (m *mockTransport) emitFailure(err error) {
	m.mu.Lock()
	cb := m.failureCB
	m.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// mockMedia - медиа провайдер, выполняющий задачи синхронно в
// вызывающей горутине: тесты получают детерминированный порядок.
type mockMedia struct {
	mu           sync.Mutex
	acquireCount int
	releaseCount int
	transports   map[string]*mockTransport
	acquireErr   error
	transportErr error
}

func newMockMedia() *mockMedia {
	return &mockMedia{transports: make(map[string]*mockTransport)}
}

func (m *mockMedia) Acquire(done func(error)) {
	m.mu.Lock()
	m.acquireCount++
	err := m.acquireErr
	m.mu.Unlock()
	done(err)
}

func (m *mockMedia) NewTransport(callID string, _ MediaKind) (MediaTransport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transportErr != nil {
		return nil, m.transportErr
	}
	t := &mockTransport{}
	m.transports[callID] = t
	return t, nil
}

func (m *mockMedia) Submit(task func()) {
	task()
}

func (m *mockMedia) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCount++
}

func (m *mockMedia) transportFor(callID string) *mockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transports[callID]
}

func (m *mockMedia) counters() (acquired, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquireCount, m.releaseCount
}

// mockPresentation записывает уведомления пользовательского интерфейса.
type mockPresentation struct {
	mu         sync.Mutex
	incoming   []string
	started    []string
	connected  []string
	terminated []string
}

func (m *mockPresentation) IncomingCall(callID, _, _ string, _ MediaKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incoming = append(m.incoming, callID)
}

func (m *mockPresentation) CallStarted(callID, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, callID)
}

func (m *mockPresentation) CallConnected(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = append(m.connected, callID)
}

func (m *mockPresentation) CallTerminated(callID string, _ HangupReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = append(m.terminated, callID)
}

func (m *mockPresentation) incomingCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.incoming))
	copy(out, m.incoming)
	return out
}

func (m *mockPresentation) terminatedCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.terminated))
	copy(out, m.terminated)
	return out
}

// mockSync записывает запросы фонового ускорения синхронизации.
type mockSync struct {
	mu        sync.Mutex
	boosted   []string
	cancelled []string
}

func (m *mockSync) RequestBoost(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boosted = append(m.boosted, callID)
}

func (m *mockSync) CancelBoost(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, callID)
}

func (m *mockSync) boostedCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.boosted))
	copy(out, m.boosted)
	return out
}

// mockAudio записывает события аудио маршрутизации.
type mockAudio struct {
	mu      sync.Mutex
	started int
	ended   int
}

func (m *mockAudio) CallStarted(_ MediaKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *mockAudio) CallEnded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended++
}

func (m *mockAudio) counters() (started, ended int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.ended
}

// mockListener записывает смены текущего вызова и аудио маршрута.
type mockListener struct {
	mu      sync.Mutex
	current []string
	routes  []AudioRoute
}

func (m *mockListener) OnCurrentCallChanged(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		m.current = append(m.current, "")
		return
	}
	m.current = append(m.current, s.ID())
}

func (m *mockListener) OnAudioRouteChanged(route AudioRoute) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route)
}

func (m *mockListener) currentChanges() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.current))
	copy(out, m.current)
	return out
}

func (m *mockListener) audioRoutes() []AudioRoute {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AudioRoute, len(m.routes))
	copy(out, m.routes)
	return out
}

// testEnv - набор моков, подключенных к Registry.
type testEnv struct {
	registry     *Registry
	sender       *mockSender
	media        *mockMedia
	presentation *mockPresentation
	sync         *mockSync
	audio        *mockAudio
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		sender:       &mockSender{},
		media:        newMockMedia(),
		presentation: &mockPresentation{},
		sync:         &mockSync{},
		audio:        &mockAudio{},
	}
	if cfg.PartyID == "" {
		cfg.PartyID = "party-local"
	}
	reg, err := NewRegistry(cfg, Deps{
		Sender:       env.sender,
		Media:        env.media,
		Presentation: env.presentation,
		Audio:        env.audio,
		Sync:         env.sync,
	})
	require.NoError(t, err, "registry should be created")
	env.registry = reg
	t.Cleanup(func() {
		_ = reg.Close()
	})
	return env
}

const testAudioSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"a=mid:0\r\n"

const testAudioVideoSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"a=mid:0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"a=mid:1\r\n"

// incomingInvite формирует входящий invite для тестов.
func incomingInvite(callID, roomID, senderID string) SignalingEvent {
	return SignalingEvent{
		Type:     EventInvite,
		RoomID:   roomID,
		SenderID: senderID,
		Content: CallEventContent{
			CallID:  callID,
			PartyID: "party-remote",
			Version: CallSignalingVersion,
			Offer:   &SessionDescription{Type: "offer", SDP: testAudioSDP},
		},
	}
}

// remoteAnswer формирует answer удаленной стороны для тестов.
func remoteAnswer(callID string) SignalingEvent {
	return SignalingEvent{
		Type: EventAnswer,
		Content: CallEventContent{
			CallID:  callID,
			PartyID: "party-remote",
			Version: CallSignalingVersion,
			Answer:  &SessionDescription{Type: "answer", SDP: "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"},
		},
	}
}
