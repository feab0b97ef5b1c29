package mediaengine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/arzzra/callkit/pkg/call"
)

// Transport - медиа транспорт одного вызова поверх webrtc.PeerConnection.
// Реализует call.MediaTransport. Методы SDP/кандидатов вызываются на
// контексте сериализации движка; колбэки pion приходят из его горутин,
// поэтому внутреннее состояние защищено мьютексом.
type Transport struct {
	callID string
	media  call.MediaKind
	pc     *webrtc.PeerConnection

	mu          sync.Mutex
	renderer    call.VideoRenderer
	onCandidate func(call.CandidateInfo)
	onFailure   func(error)
	onClosed    func()

	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	mutedAudio  webrtc.TrackLocal
	mutedVideo  webrtc.TrackLocal

	closed bool
}

var _ call.MediaTransport = (*Transport)(nil)

func newTransport(callID string, pc *webrtc.PeerConnection, media call.MediaKind) *Transport {
	return &Transport{
		callID: callID,
		media:  media,
		pc:     pc,
	}
}

func (t *Transport) init() error {
	audio, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return errors.Wrap(err, "add audio transceiver")
	}
	t.audioSender = audio.Sender()
	if t.media == call.MediaVideo {
		video, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return errors.Wrap(err, "add video transceiver")
		}
		t.videoSender = video.Sender()
	}
	t.pc.OnICECandidate(t.handleICECandidate)
	t.pc.OnTrack(t.handleTrack)
	t.pc.OnConnectionStateChange(t.handleConnectionState)
	return nil
}

func (t *Transport) handleICECandidate(c *webrtc.ICECandidate) {
	// nil означает конец сбора кандидатов
	if c == nil {
		return
	}
	t.mu.Lock()
	cb := t.onCandidate
	t.mu.Unlock()
	if cb == nil {
		return
	}
	j := c.ToJSON()
	info := call.CandidateInfo{Candidate: j.Candidate}
	if j.SDPMid != nil {
		info.SDPMid = *j.SDPMid
	}
	if j.SDPMLineIndex != nil {
		info.SDPMLineIndex = *j.SDPMLineIndex
	}
	cb(info)
}

func (t *Transport) handleTrack(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	slog.Debug("remote track received",
		slog.String("callID", t.callID),
		slog.String("trackID", tr.ID()),
		slog.String("kind", tr.Kind().String()))
	t.mu.Lock()
	r := t.renderer
	t.mu.Unlock()
	if r != nil {
		r.OnRemoteTrack(tr.ID(), tr.Kind().String())
	}
	go t.drainTrack(tr)
}

// drainTrack вычитывает RTP дорожки, чтобы перехватчики получали
// пакеты. Доставка медиа получателю - ответственность renderer.
func (t *Transport) drainTrack(tr *webrtc.TrackRemote) {
	for {
		if _, _, err := tr.ReadRTP(); err != nil {
			t.mu.Lock()
			r := t.renderer
			t.mu.Unlock()
			if r != nil {
				r.OnTrackEnded(tr.ID())
			}
			return
		}
	}
}

func (t *Transport) handleConnectionState(state webrtc.PeerConnectionState) {
	slog.Debug("peer connection state changed",
		slog.String("callID", t.callID),
		slog.String("state", state.String()))
	if state != webrtc.PeerConnectionStateFailed {
		return
	}
	t.mu.Lock()
	cb := t.onFailure
	t.mu.Unlock()
	if cb != nil {
		cb(errors.New("peer connection failed"))
	}
}

// CreateOffer создает локальный offer и устанавливает его как локальное
// описание. Кандидаты отправляются по мере сбора (trickle), завершение
// сбора не ожидается.
func (t *Transport) CreateOffer(ctx context.Context) (*call.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create offer")
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, errors.Wrap(err, "set local description")
	}
	return &call.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer применяет удаленный offer и создает answer.
func (t *Transport) CreateAnswer(ctx context.Context, remoteOffer call.SessionDescription) (*call.SessionDescription, error) {
	info, err := DescribeSDP(remoteOffer.SDP)
	if err != nil {
		return nil, errors.Wrap(err, "inspect remote offer")
	}
	slog.Debug("remote offer media",
		slog.String("callID", t.callID),
		slog.Bool("audio", info.HasAudio),
		slog.Bool("video", info.HasVideo))
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  remoteOffer.SDP,
	}); err != nil {
		return nil, errors.Wrap(err, "set remote offer")
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create answer")
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, errors.Wrap(err, "set local description")
	}
	return &call.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// ApplyRemoteAnswer применяет answer удаленной стороны.
func (t *Transport) ApplyRemoteAnswer(ctx context.Context, answer call.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		return errors.Wrap(err, "set remote answer")
	}
	return nil
}

// ApplyRemoteDescription обрабатывает повторное согласование. Для
// удаленного offer возвращается созданный answer, для удаленного
// answer возвращается nil.
func (t *Transport) ApplyRemoteDescription(ctx context.Context, desc call.SessionDescription) (*call.SessionDescription, error) {
	switch desc.Type {
	case "offer":
		return t.CreateAnswer(ctx, desc)
	case "answer":
		if err := t.ApplyRemoteAnswer(ctx, desc); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, errors.Errorf("unsupported description type %q", desc.Type)
	}
}

// AddRemoteCandidate добавляет удаленный ICE кандидат.
func (t *Transport) AddRemoteCandidate(ctx context.Context, candidate call.CandidateInfo) error {
	init := webrtc.ICECandidateInit{Candidate: candidate.Candidate}
	if candidate.SDPMid != "" {
		mid := candidate.SDPMid
		init.SDPMid = &mid
	}
	idx := candidate.SDPMLineIndex
	init.SDPMLineIndex = &idx
	if err := t.pc.AddICECandidate(init); err != nil {
		return errors.Wrap(err, "add ice candidate")
	}
	return nil
}

// SetLocalAudioTrack привязывает локальную аудио дорожку к отправителю.
// Не входит в call.MediaTransport: приложение подключает источник
// захвата напрямую к *Transport.
func (t *Transport) SetLocalAudioTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	sender := t.audioSender
	t.mu.Unlock()
	if sender == nil {
		return errors.New("audio sender not initialized")
	}
	return errors.Wrap(sender.ReplaceTrack(track), "replace audio track")
}

// SetLocalVideoTrack привязывает локальную видео дорожку к отправителю.
func (t *Transport) SetLocalVideoTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	sender := t.videoSender
	t.mu.Unlock()
	if sender == nil {
		return errors.New("video sender not initialized")
	}
	return errors.Wrap(sender.ReplaceTrack(track), "replace video track")
}

// SetMicrophoneMuted отключает/возвращает локальную аудио дорожку.
// Если дорожка еще не привязана, операция является no-op.
func (t *Transport) SetMicrophoneMuted(muted bool) error {
	t.mu.Lock()
	sender := t.audioSender
	if sender == nil {
		t.mu.Unlock()
		return nil
	}
	if muted {
		current := sender.Track()
		if current == nil {
			t.mu.Unlock()
			return nil
		}
		t.mutedAudio = current
		t.mu.Unlock()
		return errors.Wrap(sender.ReplaceTrack(nil), "detach audio track")
	}
	saved := t.mutedAudio
	t.mutedAudio = nil
	t.mu.Unlock()
	if saved == nil {
		return nil
	}
	return errors.Wrap(sender.ReplaceTrack(saved), "restore audio track")
}

// SetCameraEnabled отключает/возвращает локальную видео дорожку.
// Если дорожка еще не привязана, операция является no-op.
func (t *Transport) SetCameraEnabled(enabled bool) error {
	t.mu.Lock()
	sender := t.videoSender
	if sender == nil {
		t.mu.Unlock()
		return nil
	}
	if !enabled {
		current := sender.Track()
		if current == nil {
			t.mu.Unlock()
			return nil
		}
		t.mutedVideo = current
		t.mu.Unlock()
		return errors.Wrap(sender.ReplaceTrack(nil), "detach video track")
	}
	saved := t.mutedVideo
	t.mutedVideo = nil
	t.mu.Unlock()
	if saved == nil {
		return nil
	}
	return errors.Wrap(sender.ReplaceTrack(saved), "restore video track")
}

// AttachRenderer подключает приемник удаленных дорожек.
func (t *Transport) AttachRenderer(renderer call.VideoRenderer) {
	t.mu.Lock()
	t.renderer = renderer
	t.mu.Unlock()
}

// DetachRenderer отключает приемник удаленных дорожек.
func (t *Transport) DetachRenderer() {
	t.mu.Lock()
	t.renderer = nil
	t.mu.Unlock()
}

// OnLocalCandidate устанавливает колбэк локальных ICE кандидатов.
func (t *Transport) OnLocalCandidate(cb func(call.CandidateInfo)) {
	t.mu.Lock()
	t.onCandidate = cb
	t.mu.Unlock()
}

// OnFailure устанавливает колбэк фатального сбоя соединения.
func (t *Transport) OnFailure(cb func(error)) {
	t.mu.Lock()
	t.onFailure = cb
	t.mu.Unlock()
}

// Close закрывает peer connection. Идемпотентен.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.renderer = nil
	t.onCandidate = nil
	t.onFailure = nil
	onClosed := t.onClosed
	t.mu.Unlock()

	err := t.pc.Close()
	if onClosed != nil {
		onClosed()
	}
	return errors.Wrap(err, "close peer connection")
}
