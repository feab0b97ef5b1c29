package call

import "context"

// EventType тип сигнального события вызова в комнате.
type EventType string

const (
	EventInvite       EventType = "m.call.invite"
	EventAnswer       EventType = "m.call.answer"
	EventCandidates   EventType = "m.call.candidates"
	EventHangup       EventType = "m.call.hangup"
	EventReject       EventType = "m.call.reject"
	EventSelectAnswer EventType = "m.call.select_answer"
	EventNegotiate    EventType = "m.call.negotiate"
)

// CallSignalingVersion версия сигнального протокола в поле version.
const CallSignalingVersion = "1"

// SessionDescription - SDP описание сессии (offer, answer или description
// для negotiate).
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidateInfo - один ICE кандидат в событии candidates.
type CandidateInfo struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// CallEventContent - содержимое сигнального события. Набор заполненных
// полей зависит от типа события.
type CallEventContent struct {
	CallID          string              `json:"call_id"`
	PartyID         string              `json:"party_id"`
	Version         string              `json:"version"`
	Lifetime        uint32              `json:"lifetime,omitempty"`
	Offer           *SessionDescription `json:"offer,omitempty"`
	Answer          *SessionDescription `json:"answer,omitempty"`
	Description     *SessionDescription `json:"description,omitempty"`
	Candidates      []CandidateInfo     `json:"candidates,omitempty"`
	Reason          HangupReason        `json:"reason,omitempty"`
	SelectedPartyID string              `json:"selected_party_id,omitempty"`
}

// SignalingEvent - входящее сигнальное событие, доставленное транспортом
// мессенджера.
type SignalingEvent struct {
	// Type тип события
	Type EventType
	// RoomID комната, в которой произошло событие
	RoomID string
	// SenderID идентификатор отправителя события
	SenderID string
	// Content содержимое события
	Content CallEventContent
}

// SignalSender отправляет исходящие сигнальные события удаленной стороне
// через транспорт мессенджера.
type SignalSender interface {
	SendCallEvent(ctx context.Context, roomID string, eventType EventType, content CallEventContent) error
}
