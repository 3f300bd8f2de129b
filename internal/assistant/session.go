package assistant

import "time"

// Stage is the dialogue's position in the booking/cancellation conversation.
// It is one tagged value rather than independent flags so invalid
// combinations cannot be reached.
type Stage int

const (
	// StageNone is the idle state between flows.
	StageNone Stage = iota
	// StageAwaitingDate means the assistant asked for a booking date.
	StageAwaitingDate
	// StageAwaitingTime means a date was accepted and slots were offered.
	StageAwaitingTime
	// StageAwaitingCancelConfirm means a yes/no cancellation prompt is pending.
	StageAwaitingCancelConfirm
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingDate:
		return "awaiting_date"
	case StageAwaitingTime:
		return "awaiting_time"
	case StageAwaitingCancelConfirm:
		return "awaiting_cancel_confirm"
	default:
		return "none"
	}
}

// Message is one exchanged chat line.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the in-memory state of one conversation. It lives for the
// duration of the conversation only; nothing here is durable. Each stage
// carries only the data it needs: StageAwaitingTime holds the chosen date
// and the slot list that was offered for it.
type Session struct {
	ID            string
	Stage         Stage
	CandidateDate string
	OfferedSlots  []string
	Transcript    []Message
}

// NewSession starts an idle session.
func NewSession(id string) *Session {
	return &Session{ID: id, Stage: StageNone}
}

// reset returns the session to the idle stage, dropping stage data.
func (s *Session) reset() {
	s.Stage = StageNone
	s.CandidateDate = ""
	s.OfferedSlots = nil
}

// append records one line of the conversation.
func (s *Session) append(role, text string, at time.Time) {
	s.Transcript = append(s.Transcript, Message{Role: role, Text: text, Timestamp: at})
}
