package taskcore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// Phase is the state of a session's execution state machine.
type Phase string

const (
	PhasePlanning     Phase = "PLANNING"
	PhaseExecuting    Phase = "EXECUTING"
	PhaseAwaitingUser Phase = "AWAITING_USER"
	PhaseReplanning   Phase = "REPLANNING"
	PhaseComplete     Phase = "COMPLETE"
	PhaseFailed       Phase = "FAILED"
)

// Terminal reports whether the phase ends the mission.
func (x Phase) Terminal() bool {
	return x == PhaseComplete || x == PhaseFailed
}

// SessionStateFormatVersion is the format version of persisted SessionState documents.
const SessionStateFormatVersion = 1

// PendingQuestion is a question the session is suspended on.
type PendingQuestion struct {
	AnswerKey       string `json:"answer_key"`
	Question        string `json:"question"`
	ForTaskPosition int    `json:"for_task_position,omitempty"`
}

// SessionState is the persisted state of one session.
type SessionState struct {
	SessionID       string            `json:"session_id"`
	Mission         string            `json:"mission"`
	TodoListID      string            `json:"todolist_id,omitempty"`
	Answers         map[string]string `json:"answers"`
	PendingQuestion *PendingQuestion  `json:"pending_question,omitempty"`
	Phase           Phase             `json:"phase"`
	Messages        []Message         `json:"messages,omitempty"`
	Version         int               `json:"version"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewSessionState returns an empty state in the PLANNING phase.
func NewSessionState(sessionID, mission string) *SessionState {
	return &SessionState{
		SessionID: sessionID,
		Mission:   mission,
		Answers:   map[string]string{},
		Phase:     PhasePlanning,
	}
}

// UnmarshalJSON implements json.Unmarshaler with format version validation.
func (x *SessionState) UnmarshalJSON(data []byte) error {
	type alias SessionState
	var doc struct {
		FormatVersion int `json:"format_version"`
		alias
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.FormatVersion != SessionStateFormatVersion {
		return goerr.Wrap(ErrFormatVersionMismatch, "unsupported session format",
			goerr.V("got", doc.FormatVersion),
			goerr.V("want", SessionStateFormatVersion),
		)
	}
	*x = SessionState(doc.alias)
	if x.Answers == nil {
		x.Answers = map[string]string{}
	}
	return nil
}

// MarshalJSON implements json.Marshaler and stamps the format version.
func (x SessionState) MarshalJSON() ([]byte, error) {
	type alias SessionState
	return json.Marshal(struct {
		FormatVersion int `json:"format_version"`
		alias
	}{
		FormatVersion: SessionStateFormatVersion,
		alias:         alias(x),
	})
}

// Clone returns a deep copy of the state.
func (x *SessionState) Clone() *SessionState {
	if x == nil {
		return nil
	}
	data, err := json.Marshal(x)
	if err != nil {
		return nil
	}
	var clone SessionState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil
	}
	return &clone
}

var answerKeyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/m-mizutani/taskcore/answer"))

// AnswerKeyFor derives a stable answer key from the question text.
func AnswerKeyFor(question string) string {
	return "q_" + uuid.NewSHA1(answerKeyNamespace, []byte(question)).String()
}
