package streaming

import "encoding/json"

// Event tags carried by push envelopes.
const (
	TagUserUpdated         = "user-updated"
	TagNoteCreated         = "note-created"
	TagNoteUpdated         = "note-updated"
	TagNoteDeleted         = "note-deleted"
	TagNotificationCreated = "notification-created"
	TagNoteReacted         = "note-reacted"
	TagNoteUnreacted       = "note-unreacted"
	TagPollVoted           = "poll-voted"
)

// Envelope is one push event.
type Envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// NoteRef identifies a note in delete bodies. Both "id" and "noteId" are accepted.
type NoteRef struct {
	ID     string `json:"id"`
	NoteID string `json:"noteId"`
}

func (r NoteRef) remote() string {
	if r.ID != "" {
		return r.ID
	}
	return r.NoteID
}

// ReactionBody is the body of note-reacted and note-unreacted.
type ReactionBody struct {
	NoteRef
	Reaction string `json:"reaction"`
	UserID   string `json:"userId"`
}

// PollVoteBody is the body of poll-voted.
type PollVoteBody struct {
	NoteRef
	Choice int    `json:"choice"`
	UserID string `json:"userId"`
}

// Encode builds an envelope from a typed body.
func Encode(tag string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: tag, Body: raw})
}
