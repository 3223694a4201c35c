package model

import (
	"slices"
	"time"
)

// VisibilityKind enumerates the audience of a note.
type VisibilityKind string

const (
	VisibilityPublic    VisibilityKind = "public"
	VisibilityHome      VisibilityKind = "home"
	VisibilityFollowers VisibilityKind = "followers"
	VisibilitySpecified VisibilityKind = "specified"
)

// Visibility is a tagged variant; Recipients is only meaningful for VisibilitySpecified.
type Visibility struct {
	Kind       VisibilityKind `json:"kind"`
	Recipients []UserID       `json:"recipients,omitempty"`
}

// PublicVisibility returns the public variant.
func PublicVisibility() Visibility {
	return Visibility{Kind: VisibilityPublic}
}

// HomeVisibility returns the home variant.
func HomeVisibility() Visibility {
	return Visibility{Kind: VisibilityHome}
}

// FollowersVisibility returns the followers variant.
func FollowersVisibility() Visibility {
	return Visibility{Kind: VisibilityFollowers}
}

// SpecifiedVisibility returns the specified variant addressed to recipients.
func SpecifiedVisibility(recipients ...UserID) Visibility {
	return Visibility{Kind: VisibilitySpecified, Recipients: slices.Clone(recipients)}
}

// PollChoice is one option of a poll.
type PollChoice struct {
	Text    string `json:"text"`
	Votes   int    `json:"votes"`
	IsVoted bool   `json:"is_voted"`
}

// Poll attached to a note.
type Poll struct {
	Choices   []PollChoice `json:"choices"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	Multiple  bool         `json:"multiple"`
}

// ReactionCount is the tally of one reaction on a note.
type ReactionCount struct {
	Reaction string `json:"reaction"`
	Count    int    `json:"count"`
}

// Note is a single feed post as cached for one account.
type Note struct {
	ID             NoteID          `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	Text           *string         `json:"text,omitempty"`
	CW             *string         `json:"cw,omitempty"`
	UserID         UserID          `json:"user_id"`
	ReplyID        *NoteID         `json:"reply_id,omitempty"`
	RenoteID       *NoteID         `json:"renote_id,omitempty"`
	Visibility     Visibility      `json:"visibility"`
	LocalOnly      bool            `json:"local_only"`
	FileIDs        []FileID        `json:"file_ids,omitempty"`
	Poll           *Poll           `json:"poll,omitempty"`
	ReactionCounts []ReactionCount `json:"reaction_counts,omitempty"`
	MyReaction     *string         `json:"my_reaction,omitempty"`
	RenoteCount    int             `json:"renote_count"`
	RepliesCount   int             `json:"replies_count"`
	ChannelID      string          `json:"channel_id,omitempty"`
	URL            string          `json:"url,omitempty"`
	URI            string          `json:"uri,omitempty"`
}

// IsRenote reports whether the note points at another note as a renote.
func (n Note) IsRenote() bool {
	return n.RenoteID != nil
}

// HasContent reports whether the note carries text, files or a poll of its own.
func (n Note) HasContent() bool {
	return n.Text != nil || len(n.FileIDs) > 0 || n.Poll != nil
}

// IsQuote reports whether the note is a renote with its own content.
func (n Note) IsQuote() bool {
	return n.IsRenote() && n.HasContent()
}

// CanRenote reports whether the viewer identified by userID may renote this note.
// Only a coarse check is made: a note that was fetched is already visible to the viewer.
func (n Note) CanRenote(userID UserID) bool {
	if n.ID.Account != userID.Account {
		return false
	}
	switch n.Visibility.Kind {
	case VisibilityPublic, VisibilityHome:
		return true
	case VisibilitySpecified, VisibilityFollowers:
		return n.UserID == userID
	default:
		return false
	}
}

// Reacted returns a copy of the note with reaction counted once more.
func (n Note) Reacted(reaction string, byViewer bool) Note {
	updated := n.clone()
	found := false
	for index := range updated.ReactionCounts {
		if updated.ReactionCounts[index].Reaction == reaction {
			updated.ReactionCounts[index].Count++
			found = true
			break
		}
	}
	if !found {
		updated.ReactionCounts = append(updated.ReactionCounts, ReactionCount{Reaction: reaction, Count: 1})
	}
	if byViewer {
		mine := reaction
		updated.MyReaction = &mine
	}
	return updated
}

// Unreacted returns a copy of the note with one reaction removed; empty tallies are dropped.
func (n Note) Unreacted(reaction string, byViewer bool) Note {
	updated := n.clone()
	counts := updated.ReactionCounts[:0]
	for _, count := range updated.ReactionCounts {
		if count.Reaction == reaction {
			count.Count--
		}
		if count.Count > 0 {
			counts = append(counts, count)
		}
	}
	updated.ReactionCounts = counts
	if byViewer && updated.MyReaction != nil && *updated.MyReaction == reaction {
		updated.MyReaction = nil
	}
	return updated
}

// PollVoted returns a copy of the note with one vote added to choice.
func (n Note) PollVoted(choice int, byViewer bool) Note {
	updated := n.clone()
	if updated.Poll == nil || choice < 0 || choice >= len(updated.Poll.Choices) {
		return updated
	}
	updated.Poll.Choices[choice].Votes++
	if byViewer {
		updated.Poll.Choices[choice].IsVoted = true
	}
	return updated
}

func (n Note) clone() Note {
	copied := n
	copied.FileIDs = slices.Clone(n.FileIDs)
	copied.ReactionCounts = slices.Clone(n.ReactionCounts)
	copied.Visibility.Recipients = slices.Clone(n.Visibility.Recipients)
	if n.Poll != nil {
		poll := *n.Poll
		poll.Choices = slices.Clone(n.Poll.Choices)
		copied.Poll = &poll
	}
	return copied
}
