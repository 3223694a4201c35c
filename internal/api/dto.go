package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// NoteDTO is a note as returned by the remote API. Renote and Reply are embedded one level
// deep by the server.
type NoteDTO struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"createdAt"`
	Text           *string           `json:"text,omitempty"`
	CW             *string           `json:"cw,omitempty"`
	UserID         string            `json:"userId"`
	User           UserDTO           `json:"user"`
	ReplyID        *string           `json:"replyId,omitempty"`
	RenoteID       *string           `json:"renoteId,omitempty"`
	Reply          *NoteDTO          `json:"reply,omitempty"`
	Renote         *NoteDTO          `json:"renote,omitempty"`
	Visibility     string            `json:"visibility,omitempty"`
	VisibleUserIDs []string          `json:"visibleUserIds,omitempty"`
	LocalOnly      bool              `json:"localOnly,omitempty"`
	URL            string            `json:"url,omitempty"`
	URI            string            `json:"uri,omitempty"`
	RenoteCount    int               `json:"renoteCount"`
	RepliesCount   int               `json:"repliesCount"`
	Reactions      ReactionCountsDTO `json:"reactions,omitempty"`
	Emojis         EmojisDTO         `json:"emojis,omitempty"`
	FileIDs        []string          `json:"fileIds,omitempty"`
	Files          []FilePropertyDTO `json:"files,omitempty"`
	Poll           *PollDTO          `json:"poll,omitempty"`
	MyReaction     *string           `json:"myReaction,omitempty"`
	ChannelID      string            `json:"channelId,omitempty"`
	FeaturedID     string            `json:"_featuredId_,omitempty"`
	PromotionID    string            `json:"_prId_,omitempty"`
}

// UserDTO covers both the simple and the detailed user payloads. Relationship fields are
// pointers because their absence marks the simple shape.
type UserDTO struct {
	ID                             string    `json:"id"`
	UserName                       string    `json:"username"`
	Name                           *string   `json:"name,omitempty"`
	Host                           *string   `json:"host,omitempty"`
	AvatarURL                      *string   `json:"avatarUrl,omitempty"`
	IsBot                          bool      `json:"isBot,omitempty"`
	IsCat                          bool      `json:"isCat,omitempty"`
	Emojis                         EmojisDTO `json:"emojis,omitempty"`
	Description                    *string   `json:"description,omitempty"`
	FollowersCount                 *int      `json:"followersCount,omitempty"`
	FollowingCount                 *int      `json:"followingCount,omitempty"`
	NotesCount                     *int      `json:"notesCount,omitempty"`
	PinnedNoteIDs                  []string  `json:"pinnedNoteIds,omitempty"`
	BannerURL                      *string   `json:"bannerUrl,omitempty"`
	URL                            *string   `json:"url,omitempty"`
	IsFollowing                    *bool     `json:"isFollowing,omitempty"`
	IsFollowed                     *bool     `json:"isFollowed,omitempty"`
	IsBlocking                     *bool     `json:"isBlocking,omitempty"`
	IsMuted                        *bool     `json:"isMuted,omitempty"`
	HasPendingFollowRequestFromYou *bool     `json:"hasPendingFollowRequestFromYou,omitempty"`
	HasPendingFollowRequestToYou   *bool     `json:"hasPendingFollowRequestToYou,omitempty"`
	IsLocked                       *bool     `json:"isLocked,omitempty"`
}

// IsDetail reports whether the payload came from a detailed endpoint.
func (u UserDTO) IsDetail() bool {
	return u.IsFollowing != nil || u.Description != nil || u.FollowersCount != nil
}

// FilePropertyDTO is a drive file.
type FilePropertyDTO struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	URL          string    `json:"url"`
	ThumbnailURL *string   `json:"thumbnailUrl,omitempty"`
	IsSensitive  bool      `json:"isSensitive"`
	Size         int64     `json:"size"`
}

// PollDTO is a poll attached to a note.
type PollDTO struct {
	Choices   []PollChoiceDTO `json:"choices"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Multiple  bool            `json:"multiple"`
}

// PollChoiceDTO is one poll option.
type PollChoiceDTO struct {
	Text    string `json:"text"`
	Votes   int    `json:"votes"`
	IsVoted bool   `json:"isVoted"`
}

// NotificationDTO is an account notification.
type NotificationDTO struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Type      string    `json:"type"`
	UserID    *string   `json:"userId,omitempty"`
	User      *UserDTO  `json:"user,omitempty"`
	Note      *NoteDTO  `json:"note,omitempty"`
	Reaction  string    `json:"reaction,omitempty"`
	IsRead    bool      `json:"isRead"`
}

// EmojiDTO is one custom emoji.
type EmojiDTO struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// EmojisDTO accepts both the list form and the name-to-url object form of emojis.
type EmojisDTO []EmojiDTO

func (e *EmojisDTO) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*e = nil
		return nil
	}
	if trimmed[0] == '[' {
		var list []EmojiDTO
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*e = list
		return nil
	}
	pairs, err := decodeOrderedObject(trimmed)
	if err != nil {
		return fmt.Errorf("emojis: %w", err)
	}
	list := make([]EmojiDTO, 0, len(pairs))
	for _, pair := range pairs {
		var url string
		if err := json.Unmarshal(pair.value, &url); err != nil {
			return fmt.Errorf("emojis: %w", err)
		}
		list = append(list, EmojiDTO{Name: pair.key, URL: url})
	}
	*e = list
	return nil
}

// ReactionCountDTO is one reaction tally.
type ReactionCountDTO struct {
	Reaction string
	Count    int
}

// ReactionCountsDTO decodes the reactions object keeping the server's key order.
type ReactionCountsDTO []ReactionCountDTO

func (r *ReactionCountsDTO) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = nil
		return nil
	}
	pairs, err := decodeOrderedObject(trimmed)
	if err != nil {
		return fmt.Errorf("reactions: %w", err)
	}
	counts := make([]ReactionCountDTO, 0, len(pairs))
	for _, pair := range pairs {
		var count int
		if err := json.Unmarshal(pair.value, &count); err != nil {
			return fmt.Errorf("reactions: %w", err)
		}
		counts = append(counts, ReactionCountDTO{Reaction: pair.key, Count: count})
	}
	*r = counts
	return nil
}

func (r ReactionCountsDTO) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for index, count := range r {
		if index > 0 {
			buffer.WriteByte(',')
		}
		key, err := json.Marshal(count.Reaction)
		if err != nil {
			return nil, err
		}
		buffer.Write(key)
		fmt.Fprintf(&buffer, ":%d", count.Count)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

type orderedPair struct {
	key   string
	value json.RawMessage
}

func decodeOrderedObject(data []byte) ([]orderedPair, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", token)
	}
	var pairs []orderedPair
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyToken.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %v", keyToken)
		}
		var value json.RawMessage
		if err := decoder.Decode(&value); err != nil {
			return nil, err
		}
		pairs = append(pairs, orderedPair{key: key, value: value})
	}
	return pairs, nil
}
