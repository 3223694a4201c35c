package model

import "slices"

// Emoji is a custom emoji referenced from names or texts.
type Emoji struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// UserProfile carries the display fields shared by simple and detailed users.
type UserProfile struct {
	UserName   string  `json:"username"`
	Name       string  `json:"name,omitempty"`
	AvatarURL  string  `json:"avatar_url,omitempty"`
	Host       string  `json:"host,omitempty"`
	Emojis     []Emoji `json:"emojis,omitempty"`
	IsBot      bool    `json:"is_bot"`
	IsCat      bool    `json:"is_cat"`
	IsSameHost bool    `json:"is_same_host"`
}

// UserDetail carries fields only returned by detailed user endpoints.
type UserDetail struct {
	Description                    string   `json:"description,omitempty"`
	FollowersCount                 int      `json:"followers_count"`
	FollowingCount                 int      `json:"following_count"`
	NotesCount                     int      `json:"notes_count"`
	PinnedNoteIDs                  []NoteID `json:"pinned_note_ids,omitempty"`
	BannerURL                      string   `json:"banner_url,omitempty"`
	URL                            string   `json:"url,omitempty"`
	IsFollowing                    bool     `json:"is_following"`
	IsFollower                     bool     `json:"is_follower"`
	IsBlocking                     bool     `json:"is_blocking"`
	IsMuting                       bool     `json:"is_muting"`
	HasPendingFollowRequestFromYou bool     `json:"has_pending_follow_request_from_you"`
	HasPendingFollowRequestToYou   bool     `json:"has_pending_follow_request_to_you"`
	IsLocked                       bool     `json:"is_locked"`
}

// User is a tagged variant: a nil Detail is the simple shape.
type User struct {
	ID      UserID      `json:"id"`
	Profile UserProfile `json:"profile"`
	Detail  *UserDetail `json:"detail,omitempty"`
}

// NewSimpleUser builds the simple shape.
func NewSimpleUser(id UserID, profile UserProfile) User {
	return User{ID: id, Profile: profile}
}

// NewDetailUser builds the detailed shape.
func NewDetailUser(id UserID, profile UserProfile, detail UserDetail) User {
	detailCopy := detail
	detailCopy.PinnedNoteIDs = slices.Clone(detail.PinnedNoteIDs)
	return User{ID: id, Profile: profile, Detail: &detailCopy}
}

// IsDetail reports whether the user carries detail fields.
func (u User) IsDetail() bool {
	return u.Detail != nil
}

// MergeUser combines an incoming user with the cached one.
//
// A detailed incoming user replaces the cached one. A simple incoming user merged into a
// cached detailed user only overwrites the profile fields and keeps the detail fields.
// Anything else is replaced.
func MergeUser(existing, incoming User) User {
	if incoming.IsDetail() || !existing.IsDetail() {
		return incoming
	}
	merged := existing
	detailCopy := *existing.Detail
	merged.Detail = &detailCopy
	merged.Profile = incoming.Profile
	return merged
}

// FollowState summarizes the viewer's relationship with a detailed user.
type FollowState string

const (
	FollowStateUnknown              FollowState = "unknown"
	FollowStateFollowing            FollowState = "following"
	FollowStatePendingFollowRequest FollowState = "pending_follow_request"
	FollowStateUnfollowing          FollowState = "unfollowing"
	FollowStateUnfollowingLocked    FollowState = "unfollowing_locked"
)

// FollowState derives the follow state; simple users report FollowStateUnknown.
func (u User) FollowState() FollowState {
	if u.Detail == nil {
		return FollowStateUnknown
	}
	if u.Detail.IsFollowing {
		return FollowStateFollowing
	}
	if u.Detail.IsLocked {
		if u.Detail.HasPendingFollowRequestFromYou {
			return FollowStatePendingFollowRequest
		}
		return FollowStateUnfollowingLocked
	}
	return FollowStateUnfollowing
}

// DisplayUserName renders @name or @name@host for remote users.
func (u User) DisplayUserName() string {
	if u.Profile.IsSameHost || u.Profile.Host == "" {
		return "@" + u.Profile.UserName
	}
	return "@" + u.Profile.UserName + "@" + u.Profile.Host
}

// DisplayName prefers the profile name and falls back to the user name.
func (u User) DisplayName() string {
	if u.Profile.Name != "" {
		return u.Profile.Name
	}
	return u.Profile.UserName
}
