package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/feedsync/internal/pagination"
)

// TimelineKind selects one of the timeline endpoints.
type TimelineKind string

const (
	TimelineHome   TimelineKind = "home"
	TimelineLocal  TimelineKind = "local"
	TimelineHybrid TimelineKind = "hybrid"
	TimelineGlobal TimelineKind = "global"
)

var errUnknownTimeline = errors.New("api: unknown timeline kind")

// ParseTimelineKind validates a timeline name.
func ParseTimelineKind(raw string) (TimelineKind, error) {
	kind := TimelineKind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case TimelineHome, TimelineLocal, TimelineHybrid, TimelineGlobal:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownTimeline, raw)
	}
}

func (k TimelineKind) endpoint() string {
	switch k {
	case TimelineLocal:
		return "notes/local-timeline"
	case TimelineHybrid:
		return "notes/hybrid-timeline"
	case TimelineGlobal:
		return "notes/global-timeline"
	default:
		return "notes/timeline"
	}
}

// Page carries the cursor of one request. At most one of SinceID and UntilID is set.
type Page struct {
	SinceID string `json:"sinceId,omitempty"`
	UntilID string `json:"untilId,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (c *Client) page(page Page) Page {
	page.Limit = pagination.ClampPageSize(page.Limit, c.pageSize)
	if page.SinceID != "" && page.UntilID != "" {
		page.SinceID = ""
	}
	return page
}

type timelineRequest struct {
	Page
}

// Timeline fetches one page of a timeline.
func (c *Client) Timeline(ctx context.Context, kind TimelineKind, page Page) ([]NoteDTO, error) {
	var notes []NoteDTO
	if err := c.post(ctx, kind.endpoint(), timelineRequest{Page: c.page(page)}, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

type userNotesRequest struct {
	Page
	UserID      string `json:"userId"`
	WithReplies bool   `json:"withReplies,omitempty"`
	WithFiles   bool   `json:"withFiles,omitempty"`
}

// UserNotesOptions narrows a user's note list.
type UserNotesOptions struct {
	WithReplies bool
	WithFiles   bool
}

// UserNotes fetches one page of notes authored by userID.
func (c *Client) UserNotes(ctx context.Context, userID string, options UserNotesOptions, page Page) ([]NoteDTO, error) {
	request := userNotesRequest{
		Page:        c.page(page),
		UserID:      userID,
		WithReplies: options.WithReplies,
		WithFiles:   options.WithFiles,
	}
	var notes []NoteDTO
	if err := c.post(ctx, "users/notes", request, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

type searchRequest struct {
	Page
	Query  string  `json:"query"`
	UserID *string `json:"userId,omitempty"`
}

// SearchNotes fetches one page of notes matching query.
func (c *Client) SearchNotes(ctx context.Context, query string, page Page) ([]NoteDTO, error) {
	var notes []NoteDTO
	if err := c.post(ctx, "notes/search", searchRequest{Page: c.page(page), Query: query}, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

type renotesRequest struct {
	Page
	NoteID string `json:"noteId"`
}

// Renotes fetches one page of renotes and quotes of noteID.
func (c *Client) Renotes(ctx context.Context, noteID string, page Page) ([]NoteDTO, error) {
	var notes []NoteDTO
	if err := c.post(ctx, "notes/renotes", renotesRequest{Page: c.page(page), NoteID: noteID}, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// FeaturedNotes fetches one page of featured notes. Each note carries its featured token.
func (c *Client) FeaturedNotes(ctx context.Context, page Page) ([]NoteDTO, error) {
	var notes []NoteDTO
	if err := c.post(ctx, "notes/featured", timelineRequest{Page: c.page(page)}, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

type notificationsRequest struct {
	Page
	MarkAsRead bool `json:"markAsRead"`
}

// Notifications fetches one page of account notifications without marking them read.
func (c *Client) Notifications(ctx context.Context, page Page) ([]NotificationDTO, error) {
	var notifications []NotificationDTO
	if err := c.post(ctx, "i/notifications", notificationsRequest{Page: c.page(page)}, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

type showNoteRequest struct {
	NoteID string `json:"noteId"`
}

// ShowNote fetches one note.
func (c *Client) ShowNote(ctx context.Context, noteID string) (NoteDTO, error) {
	var note NoteDTO
	if err := c.post(ctx, "notes/show", showNoteRequest{NoteID: noteID}, &note); err != nil {
		return NoteDTO{}, err
	}
	return note, nil
}

type showUserRequest struct {
	UserID string `json:"userId"`
}

type showUsersRequest struct {
	UserIDs []string `json:"userIds"`
}

// ShowUser fetches one detailed user.
func (c *Client) ShowUser(ctx context.Context, userID string) (UserDTO, error) {
	var user UserDTO
	if err := c.post(ctx, "users/show", showUserRequest{UserID: userID}, &user); err != nil {
		return UserDTO{}, err
	}
	return user, nil
}

// ShowUsers fetches several detailed users in one request.
func (c *Client) ShowUsers(ctx context.Context, userIDs []string) ([]UserDTO, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var users []UserDTO
	if err := c.post(ctx, "users/show", showUsersRequest{UserIDs: userIDs}, &users); err != nil {
		return nil, err
	}
	return users, nil
}
