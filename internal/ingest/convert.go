package ingest

import (
	"strings"

	"github.com/MarcoPoloResearchLab/feedsync/internal/api"
	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
)

// ConvertNote maps a note payload onto the domain note. Embedded renote, reply, user and
// files are not converted here.
func ConvertNote(account model.AccountID, dto api.NoteDTO) (model.Note, error) {
	id, err := model.NewNoteID(account, dto.ID)
	if err != nil {
		return model.Note{}, err
	}
	userRemote := dto.UserID
	if userRemote == "" {
		userRemote = dto.User.ID
	}
	userID, err := model.NewUserID(account, userRemote)
	if err != nil {
		return model.Note{}, err
	}
	note := model.Note{
		ID:           id,
		CreatedAt:    dto.CreatedAt,
		Text:         dto.Text,
		CW:           dto.CW,
		UserID:       userID,
		LocalOnly:    dto.LocalOnly,
		MyReaction:   dto.MyReaction,
		RenoteCount:  dto.RenoteCount,
		RepliesCount: dto.RepliesCount,
		ChannelID:    dto.ChannelID,
		URL:          dto.URL,
		URI:          dto.URI,
	}
	if note.ReplyID, err = optionalNoteID(account, dto.ReplyID); err != nil {
		return model.Note{}, err
	}
	if note.RenoteID, err = optionalNoteID(account, dto.RenoteID); err != nil {
		return model.Note{}, err
	}
	if note.Visibility, err = convertVisibility(account, dto.Visibility, dto.VisibleUserIDs); err != nil {
		return model.Note{}, err
	}

	fileIDs := dto.FileIDs
	if len(fileIDs) == 0 {
		for _, file := range dto.Files {
			fileIDs = append(fileIDs, file.ID)
		}
	}
	for _, raw := range fileIDs {
		fileID, err := model.NewFileID(account, raw)
		if err != nil {
			return model.Note{}, err
		}
		note.FileIDs = append(note.FileIDs, fileID)
	}

	for _, reaction := range dto.Reactions {
		if reaction.Count <= 0 {
			continue
		}
		note.ReactionCounts = append(note.ReactionCounts, model.ReactionCount{Reaction: reaction.Reaction, Count: reaction.Count})
	}

	if dto.Poll != nil {
		poll := &model.Poll{ExpiresAt: dto.Poll.ExpiresAt, Multiple: dto.Poll.Multiple}
		for _, choice := range dto.Poll.Choices {
			poll.Choices = append(poll.Choices, model.PollChoice{Text: choice.Text, Votes: choice.Votes, IsVoted: choice.IsVoted})
		}
		note.Poll = poll
	}
	return note, nil
}

func optionalNoteID(account model.AccountID, raw *string) (*model.NoteID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, err := model.NewNoteID(account, *raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func convertVisibility(account model.AccountID, raw string, recipients []string) (model.Visibility, error) {
	switch model.VisibilityKind(strings.ToLower(raw)) {
	case model.VisibilityHome:
		return model.HomeVisibility(), nil
	case model.VisibilityFollowers:
		return model.FollowersVisibility(), nil
	case model.VisibilitySpecified:
		ids := make([]model.UserID, 0, len(recipients))
		for _, recipient := range recipients {
			id, err := model.NewUserID(account, recipient)
			if err != nil {
				return model.Visibility{}, err
			}
			ids = append(ids, id)
		}
		return model.SpecifiedVisibility(ids...), nil
	default:
		return model.PublicVisibility(), nil
	}
}

// ConvertUser maps a user payload onto the domain user. Payloads from detailed endpoints
// produce the detailed shape.
func ConvertUser(account model.AccountID, instanceHost string, dto api.UserDTO) (model.User, error) {
	id, err := model.NewUserID(account, dto.ID)
	if err != nil {
		return model.User{}, err
	}
	host := deref(dto.Host)
	profile := model.UserProfile{
		UserName:   dto.UserName,
		Name:       deref(dto.Name),
		AvatarURL:  deref(dto.AvatarURL),
		Host:       host,
		IsBot:      dto.IsBot,
		IsCat:      dto.IsCat,
		IsSameHost: host == "" || strings.EqualFold(host, instanceHost),
	}
	for _, emoji := range dto.Emojis {
		profile.Emojis = append(profile.Emojis, model.Emoji{Name: emoji.Name, URL: emoji.URL})
	}
	if !dto.IsDetail() {
		return model.NewSimpleUser(id, profile), nil
	}

	detail := model.UserDetail{
		Description:                    deref(dto.Description),
		FollowersCount:                 derefInt(dto.FollowersCount),
		FollowingCount:                 derefInt(dto.FollowingCount),
		NotesCount:                     derefInt(dto.NotesCount),
		BannerURL:                      deref(dto.BannerURL),
		URL:                            deref(dto.URL),
		IsFollowing:                    derefBool(dto.IsFollowing),
		IsFollower:                     derefBool(dto.IsFollowed),
		IsBlocking:                     derefBool(dto.IsBlocking),
		IsMuting:                       derefBool(dto.IsMuted),
		HasPendingFollowRequestFromYou: derefBool(dto.HasPendingFollowRequestFromYou),
		HasPendingFollowRequestToYou:   derefBool(dto.HasPendingFollowRequestToYou),
		IsLocked:                       derefBool(dto.IsLocked),
	}
	for _, raw := range dto.PinnedNoteIDs {
		pinned, err := model.NewNoteID(account, raw)
		if err != nil {
			return model.User{}, err
		}
		detail.PinnedNoteIDs = append(detail.PinnedNoteIDs, pinned)
	}
	return model.NewDetailUser(id, profile, detail), nil
}

// ConvertFile maps a drive file payload.
func ConvertFile(account model.AccountID, dto api.FilePropertyDTO) (model.FileProperty, error) {
	id, err := model.NewFileID(account, dto.ID)
	if err != nil {
		return model.FileProperty{}, err
	}
	return model.FileProperty{
		ID:           id,
		Name:         dto.Name,
		Type:         dto.Type,
		URL:          dto.URL,
		ThumbnailURL: deref(dto.ThumbnailURL),
		IsSensitive:  dto.IsSensitive,
		Size:         dto.Size,
		CreatedAt:    dto.CreatedAt,
	}, nil
}

// ConvertNotification maps a notification payload. The embedded user and note are not
// converted here.
func ConvertNotification(account model.AccountID, dto api.NotificationDTO) (model.Notification, error) {
	id, err := model.NewNotificationID(account, dto.ID)
	if err != nil {
		return model.Notification{}, err
	}
	notification := model.Notification{
		ID:        id,
		Type:      dto.Type,
		CreatedAt: dto.CreatedAt,
		Reaction:  dto.Reaction,
		IsRead:    dto.IsRead,
	}
	userRemote := deref(dto.UserID)
	if userRemote == "" && dto.User != nil {
		userRemote = dto.User.ID
	}
	if userRemote != "" {
		userID, err := model.NewUserID(account, userRemote)
		if err != nil {
			return model.Notification{}, err
		}
		notification.UserID = &userID
	}
	if dto.Note != nil {
		noteID, err := model.NewNoteID(account, dto.Note.ID)
		if err != nil {
			return model.Notification{}, err
		}
		notification.NoteID = &noteID
	}
	return notification, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func derefInt(value *int) int {
	if value == nil {
		return 0
	}
	return *value
}

func derefBool(value *bool) bool {
	return value != nil && *value
}
