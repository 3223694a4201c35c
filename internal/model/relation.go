package model

import "time"

// FileProperty is a drive file attached to notes.
type FileProperty struct {
	ID           FileID    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	IsSensitive  bool      `json:"is_sensitive"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

// Notification is an account notification.
type Notification struct {
	ID        NotificationID `json:"id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	UserID    *UserID        `json:"user_id,omitempty"`
	NoteID    *NoteID        `json:"note_id,omitempty"`
	Reaction  string         `json:"reaction,omitempty"`
	IsRead    bool           `json:"is_read"`
}

// RelationKind is the provenance tag of a NoteRelation.
type RelationKind string

const (
	RelationNormal    RelationKind = "normal"
	RelationFeatured  RelationKind = "featured"
	RelationPromotion RelationKind = "promotion"
)

// NoteRelation is a read-only view of a note with its author, edges and files.
// Renote and Reply are resolved one level deep and never carry edges themselves.
type NoteRelation struct {
	Kind        RelationKind   `json:"kind"`
	FeaturedID  string         `json:"featured_id,omitempty"`
	PromotionID string         `json:"promotion_id,omitempty"`
	Note        Note           `json:"note"`
	User        User           `json:"user"`
	Renote      *NoteRelation  `json:"renote,omitempty"`
	Reply       *NoteRelation  `json:"reply,omitempty"`
	Files       []FileProperty `json:"files,omitempty"`
}
