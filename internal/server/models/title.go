package models

import "time"

// Title is a named badge from the reference catalog.
type Title struct {
	ID          string `json:"title_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// UserTitle assigns a title to an identity. (RootID, TitleID) is unique;
// re-granting a held title is a no-op reported as "already held".
type UserTitle struct {
	RootID    string    `json:"root_id"`
	TitleID   string    `json:"title_id"`
	GrantedAt time.Time `json:"granted_at"`
}

// HeldTitle is a title joined with its grant time for detail views.
type HeldTitle struct {
	Title
	GrantedAt time.Time `json:"granted_at"`
}

// FateMarker is a narrative breadcrumb keyed to a root and optional
// source; markers are not deduplicated.
type FateMarker struct {
	ID        string    `json:"id"`
	RootID    string    `json:"root_id"`
	SourceID  *string   `json:"source_id,omitempty"`
	Marker    string    `json:"marker"`
	CreatedAt time.Time `json:"created_at"`
}
