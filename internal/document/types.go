package document

import (
	"errors"
	"time"
)

// Visibility controls whether a user may join a document without an
// existing membership.
type Visibility string

const (
	VisibilityAll    Visibility = "all"
	VisibilityTeam   Visibility = "team"
	VisibilityInvite Visibility = "invite"
)

// Valid reports whether the value is one of the known visibility settings.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityAll, VisibilityTeam, VisibilityInvite:
		return true
	}
	return false
}

// Grant is a user's membership level on a document. The zero value means the
// user has no membership record at all, which several permission rules treat
// differently from holding the lowest grant.
type Grant string

const (
	GrantNone    Grant = ""
	GrantComment Grant = "comment"
	GrantEdit    Grant = "edit"
)

// Valid reports whether the value names an actual grant (GrantNone is not one).
func (g Grant) Valid() bool {
	return g == GrantComment || g == GrantEdit
}

// Document is a collaborative page owned by a team, optionally grouped
// into a space.
type Document struct {
	ID         string     `json:"id"`
	TeamID     string     `json:"team_id"`
	SpaceID    string     `json:"space_id,omitempty"`
	Title      string     `json:"title"`
	Visibility Visibility `json:"visibility"`
	CreatedBy  string     `json:"created_by"`
	Archived   bool       `json:"archived"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Membership links a user to a document with a grant.
type Membership struct {
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Grant      Grant     `json:"grant"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentUpdate carries optional field changes for a document.
type DocumentUpdate struct {
	Title      *string
	Visibility *Visibility
}

var (
	ErrNotFound          = errors.New("document: not found")
	ErrConflict          = errors.New("document: already exists")
	ErrInvalidVisibility = errors.New("document: invalid visibility")
	ErrInvalidGrant      = errors.New("document: invalid grant")
	ErrInvalidInput      = errors.New("document: invalid input")
)
