package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID                string
	Email             string
	Username          string
	PasswordHash      string
	FirstName         string
	LastName          string
	AvatarURL         string
	Bio               string
	IsActive          bool
	IsVerified        bool
	VerificationToken string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Workspace struct {
	ID          string
	Name        string
	Description string
	Slug        string
	AvatarURL   string
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WorkspaceMember struct {
	ID          string
	WorkspaceID string
	UserID      string
	Role        string
	CreatedAt   time.Time
	// Joined fields for API responses
	Username string
	Email    string
}

type Document struct {
	ID          string
	Title       string
	Description string
	Content     json.RawMessage
	OwnerID     string
	WorkspaceID *string
	IsPublic    bool
	Settings    json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DocumentVersion struct {
	ID                string
	DocumentID        string
	VersionNumber     int
	ContentHash       string
	CommitHash        string
	AuthorID          string
	ChangeDescription string
	CreatedAt         time.Time
}

type Block struct {
	ID         string
	DocumentID string
	BlockType  string
	Content    json.RawMessage
	Position   int
	ParentID   *string
	Metadata   json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type CommentThread struct {
	ID         string
	DocumentID string
	BlockID    *string
	Position   string
	IsResolved bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Comment struct {
	ID        string
	ThreadID  string
	AuthorID  string
	ParentID  *string
	Content   string
	IsEdited  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	// Joined fields for API responses
	AuthorName string
}

// Permission is a per-document grant to a single user. Workspace membership
// and document visibility are checked first; this covers explicit shares.
type Permission struct {
	ID         string
	DocumentID string
	UserID     string
	Role       string
	GrantedBy  *string
	GrantedAt  time.Time
	ExpiresAt  *time.Time
}
