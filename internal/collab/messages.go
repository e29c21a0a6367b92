// Package collab implements the per-document realtime presence and
// broadcast channel used by the collaborative editor.
package collab

import (
	"encoding/json"
	"fmt"
)

// UserInfo is the public identity attached to every presence event.
type UserInfo struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

const (
	msgUserJoined      = "user_joined"
	msgUserLeft        = "user_left"
	msgDocumentUsers   = "document_users"
	msgContentChange   = "content_change"
	msgCursorPosition  = "cursor_position"
	msgSelectionChange = "selection_change"
)

type presenceEvent struct {
	Type    string   `json:"type"`
	User    UserInfo `json:"user"`
	Message string   `json:"message"`
}

type rosterMessage struct {
	Type  string     `json:"type"`
	Users []UserInfo `json:"users"`
}

// inboundMessage is what a client sends over the wire. Only the fields
// relevant to the declared type are set.
type inboundMessage struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content,omitempty"`
	Position  json.RawMessage `json:"position,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type contentChangeEvent struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	User      UserInfo        `json:"user"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type cursorPositionEvent struct {
	Type     string          `json:"type"`
	Position json.RawMessage `json:"position"`
	User     UserInfo        `json:"user"`
}

type selectionChangeEvent struct {
	Type      string          `json:"type"`
	Selection json.RawMessage `json:"selection"`
	User      UserInfo        `json:"user"`
}

func encodeUserJoined(user UserInfo) []byte {
	return mustEncode(presenceEvent{
		Type:    msgUserJoined,
		User:    user,
		Message: fmt.Sprintf("%s joined the document", user.Username),
	})
}

func encodeUserLeft(user UserInfo) []byte {
	return mustEncode(presenceEvent{
		Type:    msgUserLeft,
		User:    user,
		Message: fmt.Sprintf("%s left the document", user.Username),
	})
}

func encodeRoster(users []UserInfo) []byte {
	return mustEncode(rosterMessage{Type: msgDocumentUsers, Users: users})
}

func mustEncode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("collab: encode message: %v", err))
	}
	return data
}
