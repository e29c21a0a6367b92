package collab

import (
	"context"
	"encoding/json"
	"log"
)

// ClientConn is the full connection surface a session drives: the hub send
// side plus reads and close control.
type ClientConn interface {
	Conn
	ReadMessage() ([]byte, error)
	ClosePolicyViolation(reason string)
	Close() error
}

// Authorizer resolves a websocket token to a user and checks document access.
type Authorizer interface {
	VerifyToken(token string) (subject string, err error)
	ResolveUser(ctx context.Context, subject string) (UserInfo, error)
	CheckDocumentAccess(ctx context.Context, documentID, userID string) error
}

// Session drives one client connection through the join, relay, and leave
// lifecycle of a document room.
type Session struct {
	hub        *Hub
	conn       ClientConn
	auth       Authorizer
	documentID string
	user       UserInfo
}

func NewSession(hub *Hub, conn ClientConn, auth Authorizer, documentID string) *Session {
	return &Session{
		hub:        hub,
		conn:       conn,
		auth:       auth,
		documentID: documentID,
	}
}

// Run authenticates the client, joins the room, and relays messages until
// the connection drops. Authentication or access failures close the socket
// with a policy violation before the client ever joins.
func (s *Session) Run(ctx context.Context, token string) error {
	defer s.conn.Close()

	subject, err := s.auth.VerifyToken(token)
	if err != nil {
		s.conn.ClosePolicyViolation("invalid token")
		return err
	}
	user, err := s.auth.ResolveUser(ctx, subject)
	if err != nil {
		s.conn.ClosePolicyViolation("unknown user")
		return err
	}
	if err := s.auth.CheckDocumentAccess(ctx, s.documentID, user.ID); err != nil {
		s.conn.ClosePolicyViolation("access denied")
		return err
	}
	s.user = user

	s.hub.Join(s.documentID, s.conn, user)
	defer s.hub.Leave(s.conn)

	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			return nil
		}
		s.handle(data)
	}
}

// handle relays a client message to the rest of the room with the sender's
// identity attached. Malformed or unknown messages are logged and dropped;
// they never terminate the session.
func (s *Session) handle(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("collab: malformed message from %s in %s: %v", s.user.ID, s.documentID, err)
		return
	}

	switch msg.Type {
	case msgContentChange:
		s.hub.Broadcast(s.documentID, s.conn, mustEncode(contentChangeEvent{
			Type:      msgContentChange,
			Content:   msg.Content,
			User:      s.user,
			Timestamp: msg.Timestamp,
		}))
	case msgCursorPosition:
		s.hub.Broadcast(s.documentID, s.conn, mustEncode(cursorPositionEvent{
			Type:     msgCursorPosition,
			Position: msg.Position,
			User:     s.user,
		}))
	case msgSelectionChange:
		s.hub.Broadcast(s.documentID, s.conn, mustEncode(selectionChangeEvent{
			Type:      msgSelectionChange,
			Selection: msg.Selection,
			User:      s.user,
		}))
	default:
		log.Printf("collab: ignoring message type %q from %s in %s", msg.Type, s.user.ID, s.documentID)
	}
}
