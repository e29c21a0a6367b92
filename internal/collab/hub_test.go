package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type fakeConn struct {
	mu       sync.Mutex
	msgs     [][]byte
	failSend bool
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("peer gone")
	}
	c.msgs = append(c.msgs, data)
	return nil
}

func (c *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.msgs))
	for _, raw := range c.msgs {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("decode message %s: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	msgs := c.decoded(t)
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		typ, _ := m["type"].(string)
		out = append(out, typ)
	}
	return out
}

func user(id string) UserInfo {
	return UserInfo{ID: id, Username: "u-" + id, Email: id + "@example.com"}
}

func TestJoinAnnouncesToOthersAndSendsRoster(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{}
	b := &fakeConn{}

	hub.Join("doc_1", a, user("a"))
	hub.Join("doc_1", b, user("b"))

	aTypes := a.types(t)
	if len(aTypes) != 2 || aTypes[0] != "document_users" || aTypes[1] != "user_joined" {
		t.Fatalf("unexpected messages for first member: %v", aTypes)
	}

	joined := a.decoded(t)[1]
	joinedUser := joined["user"].(map[string]any)
	if joinedUser["id"] != "b" {
		t.Errorf("user_joined carries wrong user: %v", joined)
	}
	if joined["message"] != "u-b joined the document" {
		t.Errorf("unexpected join message: %v", joined["message"])
	}

	bTypes := b.types(t)
	if len(bTypes) != 1 || bTypes[0] != "document_users" {
		t.Fatalf("joiner must receive only the roster, got %v", bTypes)
	}
	roster := b.decoded(t)[0]["users"].([]any)
	if len(roster) != 2 {
		t.Fatalf("roster must include the joiner, got %v", roster)
	}
	first := roster[0].(map[string]any)
	second := roster[1].(map[string]any)
	if first["id"] != "a" || second["id"] != "b" {
		t.Errorf("roster must be in join order, got %v then %v", first["id"], second["id"])
	}
}

func TestLeaveAnnouncesToRemaining(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{}
	b := &fakeConn{}

	hub.Join("doc_1", a, user("a"))
	hub.Join("doc_1", b, user("b"))
	hub.Leave(b)

	aTypes := a.types(t)
	if aTypes[len(aTypes)-1] != "user_left" {
		t.Fatalf("remaining member must see user_left, got %v", aTypes)
	}
	left := a.decoded(t)[len(aTypes)-1]
	if left["user"].(map[string]any)["id"] != "b" {
		t.Errorf("user_left carries wrong user: %v", left)
	}

	bCount := len(b.types(t))
	hub.Leave(a)
	if len(b.types(t)) != bCount {
		t.Error("departed member must not receive further messages")
	}
	if hub.Count("doc_1") != 0 {
		t.Errorf("empty room must be deleted, count = %d", hub.Count("doc_1"))
	}
}

func TestLeaveUnknownConnIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Leave(&fakeConn{})
}

func TestRejoinReplacesMembership(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{}
	b := &fakeConn{}

	hub.Join("doc_1", a, user("a"))
	hub.Join("doc_1", b, user("b"))
	hub.Join("doc_1", b, user("b"))

	if hub.Count("doc_1") != 2 {
		t.Fatalf("rejoin must not duplicate membership, count = %d", hub.Count("doc_1"))
	}
	roster := hub.Roster("doc_1")
	if len(roster) != 2 {
		t.Fatalf("roster length = %d, want 2", len(roster))
	}

	// The rejoin moved b to the back of the join order.
	if roster[0].ID != "a" || roster[1].ID != "b" {
		t.Errorf("unexpected roster order: %v", roster)
	}
}

func TestJoinMovesConnBetweenDocuments(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{}

	hub.Join("doc_1", a, user("a"))
	hub.Join("doc_2", a, user("a"))

	if hub.Count("doc_1") != 0 {
		t.Errorf("old room must be empty, count = %d", hub.Count("doc_1"))
	}
	if hub.Count("doc_2") != 1 {
		t.Errorf("new room count = %d, want 1", hub.Count("doc_2"))
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{}
	b := &fakeConn{}
	c := &fakeConn{}

	hub.Join("doc_1", a, user("a"))
	hub.Join("doc_1", b, user("b"))
	hub.Join("doc_1", c, user("c"))

	before := len(a.types(t))
	payload := []byte(`{"type":"content_change","content":{}}`)
	hub.Broadcast("doc_1", a, payload)

	if len(a.types(t)) != before {
		t.Error("sender must not receive its own broadcast")
	}
	bTypes := b.types(t)
	if bTypes[len(bTypes)-1] != "content_change" {
		t.Errorf("other members must receive the broadcast, got %v", bTypes)
	}
	cTypes := c.types(t)
	if cTypes[len(cTypes)-1] != "content_change" {
		t.Errorf("other members must receive the broadcast, got %v", cTypes)
	}
}

func TestDeadMemberIsPrunedAndAnnounced(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{}
	b := &fakeConn{}

	hub.Join("doc_1", a, user("a"))
	hub.Join("doc_1", b, user("b"))

	b.mu.Lock()
	b.failSend = true
	b.mu.Unlock()

	hub.Broadcast("doc_1", a, []byte(`{"type":"cursor_position","position":{}}`))

	if hub.Count("doc_1") != 1 {
		t.Fatalf("dead member must be pruned, count = %d", hub.Count("doc_1"))
	}
	aTypes := a.types(t)
	if aTypes[len(aTypes)-1] != "user_left" {
		t.Errorf("survivors must be told about the pruned member, got %v", aTypes)
	}
}

func TestAllMembersDeadLeavesRoomEmpty(t *testing.T) {
	hub := NewHub()
	a := &fakeConn{}
	b := &fakeConn{}

	hub.Join("doc_1", a, user("a"))
	hub.Join("doc_1", b, user("b"))

	a.mu.Lock()
	a.failSend = true
	a.mu.Unlock()
	b.mu.Lock()
	b.failSend = true
	b.mu.Unlock()

	hub.Broadcast("doc_1", nil, []byte(`{"type":"content_change"}`))

	if hub.Count("doc_1") != 0 {
		t.Errorf("room must empty out after all members die, count = %d", hub.Count("doc_1"))
	}
}

func TestConcurrentJoins(t *testing.T) {
	hub := NewHub()

	const n = 32
	var wg sync.WaitGroup
	conns := make([]*fakeConn, n)
	for i := 0; i < n; i++ {
		conns[i] = &fakeConn{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hub.Join("doc_1", conns[i], user(fmt.Sprintf("u%02d", i)))
		}(i)
	}
	wg.Wait()

	if hub.Count("doc_1") != n {
		t.Fatalf("count = %d, want %d", hub.Count("doc_1"), n)
	}
	roster := hub.Roster("doc_1")
	if len(roster) != n {
		t.Fatalf("roster length = %d, want %d", len(roster), n)
	}
	seen := make(map[string]bool, n)
	for _, u := range roster {
		if seen[u.ID] {
			t.Fatalf("duplicate roster entry %s", u.ID)
		}
		seen[u.ID] = true
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hub.Leave(conns[i])
		}(i)
	}
	wg.Wait()

	if hub.Count("doc_1") != 0 {
		t.Errorf("count after all leave = %d, want 0", hub.Count("doc_1"))
	}
}
