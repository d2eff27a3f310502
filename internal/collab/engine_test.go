package collab

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/collabboard/backend/internal/documents"
	"github.com/collabboard/backend/internal/users"
)

type fakeDocumentStore struct {
	mu       sync.Mutex
	views    map[string]documents.AccessView
	versions map[string]int64
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{
		views:    make(map[string]documents.AccessView),
		versions: make(map[string]int64),
	}
}

func (s *fakeDocumentStore) add(view documents.AccessView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[view.ID] = view
	s.versions[view.ID] = 1
}

func (s *fakeDocumentStore) GetForAccess(ctx context.Context, documentID, userID string) (documents.AccessView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, ok := s.views[documentID]
	if !ok || (view.OwnerID != userID && !view.IsPublic) {
		return documents.AccessView{}, documents.ErrNotFound
	}
	return view, nil
}

func (s *fakeDocumentStore) SetContent(ctx context.Context, documentID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, ok := s.views[documentID]
	if !ok {
		return documents.ErrNotFound
	}
	view.Content = content
	s.views[documentID] = view
	return nil
}

func (s *fakeDocumentStore) CreateVersion(ctx context.Context, documentID, content, authorID, description string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.views[documentID]; !ok {
		return 0, documents.ErrNotFound
	}
	s.versions[documentID]++
	return s.versions[documentID], nil
}

func (s *fakeDocumentStore) versionOf(documentID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[documentID]
}

func (s *fakeDocumentStore) contentOf(documentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views[documentID].Content
}

type fakeUserDirectory struct {
	accounts map[string]users.User
}

func (d *fakeUserDirectory) GetByID(ctx context.Context, userID string) (users.User, error) {
	account, ok := d.accounts[userID]
	if !ok {
		return users.User{}, users.ErrUserNotFound
	}
	return account, nil
}

type connIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (g *connIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("conn-%d", g.next), nil
}

type engineFixture struct {
	engine  *Engine
	store   *fakeDocumentStore
	advance func(time.Duration)
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	registry, _, advance := newTestRegistry(t)
	store := newFakeDocumentStore()
	directory := &fakeUserDirectory{accounts: map[string]users.User{
		"user-a": {ID: "user-a", Username: "alice"},
		"user-b": {ID: "user-b", Username: "bob"},
	}}

	current := time.Unix(1700000600, 0).UTC()
	engine, err := NewEngine(EngineConfig{
		Registry:   registry,
		Router:     NewRouter(),
		Documents:  store,
		Users:      directory,
		Clock:      func() time.Time { return current },
		IDProvider: &connIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}

	// Registry and engine share a clock so presence windows line up.
	combined := func(d time.Duration) {
		advance(d)
		current = current.Add(d)
	}
	return &engineFixture{engine: engine, store: store, advance: combined}
}

func (f *engineFixture) connect(t *testing.T, account users.User) (*Connection, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	conn, err := f.engine.Connect(account, sender)
	if err != nil {
		t.Fatalf("failed to connect %s: %v", account.Username, err)
	}
	return conn, sender
}

func eventsOfType(events []ServerEvent, eventType string) []ServerEvent {
	var matched []ServerEvent
	for _, event := range events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func TestJoinDeliversSnapshotAndNotifiesOthers(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.store.add(documents.AccessView{
		ID: "doc-1", Title: "Shared", Content: "hello",
		OwnerID: "user-a", OwnerUsername: "alice", IsPublic: true,
	})

	alice, aliceEvents := fixture.connect(t, users.User{ID: "user-a", Username: "alice"})
	bob, bobEvents := fixture.connect(t, users.User{ID: "user-b", Username: "bob"})

	fixture.engine.HandleCommand(context.Background(), alice, JoinDocument{DocumentID: "doc-1"})
	fixture.engine.HandleCommand(context.Background(), bob, JoinDocument{DocumentID: "doc-1"})

	joined := eventsOfType(bobEvents.received(), EventDocumentJoined)
	if len(joined) != 1 {
		t.Fatalf("expected one document-joined event for bob, got %d", len(joined))
	}
	payload, ok := joined[0].Payload.(DocumentJoinedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", joined[0].Payload)
	}
	if payload.Document.Content != "hello" {
		t.Fatalf("expected current content in snapshot, got %q", payload.Document.Content)
	}
	if payload.Document.IsOwner {
		t.Fatal("bob must not be flagged as owner")
	}
	if len(payload.ActiveUsers) != 2 {
		t.Fatalf("expected both active users in the snapshot, got %d", len(payload.ActiveUsers))
	}
	seen := map[string]int{}
	for _, active := range payload.ActiveUsers {
		seen[active.ID]++
	}
	if seen["user-b"] != 1 {
		t.Fatalf("expected the joiner exactly once in active users, got %d", seen["user-b"])
	}

	notified := eventsOfType(aliceEvents.received(), EventUserJoined)
	if len(notified) != 1 {
		t.Fatalf("expected alice to see one user-joined, got %d", len(notified))
	}
	if notified[0].Payload.(UserJoinedPayload).User.ID != "user-b" {
		t.Fatal("expected user-joined to reference bob")
	}
	if len(eventsOfType(bobEvents.received(), EventUserJoined)) != 0 {
		t.Fatal("the joiner must not receive their own user-joined")
	}
}

func TestJoinUnknownDocumentFails(t *testing.T) {
	fixture := newEngineFixture(t)
	alice, aliceEvents := fixture.connect(t, users.User{ID: "user-a", Username: "alice"})

	fixture.engine.HandleCommand(context.Background(), alice, JoinDocument{DocumentID: "missing"})

	errs := eventsOfType(aliceEvents.received(), EventError)
	if len(errs) != 1 {
		t.Fatalf("expected one error event, got %d", len(errs))
	}
	if errs[0].Payload.(ErrorPayload).Message != "Document not found or access denied" {
		t.Fatalf("unexpected error message %q", errs[0].Payload.(ErrorPayload).Message)
	}
	if alice.CurrentDocument() != "" {
		t.Fatal("failed join must not bind the connection to a document")
	}
}

func TestJoinPrivateDocumentDeniedForStranger(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.store.add(documents.AccessView{
		ID: "doc-1", Title: "Private", OwnerID: "user-a", OwnerUsername: "alice",
	})
	bob, bobEvents := fixture.connect(t, users.User{ID: "user-b", Username: "bob"})

	fixture.engine.HandleCommand(context.Background(), bob, JoinDocument{DocumentID: "doc-1"})

	errs := eventsOfType(bobEvents.received(), EventError)
	if len(errs) != 1 {
		t.Fatalf("expected one error event, got %d", len(errs))
	}
	if errs[0].Payload.(ErrorPayload).Message != "Document not found or access denied" {
		t.Fatalf("denied and missing must share one message, got %q", errs[0].Payload.(ErrorPayload).Message)
	}
}

func TestTextChangeFansOutToOthersOnly(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.store.add(documents.AccessView{
		ID: "doc-1", Title: "Shared", Content: "v1",
		OwnerID: "user-a", OwnerUsername: "alice", IsPublic: true,
	})
	alice, aliceEvents := fixture.connect(t, users.User{ID: "user-a", Username: "alice"})
	bob, bobEvents := fixture.connect(t, users.User{ID: "user-b", Username: "bob"})
	fixture.engine.HandleCommand(context.Background(), alice, JoinDocument{DocumentID: "doc-1"})
	fixture.engine.HandleCommand(context.Background(), bob, JoinDocument{DocumentID: "doc-1"})

	fixture.engine.HandleCommand(context.Background(), alice, TextChange{DocumentID: "doc-1", Content: "v2"})

	if fixture.store.contentOf("doc-1") != "v2" {
		t.Fatalf("expected content overwrite, got %q", fixture.store.contentOf("doc-1"))
	}
	changed := eventsOfType(bobEvents.received(), EventTextChanged)
	if len(changed) != 1 {
		t.Fatalf("expected bob to receive one text-changed, got %d", len(changed))
	}
	payload := changed[0].Payload.(TextChangedPayload)
	if payload.Content != "v2" || payload.User.ID != "user-a" {
		t.Fatalf("unexpected text-changed payload %+v", payload)
	}
	if len(eventsOfType(aliceEvents.received(), EventTextChanged)) != 0 {
		t.Fatal("the author must not receive an echo of their own edit")
	}
}

func TestTextChangeRequiresMembership(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.store.add(documents.AccessView{
		ID: "doc-1", Title: "Shared", Content: "v1",
		OwnerID: "user-a", OwnerUsername: "alice", IsPublic: true,
	})
	bob, bobEvents := fixture.connect(t, users.User{ID: "user-b", Username: "bob"})

	fixture.engine.HandleCommand(context.Background(), bob, TextChange{DocumentID: "doc-1", Content: "sneaky"})

	if fixture.store.contentOf("doc-1") != "v1" {
		t.Fatal("a non-member edit must not change content")
	}
	errs := eventsOfType(bobEvents.received(), EventError)
	if len(errs) != 1 || errs[0].Payload.(ErrorPayload).Message != "Not connected to this document" {
		t.Fatalf("expected a membership error, got %+v", errs)
	}
}

func TestSaveByOwnerBroadcastsRoomWide(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.store.add(documents.AccessView{
		ID: "doc-1", Title: "Shared", Content: "v1",
		OwnerID: "user-a", OwnerUsername: "alice", IsPublic: true,
	})
	alice, aliceEvents := fixture.connect(t, users.User{ID: "user-a", Username: "alice"})
	bob, bobEvents := fixture.connect(t, users.User{ID: "user-b", Username: "bob"})
	fixture.engine.HandleCommand(context.Background(), alice, JoinDocument{DocumentID: "doc-1"})
	fixture.engine.HandleCommand(context.Background(), bob, JoinDocument{DocumentID: "doc-1"})

	fixture.engine.HandleCommand(context.Background(), alice, SaveDocument{DocumentID: "doc-1", Content: "v2"})

	if fixture.store.contentOf("doc-1") != "v2" {
		t.Fatalf("expected save to persist content, got %q", fixture.store.contentOf("doc-1"))
	}
	for name, events := range map[string]*captureSender{"alice": aliceEvents, "bob": bobEvents} {
		saved := eventsOfType(events.received(), EventSaveComplete)
		if len(saved) != 1 {
			t.Fatalf("expected %s to receive one save-complete, got %d", name, len(saved))
		}
		payload := saved[0].Payload.(SaveCompletePayload)
		if payload.Version != 2 || payload.SavedBy.ID != "user-a" {
			t.Fatalf("unexpected save-complete payload for %s: %+v", name, payload)
		}
	}
}

func TestSaveByNonOwnerIsDenied(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.store.add(documents.AccessView{
		ID: "doc-1", Title: "Shared", Content: "v1",
		OwnerID: "user-a", OwnerUsername: "alice", IsPublic: true,
	})
	bob, bobEvents := fixture.connect(t, users.User{ID: "user-b", Username: "bob"})
	fixture.engine.HandleCommand(context.Background(), bob, JoinDocument{DocumentID: "doc-1"})

	fixture.engine.HandleCommand(context.Background(), bob, SaveDocument{DocumentID: "doc-1", Content: "v2"})

	errs := eventsOfType(bobEvents.received(), EventError)
	if len(errs) != 1 || errs[0].Payload.(ErrorPayload).Message != "Permission denied" {
		t.Fatalf("expected a permission error, got %+v", errs)
	}
	if fixture.store.versionOf("doc-1") != 1 {
		t.Fatal("a denied save must not append a version")
	}
}

func TestCursorMoveFansOutAndFailsSilently(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.store.add(documents.AccessView{
		ID: "doc-1", Title: "Shared", OwnerID: "user-a", OwnerUsername: "alice", IsPublic: true,
	})
	alice, _ := fixture.connect(t, users.User{ID: "user-a", Username: "alice"})
	bob, bobEvents := fixture.connect(t, users.User{ID: "user-b", Username: "bob"})
	fixture.engine.HandleCommand(context.Background(), alice, JoinDocument{DocumentID: "doc-1"})
	fixture.engine.HandleCommand(context.Background(), bob, JoinDocument{DocumentID: "doc-1"})

	fixture.engine.HandleCommand(context.Background(), alice, CursorMove{DocumentID: "doc-1", Position: 17})

	moved := eventsOfType(bobEvents.received(), EventCursorMoved)
	if len(moved) != 1 {
		t.Fatalf("expected bob to see one cursor-moved, got %d", len(moved))
	}
	payload := moved[0].Payload.(CursorMovedPayload)
	if payload.Position != 17 || payload.User.ID != "user-a" {
		t.Fatalf("unexpected cursor payload %+v", payload)
	}

	// A cursor move from a connection that never joined is silent.
	carol, carolEvents := fixture.connect(t, users.User{ID: "user-c", Username: "carol"})
	fixture.engine.HandleCommand(context.Background(), carol, CursorMove{DocumentID: "doc-1", Position: 3})
	if len(carolEvents.received()) != 0 {
		t.Fatalf("expected silence for a non-member cursor move, got %+v", carolEvents.received())
	}
}

func TestLeaveNotifiesRemainingMembers(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.store.add(documents.AccessView{
		ID: "doc-1", Title: "Shared", OwnerID: "user-a", OwnerUsername: "alice", IsPublic: true,
	})
	alice, aliceEvents := fixture.connect(t, users.User{ID: "user-a", Username: "alice"})
	bob, bobEvents := fixture.connect(t, users.User{ID: "user-b", Username: "bob"})
	fixture.engine.HandleCommand(context.Background(), alice, JoinDocument{DocumentID: "doc-1"})
	fixture.engine.HandleCommand(context.Background(), bob, JoinDocument{DocumentID: "doc-1"})

	fixture.engine.HandleCommand(context.Background(), bob, LeaveDocument{DocumentID: "doc-1"})

	left := eventsOfType(aliceEvents.received(), EventUserLeft)
	if len(left) != 1 {
		t.Fatalf("expected alice to see one user-left, got %d", len(left))
	}
	if left[0].Payload.(UserLeftPayload).User.ID != "user-b" {
		t.Fatal("expected user-left to reference bob")
	}
	if bob.CurrentDocument() != "" {
		t.Fatal("leave must clear the current document")
	}
	if len(eventsOfType(bobEvents.received(), EventUserLeft)) != 0 {
		t.Fatal("the leaver is out of the room before the departure broadcast")
	}

	// A leave for a document the connection is not in is a no-op.
	before := len(aliceEvents.received())
	fixture.engine.HandleCommand(context.Background(), bob, LeaveDocument{DocumentID: "doc-1"})
	if len(aliceEvents.received()) != before {
		t.Fatal("repeated leave must not re-notify the room")
	}
}

func TestSwitchingDocumentsLeavesTheOldRoom(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.store.add(documents.AccessView{
		ID: "doc-1", Title: "First", OwnerID: "user-a", OwnerUsername: "alice", IsPublic: true,
	})
	fixture.store.add(documents.AccessView{
		ID: "doc-2", Title: "Second", OwnerID: "user-a", OwnerUsername: "alice", IsPublic: true,
	})
	alice, aliceEvents := fixture.connect(t, users.User{ID: "user-a", Username: "alice"})
	bob, _ := fixture.connect(t, users.User{ID: "user-b", Username: "bob"})
	fixture.engine.HandleCommand(context.Background(), alice, JoinDocument{DocumentID: "doc-1"})
	fixture.engine.HandleCommand(context.Background(), bob, JoinDocument{DocumentID: "doc-1"})

	fixture.engine.HandleCommand(context.Background(), bob, JoinDocument{DocumentID: "doc-2"})

	if bob.CurrentDocument() != "doc-2" {
		t.Fatalf("expected bob to be in doc-2, got %q", bob.CurrentDocument())
	}
	left := eventsOfType(aliceEvents.received(), EventUserLeft)
	if len(left) != 1 {
		t.Fatalf("expected alice to be told bob left doc-1, got %d", len(left))
	}

	// Edits in the abandoned room must no longer reach bob.
	fixture.engine.HandleCommand(context.Background(), alice, TextChange{DocumentID: "doc-1", Content: "v2"})
	bobSender := bob.sender.(*captureSender)
	if len(eventsOfType(bobSender.received(), EventTextChanged)) != 0 {
		t.Fatal("bob left doc-1 and must not receive its edits")
	}
}

func TestDisconnectCleansUpMembership(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.store.add(documents.AccessView{
		ID: "doc-1", Title: "Shared", OwnerID: "user-a", OwnerUsername: "alice", IsPublic: true,
	})
	alice, aliceEvents := fixture.connect(t, users.User{ID: "user-a", Username: "alice"})
	bob, _ := fixture.connect(t, users.User{ID: "user-b", Username: "bob"})
	fixture.engine.HandleCommand(context.Background(), alice, JoinDocument{DocumentID: "doc-1"})
	fixture.engine.HandleCommand(context.Background(), bob, JoinDocument{DocumentID: "doc-1"})

	fixture.engine.Disconnect(context.Background(), bob)

	left := eventsOfType(aliceEvents.received(), EventUserLeft)
	if len(left) != 1 {
		t.Fatalf("expected alice to see one user-left after disconnect, got %d", len(left))
	}

	// Commands after disconnect are ignored.
	fixture.engine.HandleCommand(context.Background(), bob, TextChange{DocumentID: "doc-1", Content: "ghost"})
	if fixture.store.contentOf("doc-1") != "" {
		t.Fatalf("a closed connection must not mutate content, got %q", fixture.store.contentOf("doc-1"))
	}
}

func TestReapOnceRemovesOnlyStaleSessions(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.store.add(documents.AccessView{
		ID: "doc-1", Title: "Shared", OwnerID: "user-a", OwnerUsername: "alice", IsPublic: true,
	})
	alice, _ := fixture.connect(t, users.User{ID: "user-a", Username: "alice"})
	bob, _ := fixture.connect(t, users.User{ID: "user-b", Username: "bob"})
	fixture.engine.HandleCommand(context.Background(), alice, JoinDocument{DocumentID: "doc-1"})
	fixture.engine.HandleCommand(context.Background(), bob, JoinDocument{DocumentID: "doc-1"})

	fixture.advance(2 * time.Minute)
	fixture.engine.HandleCommand(context.Background(), bob, CursorMove{DocumentID: "doc-1", Position: 1})

	reaped, err := fixture.engine.ReapOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected reap error: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("expected exactly the idle session reaped, got %d", reaped)
	}

	sessions, err := fixture.engine.registry.ListActive(context.Background(), "doc-1", time.Hour)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].UserID != "user-b" {
		t.Fatalf("expected only bob's refreshed session to survive, got %+v", sessions)
	}
}
