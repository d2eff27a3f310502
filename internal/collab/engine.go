package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/collabboard/backend/internal/documents"
	"github.com/collabboard/backend/internal/users"
	"go.uber.org/zap"
)

const (
	defaultPresenceWindow = 30 * time.Second
	defaultSessionTTL     = time.Minute
	defaultReapInterval   = 5 * time.Minute
)

// Client-visible error messages. Join failures use one message for both
// not-found and access-denied so private documents stay unenumerable.
const (
	msgJoinFailed       = "Failed to join document"
	msgNotFoundOrDenied = "Document not found or access denied"
	msgNotJoined        = "Not connected to this document"
	msgTextChangeFailed = "Failed to process text change"
	msgPermissionDenied = "Permission denied"
	msgSaveFailed       = "Failed to save document"
)

var (
	errMissingRegistry  = errors.New("collab: session registry is required")
	errMissingRouter    = errors.New("collab: room router is required")
	errMissingDocuments = errors.New("collab: document store is required")
	errMissingUsers     = errors.New("collab: user directory is required")
	errMissingEngineIDs = errors.New("collab: id provider is required")
)

// DocumentStore is the narrow slice of the document store the engine needs.
type DocumentStore interface {
	GetForAccess(ctx context.Context, documentID, userID string) (documents.AccessView, error)
	SetContent(ctx context.Context, documentID, content string) error
	CreateVersion(ctx context.Context, documentID, content, authorID, description string) (int64, error)
}

// UserDirectory resolves user identifiers to accounts for presence payloads.
type UserDirectory interface {
	GetByID(ctx context.Context, userID string) (users.User, error)
}

// IDProvider issues connection identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// EngineConfig describes the dependencies and tunables of the engine.
type EngineConfig struct {
	Registry  *Registry
	Router    *Router
	Documents DocumentStore
	Users     UserDirectory

	// PresenceWindow filters the active-user list at join time; SessionTTL
	// is the reaper's staleness threshold. They are independent knobs: a
	// short window for "who is really here" and a longer one for garbage
	// collection.
	PresenceWindow time.Duration
	SessionTTL     time.Duration
	ReapInterval   time.Duration

	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Engine orchestrates the realtime protocol: it validates each command
// against the registry and document store, mutates state, and fans results
// out through the room router. Commands from one connection arrive in order
// (the transport read loop calls HandleCommand synchronously); commands from
// different connections run concurrently.
type Engine struct {
	registry  *Registry
	router    *Router
	documents DocumentStore
	users     UserDirectory

	presenceWindow time.Duration
	sessionTTL     time.Duration
	reapInterval   time.Duration

	clock func() time.Time
	ids   IDProvider
	log   *zap.Logger
}

// NewEngine constructs the collaboration engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Router == nil {
		return nil, errMissingRouter
	}
	if cfg.Documents == nil {
		return nil, errMissingDocuments
	}
	if cfg.Users == nil {
		return nil, errMissingUsers
	}
	if cfg.IDProvider == nil {
		return nil, errMissingEngineIDs
	}

	presenceWindow := cfg.PresenceWindow
	if presenceWindow <= 0 {
		presenceWindow = defaultPresenceWindow
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	reapInterval := cfg.ReapInterval
	if reapInterval <= 0 {
		reapInterval = defaultReapInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		registry:       cfg.Registry,
		router:         cfg.Router,
		documents:      cfg.Documents,
		users:          cfg.Users,
		presenceWindow: presenceWindow,
		sessionTTL:     sessionTTL,
		reapInterval:   reapInterval,
		clock:          clock,
		ids:            cfg.IDProvider,
		log:            logger,
	}, nil
}

// Connection is one authenticated transport session. The engine owns it for
// its lifetime; all command handling for a connection happens on its
// transport goroutine, so the fields need no locking.
type Connection struct {
	id              string
	user            UserRef
	sender          EventSender
	currentDocument string
	closed          bool
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// User returns the authenticated identity bound to the connection.
func (c *Connection) User() UserRef {
	return c.user
}

// CurrentDocument returns the joined document id, or "" when none.
func (c *Connection) CurrentDocument() string {
	return c.currentDocument
}

// Connect registers a new authenticated connection with the engine.
func (e *Engine) Connect(account users.User, sender EventSender) (*Connection, error) {
	connectionID, err := e.ids.NewID()
	if err != nil {
		return nil, err
	}
	conn := &Connection{
		id:     connectionID,
		user:   UserRef{ID: account.ID, Username: account.Username},
		sender: sender,
	}
	e.log.Info("connection opened",
		zap.String("connection_id", conn.id),
		zap.String("user_id", conn.user.ID),
		zap.String("username", conn.user.Username))
	return conn, nil
}

// HandleCommand dispatches one client command. Recoverable failures become
// error events to the caller; nothing here tears the connection down.
func (e *Engine) HandleCommand(ctx context.Context, conn *Connection, cmd ClientCommand) {
	if conn == nil || conn.closed {
		return
	}
	switch command := cmd.(type) {
	case JoinDocument:
		e.handleJoin(ctx, conn, command)
	case LeaveDocument:
		e.handleLeave(ctx, conn, command)
	case TextChange:
		e.handleTextChange(ctx, conn, command)
	case CursorMove:
		e.handleCursorMove(ctx, conn, command)
	case SaveDocument:
		e.handleSave(ctx, conn, command)
	default:
		e.log.Warn("unhandled client command",
			zap.String("connection_id", conn.id),
			zap.String("command", fmt.Sprintf("%T", cmd)))
	}
}

func (e *Engine) handleJoin(ctx context.Context, conn *Connection, cmd JoinDocument) {
	view, err := e.documents.GetForAccess(ctx, cmd.DocumentID, conn.user.ID)
	if errors.Is(err, documents.ErrNotFound) {
		e.sendError(conn, msgNotFoundOrDenied)
		return
	}
	if err != nil {
		e.logError("collab.join", "document_lookup_failed", err, conn, cmd.DocumentID)
		e.sendError(conn, msgJoinFailed)
		return
	}

	// Switching documents leaves the old one first so the connection is in
	// at most one room.
	if conn.currentDocument != "" && conn.currentDocument != cmd.DocumentID {
		e.departDocument(ctx, conn)
	}

	if _, err := e.registry.Upsert(ctx, cmd.DocumentID, conn.user.ID, conn.id); err != nil {
		e.logError("collab.join", "session_upsert_failed", err, conn, cmd.DocumentID)
		e.sendError(conn, msgJoinFailed)
		return
	}

	// Listed after the upsert so the joiner's own row is part of the
	// snapshot they receive, matching what other members will see.
	sessions, err := e.registry.ListActive(ctx, cmd.DocumentID, e.presenceWindow)
	if err != nil {
		e.logError("collab.join", "list_active_failed", err, conn, cmd.DocumentID)
		e.sendError(conn, msgJoinFailed)
		return
	}

	e.router.Join(cmd.DocumentID, conn.id, conn.sender)
	conn.currentDocument = cmd.DocumentID

	now := e.clock().UTC()
	e.router.BroadcastToOthers(cmd.DocumentID, conn.id, ServerEvent{
		Type:    EventUserJoined,
		Payload: UserJoinedPayload{User: conn.user, JoinedAt: now},
	})

	conn.sender.Send(ServerEvent{
		Type: EventDocumentJoined,
		Payload: DocumentJoinedPayload{
			Document: DocumentPayload{
				ID:      view.ID,
				Title:   view.Title,
				Content: view.Content,
				Owner:   UserRef{ID: view.OwnerID, Username: view.OwnerUsername},
				IsOwner: view.OwnerID == conn.user.ID,
			},
			ActiveUsers: e.activeUserList(ctx, sessions),
		},
	})

	e.log.Info("user joined document",
		zap.String("document_id", cmd.DocumentID),
		zap.String("user_id", conn.user.ID))
}

func (e *Engine) handleLeave(ctx context.Context, conn *Connection, cmd LeaveDocument) {
	if conn.currentDocument != cmd.DocumentID {
		return
	}
	e.departDocument(ctx, conn)
}

func (e *Engine) handleTextChange(ctx context.Context, conn *Connection, cmd TextChange) {
	if conn.currentDocument != cmd.DocumentID {
		e.sendError(conn, msgNotJoined)
		return
	}

	if err := e.documents.SetContent(ctx, cmd.DocumentID, cmd.Content); err != nil {
		e.logError("collab.text_change", "set_content_failed", err, conn, cmd.DocumentID)
		e.sendError(conn, msgTextChangeFailed)
		return
	}

	if err := e.registry.Touch(ctx, cmd.DocumentID, conn.user.ID); err != nil {
		e.logError("collab.text_change", "touch_failed", err, conn, cmd.DocumentID)
	}

	e.router.BroadcastToOthers(cmd.DocumentID, conn.id, ServerEvent{
		Type: EventTextChanged,
		Payload: TextChangedPayload{
			Content:   cmd.Content,
			Operation: cmd.Operation,
			User:      conn.user,
			Timestamp: e.clock().UTC(),
		},
	})
}

func (e *Engine) handleCursorMove(ctx context.Context, conn *Connection, cmd CursorMove) {
	// Cursor updates are advisory; every failure path is silent.
	if conn.currentDocument != cmd.DocumentID {
		return
	}

	if err := e.registry.UpdateCursor(ctx, cmd.DocumentID, conn.user.ID, cmd.Position); err != nil {
		e.logError("collab.cursor_move", "cursor_update_failed", err, conn, cmd.DocumentID)
		return
	}

	e.router.BroadcastToOthers(cmd.DocumentID, conn.id, ServerEvent{
		Type: EventCursorMoved,
		Payload: CursorMovedPayload{
			User:      conn.user,
			Position:  cmd.Position,
			Timestamp: e.clock().UTC(),
		},
	})
}

func (e *Engine) handleSave(ctx context.Context, conn *Connection, cmd SaveDocument) {
	if conn.currentDocument != cmd.DocumentID {
		e.sendError(conn, msgNotJoined)
		return
	}

	view, err := e.documents.GetForAccess(ctx, cmd.DocumentID, conn.user.ID)
	if errors.Is(err, documents.ErrNotFound) {
		e.sendError(conn, msgPermissionDenied)
		return
	}
	if err != nil {
		e.logError("collab.save", "document_lookup_failed", err, conn, cmd.DocumentID)
		e.sendError(conn, msgSaveFailed)
		return
	}
	if view.OwnerID != conn.user.ID {
		e.sendError(conn, msgPermissionDenied)
		return
	}

	if err := e.documents.SetContent(ctx, cmd.DocumentID, cmd.Content); err != nil {
		e.logError("collab.save", "set_content_failed", err, conn, cmd.DocumentID)
		e.sendError(conn, msgSaveFailed)
		return
	}

	version, err := e.documents.CreateVersion(ctx, cmd.DocumentID, cmd.Content, conn.user.ID, documents.DescriptionManualSave)
	if err != nil {
		e.logError("collab.save", "version_append_failed", err, conn, cmd.DocumentID)
		e.sendError(conn, msgSaveFailed)
		return
	}

	// Room-wide, author included: the saver needs the confirmation.
	e.router.BroadcastToRoom(cmd.DocumentID, ServerEvent{
		Type: EventSaveComplete,
		Payload: SaveCompletePayload{
			Version:   version,
			SavedBy:   conn.user,
			Timestamp: e.clock().UTC(),
		},
	})

	e.log.Info("document saved",
		zap.String("document_id", cmd.DocumentID),
		zap.Int64("version", version),
		zap.String("user_id", conn.user.ID))
}

// Disconnect handles a transport-initiated close. The registry row is keyed
// by connection id so a user who reconnected already keeps their new row.
func (e *Engine) Disconnect(ctx context.Context, conn *Connection) {
	if conn == nil || conn.closed {
		return
	}
	conn.closed = true

	if conn.currentDocument != "" {
		documentID := conn.currentDocument
		conn.currentDocument = ""
		e.router.Leave(documentID, conn.id)
		if _, err := e.registry.RemoveByConnection(ctx, conn.user.ID, conn.id); err != nil {
			e.logError("collab.disconnect", "session_remove_failed", err, conn, documentID)
		}
		e.notifyDeparture(documentID, conn.user)
	}

	e.log.Info("connection closed",
		zap.String("connection_id", conn.id),
		zap.String("user_id", conn.user.ID))
}

// departDocument performs an explicit leave: room exit, registry removal,
// and a departure notification to the remaining members.
func (e *Engine) departDocument(ctx context.Context, conn *Connection) {
	documentID := conn.currentDocument
	conn.currentDocument = ""
	e.router.Leave(documentID, conn.id)
	if _, err := e.registry.Remove(ctx, documentID, conn.user.ID); err != nil {
		e.logError("collab.leave", "session_remove_failed", err, conn, documentID)
	}
	e.notifyDeparture(documentID, conn.user)

	e.log.Info("user left document",
		zap.String("document_id", documentID),
		zap.String("user_id", conn.user.ID))
}

func (e *Engine) notifyDeparture(documentID string, user UserRef) {
	e.router.BroadcastToRoom(documentID, ServerEvent{
		Type:    EventUserLeft,
		Payload: UserLeftPayload{User: user, LeftAt: e.clock().UTC()},
	})
}

// ReapOnce removes every registry row whose liveness exceeds the session
// TTL. Reaped rooms are not notified: the owning connections vanished
// without a clean disconnect, and their room membership was already dropped
// when the transport died.
func (e *Engine) ReapOnce(ctx context.Context) (int, error) {
	reaped, err := e.registry.ReapStale(ctx, e.sessionTTL)
	if err != nil {
		e.log.Error("session reap failed", zap.Error(err))
		return 0, err
	}
	if len(reaped) > 0 {
		e.log.Info("cleaned up inactive sessions", zap.Int("count", len(reaped)))
	}
	return len(reaped), nil
}

// RunReaper sweeps stale sessions on a fixed interval until the context is
// cancelled.
func (e *Engine) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(e.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = e.ReapOnce(ctx)
		}
	}
}

func (e *Engine) activeUserList(ctx context.Context, sessions []ActiveSession) []ActiveUserPayload {
	active := make([]ActiveUserPayload, 0, len(sessions))
	for _, session := range sessions {
		username := session.UserID
		if account, err := e.users.GetByID(ctx, session.UserID); err == nil {
			username = account.Username
		}
		active = append(active, ActiveUserPayload{
			ID:             session.UserID,
			Username:       username,
			CursorPosition: session.CursorPosition,
			JoinedAt:       session.JoinedAt,
		})
	}
	return active
}

func (e *Engine) sendError(conn *Connection, message string) {
	conn.sender.Send(ServerEvent{Type: EventError, Payload: ErrorPayload{Message: message}})
}

func (e *Engine) logError(operation, reason string, err error, conn *Connection, documentID string) {
	e.log.Error("collab engine error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("connection_id", conn.id),
		zap.String("user_id", conn.user.ID),
		zap.String("document_id", documentID),
		zap.Error(err))
}
