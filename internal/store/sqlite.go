package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/campuschat/campuschat/internal/domain"
	"github.com/campuschat/campuschat/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	convMu sync.Mutex // serializes conversation writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS visitors (
		visitor_id TEXT PRIMARY KEY,
		origin TEXT,
		user_agent TEXT,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen_at);

	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		specialty TEXT,
		description TEXT,
		welcome_message TEXT,
		keywords TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS content_units (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id INTEGER NOT NULL REFERENCES agents(id),
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		keywords TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_content_agent ON content_units(agent_id) WHERE active = 1;

	CREATE TABLE IF NOT EXISTS conversations (
		session_id TEXT PRIMARY KEY,
		visitor_id TEXT,
		agent_id INTEGER,
		agent_name TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		assigned_user_id INTEGER,
		assigned_name TEXT,
		escalated_at INTEGER,
		escalation_cause TEXT,
		last_message_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES conversations(session_id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		user_id TEXT,
		user_name TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetVisitor retrieves a visitor by their device ID.
func (s *SQLiteStore) GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error) {
	query := `
		SELECT visitor_id, origin, user_agent, last_seen_at, created_at, updated_at
		FROM visitors WHERE visitor_id = ?`

	row := s.db.QueryRowContext(ctx, query, visitorID)

	var visitor domain.Visitor
	var origin, userAgent sql.NullString
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&visitor.VisitorID, &origin, &userAgent, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan visitor row: %w", err)
	}

	visitor.Origin = origin.String
	visitor.UserAgent = userAgent.String
	visitor.LastSeenAt = time.Unix(lastSeen, 0)
	visitor.CreatedAt = time.Unix(createdAt, 0)
	visitor.UpdatedAt = time.Unix(updatedAt, 0)

	return &visitor, nil
}

// UpsertVisitor creates or updates a visitor record.
func (s *SQLiteStore) UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error {
	query := `
	INSERT INTO visitors (visitor_id, origin, user_agent, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(visitor_id) DO UPDATE SET
		origin = excluded.origin,
		user_agent = excluded.user_agent,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		visitor.VisitorID, visitor.Origin, visitor.UserAgent,
		visitor.LastSeenAt.Unix(), visitor.CreatedAt.Unix(), visitor.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert visitor: %w", err)
	}
	return nil
}

// UpdateVisitorLastSeen updates the last_seen_at timestamp for a visitor.
func (s *SQLiteStore) UpdateVisitorLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error {
	query := `UPDATE visitors SET last_seen_at = ?, updated_at = ? WHERE visitor_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), visitorID)
	if err != nil {
		return fmt.Errorf("update visitor last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateVisitorLastSeen affected 0 rows", "visitor_id", visitorID)
	}

	return nil
}

// ListAgents returns virtual agents, optionally only the active ones.
func (s *SQLiteStore) ListAgents(ctx context.Context, activeOnly bool) ([]*domain.VirtualAgent, error) {
	query := `
		SELECT id, name, specialty, description, welcome_message, keywords, active, created_at, updated_at
		FROM agents`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agents rows", "error", closeErr)
		}
	}()

	var agents []*domain.VirtualAgent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}

	return agents, nil
}

// GetAgent retrieves a virtual agent by id.
func (s *SQLiteStore) GetAgent(ctx context.Context, id int64) (*domain.VirtualAgent, error) {
	query := `
		SELECT id, name, specialty, description, welcome_message, keywords, active, created_at, updated_at
		FROM agents WHERE id = ?`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agent rows", "error", closeErr)
		}
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate agent: %w", err)
		}
		return nil, nil
	}
	return scanAgent(rows)
}

func scanAgent(rows *sql.Rows) (*domain.VirtualAgent, error) {
	var agent domain.VirtualAgent
	var specialty, description, welcome, keywords sql.NullString
	var active int
	var createdAt, updatedAt int64

	if err := rows.Scan(
		&agent.ID, &agent.Name, &specialty, &description, &welcome, &keywords,
		&active, &createdAt, &updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}

	agent.Specialty = specialty.String
	agent.Description = description.String
	agent.WelcomeMessage = welcome.String
	agent.Keywords = keywords.String
	agent.Active = active != 0
	agent.CreatedAt = time.Unix(createdAt, 0)
	agent.UpdatedAt = time.Unix(updatedAt, 0)

	return &agent, nil
}

// InsertAgent stores a new virtual agent and returns its id.
func (s *SQLiteStore) InsertAgent(ctx context.Context, agent *domain.VirtualAgent) (int64, error) {
	query := `
	INSERT INTO agents (name, specialty, description, welcome_message, keywords, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().Unix()
	active := 0
	if agent.Active {
		active = 1
	}

	result, err := s.db.ExecContext(ctx, query,
		agent.Name, agent.Specialty, agent.Description, agent.WelcomeMessage,
		agent.Keywords, active, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert agent: %w", err)
	}
	return result.LastInsertId()
}

// CountAgents returns the number of configured agents.
func (s *SQLiteStore) CountAgents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}

// ListActiveContent returns the active content units for an agent.
func (s *SQLiteStore) ListActiveContent(ctx context.Context, agentID int64) ([]*domain.ContentUnit, error) {
	query := `
		SELECT id, agent_id, title, body, keywords, active, created_at, updated_at
		FROM content_units WHERE agent_id = ? AND active = 1 ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("query content units: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close content rows", "error", closeErr)
		}
	}()

	var units []*domain.ContentUnit
	for rows.Next() {
		var unit domain.ContentUnit
		var keywords sql.NullString
		var active int
		var createdAt, updatedAt int64

		if err := rows.Scan(
			&unit.ID, &unit.AgentID, &unit.Title, &unit.Body, &keywords,
			&active, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan content row: %w", err)
		}

		unit.Keywords = keywords.String
		unit.Active = active != 0
		unit.CreatedAt = time.Unix(createdAt, 0)
		unit.UpdatedAt = time.Unix(updatedAt, 0)
		units = append(units, &unit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content units: %w", err)
	}

	return units, nil
}

// InsertContent stores a content unit and returns its id.
func (s *SQLiteStore) InsertContent(ctx context.Context, unit *domain.ContentUnit) (int64, error) {
	query := `
	INSERT INTO content_units (agent_id, title, body, keywords, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().Unix()
	active := 0
	if unit.Active {
		active = 1
	}

	result, err := s.db.ExecContext(ctx, query,
		unit.AgentID, unit.Title, unit.Body, unit.Keywords, active, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert content unit: %w", err)
	}
	return result.LastInsertId()
}

// GetConversation retrieves a conversation with its messages.
func (s *SQLiteStore) GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	query := `
		SELECT session_id, visitor_id, agent_id, agent_name, status,
		       assigned_user_id, assigned_name, escalated_at, escalation_cause,
		       last_message_at, created_at, updated_at
		FROM conversations WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var conv domain.Conversation
	var visitorID, agentName, assignedName, cause sql.NullString
	var agentID, assignedUserID, escalatedAt sql.NullInt64
	var lastMessageAt, createdAt, updatedAt int64

	err := row.Scan(
		&conv.SessionID, &visitorID, &agentID, &agentName, &conv.Status,
		&assignedUserID, &assignedName, &escalatedAt, &cause,
		&lastMessageAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.VisitorID = visitorID.String
	conv.AgentID = agentID.Int64
	conv.AgentName = agentName.String
	conv.AssignedUserID = assignedUserID.Int64
	conv.AssignedName = assignedName.String
	conv.EscalationCause = cause.String
	conv.LastMessageAt = time.Unix(lastMessageAt, 0)
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	if escalatedAt.Valid {
		ts := time.Unix(escalatedAt.Int64, 0)
		conv.EscalatedAt = &ts
	}

	msgs, err := s.listMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs

	return &conv, nil
}

func (s *SQLiteStore) listMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	query := `
		SELECT role, content, user_id, user_name, created_at
		FROM messages WHERE session_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var userID, userName sql.NullString
		var createdAt int64

		if err := rows.Scan(&msg.Role, &msg.Content, &userID, &userName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.UserID = userID.String
		msg.UserName = userName.String
		msg.Timestamp = time.Unix(createdAt, 0)
		msgs = append(msgs, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return msgs, nil
}

// UpsertConversation creates or updates a conversation header row.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, conv *domain.Conversation) error {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	query := `
	INSERT INTO conversations (
		session_id, visitor_id, agent_id, agent_name, status,
		assigned_user_id, assigned_name, escalated_at, escalation_cause,
		last_message_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		visitor_id = COALESCE(excluded.visitor_id, conversations.visitor_id),
		agent_id = COALESCE(excluded.agent_id, conversations.agent_id),
		agent_name = COALESCE(excluded.agent_name, conversations.agent_name),
		status = excluded.status,
		last_message_at = excluded.last_message_at,
		updated_at = excluded.updated_at`

	now := time.Now().Unix()
	var escalatedAt interface{}
	if conv.EscalatedAt != nil {
		escalatedAt = conv.EscalatedAt.Unix()
	}
	var agentID interface{}
	if conv.AgentID != 0 {
		agentID = conv.AgentID
	}

	lastMessageAt := conv.LastMessageAt.Unix()
	if conv.LastMessageAt.IsZero() {
		lastMessageAt = now
	}
	createdAt := conv.CreatedAt.Unix()
	if conv.CreatedAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, query,
		conv.SessionID, nullable(conv.VisitorID), agentID, nullable(conv.AgentName), conv.Status,
		conv.AssignedUserID, nullable(conv.AssignedName), escalatedAt, nullable(conv.EscalationCause),
		lastMessageAt, createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// AppendMessage adds a message to a conversation transcript.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	now := time.Now().Unix()
	ts := msg.Timestamp.Unix()
	if msg.Timestamp.IsZero() {
		ts = now
	}

	return retryOnBusy(func() error {
		ensure := `
		INSERT INTO conversations (session_id, status, last_message_at, created_at, updated_at)
		VALUES (?, 'active', ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			last_message_at = excluded.last_message_at,
			updated_at = excluded.updated_at`
		if _, err := s.db.ExecContext(ctx, ensure, sessionID, ts, now, now); err != nil {
			return fmt.Errorf("ensure conversation: %w", err)
		}

		query := `
		INSERT INTO messages (session_id, role, content, user_id, user_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
		if _, err := s.db.ExecContext(ctx, query,
			sessionID, msg.Role, msg.Content, nullable(msg.UserID), nullable(msg.UserName), ts,
		); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		return nil
	})
}

// retryOnBusy re-runs fn when SQLite reports a lock conflict. The busy
// timeout on the DSN handles most contention; this covers the rest of the
// transcript write path, which races with operator traffic.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

// UpdateConversationStatus changes a conversation's status and operator assignment.
func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, sessionID string, status domain.ConversationStatus, assignedUserID int64, assignedName string) error {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	query := `
	UPDATE conversations
	SET status = ?, assigned_user_id = ?, assigned_name = ?, escalated_at = ?, updated_at = ?
	WHERE session_id = ?`

	now := time.Now().Unix()
	var escalatedAt interface{}
	if status == domain.StatusEscalated {
		escalatedAt = now
	}

	result, err := s.db.ExecContext(ctx, query,
		status, assignedUserID, nullable(assignedName), escalatedAt, now, sessionID,
	)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("conversation not found: %s", sessionID)
	}

	return nil
}

// RenewConversationSession re-keys a conversation under a fresh session id.
func (s *SQLiteStore) RenewConversationSession(ctx context.Context, oldSessionID, newSessionID string) error {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin renew tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().Unix()
	result, err := tx.ExecContext(ctx,
		`UPDATE conversations SET session_id = ?, updated_at = ? WHERE session_id = ?`,
		newSessionID, now, oldSessionID,
	)
	if err != nil {
		return fmt.Errorf("renew conversation session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("conversation not found: %s", oldSessionID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET session_id = ? WHERE session_id = ?`,
		newSessionID, oldSessionID,
	); err != nil {
		return fmt.Errorf("renew message session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit renew tx: %w", err)
	}
	return nil
}

// ListEscalated returns escalated conversations, newest activity first.
func (s *SQLiteStore) ListEscalated(ctx context.Context, pendingOnly bool) ([]*domain.Conversation, error) {
	query := `
		SELECT session_id, visitor_id, agent_id, agent_name, status,
		       assigned_user_id, assigned_name, escalated_at, escalation_cause,
		       last_message_at, created_at, updated_at
		FROM conversations WHERE status = ?`
	args := []interface{}{domain.StatusEscalated}
	if !pendingOnly {
		query = `
		SELECT session_id, visitor_id, agent_id, agent_name, status,
		       assigned_user_id, assigned_name, escalated_at, escalation_cause,
		       last_message_at, created_at, updated_at
		FROM conversations WHERE status IN (?, ?)`
		args = []interface{}{domain.StatusEscalated, domain.StatusResolved}
	}
	query += ` ORDER BY last_message_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query escalated conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close escalated rows", "error", closeErr)
		}
	}()

	var convs []*domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var visitorID, agentName, assignedName, cause sql.NullString
		var agentID, assignedUserID, escalatedAt sql.NullInt64
		var lastMessageAt, createdAt, updatedAt int64

		if err := rows.Scan(
			&conv.SessionID, &visitorID, &agentID, &agentName, &conv.Status,
			&assignedUserID, &assignedName, &escalatedAt, &cause,
			&lastMessageAt, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan escalated row: %w", err)
		}

		conv.VisitorID = visitorID.String
		conv.AgentID = agentID.Int64
		conv.AgentName = agentName.String
		conv.AssignedUserID = assignedUserID.Int64
		conv.AssignedName = assignedName.String
		conv.EscalationCause = cause.String
		conv.LastMessageAt = time.Unix(lastMessageAt, 0)
		conv.CreatedAt = time.Unix(createdAt, 0)
		conv.UpdatedAt = time.Unix(updatedAt, 0)
		if escalatedAt.Valid {
			ts := time.Unix(escalatedAt.Int64, 0)
			conv.EscalatedAt = &ts
		}
		convs = append(convs, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalated conversations: %w", err)
	}

	return convs, nil
}

// CleanupExpiredConversations removes resolved conversations older than TTL.
func (s *SQLiteStore) CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	s.convMu.Lock()
	defer s.convMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IN
			(SELECT session_id FROM conversations WHERE status = ? AND last_message_at < ?)`,
		domain.StatusResolved, threshold,
	); err != nil {
		return 0, fmt.Errorf("cleanup expired messages: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE status = ? AND last_message_at < ?`,
		domain.StatusResolved, threshold,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired conversations: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
