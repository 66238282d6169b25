package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"agentengine/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	user_message    TEXT NOT NULL,
	agent_response  TEXT NOT NULL,
	metadata        TEXT,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_conversation
	ON interactions (user_id, conversation_id, created_at);
`

// SQLiteStore keeps interactions in a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *logx.Logger
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	// Open database connection with WAL mode and busy timeout
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("memory")
	logger.Info("memory database opened: %s", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) StoreInteraction(ctx context.Context, in Interaction) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}

	var metadata []byte
	if len(in.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(in.Metadata); err != nil {
			return fmt.Errorf("failed to encode interaction metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, user_id, conversation_id, user_message, agent_response, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		in.ID, in.UserID, in.ConversationID, in.UserMessage, in.AgentResponse, string(metadata), in.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store interaction: %w", err)
	}
	return nil
}

// likeEscaper makes a query term match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (s *SQLiteStore) RetrieveContext(ctx context.Context, userID, conversationID, query string, max int) ([]Turn, error) {
	if max <= 0 {
		return nil, nil
	}

	where := []string{"user_id = ?", "conversation_id = ?"}
	args := []any{userID, conversationID}
	if terms := strings.Fields(strings.ToLower(query)); len(terms) > 0 {
		var match []string
		for _, term := range terms {
			match = append(match, `(lower(user_message) LIKE ? ESCAPE '\' OR lower(agent_response) LIKE ? ESCAPE '\')`)
			pattern := "%" + likeEscaper.Replace(term) + "%"
			args = append(args, pattern, pattern)
		}
		where = append(where, "("+strings.Join(match, " OR ")+")")
	}
	args = append(args, max)

	//nolint:gosec // only placeholders are interpolated
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_message, agent_response, created_at FROM interactions
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []Turn
	for rows.Next() {
		var (
			t       Turn
			created int64
		)
		if err := rows.Scan(&t.UserMessage, &t.AgentResponse, &created); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		t.CreatedAt = time.Unix(0, created)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read interactions: %w", err)
	}

	// Newest were fetched first; callers want chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Count returns how many interactions are stored for a conversation.
func (s *SQLiteStore) Count(ctx context.Context, userID, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interactions WHERE user_id = ? AND conversation_id = ?`,
		userID, conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
