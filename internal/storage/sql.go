package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// dialect captures the differences between the supported SQL databases.
type dialect struct {
	driver       string
	numbered     bool
	singleWriter bool
}

var (
	sqliteDialect   = dialect{driver: "sqlite", singleWriter: true}
	postgresDialect = dialect{driver: "postgres", numbered: true}
)

// rebind rewrites ? placeholders as $1, $2... for drivers that need it.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Timestamps are stored as unix milliseconds so both drivers scan them the
// same way.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		chat_id BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_turns (
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (conversation_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_chat ON conversations (chat_id)`,
}

// SQLStore is a TranscriptStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open creates the store named by config.Driver. SQL stores are migrated
// before they are returned.
func Open(ctx context.Context, config Config) (TranscriptStore, error) {
	defaults := DefaultConfig()
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = defaults.MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = defaults.MaxIdleConns
	}
	if config.ConnMaxLifetime <= 0 {
		config.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}

	var d dialect
	switch strings.ToLower(strings.TrimSpace(config.Driver)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		d = sqliteDialect
	case "postgres":
		d = postgresDialect
	default:
		return nil, fmt.Errorf("unknown storage driver %q", config.Driver)
	}
	if strings.TrimSpace(config.DSN) == "" {
		return nil, fmt.Errorf("dsn is required for %s storage", d.driver)
	}

	db, err := sql.Open(d.driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if d.singleWriter {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := newSQLStore(db, d)
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d, now: time.Now}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, chatID int64) (*Conversation, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	conv := &Conversation{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO conversations (id, chat_id, created_at, updated_at) VALUES (?, ?, ?, ?)`),
		conv.ID, conv.ChatID, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLStore) Load(ctx context.Context, id string) (*Conversation, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	conv := &Conversation{ID: id}
	var createdMS, updatedMS int64
	row := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT chat_id, created_at, updated_at FROM conversations WHERE id = ?`), id)
	if err := row.Scan(&conv.ChatID, &createdMS, &updatedMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	conv.CreatedAt = time.UnixMilli(createdMS).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedMS).UTC()

	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind(`SELECT role, content, created_at FROM conversation_turns WHERE conversation_id = ? ORDER BY seq`), id)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			turn Turn
			role string
			ms   int64
		)
		if err := rows.Scan(&role, &turn.Text, &ms); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = Role(role)
		turn.CreatedAt = time.UnixMilli(ms).UTC()
		conv.Turns = append(conv.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	return conv, nil
}

func (s *SQLStore) Append(ctx context.Context, id string, turns ...Turn) error {
	if id == "" {
		return ErrNotFound
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		s.dialect.rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`), now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	var seq int
	if err := tx.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT COALESCE(MAX(seq), 0) FROM conversation_turns WHERE conversation_id = ?`), id,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next turn seq: %w", err)
	}

	insert := s.dialect.rebind(`INSERT INTO conversation_turns (conversation_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	for _, turn := range turns {
		seq++
		created := turn.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx, insert, id, seq, string(turn.Role), turn.Text, created.UnixMilli()); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
