package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockDB(t *testing.T, d dialect) (sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := newSQLStore(db, d)
	store.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return mock, store
}

func TestDialect_Rebind(t *testing.T) {
	query := "SELECT a FROM t WHERE x = ? AND y = ?"
	if got := sqliteDialect.rebind(query); got != query {
		t.Errorf("sqlite rebind = %q", got)
	}
	if got := postgresDialect.rebind(query); got != "SELECT a FROM t WHERE x = $1 AND y = $2" {
		t.Errorf("postgres rebind = %q", got)
	}
}

func TestSQLStore_Create(t *testing.T) {
	mock, store := setupMockDB(t, postgresDialect)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO conversations (id, chat_id, created_at, updated_at) VALUES ($1, $2, $3, $4)")).
		WithArgs(sqlmock.AnyArg(), int64(42), int64(1_700_000_000_000), int64(1_700_000_000_000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	conv, err := store.Create(context.Background(), 42)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if conv.ID == "" || conv.ChatID != 42 {
		t.Errorf("Create() = %+v", conv)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_CreateError(t *testing.T) {
	mock, store := setupMockDB(t, sqliteDialect)
	mock.ExpectExec("INSERT INTO conversations").WillReturnError(errors.New("disk full"))

	_, err := store.Create(context.Background(), 1)
	if err == nil || !strings.Contains(err.Error(), "create conversation") {
		t.Errorf("Create() error = %v", err)
	}
}

func TestSQLStore_Load(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
		wantTurns int
	}{
		{
			name: "conversation with turns",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT chat_id, created_at, updated_at FROM conversations").
					WithArgs("conv-1").
					WillReturnRows(sqlmock.NewRows([]string{"chat_id", "created_at", "updated_at"}).
						AddRow(int64(7), int64(1000), int64(2000)))
				mock.ExpectQuery("SELECT role, content, created_at FROM conversation_turns").
					WithArgs("conv-1").
					WillReturnRows(sqlmock.NewRows([]string{"role", "content", "created_at"}).
						AddRow("user", "hello", int64(1000)).
						AddRow("assistant", "hi", int64(1500)))
			},
			wantTurns: 2,
		},
		{
			name: "missing conversation",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT chat_id").
					WithArgs("conv-1").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, store := setupMockDB(t, postgresDialect)
			tt.setupMock(mock)

			conv, err := store.Load(context.Background(), "conv-1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Load() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if conv.ChatID != 7 || len(conv.Turns) != tt.wantTurns {
				t.Errorf("Load() = %+v", conv)
			}
			if conv.Turns[1].Role != RoleAssistant {
				t.Errorf("turn role = %q", conv.Turns[1].Role)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestSQLStore_Append(t *testing.T) {
	mock, store := setupMockDB(t, postgresDialect)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE conversations SET updated_at = $1 WHERE id = $2")).
		WithArgs(int64(1_700_000_000_000), "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(seq), 0) FROM conversation_turns WHERE conversation_id = $1")).
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(2))
	mock.ExpectExec("INSERT INTO conversation_turns").
		WithArgs("conv-1", 3, "user", "question", int64(1_700_000_000_000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO conversation_turns").
		WithArgs("conv-1", 4, "assistant", "answer", int64(1_700_000_000_000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Append(context.Background(), "conv-1",
		Turn{Role: RoleUser, Text: "question"},
		Turn{Role: RoleAssistant, Text: "answer"},
	)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_AppendMissing(t *testing.T) {
	mock, store := setupMockDB(t, sqliteDialect)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Append(context.Background(), "nope", Turn{Role: RoleUser, Text: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Append() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "transcripts.db")

	store, err := Open(ctx, Config{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	conv, err := store.Create(ctx, 99)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Append(ctx, conv.ID, Turn{Role: RoleUser, Text: "one"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(ctx, conv.ID, Turn{Role: RoleAssistant, Text: "two"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	loaded, err := store.Load(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ChatID != 99 || len(loaded.Turns) != 2 {
		t.Fatalf("Load() = %+v", loaded)
	}
	if loaded.Turns[0].Text != "one" || loaded.Turns[1].Text != "two" {
		t.Errorf("turn order = %+v", loaded.Turns)
	}

	if _, err := store.Load(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(unknown) error = %v", err)
	}
}
