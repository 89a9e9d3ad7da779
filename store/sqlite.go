package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	steam "github.com/zergu1ar/steamtrade"
	"github.com/zergu1ar/steamtrade/tradeoffer"
)

//go:embed schema.sql
var schemaSQL string

var _ tradeoffer.PollStore = (*SQLite)(nil)

// SQLite keeps poll data in a single table keyed by SteamID.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the database at path. ":memory:" works for tests.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// one writer at a time, and an in-memory database lives in its connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Load(ctx context.Context, steamID steam.SteamID) (*tradeoffer.PollData, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM poll_data WHERE steam_id = ?`, steamID.String(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tradeoffer.DecodePollData(raw)
}

func (s *SQLite) Save(ctx context.Context, steamID steam.SteamID, data *tradeoffer.PollData) error {
	raw, err := data.Encode()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO poll_data (steam_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (steam_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		steamID.String(), raw, s.now().Unix(),
	)
	return err
}
