package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	steam "github.com/zergu1ar/steamtrade"
	"github.com/zergu1ar/steamtrade/tradeoffer"
)

var _ tradeoffer.PollStore = (*Postgres)(nil)

const createPollDataSQL = `
    CREATE TABLE IF NOT EXISTS trade_poll_data (
        steam_id   BIGINT PRIMARY KEY,
        data       JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )
`

// Postgres shares poll data between hosts running the same account.
type Postgres struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to dsn and makes sure the table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.db.Exec(ctx, createPollDataSQL)
	return err
}

func (p *Postgres) Close() {
	p.db.Close()
}

func (p *Postgres) Load(ctx context.Context, steamID steam.SteamID) (*tradeoffer.PollData, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var raw []byte
	err := p.db.QueryRow(ctx, `
        SELECT data FROM trade_poll_data WHERE steam_id = $1
    `, int64(steamID)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tradeoffer.DecodePollData(raw)
}

func (p *Postgres) Save(ctx context.Context, steamID steam.SteamID, data *tradeoffer.PollData) error {
	raw, err := data.Encode()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	_, err = p.db.Exec(ctx, `
        INSERT INTO trade_poll_data (steam_id, data, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (steam_id) DO UPDATE SET
            data = EXCLUDED.data,
            updated_at = EXCLUDED.updated_at
    `, int64(steamID), raw)
	return err
}
