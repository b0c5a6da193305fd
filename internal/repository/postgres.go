package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/ledger"
)

// PostgresConfig holds connection parameters for the journal pool.
type PostgresConfig struct {
	DSN      string
	MaxConns int
	MinConns int
}

// PostgresJournal stores ledger events in PostgreSQL via pgx.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal connects and pings. Schema must already be migrated.
func NewPostgresJournal(ctx context.Context, cfg PostgresConfig) (*PostgresJournal, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres: empty dsn")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &PostgresJournal{pool: pool}, nil
}

func (j *PostgresJournal) Close() {
	j.pool.Close()
}

const insertEventSQL = `
	INSERT INTO ledger_events (id, type, account, ts, fields)
	VALUES ($1::uuid, $2, $3, $4, $5::jsonb)
	ON CONFLICT (id) DO NOTHING`

func eventArgs(ev ledger.Event) ([]any, error) {
	fields, err := json.Marshal(ev.Fields)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal fields: %w", err)
	}
	return []any{ev.ID.String(), string(ev.Type), ev.Account.Hex(), ev.Timestamp.UTC(), string(fields)}, nil
}

func (j *PostgresJournal) StoreEvent(ctx context.Context, ev ledger.Event) error {
	args, err := eventArgs(ev)
	if err != nil {
		return err
	}
	if _, err := j.pool.Exec(ctx, insertEventSQL, args...); err != nil {
		return fmt.Errorf("postgres: store event: %w", err)
	}
	return nil
}

// StoreBatchEvents inserts all events in one transaction.
func (j *PostgresJournal) StoreBatchEvents(ctx context.Context, events []ledger.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, ev := range events {
		args, err := eventArgs(ev)
		if err != nil {
			return err
		}
		batch.Queue(insertEventSQL, args...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: store batch events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (j *PostgresJournal) EventsByAccount(ctx context.Context, account common.Address, limit int, cursor string) ([]ledger.Event, string, error) {
	limit = pageSize(limit)

	before := int64(0)
	if cursor != "" {
		v, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || v <= 0 {
			return nil, "", fmt.Errorf("postgres: %w %q", ErrInvalidCursor, cursor)
		}
		before = v
	}

	// One extra row tells us whether another page exists.
	rows, err := j.pool.Query(ctx, `
		SELECT seq, id::text, type, account, ts, fields
		FROM ledger_events
		WHERE account = $1 AND ($2::bigint = 0 OR seq < $2::bigint)
		ORDER BY seq DESC
		LIMIT $3`,
		account.Hex(), before, limit+1,
	)
	if err != nil {
		return nil, "", fmt.Errorf("postgres: query events: %w", err)
	}
	defer rows.Close()

	var (
		events []ledger.Event
		seqs   []int64
	)
	for rows.Next() {
		var (
			seq     int64
			id      string
			typ     string
			addr    string
			ts      time.Time
			rawJSON []byte
		)
		if err := rows.Scan(&seq, &id, &typ, &addr, &ts, &rawJSON); err != nil {
			return nil, "", fmt.Errorf("postgres: scan event: %w", err)
		}
		ev := ledger.Event{
			Type:      ledger.EventType(typ),
			Account:   common.HexToAddress(addr),
			Timestamp: ts.UTC(),
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, "", fmt.Errorf("postgres: parse event id: %w", err)
		}
		if err := json.Unmarshal(rawJSON, &ev.Fields); err != nil {
			return nil, "", fmt.Errorf("postgres: unmarshal fields: %w", err)
		}
		events = append(events, ev)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("postgres: iterate events: %w", err)
	}

	next := ""
	if len(events) > limit {
		events = events[:limit]
		next = strconv.FormatInt(seqs[limit-1], 10)
	}
	return events, next, nil
}

func (j *PostgresJournal) StorePositionSnapshot(ctx context.Context, snap PositionSnapshot) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO position_snapshots
			(event_id, account, status, principal, dollar_stake, gov_stake, fee_charged, reward_payout, at)
		VALUES ($1::uuid, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9)`,
		snap.EventID, snap.Account.Hex(), string(snap.Status),
		numeric(snap.Principal), numeric(snap.DollarStake), numeric(snap.GovernanceStake),
		numeric(snap.FeeCharged), numeric(snap.RewardPayout), snap.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: store snapshot: %w", err)
	}
	return nil
}

func (j *PostgresJournal) LatestSnapshot(ctx context.Context, account common.Address) (PositionSnapshot, error) {
	var snap PositionSnapshot
	var status, addr string
	var principal, dollar, gov, fee, payout string
	err := j.pool.QueryRow(ctx, `
		SELECT event_id::text, account, status, principal::text, dollar_stake::text,
		       gov_stake::text, fee_charged::text, reward_payout::text, at
		FROM position_snapshots
		WHERE account = $1
		ORDER BY seq DESC
		LIMIT 1`,
		account.Hex(),
	).Scan(&snap.EventID, &addr, &status, &principal, &dollar, &gov, &fee, &payout, &snap.At)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PositionSnapshot{}, ErrNoSnapshot
		}
		return PositionSnapshot{}, fmt.Errorf("postgres: latest snapshot: %w", err)
	}

	snap.Account = common.HexToAddress(addr)
	snap.Status = PositionStatus(status)
	snap.At = snap.At.UTC()
	for _, f := range []struct {
		dst **big.Int
		raw string
	}{
		{&snap.Principal, principal},
		{&snap.DollarStake, dollar},
		{&snap.GovernanceStake, gov},
		{&snap.FeeCharged, fee},
		{&snap.RewardPayout, payout},
	} {
		v, ok := new(big.Int).SetString(f.raw, 10)
		if !ok {
			return PositionSnapshot{}, fmt.Errorf("postgres: bad numeric %q", f.raw)
		}
		*f.dst = v
	}
	return snap, nil
}

func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
