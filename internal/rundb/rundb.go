// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rundb records one row per benchmark run (card, channel,
// start/stop time, superpage counters, final state) in a MySQL table,
// for operators reviewing run history after the fact.
package rundb // import "github.com/go-lpc/roc/internal/rundb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// DSN builds a MySQL data source name from the same shape
// conddb.dsn used: user:pass@tcp(host)/db.
func DSN(user, pass, host, db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", user, pass, host, db)
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          BIGINT AUTO_INCREMENT PRIMARY KEY,
	card_id     VARCHAR(32)  NOT NULL,
	channel     INT          NOT NULL,
	card_type   VARCHAR(8)   NOT NULL,
	started_at  DATETIME     NOT NULL,
	stopped_at  DATETIME     NULL,
	superpages  BIGINT       NOT NULL DEFAULT 0,
	bytes       BIGINT       NOT NULL DEFAULT 0,
	final_state VARCHAR(16)  NULL
)`

// DB is a registry of benchmark runs.
type DB struct {
	db *sql.DB
}

// Open opens dsn, pings it, and ensures the runs table exists.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("rundb: could not open db: %w", err)
	}

	if err := ping(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rundb: could not ensure schema: %w", err)
	}

	return &DB{db: db}, nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("rundb: could not ping db: %w", err)
	}
	return nil
}

func (db *DB) Close() error { return db.db.Close() }

// Run is one row of run history.
type Run struct {
	ID         int64
	CardID     string
	Channel    int
	CardType   string
	StartedAt  time.Time
	StoppedAt  *time.Time
	Superpages int64
	Bytes      int64
	FinalState string
}

// Start records a run's start, returning its ID for a later Stop.
func (db *DB) Start(ctx context.Context, cardID string, channel int, cardType string, at time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := db.db.ExecContext(
		ctx,
		"INSERT INTO runs (card_id, channel, card_type, started_at) VALUES (?, ?, ?, ?)",
		cardID, channel, cardType, at,
	)
	if err != nil {
		return 0, fmt.Errorf("rundb: could not insert run: %w", err)
	}
	return res.LastInsertId()
}

// Stop records a run's end and final counters.
func (db *DB) Stop(ctx context.Context, id int64, at time.Time, superpages, bytes int64, finalState string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"UPDATE runs SET stopped_at=?, superpages=?, bytes=?, final_state=? WHERE id=?",
		at, superpages, bytes, finalState, id,
	)
	if err != nil {
		return fmt.Errorf("rundb: could not update run %d: %w", id, err)
	}
	return nil
}

// Recent returns the n most recently started runs for cardID, newest
// first.
func (db *DB) Recent(ctx context.Context, cardID string, n int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		`SELECT id, card_id, channel, card_type, started_at, stopped_at, superpages, bytes, final_state
		 FROM runs WHERE card_id=? ORDER BY started_at DESC LIMIT ?`,
		cardID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("rundb: could not query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.ID, &r.CardID, &r.Channel, &r.CardType,
			&r.StartedAt, &r.StoppedAt, &r.Superpages, &r.Bytes, &r.FinalState,
		); err != nil {
			return nil, fmt.Errorf("rundb: could not scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rundb: could not scan db for runs: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rundb: context error while retrieving runs: %w", err)
	}

	return runs, nil
}
