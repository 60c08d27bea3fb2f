// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rundb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/go-lpc/roc/internal/fakedb"
)

func init() {
	sql.Register("rundb-fakedb", &fakedb.Driver{})
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	sqlDB, err := sql.Open("rundb-fakedb", "fakedb")
	if err != nil {
		t.Fatalf("could not open fake db: %+v", err)
	}
	return &DB{db: sqlDB}
}

func TestStartAssignsID(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	var id int64
	err := fakedb.RunExec(context.Background(), fakedb.Result{LastID: 7}, func(ctx context.Context) error {
		var err error
		id, err = db.Start(ctx, "0000:01:00.0", 0, "crorc", time.Unix(0, 0))
		return err
	})
	if err != nil {
		t.Fatalf("Start: %+v", err)
	}
	if got, want := id, int64(7); got != want {
		t.Fatalf("run id: got=%d, want=%d", got, want)
	}
}

func TestStop(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	err := fakedb.RunExec(context.Background(), fakedb.Result{Affected: 1}, func(ctx context.Context) error {
		return db.Stop(ctx, 7, time.Unix(1, 0), 128, 128*8192, "stopped")
	})
	if err != nil {
		t.Fatalf("Stop: %+v", err)
	}
}

func TestRecent(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	stopped := time.Unix(1, 0)
	err := fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"id", "card_id", "channel", "card_type", "started_at", "stopped_at", "superpages", "bytes", "final_state"},
		Values: [][]driver.Value{
			{int64(7), "0000:01:00.0", int64(0), "crorc", time.Unix(0, 0), stopped, int64(128), int64(128 * 8192), "stopped"},
		},
	}, func(ctx context.Context) error {
		runs, err := db.Recent(ctx, "0000:01:00.0", 10)
		if err != nil {
			return err
		}
		if len(runs) != 1 {
			t.Fatalf("runs: got=%d, want=1", len(runs))
		}
		if runs[0].ID != 7 {
			t.Fatalf("run id: got=%d, want=7", runs[0].ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Recent: %+v", err)
	}
}
