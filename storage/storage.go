/*
 * Copyright 2019 The CacheFarm Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package storage implements the shared instruction log on sqlite3.
//
// The log is an append-only table of instruction batches. Row ids are
// assigned by the database, strictly increasing and never reused, so every
// server of the farm can tail the table by keeping a single integer cursor.
//
// Although a sql.DB should be safe for concurrent use according to
// https://golang.org/pkg/database/sql/#OpenDB, the go-sqlite3 implementation
// only guarantees the safety of concurrent readers. Appends come from request
// threads and reads come from the sync scheduler, so writes are kept small
// and transactional.
package storage

import (
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"

	// Register go-sqlite3 engine.
	_ "github.com/mattn/go-sqlite3"

	"github.com/cachefarm/cachefarm/proto"
	"github.com/cachefarm/cachefarm/types"
)

var (
	index = struct {
		mu *sync.Mutex
		db map[string]*sql.DB
	}{
		&sync.Mutex{},
		make(map[string]*sql.DB),
	}
)

func openDB(dsn string) (db *sql.DB, err error) {
	index.mu.Lock()
	defer index.mu.Unlock()

	db = index.db[dsn]
	if db == nil {
		db, err = sql.Open("sqlite3", dsn)

		if err != nil {
			return nil, err
		}

		index.db[dsn] = db
	}

	return db, err
}

// Store is the append-only instruction log.
type Store struct {
	dsn string
	db  *sql.DB
}

// OpenStore opens a database using the specified DSN and ensures that the
// instruction log table exists.
func OpenStore(dsn string) (st *Store, err error) {
	var db *sql.DB
	if db, err = openDB(dsn); err != nil {
		err = errors.Wrap(err, "open instruction log failed")
		return
	}

	if _, err = db.Exec(
		`CREATE TABLE IF NOT EXISTS cache_instructions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_utc TIMESTAMP NOT NULL,
			instructions TEXT NOT NULL,
			origin_id TEXT NOT NULL,
			instruction_count INTEGER NOT NULL
		)`); err != nil {
		err = errors.Wrap(err, "ensure instruction log table failed")
		return
	}

	st = &Store{dsn: dsn, db: db}
	return
}

// Add appends one batch row and assigns its id from the database.
func (s *Store) Add(batch *types.InstructionBatch) (err error) {
	if batch.CreatedUTC.IsZero() {
		batch.CreatedUTC = time.Now().UTC()
	}

	var result sql.Result
	result, err = s.db.Exec(
		`INSERT INTO cache_instructions
			(created_utc, instructions, origin_id, instruction_count)
			VALUES (?, ?, ?, ?)`,
		batch.CreatedUTC, batch.Instructions, string(batch.OriginID), batch.InstructionCount)

	if err != nil {
		err = errors.Wrap(err, "append instruction batch failed")
		return
	}

	batch.ID, err = result.LastInsertId()
	return
}

// AddBatch appends all rows within a single transaction, so readers either
// see every chunk of a logical operation or none of them.
func (s *Store) AddBatch(batches []*types.InstructionBatch) (err error) {
	var tx *sql.Tx
	if tx, err = s.db.Begin(); err != nil {
		err = errors.Wrap(err, "begin append transaction failed")
		return
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	var pStmt *sql.Stmt
	pStmt, err = tx.Prepare(
		`INSERT INTO cache_instructions
			(created_utc, instructions, origin_id, instruction_count)
			VALUES (?, ?, ?, ?)`)

	if err != nil {
		return
	}

	defer pStmt.Close()

	for _, batch := range batches {
		if batch.CreatedUTC.IsZero() {
			batch.CreatedUTC = time.Now().UTC()
		}

		var result sql.Result
		result, err = pStmt.Exec(
			batch.CreatedUTC, batch.Instructions, string(batch.OriginID), batch.InstructionCount)
		if err != nil {
			return
		}
		if batch.ID, err = result.LastInsertId(); err != nil {
			return
		}
	}

	return
}

// CountAll returns the total row count of the log.
func (s *Store) CountAll() (count int64, err error) {
	err = s.db.QueryRow(
		`SELECT COUNT(1) FROM cache_instructions`).Scan(&count)
	return
}

// Exists reports whether the row with the given id is still in the log.
func (s *Store) Exists(id int64) (exists bool, err error) {
	var found int64
	err = s.db.QueryRow(
		`SELECT COUNT(1) FROM cache_instructions WHERE id = ?`, id).Scan(&found)
	exists = found > 0
	return
}

// CountPendingInstructions sums the instruction counts of all rows strictly
// after sinceID.
func (s *Store) CountPendingInstructions(sinceID int64) (count int64, err error) {
	err = s.db.QueryRow(
		`SELECT COALESCE(SUM(instruction_count), 0) FROM cache_instructions WHERE id > ?`,
		sinceID).Scan(&count)
	return
}

// GetMaxID returns the current maximum row id, zero on an empty log.
func (s *Store) GetMaxID() (maxID int64, err error) {
	err = s.db.QueryRow(
		`SELECT COALESCE(MAX(id), 0) FROM cache_instructions`).Scan(&maxID)
	return
}

// GetPendingInstructions fetches at most limit rows strictly after sinceID,
// ordered by id ascending.
func (s *Store) GetPendingInstructions(sinceID int64, limit int) (batches []*types.InstructionBatch, err error) {
	var rows *sql.Rows
	rows, err = s.db.Query(
		`SELECT id, created_utc, instructions, origin_id, instruction_count
			FROM cache_instructions WHERE id > ? ORDER BY id ASC LIMIT ?`,
		sinceID, limit)

	if err != nil {
		err = errors.Wrap(err, "fetch pending instructions failed")
		return
	}

	defer rows.Close()

	for rows.Next() {
		var (
			b      = &types.InstructionBatch{}
			origin string
		)

		if err = rows.Scan(&b.ID, &b.CreatedUTC, &b.Instructions, &origin, &b.InstructionCount); err != nil {
			err = errors.Wrap(err, "scan pending instruction row failed")
			return
		}

		b.OriginID = proto.ServerID(origin)
		batches = append(batches, b)
	}

	err = rows.Err()
	return
}

// DeleteInstructionsOlderThan deletes all rows created before cutoff, always
// retaining the single newest row regardless of age so that an idle farm
// never presents as having lost history.
func (s *Store) DeleteInstructionsOlderThan(cutoff time.Time) (err error) {
	_, err = s.db.Exec(
		`DELETE FROM cache_instructions
			WHERE created_utc < ?
			AND id != (SELECT MAX(id) FROM cache_instructions)`,
		cutoff)

	if err != nil {
		err = errors.Wrap(err, "prune instruction log failed")
	}
	return
}
