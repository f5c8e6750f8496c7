// Package indexer keeps a queryable sqlite read model of committed ledger
// events, including a provenance table with one row per certificate transfer.
package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"codice/core/events"
	"codice/crypto"
	"codice/native/certificate"
)

// ErrPathRequired is returned when no database path is configured.
var ErrPathRequired = errors.New("indexer: path must be configured")

const schema = `
CREATE TABLE IF NOT EXISTS events (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    type        TEXT NOT NULL,
    ledger      TEXT NOT NULL DEFAULT '',
    token_id    INTEGER,
    attributes  TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_token ON events(ledger, token_id, seq);

CREATE TABLE IF NOT EXISTS provenance (
    seq         INTEGER PRIMARY KEY,
    ledger      TEXT NOT NULL,
    token_id    INTEGER NOT NULL,
    from_addr   TEXT NOT NULL,
    to_addr     TEXT NOT NULL,
    value       TEXT NOT NULL,
    currency    TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS provenance_token ON provenance(ledger, token_id, seq);
`

// Event is one indexed event.
type Event struct {
	Seq        int64             `json:"seq"`
	Type       string            `json:"type"`
	Ledger     string            `json:"ledger,omitempty"`
	TokenID    *uint64           `json:"tokenId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Transfer is one ownership change with the valuation it carried.
type Transfer struct {
	Seq        int64     `json:"seq"`
	Ledger     string    `json:"ledger"`
	TokenID    uint64    `json:"tokenId"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Value      string    `json:"value"`
	Currency   string    `json:"currency"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Indexer implements events.Emitter. Emit never blocks execution on a
// failing database; failures are logged and counted.
type Indexer struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	failures uint64
}

// Open opens (or creates) the sqlite database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Indexer, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	dsn := filepath.Clean(trimmed) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("indexer: open sqlite db: %w", err)
	}
	// Writes are serialised by the node; one connection keeps ordering simple.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("indexer: ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("indexer: apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the database handle.
func (ix *Indexer) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

// Failures reports how many events could not be persisted.
func (ix *Indexer) Failures() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.failures
}

// Emit implements events.Emitter.
func (ix *Indexer) Emit(evt events.Event) {
	if ix == nil || evt == nil {
		return
	}
	if err := ix.Record(context.Background(), evt); err != nil {
		ix.mu.Lock()
		ix.failures++
		ix.mu.Unlock()
		ix.logger.Error("indexer: record event",
			slog.String("event", evt.EventType()),
			slog.String("error", err.Error()))
	}
}

// Record persists evt and, for value transfers, its provenance row.
func (ix *Indexer) Record(ctx context.Context, evt events.Event) error {
	payload := events.Canonical(evt)
	attrs := payload.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	ledger := payload.Contract()
	var tokenID sql.NullInt64
	id, ok, err := payload.TokenID()
	if err != nil {
		return fmt.Errorf("indexer: %w", err)
	}
	if ok {
		tokenID = sql.NullInt64{Int64: int64(id), Valid: true}
	}
	recorded := ix.now().UTC().UnixMilli()

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO events(type, ledger, token_id, attributes, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, payload.Type, ledger, tokenID, string(encoded), recorded)
	if err != nil {
		return fmt.Errorf("indexer: insert event: %w", err)
	}
	if transfer, ok := evt.(certificate.ValueTransferEvent); ok {
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO provenance(seq, ledger, token_id, from_addr, to_addr, value, currency, recorded_at)
            VALUES(?, ?, ?, ?, ?, ?, ?, ?)
        `, seq, crypto.FormatAddress(transfer.Ledger), int64(transfer.TokenID),
			crypto.FormatAddress(transfer.From), crypto.FormatAddress(transfer.To),
			transfer.Value, transfer.Currency.String(), recorded)
		if err != nil {
			return fmt.Errorf("indexer: insert provenance: %w", err)
		}
	}
	return tx.Commit()
}

// Events returns every indexed event touching the certificate in commit order.
func (ix *Indexer) Events(ctx context.Context, ledger [20]byte, tokenID uint64) ([]Event, error) {
	rows, err := ix.db.QueryContext(ctx, `
        SELECT seq, type, ledger, token_id, attributes, recorded_at
        FROM events
        WHERE ledger = ? AND token_id = ?
        ORDER BY seq
    `, crypto.FormatAddress(ledger), int64(tokenID))
	if err != nil {
		return nil, fmt.Errorf("indexer: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			evt      Event
			token    sql.NullInt64
			attrs    string
			recorded int64
		)
		if err := rows.Scan(&evt.Seq, &evt.Type, &evt.Ledger, &token, &attrs, &recorded); err != nil {
			return nil, err
		}
		if token.Valid {
			id := uint64(token.Int64)
			evt.TokenID = &id
		}
		if err := json.Unmarshal([]byte(attrs), &evt.Attributes); err != nil {
			return nil, fmt.Errorf("indexer: decode attributes: %w", err)
		}
		evt.RecordedAt = time.UnixMilli(recorded).UTC()
		out = append(out, evt)
	}
	return out, rows.Err()
}

// Provenance returns the transfer chain of the certificate, oldest first.
func (ix *Indexer) Provenance(ctx context.Context, ledger [20]byte, tokenID uint64) ([]Transfer, error) {
	rows, err := ix.db.QueryContext(ctx, `
        SELECT seq, ledger, token_id, from_addr, to_addr, value, currency, recorded_at
        FROM provenance
        WHERE ledger = ? AND token_id = ?
        ORDER BY seq
    `, crypto.FormatAddress(ledger), int64(tokenID))
	if err != nil {
		return nil, fmt.Errorf("indexer: query provenance: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var (
			tr       Transfer
			token    int64
			recorded int64
		)
		if err := rows.Scan(&tr.Seq, &tr.Ledger, &token, &tr.From, &tr.To, &tr.Value, &tr.Currency, &recorded); err != nil {
			return nil, err
		}
		tr.TokenID = uint64(token)
		tr.RecordedAt = time.UnixMilli(recorded).UTC()
		out = append(out, tr)
	}
	return out, rows.Err()
}
