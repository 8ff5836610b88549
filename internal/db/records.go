package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/banshee-data/hivemind/internal/monitoring"
)

// Append stores r as a new document and returns its id and revision. r.ID and
// r.Rev are set on success. A record that already carries an id is stored
// under it; a duplicate id is an error.
func (db *DB) Append(ctx context.Context, r *Record) (id, rev string, err error) {
	if r == nil {
		return "", "", errors.New("nil record")
	}
	if math.IsNaN(r.UnixTime) || math.IsInf(r.UnixTime, 0) {
		return "", "", fmt.Errorf("invalid unix_time %v", r.UnixTime)
	}

	doc := *r
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.Rev = ""
	body, err := json.Marshal(doc)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode record: %w", err)
	}
	sum := sha256.Sum256(body)
	doc.Rev = "1-" + hex.EncodeToString(sum[:16])

	// store the document with its identity embedded
	body, err = json.Marshal(doc)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO records (id, rev, time, unix_time, doc) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Rev, doc.Time, doc.UnixTime, string(body),
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to append record: %w", err)
	}

	r.ID, r.Rev = doc.ID, doc.Rev
	return doc.ID, doc.Rev, nil
}

// QuerySince returns every record whose unix_time is at or after cutoff, in
// no particular order. Documents that cannot be decoded are logged and
// skipped.
func (db *DB) QuerySince(ctx context.Context, cutoff float64) ([]Record, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, rev, doc FROM records WHERE unix_time >= ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	skipped := 0
	for rows.Next() {
		var id, rev string
		var doc sql.NullString
		if err := rows.Scan(&id, &rev, &doc); err != nil {
			return nil, err
		}
		rec, err := decodeRow(id, rev, doc)
		if err != nil {
			skipped++
			monitoring.Logf("warning: skipping record %s: %v", id, err)
			continue
		}
		// the column is authoritative for the range; the document must agree
		if rec.UnixTime < cutoff {
			skipped++
			monitoring.Logf("warning: skipping record %s: document unix_time %v before cutoff", id, rec.UnixTime)
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		monitoring.Logf("warning: skipped %d malformed records since %.3f", skipped, cutoff)
	}
	return out, nil
}

// Latest returns the record with the greatest unix_time, or sql.ErrNoRows
// when the store is empty.
func (db *DB) Latest(ctx context.Context) (Record, error) {
	var id, rev string
	var doc sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT id, rev, doc FROM records ORDER BY unix_time DESC, rowid DESC LIMIT 1`,
	).Scan(&id, &rev, &doc)
	if err != nil {
		return Record{}, err
	}
	return decodeRow(id, rev, doc)
}

// Count returns the number of stored records.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func decodeRow(id, rev string, doc sql.NullString) (Record, error) {
	if !doc.Valid {
		return Record{}, fmt.Errorf("%w: empty document", ErrMalformedRecord)
	}
	var rec Record
	if err := json.Unmarshal([]byte(doc.String), &rec); err != nil {
		if !errors.Is(err, ErrMalformedRecord) {
			err = fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		return Record{}, err
	}
	rec.ID, rec.Rev = id, rev
	return rec, nil
}
