// Package store implements CaptureStore (C5): durable, queryable,
// optionally field-encrypted persistence for captured HTTP transactions,
// backed by SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // driver registration

	"github.com/int3rceptor/interceptor/errs"
	"github.com/int3rceptor/interceptor/internal/ilog"
	"github.com/int3rceptor/interceptor/internal/interceptor/capture"
)

const defaultQueryLimit = 500

// Store persists capture entries to a SQLite database, encrypting header
// and body fields when a KeyProvider is enabled.
type Store struct {
	db  *sql.DB
	key KeyProvider
}

// Open creates or opens the SQLite database at path, applying WAL mode and
// a busy timeout so readers never block writers.
func Open(path string, key KeyProvider) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.New(errs.KindStorageConn, "creating capture store directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.New(errs.KindStorageConn, "opening capture store", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errs.New(errs.KindStorageConn, "enabling WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, errs.New(errs.KindStorageConn, "setting busy timeout", err)
	}

	s := &Store{db: db, key: key}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS captures (
			id INTEGER PRIMARY KEY,
			timestamp_ms INTEGER NOT NULL,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			headers BLOB NOT NULL,
			body BLOB,
			tls INTEGER NOT NULL,
			resp_status INTEGER,
			resp_headers BLOB,
			resp_body BLOB,
			duration_ms INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_captures_method ON captures(method);
		CREATE INDEX IF NOT EXISTS idx_captures_url ON captures(url);
		CREATE INDEX IF NOT EXISTS idx_captures_status ON captures(resp_status);
	`)
	if err != nil {
		return errs.New(errs.KindStorageConn, "creating captures table", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists entry, replacing any existing row with the same request
// id (mirrors the ring's own upsert-on-push semantics).
func (s *Store) Insert(entry capture.Entry) error {
	headersJSON, err := json.Marshal(entry.Request.Headers)
	if err != nil {
		return errs.New(errs.KindSerde, "marshaling request headers", err)
	}
	encHeaders, err := encryptIfEnabled(s.key, headersJSON)
	if err != nil {
		return err
	}

	var encBody []byte
	if len(entry.Request.Body) > 0 {
		encBody, err = encryptIfEnabled(s.key, entry.Request.Body)
		if err != nil {
			return err
		}
	}

	var respStatus sql.NullInt64
	var respHeaders, respBody []byte
	var durationMS sql.NullInt64

	if entry.Response != nil {
		respStatus = sql.NullInt64{Int64: int64(entry.Response.StatusCode), Valid: true}
		durationMS = sql.NullInt64{Int64: entry.Response.DurationMS, Valid: true}

		respHeadersJSON, err := json.Marshal(entry.Response.Headers)
		if err != nil {
			return errs.New(errs.KindSerde, "marshaling response headers", err)
		}
		respHeaders, err = encryptIfEnabled(s.key, respHeadersJSON)
		if err != nil {
			return err
		}
		if len(entry.Response.Body) > 0 {
			respBody, err = encryptIfEnabled(s.key, entry.Response.Body)
			if err != nil {
				return err
			}
		}
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO captures (
			id, timestamp_ms, method, url, headers, body, tls,
			resp_status, resp_headers, resp_body, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		int64(entry.Request.ID), entry.Request.Timestamp, entry.Request.Method, entry.Request.URL,
		encHeaders, nullableBytes(encBody), boolToInt(entry.Request.TLS),
		respStatus, nullableBytes(respHeaders), nullableBytes(respBody), durationMS,
	)
	if err != nil {
		return errs.New(errs.KindStorageQuery, "inserting capture", err)
	}
	return nil
}

// Clear deletes every row from the captures table.
func (s *Store) Clear() error {
	if _, err := s.db.Exec("DELETE FROM captures"); err != nil {
		return errs.New(errs.KindStorageQuery, "clearing captures", err)
	}
	return nil
}

// Query filters captures using a dynamically built SQL WHERE clause,
// decrypting header and body fields as rows are scanned. Results are
// ordered most-recent-first and bounded by q.Limit (default 500).
func (s *Store) Query(q capture.Query) ([]capture.Entry, error) {
	clause := "SELECT id, timestamp_ms, method, url, headers, body, tls, resp_status, resp_headers, resp_body, duration_ms FROM captures WHERE 1=1"
	var args []any

	if q.Method != nil {
		clause += " AND method = ?"
		args = append(args, *q.Method)
	}
	if q.Host != nil {
		clause += " AND url LIKE ?"
		args = append(args, "%"+*q.Host+"%")
	}
	if q.Status != nil {
		clause += " AND resp_status = ?"
		args = append(args, *q.Status)
	}
	if q.TLS != nil {
		clause += " AND tls = ?"
		args = append(args, boolToInt(*q.TLS))
	}
	if q.Search != nil {
		clause += " AND url LIKE ?"
		args = append(args, "%"+*q.Search+"%")
	}

	limit := defaultQueryLimit
	if q.Limit != nil {
		limit = *q.Limit
	}
	clause += fmt.Sprintf(" ORDER BY id DESC LIMIT %d", limit)

	rows, err := s.db.Query(clause, args...)
	if err != nil {
		return nil, errs.New(errs.KindStorageQuery, "querying captures", err)
	}
	defer rows.Close()

	var entries []capture.Entry
	for rows.Next() {
		entry, err := s.scanEntry(rows)
		if err != nil {
			ilog.Warn("dropping capture row: decrypt failed", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindStorageQuery, "iterating captures", err)
	}
	return entries, nil
}

func (s *Store) scanEntry(rows *sql.Rows) (capture.Entry, error) {
	var (
		id, timestampMS        int64
		method, url            string
		encHeaders, encBody    []byte
		tls                    int64
		respStatus             sql.NullInt64
		encRespHeaders         []byte
		encRespBody            []byte
		durationMS             sql.NullInt64
	)

	if err := rows.Scan(&id, &timestampMS, &method, &url, &encHeaders, &encBody, &tls,
		&respStatus, &encRespHeaders, &encRespBody, &durationMS); err != nil {
		return capture.Entry{}, errs.New(errs.KindStorageQuery, "scanning capture row", err)
	}

	headersJSON, err := decryptIfEnabled(s.key, encHeaders)
	if err != nil {
		return capture.Entry{}, err
	}
	var headers []capture.Header
	_ = json.Unmarshal(headersJSON, &headers)

	body, err := decryptIfEnabled(s.key, encBody)
	if err != nil {
		return capture.Entry{}, err
	}

	request := capture.Request{
		ID:        uint64(id),
		Timestamp: timestampMS,
		Method:    method,
		URL:       url,
		Headers:   headers,
		Body:      body,
		TLS:       tls == 1,
	}

	var response *capture.Response
	if respStatus.Valid {
		respHeadersJSON, err := decryptIfEnabled(s.key, encRespHeaders)
		if err != nil {
			return capture.Entry{}, err
		}
		var respHeaders []capture.Header
		_ = json.Unmarshal(respHeadersJSON, &respHeaders)

		respBody, err := decryptIfEnabled(s.key, encRespBody)
		if err != nil {
			return capture.Entry{}, err
		}

		response = &capture.Response{
			RequestID:  request.ID,
			StatusCode: int(respStatus.Int64),
			Headers:    respHeaders,
			Body:       respBody,
			DurationMS: durationMS.Int64,
		}
	}

	return capture.Entry{Request: request, Response: response}, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
