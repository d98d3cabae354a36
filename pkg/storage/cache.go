package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheEntry is a stored response body.
type CacheEntry struct {
	Key         string
	ContentType string
	Body        []byte
	StoredAt    time.Time
}

// CacheStats summarizes the offline cache.
type CacheStats struct {
	Entries         int
	RawBytes        int64
	CompressedBytes int64
	Oldest          time.Time
	Newest          time.Time
}

// PutCache stores body under key, replacing any previous entry. Bodies are
// zstd-compressed on disk.
func (s *Store) PutCache(key, contentType string, body []byte) error {
	compressed := s.encoder.EncodeAll(body, nil)
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO http_cache (key, content_type, body, size, stored_at)
		VALUES (?, ?, ?, ?, ?)
	`, key, contentType, compressed, len(body), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("storing cache entry %s: %w", key, err)
	}
	return nil
}

// GetCache returns the entry for key. ok is false on a miss.
func (s *Store) GetCache(key string) (entry CacheEntry, ok bool, err error) {
	var compressed []byte
	var storedAt int64
	err = s.db.QueryRow(
		"SELECT content_type, body, stored_at FROM http_cache WHERE key = ?", key,
	).Scan(&entry.ContentType, &compressed, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}

	body, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("decompressing cache entry %s: %w", key, err)
	}

	entry.Key = key
	entry.Body = body
	entry.StoredAt = time.UnixMilli(storedAt)
	return entry, true, nil
}

// ClearCache removes every cache entry and returns how many were removed.
func (s *Store) ClearCache() (int64, error) {
	res, err := s.db.Exec("DELETE FROM http_cache")
	if err != nil {
		return 0, fmt.Errorf("clearing cache: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) CacheStats() (CacheStats, error) {
	var st CacheStats
	var raw, compressed, oldest, newest sql.NullInt64
	err := s.db.QueryRow(`
		SELECT COUNT(*), SUM(size), SUM(LENGTH(body)), MIN(stored_at), MAX(stored_at)
		FROM http_cache
	`).Scan(&st.Entries, &raw, &compressed, &oldest, &newest)
	if err != nil {
		return st, fmt.Errorf("reading cache stats: %w", err)
	}
	st.RawBytes = raw.Int64
	st.CompressedBytes = compressed.Int64
	if oldest.Valid {
		st.Oldest = time.UnixMilli(oldest.Int64)
	}
	if newest.Valid {
		st.Newest = time.UnixMilli(newest.Int64)
	}
	return st, nil
}
