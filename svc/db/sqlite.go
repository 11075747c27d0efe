package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"pastevault/pkg/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isUniqueViolation(err) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	_, err = s.db.Exec("PRAGMA synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'text',
		lifetime REAL NOT NULL DEFAULT 1440,
		is_private INTEGER NOT NULL DEFAULT 0,
		secret_key TEXT UNIQUE,
		views_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		expires_at DATETIME,
		is_expired INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	CREATE INDEX IF NOT EXISTS idx_pastes_created_at ON pastes(created_at);
	CREATE TABLE IF NOT EXISTS app_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		value INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);
	`
	_, err = s.db.Exec(query)
	return err
}

const pasteColumns = `id, uuid, title, content_hash, language, lifetime, is_private, secret_key, views_count, created_at, expires_at, is_expired`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaste(row rowScanner) (*domain.Paste, error) {
	var p domain.Paste
	var secretKey sql.NullString
	var expiresAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.UUID, &p.Title, &p.ContentHash, &p.Language, &p.LifetimeMinutes,
		&p.IsPrivate, &secretKey, &p.ViewsCount, &p.CreatedAt, &expiresAt, &p.IsExpired,
	)
	if err != nil {
		return nil, err
	}
	if secretKey.Valid {
		p.SecretKey = secretKey.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		p.ExpiresAt = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// Create inserts the paste row and, while the transaction is still
// open, runs fill with the assigned id. A non-nil error from fill rolls
// everything back, so no committed row ever references content that
// failed to write.
func (s *SQLite) Create(ctx context.Context, p *domain.Paste, fill func(id int64) error) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return errors.Wrap(err, "begin create tx")
	}
	var secretKey any
	if p.SecretKey != "" {
		secretKey = p.SecretKey
	}
	var expiresAt any
	if p.ExpiresAt != nil {
		expiresAt = p.ExpiresAt.UTC()
	}
	res, err := tx.ExecContext(queryCtx, `
	INSERT INTO pastes (uuid, title, content_hash, language, lifetime, is_private, secret_key, views_count, created_at, expires_at, is_expired)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, 0)
	`, p.UUID, p.Title, p.ContentHash, p.Language, p.LifetimeMinutes, p.IsPrivate, secretKey, p.CreatedAt.UTC(), expiresAt)
	if err != nil {
		_ = tx.Rollback()
		s.recordError(err)
		if isUniqueViolation(err) {
			return domain.ErrSecretKeyTaken
		}
		return errors.Wrap(err, "insert paste")
	}
	id, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		s.recordError(err)
		return errors.Wrap(err, "paste id")
	}
	if fill != nil {
		if err := fill(id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return errors.Wrap(err, "commit create tx")
	}
	s.recordError(nil)
	p.ID = id
	return nil
}

func (s *SQLite) Get(ctx context.Context, id int64) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	row := s.db.QueryRowContext(queryCtx, `SELECT `+pasteColumns+` FROM pastes WHERE id = ?`, id)
	p, err := scanPaste(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	return p, nil
}

// GetBySecretKey only matches private rows; a key colliding with a
// public row's column must not serve it.
func (s *SQLite) GetBySecretKey(ctx context.Context, key string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	row := s.db.QueryRowContext(queryCtx,
		`SELECT `+pasteColumns+` FROM pastes WHERE secret_key = ? AND is_private = 1`, key)
	p, err := scanPaste(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get by secret key")
	}
	return p, nil
}

func (s *SQLite) SecretKeyExists(ctx context.Context, key string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var one int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE secret_key = ? LIMIT 1`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "secret key lookup")
	}
	return true, nil
}

// MarkExpired flips the soft-delete flag. There is deliberately no
// inverse operation; is_expired is monotonic.
func (s *SQLite) MarkExpired(ctx context.Context, id int64) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `UPDATE pastes SET is_expired = 1 WHERE id = ?`, id)
	s.recordError(err)
	return errors.Wrap(err, "mark expired")
}

// MarkExpiredBatch applies the flag to all ids in one transaction.
func (s *SQLite) MarkExpiredBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return errors.Wrap(err, "begin expire tx")
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(queryCtx, `UPDATE pastes SET is_expired = 1 WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			s.recordError(err)
			return errors.Wrap(err, "mark expired batch")
		}
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return errors.Wrap(err, "commit expire tx")
	}
	s.recordError(nil)
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id int64) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ?`, id)
	s.recordError(err)
	return errors.Wrap(err, "delete paste")
}

func (s *SQLite) IncrViews(ctx context.Context, id int64) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `UPDATE pastes SET views_count = views_count + 1 WHERE id = ?`, id)
	s.recordError(err)
	return errors.Wrap(err, "incr views")
}

// ExpiredCandidates is sweep set A: rows past their deadline that were
// never soft-expired. lifetime > 0 keeps never-expiring rows out even
// if expires_at was somehow set on them.
func (s *SQLite) ExpiredCandidates(ctx context.Context, now time.Time) ([]*domain.Paste, error) {
	return s.queryPastes(ctx, `
	SELECT `+pasteColumns+` FROM pastes
	WHERE expires_at IS NOT NULL AND expires_at < ? AND is_expired = 0 AND lifetime > 0
	`, now.UTC())
}

// StaleExpired is sweep set B: soft-expired rows whose deadline is past
// the grace cutoff and that are ready for physical deletion.
func (s *SQLite) StaleExpired(ctx context.Context, cutoff time.Time) ([]*domain.Paste, error) {
	return s.queryPastes(ctx, `
	SELECT `+pasteColumns+` FROM pastes
	WHERE is_expired = 1 AND expires_at IS NOT NULL AND expires_at < ?
	`, cutoff.UTC())
}

// ListPublicLive returns public non-expired rows, newest first, with an
// optional language filter.
func (s *SQLite) ListPublicLive(ctx context.Context, language string, limit int) ([]*domain.Paste, error) {
	q := `SELECT ` + pasteColumns + ` FROM pastes WHERE is_expired = 0 AND is_private = 0`
	args := []any{}
	if language != "" {
		q += ` AND language = ?`
		args = append(args, language)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	return s.queryPastes(ctx, q, args...)
}

func (s *SQLite) queryPastes(ctx context.Context, query string, args ...any) ([]*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(queryCtx, query, args...)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "query pastes")
	}
	defer rows.Close()
	var result []*domain.Paste
	for rows.Next() {
		p, err := scanPaste(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan paste")
		}
		result = append(result, p)
	}
	return result, errors.Wrap(rows.Err(), "iterate pastes")
}

// ApplySweep commits one sweep cycle's row mutations in a single
// transaction. A row whose delete fails inside the transaction is
// marked expired instead, so a live-looking row never survives a failed
// cleanup. Returns the number of rows actually deleted.
func (s *SQLite) ApplySweep(ctx context.Context, deleteIDs, expireIDs []int64) (int, error) {
	if len(deleteIDs) == 0 && len(expireIDs) == 0 {
		return 0, nil
	}
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "begin sweep tx")
	}
	deleted := 0
	for _, id := range deleteIDs {
		res, err := tx.ExecContext(queryCtx, `DELETE FROM pastes WHERE id = ?`, id)
		if err != nil {
			if _, err := tx.ExecContext(queryCtx, `UPDATE pastes SET is_expired = 1 WHERE id = ?`, id); err != nil {
				_ = tx.Rollback()
				s.recordError(err)
				return 0, errors.Wrap(err, "sweep fallback expire")
			}
			continue
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}
	for _, id := range expireIDs {
		if _, err := tx.ExecContext(queryCtx, `UPDATE pastes SET is_expired = 1 WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			s.recordError(err)
			return 0, errors.Wrap(err, "sweep expire")
		}
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "commit sweep tx")
	}
	s.recordError(nil)
	return deleted, nil
}

func (s *SQLite) CountAll(ctx context.Context) (int64, error) {
	return s.countQuery(ctx, `SELECT COUNT(*) FROM pastes`)
}

func (s *SQLite) CountPublic(ctx context.Context, expired bool) (int64, error) {
	return s.countQuery(ctx, `SELECT COUNT(*) FROM pastes WHERE is_private = 0 AND is_expired = ?`, expired)
}

func (s *SQLite) CountPublicSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countQuery(ctx, `SELECT COUNT(*) FROM pastes WHERE is_private = 0 AND created_at >= ?`, since.UTC())
}

func (s *SQLite) countQuery(ctx context.Context, query string, args ...any) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var n int64
	err := s.db.QueryRowContext(queryCtx, query, args...).Scan(&n)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "count query")
	}
	return n, nil
}

// DistinctLanguages lists the language tags of public pastes; liveOnly
// narrows it to non-expired rows.
func (s *SQLite) DistinctLanguages(ctx context.Context, liveOnly bool) ([]string, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT DISTINCT language FROM pastes WHERE is_private = 0`
	if liveOnly {
		q += ` AND is_expired = 0`
	}
	q += ` ORDER BY language`
	rows, err := s.db.QueryContext(queryCtx, q)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "distinct languages")
	}
	defer rows.Close()
	var result []string
	for rows.Next() {
		var lang string
		if err := rows.Scan(&lang); err != nil {
			return nil, errors.Wrap(err, "scan language")
		}
		if lang != "" {
			result = append(result, lang)
		}
	}
	return result, errors.Wrap(rows.Err(), "iterate languages")
}

func (s *SQLite) GetOrCreateStat(ctx context.Context, key string, def int64) (*domain.Stat, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `
	INSERT INTO app_stats (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO NOTHING
	`, key, def, time.Now().UTC())
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "create stat")
	}
	return s.getStatRow(ctx, key)
}

// IncrementStat is an atomic upsert-increment; concurrent callers never
// lose updates because the addition happens inside the statement.
func (s *SQLite) IncrementStat(ctx context.Context, key string, delta int64) (int64, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var value int64
	err := s.db.QueryRowContext(queryCtx, `
	INSERT INTO app_stats (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = app_stats.value + excluded.value, updated_at = excluded.updated_at
	RETURNING value
	`, key, delta, time.Now().UTC()).Scan(&value)
	s.recordError(err)
	if err != nil {
		return 0, errors.Wrap(err, "increment stat")
	}
	return value, nil
}

func (s *SQLite) GetStat(ctx context.Context, key string, def int64) (int64, error) {
	stat, err := s.getStatRow(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, nil
		}
		return 0, err
	}
	return stat.Value, nil
}

func (s *SQLite) getStatRow(ctx context.Context, key string) (*domain.Stat, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var stat domain.Stat
	err := s.db.QueryRowContext(queryCtx,
		`SELECT key, value, updated_at FROM app_stats WHERE key = ?`, key).
		Scan(&stat.Key, &stat.Value, &stat.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		s.recordError(err)
		return nil, errors.Wrap(err, "get stat")
	}
	return &stat, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
