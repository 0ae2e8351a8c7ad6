// Package sqlitestore implements the store contracts on SQLite for
// nodes that need session and certificate state to survive restarts.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"peersync.dev/peersync/cert"
	"peersync.dev/peersync/scope"
	"peersync.dev/peersync/session"
	"peersync.dev/peersync/store"
)

//go:embed schema.sql
var schemaFS embed.FS

const currentSchemaVersion = 1

// timeLayout is the stored form of timestamps.
const timeLayout = time.RFC3339Nano

// Store is a SQLite-backed store.Store. WAL mode allows concurrent
// reads while a writer is active; the connection pool is capped at a
// single writer to avoid SQLITE_BUSY churn.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path, applies pragmas,
// and brings the schema up to date. Idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *Store) Certificate(ctx context.Context, id string) (*cert.Certificate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, profile, scope_definition_id, scope_version, scope_params,
		       public_key, parent_id, signature, private_key
		FROM certificates WHERE id = ?`, id)
	return scanCertificate(row)
}

func (s *Store) UpsertCertificate(ctx context.Context, c *cert.Certificate) error {
	var parentID sql.NullString
	if c.ParentID != "" {
		parentID = sql.NullString{String: c.ParentID, Valid: true}
	}
	var privateKey sql.NullString
	if k := c.PrivateKey(); k != nil {
		enc, err := k.MarshalPrivate()
		if err != nil {
			return err
		}
		privateKey = sql.NullString{String: enc, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates
		    (id, profile, scope_definition_id, scope_version, scope_params,
		     public_key, parent_id, signature, private_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    signature = excluded.signature,
		    private_key = COALESCE(excluded.private_key, certificates.private_key)`,
		c.ID, c.Profile, c.ScopeDefinitionID, c.ScopeVersion, c.ScopeParams,
		c.PublicKey, parentID, c.Signature, privateKey)
	return err
}

func (s *Store) Certificates(ctx context.Context, profile string) ([]*cert.Certificate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile, scope_definition_id, scope_version, scope_params,
		       public_key, parent_id, signature, private_key
		FROM certificates WHERE (? = '' OR profile = ?) ORDER BY id`, profile, profile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*cert.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCertificate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM certificates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*cert.Certificate, error) {
	var c cert.Certificate
	var parentID, privateKey sql.NullString
	err := row.Scan(&c.ID, &c.Profile, &c.ScopeDefinitionID, &c.ScopeVersion,
		&c.ScopeParams, &c.PublicKey, &parentID, &c.Signature, &privateKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ParentID = parentID.String
	if privateKey.Valid {
		k, err := cert.ParsePrivateKey(privateKey.String)
		if err != nil {
			return nil, err
		}
		if err := c.AttachPrivateKey(k); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (s *Store) ScopeDefinition(ctx context.Context, id string) (*scope.Definition, error) {
	var d scope.Definition
	err := s.db.QueryRowContext(ctx, `
		SELECT id, profile, version, primary_scope_param_key, description,
		       read_filter_template, write_filter_template, read_write_filter_template
		FROM scope_definitions WHERE id = ?`, id).
		Scan(&d.ID, &d.Profile, &d.Version, &d.PrimaryScopeParamKey, &d.Description,
			&d.ReadFilterTemplate, &d.WriteFilterTemplate, &d.ReadWriteFilterTemplate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) UpsertScopeDefinition(ctx context.Context, d *scope.Definition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scope_definitions
		    (id, profile, version, primary_scope_param_key, description,
		     read_filter_template, write_filter_template, read_write_filter_template)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    profile = excluded.profile,
		    version = excluded.version,
		    primary_scope_param_key = excluded.primary_scope_param_key,
		    description = excluded.description,
		    read_filter_template = excluded.read_filter_template,
		    write_filter_template = excluded.write_filter_template,
		    read_write_filter_template = excluded.read_write_filter_template`,
		d.ID, d.Profile, d.Version, d.PrimaryScopeParamKey, d.Description,
		d.ReadFilterTemplate, d.WriteFilterTemplate, d.ReadWriteFilterTemplate)
	return err
}

func (s *Store) SyncSession(ctx context.Context, id string) (*session.SyncSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, profile, state, client_certificate_id, server_certificate_id,
		       is_server, local_fsic, remote_fsic, last_activity
		FROM sync_sessions WHERE id = ?`, id)
	return scanSyncSession(row)
}

func scanSyncSession(row rowScanner) (*session.SyncSession, error) {
	var s session.SyncSession
	var state, lastActivity string
	var isServer int
	var localFSIC, remoteFSIC sql.NullString
	err := row.Scan(&s.ID, &s.Profile, &state, &s.ClientCertificateID,
		&s.ServerCertificateID, &isServer, &localFSIC, &remoteFSIC, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.State = session.State(state)
	s.IsServer = isServer != 0
	if localFSIC.Valid {
		s.LocalFSIC = []byte(localFSIC.String)
	}
	if remoteFSIC.Valid {
		s.RemoteFSIC = []byte(remoteFSIC.String)
	}
	ts, err := time.Parse(timeLayout, lastActivity)
	if err != nil {
		return nil, fmt.Errorf("parse last_activity: %w", err)
	}
	s.LastActivity = ts
	return &s, nil
}

func (s *Store) UpsertSyncSession(ctx context.Context, sess *session.SyncSession) error {
	isServer := 0
	if sess.IsServer {
		isServer = 1
	}
	var localFSIC, remoteFSIC sql.NullString
	if sess.LocalFSIC != nil {
		localFSIC = sql.NullString{String: string(sess.LocalFSIC), Valid: true}
	}
	if sess.RemoteFSIC != nil {
		remoteFSIC = sql.NullString{String: string(sess.RemoteFSIC), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_sessions
		    (id, profile, state, client_certificate_id, server_certificate_id,
		     is_server, local_fsic, remote_fsic, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    state = excluded.state,
		    local_fsic = excluded.local_fsic,
		    remote_fsic = excluded.remote_fsic,
		    last_activity = excluded.last_activity`,
		sess.ID, sess.Profile, string(sess.State), sess.ClientCertificateID,
		sess.ServerCertificateID, isServer, localFSIC, remoteFSIC,
		sess.LastActivity.UTC().Format(timeLayout))
	return err
}

func (s *Store) ActiveSyncSessions(ctx context.Context, profile string) ([]*session.SyncSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile, state, client_certificate_id, server_certificate_id,
		       is_server, local_fsic, remote_fsic, last_activity
		FROM sync_sessions
		WHERE state = ? AND (? = '' OR profile = ?)`,
		string(session.StateActive), profile, profile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.SyncSession
	for rows.Next() {
		sess, err := scanSyncSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// CloseSyncSession closes the session and all nested transfer
// sessions in one transaction.
func (s *Store) CloseSyncSession(ctx context.Context, id string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_sessions WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return store.ErrNotFound
	}

	ts := at.UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_sessions SET state = ?, last_activity = ?
		WHERE id = ? AND state = ?`,
		string(session.StateClosed), ts, id, string(session.StateActive)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE transfer_sessions SET state = ?, last_activity = ?
		WHERE sync_session_id = ? AND state = ?`,
		string(session.StateClosed), ts, id, string(session.StateActive)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) TransferSession(ctx context.Context, id string) (*session.TransferSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sync_session_id, filter, push, state, last_activity
		FROM transfer_sessions WHERE id = ?`, id)
	return scanTransferSession(row)
}

func scanTransferSession(row rowScanner) (*session.TransferSession, error) {
	var t session.TransferSession
	var state, lastActivity string
	var push int
	err := row.Scan(&t.ID, &t.SyncSessionID, &t.Filter, &push, &state, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Push = push != 0
	t.State = session.State(state)
	ts, err := time.Parse(timeLayout, lastActivity)
	if err != nil {
		return nil, fmt.Errorf("parse last_activity: %w", err)
	}
	t.LastActivity = ts
	return &t, nil
}

func (s *Store) UpsertTransferSession(ctx context.Context, t *session.TransferSession) error {
	push := 0
	if t.Push {
		push = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfer_sessions
		    (id, sync_session_id, filter, push, state, last_activity)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    state = excluded.state,
		    last_activity = excluded.last_activity`,
		t.ID, t.SyncSessionID, t.Filter, push, string(t.State),
		t.LastActivity.UTC().Format(timeLayout))
	return err
}

func (s *Store) ActiveTransferSessions(ctx context.Context, syncSessionID string) ([]*session.TransferSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sync_session_id, filter, push, state, last_activity
		FROM transfer_sessions
		WHERE state = ? AND (? = '' OR sync_session_id = ?)`,
		string(session.StateActive), syncSessionID, syncSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.TransferSession
	for rows.Next() {
		t, err := scanTransferSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CloseTransferSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transfer_sessions SET state = ?, last_activity = ?
		WHERE id = ? AND state = ?`,
		string(session.StateClosed), at.UTC().Format(timeLayout),
		id, string(session.StateActive))
	if err != nil {
		return err
	}
	if _, err := res.RowsAffected(); err != nil {
		return err
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transfer_sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return store.ErrNotFound
	}
	return nil
}
