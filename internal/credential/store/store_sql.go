package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"credanchor/internal/credential/models"
)

// Dialect selects placeholder style and row locking for a SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore persists credentials in PostgreSQL or SQLite. Queries are written
// once with ? placeholders and rebound for the target dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewPostgres constructs a PostgreSQL-backed credential store.
func NewPostgres(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: DialectPostgres}
}

// NewSQLite constructs a SQLite-backed credential store.
func NewSQLite(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: DialectSQLite}
}

const credentialColumns = `id, holder_ref, issuer_ref, type, schema_version, data_hash,
	storage_address, storage_degraded, storage_pinned, issued_at, expires_at, stage, updated_at,
	document_address, document_degraded, document_pinned, document_sha256, document_media_type`

const anchorColumns = `network, tx_ref, block_height, confirmations, state, last_error, submitted_at, updated_at`

func (s *SQLStore) Create(ctx context.Context, credential *models.Credential) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.q(`
			SELECT 1 FROM credentials WHERE id = ? OR (issuer_ref = ? AND data_hash = ?)
		`), credential.ID.String(), credential.IssuerRef, credential.DataHash.Hex()).Scan(&exists)
		if err == nil {
			return ErrDuplicate
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check duplicate credential: %w", err)
		}

		storage := storageColumns(credential.Storage)
		document := documentColumns(credential.Document)
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO credentials (`+credentialColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			credential.ID.String(),
			credential.HolderRef,
			credential.IssuerRef,
			string(credential.Type),
			credential.SchemaVersion,
			credential.DataHash.Hex(),
			storage.address,
			storage.degraded,
			storage.pinned,
			toMicros(credential.IssuedAt),
			nullMicros(credential.ExpiresAt),
			string(credential.Stage),
			toMicros(credential.UpdatedAt),
			document.address,
			document.degraded,
			document.pinned,
			document.sha256,
			document.mediaType,
		)
		if err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
		for i, a := range credential.Anchors {
			if err := s.writeAnchor(ctx, tx, "credential_anchors", credential.ID, a, i); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update replaces credential metadata and merges its anchors.
// The revocation record is left untouched; use SetRevocation.
func (s *SQLStore) Update(ctx context.Context, credential *models.Credential) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			hash  string
			stage string
		)
		err := tx.QueryRowContext(ctx, s.q(`SELECT data_hash, stage FROM credentials WHERE id = ?`+s.forUpdate()),
			credential.ID.String()).Scan(&hash, &stage)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load credential for update: %w", err)
		}
		if hash != credential.DataHash.Hex() && models.Stage(stage) != models.StageDraft {
			return ErrDataHashImmutable
		}

		storage := storageColumns(credential.Storage)
		document := documentColumns(credential.Document)
		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE credentials SET
				data_hash = ?,
				storage_address = ?,
				storage_degraded = ?,
				storage_pinned = ?,
				document_address = ?,
				document_degraded = ?,
				document_pinned = ?,
				document_sha256 = ?,
				document_media_type = ?,
				expires_at = ?,
				stage = ?,
				updated_at = ?
			WHERE id = ?
		`),
			credential.DataHash.Hex(),
			storage.address,
			storage.degraded,
			storage.pinned,
			document.address,
			document.degraded,
			document.pinned,
			document.sha256,
			document.mediaType,
			nullMicros(credential.ExpiresAt),
			string(credential.Stage),
			toMicros(credential.UpdatedAt),
			credential.ID.String(),
		)
		if err != nil {
			return fmt.Errorf("update credential: %w", err)
		}
		for _, a := range credential.Anchors {
			if err := s.mergeAnchor(ctx, tx, "credential_anchors", credential.ID, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) FindByID(ctx context.Context, id models.CredentialID) (*models.Credential, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`), id.String())
	credential, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find credential by id: %w", err)
	}
	if err := s.loadRelations(ctx, credential); err != nil {
		return nil, err
	}
	return credential, nil
}

func (s *SQLStore) FindByDataHash(ctx context.Context, issuerRef string, hash models.DataHash) (*models.Credential, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+credentialColumns+` FROM credentials WHERE issuer_ref = ? AND data_hash = ?
	`), issuerRef, hash.Hex())
	credential, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find credential by data hash: %w", err)
	}
	if err := s.loadRelations(ctx, credential); err != nil {
		return nil, err
	}
	return credential, nil
}

// ListByHolder returns the holder's credentials, newest first.
func (s *SQLStore) ListByHolder(ctx context.Context, holderRef string) ([]*models.Credential, error) {
	return s.list(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE holder_ref = ?
		ORDER BY issued_at DESC, id ASC
	`, holderRef)
}

func (s *SQLStore) ListUnsettled(ctx context.Context, limit int) ([]*models.Credential, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, `
		SELECT `+credentialColumns+` FROM credentials c
		WHERE c.stage <> 'failed' AND (
			EXISTS (SELECT 1 FROM credential_anchors a WHERE a.credential_id = c.id AND a.state = 'submitted')
			OR EXISTS (SELECT 1 FROM revocation_anchors r WHERE r.credential_id = c.id AND r.state = 'submitted')
		)
		ORDER BY c.updated_at ASC
		LIMIT ?
	`, limit)
}

func (s *SQLStore) UpsertAnchor(ctx context.Context, id models.CredentialID, anchor models.Anchor) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireCredential(ctx, tx, id); err != nil {
			return err
		}
		if err := s.mergeAnchor(ctx, tx, "credential_anchors", id, anchor); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(`
			UPDATE credentials SET updated_at = ? WHERE id = ? AND updated_at < ?
		`), toMicros(anchor.UpdatedAt), id.String(), toMicros(anchor.UpdatedAt))
		if err != nil {
			return fmt.Errorf("touch credential: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) SetRevocation(ctx context.Context, id models.CredentialID, revocation models.Revocation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireCredential(ctx, tx, id); err != nil {
			return err
		}
		var exists int
		err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM credential_revocations WHERE credential_id = ?`+s.forUpdate()),
			id.String()).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("check revocation: %w", err)
		default:
			if err := s.clearVoidRevocation(ctx, tx, id); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO credential_revocations (credential_id, revoked_at, revoked_by, reason)
			VALUES (?, ?, ?, ?)
		`), id.String(), toMicros(revocation.RevokedAt), revocation.RevokedBy, revocation.Reason)
		if err != nil {
			return fmt.Errorf("insert revocation: %w", err)
		}
		for i, a := range revocation.Anchors {
			if err := s.writeAnchor(ctx, tx, "revocation_anchors", id, a, i); err != nil {
				return err
			}
		}
		return nil
	})
}

// clearVoidRevocation removes a revocation whose transactions all reverted or
// failed so a new one can take its place.
func (s *SQLStore) clearVoidRevocation(ctx context.Context, tx *sql.Tx, id models.CredentialID) error {
	anchors, err := s.readAnchors(ctx, tx, "revocation_anchors", id)
	if err != nil {
		return err
	}
	if !(&models.Revocation{Anchors: anchors}).Void() {
		return ErrRevocationExists
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM revocation_anchors WHERE credential_id = ?`), id.String()); err != nil {
		return fmt.Errorf("clear revocation anchors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM credential_revocations WHERE credential_id = ?`), id.String()); err != nil {
		return fmt.Errorf("clear revocation: %w", err)
	}
	return nil
}

func (s *SQLStore) UpsertRevocationAnchor(ctx context.Context, id models.CredentialID, anchor models.Anchor) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM credential_revocations WHERE credential_id = ?`+s.forUpdate()),
			id.String()).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load revocation: %w", err)
		}
		return s.mergeAnchor(ctx, tx, "revocation_anchors", id, anchor)
	})
}

func (s *SQLStore) list(ctx context.Context, query string, args ...any) ([]*models.Credential, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	var out []*models.Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, credential)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	_ = rows.Close()

	for _, credential := range out {
		if err := s.loadRelations(ctx, credential); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) requireCredential(ctx context.Context, tx *sql.Tx, id models.CredentialID) error {
	var exists int
	err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM credentials WHERE id = ?`+s.forUpdate()), id.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	return nil
}

// mergeAnchor applies models.UpsertAnchor against the stored row so confirmation
// depth stays monotonic across concurrent writers.
func (s *SQLStore) mergeAnchor(ctx context.Context, tx *sql.Tx, table string, id models.CredentialID, anchor models.Anchor) error {
	existing, err := s.readAnchors(ctx, tx, table, id)
	if err != nil {
		return err
	}
	position := len(existing)
	for i, a := range existing {
		if a.Network == anchor.Network {
			position = i
		}
	}
	merged := models.UpsertAnchor(existing, anchor)
	return s.writeAnchor(ctx, tx, table, id, merged[position], position)
}

func (s *SQLStore) writeAnchor(ctx context.Context, tx *sql.Tx, table string, id models.CredentialID, a models.Anchor, position int) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO `+table+` (credential_id, seq, `+anchorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (credential_id, network) DO UPDATE SET
			tx_ref = EXCLUDED.tx_ref,
			block_height = EXCLUDED.block_height,
			confirmations = EXCLUDED.confirmations,
			state = EXCLUDED.state,
			last_error = EXCLUDED.last_error,
			submitted_at = EXCLUDED.submitted_at,
			updated_at = EXCLUDED.updated_at
	`),
		id.String(),
		position,
		a.Network,
		a.TxRef,
		int64(a.BlockHeight), //nolint:gosec // block heights fit in int64
		int64(a.Confirmations), //nolint:gosec // bounded by chain height
		string(a.State),
		a.Error,
		toMicros(a.SubmittedAt),
		toMicros(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) readAnchors(ctx context.Context, q queryer, table string, id models.CredentialID) ([]models.Anchor, error) {
	rows, err := q.QueryContext(ctx, s.q(`
		SELECT `+anchorColumns+` FROM `+table+` WHERE credential_id = ? ORDER BY seq ASC
	`), id.String())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	var anchors []models.Anchor
	for rows.Next() {
		var (
			a                      models.Anchor
			height, confirmations  int64
			state                  string
			submittedAt, updatedAt int64
		)
		if err := rows.Scan(&a.Network, &a.TxRef, &height, &confirmations, &state, &a.Error, &submittedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		a.BlockHeight = uint64(height)          //nolint:gosec // written from uint64
		a.Confirmations = uint64(confirmations) //nolint:gosec // written from uint64
		a.State = models.AnchorState(state)
		a.SubmittedAt = fromMicros(submittedAt)
		a.UpdatedAt = fromMicros(updatedAt)
		anchors = append(anchors, a)
	}
	return anchors, rows.Err()
}

func (s *SQLStore) loadRelations(ctx context.Context, credential *models.Credential) error {
	anchors, err := s.readAnchors(ctx, s.db, "credential_anchors", credential.ID)
	if err != nil {
		return err
	}
	credential.Anchors = anchors

	var (
		revokedAt int64
		rev       models.Revocation
	)
	err = s.db.QueryRowContext(ctx, s.q(`
		SELECT revoked_at, revoked_by, reason FROM credential_revocations WHERE credential_id = ?
	`), credential.ID.String()).Scan(&revokedAt, &rev.RevokedBy, &rev.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read revocation: %w", err)
	}
	rev.RevokedAt = fromMicros(revokedAt)
	rev.Anchors, err = s.readAnchors(ctx, s.db, "revocation_anchors", credential.ID)
	if err != nil {
		return err
	}
	credential.Revocation = &rev
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// q rebinds ? placeholders to $n for PostgreSQL.
func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLite serializes writers on its own; row locks are Postgres only.
func (s *SQLStore) forUpdate() string {
	if s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*models.Credential, error) {
	var (
		c                   models.Credential
		id, credType, stage string
		hash                string
		address             sql.NullString
		degraded, pinned    bool
		issuedAt, updatedAt int64
		expiresAt           sql.NullInt64
		doc                 documentRow
	)
	if err := row.Scan(&id, &c.HolderRef, &c.IssuerRef, &credType, &c.SchemaVersion, &hash,
		&address, &degraded, &pinned, &issuedAt, &expiresAt, &stage, &updatedAt,
		&doc.address, &doc.degraded, &doc.pinned, &doc.sha256, &doc.mediaType); err != nil {
		return nil, err
	}
	dataHash, err := models.ParseDataHash(hash)
	if err != nil {
		return nil, fmt.Errorf("stored data hash: %w", err)
	}
	c.ID = models.CredentialID(id)
	c.Type = models.CredentialType(credType)
	c.DataHash = dataHash
	c.Stage = models.Stage(stage)
	c.IssuedAt = fromMicros(issuedAt)
	c.UpdatedAt = fromMicros(updatedAt)
	if address.Valid {
		c.Storage = &models.StorageRef{Address: address.String, Degraded: degraded, Pinned: pinned}
	}
	if expiresAt.Valid {
		t := fromMicros(expiresAt.Int64)
		c.ExpiresAt = &t
	}
	if doc.address.Valid {
		c.Document = &models.DocumentRef{
			StorageRef: models.StorageRef{Address: doc.address.String, Degraded: doc.degraded, Pinned: doc.pinned},
			SHA256:     doc.sha256.String,
			MediaType:  doc.mediaType.String,
		}
	}
	return &c, nil
}

type storageRow struct {
	address  sql.NullString
	degraded bool
	pinned   bool
}

func storageColumns(ref *models.StorageRef) storageRow {
	if ref == nil {
		return storageRow{}
	}
	return storageRow{
		address:  sql.NullString{String: ref.Address, Valid: true},
		degraded: ref.Degraded,
		pinned:   ref.Pinned,
	}
}

type documentRow struct {
	address   sql.NullString
	degraded  bool
	pinned    bool
	sha256    sql.NullString
	mediaType sql.NullString
}

func documentColumns(ref *models.DocumentRef) documentRow {
	if ref == nil {
		return documentRow{}
	}
	return documentRow{
		address:   sql.NullString{String: ref.Address, Valid: true},
		degraded:  ref.Degraded,
		pinned:    ref.Pinned,
		sha256:    sql.NullString{String: ref.SHA256, Valid: true},
		mediaType: sql.NullString{String: ref.MediaType, Valid: true},
	}
}

// Timestamps are stored as unix microseconds in both dialects.
func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}
