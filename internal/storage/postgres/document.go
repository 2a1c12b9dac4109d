package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/cory-johannsen/stylesync/internal/document"
)

// DefaultVersionLimit caps ListVersions when the caller passes a non-positive limit.
const DefaultVersionLimit = 50

// DocumentRepository reads and writes room documents and their version log.
type DocumentRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewDocumentRepository creates a DocumentRepository backed by db.
//
// Precondition: db must be a connected pool with the room tables migrated.
func NewDocumentRepository(db *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: db, now: time.Now}
}

// LoadCurrent returns the current document of roomID.
//
// Postcondition: Returns document.ErrNotFound if the room has no document.
func (r *DocumentRepository) LoadCurrent(ctx context.Context, roomID string) (document.RoomDocument, error) {
	d := document.RoomDocument{RoomID: roomID}
	err := r.db.QueryRow(ctx, `
		SELECT current_version_id, atomic_doc, page_doc
		FROM room_documents WHERE room_id = $1`,
		roomID,
	).Scan(&d.CurrentVersionID, &d.AtomicDoc, &d.PageDoc)
	if errors.Is(err, pgx.ErrNoRows) {
		return document.RoomDocument{}, fmt.Errorf("room %q: %w", roomID, document.ErrNotFound)
	}
	if err != nil {
		return document.RoomDocument{}, fmt.Errorf("loading room %q: %w", roomID, err)
	}
	normalize(&d.PageDoc)
	return d, nil
}

// LoadAll returns every current document ordered by room id.
func (r *DocumentRepository) LoadAll(ctx context.Context) ([]document.RoomDocument, error) {
	rows, err := r.db.Query(ctx, `
		SELECT room_id, current_version_id, atomic_doc, page_doc
		FROM room_documents ORDER BY room_id`)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	defer rows.Close()

	var docs []document.RoomDocument
	for rows.Next() {
		var d document.RoomDocument
		if err := rows.Scan(&d.RoomID, &d.CurrentVersionID, &d.AtomicDoc, &d.PageDoc); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		normalize(&d.PageDoc)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rooms: %w", err)
	}
	return docs, nil
}

// PutCurrent overwrites the current document of doc.RoomID without touching
// the version log. Seeding uses it.
//
// Precondition: doc must be valid.
func (r *DocumentRepository) PutCurrent(ctx context.Context, doc document.RoomDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	normalize(&doc.PageDoc)
	_, err := r.db.Exec(ctx, `
		INSERT INTO room_documents (room_id, current_version_id, atomic_doc, page_doc, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id) DO UPDATE SET
			current_version_id = EXCLUDED.current_version_id,
			atomic_doc         = EXCLUDED.atomic_doc,
			page_doc           = EXCLUDED.page_doc,
			updated_at         = EXCLUDED.updated_at`,
		doc.RoomID, doc.CurrentVersionID, doc.AtomicDoc, doc.PageDoc, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing room %q: %w", doc.RoomID, err)
	}
	return nil
}

// SaveVersion appends doc to the version log and makes it the room's current
// document, in one transaction. doc.CurrentVersionID names the version the
// edit was based on; it must match the stored current version ("" for a room
// with no document yet).
//
// Precondition: doc must be valid; author must be non-empty.
// Postcondition: Returns the new Version, or document.ErrVersionConflict when
// the base version is stale.
func (r *DocumentRepository) SaveVersion(ctx context.Context, doc document.RoomDocument, author string) (document.Version, error) {
	if err := doc.Validate(); err != nil {
		return document.Version{}, err
	}
	if author == "" {
		return document.Version{}, errors.New("author must not be empty")
	}
	normalize(&doc.PageDoc)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return document.Version{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	exists := true
	err = tx.QueryRow(ctx,
		`SELECT current_version_id FROM room_documents WHERE room_id = $1 FOR UPDATE`,
		doc.RoomID,
	).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		exists = false
	case err != nil:
		return document.Version{}, fmt.Errorf("locking room %q: %w", doc.RoomID, err)
	}
	if current != doc.CurrentVersionID {
		return document.Version{}, fmt.Errorf("room %q at %q, edit based on %q: %w",
			doc.RoomID, current, doc.CurrentVersionID, document.ErrVersionConflict)
	}

	v := document.Version{
		RoomID:          doc.RoomID,
		VersionID:       ulid.Make().String(),
		ParentVersionID: current,
		AuthorClientID:  author,
		AtomicDoc:       doc.AtomicDoc,
		PageDoc:         doc.PageDoc,
		CreatedAt:       r.now().UTC(),
	}

	var tag pgconn.CommandTag
	if exists {
		tag, err = tx.Exec(ctx, `
			UPDATE room_documents
			SET current_version_id = $2, atomic_doc = $3, page_doc = $4, updated_at = $5
			WHERE room_id = $1`,
			v.RoomID, v.VersionID, v.AtomicDoc, v.PageDoc, v.CreatedAt,
		)
	} else {
		// A concurrent first save may have created the row since the SELECT.
		tag, err = tx.Exec(ctx, `
			INSERT INTO room_documents (room_id, current_version_id, atomic_doc, page_doc, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (room_id) DO NOTHING`,
			v.RoomID, v.VersionID, v.AtomicDoc, v.PageDoc, v.CreatedAt,
		)
	}
	if err != nil {
		return document.Version{}, fmt.Errorf("updating current document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return document.Version{}, fmt.Errorf("room %q created concurrently: %w", doc.RoomID, document.ErrVersionConflict)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO room_versions (version_id, room_id, parent_version_id, author_client_id, atomic_doc, page_doc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.VersionID, v.RoomID, v.ParentVersionID, v.AuthorClientID, v.AtomicDoc, v.PageDoc, v.CreatedAt,
	)
	if err != nil {
		return document.Version{}, fmt.Errorf("inserting version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return document.Version{}, fmt.Errorf("committing version: %w", err)
	}
	return v, nil
}

// ListVersions returns up to limit versions of roomID, newest first.
func (r *DocumentRepository) ListVersions(ctx context.Context, roomID string, limit int) ([]document.Version, error) {
	if limit <= 0 {
		limit = DefaultVersionLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT version_id, parent_version_id, author_client_id, atomic_doc, page_doc, created_at
		FROM room_versions WHERE room_id = $1
		ORDER BY version_id DESC LIMIT $2`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing versions of %q: %w", roomID, err)
	}
	defer rows.Close()

	versions := []document.Version{}
	for rows.Next() {
		v := document.Version{RoomID: roomID}
		if err := rows.Scan(&v.VersionID, &v.ParentVersionID, &v.AuthorClientID, &v.AtomicDoc, &v.PageDoc, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		normalize(&v.PageDoc)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating versions: %w", err)
	}
	return versions, nil
}

// GetVersion returns one version of roomID.
//
// Postcondition: Returns document.ErrVersionNotFound if no such version exists in the room.
func (r *DocumentRepository) GetVersion(ctx context.Context, roomID, versionID string) (document.Version, error) {
	v := document.Version{RoomID: roomID, VersionID: versionID}
	err := r.db.QueryRow(ctx, `
		SELECT parent_version_id, author_client_id, atomic_doc, page_doc, created_at
		FROM room_versions WHERE room_id = $1 AND version_id = $2`,
		roomID, versionID,
	).Scan(&v.ParentVersionID, &v.AuthorClientID, &v.AtomicDoc, &v.PageDoc, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return document.Version{}, fmt.Errorf("room %q version %q: %w", roomID, versionID, document.ErrVersionNotFound)
	}
	if err != nil {
		return document.Version{}, fmt.Errorf("loading version %q: %w", versionID, err)
	}
	normalize(&v.PageDoc)
	return v, nil
}

// normalize keeps an empty override list encoding as [] rather than null.
func normalize(p *document.PageDoc) {
	if p.Overrides == nil {
		p.Overrides = []document.PageOverride{}
	}
}
