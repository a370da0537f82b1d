package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"rhombus.app/internal/document"
	"rhombus.app/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store persists documents and memberships in Postgres.
type Store struct {
	db *sql.DB
}

var _ document.Store = (*Store)(nil)

// Open connects to Postgres with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, mainly for tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Create(ctx context.Context, doc document.Document) (document.Document, error) {
	id := ids.New()
	row := s.db.QueryRowContext(ctx, `
		insert into documents (id, team_id, space_id, title, visibility, created_by, archived)
		values ($1, $2, nullif($3, ''), $4, $5, $6, false)
		returning id, team_id, space_id, title, visibility, created_by, archived, created_at, updated_at
	`, id, doc.TeamID, doc.SpaceID, doc.Title, string(doc.Visibility), doc.CreatedBy)
	out, err := scanDocument(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return document.Document{}, document.ErrConflict
		}
		return document.Document{}, err
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (document.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, team_id, space_id, title, visibility, created_by, archived, created_at, updated_at
		from documents
		where id = $1
	`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, document.ErrNotFound
	}
	if err != nil {
		return document.Document{}, err
	}
	return doc, nil
}

func (s *Store) ListByTeam(ctx context.Context, teamID string, limit int) ([]document.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, team_id, space_id, title, visibility, created_by, archived, created_at, updated_at
		from documents
		where team_id = $1
		order by updated_at desc
		limit $2
	`, teamID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, id string, upd document.DocumentUpdate) (document.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		update documents
		set title = coalesce($2, title),
		    visibility = coalesce($3, visibility),
		    updated_at = now()
		where id = $1
		returning id, team_id, space_id, title, visibility, created_by, archived, created_at, updated_at
	`, id, upd.Title, visibilityArg(upd.Visibility))
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, document.ErrNotFound
	}
	if err != nil {
		return document.Document{}, err
	}
	return doc, nil
}

func (s *Store) SetArchived(ctx context.Context, id string, archived bool) (document.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		update documents
		set archived = $2, updated_at = now()
		where id = $1
		returning id, team_id, space_id, title, visibility, created_by, archived, created_at, updated_at
	`, id, archived)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, document.ErrNotFound
	}
	if err != nil {
		return document.Document{}, err
	}
	return doc, nil
}

func (s *Store) AddMember(ctx context.Context, m document.Membership) (document.Membership, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into document_memberships (document_id, user_id, grant_level)
		values ($1, $2, $3)
		on conflict (document_id, user_id) do update set grant_level = excluded.grant_level
		returning document_id, user_id, grant_level, created_at
	`, m.DocumentID, m.UserID, string(m.Grant))
	var out document.Membership
	var grant string
	if err := row.Scan(&out.DocumentID, &out.UserID, &grant, &out.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return document.Membership{}, document.ErrNotFound
		}
		return document.Membership{}, err
	}
	out.Grant = document.Grant(grant)
	return out, nil
}

func (s *Store) RemoveMember(ctx context.Context, documentID, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from document_memberships
		where document_id = $1 and user_id = $2
	`, documentID, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, documentID string) ([]document.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select document_id, user_id, grant_level, created_at
		from document_memberships
		where document_id = $1
		order by created_at
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []document.Membership
	for rows.Next() {
		var m document.Membership
		var grant string
		if err := rows.Scan(&m.DocumentID, &m.UserID, &grant, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Grant = document.Grant(grant)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) FindGrant(ctx context.Context, userID, documentID string) (document.Grant, error) {
	var grant string
	err := s.db.QueryRowContext(ctx, `
		select grant_level
		from document_memberships
		where document_id = $1 and user_id = $2
	`, documentID, userID).Scan(&grant)
	if errors.Is(err, sql.ErrNoRows) {
		return document.GrantNone, nil
	}
	if err != nil {
		return document.GrantNone, fmt.Errorf("find grant: %w", err)
	}
	return document.Grant(grant), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (document.Document, error) {
	var (
		doc        document.Document
		spaceID    sql.NullString
		visibility string
	)
	if err := row.Scan(&doc.ID, &doc.TeamID, &spaceID, &doc.Title, &visibility, &doc.CreatedBy, &doc.Archived, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return document.Document{}, err
	}
	if spaceID.Valid {
		doc.SpaceID = spaceID.String
	}
	doc.Visibility = document.Visibility(visibility)
	return doc, nil
}

func visibilityArg(v *document.Visibility) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
