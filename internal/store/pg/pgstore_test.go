package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"rhombus.app/internal/document"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestFindGrantReturnsMembershipLevel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select grant_level.*from document_memberships").
		WithArgs("doc-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"grant_level"}).AddRow("edit"))

	grant, err := store.FindGrant(context.Background(), "user-1", "doc-1")
	if err != nil {
		t.Fatalf("FindGrant: %v", err)
	}
	if grant != document.GrantEdit {
		t.Fatalf("unexpected grant: %q", grant)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindGrantMissingMembershipIsNotAnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select grant_level.*from document_memberships").
		WithArgs("doc-1", "user-1").
		WillReturnError(sql.ErrNoRows)

	grant, err := store.FindGrant(context.Background(), "user-1", "doc-1")
	if err != nil {
		t.Fatalf("FindGrant: %v", err)
	}
	if grant != document.GrantNone {
		t.Fatalf("expected no grant, got %q", grant)
	}
}

func TestFindGrantInfrastructureFailurePropagates(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select grant_level.*from document_memberships").
		WillReturnError(errors.New("connection refused"))

	if _, err := store.FindGrant(context.Background(), "user-1", "doc-1"); err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestGetDocument(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery("select id, team_id, space_id.*from documents").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "team_id", "space_id", "title", "visibility", "created_by", "archived", "created_at", "updated_at",
		}).AddRow("doc-1", "team-1", nil, "Roadmap", "team", "user-1", false, now, now))

	doc, err := store.Get(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.ID != "doc-1" || doc.Visibility != document.VisibilityTeam || doc.SpaceID != "" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, team_id, space_id.*from documents").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveMemberNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from document_memberships").
		WithArgs("doc-1", "user-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.RemoveMember(context.Background(), "doc-1", "user-2"); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
