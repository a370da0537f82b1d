package document

import (
	"context"
	"errors"
	"testing"
)

func newTestService() (*Service, *InMemory) {
	store := NewInMemory()
	return NewService(store), store
}

func TestCreateDefaultsAndCreatorGrant(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, "team-1", "", "  ", "user-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if doc.Title != "Untitled" {
		t.Fatalf("expected default title, got %q", doc.Title)
	}
	if doc.Visibility != VisibilityInvite {
		t.Fatalf("expected invite visibility, got %q", doc.Visibility)
	}
	if doc.ID == "" || doc.CreatedAt.IsZero() {
		t.Fatalf("document not fully initialised: %+v", doc)
	}

	grant, err := store.FindGrant(ctx, "user-1", doc.ID)
	if err != nil {
		t.Fatalf("FindGrant: %v", err)
	}
	if grant != GrantEdit {
		t.Fatalf("creator must hold an edit grant, got %q", grant)
	}
}

func TestCreateRejectsUnknownVisibility(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Create(context.Background(), "team-1", "", "Doc", "user-1", Visibility("public")); !errors.Is(err, ErrInvalidVisibility) {
		t.Fatalf("expected ErrInvalidVisibility, got %v", err)
	}
}

func TestCreateRequiresTeamAndCreator(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.Create(context.Background(), "", "", "Doc", "user-1", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Create(context.Background(), "team-1", "", "Doc", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateRejectsBlankTitle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, "team-1", "", "Doc", "user-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	blank := "   "
	if _, err := svc.Update(ctx, doc.ID, DocumentUpdate{Title: &blank}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateChangesVisibility(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, "team-1", "", "Doc", "user-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	v := VisibilityAll
	updated, err := svc.Update(ctx, doc.ID, DocumentUpdate{Visibility: &v})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Visibility != VisibilityAll {
		t.Fatalf("visibility not updated: %+v", updated)
	}
}

func TestAddMemberValidatesGrant(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, "team-1", "", "Doc", "user-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.AddMember(ctx, doc.ID, "user-2", Grant("owner")); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}

	m, err := svc.AddMember(ctx, doc.ID, "user-2", GrantComment)
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if m.Grant != GrantComment {
		t.Fatalf("unexpected membership: %+v", m)
	}
}

func TestAddMemberUpgradesExistingGrant(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, "team-1", "", "Doc", "user-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.AddMember(ctx, doc.ID, "user-2", GrantComment); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if _, err := svc.AddMember(ctx, doc.ID, "user-2", GrantEdit); err != nil {
		t.Fatalf("AddMember upgrade: %v", err)
	}

	grant, err := store.FindGrant(ctx, "user-2", doc.ID)
	if err != nil {
		t.Fatalf("FindGrant: %v", err)
	}
	if grant != GrantEdit {
		t.Fatalf("expected upgraded grant, got %q", grant)
	}

	members, err := svc.ListMembers(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("upsert must not duplicate membership: %d members", len(members))
	}
}

func TestRemoveMissingMember(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	doc, err := svc.Create(ctx, "team-1", "", "Doc", "user-1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.RemoveMember(ctx, doc.ID, "user-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByTeamScopesResults(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, "team-1", "", "A", "user-1", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, "team-2", "", "B", "user-2", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	docs, err := svc.ListByTeam(ctx, "team-1", 0)
	if err != nil {
		t.Fatalf("ListByTeam: %v", err)
	}
	if len(docs) != 1 || docs[0].Title != "A" {
		t.Fatalf("unexpected listing: %+v", docs)
	}
}

func TestFindGrantMissingIsNone(t *testing.T) {
	_, store := newTestService()

	grant, err := store.FindGrant(context.Background(), "user-1", "no-such-doc")
	if err != nil {
		t.Fatalf("FindGrant: %v", err)
	}
	if grant != GrantNone {
		t.Fatalf("expected GrantNone, got %q", grant)
	}
}
