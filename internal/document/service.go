package document

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"rhombus.app/internal/ids"
)

// Store defines document and membership persistence.
type Store interface {
	Create(ctx context.Context, doc Document) (Document, error)
	Get(ctx context.Context, id string) (Document, error)
	ListByTeam(ctx context.Context, teamID string, limit int) ([]Document, error)
	Update(ctx context.Context, id string, upd DocumentUpdate) (Document, error)
	SetArchived(ctx context.Context, id string, archived bool) (Document, error)

	AddMember(ctx context.Context, m Membership) (Membership, error)
	RemoveMember(ctx context.Context, documentID, userID string) error
	ListMembers(ctx context.Context, documentID string) ([]Membership, error)

	// FindGrant returns the user's grant for the document, or GrantNone when
	// no membership record exists. Permission checks call this on every
	// resolution; results are never cached.
	FindGrant(ctx context.Context, userID, documentID string) (Grant, error)
}

// Service validates input and delegates to a Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Create(ctx context.Context, teamID, spaceID, title, createdBy string, visibility Visibility) (Document, error) {
	teamID = strings.TrimSpace(teamID)
	createdBy = strings.TrimSpace(createdBy)
	title = strings.TrimSpace(title)
	if teamID == "" || createdBy == "" {
		return Document{}, ErrInvalidInput
	}
	if title == "" {
		title = "Untitled"
	}
	if visibility == "" {
		visibility = VisibilityInvite
	}
	if !visibility.Valid() {
		return Document{}, ErrInvalidVisibility
	}
	doc, err := s.store.Create(ctx, Document{
		TeamID:     teamID,
		SpaceID:    strings.TrimSpace(spaceID),
		Title:      title,
		Visibility: visibility,
		CreatedBy:  createdBy,
	})
	if err != nil {
		return Document{}, err
	}
	// The creator always starts with an edit grant.
	if _, err := s.store.AddMember(ctx, Membership{
		DocumentID: doc.ID,
		UserID:     createdBy,
		Grant:      GrantEdit,
	}); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id string) (Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Document{}, ErrInvalidInput
	}
	return s.store.Get(ctx, id)
}

func (s *Service) ListByTeam(ctx context.Context, teamID string, limit int) ([]Document, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListByTeam(ctx, teamID, limit)
}

func (s *Service) Update(ctx context.Context, id string, upd DocumentUpdate) (Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Document{}, ErrInvalidInput
	}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return Document{}, ErrInvalidInput
		}
		upd.Title = &title
	}
	if upd.Visibility != nil && !upd.Visibility.Valid() {
		return Document{}, ErrInvalidVisibility
	}
	return s.store.Update(ctx, id, upd)
}

func (s *Service) Archive(ctx context.Context, id string) (Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Document{}, ErrInvalidInput
	}
	return s.store.SetArchived(ctx, id, true)
}

func (s *Service) AddMember(ctx context.Context, documentID, userID string, grant Grant) (Membership, error) {
	documentID = strings.TrimSpace(documentID)
	userID = strings.TrimSpace(userID)
	if documentID == "" || userID == "" {
		return Membership{}, ErrInvalidInput
	}
	if !grant.Valid() {
		return Membership{}, ErrInvalidGrant
	}
	return s.store.AddMember(ctx, Membership{
		DocumentID: documentID,
		UserID:     userID,
		Grant:      grant,
	})
}

func (s *Service) RemoveMember(ctx context.Context, documentID, userID string) error {
	documentID = strings.TrimSpace(documentID)
	userID = strings.TrimSpace(userID)
	if documentID == "" || userID == "" {
		return ErrInvalidInput
	}
	return s.store.RemoveMember(ctx, documentID, userID)
}

func (s *Service) ListMembers(ctx context.Context, documentID string) ([]Membership, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, ErrInvalidInput
	}
	return s.store.ListMembers(ctx, documentID)
}

// InMemory implements Store with in-process concurrency safety. Used by tests
// and local development; production runs on the Postgres store.
type InMemory struct {
	mu      sync.RWMutex
	docs    map[string]*Document
	members map[string]map[string]Membership // documentID -> userID -> membership
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		docs:    make(map[string]*Document),
		members: make(map[string]map[string]Membership),
	}
}

func (s *InMemory) Create(ctx context.Context, doc Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.ID = ids.New()
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.docs[doc.ID] = &doc
	return doc, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return *doc, nil
}

func (s *InMemory) ListByTeam(ctx context.Context, teamID string, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, doc := range s.docs {
		if doc.TeamID == teamID {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) Update(ctx context.Context, id string, upd DocumentUpdate) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	if upd.Title != nil {
		doc.Title = *upd.Title
	}
	if upd.Visibility != nil {
		doc.Visibility = *upd.Visibility
	}
	doc.UpdatedAt = time.Now().UTC()
	return *doc, nil
}

func (s *InMemory) SetArchived(ctx context.Context, id string, archived bool) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	doc.Archived = archived
	doc.UpdatedAt = time.Now().UTC()
	return *doc, nil
}

func (s *InMemory) AddMember(ctx context.Context, m Membership) (Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[m.DocumentID]; !ok {
		return Membership{}, ErrNotFound
	}
	byUser, ok := s.members[m.DocumentID]
	if !ok {
		byUser = make(map[string]Membership)
		s.members[m.DocumentID] = byUser
	}
	if existing, ok := byUser[m.UserID]; ok {
		existing.Grant = m.Grant
		byUser[m.UserID] = existing
		return existing, nil
	}
	m.CreatedAt = time.Now().UTC()
	byUser[m.UserID] = m
	return m, nil
}

func (s *InMemory) RemoveMember(ctx context.Context, documentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.members[documentID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := byUser[userID]; !ok {
		return ErrNotFound
	}
	delete(byUser, userID)
	return nil
}

func (s *InMemory) ListMembers(ctx context.Context, documentID string) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.docs[documentID]; !ok {
		return nil, ErrNotFound
	}
	var out []Membership
	for _, m := range s.members[documentID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *InMemory) FindGrant(ctx context.Context, userID, documentID string) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.members[documentID][userID]; ok {
		return m.Grant, nil
	}
	return GrantNone, nil
}
