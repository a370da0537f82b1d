package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"rhombus.app/internal/audit"
	"rhombus.app/internal/auth"
	"rhombus.app/internal/document"
	"rhombus.app/internal/events"
	"rhombus.app/internal/permission"
)

type createDocumentRequest struct {
	Title      string `json:"title"`
	Visibility string `json:"visibility"`
	SpaceID    string `json:"space_id"`
}

type updateDocumentRequest struct {
	Title      *string `json:"title"`
	Visibility *string `json:"visibility"`
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Grant  string `json:"grant"`
}

type mentionRequest struct {
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
}

type listDocumentsResponse struct {
	Items []document.Document `json:"items"`
}

type listMembersResponse struct {
	Items []document.Membership `json:"items"`
}

func (a *API) handleDocumentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createDocument(w, r)
	case http.MethodGet:
		a.listDocuments(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDocumentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch {
	case rest == "":
		a.documentByID(w, r, id)
	case rest == "join":
		a.joinDocument(w, r, id)
	case rest == "archive":
		a.archiveDocument(w, r, id)
	case rest == "operations":
		a.submitOperation(w, r, id)
	case rest == "mentions":
		a.sendMention(w, r, id)
	case rest == "members":
		a.handleMembersCollection(w, r, id)
	case strings.HasPrefix(rest, "members/"):
		userID := strings.TrimPrefix(rest, "members/")
		if userID == "" || strings.Contains(userID, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.removeMember(w, r, id, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// loadDocument fetches the document and hides it entirely when it belongs to
// another team.
func (a *API) loadDocument(ctx context.Context, id string) (document.Document, error) {
	doc, err := a.docs.Get(ctx, id)
	if err != nil {
		return document.Document{}, err
	}
	teamID, _ := auth.TeamIDFromContext(ctx)
	if doc.TeamID != teamID {
		return document.Document{}, document.ErrNotFound
	}
	return doc, nil
}

func (a *API) createDocument(w http.ResponseWriter, r *http.Request) {
	perms, ok := a.permissionsFor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	spaceID := strings.TrimSpace(req.SpaceID)
	if spaceID != "" {
		if err := perms.CanCreateDocumentInSpace(r.Context(), spaceID); err != nil {
			handlePermissionError(w, r, err, false)
			return
		}
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	teamID, _ := auth.TeamIDFromContext(r.Context())
	doc, err := a.docs.Create(r.Context(), teamID, spaceID, req.Title, userID, document.Visibility(req.Visibility))
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "document.created", map[string]any{
		"document_id": doc.ID,
		"space_id":    doc.SpaceID,
		"visibility":  string(doc.Visibility),
	})

	w.Header().Set("Location", "/v1/documents/"+doc.ID)
	writeJSON(w, http.StatusCreated, doc)
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	teamID, ok := auth.TeamIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	items, err := a.docs.ListByTeam(r.Context(), teamID, 0)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	if items == nil {
		items = []document.Document{}
	}
	writeJSON(w, http.StatusOK, listDocumentsResponse{Items: items})
}

func (a *API) documentByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		a.getDocument(w, r, id)
	case http.MethodPatch:
		a.updateDocument(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) getDocument(w http.ResponseWriter, r *http.Request, id string) {
	perms, ok := a.permissionsFor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	doc, err := a.loadDocument(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	if err := perms.CanViewDocument(r.Context(), doc); err != nil {
		handlePermissionError(w, r, err, false)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) updateDocument(w http.ResponseWriter, r *http.Request, id string) {
	perms, ok := a.permissionsFor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	doc, err := a.loadDocument(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	if err := perms.CanChangeDocument(r.Context(), doc); err != nil {
		handlePermissionError(w, r, err, false)
		return
	}

	var req updateDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	upd := document.DocumentUpdate{Title: req.Title}
	if req.Visibility != nil {
		v := document.Visibility(*req.Visibility)
		upd.Visibility = &v
	}

	updated, err := a.docs.Update(r.Context(), id, upd)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	a.publish(events.Event{Type: events.TypeDocumentUpdated, DocumentID: id, ActorID: userID})
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) archiveDocument(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	perms, ok := a.permissionsFor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	doc, err := a.loadDocument(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	if err := perms.CanArchiveDocument(r.Context(), doc); err != nil {
		handlePermissionError(w, r, err, false)
		return
	}

	archived, err := a.docs.Archive(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	_ = audit.LogEvent(r.Context(), "document.archived", map[string]any{
		"document_id": id,
	})
	a.publish(events.Event{Type: events.TypeDocumentArchived, DocumentID: id, ActorID: userID})
	writeJSON(w, http.StatusOK, archived)
}

// joinDocument grants the caller access to a shared document. Denials answer
// 404 so callers cannot probe which documents exist.
func (a *API) joinDocument(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	perms, ok := a.permissionsFor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	doc, err := a.loadDocument(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	if err := perms.CanJoinAndViewDocument(r.Context(), doc); err != nil {
		handlePermissionError(w, r, err, true)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	membership, err := a.docs.AddMember(r.Context(), id, userID, document.GrantEdit)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "document.joined", map[string]any{
		"document_id": id,
	})
	a.publish(events.Event{Type: events.TypeDocumentJoined, DocumentID: id, ActorID: userID})
	writeJSON(w, http.StatusOK, membership)
}

func (a *API) handleMembersCollection(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		a.listMembers(w, r, id)
	case http.MethodPost:
		a.addMember(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request, id string) {
	perms, ok := a.permissionsFor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	doc, err := a.loadDocument(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	if err := perms.CanViewDocument(r.Context(), doc); err != nil {
		handlePermissionError(w, r, err, false)
		return
	}
	items, err := a.docs.ListMembers(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	if items == nil {
		items = []document.Membership{}
	}
	writeJSON(w, http.StatusOK, listMembersResponse{Items: items})
}

func (a *API) addMember(w http.ResponseWriter, r *http.Request, id string) {
	perms, ok := a.permissionsFor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	doc, err := a.loadDocument(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	if err := perms.CanAddMembersToDocument(r.Context(), doc); err != nil {
		handlePermissionError(w, r, err, false)
		return
	}

	var req addMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grant := document.Grant(req.Grant)
	if grant == document.GrantNone {
		grant = document.GrantComment
	}

	membership, err := a.docs.AddMember(r.Context(), id, req.UserID, grant)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}

	actorID, _ := auth.UserIDFromContext(r.Context())
	_ = audit.LogEvent(r.Context(), "document.member.added", map[string]any{
		"document_id": id,
		"member_id":   membership.UserID,
		"grant":       string(membership.Grant),
	})
	a.publish(events.Event{
		Type:       events.TypeMemberAdded,
		DocumentID: id,
		ActorID:    actorID,
		Payload:    map[string]any{"user_id": membership.UserID, "grant": string(membership.Grant)},
	})
	writeJSON(w, http.StatusCreated, membership)
}

func (a *API) removeMember(w http.ResponseWriter, r *http.Request, id, userID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	perms, ok := a.permissionsFor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	doc, err := a.loadDocument(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	if err := perms.CanRemoveMembersFromDocument(r.Context(), doc); err != nil {
		handlePermissionError(w, r, err, false)
		return
	}

	if err := a.docs.RemoveMember(r.Context(), id, userID); err != nil {
		handleDocumentError(w, r, err)
		return
	}

	actorID, _ := auth.UserIDFromContext(r.Context())
	_ = audit.LogEvent(r.Context(), "document.member.removed", map[string]any{
		"document_id": id,
		"member_id":   userID,
	})
	a.publish(events.Event{
		Type:       events.TypeMemberRemoved,
		DocumentID: id,
		ActorID:    actorID,
		Payload:    map[string]any{"user_id": userID},
	})
	w.WriteHeader(http.StatusNoContent)
}

type operationRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// submitOperation is the realtime edit path. The permission shortcut here
// needs only one membership read and never calls the policy service.
func (a *API) submitOperation(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	perms, ok := a.permissionsFor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	doc, err := a.loadDocument(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}
	if doc.Archived {
		writeError(w, r, http.StatusConflict, "document is archived")
		return
	}
	if err := perms.CanSubmitOperationForDocument(r.Context(), doc); err != nil {
		handlePermissionError(w, r, err, false)
		return
	}

	var req operationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, r, http.StatusBadRequest, "type is required")
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	a.publish(events.Event{
		Type:       events.TypeOperationSubmitted,
		DocumentID: id,
		ActorID:    userID,
		Payload:    map[string]any{"type": req.Type, "data": req.Data},
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// sendMention checks that the actor may mention someone here, then reports
// whether the mentioned user would actually be able to open the document.
func (a *API) sendMention(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	perms, ok := a.permissionsFor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	doc, err := a.loadDocument(r.Context(), id)
	if err != nil {
		handleDocumentError(w, r, err)
		return
	}

	var req mentionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	switch req.Scope {
	case "", "member":
		err = perms.CanMentionDocumentMember(r.Context(), doc)
	case "team":
		err = perms.CanMentionTeamMember(r.Context(), doc)
	default:
		writeError(w, r, http.StatusBadRequest, "scope must be member or team")
		return
	}
	if err != nil {
		handlePermissionError(w, r, err, false)
		return
	}

	teamID, _ := auth.TeamIDFromContext(r.Context())
	targetPerms := permission.New(a.policy, a.grants, nil, target, teamID)
	deliverable := targetPerms.CanSendMentionForDocument(r.Context(), doc)

	writeJSON(w, http.StatusOK, map[string]any{"deliverable": deliverable})
}

// handleDocumentPermissions answers the batched listing used by clients to
// render toolbars for many documents at once.
func (a *API) handleDocumentPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	perms, ok := a.permissionsFor(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	ids := splitParam(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		writeError(w, r, http.StatusBadRequest, "ids query parameter is required")
		return
	}

	actions := permission.DocumentActions
	if raw := splitParam(r.URL.Query().Get("actions")); len(raw) > 0 {
		actions = make([]permission.Action, 0, len(raw))
		for _, s := range raw {
			action, ok := permission.ParseAction(s)
			if !ok {
				writeError(w, r, http.StatusBadRequest, "unknown action: "+s)
				return
			}
			actions = append(actions, action)
		}
	}

	docs := make([]document.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := a.loadDocument(r.Context(), id)
		if errors.Is(err, document.ErrNotFound) {
			// Unknown ids stay in the result with every action denied.
			docs = append(docs, document.Document{ID: id, Visibility: document.VisibilityInvite})
			continue
		}
		if err != nil {
			handleDocumentError(w, r, err)
			return
		}
		docs = append(docs, doc)
	}

	set, err := perms.Resolver().DocumentPermissions(r.Context(), actions, docs)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": set})
}

func (a *API) publish(evt events.Event) {
	if a.stream != nil {
		a.stream.Publish(evt)
	}
}

func splitParam(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
