package permission

import (
	"context"
	"errors"
	"testing"

	"rhombus.app/internal/document"
	"rhombus.app/internal/policy"
)

type stubPolicy struct {
	docFn   func(ctx context.Context, userID, teamID string, actions, documentIDs []string) (policy.Decisions, error)
	spaceFn func(ctx context.Context, userID, teamID, spaceID, action string) (policy.Decisions, error)

	docCalls   int
	spaceCalls int
}

func (s *stubPolicy) PermissionsForDocuments(ctx context.Context, userID, teamID string, actions, documentIDs []string) (policy.Decisions, error) {
	s.docCalls++
	if s.docFn != nil {
		return s.docFn(ctx, userID, teamID, actions, documentIDs)
	}
	return policy.Decisions{}, nil
}

func (s *stubPolicy) PermissionsForSpace(ctx context.Context, userID, teamID, spaceID, action string) (policy.Decisions, error) {
	s.spaceCalls++
	if s.spaceFn != nil {
		return s.spaceFn(ctx, userID, teamID, spaceID, action)
	}
	return policy.Decisions{}, nil
}

type stubGrants struct {
	grant document.Grant
	err   error
	calls int
}

func (s *stubGrants) FindGrant(ctx context.Context, userID, documentID string) (document.Grant, error) {
	s.calls++
	return s.grant, s.err
}

type stubReporter struct {
	events []string
}

func (s *stubReporter) Report(ctx context.Context, event string, fields map[string]any) {
	s.events = append(s.events, event)
}

func decisionsFor(docID string, entries map[string]policy.Decision) policy.Decisions {
	return policy.Decisions{docID: entries}
}

func testDoc(visibility document.Visibility) document.Document {
	return document.Document{
		ID:         "doc-1",
		TeamID:     "team-1",
		Visibility: visibility,
	}
}

func newTestResolver(pc PolicyClient, grants GrantFinder, reporter Reporter) *Resolver {
	return NewResolver(pc, grants, reporter, "user-1", "team-1")
}

func TestCheckDocumentForcedVerdictSkipsMembership(t *testing.T) {
	for _, allow := range []bool{true, false} {
		pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
			return decisionsFor("doc-1", map[string]policy.Decision{
				string(DocumentArchive): {Allow: allow, Force: true},
			}), nil
		}}
		grants := &stubGrants{grant: document.GrantEdit}
		r := newTestResolver(pc, grants, &stubReporter{})

		reason, err := r.CheckDocument(context.Background(), DocumentArchive, testDoc(document.VisibilityInvite))
		if err != nil {
			t.Fatalf("CheckDocument: %v", err)
		}
		want := DenialExternal
		if allow {
			want = DenialNone
		}
		if reason != want {
			t.Fatalf("forced allow=%v: got %s, want %s", allow, reason, want)
		}
		if grants.calls != 0 {
			t.Fatalf("forced verdict must not read membership, got %d reads", grants.calls)
		}
	}
}

func TestCheckDocumentForcedDenyOverridesLocalAllow(t *testing.T) {
	// grant=edit would pass the archive rule locally; the forced external
	// deny wins anyway.
	pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
		return decisionsFor("doc-1", map[string]policy.Decision{
			string(DocumentArchive): {Allow: false, Force: true},
		}), nil
	}}
	r := newTestResolver(pc, &stubGrants{grant: document.GrantEdit}, &stubReporter{})

	reason, err := r.CheckDocument(context.Background(), DocumentArchive, testDoc(document.VisibilityTeam))
	if err != nil {
		t.Fatalf("CheckDocument: %v", err)
	}
	if reason != DenialExternal {
		t.Fatalf("got %s, want %s", reason, DenialExternal)
	}
}

func TestCheckDocumentAppliesLocalRule(t *testing.T) {
	cases := []struct {
		name  string
		grant document.Grant
		allow bool
		want  DenialReason
	}{
		{"editor with hint archives", document.GrantEdit, true, DenialNone},
		{"editor without hint denied", document.GrantEdit, false, DenialDocumentMembership},
		{"commenter denied", document.GrantComment, true, DenialDocumentMembership},
		{"non-member denied", document.GrantNone, true, DenialDocumentMembership},
	}
	for _, tc := range cases {
		pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
			return decisionsFor("doc-1", map[string]policy.Decision{
				string(DocumentArchive): {Allow: tc.allow, Force: false},
			}), nil
		}}
		grants := &stubGrants{grant: tc.grant}
		r := newTestResolver(pc, grants, &stubReporter{})

		reason, err := r.CheckDocument(context.Background(), DocumentArchive, testDoc(document.VisibilityTeam))
		if err != nil {
			t.Fatalf("%s: CheckDocument: %v", tc.name, err)
		}
		if reason != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, reason, tc.want)
		}
		if grants.calls != 1 {
			t.Fatalf("%s: expected exactly one membership read, got %d", tc.name, grants.calls)
		}
	}
}

func TestCheckDocumentUnknownActionFollowsExternalAllow(t *testing.T) {
	const exportAction = Action("document.export")
	for _, allow := range []bool{true, false} {
		pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
			return decisionsFor("doc-1", map[string]policy.Decision{
				string(exportAction): {Allow: allow, Force: false},
			}), nil
		}}
		grants := &stubGrants{grant: document.GrantNone}
		r := newTestResolver(pc, grants, &stubReporter{})

		reason, err := r.CheckDocument(context.Background(), exportAction, testDoc(document.VisibilityTeam))
		if err != nil {
			t.Fatalf("CheckDocument: %v", err)
		}
		want := DenialExternal
		if allow {
			want = DenialNone
		}
		if reason != want {
			t.Fatalf("allow=%v: got %s, want %s", allow, reason, want)
		}
		if grants.calls != 0 {
			t.Fatalf("ruleless action must not read membership, got %d reads", grants.calls)
		}
	}
}

func TestCheckDocumentPolicyFailureFailsClosed(t *testing.T) {
	pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
		return nil, policy.ErrUnavailable
	}}
	reporter := &stubReporter{}
	r := newTestResolver(pc, &stubGrants{grant: document.GrantEdit}, reporter)

	reason, err := r.CheckDocument(context.Background(), DocumentView, testDoc(document.VisibilityAll))
	if err != nil {
		t.Fatalf("CheckDocument: %v", err)
	}
	if reason != DenialExternal {
		t.Fatalf("got %s, want %s", reason, DenialExternal)
	}
	if len(reporter.events) != 1 || reporter.events[0] != eventPolicyUnavailable {
		t.Fatalf("expected one unavailable report, got %v", reporter.events)
	}
}

func TestCheckDocumentMissingEntryFailsClosed(t *testing.T) {
	pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
		return policy.Decisions{}, nil
	}}
	reporter := &stubReporter{}
	r := newTestResolver(pc, &stubGrants{grant: document.GrantEdit}, reporter)

	reason, err := r.CheckDocument(context.Background(), DocumentView, testDoc(document.VisibilityAll))
	if err != nil {
		t.Fatalf("CheckDocument: %v", err)
	}
	if reason != DenialExternal {
		t.Fatalf("got %s, want %s", reason, DenialExternal)
	}
	if len(reporter.events) != 1 || reporter.events[0] != eventPolicyMissing {
		t.Fatalf("expected one missing-entry report, got %v", reporter.events)
	}
}

func TestCheckDocumentIsIdempotent(t *testing.T) {
	pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
		return decisionsFor("doc-1", map[string]policy.Decision{
			string(DocumentView): {Allow: true, Force: false},
		}), nil
	}}
	grants := &stubGrants{grant: document.GrantComment}
	r := newTestResolver(pc, grants, &stubReporter{})

	first, err := r.CheckDocument(context.Background(), DocumentView, testDoc(document.VisibilityTeam))
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	second, err := r.CheckDocument(context.Background(), DocumentView, testDoc(document.VisibilityTeam))
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if first != second {
		t.Fatalf("resolutions differ: %s vs %s", first, second)
	}
	// No caching between checks: both resolutions hit policy and membership.
	if pc.docCalls != 2 || grants.calls != 2 {
		t.Fatalf("expected 2 policy and 2 membership reads, got %d/%d", pc.docCalls, grants.calls)
	}
}

func TestCheckDocumentGrantReadFailurePropagates(t *testing.T) {
	pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
		return decisionsFor("doc-1", map[string]policy.Decision{
			string(DocumentView): {Allow: true, Force: false},
		}), nil
	}}
	grants := &stubGrants{err: errors.New("connection reset")}
	r := newTestResolver(pc, grants, &stubReporter{})

	if _, err := r.CheckDocument(context.Background(), DocumentView, testDoc(document.VisibilityTeam)); err == nil {
		t.Fatalf("expected membership store failure to propagate")
	}
}

func TestJoinAndViewFirstForceWins(t *testing.T) {
	// JOIN is scanned before VIEW: its forced deny decides regardless of
	// VIEW's forced allow.
	pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
		return decisionsFor("doc-1", map[string]policy.Decision{
			string(DocumentJoin): {Allow: false, Force: true},
			string(DocumentView): {Allow: true, Force: true},
		}), nil
	}}
	grants := &stubGrants{grant: document.GrantEdit}
	r := newTestResolver(pc, grants, &stubReporter{})

	reason, err := r.CheckJoinAndView(context.Background(), testDoc(document.VisibilityAll))
	if err != nil {
		t.Fatalf("CheckJoinAndView: %v", err)
	}
	if reason != DenialExternal {
		t.Fatalf("got %s, want %s", reason, DenialExternal)
	}
	if grants.calls != 0 {
		t.Fatalf("forced verdict must not read membership, got %d reads", grants.calls)
	}
}

func TestJoinAndViewUnanimousAllowSkipsLocalRules(t *testing.T) {
	pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
		return decisionsFor("doc-1", map[string]policy.Decision{
			string(DocumentJoin): {Allow: true, Force: false},
			string(DocumentView): {Allow: true, Force: false},
		}), nil
	}}
	grants := &stubGrants{grant: document.GrantNone}
	r := newTestResolver(pc, grants, &stubReporter{})

	reason, err := r.CheckJoinAndView(context.Background(), testDoc(document.VisibilityInvite))
	if err != nil {
		t.Fatalf("CheckJoinAndView: %v", err)
	}
	if reason != DenialNone {
		t.Fatalf("got %s, want %s", reason, DenialNone)
	}
	if grants.calls != 0 {
		t.Fatalf("unanimous allow must not read membership, got %d reads", grants.calls)
	}
}

func TestJoinAndViewFallthroughUsesJoinHintOnly(t *testing.T) {
	// Not unanimous, nothing forced: the local join rule runs with JOIN's
	// hint. VIEW's hint must be discarded.
	cases := []struct {
		name      string
		joinAllow bool
		viewAllow bool
		want      DenialReason
	}{
		{"join hint true admits team document", true, false, DenialNone},
		{"view hint cannot stand in for join", false, true, DenialDocumentAccess},
	}
	for _, tc := range cases {
		pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
			return decisionsFor("doc-1", map[string]policy.Decision{
				string(DocumentJoin): {Allow: tc.joinAllow, Force: false},
				string(DocumentView): {Allow: tc.viewAllow, Force: false},
			}), nil
		}}
		grants := &stubGrants{grant: document.GrantNone}
		r := newTestResolver(pc, grants, &stubReporter{})

		reason, err := r.CheckJoinAndView(context.Background(), testDoc(document.VisibilityTeam))
		if err != nil {
			t.Fatalf("%s: CheckJoinAndView: %v", tc.name, err)
		}
		if reason != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, reason, tc.want)
		}
	}
}

func TestJoinAndViewMissingEntryFailsClosed(t *testing.T) {
	pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
		return decisionsFor("doc-1", map[string]policy.Decision{
			string(DocumentJoin): {Allow: true, Force: false},
		}), nil
	}}
	reporter := &stubReporter{}
	r := newTestResolver(pc, &stubGrants{}, reporter)

	reason, err := r.CheckJoinAndView(context.Background(), testDoc(document.VisibilityAll))
	if err != nil {
		t.Fatalf("CheckJoinAndView: %v", err)
	}
	if reason != DenialExternal {
		t.Fatalf("got %s, want %s", reason, DenialExternal)
	}
	if len(reporter.events) != 1 || reporter.events[0] != eventPolicyMissing {
		t.Fatalf("expected one missing-entry report, got %v", reporter.events)
	}
}

func TestJoinScenarios(t *testing.T) {
	cases := []struct {
		name       string
		visibility document.Visibility
		want       DenialReason
	}{
		{"open document joins directly", document.VisibilityAll, DenialNone},
		{"invite-only locks out non-members", document.VisibilityInvite, DenialDocumentMembership},
	}
	for _, tc := range cases {
		pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, _ []string) (policy.Decisions, error) {
			return decisionsFor("doc-1", map[string]policy.Decision{
				string(DocumentJoin): {Allow: true, Force: false},
			}), nil
		}}
		r := newTestResolver(pc, &stubGrants{grant: document.GrantNone}, &stubReporter{})

		reason, err := r.CheckDocument(context.Background(), DocumentJoin, testDoc(tc.visibility))
		if err != nil {
			t.Fatalf("%s: CheckDocument: %v", tc.name, err)
		}
		if reason != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, reason, tc.want)
		}
	}
}

func TestDocumentPermissionsBatch(t *testing.T) {
	docA := document.Document{ID: "doc-a", Visibility: document.VisibilityTeam}
	docB := document.Document{ID: "doc-b", Visibility: document.VisibilityInvite}
	actions := []Action{DocumentView, DocumentArchive, Action("document.export")}

	pc := &stubPolicy{docFn: func(_ context.Context, _, _ string, _, ids []string) (policy.Decisions, error) {
		if len(ids) != 2 {
			t.Fatalf("expected one batched call with both documents, got %v", ids)
		}
		return policy.Decisions{
			"doc-a": {
				string(DocumentView):    {Allow: true, Force: false},
				string(DocumentArchive): {Allow: false, Force: true},
				"document.export":       {Allow: true, Force: false},
			},
			// doc-b deliberately absent from the response.
		}, nil
	}}
	grants := &stubGrants{grant: document.GrantComment}
	reporter := &stubReporter{}
	r := newTestResolver(pc, grants, reporter)

	set, err := r.DocumentPermissions(context.Background(), actions, []document.Document{docA, docB})
	if err != nil {
		t.Fatalf("DocumentPermissions: %v", err)
	}

	a := set["doc-a"]
	if !a[string(DocumentView)].Allow || a[string(DocumentView)].Force {
		t.Fatalf("doc-a view: got %+v, want allow=true force=false", a[string(DocumentView)])
	}
	// The forced external verdict is reported verbatim.
	if a[string(DocumentArchive)].Allow || !a[string(DocumentArchive)].Force {
		t.Fatalf("doc-a archive: got %+v, want allow=false force=true", a[string(DocumentArchive)])
	}
	// Ruleless actions pass the external allow through without force.
	if !a["document.export"].Allow || a["document.export"].Force {
		t.Fatalf("doc-a export: got %+v, want allow=true force=false", a["document.export"])
	}

	b := set["doc-b"]
	for _, action := range actions {
		dec := b[string(action)]
		if dec.Allow || dec.Force {
			t.Fatalf("doc-b %s: got %+v, want denied", action, dec)
		}
	}
	// One report per missing (document, action) pair; the batch still
	// completed for doc-a.
	if len(reporter.events) != len(actions) {
		t.Fatalf("expected %d reports for doc-b, got %d", len(actions), len(reporter.events))
	}
	// Membership was read once for doc-a (view rule) and never for doc-b.
	if grants.calls != 1 {
		t.Fatalf("expected a single membership read, got %d", grants.calls)
	}
	if pc.docCalls != 1 {
		t.Fatalf("expected a single policy call, got %d", pc.docCalls)
	}
}

func TestCheckSpaceExternalDecidesAlone(t *testing.T) {
	for _, allow := range []bool{true, false} {
		pc := &stubPolicy{spaceFn: func(_ context.Context, _, _, spaceID, action string) (policy.Decisions, error) {
			return policy.Decisions{spaceID: {action: {Allow: allow, Force: false}}}, nil
		}}
		r := newTestResolver(pc, &stubGrants{}, &stubReporter{})

		reason, err := r.CheckSpace(context.Background(), SpaceCreateDocument, "space-1")
		if err != nil {
			t.Fatalf("CheckSpace: %v", err)
		}
		want := DenialExternal
		if allow {
			want = DenialNone
		}
		if reason != want {
			t.Fatalf("allow=%v: got %s, want %s", allow, reason, want)
		}
	}
}
