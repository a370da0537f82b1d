package permission

import (
	"context"
	"fmt"
	"strings"

	"rhombus.app/internal/audit"
	"rhombus.app/internal/document"
	"rhombus.app/internal/obs"
	"rhombus.app/internal/policy"
)

// PolicyClient is the subset of the policy service client the resolver needs.
type PolicyClient interface {
	PermissionsForDocuments(ctx context.Context, userID, teamID string, actions, documentIDs []string) (policy.Decisions, error)
	PermissionsForSpace(ctx context.Context, userID, teamID, spaceID, action string) (policy.Decisions, error)
}

// GrantFinder reads a user's membership grant for a document. Every
// resolution re-reads; there is no caching between checks.
type GrantFinder interface {
	FindGrant(ctx context.Context, userID, documentID string) (document.Grant, error)
}

// Reporter receives diagnostics when the policy service fails or returns
// incomplete data. Denials themselves are not reported here.
type Reporter interface {
	Report(ctx context.Context, event string, fields map[string]any)
}

// AuditReporter forwards resolver diagnostics to the audit log.
type AuditReporter struct{}

func (AuditReporter) Report(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

const (
	eventPolicyUnavailable = "permissions.policy.unavailable"
	eventPolicyMissing     = "permissions.policy.missing_entry"
)

// Resolver answers permission queries for one (user, team) pair. It is
// constructed per request with immutable context and holds no mutable state;
// concurrent requests each build their own.
type Resolver struct {
	policy PolicyClient
	grants GrantFinder
	report Reporter
	userID string
	teamID string
}

// NewResolver builds a resolver bound to the given identity.
func NewResolver(pc PolicyClient, grants GrantFinder, reporter Reporter, userID, teamID string) *Resolver {
	if reporter == nil {
		reporter = AuditReporter{}
	}
	return &Resolver{
		policy: pc,
		grants: grants,
		report: reporter,
		userID: strings.TrimSpace(userID),
		teamID: strings.TrimSpace(teamID),
	}
}

// CheckDocument resolves a single action against a single document. The
// returned error covers membership-store failures only; every policy-service
// failure mode collapses into DenialExternal.
func (r *Resolver) CheckDocument(ctx context.Context, action Action, doc document.Document) (DenialReason, error) {
	reason, err := r.checkDocument(ctx, action, doc)
	if err == nil {
		obs.ObservePermissionCheck(string(action), reason.outcome())
	}
	return reason, err
}

func (r *Resolver) checkDocument(ctx context.Context, action Action, doc document.Document) (DenialReason, error) {
	decisions, err := r.policy.PermissionsForDocuments(ctx, r.userID, r.teamID, actionStrings([]Action{action}), []string{doc.ID})
	if err != nil {
		r.reportUnavailable(ctx, []Action{action}, []string{doc.ID}, err)
		return DenialExternal, nil
	}

	dec, ok := decisions.Get(doc.ID, string(action))
	if !ok {
		r.reportMissing(ctx, action, doc.ID)
		return DenialExternal, nil
	}

	// Forced verdicts skip the membership read entirely. This avoids a
	// database round trip, not just duplicate work; keep the short circuit.
	if dec.Force {
		if dec.Allow {
			return DenialNone, nil
		}
		return DenialExternal, nil
	}

	rule, ok := ruleFor(action)
	if !ok {
		if dec.Allow {
			return DenialNone, nil
		}
		return DenialExternal, nil
	}

	grant, err := r.grants.FindGrant(ctx, r.userID, doc.ID)
	if err != nil {
		return DenialNone, fmt.Errorf("find grant: %w", err)
	}
	return rule(grant, doc.Visibility, dec.Allow), nil
}

// CheckJoinAndView evaluates the join+view composite used when a non-member
// requests access. Both actions are fetched in one policy call and scanned in
// declared order: the first forced entry decides alone; unanimous external
// allow passes without local rules; otherwise the local join rule decides,
// fed only the join action's allow hint.
func (r *Resolver) CheckJoinAndView(ctx context.Context, doc document.Document) (DenialReason, error) {
	reason, err := r.checkJoinAndView(ctx, doc)
	if err == nil {
		obs.ObservePermissionCheck("document.join_and_view", reason.outcome())
	}
	return reason, err
}

func (r *Resolver) checkJoinAndView(ctx context.Context, doc document.Document) (DenialReason, error) {
	actions := []Action{DocumentJoin, DocumentView}
	decisions, err := r.policy.PermissionsForDocuments(ctx, r.userID, r.teamID, actionStrings(actions), []string{doc.ID})
	if err != nil {
		r.reportUnavailable(ctx, actions, []string{doc.ID}, err)
		return DenialExternal, nil
	}

	allAllowed := true
	var joinAllow bool
	for _, action := range actions {
		dec, ok := decisions.Get(doc.ID, string(action))
		if !ok {
			r.reportMissing(ctx, action, doc.ID)
			return DenialExternal, nil
		}
		if dec.Force {
			if dec.Allow {
				return DenialNone, nil
			}
			return DenialExternal, nil
		}
		if !dec.Allow {
			allAllowed = false
		}
		if action == DocumentJoin {
			joinAllow = dec.Allow
		}
	}
	if allAllowed {
		return DenialNone, nil
	}

	grant, err := r.grants.FindGrant(ctx, r.userID, doc.ID)
	if err != nil {
		return DenialNone, fmt.Errorf("find grant: %w", err)
	}
	return joinRule(grant, doc.Visibility, joinAllow), nil
}

// CheckSpace resolves a space-scoped action. No local rules apply to spaces:
// the external verdict decides alone.
func (r *Resolver) CheckSpace(ctx context.Context, action Action, spaceID string) (DenialReason, error) {
	decisions, err := r.policy.PermissionsForSpace(ctx, r.userID, r.teamID, spaceID, string(action))
	if err != nil {
		r.reportUnavailable(ctx, []Action{action}, []string{spaceID}, err)
		return DenialExternal, nil
	}
	dec, ok := decisions.Get(spaceID, string(action))
	if !ok {
		r.reportMissing(ctx, action, spaceID)
		return DenialExternal, nil
	}
	reason := DenialExternal
	if dec.Allow {
		reason = DenialNone
	}
	obs.ObservePermissionCheck(string(action), reason.outcome())
	return reason, nil
}

// PermissionSet is the listing wire shape: documentID -> action -> verdict.
// Force is reported true only when the external force path decided verbatim;
// once a local rule has been consulted it is always false.
type PermissionSet map[string]map[string]policy.Decision

// DocumentPermissions resolves every action against every document in one
// external call. A document missing from the policy response is denied for
// all requested actions and reported, without aborting the rest of the batch.
func (r *Resolver) DocumentPermissions(ctx context.Context, actions []Action, docs []document.Document) (PermissionSet, error) {
	result := make(PermissionSet, len(docs))
	if len(actions) == 0 || len(docs) == 0 {
		return result, nil
	}

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}

	decisions, err := r.policy.PermissionsForDocuments(ctx, r.userID, r.teamID, actionStrings(actions), ids)
	if err != nil {
		r.reportUnavailable(ctx, actions, ids, err)
		decisions = policy.Decisions{}
	}

	for _, doc := range docs {
		byAction := make(map[string]policy.Decision, len(actions))
		result[doc.ID] = byAction

		grantLoaded := false
		var grant document.Grant

		for _, action := range actions {
			dec, ok := decisions.Get(doc.ID, string(action))
			if !ok {
				r.reportMissing(ctx, action, doc.ID)
				byAction[string(action)] = policy.Decision{Allow: false, Force: false}
				continue
			}
			if dec.Force {
				byAction[string(action)] = policy.Decision{Allow: dec.Allow, Force: true}
				continue
			}
			rule, hasRule := ruleFor(action)
			if !hasRule {
				byAction[string(action)] = policy.Decision{Allow: dec.Allow, Force: false}
				continue
			}
			if !grantLoaded {
				grant, err = r.grants.FindGrant(ctx, r.userID, doc.ID)
				if err != nil {
					return nil, fmt.Errorf("find grant: %w", err)
				}
				grantLoaded = true
			}
			reason := rule(grant, doc.Visibility, dec.Allow)
			byAction[string(action)] = policy.Decision{Allow: reason == DenialNone, Force: false}
		}
	}
	return result, nil
}

func (r *Resolver) reportUnavailable(ctx context.Context, actions []Action, resourceIDs []string, err error) {
	r.report.Report(ctx, eventPolicyUnavailable, map[string]any{
		"user_id":   r.userID,
		"team_id":   r.teamID,
		"actions":   actionStrings(actions),
		"resources": resourceIDs,
		"error":     err.Error(),
	})
}

func (r *Resolver) reportMissing(ctx context.Context, action Action, resourceID string) {
	r.report.Report(ctx, eventPolicyMissing, map[string]any{
		"user_id":  r.userID,
		"team_id":  r.teamID,
		"action":   string(action),
		"resource": resourceID,
	})
}
