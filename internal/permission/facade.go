package permission

import (
	"context"
	"errors"
	"fmt"

	"rhombus.app/internal/document"
	"rhombus.app/internal/obs"
)

// Error is the only error type this subsystem introduces: a denial carrying
// the action and the classified reason. The reason is for logging and
// telemetry; HTTP handlers map the error to 403/404 with a generic message.
type Error struct {
	Action Action
	Reason DenialReason
}

func (e *Error) Error() string {
	return fmt.Sprintf("permission denied: %s (%s)", e.Action, e.Reason)
}

// AsError unwraps a permission denial from an error chain.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// Permissions is the facade route handlers use: one named check per action.
// A value is built per request around an immutable resolver; methods return
// nil when allowed and a *Error otherwise.
type Permissions struct {
	resolver *Resolver
	grants   GrantFinder
}

// New builds a per-request permissions facade for the given identity.
func New(pc PolicyClient, grants GrantFinder, reporter Reporter, userID, teamID string) *Permissions {
	return &Permissions{
		resolver: NewResolver(pc, grants, reporter, userID, teamID),
		grants:   grants,
	}
}

// Resolver exposes the underlying resolver for batch queries.
func (p *Permissions) Resolver() *Resolver { return p.resolver }

func (p *Permissions) check(ctx context.Context, action Action, doc document.Document) error {
	reason, err := p.resolver.CheckDocument(ctx, action, doc)
	if err != nil {
		return err
	}
	if reason != DenialNone {
		return &Error{Action: action, Reason: reason}
	}
	return nil
}

func (p *Permissions) CanViewDocument(ctx context.Context, doc document.Document) error {
	return p.check(ctx, DocumentView, doc)
}

func (p *Permissions) CanJoinDocument(ctx context.Context, doc document.Document) error {
	return p.check(ctx, DocumentJoin, doc)
}

// CanJoinAndViewDocument is the composite used when a non-member requests
// access to a document.
func (p *Permissions) CanJoinAndViewDocument(ctx context.Context, doc document.Document) error {
	reason, err := p.resolver.CheckJoinAndView(ctx, doc)
	if err != nil {
		return err
	}
	if reason != DenialNone {
		return &Error{Action: DocumentJoin, Reason: reason}
	}
	return nil
}

func (p *Permissions) CanDiscoverDocument(ctx context.Context, doc document.Document) error {
	return p.check(ctx, DocumentDiscover, doc)
}

func (p *Permissions) CanChangeDocument(ctx context.Context, doc document.Document) error {
	return p.check(ctx, DocumentChange, doc)
}

func (p *Permissions) CanArchiveDocument(ctx context.Context, doc document.Document) error {
	return p.check(ctx, DocumentArchive, doc)
}

func (p *Permissions) CanCommentOnDocument(ctx context.Context, doc document.Document) error {
	return p.check(ctx, DocumentComment, doc)
}

func (p *Permissions) CanAddMembersToDocument(ctx context.Context, doc document.Document) error {
	return p.check(ctx, DocumentAddMembers, doc)
}

func (p *Permissions) CanRemoveMembersFromDocument(ctx context.Context, doc document.Document) error {
	return p.check(ctx, DocumentRemoveMembers, doc)
}

func (p *Permissions) CanAddGuestsToDocument(ctx context.Context, doc document.Document) error {
	return p.check(ctx, DocumentAddGuests, doc)
}

func (p *Permissions) CanManagePublicLink(ctx context.Context, doc document.Document) error {
	return p.check(ctx, DocumentManagePublicLink, doc)
}

func (p *Permissions) CanDeleteComment(ctx context.Context, doc document.Document) error {
	return p.check(ctx, CommentDelete, doc)
}

func (p *Permissions) CanResolveComment(ctx context.Context, doc document.Document) error {
	return p.check(ctx, CommentResolve, doc)
}

func (p *Permissions) CanChangeComment(ctx context.Context, doc document.Document) error {
	return p.check(ctx, CommentChange, doc)
}

func (p *Permissions) CanMentionDocumentMember(ctx context.Context, doc document.Document) error {
	return p.check(ctx, CommentMentionDocumentMember, doc)
}

func (p *Permissions) CanMentionTeamMember(ctx context.Context, doc document.Document) error {
	return p.check(ctx, CommentMentionTeamMember, doc)
}

// CanCreateDocumentInSpace is decided by the policy service alone.
func (p *Permissions) CanCreateDocumentInSpace(ctx context.Context, spaceID string) error {
	reason, err := p.resolver.CheckSpace(ctx, SpaceCreateDocument, spaceID)
	if err != nil {
		return err
	}
	if reason != DenialNone {
		return &Error{Action: SpaceCreateDocument, Reason: reason}
	}
	return nil
}

// CanSubmitOperationForDocument guards realtime edit submission. The path is
// latency sensitive, so it skips the policy service entirely and applies the
// document.change rule with the external hint pinned to true. This trades
// strict external enforcement for a single membership read; the shortcut is
// intentional and relied upon.
func (p *Permissions) CanSubmitOperationForDocument(ctx context.Context, doc document.Document) error {
	grant, err := p.grants.FindGrant(ctx, p.resolver.userID, doc.ID)
	if err != nil {
		return fmt.Errorf("find grant: %w", err)
	}
	reason := editorRule(grant, doc.Visibility, true)
	obs.ObservePermissionCheck(string(DocumentChange), reason.outcome())
	if reason != DenialNone {
		return &Error{Action: DocumentChange, Reason: reason}
	}
	return nil
}

// CanSendMentionForDocument reports whether a mention notification may be
// sent: true when the target can already view the document or could join it.
// Both checks always run; a failure of one never short-circuits the other.
func (p *Permissions) CanSendMentionForDocument(ctx context.Context, doc document.Document) bool {
	viewErr := p.CanViewDocument(ctx, doc)
	joinErr := p.CanJoinDocument(ctx, doc)
	return viewErr == nil || joinErr == nil
}
