package permission

import "rhombus.app/internal/document"

// Rule decides an action from local state. Rules are pure: no I/O, no side
// effects. externalAllow is the non-forced hint from the policy service;
// most rules ignore it.
type Rule func(grant document.Grant, visibility document.Visibility, externalAllow bool) DenialReason

// ruleTable maps actions to their local rules. Actions absent from the table
// are decided by the external policy service alone.
var ruleTable = map[Action]Rule{
	DocumentJoin: joinRule,

	DocumentView:             memberRule,
	DocumentAddMembers:       memberRule,
	DocumentComment:          memberRule,
	DocumentDiscover:         memberRule,
	CommentDelete:            memberRule,
	CommentResolve:           memberRule,
	CommentChange:            memberRule,
	CommentMentionTeamMember: memberRule,

	DocumentRemoveMembers: editorRule,
	DocumentAddGuests:     editorRule,
	DocumentChange:        editorRule,

	DocumentArchive:          editorWithPolicyRule,
	DocumentManagePublicLink: editorWithPolicyRule,

	CommentMentionDocumentMember: memberWithPolicyRule,
}

// ruleFor returns the local rule for an action, if one exists.
func ruleFor(a Action) (Rule, bool) {
	rule, ok := ruleTable[a]
	return rule, ok
}

// joinRule gates unsolicited joins on document visibility. Team-visible
// documents additionally require the org-wide policy hint.
func joinRule(_ document.Grant, visibility document.Visibility, externalAllow bool) DenialReason {
	switch {
	case visibility == document.VisibilityAll:
		return DenialNone
	case visibility == document.VisibilityTeam && externalAllow:
		return DenialNone
	case visibility == document.VisibilityInvite:
		return DenialDocumentMembership
	default:
		return DenialDocumentAccess
	}
}

// memberRule admits any member, whatever their grant.
func memberRule(grant document.Grant, _ document.Visibility, _ bool) DenialReason {
	if grant == document.GrantEdit || grant == document.GrantComment {
		return DenialNone
	}
	return DenialDocumentMembership
}

// editorRule admits edit-grant members only.
func editorRule(grant document.Grant, _ document.Visibility, _ bool) DenialReason {
	if grant == document.GrantEdit {
		return DenialNone
	}
	return DenialDocumentMembership
}

// editorWithPolicyRule requires an edit grant and the external allow hint.
func editorWithPolicyRule(grant document.Grant, _ document.Visibility, externalAllow bool) DenialReason {
	if grant == document.GrantEdit && externalAllow {
		return DenialNone
	}
	return DenialDocumentMembership
}

// memberWithPolicyRule requires any membership and the external allow hint.
func memberWithPolicyRule(grant document.Grant, _ document.Visibility, externalAllow bool) DenialReason {
	if (grant == document.GrantEdit || grant == document.GrantComment) && externalAllow {
		return DenialNone
	}
	return DenialDocumentMembership
}
