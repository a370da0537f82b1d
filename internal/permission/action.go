package permission

// Action names a checkable capability. The catalog is closed: adding an
// action means either adding a matching rule to the rule table or accepting
// that the external policy service decides it alone.
type Action string

const (
	DocumentView             Action = "document.view"
	DocumentJoin             Action = "document.join"
	DocumentDiscover         Action = "document.discover"
	DocumentChange           Action = "document.change"
	DocumentArchive          Action = "document.archive"
	DocumentComment          Action = "document.comment"
	DocumentAddMembers       Action = "document.add_members"
	DocumentRemoveMembers    Action = "document.remove_members"
	DocumentAddGuests        Action = "document.add_guests"
	DocumentManagePublicLink Action = "document.manage_public_link"

	CommentDelete                Action = "comment.delete"
	CommentResolve               Action = "comment.resolve"
	CommentChange                Action = "comment.change"
	CommentMentionDocumentMember Action = "comment.mention_document_member"
	CommentMentionTeamMember     Action = "comment.mention_team_member"

	SpaceCreateDocument Action = "space.create_document"
)

// DocumentActions is every document-scoped action, in the order the listing
// endpoint reports them.
var DocumentActions = []Action{
	DocumentView,
	DocumentJoin,
	DocumentDiscover,
	DocumentChange,
	DocumentArchive,
	DocumentComment,
	DocumentAddMembers,
	DocumentRemoveMembers,
	DocumentAddGuests,
	DocumentManagePublicLink,
	CommentDelete,
	CommentResolve,
	CommentChange,
	CommentMentionDocumentMember,
	CommentMentionTeamMember,
}

var knownActions = func() map[Action]struct{} {
	set := make(map[Action]struct{}, len(DocumentActions)+1)
	for _, a := range DocumentActions {
		set[a] = struct{}{}
	}
	set[SpaceCreateDocument] = struct{}{}
	return set
}()

// ParseAction validates a wire-format action string against the catalog.
func ParseAction(raw string) (Action, bool) {
	a := Action(raw)
	_, ok := knownActions[a]
	return a, ok
}

func actionStrings(actions []Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}
