package permission

// DenialReason classifies why a check failed. The zero value means the check
// passed. A resolver call always produces exactly one reason or DenialNone;
// it never returns an ambiguous outcome.
type DenialReason int

const (
	DenialNone DenialReason = iota
	// DenialExternal: the policy service denied authoritatively, was
	// unreachable, or returned malformed/incomplete data. Fail-closed.
	DenialExternal
	// DenialDocumentAccess: visibility rules leave no path to the document.
	DenialDocumentAccess
	// DenialDocumentMembership: the local grant is insufficient.
	DenialDocumentMembership
)

func (d DenialReason) String() string {
	switch d {
	case DenialNone:
		return "none"
	case DenialExternal:
		return "external"
	case DenialDocumentAccess:
		return "document_access"
	case DenialDocumentMembership:
		return "document_membership"
	default:
		return "unknown"
	}
}

// outcome is the metrics label for a resolution result.
func (d DenialReason) outcome() string {
	if d == DenialNone {
		return "allow"
	}
	return d.String()
}
