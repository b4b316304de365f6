package service

import "fmt"

// NameResolver attempts to resolve an approver id to a display name.
type NameResolver func(approverID string) (string, bool)

// ApproverDirectory resolves approver display names through an ordered chain
// of resolvers. The chain is tried front to back; the synthetic placeholder
// at the end guarantees a non-empty result.
type ApproverDirectory struct {
	resolvers []NameResolver
}

// NewApproverDirectory builds a directory over the matrix roster and the
// global user directory, in that precedence order.
func NewApproverDirectory(roster map[string]string, users map[string]string) *ApproverDirectory {
	return &ApproverDirectory{
		resolvers: []NameResolver{
			lookupIn(roster),
			lookupIn(users),
		},
	}
}

// Resolve returns the display name for an approver id. The provided fallback
// (typically a name carried on the incoming row) ranks below both lookups but
// above the synthetic placeholder.
func (d *ApproverDirectory) Resolve(approverID, fallback string) string {
	if d != nil {
		for _, resolve := range d.resolvers {
			if name, ok := resolve(approverID); ok {
				return name
			}
		}
	}
	if fallback != "" {
		return fallback
	}
	return fmt.Sprintf("User %s", approverID)
}

func lookupIn(names map[string]string) NameResolver {
	return func(approverID string) (string, bool) {
		name, ok := names[approverID]
		if !ok || name == "" {
			return "", false
		}
		return name, true
	}
}
