package core

import "fishlog/pkg/domain"

// IsAuthenticated reports whether an identity is present.
func IsAuthenticated(identity *domain.Identity) bool {
	return identity != nil && identity.ID != ""
}

// IsResearcher reports whether identity records on behalf of fishers.
func IsResearcher(identity *domain.Identity) bool {
	return IsAuthenticated(identity) && identity.Role == domain.RoleResearcher
}

// EffectiveOwnerID resolves whose records are written and shown: the selected
// fisher for a researcher with a selection, the identity itself otherwise.
// No identity resolves to "".
func EffectiveOwnerID(identity, selection *domain.Identity) string {
	if !IsAuthenticated(identity) {
		return ""
	}
	if IsResearcher(identity) && selection != nil && selection.ID != "" {
		return selection.ID
	}
	return identity.ID
}

// CanRecord is false only for a researcher with no active selection, or when
// nobody is signed in.
func CanRecord(identity, selection *domain.Identity) bool {
	if !IsAuthenticated(identity) {
		return false
	}
	return !IsResearcher(identity) || (selection != nil && selection.ID != "")
}

// recordOwnership stamps fisherInfo and recordedBy for a new record.
func recordOwnership(identity, selection *domain.Identity) (domain.FisherInfo, *domain.RecordedBy, error) {
	if !IsAuthenticated(identity) {
		return domain.FisherInfo{}, nil, domain.ErrNotAuthenticated
	}
	if !CanRecord(identity, selection) {
		return domain.FisherInfo{}, nil, domain.ErrSelectionRequired
	}
	if IsResearcher(identity) {
		return domain.FisherInfoFrom(*selection), &domain.RecordedBy{
			ID:    identity.ID,
			Name:  identity.Name,
			Phone: identity.Phone,
			Role:  identity.Role,
		}, nil
	}
	return domain.FisherInfoFrom(*identity), nil, nil
}
