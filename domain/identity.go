package domain

// UserIdentity is the acting user as supplied by the identity provider.
// The synchronizer only reads it.
type UserIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// AsAssignee converts the identity to the assignee shape used on tasks.
func (u UserIdentity) AsAssignee() Assignee {
	return Assignee{ID: u.ID, DisplayName: u.DisplayName, AvatarURL: u.AvatarURL}
}
