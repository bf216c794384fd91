package models

// IdentityKind tags an Identity.
type IdentityKind string

const (
	KindGuest   IdentityKind = "guest"
	KindAccount IdentityKind = "account"
)

// Identity is who a request acts as. For KindAccount, ID is the account id;
// for KindGuest, ID is the guest token.
type Identity struct {
	Kind        IdentityKind `json:"kind"`
	ID          string       `json:"id"`
	DisplayName string       `json:"display_name,omitempty"`
}

// Account builds an account identity.
func Account(accountID string) Identity {
	return Identity{Kind: KindAccount, ID: accountID}
}

// Guest builds a guest identity.
func Guest(token, displayName string) Identity {
	return Identity{Kind: KindGuest, ID: token, DisplayName: displayName}
}

func (i Identity) IsAccount() bool { return i.Kind == KindAccount && i.ID != "" }
func (i Identity) IsGuest() bool   { return i.Kind == KindGuest }

// UserID is the public id this identity would carry on a roster.
func (i Identity) UserID() string {
	if i.IsAccount() {
		return AccountUserID(i.ID)
	}
	return i.ID
}
