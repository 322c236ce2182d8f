// Package bitwarden is a client for the Vault Management API served by
// `bw serve`.
//
// See https://bitwarden.com/help/vault-management-api/
package bitwarden

// Bitwarden item types.
const (
	ItemTypeLogin      = 1
	ItemTypeSecureNote = 2
	ItemTypeCard       = 3
	ItemTypeIdentity   = 4
)

// Custom field types.
const (
	FieldTypeText    = 0
	FieldTypeHidden  = 1
	FieldTypeBoolean = 2
	FieldTypeLinked  = 3
)

// URI match detection modes.
const (
	URIMatchBaseDomain = 0
	URIMatchHost       = 1
	URIMatchStartsWith = 2
	URIMatchExact      = 3
	URIMatchRegex      = 4
	URIMatchNever      = 5
)

// Item is a vault item as sent to and returned by the API.
type Item struct {
	ID             string   `json:"id,omitempty"`
	OrganizationID string   `json:"organizationId"`
	CollectionIDs  []string `json:"collectionIds"`
	FolderID       *string  `json:"folderId"`
	Type           int      `json:"type"`
	Name           string   `json:"name"`
	Notes          string   `json:"notes"`
	Favorite       bool     `json:"favorite"`
	Fields         []Field  `json:"fields"`
	Login          *Login   `json:"login,omitempty"`
	Reprompt       int      `json:"reprompt"`
	RevisionDate   string   `json:"revisionDate,omitempty"`
}

// Login holds the login part of an item.
type Login struct {
	URIs     []URI  `json:"uris,omitempty"`
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp,omitempty"`
}

// URI is a login URI with its match detection mode.
type URI struct {
	URI   string `json:"uri"`
	Match *int   `json:"match,omitempty"`
}

// Field is a custom field.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  int    `json:"type"` // 0=text, 1=hidden, 2=boolean, 3=linked
}

// InCollection reports whether the item is assigned to collectionID.
func (i Item) InCollection(collectionID string) bool {
	for _, id := range i.CollectionIDs {
		if id == collectionID {
			return true
		}
	}
	return false
}

// NewLoginItem returns an empty login item for one organization collection.
func NewLoginItem(organizationID, collectionID string) Item {
	return Item{
		OrganizationID: organizationID,
		CollectionIDs:  []string{collectionID},
		Type:           ItemTypeLogin,
		Fields:         []Field{},
		Login:          &Login{},
	}
}

// Match returns a pointer to a URI match mode for URI.Match.
func Match(mode int) *int {
	return &mode
}

// Collection is an organization collection.
type Collection struct {
	ID             string  `json:"id"`
	OrganizationID string  `json:"organizationId"`
	Name           string  `json:"name"`
	ExternalID     *string `json:"externalId"`
}

// CollectionGroup grants a group access to a collection.
type CollectionGroup struct {
	ID            string `json:"id"`
	ReadOnly      bool   `json:"readOnly"`
	HidePasswords bool   `json:"hidePasswords"`
}

// CollectionRequest is the body of a create-collection call.
type CollectionRequest struct {
	OrganizationID string            `json:"organizationId"`
	Name           string            `json:"name"`
	ExternalID     *string           `json:"externalId"`
	Groups         []CollectionGroup `json:"groups"`
}
