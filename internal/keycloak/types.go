package keycloak

// ClientRepresentation is the subset of a Keycloak client used here.
type ClientRepresentation struct {
	ID                        string            `json:"id,omitempty"`
	ClientID                  string            `json:"clientId"`
	Enabled                   bool              `json:"enabled"`
	Protocol                  string            `json:"protocol,omitempty"`
	Secret                    string            `json:"secret,omitempty"`
	ServiceAccountsEnabled    bool              `json:"serviceAccountsEnabled"`
	StandardFlowEnabled       bool              `json:"standardFlowEnabled"`
	ImplicitFlowEnabled       bool              `json:"implicitFlowEnabled"`
	DirectAccessGrantsEnabled bool              `json:"directAccessGrantsEnabled"`
	PublicClient              bool              `json:"publicClient"`
	RedirectURIs              []string          `json:"redirectUris,omitempty"`
	WebOrigins                []string          `json:"webOrigins,omitempty"`
	Attributes                map[string]string `json:"attributes,omitempty"`
}

// ClientInfo identifies a provisioned tenant client.
type ClientInfo struct {
	ClientID     string `json:"clientId"`
	ClientUUID   string `json:"clientUuid"`
	ClientSecret string `json:"clientSecret"`

	// Recovered is set when the client already existed. ClientSecret is then
	// a placeholder: Keycloak does not hand back the secret issued earlier.
	Recovered bool `json:"clientSecretRecovered,omitempty"`
}

// Role is a client role.
type Role struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ClientRole  bool   `json:"clientRole,omitempty"`
	ContainerID string `json:"containerId,omitempty"`
}

// User is the subset of a Keycloak user used here.
type User struct {
	ID            string `json:"id,omitempty"`
	Username      string `json:"username,omitempty"`
	Email         string `json:"email,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	Enabled       bool   `json:"enabled"`
	EmailVerified bool   `json:"emailVerified"`
}

// Credential is a user credential in a create-user payload.
type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// NewUser is a create-user payload.
type NewUser struct {
	User
	Credentials []Credential `json:"credentials,omitempty"`
}

// Organization is a Keycloak organization.
type Organization struct {
	ID         string              `json:"id,omitempty"`
	Name       string              `json:"name"`
	Domains    []string            `json:"domains,omitempty"`
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// OrganizationSummary is an organization search hit. Domains are omitted
// because search results carry them as objects.
type OrganizationSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
