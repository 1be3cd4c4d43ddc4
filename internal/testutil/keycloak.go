package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Operations that can be failed or delayed on a FakeKeycloak.
const (
	OpToken              = "token"
	OpCreateClient       = "createClient"
	OpFindClients        = "findClients"
	OpCreateRole         = "createRole"
	OpGetRole            = "getRole"
	OpAssignRole         = "assignRole"
	OpGetUser            = "getUser"
	OpFindUsers          = "findUsers"
	OpCreateUser         = "createUser"
	OpCreateOrganization = "createOrganization"
	OpSearchOrganization = "searchOrganizations"
	OpAddMember          = "addMember"
	OpUserOrganizations  = "userOrganizations"
	OpUserClientMappings = "userClientMappings"
)

// FakeUser is a user known to a FakeKeycloak.
type FakeUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// FakeClient is a client stored by a FakeKeycloak.
type FakeClient struct {
	ID       string            `json:"id"`
	ClientID string            `json:"clientId"`
	Secret   string            `json:"secret,omitempty"`
	Public   bool              `json:"publicClient"`
	Attrs    map[string]string `json:"attributes,omitempty"`
	Roles    map[string]string `json:"-"` // name -> role id
}

// FakeOrganization is an organization stored by a FakeKeycloak.
type FakeOrganization struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Domains []string `json:"-"`
	Members []string `json:"-"`
}

// FakeKeycloak is an in-memory stand-in for the Keycloak admin REST API.
// The token endpoint issues HS256 JWTs and every admin call verifies the
// bearer token, so tests exercise the real password-grant path.
type FakeKeycloak struct {
	Server        *httptest.Server
	Realm         string
	AdminUser     string
	AdminPassword string

	signingKey []byte

	mu       sync.Mutex
	clients  map[string]*FakeClient // by uuid
	users    map[string]*FakeUser   // by id
	orgs     map[string]*FakeOrganization
	mappings map[string]map[string][]string // user -> client uuid -> role names
	failures map[string]int
	delays   map[string]time.Duration
	calls    map[string]int
	lastBody map[string]string
}

// NewFakeKeycloak starts a fake for realm with admin/admin credentials.
// The server is closed when the test ends.
func NewFakeKeycloak(t testing.TB, realm string) *FakeKeycloak {
	t.Helper()

	fk := &FakeKeycloak{
		Realm:         realm,
		AdminUser:     "admin",
		AdminPassword: "admin",
		signingKey:    []byte(uuid.NewString()),
		clients:       make(map[string]*FakeClient),
		users:         make(map[string]*FakeUser),
		orgs:          make(map[string]*FakeOrganization),
		mappings:      make(map[string]map[string][]string),
		failures:      make(map[string]int),
		delays:        make(map[string]time.Duration),
		calls:         make(map[string]int),
		lastBody:      make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /realms/{realm}/.well-known/openid-configuration", fk.discovery)
	mux.HandleFunc("POST /realms/master/protocol/openid-connect/token", fk.op(OpToken, fk.token))

	admin := "/admin/realms/{realm}"
	mux.HandleFunc("POST "+admin+"/clients", fk.admin(OpCreateClient, fk.createClient))
	mux.HandleFunc("GET "+admin+"/clients", fk.admin(OpFindClients, fk.findClients))
	mux.HandleFunc("POST "+admin+"/clients/{uuid}/roles", fk.admin(OpCreateRole, fk.createRole))
	mux.HandleFunc("GET "+admin+"/clients/{uuid}/roles/{name}", fk.admin(OpGetRole, fk.getRole))
	mux.HandleFunc("GET "+admin+"/users", fk.admin(OpFindUsers, fk.findUsers))
	mux.HandleFunc("POST "+admin+"/users", fk.admin(OpCreateUser, fk.createUser))
	mux.HandleFunc("GET "+admin+"/users/{id}", fk.admin(OpGetUser, fk.getUser))
	mux.HandleFunc("GET "+admin+"/users/{id}/organizations", fk.admin(OpUserOrganizations, fk.userOrganizations))
	mux.HandleFunc("GET "+admin+"/users/{id}/role-mappings/clients", fk.admin(OpUserClientMappings, fk.userClientMappings))
	mux.HandleFunc("POST "+admin+"/users/{id}/role-mappings/clients/{uuid}", fk.admin(OpAssignRole, fk.assignRole))
	mux.HandleFunc("POST "+admin+"/organizations", fk.admin(OpCreateOrganization, fk.createOrganization))
	mux.HandleFunc("GET "+admin+"/organizations", fk.admin(OpSearchOrganization, fk.searchOrganizations))
	mux.HandleFunc("POST "+admin+"/organizations/{id}/members", fk.admin(OpAddMember, fk.addMember))

	fk.Server = httptest.NewServer(mux)
	t.Cleanup(fk.Server.Close)
	return fk
}

// URL is the server base URL.
func (fk *FakeKeycloak) URL() string {
	return fk.Server.URL
}

// Fail makes every subsequent call of op answer with status.
// A status of 0 clears the failure.
func (fk *FakeKeycloak) Fail(op string, status int) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if status == 0 {
		delete(fk.failures, op)
		return
	}
	fk.failures[op] = status
}

// Delay holds every subsequent call of op for d, or until the caller gives up.
func (fk *FakeKeycloak) Delay(op string, d time.Duration) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.delays[op] = d
}

// Calls returns how many times op was invoked.
func (fk *FakeKeycloak) Calls(op string) int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.calls[op]
}

// LastBody returns the raw body of the most recent call of op.
func (fk *FakeKeycloak) LastBody(op string) string {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.lastBody[op]
}

// AddUser seeds a user and returns it.
func (fk *FakeKeycloak) AddUser(u FakeUser) FakeUser {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Username == "" {
		u.Username = strings.ToLower(u.Email)
	}
	u.Enabled = true
	fk.users[u.ID] = &u
	return u
}

// AddClient seeds an existing client and returns its uuid.
func (fk *FakeKeycloak) AddClient(clientID string) string {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	id := uuid.NewString()
	fk.clients[id] = &FakeClient{ID: id, ClientID: clientID, Roles: map[string]string{}}
	return id
}

// AddOrganization seeds an existing organization and returns its id.
func (fk *FakeKeycloak) AddOrganization(name string) string {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	id := uuid.NewString()
	fk.orgs[id] = &FakeOrganization{ID: id, Name: name}
	return id
}

// Client returns a copy of the client with the given clientId.
func (fk *FakeKeycloak) Client(clientID string) (FakeClient, bool) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	for _, c := range fk.clients {
		if c.ClientID == clientID {
			return *c, true
		}
	}
	return FakeClient{}, false
}

// ClientCount returns the number of stored clients.
func (fk *FakeKeycloak) ClientCount() int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return len(fk.clients)
}

// ClientRoles returns the sorted role names of a client.
func (fk *FakeKeycloak) ClientRoles(clientUUID string) []string {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	c, ok := fk.clients[clientUUID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(c.Roles))
	for n := range c.Roles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OrganizationCount returns the number of stored organizations.
func (fk *FakeKeycloak) OrganizationCount() int {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return len(fk.orgs)
}

// Organization returns a copy of the organization with the given id.
func (fk *FakeKeycloak) Organization(id string) (FakeOrganization, bool) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	o, ok := fk.orgs[id]
	if !ok {
		return FakeOrganization{}, false
	}
	cp := *o
	cp.Members = append([]string(nil), o.Members...)
	cp.Domains = append([]string(nil), o.Domains...)
	return cp, true
}

// RoleMappings returns the role names mapped to userID on a client.
func (fk *FakeKeycloak) RoleMappings(userID, clientUUID string) []string {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return append([]string(nil), fk.mappings[userID][clientUUID]...)
}

// User returns a copy of a stored user.
func (fk *FakeKeycloak) User(id string) (FakeUser, bool) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	u, ok := fk.users[id]
	if !ok {
		return FakeUser{}, false
	}
	return *u, true
}

// --- plumbing ---

// op wraps a handler with call counting, forced failures and delays.
func (fk *FakeKeycloak) op(name string, h func(w http.ResponseWriter, r *http.Request, body []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		fk.mu.Lock()
		fk.calls[name]++
		fk.lastBody[name] = string(body)
		status := fk.failures[name]
		delay := fk.delays[name]
		fk.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"error": fmt.Sprintf("forced %s failure", name)})
			return
		}
		h(w, r, body)
	}
}

// admin additionally checks the realm and the bearer token.
func (fk *FakeKeycloak) admin(name string, h func(w http.ResponseWriter, r *http.Request, body []byte)) http.HandlerFunc {
	inner := fk.op(name, h)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("realm") != fk.Realm {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Realm not found."})
			return
		}
		if err := fk.verifyBearer(r); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "HTTP 401 Unauthorized"})
			return
		}
		inner(w, r)
	}
}

func (fk *FakeKeycloak) verifyBearer(r *http.Request) error {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return fmt.Errorf("missing bearer token")
	}
	_, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return fk.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(fk.issuer("master")))
	return err
}

func (fk *FakeKeycloak) issuer(realm string) string {
	return fk.Server.URL + "/realms/" + realm
}

func parseForm(body []byte) (url.Values, error) {
	return url.ParseQuery(string(body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (fk *FakeKeycloak) created(w http.ResponseWriter, r *http.Request, id string) {
	w.Header().Set("Location", fk.Server.URL+strings.TrimRight(r.URL.Path, "/")+"/"+id)
	w.WriteHeader(http.StatusCreated)
}

// --- endpoints ---

func (fk *FakeKeycloak) discovery(w http.ResponseWriter, r *http.Request) {
	realm := r.PathValue("realm")
	if realm != "master" && realm != fk.Realm {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Realm does not exist"})
		return
	}
	iss := fk.issuer(realm)
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                iss,
		"authorization_endpoint":                iss + "/protocol/openid-connect/auth",
		"token_endpoint":                        iss + "/protocol/openid-connect/token",
		"userinfo_endpoint":                     iss + "/protocol/openid-connect/userinfo",
		"jwks_uri":                              iss + "/protocol/openid-connect/certs",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (fk *FakeKeycloak) token(w http.ResponseWriter, r *http.Request, body []byte) {
	form, err := parseForm(body)
	if err != nil || form.Get("grant_type") != "password" || form.Get("client_id") != "admin-cli" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if form.Get("username") != fk.AdminUser || form.Get("password") != fk.AdminPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid user credentials",
		})
		return
	}

	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": fk.issuer("master"),
		"sub": fk.AdminUser,
		"azp": "admin-cli",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}).SignedString(fk.signingKey)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   60,
	})
}

func (fk *FakeKeycloak) createClient(w http.ResponseWriter, r *http.Request, body []byte) {
	var rep struct {
		ClientID     string            `json:"clientId"`
		Secret       string            `json:"secret"`
		PublicClient bool              `json:"publicClient"`
		Attributes   map[string]string `json:"attributes"`
	}
	if err := json.Unmarshal(body, &rep); err != nil || rep.ClientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid client"})
		return
	}

	fk.mu.Lock()
	for _, c := range fk.clients {
		if c.ClientID == rep.ClientID {
			fk.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]string{
				"errorMessage": fmt.Sprintf("Client %s already exists", rep.ClientID),
			})
			return
		}
	}
	id := uuid.NewString()
	fk.clients[id] = &FakeClient{
		ID:       id,
		ClientID: rep.ClientID,
		Secret:   rep.Secret,
		Public:   rep.PublicClient,
		Attrs:    rep.Attributes,
		Roles:    map[string]string{},
	}
	fk.mu.Unlock()

	fk.created(w, r, id)
}

func (fk *FakeKeycloak) findClients(w http.ResponseWriter, r *http.Request, _ []byte) {
	want := r.URL.Query().Get("clientId")
	fk.mu.Lock()
	out := []FakeClient{}
	for _, c := range fk.clients {
		if want == "" || c.ClientID == want {
			out = append(out, *c)
		}
	}
	fk.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (fk *FakeKeycloak) createRole(w http.ResponseWriter, r *http.Request, body []byte) {
	var role struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &role); err != nil || role.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid role"})
		return
	}

	fk.mu.Lock()
	defer fk.mu.Unlock()
	c, ok := fk.clients[r.PathValue("uuid")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Could not find client"})
		return
	}
	if _, exists := c.Roles[role.Name]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "Role with name " + role.Name + " already exists"})
		return
	}
	c.Roles[role.Name] = uuid.NewString()
	w.WriteHeader(http.StatusCreated)
}

func (fk *FakeKeycloak) getRole(w http.ResponseWriter, r *http.Request, _ []byte) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	c, ok := fk.clients[r.PathValue("uuid")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Could not find client"})
		return
	}
	name := r.PathValue("name")
	id, ok := c.Roles[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Could not find role"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          id,
		"name":        name,
		"clientRole":  true,
		"containerId": c.ID,
	})
}

func (fk *FakeKeycloak) assignRole(w http.ResponseWriter, r *http.Request, body []byte) {
	var roles []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		ContainerID string `json:"containerId"`
		ClientRole  bool   `json:"clientRole"`
	}
	if err := json.Unmarshal(body, &roles); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid mapping"})
		return
	}

	fk.mu.Lock()
	defer fk.mu.Unlock()
	userID, clientUUID := r.PathValue("id"), r.PathValue("uuid")
	if _, ok := fk.users[userID]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	c, ok := fk.clients[clientUUID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Could not find client"})
		return
	}
	for _, role := range roles {
		if c.Roles[role.Name] != role.ID || role.ContainerID != clientUUID || !role.ClientRole {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Could not find role"})
			return
		}
	}
	if fk.mappings[userID] == nil {
		fk.mappings[userID] = map[string][]string{}
	}
	for _, role := range roles {
		fk.mappings[userID][clientUUID] = append(fk.mappings[userID][clientUUID], role.Name)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (fk *FakeKeycloak) getUser(w http.ResponseWriter, r *http.Request, _ []byte) {
	fk.mu.Lock()
	u, ok := fk.users[r.PathValue("id")]
	var cp FakeUser
	if ok {
		cp = *u
	}
	fk.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (fk *FakeKeycloak) findUsers(w http.ResponseWriter, r *http.Request, _ []byte) {
	email := strings.ToLower(r.URL.Query().Get("email"))
	fk.mu.Lock()
	out := []FakeUser{}
	for _, u := range fk.users {
		if email == "" || strings.ToLower(u.Email) == email {
			out = append(out, *u)
		}
	}
	fk.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (fk *FakeKeycloak) createUser(w http.ResponseWriter, r *http.Request, body []byte) {
	var u FakeUser
	if err := json.Unmarshal(body, &u); err != nil || u.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user"})
		return
	}

	fk.mu.Lock()
	defer fk.mu.Unlock()
	for _, existing := range fk.users {
		if existing.ID == u.ID || existing.Username == u.Username || strings.EqualFold(existing.Email, u.Email) {
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same username"})
			return
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	fk.users[u.ID] = &u
	fk.created(w, r, u.ID)
}

func (fk *FakeKeycloak) userOrganizations(w http.ResponseWriter, r *http.Request, _ []byte) {
	userID := r.PathValue("id")
	fk.mu.Lock()
	out := []map[string]string{}
	for _, o := range fk.orgs {
		for _, m := range o.Members {
			if m == userID {
				out = append(out, map[string]string{"id": o.ID, "name": o.Name})
			}
		}
	}
	fk.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (fk *FakeKeycloak) userClientMappings(w http.ResponseWriter, r *http.Request, _ []byte) {
	userID := r.PathValue("id")
	fk.mu.Lock()
	out := map[string]any{}
	for clientUUID, roles := range fk.mappings[userID] {
		clientID := clientUUID
		if c, ok := fk.clients[clientUUID]; ok {
			clientID = c.ClientID
		}
		out[clientID] = map[string]any{"id": clientUUID, "client": clientID, "mappings": roles}
	}
	fk.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (fk *FakeKeycloak) createOrganization(w http.ResponseWriter, r *http.Request, body []byte) {
	var rep struct {
		Name    string   `json:"name"`
		Domains []string `json:"domains"`
	}
	if err := json.Unmarshal(body, &rep); err != nil || rep.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization"})
		return
	}

	fk.mu.Lock()
	for _, o := range fk.orgs {
		if o.Name == rep.Name {
			fk.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "A organization with the same name already exists."})
			return
		}
	}
	id := uuid.NewString()
	fk.orgs[id] = &FakeOrganization{ID: id, Name: rep.Name, Domains: rep.Domains}
	fk.mu.Unlock()

	fk.created(w, r, id)
}

func (fk *FakeKeycloak) searchOrganizations(w http.ResponseWriter, r *http.Request, _ []byte) {
	q := r.URL.Query().Get("search")
	fk.mu.Lock()
	out := []map[string]any{}
	for _, o := range fk.orgs {
		if q == "" || strings.Contains(o.Name, q) {
			domains := make([]map[string]any, 0, len(o.Domains))
			for _, d := range o.Domains {
				domains = append(domains, map[string]any{"name": d, "verified": false})
			}
			out = append(out, map[string]any{"id": o.ID, "name": o.Name, "domains": domains})
		}
	}
	fk.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (fk *FakeKeycloak) addMember(w http.ResponseWriter, r *http.Request, body []byte) {
	userID := strings.Trim(strings.TrimSpace(string(body)), `"`)

	fk.mu.Lock()
	defer fk.mu.Unlock()
	o, ok := fk.orgs[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Organization not found"})
		return
	}
	if _, ok := fk.users[userID]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "User does not exist"})
		return
	}
	for _, m := range o.Members {
		if m == userID {
			writeJSON(w, http.StatusConflict, map[string]string{"errorMessage": "User is already a member of the organization."})
			return
		}
	}
	o.Members = append(o.Members, userID)
	w.WriteHeader(http.StatusCreated)
}
