package provisioning

import (
	"encoding/json"
	"time"

	"nexaauth.io/provisioner/internal/keycloak"
)

// SuccessMessage is the message of every completed run, partial or not.
const SuccessMessage = "User, organization, and client created successfully"

// Stage names, in execution order.
const (
	StageClient         = "client"
	StageRoles          = "roles"
	StageRoleAssignment = "roleAssignment"
	StageOrganization   = "organization"
	StageMembership     = "membership"
)

// Stages lists the stage names in execution order.
var Stages = []string{StageClient, StageRoles, StageRoleAssignment, StageOrganization, StageMembership}

// Status is the outcome of one stage.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	// StatusPartial is used by the roles stage when some roles failed.
	StatusPartial Status = "partial"
)

// StageResult reports one stage of a run.
type StageResult struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	// Note carries non-error detail, such as why a stage was skipped or
	// that an existing resource was reused.
	Note     string        `json:"note,omitempty"`
	Duration time.Duration `json:"-"`
}

func succeeded(note string) StageResult {
	return StageResult{Status: StatusSucceeded, Note: note}
}

func skipped(note string) StageResult {
	return StageResult{Status: StatusSkipped, Note: note}
}

func failed(err error) StageResult {
	return StageResult{Status: StatusFailed, Error: err.Error()}
}

// Result is the outcome of a provisioning run. Fields of stages that did
// not succeed are left empty and rendered as null.
type Result struct {
	Identity       Identity
	Names          Names
	Client         *keycloak.ClientInfo
	OrganizationID string
	UserExists     bool
	UserCreated    bool

	// Stage results keyed by stage name. Every name in Stages is present
	// once a run has completed.
	Stages map[string]StageResult
}

func newResult(id Identity, names Names) *Result {
	return &Result{
		Identity: id,
		Names:    names,
		Stages:   make(map[string]StageResult, len(Stages)),
	}
}

// Stage returns the result of the named stage.
func (r *Result) Stage(name string) StageResult {
	return r.Stages[name]
}

// Failed returns the names of failed or partially failed stages.
func (r *Result) Failed() []string {
	var out []string
	for _, name := range Stages {
		if s := r.Stages[name].Status; s == StatusFailed || s == StatusPartial {
			out = append(out, name)
		}
	}
	return out
}

type resultData struct {
	KeycloakID            string  `json:"keycloakId"`
	Email                 string  `json:"email"`
	ClientID              *string `json:"clientId"`
	ClientUUID            *string `json:"clientUuid"`
	ClientSecret          *string `json:"clientSecret"`
	ClientSecretRecovered bool    `json:"clientSecretRecovered,omitempty"`
	OrganizationName      string  `json:"organizationName"`
	OrganizationID        *string `json:"organizationId"`
	Domain                string  `json:"domain"`
	UserCreated           bool    `json:"userCreated,omitempty"`
}

type resultBody struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    resultData             `json:"data"`
	Stages  map[string]StageResult `json:"stages"`
}

// MarshalJSON renders the registration response body.
func (r *Result) MarshalJSON() ([]byte, error) {
	data := resultData{
		KeycloakID:       r.Identity.SubjectID,
		Email:            r.Identity.Email,
		OrganizationName: r.Names.OrganizationName,
		Domain:           r.Names.OrganizationDomain,
		UserCreated:      r.UserCreated,
	}
	if c := r.Client; c != nil {
		data.ClientID = &c.ClientID
		data.ClientUUID = &c.ClientUUID
		data.ClientSecret = &c.ClientSecret
		data.ClientSecretRecovered = c.Recovered
	}
	if r.OrganizationID != "" {
		data.OrganizationID = &r.OrganizationID
	}
	return json.Marshal(resultBody{
		Success: true,
		Message: SuccessMessage,
		Data:    data,
		Stages:  r.Stages,
	})
}
