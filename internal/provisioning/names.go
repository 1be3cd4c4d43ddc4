// Package provisioning runs the tenant provisioning workflow: derive names
// from an identity, then ensure the tenant client, its roles, the role
// assignment, the organization and the membership in Keycloak.
package provisioning

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrValidation is returned when an Identity lacks a required field.
var ErrValidation = errors.New("provisioning: invalid identity")

const defaultEmailDomain = "example.com"

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]`)
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Identity is the subject to provision.
type Identity struct {
	SubjectID string `json:"keycloakId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Validate checks the required fields.
func (id Identity) Validate() error {
	var missing []string
	if strings.TrimSpace(id.SubjectID) == "" {
		missing = append(missing, "keycloakId")
	}
	if strings.TrimSpace(id.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Names are the resource names derived from an Identity.
type Names struct {
	NamePart           string `json:"namePart"`
	DomainPart         string `json:"domainPart"`
	ClientID           string `json:"clientId"`
	OrganizationName   string `json:"organizationName"`
	OrganizationDomain string `json:"organizationDomain"`
}

// Derive computes the tenant resource names. It performs no I/O and never
// fails; the name part falls back to the email local part when the given
// and family names sanitize to nothing.
func Derive(id Identity) Names {
	email := strings.ToLower(strings.TrimSpace(id.Email))

	local, rest, ok := strings.Cut(email, "@")
	// Only the segment between the first and second "@" is the domain.
	domain, _, _ := strings.Cut(rest, "@")
	if !ok || domain == "" {
		domain = defaultEmailDomain
	}

	namePart := Sanitize(id.FirstName) + Sanitize(id.LastName)
	if namePart == "" {
		namePart = Sanitize(local)
	}

	label, _, _ := strings.Cut(domain, ".")
	domainPart := nonAlnumRe.ReplaceAllString(label, "")

	orgName := SanitizeOrgName("org-" + domainPart + "-" + namePart)
	return Names{
		NamePart:           namePart,
		DomainPart:         domainPart,
		ClientID:           "client-" + domainPart + "-" + namePart,
		OrganizationName:   orgName,
		OrganizationDomain: orgName + ".org",
	}
}

// Sanitize lowercases s and drops everything outside [a-z0-9].
func Sanitize(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

// SanitizeOrgName replaces whitespace runs with a hyphen and lowercases.
func SanitizeOrgName(s string) string {
	return strings.ToLower(whitespace.ReplaceAllString(s, "-"))
}
