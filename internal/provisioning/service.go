package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"nexaauth.io/provisioner/internal/keycloak"
	"nexaauth.io/provisioner/internal/pkg/logger"
)

var (
	// ErrUserNotFound is returned when an operation requires an existing
	// Keycloak user and there is none.
	ErrUserNotFound = errors.New("provisioning: user not found in keycloak")

	// ErrUserCreateFailed is returned when the user could not be created
	// ahead of provisioning.
	ErrUserCreateFailed = errors.New("provisioning: could not create user in keycloak")
)

// TokenProvider issues admin tokens.
type TokenProvider interface {
	AdminToken(ctx context.Context) (string, error)
}

// AdminAPI is the subset of the Keycloak admin API the workflow uses.
type AdminAPI interface {
	EnsureClient(ctx context.Context, token, clientID string) (keycloak.ClientInfo, error)
	EnsureRoles(ctx context.Context, token, clientUUID string, names []string) map[string]error
	UserExists(ctx context.Context, token, userID string) (bool, error)
	GetClientRole(ctx context.Context, token, clientUUID, name string) (keycloak.Role, error)
	AssignClientRole(ctx context.Context, token, userID, clientUUID string, role keycloak.Role) error
	EnsureOrganization(ctx context.Context, token, name, domain string) (string, error)
	AddMember(ctx context.Context, token, orgID, userID string) error

	FindUserByEmail(ctx context.Context, token, email string) (*keycloak.User, error)
	CreateUser(ctx context.Context, token string, user keycloak.NewUser) error
	GetUser(ctx context.Context, token, userID string) (json.RawMessage, error)
	UserOrganizations(ctx context.Context, token, userID string) (json.RawMessage, error)
	UserClientRoleMappings(ctx context.Context, token, userID string) (json.RawMessage, error)
}

// AuditLogger records completed runs. Failures to record are logged and
// never fail a run.
type AuditLogger interface {
	LogAction(ctx context.Context, action, resourceType, resourceID, actor string, details map[string]interface{}) error
}

// Deps are the collaborators of a Service. Metrics and Audit are optional.
type Deps struct {
	Tokens  TokenProvider
	API     AdminAPI
	Metrics *Metrics
	Audit   AuditLogger
}

// Options tune the workflow.
type Options struct {
	// StageTimeout bounds each stage independently.
	StageTimeout time.Duration
	// DefaultRoles are created on every tenant client.
	DefaultRoles []string
	// AdminRole is assigned to the subject. It must be one of DefaultRoles.
	AdminRole string
	// DefaultUserPassword is the credential of users created by
	// ProvisionWithUser.
	DefaultUserPassword string
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		StageTimeout:        15 * time.Second,
		DefaultRoles:        []string{"orgAdmin", "organizer", "user"},
		AdminRole:           "orgAdmin",
		DefaultUserPassword: "testpassword123",
	}
}

// Service runs provisioning workflows. It holds no per-run state and is
// safe for concurrent use; concurrent runs for the same identity converge
// through reconciliation at the Keycloak boundary.
type Service struct {
	tokens  TokenProvider
	api     AdminAPI
	metrics *Metrics
	audit   AuditLogger
	opts    Options
	policy  *bluemonday.Policy
}

// NewService creates a Service.
func NewService(deps Deps, opts Options) *Service {
	def := DefaultOptions()
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = def.StageTimeout
	}
	if len(opts.DefaultRoles) == 0 {
		opts.DefaultRoles = def.DefaultRoles
	}
	if opts.AdminRole == "" {
		opts.AdminRole = def.AdminRole
	}
	if opts.DefaultUserPassword == "" {
		opts.DefaultUserPassword = def.DefaultUserPassword
	}
	return &Service{
		tokens:  deps.Tokens,
		api:     deps.API,
		metrics: deps.Metrics,
		audit:   deps.Audit,
		opts:    opts,
		policy:  bluemonday.StrictPolicy(),
	}
}

// Provision runs the workflow for id. Only a validation failure or an
// admin authentication failure is returned as an error; every later
// failure is recorded in the Result and the run continues.
func (s *Service) Provision(ctx context.Context, id Identity) (*Result, error) {
	return s.provision(ctx, "provision", id, nil)
}

// ProvisionExisting provisions id only if the user already exists in
// Keycloak, returning ErrUserNotFound otherwise.
func (s *Service) ProvisionExisting(ctx context.Context, id Identity) (*Result, error) {
	return s.provision(ctx, "provision_existing", id, func(ctx context.Context, token string, _ *Result) error {
		ok, err := s.api.UserExists(ctx, token, id.SubjectID)
		if err != nil {
			logger.FromContext(ctx).Warn("User existence check failed", zap.String("keycloak_id", id.SubjectID), zap.Error(err))
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id.SubjectID)
		}
		return nil
	})
}

// ProvisionWithUser creates the Keycloak user for id when it does not
// exist yet, then provisions it.
func (s *Service) ProvisionWithUser(ctx context.Context, id Identity) (*Result, error) {
	return s.provision(ctx, "provision_with_user", id, func(ctx context.Context, token string, res *Result) error {
		log := logger.FromContext(ctx)

		ok, err := s.api.UserExists(ctx, token, id.SubjectID)
		if err != nil {
			log.Warn("User existence check failed", zap.String("keycloak_id", id.SubjectID), zap.Error(err))
		}
		if ok {
			return nil
		}

		if err := s.api.CreateUser(ctx, token, s.newUser(id)); err != nil {
			log.Error("Failed to create user in Keycloak", zap.String("keycloak_id", id.SubjectID), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrUserCreateFailed, err)
		}
		res.UserCreated = true
		log.Info("Created user in Keycloak", zap.String("keycloak_id", id.SubjectID))
		return nil
	})
}

// ProvisionByEmail looks the user up by email and provisions it under its
// Keycloak id and names. A failed lookup returns ErrUserNotFound.
func (s *Service) ProvisionByEmail(ctx context.Context, email string) (*Result, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		s.metrics.observeRun(RunRejected, 0)
		return nil, fmt.Errorf("%w: missing email", ErrValidation)
	}

	token, err := s.adminToken(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	user, err := s.api.FindUserByEmail(ctx, token, email)
	if errors.Is(err, keycloak.ErrNotFound) {
		return nil, fmt.Errorf("%w: no user with email %s", ErrUserNotFound, email)
	}
	if err != nil {
		// Any lookup failure reads as an unknown user, like a 404.
		logger.FromContext(ctx).Warn("User lookup by email failed", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("%w: lookup of %s failed: %v", ErrUserNotFound, email, err)
	}

	return s.Provision(ctx, Identity{
		SubjectID: user.ID,
		Email:     lo.Ternary(user.Email != "", user.Email, email),
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
}

// UserDetails returns the raw Keycloak user.
func (s *Service) UserDetails(ctx context.Context, userID string) (json.RawMessage, error) {
	return s.read(ctx, userID, s.api.GetUser)
}

// UserOrganizations returns the raw organizations of a user.
func (s *Service) UserOrganizations(ctx context.Context, userID string) (json.RawMessage, error) {
	return s.read(ctx, userID, s.api.UserOrganizations)
}

// UserClientRoles returns the raw client role mappings of a user.
func (s *Service) UserClientRoles(ctx context.Context, userID string) (json.RawMessage, error) {
	return s.read(ctx, userID, s.api.UserClientRoleMappings)
}

func (s *Service) read(ctx context.Context, userID string, fn func(ctx context.Context, token, userID string) (json.RawMessage, error)) (json.RawMessage, error) {
	token, err := s.tokens.AdminToken(ctx)
	if err != nil {
		return nil, err
	}
	return fn(ctx, token, userID)
}

// precondition runs after the admin token is acquired and before any stage.
// A returned error aborts the run.
type precondition func(ctx context.Context, token string, res *Result) error

func (s *Service) provision(ctx context.Context, action string, id Identity, pre precondition) (*Result, error) {
	start := time.Now()

	if err := id.Validate(); err != nil {
		s.metrics.observeRun(RunRejected, time.Since(start))
		return nil, err
	}

	names := Derive(id)
	log := logger.FromContext(ctx).With(
		zap.String("keycloak_id", id.SubjectID),
		zap.String("client_id", names.ClientID),
		zap.String("org_name", names.OrganizationName),
	)
	ctx = logger.NewContext(ctx, log)
	log.Info("Provisioning started", zap.String("action", action))

	token, err := s.adminToken(ctx, start)
	if err != nil {
		return nil, err
	}

	res := newResult(id, names)
	if pre != nil {
		if err := pre(ctx, token, res); err != nil {
			s.metrics.observeRun(RunRejected, time.Since(start))
			return nil, err
		}
	}

	s.runStages(ctx, token, res)

	outcome := RunComplete
	if len(res.Failed()) > 0 {
		outcome = RunPartial
	}
	s.metrics.observeRun(outcome, time.Since(start))
	s.record(ctx, action, res)

	log.Info("Provisioning finished",
		zap.String("result", outcome),
		zap.Strings("failed_stages", res.Failed()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (s *Service) adminToken(ctx context.Context, start time.Time) (string, error) {
	token, err := s.tokens.AdminToken(ctx)
	if err != nil {
		logger.FromContext(ctx).Error("Admin authentication failed; aborting", zap.Error(err))
		s.metrics.observeRun(RunAuthFailed, time.Since(start))
		return "", err
	}
	return token, nil
}

// runStages executes the stages in order. Each stage gets its own timeout
// and a failure only affects the stages that depend on its output.
func (s *Service) runStages(ctx context.Context, token string, res *Result) {
	id, names := res.Identity, res.Names

	// Client.
	client := stage(ctx, s, res, StageClient, func(ctx context.Context) (keycloak.ClientInfo, string, error) {
		info, err := s.api.EnsureClient(ctx, token, names.ClientID)
		return info, lo.Ternary(info.Recovered, "existing client reused; secret is a placeholder", ""), err
	})
	if client != nil {
		res.Client = client
	}

	// Roles.
	if client == nil {
		s.skip(ctx, res, StageRoles, "client unavailable")
	} else {
		s.rolesStage(ctx, token, res, client.ClientUUID)
	}

	// The existence check is shared by role assignment and membership.
	exists, existsNote := s.userExists(ctx, token, id.SubjectID)
	res.UserExists = exists

	// Role assignment.
	switch {
	case client == nil:
		s.skip(ctx, res, StageRoleAssignment, "client unavailable")
	case !exists:
		s.skip(ctx, res, StageRoleAssignment, existsNote)
	default:
		stage(ctx, s, res, StageRoleAssignment, func(ctx context.Context) (struct{}, string, error) {
			role, err := s.api.GetClientRole(ctx, token, client.ClientUUID, s.opts.AdminRole)
			if err != nil {
				return struct{}{}, "", err
			}
			return struct{}{}, "assigned " + role.Name, s.api.AssignClientRole(ctx, token, id.SubjectID, client.ClientUUID, role)
		})
	}

	// Organization.
	orgID := stage(ctx, s, res, StageOrganization, func(ctx context.Context) (string, string, error) {
		oid, err := s.api.EnsureOrganization(ctx, token, names.OrganizationName, names.OrganizationDomain)
		return oid, "", err
	})
	if orgID != nil {
		res.OrganizationID = *orgID
	}

	// Membership.
	switch {
	case orgID == nil:
		s.skip(ctx, res, StageMembership, "organization unavailable")
	case !exists:
		s.skip(ctx, res, StageMembership, existsNote)
	default:
		stage(ctx, s, res, StageMembership, func(ctx context.Context) (struct{}, string, error) {
			return struct{}{}, "", s.api.AddMember(ctx, token, *orgID, id.SubjectID)
		})
	}
}

// stage runs fn under the stage timeout and records its result. It returns
// the value on success and nil otherwise.
func stage[T any](ctx context.Context, s *Service, res *Result, name string, fn func(ctx context.Context) (T, string, error)) *T {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	defer cancel()

	start := time.Now()
	v, note, err := fn(ctx)

	var sr StageResult
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("stage timed out after %s: %w", s.opts.StageTimeout, err)
		}
		sr = failed(err)
	} else {
		sr = succeeded(note)
	}
	s.finish(ctx, res, name, sr, time.Since(start))

	if err != nil {
		return nil
	}
	return &v
}

func (s *Service) rolesStage(ctx context.Context, token string, res *Result, clientUUID string) {
	sctx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	defer cancel()

	start := time.Now()
	failures := s.api.EnsureRoles(sctx, token, clientUUID, s.opts.DefaultRoles)

	var sr StageResult
	switch {
	case len(failures) == 0:
		sr = succeeded("")
	default:
		names := lo.Keys(failures)
		slices.Sort(names)
		msgs := lo.Map(names, func(n string, _ int) string {
			return n + ": " + failures[n].Error()
		})
		sr = StageResult{Status: StatusFailed, Error: strings.Join(msgs, "; ")}
		if len(failures) < len(lo.Uniq(s.opts.DefaultRoles)) {
			sr.Status = StatusPartial
		}
	}
	s.finish(ctx, res, StageRoles, sr, time.Since(start))
}

// userExists reports whether the subject exists. A failed check counts as
// absent; the note says why.
func (s *Service) userExists(ctx context.Context, token, userID string) (bool, string) {
	sctx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	defer cancel()

	ok, err := s.api.UserExists(sctx, token, userID)
	if err != nil {
		logger.FromContext(ctx).Warn("User existence check failed; treating user as absent", zap.Error(err))
		return false, "user existence check failed: " + err.Error()
	}
	if !ok {
		return false, "user does not exist in keycloak"
	}
	return true, ""
}

func (s *Service) skip(ctx context.Context, res *Result, name, note string) {
	s.finish(ctx, res, name, skipped(note), 0)
}

func (s *Service) finish(ctx context.Context, res *Result, name string, sr StageResult, elapsed time.Duration) {
	sr.Duration = elapsed
	res.Stages[name] = sr
	s.metrics.observeStage(name, sr.Status)

	log := logger.FromContext(ctx)
	fields := []zap.Field{
		zap.String("stage", name),
		zap.String("status", string(sr.Status)),
		zap.Duration("elapsed", elapsed),
	}
	switch sr.Status {
	case StatusFailed, StatusPartial:
		log.Warn("Provisioning stage failed", append(fields, zap.String("error", sr.Error))...)
	case StatusSkipped:
		log.Warn("Provisioning stage skipped", append(fields, zap.String("reason", sr.Note))...)
	default:
		log.Debug("Provisioning stage succeeded", fields...)
	}
}

func (s *Service) record(ctx context.Context, action string, res *Result) {
	if s.audit == nil {
		return
	}
	details := map[string]interface{}{
		"email":             res.Identity.Email,
		"client_id":         res.Names.ClientID,
		"organization_name": res.Names.OrganizationName,
		"organization_id":   res.OrganizationID,
		"user_created":      res.UserCreated,
		"failed_stages":     res.Failed(),
	}
	if res.Client != nil {
		details["client_uuid"] = res.Client.ClientUUID
	}
	stages := make(map[string]string, len(res.Stages))
	for name, sr := range res.Stages {
		stages[name] = string(sr.Status)
	}
	details["stages"] = stages

	if err := s.audit.LogAction(ctx, "tenant."+action, "tenant", res.Names.ClientID, res.Identity.SubjectID, details); err != nil {
		logger.FromContext(ctx).Warn("Failed to record provisioning audit entry", zap.Error(err))
	}
}

// plainText strips markup from a display name. The policy escapes what it
// keeps, so entities are decoded again before the name reaches Keycloak.
func (s *Service) plainText(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

var usernameStrip = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// newUser builds the payload for an auto-created user.
func (s *Service) newUser(id Identity) keycloak.NewUser {
	local, _, _ := strings.Cut(id.Email, "@")
	first := s.plainText(id.FirstName)
	last := s.plainText(id.LastName)

	return keycloak.NewUser{
		User: keycloak.User{
			ID:            id.SubjectID,
			Username:      strings.ToLower(usernameStrip.ReplaceAllString(local, "")),
			Email:         id.Email,
			FirstName:     lo.Ternary(first != "", first, "Test"),
			LastName:      lo.Ternary(last != "", last, "User"),
			Enabled:       true,
			EmailVerified: true,
		},
		Credentials: []keycloak.Credential{{
			Type:      "password",
			Value:     s.opts.DefaultUserPassword,
			Temporary: false,
		}},
	}
}
