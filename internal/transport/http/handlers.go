package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/chorus-chat/chorus/internal/audit"
	"github.com/chorus-chat/chorus/internal/member"
	"github.com/chorus-chat/chorus/internal/observability/logger"
	"github.com/chorus-chat/chorus/internal/permission"
	"github.com/chorus-chat/chorus/internal/resolver"
	"github.com/chorus-chat/chorus/internal/role"
	"github.com/chorus-chat/chorus/internal/sweeper"
	"github.com/chorus-chat/chorus/internal/tenant"
)

// DefaultRoleName is the name every tenant's default role is provisioned
// with. The default role is never renamed.
const DefaultRoleName = "everyone"

// ActivityRecorder ingests activity reports from the message plane.
type ActivityRecorder interface {
	Record(ctx context.Context, tenantID, userID string, delta int64) error
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	roles       *role.Service
	members     *member.Service
	resolver    *resolver.Resolver
	evaluator   *sweeper.Evaluator
	tenants     tenant.Repository
	memberships tenant.MemberRepository
	activity    ActivityRecorder
	auditLogger audit.Logger
	jwtSecret   []byte
	jwtIssuer   string
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	roles *role.Service,
	members *member.Service,
	res *resolver.Resolver,
	evaluator *sweeper.Evaluator,
	tenants tenant.Repository,
	memberships tenant.MemberRepository,
	activity ActivityRecorder,
	auditLogger audit.Logger,
	authConfig AuthConfig,
) *Handler {
	return &Handler{
		roles:       roles,
		members:     members,
		resolver:    res,
		evaluator:   evaluator,
		tenants:     tenants,
		memberships: memberships,
		activity:    activity,
		auditLogger: auditLogger,
		jwtSecret:   []byte(authConfig.JWTSecret),
		jwtIssuer:   authConfig.JWTIssuer,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Post("/tenants", h.CreateTenant)

			r.Route("/tenants/{tenantID}", func(r chi.Router) {
				r.Get("/", h.GetTenant)

				r.Post("/members", h.AddMember)
				r.Delete("/members/{userID}", h.RemoveMember)

				r.Get("/roles", h.ListRoles)
				r.Post("/roles", h.CreateRole)
				r.Route("/roles/{roleID}", func(r chi.Router) {
					r.Get("/", h.GetRole)
					r.Patch("/", h.UpdateRole)
					r.Delete("/", h.DeleteRole)
					r.Put("/position", h.ReorderRole)
					r.Put("/overrides/{channelID}", h.SetChannelOverride)
				})

				r.Route("/members/{userID}/roles", func(r chi.Router) {
					r.Post("/", h.AssignRole)
					r.Delete("/{roleID}", h.RevokeRole)
				})
				r.Get("/members/{userID}/permissions", h.ResolvePermissions)
				r.Post("/members/{userID}/activity", h.RecordActivity)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "chorus",
	})
}

// CreateTenantRequest carries a new tenant's settings. The acting user
// becomes the tenant owner.
type CreateTenantRequest struct {
	Name string `json:"name"`
}

// CreateTenant provisions a tenant: the tenant row, the owner's
// membership, and the default role at the bottom of the hierarchy.
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "tenant name is required")
		return
	}

	actorID := GetActorID(r.Context())
	t := &tenant.Tenant{
		ID:      uuid.Must(uuid.NewV7()).String(),
		Name:    req.Name,
		OwnerID: actorID,
		Status:  tenant.StatusActive,
	}
	if err := h.tenants.Create(r.Context(), t); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if err := h.memberships.Add(r.Context(), &tenant.Member{TenantID: t.ID, UserID: actorID}); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if _, err := h.roles.EnsureDefaultRole(r.Context(), t.ID, DefaultRoleName, permission.MemberDefaults); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, t)
}

// GetTenant returns a tenant.
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.tenants.GetByID(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// AddMemberRequest identifies the joining user.
type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

// AddMember records a membership and fires the on-join auto-assignment
// rules. The platform gateway calls this when a user joins a server.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.memberships.Add(r.Context(), &tenant.Member{TenantID: tenantID, UserID: req.UserID}); err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:     audit.TypeMemberJoined,
		TenantID: tenantID,
		ActorID:  GetActorID(r.Context()),
		Resource: req.UserID,
	})

	if err := h.evaluator.HandleMemberJoined(r.Context(), tenantID, req.UserID); err != nil {
		// Membership is already durable; rule evaluation failures are
		// retried by the next sweep.
		slog.ErrorContext(r.Context(), "on-join rule evaluation failed",
			logger.TenantID(tenantID),
			logger.UserID(req.UserID),
			logger.Error(err),
		)
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"tenant_id": tenantID,
		"user_id":   req.UserID,
	})
}

// RemoveMember deletes a membership row along with every role
// assignment the member held, so a later rejoin starts from the
// default grant alone.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	userID := chi.URLParam(r, "userID")

	if !h.requirePermission(w, r, tenantID, permission.KickMembers) {
		return
	}

	if err := h.memberships.Remove(r.Context(), tenantID, userID); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	if err := h.members.Leave(r.Context(), GetActorID(r.Context()), tenantID, userID); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRoles returns a tenant's roles ordered by position.
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	graph, err := h.roles.Graph(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"roles": graph.Roles()})
}

// GetRole returns a single role with its channel overrides.
func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	graph, err := h.roles.Graph(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	rl, ok := graph.ByID(chi.URLParam(r, "roleID"))
	if !ok {
		respondError(w, http.StatusNotFound, "role not found")
		return
	}
	respondJSON(w, http.StatusOK, rl)
}

// AutoAssignPayload mirrors role.AutoAssignRule on the wire, with the
// elapsed trigger's duration in seconds.
type AutoAssignPayload struct {
	Trigger           string `json:"trigger"`
	AfterSeconds      int64  `json:"after_seconds,omitempty"`
	ActivityThreshold int64  `json:"activity_threshold,omitempty"`
}

// TemporaryPayload mirrors role.TemporaryGrant on the wire.
type TemporaryPayload struct {
	DurationSeconds int64 `json:"duration_seconds"`
	AutoRemove      bool  `json:"auto_remove"`
}

// CreateRoleRequest carries a new role's settings. Permissions are flag
// names; position zero appends at the top of the hierarchy.
type CreateRoleRequest struct {
	Name        string             `json:"name"`
	Color       string             `json:"color,omitempty"`
	Icon        string             `json:"icon,omitempty"`
	Position    *int               `json:"position,omitempty"`
	Permissions []string           `json:"permissions"`
	Mentionable bool               `json:"mentionable,omitempty"`
	Hoist       bool               `json:"hoist,omitempty"`
	AutoAssign  *AutoAssignPayload `json:"auto_assign,omitempty"`
	Temporary   *TemporaryPayload  `json:"temporary,omitempty"`
}

// CreateRole creates a role in a tenant.
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req CreateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.requirePermission(w, r, tenantID, permission.ManageRoles) {
		return
	}

	rl, err := h.roles.CreateRole(r.Context(), GetActorID(r.Context()), tenantID, role.CreateInput{
		Name:        req.Name,
		Color:       req.Color,
		Icon:        req.Icon,
		Position:    req.Position,
		Permissions: permission.FromNames(req.Permissions),
		Mentionable: req.Mentionable,
		Hoist:       req.Hoist,
		AutoAssign:  req.AutoAssign.toRule(),
		Temporary:   req.Temporary.toGrant(),
	})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rl)
}

// UpdateRoleRequest carries partial role updates. Absent fields are left
// unchanged; explicit nulls on auto_assign and temporary clear them.
type UpdateRoleRequest struct {
	Name        *string   `json:"name,omitempty"`
	Color       *string   `json:"color,omitempty"`
	Icon        *string   `json:"icon,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
	Mentionable *bool     `json:"mentionable,omitempty"`
	Hoist       *bool     `json:"hoist,omitempty"`

	AutoAssign     *AutoAssignPayload `json:"auto_assign,omitempty"`
	ClearAuto      bool               `json:"clear_auto_assign,omitempty"`
	Temporary      *TemporaryPayload  `json:"temporary,omitempty"`
	ClearTemporary bool               `json:"clear_temporary,omitempty"`
}

// UpdateRole mutates a role's fields.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	roleID := chi.URLParam(r, "roleID")

	var req UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.requirePermission(w, r, tenantID, permission.ManageRoles) {
		return
	}

	input := role.UpdateInput{
		Name:            req.Name,
		Color:           req.Color,
		Icon:            req.Icon,
		Mentionable:     req.Mentionable,
		Hoist:           req.Hoist,
		AutoAssign:      req.AutoAssign.toRule(),
		ClearAutoAssign: req.ClearAuto,
		Temporary:       req.Temporary.toGrant(),
		ClearTemporary:  req.ClearTemporary,
	}
	if req.Permissions != nil {
		perms := permission.FromNames(*req.Permissions)
		input.Permissions = &perms
	}

	rl, err := h.roles.UpdateRole(r.Context(), GetActorID(r.Context()), tenantID, roleID, input)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rl)
}

// DeleteRole removes a role and every assignment of it.
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	if !h.requirePermission(w, r, tenantID, permission.ManageRoles) {
		return
	}

	if err := h.roles.DeleteRole(r.Context(), GetActorID(r.Context()), tenantID, chi.URLParam(r, "roleID")); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReorderRoleRequest carries the target position.
type ReorderRoleRequest struct {
	Position int `json:"position"`
}

// ReorderRole moves a role to a new hierarchy position.
func (h *Handler) ReorderRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req ReorderRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.requirePermission(w, r, tenantID, permission.ManageRoles) {
		return
	}

	if err := h.roles.ReorderRole(r.Context(), GetActorID(r.Context()), tenantID, chi.URLParam(r, "roleID"), req.Position); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OverrideRequest carries a channel override's allow and deny flag names.
// Empty lists on both sides clear the override.
type OverrideRequest struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// SetChannelOverride replaces a role's override for one channel.
func (h *Handler) SetChannelOverride(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !h.requirePermission(w, r, tenantID, permission.ManageRoles) {
		return
	}

	err := h.roles.SetChannelOverride(r.Context(), GetActorID(r.Context()), tenantID, chi.URLParam(r, "roleID"), role.ChannelOverride{
		ChannelID: chi.URLParam(r, "channelID"),
		Allow:     permission.FromNames(req.Allow),
		Deny:      permission.FromNames(req.Deny),
	})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AssignRoleRequest identifies the role to grant.
type AssignRoleRequest struct {
	RoleID string `json:"role_id"`
}

// AssignRole grants a role to a member.
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	userID := chi.URLParam(r, "userID")

	var req AssignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoleID == "" {
		respondError(w, http.StatusBadRequest, "role_id is required")
		return
	}

	if !h.requirePermission(w, r, tenantID, permission.ManageRoles) {
		return
	}

	a, err := h.members.Assign(r.Context(), GetActorID(r.Context()), tenantID, userID, req.RoleID, member.AssignOptions{})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

// RevokeRole removes a role from a member.
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	if !h.requirePermission(w, r, tenantID, permission.ManageRoles) {
		return
	}

	err := h.members.Revoke(r.Context(), GetActorID(r.Context()), tenantID,
		chi.URLParam(r, "userID"), chi.URLParam(r, "roleID"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolvePermissions computes a member's effective permissions, tenant
// wide or for one channel when channel_id is given.
func (h *Handler) ResolvePermissions(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	userID := chi.URLParam(r, "userID")
	channelID := r.URL.Query().Get("channel_id")

	decision, err := h.resolver.Resolve(r.Context(), userID, tenantID, channelID)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tenant_id":     tenantID,
		"user_id":       userID,
		"channel_id":    channelID,
		"permissions":   decision.Permissions.Names(),
		"is_owner":      decision.IsOwner,
		"administrator": decision.IsAdministrator,
	})
}

// RecordActivityRequest carries an activity delta; omitted means one
// message.
type RecordActivityRequest struct {
	Delta int64 `json:"delta,omitempty"`
}

// RecordActivity bumps a member's activity counter. The message plane
// reports batches here; activity-threshold rules read the running total.
func (h *Handler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	userID := chi.URLParam(r, "userID")

	var req RecordActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Delta == 0 {
		req.Delta = 1
	}
	if req.Delta < 0 {
		respondError(w, http.StatusBadRequest, "delta must be positive")
		return
	}

	if err := h.activity.Record(r.Context(), tenantID, userID, req.Delta); err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// requirePermission resolves the acting user's tenant-wide permissions
// and rejects the request when the needed flag is missing. Hierarchy
// rules are enforced a layer down, in the services.
func (h *Handler) requirePermission(w http.ResponseWriter, r *http.Request, tenantID string, needed permission.Set) bool {
	actorID := GetActorID(r.Context())
	decision, err := h.resolver.Resolve(r.Context(), actorID, tenantID, "")
	if err != nil {
		h.respondDomainError(w, r, err)
		return false
	}
	if !decision.Allows(needed) {
		respondError(w, http.StatusForbidden, "missing required permission: "+needed.String())
		return false
	}
	return true
}

func (p *AutoAssignPayload) toRule() *role.AutoAssignRule {
	if p == nil {
		return nil
	}
	return &role.AutoAssignRule{
		Trigger:           role.AutoAssignTrigger(p.Trigger),
		After:             time.Duration(p.AfterSeconds) * time.Second,
		ActivityThreshold: p.ActivityThreshold,
	}
}

func (p *TemporaryPayload) toGrant() *role.TemporaryGrant {
	if p == nil {
		return nil
	}
	return &role.TemporaryGrant{
		Duration:   time.Duration(p.DurationSeconds) * time.Second,
		AutoRemove: p.AutoRemove,
	}
}

// respondDomainError maps domain errors onto HTTP statuses.
func (h *Handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, role.ErrRoleNotFound),
		errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, tenant.ErrMemberNotFound),
		errors.Is(err, member.ErrNotAssigned):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, role.ErrDuplicateName),
		errors.Is(err, member.ErrAlreadyAssigned):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, role.ErrHierarchyViolation),
		errors.Is(err, role.ErrCannotDeleteDefaultRole),
		errors.Is(err, role.ErrCannotEditDefaultRole),
		errors.Is(err, member.ErrCannotRevokeDefaultRole):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, role.ErrInvalidPosition):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed",
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
