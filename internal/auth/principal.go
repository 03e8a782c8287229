// Package auth turns token claims into capability objects that services
// consult instead of inspecting roles directly.
package auth

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

// Modules guarded by edit permissions and approval levels.
const (
	ModuleStock     = "stock"
	ModuleTransfer  = "transfer"
	ModuleStocktake = "stocktake"
	ModuleCatalog   = "catalog"
	ModuleWarehouse = "warehouse"
	ModuleAudit     = "audit"
	ModuleRole      = "role"
)

// PermissionWildcard grants every edit permission.
const PermissionWildcard = "*"

// Editor reports whether the caller may create or modify documents of a module.
type Editor interface {
	CanEdit(module string) bool
}

// Approver reports the caller's approval level for a module. Level 0 means
// no approval rights.
type Approver interface {
	ApprovalLevel(module string) int
}

// Actor is the capability bundle handed to every mutating service call.
type Actor interface {
	Editor
	Approver
	UserID() uuid.UUID
	TenantID() uuid.UUID
}

// Principal is the Actor built from a verified access token.
type Principal struct {
	User        uuid.UUID      `json:"user_id"`
	Tenant      uuid.UUID      `json:"tenant_id"`
	Username    string         `json:"username"`
	Role        string         `json:"role"`
	Permissions []string       `json:"permissions"`
	Levels      map[string]int `json:"approval_levels"`
}

var _ Actor = (*Principal)(nil)

func (p *Principal) UserID() uuid.UUID   { return p.User }
func (p *Principal) TenantID() uuid.UUID { return p.Tenant }

// CanEdit accepts either the wildcard or "<module>.write".
func (p *Principal) CanEdit(module string) bool {
	return slices.Contains(p.Permissions, PermissionWildcard) ||
		slices.Contains(p.Permissions, module+".write")
}

func (p *Principal) ApprovalLevel(module string) int {
	return p.Levels[module]
}

// System is the actor used by background jobs and the seed command.
func System(tenant uuid.UUID) *Principal {
	return &Principal{
		Tenant:      tenant,
		Username:    "system",
		Role:        "system",
		Permissions: []string{PermissionWildcard},
		Levels: map[string]int{
			ModuleStock: 99, ModuleTransfer: 99, ModuleStocktake: 99,
		},
	}
}

type actorKey struct{}

// WithActor stores the actor on a request context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// FromContext returns the actor placed by WithActor.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
