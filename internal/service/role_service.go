package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"stockledger/internal/auth"
	"stockledger/internal/model"
	"stockledger/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoleDefinition is a seeded role: its edit permissions and approval levels.
type RoleDefinition struct {
	Name        string
	Description string
	PermCodes   []string
	Levels      map[string]int
}

var defaultPermissions = []model.Permission{
	{Code: auth.ModuleStock + ".write", Name: "Create import/export documents and adjust stock", Group: auth.ModuleStock},
	{Code: auth.ModuleTransfer + ".write", Name: "Create, dispatch and receive transfers", Group: auth.ModuleTransfer},
	{Code: auth.ModuleStocktake + ".write", Name: "Create stocktakes and enter counts", Group: auth.ModuleStocktake},
	{Code: auth.ModuleCatalog + ".write", Name: "Manage products and combos", Group: auth.ModuleCatalog},
	{Code: auth.ModuleWarehouse + ".write", Name: "Manage warehouses", Group: auth.ModuleWarehouse},
	{Code: auth.ModuleAudit + ".read", Name: "Read the audit log", Group: auth.ModuleAudit},
	{Code: auth.ModuleRole + ".write", Name: "Manage roles and approval levels", Group: auth.ModuleRole},
}

// DefaultRoles are created by SeedDefaults. Levels are compared against the
// configured approval threshold.
var DefaultRoles = []RoleDefinition{
	{
		Name:        "admin",
		Description: "Full access",
		PermCodes:   []string{auth.PermissionWildcard},
		Levels:      map[string]int{auth.ModuleStock: 3, auth.ModuleTransfer: 3, auth.ModuleStocktake: 3},
	},
	{
		Name:        "manager",
		Description: "Approves documents and completes stocktakes",
		PermCodes: []string{
			auth.ModuleStock + ".write", auth.ModuleTransfer + ".write", auth.ModuleStocktake + ".write",
			auth.ModuleCatalog + ".write", auth.ModuleWarehouse + ".write", auth.ModuleAudit + ".read",
		},
		Levels: map[string]int{auth.ModuleStock: 2, auth.ModuleTransfer: 2, auth.ModuleStocktake: 2},
	},
	{
		Name:        "staff",
		Description: "Creates documents and counts stock",
		PermCodes:   []string{auth.ModuleStock + ".write", auth.ModuleTransfer + ".write", auth.ModuleStocktake + ".write"},
		Levels:      map[string]int{},
	},
}

// DTOs
type RoleRequest struct {
	Name        string         `json:"name" binding:"required,max=50"`
	Description string         `json:"description"`
	Permissions []string       `json:"permissions"`
	Levels      map[string]int `json:"approval_levels"`
}

// RoleService resolves a role name into the capabilities carried by tokens
// and manages custom roles. Custom roles belong to the tenant that created
// them; system roles are visible to everyone. Changes apply to tokens issued
// afterwards.
type RoleService interface {
	Capabilities(ctx context.Context, tenantID uuid.UUID, roleName string) (perms []string, levels map[string]int, err error)
	SeedDefaults(ctx context.Context) error
	List(ctx context.Context, actor auth.Actor) ([]model.Role, error)
	ListPermissions(ctx context.Context) ([]model.Permission, error)
	Create(ctx context.Context, actor auth.Actor, req RoleRequest) (*model.Role, error)
	Update(ctx context.Context, actor auth.Actor, id uuid.UUID, req RoleRequest) (*model.Role, error)
	Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error
}

type roleService struct {
	roles     repository.RoleRepository
	txManager repository.TransactionManager
}

func NewRoleService(roles repository.RoleRepository, txManager repository.TransactionManager) RoleService {
	return &roleService{roles: roles, txManager: txManager}
}

func (s *roleService) Capabilities(ctx context.Context, tenantID uuid.UUID, roleName string) ([]string, map[string]int, error) {
	role, err := s.roles.FindByNameWithPermissions(ctx, tenantID, roleName)
	if err != nil {
		return nil, nil, notFound("role", err)
	}
	perms := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		perms = append(perms, p.Code)
	}
	levels := role.ApprovalLevels
	if levels == nil {
		levels = map[string]int{}
	}
	return perms, levels, nil
}

// SeedDefaults upserts the default permissions and roles. Safe to run on every start.
func (s *roleService) SeedDefaults(ctx context.Context) error {
	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		perms := append([]model.Permission{
			{Code: auth.PermissionWildcard, Name: "All permissions", Group: "system"},
		}, defaultPermissions...)

		byCode := make(map[string]uuid.UUID, len(perms))
		for i := range perms {
			if err := s.roles.FindOrCreatePermission(txCtx, &perms[i]); err != nil {
				return fmt.Errorf("seed permission %q: %w", perms[i].Code, err)
			}
			byCode[perms[i].Code] = perms[i].ID
		}

		for _, def := range DefaultRoles {
			role := &model.Role{
				TenantID:       uuid.Nil,
				Name:           def.Name,
				Description:    def.Description,
				IsSystem:       true,
				ApprovalLevels: def.Levels,
			}
			if err := s.roles.Save(txCtx, role); err != nil {
				return fmt.Errorf("seed role %q: %w", def.Name, err)
			}
			ids := make([]uuid.UUID, 0, len(def.PermCodes))
			for _, code := range def.PermCodes {
				ids = append(ids, byCode[code])
			}
			if err := s.roles.ReplacePermissions(txCtx, role.ID, ids); err != nil {
				return fmt.Errorf("assign permissions to %q: %w", def.Name, err)
			}
		}
		return nil
	})
}

func (s *roleService) List(ctx context.Context, actor auth.Actor) ([]model.Role, error) {
	return s.roles.List(ctx, actor.TenantID())
}

func (s *roleService) ListPermissions(ctx context.Context) ([]model.Permission, error) {
	return s.roles.ListPermissions(ctx)
}

func (s *roleService) Create(ctx context.Context, actor auth.Actor, req RoleRequest) (*model.Role, error) {
	if err := requireEdit(actor, auth.ModuleRole); err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if name == "" {
		return nil, invalid("name", "is required")
	}
	// A system role name shadows any custom role, so both are rejected.
	_, err := s.roles.FindByNameWithPermissions(ctx, actor.TenantID(), name)
	if err == nil {
		return nil, invalid("name", "role %s already exists", name)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load role: %w", err)
	}

	role := &model.Role{
		TenantID:    actor.TenantID(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
	}
	if err := s.save(ctx, role, req); err != nil {
		return nil, err
	}
	return role, nil
}

// Update replaces description, permissions and levels. System roles are
// reseeded on every start and cannot be edited.
func (s *roleService) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, req RoleRequest) (*model.Role, error) {
	if err := requireEdit(actor, auth.ModuleRole); err != nil {
		return nil, err
	}
	role, err := s.roles.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return nil, notFound("role", err)
	}
	if role.IsSystem {
		return nil, invalid("id", "system role %s cannot be modified", role.Name)
	}
	role.Description = strings.TrimSpace(req.Description)
	if err := s.save(ctx, role, req); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *roleService) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	if err := requireEdit(actor, auth.ModuleRole); err != nil {
		return err
	}
	role, err := s.roles.FindByID(ctx, actor.TenantID(), id)
	if err != nil {
		return notFound("role", err)
	}
	if role.IsSystem {
		return invalid("id", "system role %s cannot be deleted", role.Name)
	}
	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		return s.roles.Delete(txCtx, actor.TenantID(), role.ID)
	})
}

func (s *roleService) save(ctx context.Context, role *model.Role, req RoleRequest) error {
	levels, err := validLevels(req.Levels)
	if err != nil {
		return err
	}
	codes := slices.Compact(slices.Sorted(slices.Values(req.Permissions)))
	perms, err := s.roles.FindPermissionsByCodes(ctx, codes)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	if len(perms) != len(codes) {
		known := make(map[string]bool, len(perms))
		for _, p := range perms {
			known[p.Code] = true
		}
		for _, code := range codes {
			if !known[code] {
				return invalid("permissions", "unknown permission %q", code)
			}
		}
	}
	role.ApprovalLevels = levels

	ids := make([]uuid.UUID, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roles.Save(txCtx, role); err != nil {
			return err
		}
		return s.roles.ReplacePermissions(txCtx, role.ID, ids)
	})
	if err != nil {
		return fmt.Errorf("save role: %w", err)
	}
	role.Permissions = perms
	return nil
}

var approvalModules = []string{auth.ModuleStock, auth.ModuleTransfer, auth.ModuleStocktake}

func validLevels(levels map[string]int) (map[string]int, error) {
	out := make(map[string]int, len(levels))
	for module, level := range levels {
		if !slices.Contains(approvalModules, module) {
			return nil, invalid("approval_levels", "unknown module %q", module)
		}
		if level < 0 {
			return nil, invalid("approval_levels", "level for %s must not be negative", module)
		}
		out[module] = level
	}
	return out, nil
}
