package repository

import (
	"context"
	"errors"

	"stockledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoleRepository reads are tenant-scoped: a tenant sees its own roles plus
// the system roles stored under uuid.Nil.
type RoleRepository interface {
	Save(ctx context.Context, role *model.Role) error
	FindByNameWithPermissions(ctx context.Context, tenantID uuid.UUID, name string) (*model.Role, error)
	FindOrCreatePermission(ctx context.Context, perm *model.Permission) error
	ReplacePermissions(ctx context.Context, roleID uuid.UUID, permIDs []uuid.UUID) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Role, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]model.Role, error)
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	ListPermissions(ctx context.Context) ([]model.Permission, error)
	FindPermissionsByCodes(ctx context.Context, codes []string) ([]model.Permission, error)
}

type roleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func visibleTo(tenantID uuid.UUID) []uuid.UUID {
	return []uuid.UUID{tenantID, uuid.Nil}
}

// Save inserts the role or updates it when the tenant already has a role with
// the same name.
func (r *roleRepository) Save(ctx context.Context, role *model.Role) error {
	db := GetDB(ctx, r.db)
	var existing model.Role
	err := db.Where("tenant_id = ? AND name = ?", role.TenantID, role.Name).First(&existing).Error
	if err == nil {
		role.ID = existing.ID
		role.CreatedAt = existing.CreatedAt
		return db.Omit("Permissions").Save(role).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return db.Omit("Permissions").Create(role).Error
}

func (r *roleRepository) FindByNameWithPermissions(ctx context.Context, tenantID uuid.UUID, name string) (*model.Role, error) {
	var role model.Role
	err := GetDB(ctx, r.db).Preload("Permissions").
		Where("name = ? AND tenant_id IN ?", name, visibleTo(tenantID)).
		First(&role).Error
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) FindOrCreatePermission(ctx context.Context, perm *model.Permission) error {
	return GetDB(ctx, r.db).
		Where("code = ?", perm.Code).
		FirstOrCreate(perm).Error
}

func (r *roleRepository) ReplacePermissions(ctx context.Context, roleID uuid.UUID, permIDs []uuid.UUID) error {
	db := GetDB(ctx, r.db)
	var role model.Role
	if err := db.First(&role, "id = ?", roleID).Error; err != nil {
		return err
	}

	var perms []model.Permission
	if err := db.Where("id IN ?", permIDs).Find(&perms).Error; err != nil {
		return err
	}

	return db.Model(&role).Association("Permissions").Replace(perms)
}

func (r *roleRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Role, error) {
	var role model.Role
	err := GetDB(ctx, r.db).Preload("Permissions").
		First(&role, "id = ? AND tenant_id IN ?", id, visibleTo(tenantID)).Error
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) List(ctx context.Context, tenantID uuid.UUID) ([]model.Role, error) {
	var roles []model.Role
	err := GetDB(ctx, r.db).Preload("Permissions").
		Where("tenant_id IN ?", visibleTo(tenantID)).
		Order("is_system DESC, name ASC").Find(&roles).Error
	return roles, err
}

// Delete drops one of the tenant's own roles and its permission links.
// System roles never match. Users still holding the role keep their current
// token until it expires.
func (r *roleRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	var role model.Role
	if err := db.First(&role, "id = ? AND tenant_id = ?", id, tenantID).Error; err != nil {
		return err
	}
	if err := db.Model(&role).Association("Permissions").Clear(); err != nil {
		return err
	}
	return db.Delete(&model.Role{}, "id = ? AND tenant_id = ?", id, tenantID).Error
}

func (r *roleRepository) ListPermissions(ctx context.Context) ([]model.Permission, error) {
	var perms []model.Permission
	err := GetDB(ctx, r.db).Order(`"group" ASC, code ASC`).Find(&perms).Error
	return perms, err
}

func (r *roleRepository) FindPermissionsByCodes(ctx context.Context, codes []string) ([]model.Permission, error) {
	var perms []model.Permission
	if len(codes) == 0 {
		return perms, nil
	}
	err := GetDB(ctx, r.db).Where("code IN ?", codes).Find(&perms).Error
	return perms, err
}
