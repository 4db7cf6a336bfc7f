package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/tenant/domain"
	"gorm.io/gorm"
)

type repository struct {
	db  *gorm.DB
	clk clock.Clock
}

func NewRepository(db *gorm.DB, clk clock.Clock) domain.Repository {
	return &repository{db: db, clk: clk}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx, clk: r.clk}
}

func (r *repository) CreateOwner(ctx context.Context, owner domain.Owner) error {
	return r.db.WithContext(ctx).Create(&owner).Error
}

func (r *repository) FindOwner(ctx context.Context, id snowflake.ID) (*domain.Owner, error) {
	var owner domain.Owner
	err := r.db.WithContext(ctx).First(&owner, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &owner, nil
}

func (r *repository) FindOwnerByName(ctx context.Context, name string) (*domain.Owner, error) {
	var owner domain.Owner
	err := r.db.WithContext(ctx).First(&owner, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &owner, nil
}

func (r *repository) UpdateOwnerContentHash(ctx context.Context, id snowflake.ID, hash string) error {
	return r.db.WithContext(ctx).Model(&domain.Owner{}).
		Where("id = ?", id).
		Updates(map[string]any{"content_hash": hash, "updated_at": r.clk.Now()}).Error
}

func (r *repository) CreateOrganization(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Create(&org).Error
}

func (r *repository) FindOrganization(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).First(&org, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrgNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// DeleteOrganizationCascade removes an organization together with its
// user-organization links, their group memberships and their direct grants.
// Callers run it inside a transaction via WithTx.
func (r *repository) DeleteOrganizationCascade(ctx context.Context, orgID snowflake.ID) error {
	tx := r.db.WithContext(ctx)

	linkIDs := tx.Model(&domain.UserOrganizationLink{}).
		Select("id").
		Where("organization_id = ?", orgID)

	if err := tx.Where("user_org_id IN (?)", linkIDs).
		Delete(&domain.GroupMember{}).Error; err != nil {
		return err
	}
	if err := tx.Exec(
		`DELETE FROM user_rights WHERE user_org_id IN (SELECT id FROM user_organization_links WHERE organization_id = ?)`,
		orgID,
	).Error; err != nil {
		return err
	}
	if err := tx.Where("organization_id = ?", orgID).
		Delete(&domain.UserOrganizationLink{}).Error; err != nil {
		return err
	}
	return tx.Delete(&domain.Organization{}, "id = ?", orgID).Error
}

func (r *repository) CreateUser(ctx context.Context, user domain.User) error {
	return r.db.WithContext(ctx).Create(&user).Error
}

func (r *repository) FindUser(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) CountActiveUsers(ctx context.Context, ownerID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("owner_id = ? AND active = ? AND deleted = ?", ownerID, true, false).
		Count(&count).Error
	return count, err
}

func (r *repository) SetUserLocked(ctx context.Context, userID snowflake.ID, locked bool) error {
	updates := map[string]any{"locked": locked, "updated_at": r.clk.Now()}
	if locked {
		updates["locked_at"] = r.clk.Now()
	} else {
		// An untyped nil in an Updates map is dropped by gorm; the explicit
		// expression is what actually clears the column.
		updates["locked_at"] = gorm.Expr("NULL")
	}
	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *repository) CreateGroup(ctx context.Context, group domain.Group) error {
	return r.db.WithContext(ctx).Create(&group).Error
}

func (r *repository) FindGroup(ctx context.Context, id snowflake.ID) (*domain.Group, error) {
	var group domain.Group
	err := r.db.WithContext(ctx).First(&group, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *repository) CreateLink(ctx context.Context, link domain.UserOrganizationLink) error {
	return r.db.WithContext(ctx).Create(&link).Error
}

func (r *repository) FindLink(ctx context.Context, userID, orgID snowflake.ID) (*domain.UserOrganizationLink, error) {
	var link domain.UserOrganizationLink
	err := r.db.WithContext(ctx).
		First(&link, "user_id = ? AND organization_id = ?", userID, orgID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *repository) CreateGroupMember(ctx context.Context, member domain.GroupMember) error {
	return r.db.WithContext(ctx).Create(&member).Error
}
