package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clavis/internal/permission/domain"
	"github.com/smallbiznis/clavis/internal/rowfilter"
	tenantdomain "github.com/smallbiznis/clavis/internal/tenant/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

// raw returns a session that skips installed row filters. Resolution has to
// see membership and grant rows before any tenant filter is in place.
func (r *repository) raw(ctx context.Context) *gorm.DB {
	return rowfilter.Skip(r.db.WithContext(ctx))
}

func (r *repository) CreateKey(ctx context.Context, key domain.SecurityKey) error {
	key.NameLower = strings.ToLower(key.Name)
	return r.db.WithContext(ctx).Create(&key).Error
}

func (r *repository) FindKey(ctx context.Context, id snowflake.ID) (*domain.SecurityKey, error) {
	var key domain.SecurityKey
	err := r.raw(ctx).First(&key, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// FindKeyByName matches case-insensitively, checking the caller's owner and
// the system owner for global keys.
func (r *repository) FindKeyByName(ctx context.Context, ownerID snowflake.ID, name string) (*domain.SecurityKey, error) {
	var key domain.SecurityKey
	err := r.raw(ctx).
		Where("name_lower = ? AND owner_id IN (?, ?)", strings.ToLower(strings.TrimSpace(name)), ownerID, tenantdomain.ZeroOwnerID).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *repository) Grant(ctx context.Context, right domain.UserRight) error {
	if (right.GroupID == nil) == (right.UserOrgID == nil) {
		return domain.ErrInvalidSubject
	}
	return r.db.WithContext(ctx).Create(&right).Error
}

func (r *repository) Revoke(ctx context.Context, keyID snowflake.ID, subject domain.GrantSubject) error {
	stmt := r.db.WithContext(ctx).Where("key_id = ?", keyID)
	switch subject.Kind {
	case domain.SubjectGroup:
		stmt = stmt.Where("group_id = ?", subject.ID)
	case domain.SubjectUserOrg:
		stmt = stmt.Where("user_org_id = ?", subject.ID)
	default:
		return domain.ErrInvalidSubject
	}
	return stmt.Delete(&domain.UserRight{}).Error
}

func (r *repository) GroupIDsForLink(ctx context.Context, userOrgID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.raw(ctx).Model(&tenantdomain.GroupMember{}).
		Where("user_org_id = ?", userOrgID).
		Pluck("group_id", &ids).Error
	return ids, err
}

func (r *repository) RightsForUserOrg(ctx context.Context, userOrgID snowflake.ID) ([]domain.UserRight, error) {
	var rights []domain.UserRight
	err := r.raw(ctx).
		Where("user_org_id = ?", userOrgID).
		Find(&rights).Error
	return rights, err
}

func (r *repository) RightsForGroups(ctx context.Context, groupIDs []snowflake.ID) ([]domain.UserRight, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var rights []domain.UserRight
	err := r.raw(ctx).
		Where("group_id IN ?", groupIDs).
		Find(&rights).Error
	return rights, err
}

// ModuleKeyIDs returns keys whose owning module is assigned to the owner via
// an owner_modules row whose [start_date, end_date) window contains now.
func (r *repository) ModuleKeyIDs(ctx context.Context, ownerID snowflake.ID, now time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.raw(ctx).Raw(
		`SELECT k.id
		 FROM security_keys k
		 JOIN owner_modules om ON om.module_id = k.module_id
		 WHERE om.owner_id = ?
		   AND om.start_date <= ?
		   AND (om.end_date IS NULL OR om.end_date > ?)`,
		ownerID, now, now,
	).Scan(&ids).Error
	return ids, err
}

// PackageKeyIDs returns keys whose owning module belongs to a package
// assigned to the owner via an owner_packages row active at now.
func (r *repository) PackageKeyIDs(ctx context.Context, ownerID snowflake.ID, now time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.raw(ctx).Raw(
		`SELECT k.id
		 FROM security_keys k
		 JOIN package_modules pm ON pm.module_id = k.module_id
		 JOIN owner_packages op ON op.package_id = pm.package_id
		 WHERE op.owner_id = ?
		   AND op.start_date <= ?
		   AND (op.end_date IS NULL OR op.end_date > ?)`,
		ownerID, now, now,
	).Scan(&ids).Error
	return ids, err
}

func (r *repository) CreateModule(ctx context.Context, mod domain.Module) error {
	return r.db.WithContext(ctx).Create(&mod).Error
}

func (r *repository) AssignModule(ctx context.Context, om domain.OwnerModule) error {
	return r.db.WithContext(ctx).Create(&om).Error
}

func (r *repository) CreatePackage(ctx context.Context, pkg domain.Package) error {
	return r.db.WithContext(ctx).Create(&pkg).Error
}

func (r *repository) AddModuleToPackage(ctx context.Context, pm domain.PackageModule) error {
	return r.db.WithContext(ctx).Create(&pm).Error
}

func (r *repository) AssignPackage(ctx context.Context, op domain.OwnerPackage) error {
	return r.db.WithContext(ctx).Create(&op).Error
}
