package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/tenant/domain"
	"github.com/smallbiznis/clavis/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clk   clock.Clock
}

func NewService(conn *gorm.DB, log *zap.Logger, repo domain.Repository, genID *snowflake.Node, clk clock.Clock) domain.Service {
	return &service{
		db:    conn,
		log:   log.Named("tenant.service"),
		repo:  repo,
		genID: genID,
		clk:   clk,
	}
}

func (s *service) CreateOwner(ctx context.Context, req domain.CreateOwnerRequest) (*domain.Owner, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	if _, err := s.repo.FindOwnerByName(ctx, name); err == nil {
		return nil, domain.ErrNameTaken
	} else if err != domain.ErrOwnerNotFound {
		return nil, err
	}

	binding := strings.TrimSpace(req.DBBinding)
	if binding == "" {
		binding = slug.Make(name)
	}
	filterField := strings.TrimSpace(req.FilterField)
	if filterField == "" {
		filterField = "organization_id"
	}

	owner := domain.Owner{
		ID:           s.genID.Generate(),
		Name:         name,
		DBBinding:    binding,
		FilterField:  filterField,
		LicenseCount: req.LicenseCount,
		RegisteredAt: s.clk.Now(),
	}
	if err := s.repo.CreateOwner(ctx, owner); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrNameTaken
		}
		return nil, err
	}

	s.log.Info("owner created", zap.String("owner_id", owner.ID.String()), zap.String("name", name))
	return &owner, nil
}

func (s *service) GetOwner(ctx context.Context, id snowflake.ID) (*domain.Owner, error) {
	return s.repo.FindOwner(ctx, id)
}

func (s *service) GetOwnerByName(ctx context.Context, name string) (*domain.Owner, error) {
	return s.repo.FindOwnerByName(ctx, strings.TrimSpace(name))
}

func (s *service) CreateOrganization(ctx context.Context, ownerID snowflake.ID, name string) (*domain.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if _, err := s.repo.FindOwner(ctx, ownerID); err != nil {
		return nil, err
	}

	org := domain.Organization{
		ID:        s.genID.Generate(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: s.clk.Now(),
	}
	if err := s.repo.CreateOrganization(ctx, org); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrNameTaken
		}
		return nil, err
	}
	return &org, nil
}

// DeleteOrganization removes the organization and every membership and grant
// row that hangs off it, in one transaction.
func (s *service) DeleteOrganization(ctx context.Context, orgID snowflake.ID) error {
	if _, err := s.repo.FindOrganization(ctx, orgID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).DeleteOrganizationCascade(ctx, orgID)
	})
}

func (s *service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if !req.AccessTier.Valid() {
		return nil, domain.ErrInvalidAccessTier
	}

	owner, err := s.repo.FindOwner(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}

	// license_count of zero means unlimited seats.
	if owner.LicenseCount > 0 {
		active, err := s.repo.CountActiveUsers(ctx, owner.ID)
		if err != nil {
			return nil, err
		}
		if active >= int64(owner.LicenseCount) {
			return nil, domain.ErrLicenseLimit
		}
	}

	now := s.clk.Now()
	user := domain.User{
		ID:         s.genID.Generate(),
		OwnerID:    owner.ID,
		Name:       name,
		Email:      strings.TrimSpace(req.Email),
		AccessTier: req.AccessTier,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrNameTaken
		}
		return nil, err
	}
	return &user, nil
}

func (s *service) LockUser(ctx context.Context, userID snowflake.ID) error {
	return s.repo.SetUserLocked(ctx, userID, true)
}

func (s *service) UnlockUser(ctx context.Context, userID snowflake.ID) error {
	return s.repo.SetUserLocked(ctx, userID, false)
}

func (s *service) CreateGroup(ctx context.Context, ownerID snowflake.ID, name string) (*domain.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if _, err := s.repo.FindOwner(ctx, ownerID); err != nil {
		return nil, err
	}

	group := domain.Group{
		ID:        s.genID.Generate(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: s.clk.Now(),
	}
	if err := s.repo.CreateGroup(ctx, group); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrNameTaken
		}
		return nil, err
	}
	return &group, nil
}

func (s *service) AddUserToOrganization(ctx context.Context, userID, orgID snowflake.ID) (*domain.UserOrganizationLink, error) {
	if _, err := s.repo.FindUser(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindLink(ctx, userID, orgID); err == nil {
		return nil, domain.ErrAlreadyMember
	} else if err != domain.ErrLinkNotFound {
		return nil, err
	}

	link := domain.UserOrganizationLink{
		ID:             s.genID.Generate(),
		UserID:         userID,
		OrganizationID: orgID,
		CreatedAt:      s.clk.Now(),
	}
	if err := s.repo.CreateLink(ctx, link); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyMember
		}
		return nil, err
	}
	return &link, nil
}

func (s *service) AddLinkToGroup(ctx context.Context, groupID, userOrgID snowflake.ID) error {
	if _, err := s.repo.FindGroup(ctx, groupID); err != nil {
		return err
	}

	member := domain.GroupMember{
		ID:        s.genID.Generate(),
		GroupID:   groupID,
		UserOrgID: userOrgID,
		CreatedAt: s.clk.Now(),
	}
	if err := s.repo.CreateGroupMember(ctx, member); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrAlreadyMember
		}
		return err
	}
	return nil
}
