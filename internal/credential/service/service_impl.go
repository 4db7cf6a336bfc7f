package service

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/clavis/internal/clock"
	"github.com/smallbiznis/clavis/internal/config"
	"github.com/smallbiznis/clavis/internal/credential/domain"
	"github.com/smallbiznis/clavis/internal/policy"
	tenantdomain "github.com/smallbiznis/clavis/internal/tenant/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// startDateEpsilon breaks start_date ties between the closed record and
	// its replacement under timestamp-equality sorts.
	startDateEpsilon = time.Millisecond

	// defaultRenewal applies when the owner has no renewal-interval policy.
	defaultRenewal = 5 * 365 * 24 * time.Hour
)

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	tenants  tenantdomain.Repository
	policies policy.Store
	hasher   *Hasher
	genID    *snowflake.Node
	clk      clock.Clock
}

func NewService(conn *gorm.DB, log *zap.Logger, repo domain.Repository, tenants tenantdomain.Repository, policies policy.Store, cfg config.Config, genID *snowflake.Node, clk clock.Clock) domain.Service {
	return &service{
		db:       conn,
		log:      log.Named("credential.service"),
		repo:     repo,
		tenants:  tenants,
		policies: policies,
		hasher:   NewHasher(cfg.PasswordPepper),
		genID:    genID,
		clk:      clk,
	}
}

func (s *service) Validate(ctx context.Context, userID snowflake.ID, candidate string) error {
	user, owner, err := s.userAndOwner(ctx, userID)
	if err != nil {
		return err
	}
	r, err := s.loadRules(ctx, owner)
	if err != nil {
		return err
	}
	return s.validate(ctx, user, r, candidate)
}

// ChangePassword validates the candidate, then closes the current record and
// inserts its replacement in one transaction so a crash can never leave zero
// current passwords.
func (s *service) ChangePassword(ctx context.Context, userID snowflake.ID, newPassword string) error {
	user, owner, err := s.userAndOwner(ctx, userID)
	if err != nil {
		return err
	}
	r, err := s.loadRules(ctx, owner)
	if err != nil {
		return err
	}
	if err := s.validate(ctx, user, r, newPassword); err != nil {
		return err
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	now := s.clk.Now()
	renewal := defaultRenewal
	if r.renewalDays > 0 {
		renewal = time.Duration(r.renewalDays) * 24 * time.Hour
	}
	endDate := now.Add(renewal)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		current, err := repo.CurrentRecord(ctx, userID, now)
		if err != nil && err != domain.ErrNoCurrentPassword {
			return err
		}
		if current != nil {
			if err := repo.CloseRecord(ctx, current.ID, now); err != nil {
				return err
			}
		}

		return repo.InsertRecord(ctx, domain.PasswordRecord{
			ID:               s.genID.Generate(),
			UserID:           userID,
			StartDate:        now.Add(startDateEpsilon),
			EndDate:          &endDate,
			Salt:             hashed.Salt,
			Hash:             hashed.Hash,
			IterationVersion: hashed.IterationVersion,
		})
	})
}

// CheckLogin verifies the password against the current record, records the
// attempt and applies the lockout threshold on consecutive failures.
func (s *service) CheckLogin(ctx context.Context, userID snowflake.ID, password string) (string, error) {
	user, owner, err := s.userAndOwner(ctx, userID)
	if err != nil {
		return "", err
	}

	if user.Locked {
		return "", s.recordFailure(ctx, user, domain.ReasonLocked, domain.ErrUserLocked)
	}
	if !user.Active || user.Deleted {
		return "", s.recordFailure(ctx, user, domain.ReasonInactive, domain.ErrUserInactive)
	}

	now := s.clk.Now()
	current, err := s.repo.CurrentRecord(ctx, userID, now)
	if err == domain.ErrNoCurrentPassword {
		// Either the password lapsed past its renewal window or none was
		// ever set; both read as expired to the caller.
		return "", s.recordFailure(ctx, user, domain.ReasonExpired, domain.ErrPasswordExpired)
	}
	if err != nil {
		return "", err
	}
	if !s.hasher.Verify(password, current.Salt, current.Hash, current.IterationVersion) {
		failure := s.recordFailure(ctx, user, domain.ReasonBadPassword, domain.ErrBadPassword)
		if err := s.maybeLock(ctx, user, owner); err != nil {
			return "", err
		}
		return "", failure
	}

	attempt := domain.LoginAttempt{
		ID:      ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		UserID:  userID,
		At:      now,
		Success: true,
	}
	if err := s.repo.CreateAttempt(ctx, attempt); err != nil {
		return "", err
	}
	return attempt.ID, nil
}

func (s *service) RecordLogout(ctx context.Context, attemptID string) error {
	return s.repo.SetLogout(ctx, attemptID, s.clk.Now())
}

func (s *service) IsExpired(ctx context.Context, userID snowflake.ID) (bool, error) {
	open, err := s.repo.HasOpenRecord(ctx, userID, s.clk.Now())
	if err != nil {
		return false, err
	}
	return !open, nil
}

func (s *service) userAndOwner(ctx context.Context, userID snowflake.ID) (*tenantdomain.User, *tenantdomain.Owner, error) {
	user, err := s.tenants.FindUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user.OwnerID == tenantdomain.ZeroOwnerID {
		return nil, nil, domain.ErrOwnerRequired
	}
	owner, err := s.tenants.FindOwner(ctx, user.OwnerID)
	if err != nil {
		return nil, nil, err
	}
	return user, owner, nil
}

func (s *service) recordFailure(ctx context.Context, user *tenantdomain.User, reason string, cause error) error {
	attempt := domain.LoginAttempt{
		ID:      ulid.MustNew(ulid.Timestamp(s.clk.Now()), rand.Reader).String(),
		UserID:  user.ID,
		At:      s.clk.Now(),
		Success: false,
		Reason:  reason,
	}
	if err := s.repo.CreateAttempt(ctx, attempt); err != nil {
		return err
	}
	return cause
}

func (s *service) maybeLock(ctx context.Context, user *tenantdomain.User, owner *tenantdomain.Owner) error {
	threshold, err := s.policies.IntValue(ctx, owner.ID, policy.LoginLockoutThreshold, 0)
	if err != nil {
		return err
	}
	if threshold <= 0 {
		return nil
	}
	failures, err := s.repo.ConsecutiveFailures(ctx, user.ID)
	if err != nil {
		return err
	}
	if failures < threshold {
		return nil
	}

	s.log.Warn("locking user after repeated login failures",
		zap.String("user_id", user.ID.String()),
		zap.Int("failures", failures),
	)
	return s.tenants.SetUserLocked(ctx, user.ID, true)
}
