// Package users manages tenant members and checks their credentials.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"itam-api/internal/logger"
	"itam-api/internal/models"
	"itam-api/internal/store"
	"itam-api/internal/tenancy"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials covers unknown emails, wrong passwords and inactive users alike
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service manages users
type Service struct {
	store   store.Store
	tenants *tenancy.Registry
	log     *zap.Logger
	cost    int
	now     func() time.Time
}

// NewService wires the user service. log may be nil.
func NewService(st store.Store, tenants *tenancy.Registry, log *zap.Logger) *Service {
	return &Service{
		store:   st,
		tenants: tenants,
		log:     logger.OrNop(log).Named("users"),
		cost:    bcrypt.DefaultCost,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetHashCost lowers the bcrypt cost, for tests
func (s *Service) SetHashCost(cost int) {
	s.cost = cost
}

// Register creates a user in the actor's tenant. It consumes one user unit.
func (s *Service) Register(ctx context.Context, actor models.Actor, req models.CreateUserRequest) (*models.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	u := &models.User{
		ID:           uuid.NewString(),
		TenantID:     actor.TenantID,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Roles:        append([]string(nil), req.Roles...),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.tenants.WithReservation(ctx, actor.TenantID, models.ResourceUser, 1, func() error {
		return s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
			return sc.InsertUser(ctx, u)
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered",
		zap.String("tenant_id", u.TenantID), zap.String("user_id", u.ID), zap.Strings("roles", u.Roles))
	out := u.Redacted()
	return &out, nil
}

// Get returns one user of the actor's tenant without its password hash
func (s *Service) Get(ctx context.Context, actor models.Actor, id string) (*models.User, error) {
	var out models.User
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		u, err := sc.GetUser(ctx, id)
		if err != nil {
			return err
		}
		out = u.Redacted()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns the users of the actor's tenant without password hashes
func (s *Service) List(ctx context.Context, actor models.Actor) ([]models.User, error) {
	var out []models.User
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		rows, err := sc.ListUsers(ctx)
		if err != nil {
			return err
		}
		out = make([]models.User, 0, len(rows))
		for i := range rows {
			out = append(out, rows[i].Redacted())
		}
		return nil
	})
	return out, err
}

// Remove deletes a user that no asset, assignment, maintenance record,
// attachment or alert refers to, and returns the user unit
func (s *Service) Remove(ctx context.Context, actor models.Actor, id string) error {
	if id == actor.UserID {
		return models.ValidationError{Field: "id", Reason: "cannot remove yourself"}
	}
	err := s.store.InTenant(ctx, actor.TenantID, func(sc store.Scope) error {
		if _, err := sc.GetUser(ctx, id); err != nil {
			return err
		}
		held, err := sc.ListAssignmentsByUser(ctx, id)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			return fmt.Errorf("user %s has assignment history: %w", id, models.ErrConflict)
		}
		return sc.DeleteUser(ctx, id)
	})
	if err != nil {
		return err
	}
	if err := s.tenants.Release(context.WithoutCancel(ctx), actor.TenantID, models.ResourceUser, 1); err != nil {
		s.log.Error("release user unit", zap.String("tenant_id", actor.TenantID), zap.Error(err))
	}
	s.log.Info("user removed", zap.String("tenant_id", actor.TenantID), zap.String("user_id", id))
	return nil
}

// Authenticate checks an email and password. Users of inactive tenants get
// models.ErrTenantInactive once their password checks out.
func (s *Service) Authenticate(ctx context.Context, req models.LoginRequest) (*models.User, error) {
	if err := models.ValidateStruct(req); err != nil {
		return nil, err
	}
	u, err := s.store.FindUserByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	tn, err := s.tenants.Get(ctx, u.TenantID)
	if err != nil {
		return nil, err
	}
	if !tn.IsActive {
		return nil, models.ErrTenantInactive
	}

	now := s.now()
	if err := s.store.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.log.Warn("update last login", zap.String("user_id", u.ID), zap.Error(err))
	} else {
		u.LastLoginAt = &now
	}
	out := u.Redacted()
	return &out, nil
}
