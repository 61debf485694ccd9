package users

import (
	"context"
	"testing"

	"itam-api/internal/models"
	"itam-api/internal/store"
	"itam-api/internal/store/memory"
	"itam-api/internal/tenancy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	st      *memory.Store
	tenants *tenancy.Registry
	svc     *Service
	admin   models.Actor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	reg := tenancy.NewRegistry(st, nil, nil)
	svc := NewService(st, reg, nil)
	svc.SetHashCost(bcrypt.MinCost)
	tn, err := reg.Provision(context.Background(), models.CreateTenantRequest{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	return &fixture{
		st:      st,
		tenants: reg,
		svc:     svc,
		admin:   models.Actor{UserID: "root", TenantID: tn.ID, Roles: []string{models.RoleTenantAdmin}},
	}
}

func request(email string) models.CreateUserRequest {
	return models.CreateUserRequest{Email: email, Password: "correct horse", Roles: []string{models.RoleMember}}
}

func TestRegister(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, f.admin, request("Ada@Example.com"))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Empty(t, u.PasswordHash)
	assert.True(t, u.IsActive)

	tn, err := f.tenants.Get(ctx, f.admin.TenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tn.Usage.Users)

	got, err := f.svc.Get(ctx, f.admin, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
	assert.Empty(t, got.PasswordHash)
}

func TestRegister_Validation(t *testing.T) {
	f := setup(t)
	req := request("ada@example.com")
	req.Roles = []string{"overlord"}

	_, err := f.svc.Register(context.Background(), f.admin, req)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.Register(context.Background(), f.admin, models.CreateUserRequest{Email: "nope", Password: "short"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRegister_DuplicateEmailReleasesUnit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, f.admin, request("ada@example.com"))
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, f.admin, request("ADA@example.com"))
	assert.ErrorIs(t, err, models.ErrConflict)

	tn, err := f.tenants.Get(ctx, f.admin.TenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tn.Usage.Users)
}

func TestRegister_Quota(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	limit := models.LimitsFor(models.TierFree).MaxUsers
	for i := int64(0); i < limit; i++ {
		_, err := f.svc.Register(ctx, f.admin, request(string(rune('a'+i))+"@example.com"))
		require.NoError(t, err)
	}

	_, err := f.svc.Register(ctx, f.admin, request("over@example.com"))
	var qe *models.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, models.ResourceUser, qe.Kind)
	assert.Equal(t, limit, qe.Limit)
	assert.Equal(t, limit+1, qe.Attempted)
}

func TestAuthenticate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u, err := f.svc.Register(ctx, f.admin, request("ada@example.com"))
	require.NoError(t, err)

	got, err := f.svc.Authenticate(ctx, models.LoginRequest{Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotNil(t, got.LastLoginAt)
	assert.Empty(t, got.PasswordHash)

	_, err = f.svc.Authenticate(ctx, models.LoginRequest{Email: "ada@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Authenticate(ctx, models.LoginRequest{Email: "bob@example.com", Password: "correct horse"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_InactiveTenant(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, f.admin, request("ada@example.com"))
	require.NoError(t, err)
	_, err = f.tenants.SetActive(ctx, f.admin.TenantID, false)
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, models.LoginRequest{Email: "ada@example.com", Password: "correct horse"})
	assert.ErrorIs(t, err, models.ErrTenantInactive)
}

func TestRemove(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u, err := f.svc.Register(ctx, f.admin, request("ada@example.com"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Remove(ctx, f.admin, u.ID))
	_, err = f.svc.Get(ctx, f.admin, u.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	tn, err := f.tenants.Get(ctx, f.admin.TenantID)
	require.NoError(t, err)
	assert.Zero(t, tn.Usage.Users)

	assert.ErrorIs(t, f.svc.Remove(ctx, f.admin, f.admin.UserID), models.ErrValidation)
}

func TestRemove_WithHistoryConflicts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u, err := f.svc.Register(ctx, f.admin, request("ada@example.com"))
	require.NoError(t, err)
	require.NoError(t, f.st.InTenant(ctx, f.admin.TenantID, func(sc store.Scope) error {
		return sc.InsertAssignment(ctx, &models.AssetAssignment{
			ID: "as1", TenantID: f.admin.TenantID, AssetID: "a1", UserID: u.ID, AssignedByUserID: "root",
		})
	}))

	assert.ErrorIs(t, f.svc.Remove(ctx, f.admin, u.ID), models.ErrConflict)
}

func TestRemove_ReferencedUserConflicts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	manager, err := f.svc.Register(ctx, f.admin, request("manager@example.com"))
	require.NoError(t, err)
	tech, err := f.svc.Register(ctx, f.admin, request("tech@example.com"))
	require.NoError(t, err)
	holder, err := f.svc.Register(ctx, f.admin, request("holder@example.com"))
	require.NoError(t, err)

	require.NoError(t, f.st.InTenant(ctx, f.admin.TenantID, func(sc store.Scope) error {
		if err := sc.InsertAssignment(ctx, &models.AssetAssignment{
			ID: "as1", TenantID: f.admin.TenantID, AssetID: "a1", UserID: holder.ID, AssignedByUserID: manager.ID,
		}); err != nil {
			return err
		}
		return sc.InsertAttachment(ctx, &models.Attachment{
			ID: "att1", TenantID: f.admin.TenantID, OwnerKind: models.OwnerAsset, OwnerID: "a1", UploadedByUserID: tech.ID,
		})
	}))

	assert.ErrorIs(t, f.svc.Remove(ctx, f.admin, manager.ID), models.ErrConflict)
	assert.ErrorIs(t, f.svc.Remove(ctx, f.admin, tech.ID), models.ErrConflict)

	tn, err := f.tenants.Get(ctx, f.admin.TenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, tn.Usage.Users)
}

// cancelOnCommit cancels the caller's context as soon as a tenant
// transaction commits and refuses usage releases on a done context.
type cancelOnCommit struct {
	*memory.Store
	cancel context.CancelFunc
}

func (c *cancelOnCommit) InTenant(ctx context.Context, tenantID string, fn func(store.Scope) error) error {
	err := c.Store.InTenant(ctx, tenantID, fn)
	if c.cancel != nil {
		c.cancel()
	}
	return err
}

func (c *cancelOnCommit) ReleaseUsage(ctx context.Context, tenantID string, kind models.ResourceKind, delta int64) (*models.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Store.ReleaseUsage(ctx, tenantID, kind, delta)
}

func TestRemove_ReleasesAfterRequestCancel(t *testing.T) {
	st := &cancelOnCommit{Store: memory.New()}
	reg := tenancy.NewRegistry(st, nil, nil)
	svc := NewService(st, reg, nil)
	svc.SetHashCost(bcrypt.MinCost)
	bg := context.Background()
	tn, err := reg.Provision(bg, models.CreateTenantRequest{Name: "Acme", Slug: "acme"})
	require.NoError(t, err)
	admin := models.Actor{UserID: "root", TenantID: tn.ID, Roles: []string{models.RoleTenantAdmin}}
	u, err := svc.Register(bg, admin, request("ada@example.com"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(bg)
	st.cancel = cancel
	require.NoError(t, svc.Remove(ctx, admin, u.ID))
	st.cancel = nil

	got, err := reg.Get(bg, tn.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Usage.Users)
}

func TestOtherTenantIsInvisible(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u, err := f.svc.Register(ctx, f.admin, request("ada@example.com"))
	require.NoError(t, err)
	other, err := f.tenants.Provision(ctx, models.CreateTenantRequest{Name: "Globex", Slug: "globex"})
	require.NoError(t, err)
	outsider := models.Actor{UserID: "x", TenantID: other.ID, Roles: []string{models.RoleTenantAdmin}}

	_, err = f.svc.Get(ctx, outsider, u.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, f.svc.Remove(ctx, outsider, u.ID), models.ErrNotFound)
	list, err := f.svc.List(ctx, outsider)
	require.NoError(t, err)
	assert.Empty(t, list)
}
