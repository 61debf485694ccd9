package attachments

import (
	"context"
	"errors"
	"io"
	"testing"

	"itam-api/internal/blob"
	"itam-api/internal/models"
	"itam-api/internal/store"
	"itam-api/internal/store/memory"
	"itam-api/internal/tenancy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	st      *memory.Store
	tenants *tenancy.Registry
	blobs   *blob.Memory
	svc     *Service
	actor   models.Actor
}

func setup(t *testing.T, tier string) *fixture {
	t.Helper()
	st := memory.New()
	reg := tenancy.NewRegistry(st, nil, nil)
	tn, err := reg.Provision(context.Background(), models.CreateTenantRequest{Name: "Acme", Slug: "acme", Tier: tier})
	require.NoError(t, err)
	blobs := blob.NewMemory()
	return &fixture{
		st:      st,
		tenants: reg,
		blobs:   blobs,
		svc:     NewService(st, reg, blobs, nil),
		actor:   models.Actor{UserID: "u1", TenantID: tn.ID},
	}
}

func (f *fixture) usage(t *testing.T) int64 {
	t.Helper()
	tn, err := f.tenants.Get(context.Background(), f.actor.TenantID)
	require.NoError(t, err)
	return tn.Usage.StorageBytes
}

func upload(data string) models.Upload {
	return models.Upload{FileName: "receipt.pdf", ContentType: "application/pdf", Category: models.CategoryReceipt, Data: []byte(data)}
}

func TestUploadListOpenDelete(t *testing.T) {
	f := setup(t, "free")
	ctx := context.Background()

	att, err := f.svc.Upload(ctx, f.actor, models.OwnerAsset, "a1", upload("hello"), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 5, att.SizeBytes)
	assert.Equal(t, "u1", att.UploadedByUserID)
	assert.EqualValues(t, 5, f.usage(t))
	assert.Equal(t, 1, f.blobs.Len())

	list, err := f.svc.List(ctx, f.actor, models.OwnerAsset, "a1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	meta, rc, err := f.svc.Open(ctx, f.actor, models.OwnerAsset, "a1", att.ID)
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello", string(b))
	assert.Equal(t, att.StorageKey, meta.StorageKey)

	_, _, err = f.svc.Open(ctx, f.actor, models.OwnerMaintenance, "a1", att.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = f.svc.Delete(ctx, f.actor, models.OwnerAsset, "other-owner", att.ID, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, f.svc.Delete(ctx, f.actor, models.OwnerAsset, "a1", att.ID, nil))
	assert.Zero(t, f.usage(t))
	assert.Zero(t, f.blobs.Len())
}

func TestUploadDefaultsCategoryAndRejectsEmpty(t *testing.T) {
	f := setup(t, "free")
	ctx := context.Background()

	up := upload("x")
	up.Category = ""
	att, err := f.svc.Upload(ctx, f.actor, models.OwnerAsset, "a1", up, nil)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryOther, att.Category)

	_, err = f.svc.Upload(ctx, f.actor, models.OwnerAsset, "a1", upload(""), nil)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.EqualValues(t, 1, f.usage(t))
}

func TestUploadOwnerCheckFailureCompensates(t *testing.T) {
	f := setup(t, "free")
	rejected := errors.New("owner closed")

	// the owner closes between the pre-check and the insert
	calls := 0
	_, err := f.svc.Upload(context.Background(), f.actor, models.OwnerMaintenance, "m1", upload("evidence"),
		func(context.Context, store.Scope) error {
			calls++
			if calls > 1 {
				return rejected
			}
			return nil
		})
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 2, calls)
	assert.Zero(t, f.usage(t))
	assert.Zero(t, f.blobs.Len())
}

func TestUploadToForeignOwnerIsNotFoundBeforeQuota(t *testing.T) {
	f := setup(t, "free")
	ctx := context.Background()

	other, err := f.tenants.Provision(ctx, models.CreateTenantRequest{Name: "Globex", Slug: "globex", Tier: "free"})
	require.NoError(t, err)
	require.NoError(t, f.st.InTenant(ctx, other.ID, func(sc store.Scope) error {
		return sc.InsertAsset(ctx, &models.Asset{ID: "foreign", TenantID: other.ID, Tag: "AST-000001",
			DeviceType: models.DeviceLaptop, Status: models.AssetAvailable})
	}))

	// caller is already at its storage ceiling
	_, err = f.tenants.TryReserve(ctx, f.actor.TenantID, models.ResourceStorageBytes, 100*models.MiB)
	require.NoError(t, err)

	assetOwned := func(ctx context.Context, sc store.Scope) error {
		_, err := sc.GetAsset(ctx, "foreign")
		return err
	}
	_, err = f.svc.Upload(ctx, f.actor, models.OwnerAsset, "foreign", upload("x"), assetOwned)
	assert.ErrorIs(t, err, models.ErrNotFound)
	var qe *models.QuotaExceededError
	assert.False(t, errors.As(err, &qe))
	assert.EqualValues(t, 100*models.MiB, f.usage(t))
	assert.Zero(t, f.blobs.Len())
}

func TestUploadOverStorageQuota(t *testing.T) {
	f := setup(t, "free")
	ctx := context.Background()
	_, err := f.tenants.TryReserve(ctx, f.actor.TenantID, models.ResourceStorageBytes, 100*models.MiB-3)
	require.NoError(t, err)

	_, err = f.svc.Upload(ctx, f.actor, models.OwnerAsset, "a1", upload("four"), nil)
	var qe *models.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, models.ResourceStorageBytes, qe.Kind)
	assert.Equal(t, 100*models.MiB+1, qe.Attempted)
	assert.Zero(t, f.blobs.Len())
}

func TestDetachAndReclaim(t *testing.T) {
	f := setup(t, "free")
	ctx := context.Background()
	for _, d := range []string{"aa", "bbb"} {
		_, err := f.svc.Upload(ctx, f.actor, models.OwnerMaintenance, "m1", upload(d), nil)
		require.NoError(t, err)
	}
	_, err := f.svc.Upload(ctx, f.actor, models.OwnerMaintenance, "m2", upload("c"), nil)
	require.NoError(t, err)

	var detached []models.Attachment
	require.NoError(t, f.st.InTenant(ctx, f.actor.TenantID, func(sc store.Scope) error {
		var err error
		detached, err = f.svc.Detach(ctx, sc, models.OwnerMaintenance, "m1")
		return err
	}))
	require.Len(t, detached, 2)
	f.svc.Reclaim(ctx, f.actor.TenantID, detached)

	assert.EqualValues(t, 1, f.usage(t))
	assert.Equal(t, 1, f.blobs.Len())
}
