// Package storetest is a conformance suite run against every store.Store backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"itam-api/internal/models"
	"itam-api/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the suite. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("QuotaReservation", func(t *testing.T) { testQuota(t, open(t)) })
	t.Run("QuotaConcurrency", func(t *testing.T) { testQuotaConcurrency(t, open(t)) })
	t.Run("TenantPlan", func(t *testing.T) { testTenantPlan(t, open(t)) })
	t.Run("TenantIsolation", func(t *testing.T) { testIsolation(t, open(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("AssetRowVersion", func(t *testing.T) { testRowVersion(t, open(t)) })
	t.Run("AssetListing", func(t *testing.T) { testListing(t, open(t)) })
	t.Run("AssignmentLedger", func(t *testing.T) { testAssignments(t, open(t)) })
	t.Run("AlertDedup", func(t *testing.T) { testAlerts(t, open(t)) })
	t.Run("NotificationOutbox", func(t *testing.T) { testNotifications(t, open(t)) })
}

type env struct {
	st     store.Store
	tenant *models.Tenant
	user   *models.User
}

func seedTenant(t *testing.T, st store.Store, slug string, limits models.Limits) env {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	tn := &models.Tenant{
		ID: uuid.NewString(), Name: slug, Slug: slug, Tier: models.TierFree, IsActive: true,
		Limits: limits, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateTenant(ctx, tn))
	u := &models.User{
		ID: uuid.NewString(), TenantID: tn.ID, Email: "admin@" + slug + ".test", PasswordHash: "x",
		Roles: []string{models.RoleTenantAdmin}, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.InTenant(ctx, tn.ID, func(sc store.Scope) error { return sc.InsertUser(ctx, u) }))
	return env{st: st, tenant: tn, user: u}
}

func (e env) asset(t *testing.T, mutate func(*models.Asset)) *models.Asset {
	t.Helper()
	ctx := context.Background()
	var out *models.Asset
	require.NoError(t, e.st.InTenant(ctx, e.tenant.ID, func(sc store.Scope) error {
		tag, err := sc.NextAssetTag(ctx)
		if err != nil {
			return err
		}
		now := time.Now().UTC().Truncate(time.Microsecond)
		a := &models.Asset{
			ID: uuid.NewString(), TenantID: e.tenant.ID, Tag: tag, DeviceType: models.DeviceLaptop,
			Status: models.AssetAvailable, CreatedAt: now, UpdatedAt: now,
		}
		if mutate != nil {
			mutate(a)
		}
		out = a
		return sc.InsertAsset(ctx, a)
	}))
	return out
}

func testQuota(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := seedTenant(t, st, "quota", models.Limits{MaxAssets: 2, MaxUsers: 5, MaxStorageBytes: 100})

	tn, ok, err := st.ReserveUsage(ctx, e.tenant.ID, models.ResourceAsset, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, tn.Usage.Assets)

	tn, ok, err = st.ReserveUsage(ctx, e.tenant.ID, models.ResourceAsset, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 2, tn.Usage.Assets)

	tn, err = st.ReleaseUsage(ctx, e.tenant.ID, models.ResourceAsset, 5)
	require.NoError(t, err)
	assert.Zero(t, tn.Usage.Assets, "release floors at zero")

	_, err = st.SetTenantActive(ctx, e.tenant.ID, false)
	require.NoError(t, err)
	_, ok, err = st.ReserveUsage(ctx, e.tenant.ID, models.ResourceStorageBytes, 1)
	require.NoError(t, err)
	assert.False(t, ok, "inactive tenants reserve nothing")

	_, _, err = st.ReserveUsage(ctx, uuid.NewString(), models.ResourceAsset, 1)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func testQuotaConcurrency(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := seedTenant(t, st, "contended", models.Limits{MaxAssets: 10, MaxUsers: 5, MaxStorageBytes: 100})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := st.ReserveUsage(ctx, e.tenant.ID, models.ResourceAsset, 1)
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, granted)
	tn, err := st.GetTenant(ctx, e.tenant.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 10, tn.Usage.Assets)
}

func testTenantPlan(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := seedTenant(t, st, "plan", models.LimitsFor(models.TierPro))
	_, _, err := st.ReserveUsage(ctx, e.tenant.ID, models.ResourceAsset, 60)
	require.NoError(t, err)

	tn, applied, err := st.UpdateTenantPlan(ctx, e.tenant.ID, models.TierFree, models.LimitsFor(models.TierFree))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.LimitsFor(models.TierPro), tn.Limits)

	tn, applied, err = st.UpdateTenantPlan(ctx, e.tenant.ID, models.TierEnterprise, models.LimitsFor(models.TierEnterprise))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.TierEnterprise, tn.Tier)

	bySlug, err := st.GetTenantBySlug(ctx, "plan")
	require.NoError(t, err)
	assert.Equal(t, e.tenant.ID, bySlug.ID)

	err = st.CreateTenant(ctx, &models.Tenant{ID: uuid.NewString(), Name: "dup", Slug: "plan", Tier: models.TierFree})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func testIsolation(t *testing.T, st store.Store) {
	ctx := context.Background()
	a := seedTenant(t, st, "alpha", models.LimitsFor(models.TierFree))
	b := seedTenant(t, st, "bravo", models.LimitsFor(models.TierFree))
	asset := a.asset(t, nil)

	err := st.InTenant(ctx, b.tenant.ID, func(sc store.Scope) error {
		_, err := sc.GetAsset(ctx, asset.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		rows, total, err := sc.ListAssets(ctx, models.AssetFilter{})
		require.NoError(t, err)
		assert.Empty(t, rows)
		assert.Zero(t, total)

		_, err = sc.GetUser(ctx, a.user.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		foreign := *asset
		foreign.ID = uuid.NewString()
		foreign.Tag = "AST-999999"
		assert.ErrorIs(t, sc.InsertAsset(ctx, &foreign), models.ErrNotFound, "rows of another tenant are rejected")
		return nil
	})
	require.NoError(t, err)

	err = st.InTenant(ctx, uuid.NewString(), func(store.Scope) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func testRollback(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := seedTenant(t, st, "rollback", models.LimitsFor(models.TierFree))
	boom := errors.New("boom")
	id := uuid.NewString()

	err := st.InTenant(ctx, e.tenant.ID, func(sc store.Scope) error {
		now := time.Now().UTC()
		if err := sc.InsertAsset(ctx, &models.Asset{
			ID: id, TenantID: e.tenant.ID, Tag: "AST-000100", DeviceType: models.DeviceMonitor,
			Status: models.AssetAvailable, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, st.InTenant(ctx, e.tenant.ID, func(sc store.Scope) error {
		_, err := sc.GetAsset(ctx, id)
		assert.ErrorIs(t, err, models.ErrNotFound)
		return nil
	}))
}

func testRowVersion(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := seedTenant(t, st, "versions", models.LimitsFor(models.TierFree))
	asset := e.asset(t, nil)

	require.NoError(t, st.InTenant(ctx, e.tenant.ID, func(sc store.Scope) error {
		first, err := sc.GetAsset(ctx, asset.ID)
		require.NoError(t, err)
		stale := *first

		loc := "HQ"
		first.Location = &loc
		require.NoError(t, sc.UpdateAsset(ctx, first))
		assert.Equal(t, stale.RowVersion+1, first.RowVersion)

		other := "Branch"
		stale.Location = &other
		assert.ErrorIs(t, sc.UpdateAsset(ctx, &stale), models.ErrVersionConflict)

		got, err := sc.GetAsset(ctx, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, "HQ", *got.Location)
		return nil
	}))
}

func testListing(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := seedTenant(t, st, "listing", models.LimitsFor(models.TierFree))
	dell := "Dell"
	e.asset(t, func(a *models.Asset) { a.Manufacturer = &dell })
	e.asset(t, func(a *models.Asset) { a.DeviceType = models.DeviceMonitor })
	e.asset(t, func(a *models.Asset) { a.Status = models.AssetLost })

	require.NoError(t, st.InTenant(ctx, e.tenant.ID, func(sc store.Scope) error {
		rows, total, err := sc.ListAssets(ctx, models.AssetFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, rows, 2)
		assert.Equal(t, "AST-000001", rows[0].Tag)

		rows, _, err = sc.ListAssets(ctx, models.AssetFilter{Sort: "-tag"})
		require.NoError(t, err)
		assert.Equal(t, "AST-000003", rows[0].Tag)

		rows, total, err = sc.ListAssets(ctx, models.AssetFilter{Query: "dell"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, "Dell", *rows[0].Manufacturer)

		_, total, err = sc.ListAssets(ctx, models.AssetFilter{Status: models.AssetLost})
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		_, total, err = sc.ListAssets(ctx, models.AssetFilter{DeviceType: models.DeviceMonitor})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		return nil
	}))
}

func testAssignments(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := seedTenant(t, st, "ledger", models.LimitsFor(models.TierFree))
	asset := e.asset(t, nil)
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, st.InTenant(ctx, e.tenant.ID, func(sc store.Scope) error {
		open := &models.AssetAssignment{
			ID: uuid.NewString(), TenantID: e.tenant.ID, AssetID: asset.ID, UserID: e.user.ID,
			AssignedByUserID: e.user.ID, AssignedAt: now,
		}
		require.NoError(t, sc.InsertAssignment(ctx, open))

		var already *models.AlreadyAssignedError
		err := sc.InsertAssignment(ctx, &models.AssetAssignment{
			ID: uuid.NewString(), TenantID: e.tenant.ID, AssetID: asset.ID, UserID: e.user.ID,
			AssignedByUserID: e.user.ID, AssignedAt: now,
		})
		assert.ErrorAs(t, err, &already)
		return nil
	}))

	require.NoError(t, st.InTenant(ctx, e.tenant.ID, func(sc store.Scope) error {
		active, err := sc.ActiveAssignment(ctx, asset.ID)
		require.NoError(t, err)

		ret := models.AssignmentReturn{ReturnedAt: now.Add(time.Hour), ReturnedByUserID: e.user.ID, Condition: models.ConditionFair}
		closed, err := sc.CloseAssignment(ctx, active.ID, ret)
		require.NoError(t, err)
		assert.False(t, closed.IsActive())
		assert.Equal(t, models.ConditionFair, *closed.ReturnCondition)

		var notActive *models.NotActiveError
		_, err = sc.CloseAssignment(ctx, active.ID, ret)
		assert.ErrorAs(t, err, &notActive)

		_, err = sc.ActiveAssignment(ctx, asset.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		n, err := sc.CountAssignments(ctx, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		byUser, err := sc.ListAssignmentsByUser(ctx, e.user.ID)
		require.NoError(t, err)
		assert.Len(t, byUser, 1)
		return nil
	}))
}

func testAlerts(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := seedTenant(t, st, "alerts", models.LimitsFor(models.TierFree))
	asset := e.asset(t, nil)
	end := models.DateOnly(time.Now()).AddDate(0, 0, 10)
	alert := func() *models.WarrantyAlert {
		return &models.WarrantyAlert{
			ID: uuid.NewString(), TenantID: e.tenant.ID, AssetID: asset.ID, Type: models.AlertExpiring,
			WarrantyEndDate: end, DaysRemaining: 10, CreatedAt: time.Now().UTC(),
		}
	}

	var firstID string
	require.NoError(t, st.InTenant(ctx, e.tenant.ID, func(sc store.Scope) error {
		first := alert()
		firstID = first.ID
		ok, err := sc.InsertAlert(ctx, first)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = sc.InsertAlert(ctx, alert())
		require.NoError(t, err)
		assert.False(t, ok, "open duplicate is skipped")
		return nil
	}))

	require.NoError(t, st.InTenant(ctx, e.tenant.ID, func(sc store.Scope) error {
		acked, err := sc.AcknowledgeAlert(ctx, firstID, time.Now().UTC(), e.user.ID)
		require.NoError(t, err)
		assert.True(t, acked.IsAcknowledged())

		var already *models.AlreadyAcknowledgedError
		_, err = sc.AcknowledgeAlert(ctx, firstID, time.Now().UTC(), e.user.ID)
		assert.ErrorAs(t, err, &already)

		ok, err := sc.InsertAlert(ctx, alert())
		require.NoError(t, err)
		assert.True(t, ok, "acknowledged alerts do not block a new one")

		open, err := sc.ListAlerts(ctx, models.AlertFilter{UnacknowledgedOnly: true})
		require.NoError(t, err)
		assert.Len(t, open, 1)
		return nil
	}))
}

func testNotifications(t *testing.T, st store.Store) {
	ctx := context.Background()
	e := seedTenant(t, st, "outbox", models.LimitsFor(models.TierFree))
	var id string
	require.NoError(t, st.InTenant(ctx, e.tenant.ID, func(sc store.Scope) error {
		n := &models.Notification{
			ID: uuid.NewString(), TenantID: e.tenant.ID, UserID: e.user.ID, Title: "t", Message: "m",
			Type: models.NotifyAssetAssigned, CreatedAt: time.Now().UTC(),
		}
		id = n.ID
		return sc.InsertNotification(ctx, n)
	}))

	pending, err := st.PendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	require.NoError(t, st.MarkNotificationsDelivered(ctx, []string{id}, time.Now().UTC()))
	pending, err = st.PendingNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, st.InTenant(ctx, e.tenant.ID, func(sc store.Scope) error {
		assert.ErrorIs(t, sc.MarkNotificationRead(ctx, uuid.NewString(), id), models.ErrNotFound)
		require.NoError(t, sc.MarkNotificationRead(ctx, e.user.ID, id))
		unread, err := sc.ListNotifications(ctx, e.user.ID, true)
		require.NoError(t, err)
		assert.Empty(t, unread)
		return nil
	}))
}
