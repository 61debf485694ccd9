package assets

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"itam-api/internal/attachments"
	"itam-api/internal/blob"
	"itam-api/internal/ledger"
	"itam-api/internal/models"
	"itam-api/internal/notify"
	"itam-api/internal/store"
	"itam-api/internal/store/memory"
	"itam-api/internal/tenancy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	st      *memory.Store
	tenants *tenancy.Registry
	atts    *attachments.Service
	svc     *Service
	admin   models.Actor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	reg := tenancy.NewRegistry(st, nil, nil)
	atts := attachments.NewService(st, reg, blob.NewMemory(), nil)
	f := &fixture{
		st:      st,
		tenants: reg,
		atts:    atts,
		svc:     NewService(st, reg, ledger.New(), atts, notify.NewOutbox(), nil, nil),
	}
	f.admin = f.tenant(t, "acme", "admin", "u1", "u2")
	return f
}

// tenant provisions a tenant with the given active users; the first becomes the actor
func (f *fixture) tenant(t *testing.T, slug string, users ...string) models.Actor {
	t.Helper()
	ctx := context.Background()
	tn, err := f.tenants.Provision(ctx, models.CreateTenantRequest{Name: slug, Slug: slug})
	require.NoError(t, err)
	require.NoError(t, f.st.InTenant(ctx, tn.ID, func(sc store.Scope) error {
		for _, u := range users {
			if err := sc.InsertUser(ctx, &models.User{
				ID: u, TenantID: tn.ID, Email: u + "@" + slug + ".test", Roles: []string{models.RoleTenantAdmin}, IsActive: true,
			}); err != nil {
				return err
			}
		}
		return nil
	}))
	return models.Actor{UserID: users[0], TenantID: tn.ID, Roles: []string{models.RoleTenantAdmin}}
}

func (f *fixture) create(t *testing.T, actor models.Actor) *models.Asset {
	t.Helper()
	mfr, model := "Dell", "Latitude 7440"
	a, err := f.svc.Create(context.Background(), actor, models.CreateAssetRequest{
		DeviceType: models.DeviceLaptop, Manufacturer: &mfr, Model: &model,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) usage(t *testing.T, tenantID string) models.Usage {
	t.Helper()
	tn, err := f.tenants.Get(context.Background(), tenantID)
	require.NoError(t, err)
	return tn.Usage
}

func TestCreate(t *testing.T) {
	f := setup(t)
	a := f.create(t, f.admin)
	b := f.create(t, f.admin)

	assert.Equal(t, "AST-000001", a.Tag)
	assert.Equal(t, "AST-000002", b.Tag)
	assert.Equal(t, models.AssetAvailable, a.Status)
	assert.Nil(t, a.AssignedToUserID)
	assert.Equal(t, "Dell Latitude 7440", a.DisplayName())
	assert.EqualValues(t, 2, f.usage(t, f.admin.TenantID).Assets)

	other := f.tenant(t, "globex", "g1")
	c := f.create(t, other)
	assert.Equal(t, "AST-000001", c.Tag)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)

	_, err := f.svc.Create(ctx, f.admin, models.CreateAssetRequest{DeviceType: "toaster"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.svc.Create(ctx, f.admin, models.CreateAssetRequest{DeviceType: models.DeviceMonitor, WarrantyStart: &start, WarrantyEnd: &end})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Zero(t, f.usage(t, f.admin.TenantID).Assets)
}

func TestCreateBeyondFreeTierQuota(t *testing.T) {
	f := setup(t)
	for i := 0; i < 50; i++ {
		f.create(t, f.admin)
	}

	_, err := f.svc.Create(context.Background(), f.admin, models.CreateAssetRequest{DeviceType: models.DevicePhone})
	var qe *models.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, &models.QuotaExceededError{Kind: models.ResourceAsset, Limit: 50, Attempted: 51}, qe)

	assert.EqualValues(t, 50, f.usage(t, f.admin.TenantID).Assets)
	_, total, err := f.svc.List(context.Background(), f.admin, models.AssetFilter{})
	require.NoError(t, err)
	assert.Equal(t, 50, total)
}

func TestAssignTwiceFailsWithAlreadyAssigned(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)

	rec, err := f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "admin", rec.AssignedByUserID)

	got, err := f.svc.Get(ctx, f.admin, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetInUse, got.Status)
	require.NotNil(t, got.AssignedToUserID)
	assert.Equal(t, "u1", *got.AssignedToUserID)

	_, err = f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{UserID: "u2"})
	var already *models.AlreadyAssignedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, a.ID, already.AssetID)

	require.NoError(t, f.st.InTenant(ctx, f.admin.TenantID, func(sc store.Scope) error {
		ns, err := sc.ListNotifications(ctx, "u1", true)
		require.NoError(t, err)
		require.Len(t, ns, 1)
		assert.Equal(t, models.NotifyAssetAssigned, ns[0].Type)
		return nil
	}))
}

func TestAssignRequiresUserOfSameTenant(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)
	f.tenant(t, "globex", "outsider")

	_, err := f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{UserID: "outsider"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{})
	assert.ErrorIs(t, err, models.ErrValidation)

	got, err := f.svc.Get(ctx, f.admin, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetAvailable, got.Status)
}

func TestOtherTenantCannotSeeAsset(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)
	other := f.tenant(t, "globex", "g1")

	_, err := f.svc.Get(ctx, other, a.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, models.ErrNotFound.Error(), err.Error())

	_, err = f.svc.Retire(ctx, other, a.ID, models.RetireAssetRequest{})
	assert.ErrorIs(t, err, models.ErrNotFound)
	err = f.svc.Delete(ctx, other, a.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := f.svc.Get(ctx, f.admin, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetAvailable, got.Status)
}

func TestReturn(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)

	_, err := f.svc.Return(ctx, f.admin, a.ID, models.ReturnAssetRequest{})
	var ist *models.InvalidStateTransitionError
	require.ErrorAs(t, err, &ist)
	assert.Equal(t, "available", ist.From)

	_, err = f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{UserID: "u1"})
	require.NoError(t, err)

	notes := "scratched lid"
	rec, err := f.svc.Return(ctx, f.admin, a.ID, models.ReturnAssetRequest{Condition: "fair", Notes: &notes})
	require.NoError(t, err)
	assert.False(t, rec.IsActive())
	assert.Equal(t, models.ConditionFair, *rec.ReturnCondition)

	got, err := f.svc.Get(ctx, f.admin, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetAvailable, got.Status)
	assert.Nil(t, got.AssignedToUserID)

	_, err = f.svc.ReturnAssignment(ctx, f.admin, rec.ID, models.ReturnAssetRequest{})
	var na *models.NotActiveError
	require.ErrorAs(t, err, &na)

	_, err = f.svc.Return(ctx, f.admin, a.ID, models.ReturnAssetRequest{Condition: "mint"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestReturnAssignmentByID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)

	rec, err := f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{UserID: "u2"})
	require.NoError(t, err)
	closed, err := f.svc.ReturnAssignment(ctx, f.admin, rec.ID, models.ReturnAssetRequest{Condition: "good"})
	require.NoError(t, err)
	assert.Equal(t, "admin", *closed.ReturnedByUserID)

	got, err := f.svc.Get(ctx, f.admin, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetAvailable, got.Status)

	mine, err := f.svc.AssignmentsForUser(ctx, f.admin, "u2")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestRetireClosesCustodyAndIsTerminal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)
	_, err := f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{UserID: "u1"})
	require.NoError(t, err)

	reason := "battery swelling"
	retired, err := f.svc.Retire(ctx, f.admin, a.ID, models.RetireAssetRequest{Reason: &reason})
	require.NoError(t, err)
	assert.Equal(t, models.AssetRetired, retired.Status)
	assert.Nil(t, retired.AssignedToUserID)

	h, err := f.svc.History(ctx, f.admin, a.ID)
	require.NoError(t, err)
	require.Len(t, h.Assignments, 1)
	assert.False(t, h.Assignments[0].IsActive())
	assert.Equal(t, "asset retired: battery swelling", *h.Assignments[0].ReturnNotes)

	for _, op := range []func() error{
		func() error {
			_, err := f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{UserID: "u2"})
			return err
		},
		func() error { _, err := f.svc.Retire(ctx, f.admin, a.ID, models.RetireAssetRequest{}); return err },
		func() error { _, err := f.svc.ReportLost(ctx, f.admin, a.ID, nil); return err },
		func() error {
			_, err := f.svc.Recover(ctx, f.admin, a.ID, models.RecoverAssetRequest{Confirm: true})
			return err
		},
	} {
		var ist *models.InvalidStateTransitionError
		require.ErrorAs(t, op(), &ist)
		assert.Equal(t, "retired", ist.From)
	}
}

func TestLostAndRecover(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)
	_, err := f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{UserID: "u1"})
	require.NoError(t, err)

	lost, err := f.svc.ReportLost(ctx, f.admin, a.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AssetLost, lost.Status)
	assert.Nil(t, lost.AssignedToUserID)

	h, err := f.svc.History(ctx, f.admin, a.ID)
	require.NoError(t, err)
	assert.True(t, h.Assignments[0].IsActive(), "custody stays open while lost")

	_, err = f.svc.Recover(ctx, f.admin, a.ID, models.RecoverAssetRequest{})
	assert.ErrorIs(t, err, models.ErrConfirmationRequired)

	found, err := f.svc.Recover(ctx, f.admin, a.ID, models.RecoverAssetRequest{Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, models.AssetAvailable, found.Status)

	h, err = f.svc.History(ctx, f.admin, a.ID)
	require.NoError(t, err)
	assert.False(t, h.Assignments[0].IsActive())

	_, err = f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{UserID: "u2"})
	assert.NoError(t, err)
}

func TestMaintenanceKeepsCustody(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)
	_, err := f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{UserID: "u1"})
	require.NoError(t, err)

	require.NoError(t, f.st.InTenant(ctx, f.admin.TenantID, func(sc store.Scope) error {
		in, tr, err := f.svc.EnterMaintenance(ctx, sc, a.ID)
		require.NoError(t, err)
		assert.Equal(t, Transition{AssetID: a.ID, From: models.AssetInUse, To: models.AssetMaintenance}, tr)
		assert.Nil(t, in.AssignedToUserID)
		return nil
	}))

	_, err = f.svc.Assign(ctx, f.admin, a.ID, models.AssignAssetRequest{UserID: "u2"})
	var ist *models.InvalidStateTransitionError
	require.ErrorAs(t, err, &ist)

	require.NoError(t, f.st.InTenant(ctx, f.admin.TenantID, func(sc store.Scope) error {
		out, tr, err := f.svc.LeaveMaintenance(ctx, sc, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AssetInUse, tr.To)
		require.NotNil(t, out.AssignedToUserID)
		assert.Equal(t, "u1", *out.AssignedToUserID)
		return nil
	}))
}

func TestMaintenanceWithoutCustodyReturnsToAvailable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)

	require.NoError(t, f.st.InTenant(ctx, f.admin.TenantID, func(sc store.Scope) error {
		if _, _, err := f.svc.EnterMaintenance(ctx, sc, a.ID); err != nil {
			return err
		}
		out, tr, err := f.svc.LeaveMaintenance(ctx, sc, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AssetAvailable, tr.To)
		assert.Nil(t, out.AssignedToUserID)

		_, tr, err = f.svc.LeaveMaintenance(ctx, sc, a.ID)
		require.NoError(t, err)
		assert.Equal(t, Transition{}, tr)
		return nil
	}))
}

func TestRetireCancelsOpenMaintenance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)

	require.NoError(t, f.st.InTenant(ctx, f.admin.TenantID, func(sc store.Scope) error {
		if _, _, err := f.svc.EnterMaintenance(ctx, sc, a.ID); err != nil {
			return err
		}
		return sc.InsertMaintenance(ctx, &models.Maintenance{
			ID: "m1", TenantID: sc.TenantID(), AssetID: a.ID, Type: models.MaintenanceRepair,
			Title: "Fan noise", Status: models.MaintenancePending, RowVersion: 1,
		})
	}))

	_, err := f.svc.Retire(ctx, f.admin, a.ID, models.RetireAssetRequest{})
	require.NoError(t, err)

	h, err := f.svc.History(ctx, f.admin, a.ID)
	require.NoError(t, err)
	require.Len(t, h.Maintenance, 1)
	assert.Equal(t, models.MaintenanceCancelled, h.Maintenance[0].Status)
	assert.NotNil(t, h.Maintenance[0].CancelledAt)
}

func TestUpdate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)

	name, loc := "Reception laptop", "HQ 2F"
	end := time.Date(2028, 1, 31, 15, 0, 0, 0, time.UTC)
	got, err := f.svc.Update(ctx, f.admin, a.ID, models.UpdateAssetRequest{Name: &name, Location: &loc, WarrantyEnd: &end})
	require.NoError(t, err)
	assert.Equal(t, "Reception laptop", got.DisplayName())
	assert.Equal(t, "HQ 2F", *got.Location)
	assert.Equal(t, time.Date(2028, 1, 31, 0, 0, 0, 0, time.UTC), *got.WarrantyEnd)
	assert.EqualValues(t, 2, got.RowVersion)

	start := time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.Update(ctx, f.admin, a.ID, models.UpdateAssetRequest{WarrantyStart: &start})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestWarrantyWindowComparesCalendarDays(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.create(t, f.admin)

	// same UTC day, end earlier on the clock than start
	start := time.Date(2027, 6, 1, 18, 0, 0, 0, time.UTC)
	end := time.Date(2027, 6, 1, 9, 0, 0, 0, time.UTC)
	got, err := f.svc.Update(ctx, f.admin, a.ID, models.UpdateAssetRequest{WarrantyStart: &start, WarrantyEnd: &end})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC), *got.WarrantyStart)
	assert.Equal(t, *got.WarrantyStart, *got.WarrantyEnd)

	mfr := "Lenovo"
	created, err := f.svc.Create(ctx, f.admin, models.CreateAssetRequest{
		DeviceType: models.DeviceLaptop, Manufacturer: &mfr, WarrantyStart: &start, WarrantyEnd: &end,
	})
	require.NoError(t, err)
	assert.Equal(t, *created.WarrantyStart, *created.WarrantyEnd)

	dayBefore := time.Date(2027, 5, 31, 23, 59, 0, 0, time.UTC)
	_, err = f.svc.Update(ctx, f.admin, a.ID, models.UpdateAssetRequest{WarrantyEnd: &dayBefore})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	fresh := f.create(t, f.admin)
	used := f.create(t, f.admin)

	_, err := f.atts.Upload(ctx, f.admin, models.OwnerAsset, fresh.ID, models.Upload{
		FileName: "photo.jpg", ContentType: "image/jpeg", Category: models.CategoryPhoto, Data: []byte("jpeg"),
	}, nil)
	require.NoError(t, err)

	_, err = f.svc.Assign(ctx, f.admin, used.ID, models.AssignAssetRequest{UserID: "u1"})
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, f.admin, used.ID, models.ReturnAssetRequest{})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.admin, used.ID), models.ErrHasHistory)

	require.NoError(t, f.svc.Delete(ctx, f.admin, fresh.ID))
	_, err = f.svc.Get(ctx, f.admin, fresh.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	u := f.usage(t, f.admin.TenantID)
	assert.EqualValues(t, 1, u.Assets)
	assert.Zero(t, u.StorageBytes)
}

func TestList(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.create(t, f.admin)
	}
	serial := "SN-XYZ-9"
	mon, err := f.svc.Create(ctx, f.admin, models.CreateAssetRequest{DeviceType: models.DeviceMonitor, SerialNumber: &serial})
	require.NoError(t, err)
	_, err = f.svc.Assign(ctx, f.admin, mon.ID, models.AssignAssetRequest{UserID: "u2"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter models.AssetFilter
		total  int
		page   int
	}{
		{"all", models.AssetFilter{}, 4, 4},
		{"paged", models.AssetFilter{Limit: 2, Offset: 3}, 4, 1},
		{"status", models.AssetFilter{Status: models.AssetInUse}, 1, 1},
		{"device type", models.AssetFilter{DeviceType: models.DeviceLaptop}, 3, 3},
		{"assignee", models.AssetFilter{AssignedToUserID: "u2"}, 1, 1},
		{"query serial", models.AssetFilter{Query: "xyz"}, 1, 1},
		{"query tag", models.AssetFilter{Query: "ast-000002"}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := f.svc.List(ctx, f.admin, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)
			assert.Len(t, got, tt.page)
		})
	}

	_, _, err = f.svc.List(ctx, f.admin, models.AssetFilter{Status: "broken"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestUsageMatchesLiveAssets(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	var live []string
	for round := 0; round < 30; round++ {
		if round%3 == 2 && len(live) > 0 {
			require.NoError(t, f.svc.Delete(ctx, f.admin, live[0]))
			live = live[1:]
			continue
		}
		live = append(live, f.create(t, f.admin).ID)
	}
	_, total, err := f.svc.List(ctx, f.admin, models.AssetFilter{})
	require.NoError(t, err)
	assert.Equal(t, len(live), total)
	assert.EqualValues(t, len(live), f.usage(t, f.admin.TenantID).Assets)
}

type failingStore struct {
	*memory.Store
	fail error
}

func (s failingStore) InTenant(ctx context.Context, tenantID string, fn func(store.Scope) error) error {
	return s.fail
}

func TestCreateReleasesQuotaWhenPersistFails(t *testing.T) {
	f := setup(t)
	boom := errors.New("disk full")
	svc := NewService(failingStore{Store: f.st, fail: boom}, f.tenants, ledger.New(), f.atts, notify.NewOutbox(), nil, nil)

	_, err := svc.Create(context.Background(), f.admin, models.CreateAssetRequest{DeviceType: models.DeviceServer})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.usage(t, f.admin.TenantID).Assets)
}

func TestTransitionTableIsTotal(t *testing.T) {
	valid := map[string]bool{
		"available/assign": true, "available/send_to_maintenance": true, "available/retire": true, "available/report_lost": true,
		"in_use/return": true, "in_use/send_to_maintenance": true, "in_use/retire": true, "in_use/report_lost": true,
		"maintenance/complete_maintenance": true, "maintenance/retire": true, "maintenance/report_lost": true,
		"lost/recover": true, "lost/retire": true,
	}
	for _, st := range models.AssetStatuses {
		for _, ev := range models.AssetEvents {
			key := fmt.Sprintf("%s/%s", st, ev)
			_, err := models.NextAssetStatus(st, ev, false)
			if valid[key] {
				assert.NoError(t, err, key)
				continue
			}
			var ist *models.InvalidStateTransitionError
			assert.ErrorAs(t, err, &ist, key)
		}
	}
}
