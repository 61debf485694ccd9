package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"itam-api/internal/models"
)

type scope struct {
	st       *state
	tenantID string
}

func (s *scope) TenantID() string { return s.tenantID }

func (s *scope) Tenant(_ context.Context) (*models.Tenant, error) {
	t, ok := s.st.tenants[s.tenantID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &t, nil
}

// owned turns a row of another tenant into a not-found
func (s *scope) owned(tenantID string) error {
	return models.CheckTenant(s.tenantID, tenantID)
}

// Assets

func (s *scope) NextAssetTag(_ context.Context) (string, error) {
	s.st.assetSeq[s.tenantID]++
	return fmt.Sprintf("AST-%06d", s.st.assetSeq[s.tenantID]), nil
}

func (s *scope) InsertAsset(_ context.Context, a *models.Asset) error {
	if err := s.owned(a.TenantID); err != nil {
		return err
	}
	for _, existing := range s.st.assets {
		if existing.TenantID == s.tenantID && existing.Tag == a.Tag {
			return fmt.Errorf("asset tag %q: %w", a.Tag, models.ErrConflict)
		}
	}
	row := *a
	row.Specs = a.Specs.Clone()
	s.st.assets[a.ID] = row
	s.st.track(a.ID)
	return nil
}

func (s *scope) GetAsset(_ context.Context, id string) (*models.Asset, error) {
	a, ok := s.st.assets[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := s.owned(a.TenantID); err != nil {
		return nil, err
	}
	a.Specs = a.Specs.Clone()
	return &a, nil
}

func (s *scope) UpdateAsset(_ context.Context, a *models.Asset) error {
	cur, ok := s.st.assets[a.ID]
	if !ok {
		return models.ErrNotFound
	}
	if err := s.owned(cur.TenantID); err != nil {
		return err
	}
	if cur.RowVersion != a.RowVersion {
		return models.ErrVersionConflict
	}
	a.RowVersion++
	row := *a
	row.TenantID = cur.TenantID
	row.Specs = a.Specs.Clone()
	s.st.assets[a.ID] = row
	return nil
}

func (s *scope) DeleteAsset(_ context.Context, id string) error {
	a, ok := s.st.assets[id]
	if !ok {
		return models.ErrNotFound
	}
	if err := s.owned(a.TenantID); err != nil {
		return err
	}
	delete(s.st.assets, id)
	return nil
}

func (s *scope) ListAssets(_ context.Context, f models.AssetFilter) ([]models.Asset, int, error) {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	var out []models.Asset
	for _, a := range s.st.assets {
		if a.TenantID != s.tenantID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.DeviceType != "" && a.DeviceType != f.DeviceType {
			continue
		}
		if f.AssignedToUserID != "" && (a.AssignedToUserID == nil || *a.AssignedToUserID != f.AssignedToUserID) {
			continue
		}
		if q != "" && !matchesQuery(&a, q) {
			continue
		}
		out = append(out, a)
	}
	sortAssets(out, f.Sort)
	total := len(out)
	return paginate(out, f.Limit, f.Offset), total, nil
}

func matchesQuery(a *models.Asset, q string) bool {
	fields := []string{a.Tag, a.DisplayName()}
	for _, p := range []*string{a.SerialNumber, a.Manufacturer, a.Model, a.Location} {
		if p != nil {
			fields = append(fields, *p)
		}
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

var assetKeys = map[string]func(a, b *models.Asset) int{
	"tag":         func(a, b *models.Asset) int { return strings.Compare(a.Tag, b.Tag) },
	"name":        func(a, b *models.Asset) int { return strings.Compare(a.DisplayName(), b.DisplayName()) },
	"status":      func(a, b *models.Asset) int { return strings.Compare(string(a.Status), string(b.Status)) },
	"device_type": func(a, b *models.Asset) int { return strings.Compare(string(a.DeviceType), string(b.DeviceType)) },
	"created_at":  func(a, b *models.Asset) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"warranty_end": func(a, b *models.Asset) int {
		switch {
		case a.WarrantyEnd == nil && b.WarrantyEnd == nil:
			return 0
		case a.WarrantyEnd == nil:
			return 1
		case b.WarrantyEnd == nil:
			return -1
		}
		return a.WarrantyEnd.Compare(*b.WarrantyEnd)
	},
}

// sortAssets orders by the comma separated keys, then by tag
func sortAssets(rows []models.Asset, keys string) {
	var cmps []func(a, b *models.Asset) int
	for _, raw := range strings.Split(keys, ",") {
		k := strings.TrimSpace(raw)
		desc := strings.HasPrefix(k, "-")
		cmp, ok := assetKeys[strings.TrimPrefix(k, "-")]
		if !ok {
			continue
		}
		if desc {
			asc := cmp
			cmp = func(a, b *models.Asset) int { return -asc(a, b) }
		}
		cmps = append(cmps, cmp)
	}
	cmps = append(cmps, assetKeys["tag"])
	sort.SliceStable(rows, func(i, j int) bool {
		for _, cmp := range cmps {
			if c := cmp(&rows[i], &rows[j]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func (s *scope) ListWarrantyCandidates(_ context.Context) ([]models.Asset, error) {
	var out []models.Asset
	for _, a := range s.st.assets {
		if a.TenantID == s.tenantID && a.Status != models.AssetRetired && a.WarrantyEnd != nil {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

// Assignments

func (s *scope) InsertAssignment(_ context.Context, a *models.AssetAssignment) error {
	if err := s.owned(a.TenantID); err != nil {
		return err
	}
	for _, existing := range s.st.assignments {
		if existing.AssetID == a.AssetID && existing.ReturnedAt == nil {
			return &models.AlreadyAssignedError{AssetID: a.AssetID}
		}
	}
	s.st.assignments[a.ID] = *a
	s.st.track(a.ID)
	return nil
}

func (s *scope) GetAssignment(_ context.Context, id string) (*models.AssetAssignment, error) {
	a, ok := s.st.assignments[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := s.owned(a.TenantID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *scope) ActiveAssignment(_ context.Context, assetID string) (*models.AssetAssignment, error) {
	for _, a := range s.st.assignments {
		if a.TenantID == s.tenantID && a.AssetID == assetID && a.ReturnedAt == nil {
			return &a, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *scope) CloseAssignment(_ context.Context, id string, ret models.AssignmentReturn) (*models.AssetAssignment, error) {
	a, ok := s.st.assignments[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := s.owned(a.TenantID); err != nil {
		return nil, err
	}
	if a.ReturnedAt != nil {
		return nil, &models.NotActiveError{AssignmentID: id}
	}
	at := ret.ReturnedAt
	by := ret.ReturnedByUserID
	cond := ret.Condition
	a.ReturnedAt = &at
	a.ReturnedByUserID = &by
	a.ReturnCondition = &cond
	a.ReturnNotes = ret.Notes
	s.st.assignments[id] = a
	return &a, nil
}

func (s *scope) listAssignments(match func(models.AssetAssignment) bool) []models.AssetAssignment {
	var out []models.AssetAssignment
	for _, a := range s.st.assignments {
		if a.TenantID == s.tenantID && match(a) {
			out = append(out, a)
		}
	}
	sortByOrder(s.st, out, func(a models.AssetAssignment) string { return a.ID })
	return out
}

func (s *scope) ListAssignmentsByAsset(_ context.Context, assetID string) ([]models.AssetAssignment, error) {
	return s.listAssignments(func(a models.AssetAssignment) bool { return a.AssetID == assetID }), nil
}

func (s *scope) ListAssignmentsByUser(_ context.Context, userID string) ([]models.AssetAssignment, error) {
	return s.listAssignments(func(a models.AssetAssignment) bool { return a.UserID == userID }), nil
}

func (s *scope) CountAssignments(ctx context.Context, assetID string) (int, error) {
	rows, err := s.ListAssignmentsByAsset(ctx, assetID)
	return len(rows), err
}

// Maintenance

func (s *scope) InsertMaintenance(_ context.Context, m *models.Maintenance) error {
	if err := s.owned(m.TenantID); err != nil {
		return err
	}
	row := *m
	row.Attachments = nil
	s.st.maintenance[m.ID] = row
	s.st.track(m.ID)
	return nil
}

func (s *scope) GetMaintenance(ctx context.Context, id string) (*models.Maintenance, error) {
	m, ok := s.st.maintenance[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := s.owned(m.TenantID); err != nil {
		return nil, err
	}
	atts, err := s.ListAttachments(ctx, models.OwnerMaintenance, id)
	if err != nil {
		return nil, err
	}
	m.Attachments = atts
	return &m, nil
}

func (s *scope) UpdateMaintenance(_ context.Context, m *models.Maintenance) error {
	cur, ok := s.st.maintenance[m.ID]
	if !ok {
		return models.ErrNotFound
	}
	if err := s.owned(cur.TenantID); err != nil {
		return err
	}
	if cur.RowVersion != m.RowVersion {
		return models.ErrVersionConflict
	}
	m.RowVersion++
	row := *m
	row.TenantID = cur.TenantID
	row.Attachments = nil
	s.st.maintenance[m.ID] = row
	return nil
}

func (s *scope) DeleteMaintenance(_ context.Context, id string) error {
	m, ok := s.st.maintenance[id]
	if !ok {
		return models.ErrNotFound
	}
	if err := s.owned(m.TenantID); err != nil {
		return err
	}
	delete(s.st.maintenance, id)
	return nil
}

func (s *scope) ListMaintenance(ctx context.Context, assetID string) ([]models.Maintenance, error) {
	var out []models.Maintenance
	for _, m := range s.st.maintenance {
		if m.TenantID == s.tenantID && (assetID == "" || m.AssetID == assetID) {
			atts, err := s.ListAttachments(ctx, models.OwnerMaintenance, m.ID)
			if err != nil {
				return nil, err
			}
			m.Attachments = atts
			out = append(out, m)
		}
	}
	sortByOrder(s.st, out, func(m models.Maintenance) string { return m.ID })
	return out, nil
}

func (s *scope) CountMaintenance(_ context.Context, assetID string) (int, error) {
	n := 0
	for _, m := range s.st.maintenance {
		if m.TenantID == s.tenantID && m.AssetID == assetID {
			n++
		}
	}
	return n, nil
}

// Attachments

func (s *scope) InsertAttachment(_ context.Context, a *models.Attachment) error {
	if err := s.owned(a.TenantID); err != nil {
		return err
	}
	for _, existing := range s.st.attachments {
		if existing.StorageKey == a.StorageKey {
			return fmt.Errorf("storage key %q: %w", a.StorageKey, models.ErrConflict)
		}
	}
	s.st.attachments[a.ID] = *a
	s.st.track(a.ID)
	return nil
}

func (s *scope) GetAttachment(_ context.Context, kind models.AttachmentOwnerKind, id string) (*models.Attachment, error) {
	a, ok := s.st.attachments[id]
	if !ok || a.OwnerKind != kind {
		return nil, models.ErrNotFound
	}
	if err := s.owned(a.TenantID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *scope) DeleteAttachment(ctx context.Context, kind models.AttachmentOwnerKind, id string) error {
	if _, err := s.GetAttachment(ctx, kind, id); err != nil {
		return err
	}
	delete(s.st.attachments, id)
	return nil
}

func (s *scope) ListAttachments(_ context.Context, kind models.AttachmentOwnerKind, ownerID string) ([]models.Attachment, error) {
	out := []models.Attachment{}
	for _, a := range s.st.attachments {
		if a.TenantID == s.tenantID && a.OwnerKind == kind && a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sortByOrder(s.st, out, func(a models.Attachment) string { return a.ID })
	return out, nil
}

// Alerts

func (s *scope) InsertAlert(_ context.Context, a *models.WarrantyAlert) (bool, error) {
	if err := s.owned(a.TenantID); err != nil {
		return false, err
	}
	end := models.DateOnly(a.WarrantyEndDate)
	for _, existing := range s.st.alerts {
		if existing.AssetID == a.AssetID && existing.Type == a.Type &&
			models.DateOnly(existing.WarrantyEndDate).Equal(end) && existing.AcknowledgedAt == nil {
			return false, nil
		}
	}
	row := *a
	row.WarrantyEndDate = end
	s.st.alerts[a.ID] = row
	s.st.track(a.ID)
	return true, nil
}

func (s *scope) GetAlert(_ context.Context, id string) (*models.WarrantyAlert, error) {
	a, ok := s.st.alerts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := s.owned(a.TenantID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *scope) AcknowledgeAlert(ctx context.Context, id string, at time.Time, byUserID string) (*models.WarrantyAlert, error) {
	a, err := s.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.AcknowledgedAt != nil {
		return nil, &models.AlreadyAcknowledgedError{AlertID: id}
	}
	a.AcknowledgedAt = &at
	a.AcknowledgedByUserID = &byUserID
	s.st.alerts[id] = *a
	return a, nil
}

func (s *scope) ListAlerts(_ context.Context, f models.AlertFilter) ([]models.WarrantyAlert, error) {
	var out []models.WarrantyAlert
	for _, a := range s.st.alerts {
		if a.TenantID != s.tenantID {
			continue
		}
		if f.AssetID != "" && a.AssetID != f.AssetID {
			continue
		}
		if f.UnacknowledgedOnly && a.AcknowledgedAt != nil {
			continue
		}
		out = append(out, a)
	}
	sortByOrder(s.st, out, func(a models.WarrantyAlert) string { return a.ID })
	return paginate(out, f.Limit, f.Offset), nil
}

func (s *scope) DeleteAlertsForAsset(_ context.Context, assetID string) error {
	for id, a := range s.st.alerts {
		if a.TenantID == s.tenantID && a.AssetID == assetID {
			delete(s.st.alerts, id)
		}
	}
	return nil
}

// Notifications

func (s *scope) InsertNotification(_ context.Context, n *models.Notification) error {
	if err := s.owned(n.TenantID); err != nil {
		return err
	}
	s.st.notifications[n.ID] = *n
	s.st.track(n.ID)
	return nil
}

func (s *scope) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	var out []models.Notification
	for _, n := range s.st.notifications {
		if n.TenantID == s.tenantID && n.UserID == userID && (!unreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	sortByOrder(s.st, out, func(n models.Notification) string { return n.ID })
	return out, nil
}

func (s *scope) MarkNotificationRead(_ context.Context, userID, id string) error {
	n, ok := s.st.notifications[id]
	if !ok || n.UserID != userID {
		return models.ErrNotFound
	}
	if err := s.owned(n.TenantID); err != nil {
		return err
	}
	n.IsRead = true
	s.st.notifications[id] = n
	return nil
}

// Users

func (s *scope) InsertUser(_ context.Context, u *models.User) error {
	if err := s.owned(u.TenantID); err != nil {
		return err
	}
	for _, existing := range s.st.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("email %q: %w", u.Email, models.ErrConflict)
		}
	}
	row := *u
	row.Roles = append([]string(nil), u.Roles...)
	s.st.users[u.ID] = row
	s.st.track(u.ID)
	return nil
}

func (s *scope) GetUser(_ context.Context, id string) (*models.User, error) {
	u, ok := s.st.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := s.owned(u.TenantID); err != nil {
		return nil, err
	}
	u.Roles = append([]string(nil), u.Roles...)
	return &u, nil
}

// DeleteUser mirrors the user foreign keys of the SQL schema: any row that
// names the user blocks the delete, except notifications, which go with it.
func (s *scope) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	if ref := s.userReference(id); ref != "" {
		return fmt.Errorf("user %s is referenced by %s: %w", id, ref, models.ErrConflict)
	}
	for nid, n := range s.st.notifications {
		if n.UserID == id {
			delete(s.st.notifications, nid)
		}
	}
	delete(s.st.users, id)
	return nil
}

// userReference names the first kind of row that refers to user id
func (s *scope) userReference(id string) string {
	is := func(p *string) bool { return p != nil && *p == id }
	for _, a := range s.st.assets {
		if is(a.AssignedToUserID) {
			return "asset"
		}
	}
	for _, a := range s.st.assignments {
		if a.UserID == id || a.AssignedByUserID == id || is(a.ReturnedByUserID) {
			return "assignment"
		}
	}
	for _, m := range s.st.maintenance {
		if m.CreatedByUserID == id {
			return "maintenance"
		}
	}
	for _, a := range s.st.attachments {
		if a.UploadedByUserID == id {
			return "attachment"
		}
	}
	for _, a := range s.st.alerts {
		if is(a.AcknowledgedByUserID) {
			return "warranty alert"
		}
	}
	return ""
}

func (s *scope) ListUsers(_ context.Context) ([]models.User, error) {
	var out []models.User
	for _, u := range s.st.users {
		if u.TenantID == s.tenantID {
			u.Roles = append([]string(nil), u.Roles...)
			out = append(out, u)
		}
	}
	sortByOrder(s.st, out, func(u models.User) string { return u.ID })
	return out, nil
}

func (s *scope) ActiveUserIDsWithRole(_ context.Context, role string) ([]string, error) {
	var users []models.User
	for _, u := range s.st.users {
		if u.TenantID == s.tenantID && u.IsActive && u.HasRole(role) {
			users = append(users, u)
		}
	}
	sortByOrder(s.st, users, func(u models.User) string { return u.ID })
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids, nil
}

func paginate[T any](rows []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(rows) {
			return []T{}
		}
		rows = rows[offset:]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		return []T{}
	}
	return rows
}
