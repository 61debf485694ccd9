package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"itam-api/internal/models"

	"github.com/lib/pq"
)

type scope struct {
	tx       *sql.Tx
	tenantID string
}

func (s *scope) TenantID() string { return s.tenantID }

func (s *scope) Tenant(ctx context.Context) (*models.Tenant, error) {
	return scanTenant(s.tx.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, s.tenantID))
}

func (s *scope) owned(tenantID string) error {
	return models.CheckTenant(s.tenantID, tenantID)
}

// Assets

const assetColumns = `id, tenant_id, asset_tag, name, device_type, manufacturer, model, serial_number,
	location, notes, status, assigned_to_user_id, warranty_start, warranty_end, purchase_date,
	purchase_cost_cents, vendor, order_number, specs, row_version, created_at, updated_at`

func scanAsset(row rowScanner) (*models.Asset, error) {
	var a models.Asset
	err := row.Scan(&a.ID, &a.TenantID, &a.Tag, &a.Name, &a.DeviceType, &a.Manufacturer, &a.Model,
		&a.SerialNumber, &a.Location, &a.Notes, &a.Status, &a.AssignedToUserID,
		&a.WarrantyStart, &a.WarrantyEnd, &a.PurchaseDate, &a.PurchaseCostCents, &a.Vendor,
		&a.OrderNumber, &a.Specs, &a.RowVersion, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func collectAssets(rows *sql.Rows) ([]models.Asset, error) {
	defer rows.Close()
	out := []models.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *scope) NextAssetTag(ctx context.Context) (string, error) {
	var seq int64
	err := s.tx.QueryRowContext(ctx,
		`UPDATE tenants SET asset_seq = asset_seq + 1 WHERE id = $1 RETURNING asset_seq`, s.tenantID).Scan(&seq)
	if err != nil {
		return "", mapErr(err)
	}
	return fmt.Sprintf("AST-%06d", seq), nil
}

func (s *scope) InsertAsset(ctx context.Context, a *models.Asset) error {
	if err := s.owned(a.TenantID); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		a.ID, s.tenantID, a.Tag, a.Name, a.DeviceType, a.Manufacturer, a.Model, a.SerialNumber,
		a.Location, a.Notes, a.Status, a.AssignedToUserID, a.WarrantyStart, a.WarrantyEnd, a.PurchaseDate,
		a.PurchaseCostCents, a.Vendor, a.OrderNumber, a.Specs, a.RowVersion, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("asset %s: %w", a.Tag, mapErr(err))
	}
	return nil
}

func (s *scope) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	return scanAsset(s.tx.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id::text = $1 AND tenant_id = $2`, id, s.tenantID))
}

// UpdateAsset writes every mutable column if the row version still matches
func (s *scope) UpdateAsset(ctx context.Context, a *models.Asset) error {
	res, err := s.tx.ExecContext(ctx, `
		UPDATE assets SET
			name = $4, device_type = $5, manufacturer = $6, model = $7, serial_number = $8,
			location = $9, notes = $10, status = $11, assigned_to_user_id = $12,
			warranty_start = $13, warranty_end = $14, purchase_date = $15, purchase_cost_cents = $16,
			vendor = $17, order_number = $18, specs = $19, updated_at = $20,
			row_version = row_version + 1
		WHERE id::text = $1 AND tenant_id = $2 AND row_version = $3`,
		a.ID, s.tenantID, a.RowVersion, a.Name, a.DeviceType, a.Manufacturer, a.Model, a.SerialNumber,
		a.Location, a.Notes, a.Status, a.AssignedToUserID, a.WarrantyStart, a.WarrantyEnd, a.PurchaseDate,
		a.PurchaseCostCents, a.Vendor, a.OrderNumber, a.Specs, a.UpdatedAt)
	if err := affected(res, err); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			if _, getErr := s.GetAsset(ctx, a.ID); getErr == nil {
				return models.ErrVersionConflict
			}
		}
		return err
	}
	a.RowVersion++
	return nil
}

func (s *scope) DeleteAsset(ctx context.Context, id string) error {
	res, err := s.tx.ExecContext(ctx, `DELETE FROM assets WHERE id::text = $1 AND tenant_id = $2`, id, s.tenantID)
	return affected(res, err)
}

var assetSortColumns = map[string]string{
	"id":           "asset_tag",
	"tag":          "asset_tag",
	"name":         "coalesce(name, manufacturer, model, '')",
	"status":       "status",
	"device_type":  "device_type",
	"created_at":   "created_at",
	"warranty_end": "warranty_end",
}

func (s *scope) ListAssets(ctx context.Context, f models.AssetFilter) ([]models.Asset, int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{s.tenantID}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.DeviceType != "" {
		add("device_type = $%d", f.DeviceType)
	}
	if f.AssignedToUserID != "" {
		add("assigned_to_user_id::text = $%d", f.AssignedToUserID)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		add(`(asset_tag ILIKE $%[1]d OR name ILIKE $%[1]d OR serial_number ILIKE $%[1]d
			OR manufacturer ILIKE $%[1]d OR model ILIKE $%[1]d OR location ILIKE $%[1]d)`, "%"+likeEscaper.Replace(q)+"%")
	}
	cond := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.tx.QueryRowContext(ctx, `SELECT count(*) FROM assets`+cond, args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}

	query := `SELECT ` + assetColumns + ` FROM assets` + cond + buildOrderBy(f.Sort, assetSortColumns) + `, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	out, err := collectAssets(rows)
	return out, total, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *scope) ListWarrantyCandidates(ctx context.Context) ([]models.Asset, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT `+assetColumns+` FROM assets
		WHERE tenant_id = $1 AND status <> 'retired' AND warranty_end IS NOT NULL
		ORDER BY asset_tag`, s.tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectAssets(rows)
}

// Assignments

const assignmentColumns = `id, tenant_id, asset_id, user_id, assigned_by_user_id, assigned_at, notes,
	returned_at, returned_by_user_id, return_condition, return_notes`

func scanAssignment(row rowScanner) (*models.AssetAssignment, error) {
	var a models.AssetAssignment
	err := row.Scan(&a.ID, &a.TenantID, &a.AssetID, &a.UserID, &a.AssignedByUserID, &a.AssignedAt, &a.Notes,
		&a.ReturnedAt, &a.ReturnedByUserID, &a.ReturnCondition, &a.ReturnNotes)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func collectAssignments(rows *sql.Rows) ([]models.AssetAssignment, error) {
	defer rows.Close()
	out := []models.AssetAssignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *scope) InsertAssignment(ctx context.Context, a *models.AssetAssignment) error {
	if err := s.owned(a.TenantID); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO asset_assignments (id, tenant_id, asset_id, user_id, assigned_by_user_id, assigned_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, s.tenantID, a.AssetID, a.UserID, a.AssignedByUserID, a.AssignedAt, a.Notes)
	if err != nil {
		err = mapErr(err)
		if errors.Is(err, models.ErrConflict) && strings.Contains(err.Error(), "asset_assignments_open_key") {
			return &models.AlreadyAssignedError{AssetID: a.AssetID}
		}
		return err
	}
	return nil
}

func (s *scope) GetAssignment(ctx context.Context, id string) (*models.AssetAssignment, error) {
	return scanAssignment(s.tx.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM asset_assignments WHERE id::text = $1 AND tenant_id = $2`, id, s.tenantID))
}

func (s *scope) ActiveAssignment(ctx context.Context, assetID string) (*models.AssetAssignment, error) {
	return scanAssignment(s.tx.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM asset_assignments
		WHERE asset_id::text = $1 AND tenant_id = $2 AND returned_at IS NULL
		FOR UPDATE`, assetID, s.tenantID))
}

func (s *scope) CloseAssignment(ctx context.Context, id string, ret models.AssignmentReturn) (*models.AssetAssignment, error) {
	a, err := scanAssignment(s.tx.QueryRowContext(ctx, `
		UPDATE asset_assignments
		SET returned_at = $3, returned_by_user_id = $4, return_condition = $5, return_notes = $6
		WHERE id::text = $1 AND tenant_id = $2 AND returned_at IS NULL
		RETURNING `+assignmentColumns,
		id, s.tenantID, ret.ReturnedAt, ret.ReturnedByUserID, ret.Condition, ret.Notes))
	if errors.Is(err, models.ErrNotFound) {
		if _, getErr := s.GetAssignment(ctx, id); getErr == nil {
			return nil, &models.NotActiveError{AssignmentID: id}
		}
	}
	return a, err
}

func (s *scope) ListAssignmentsByAsset(ctx context.Context, assetID string) ([]models.AssetAssignment, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT `+assignmentColumns+` FROM asset_assignments
		WHERE asset_id::text = $1 AND tenant_id = $2
		ORDER BY assigned_at, id`, assetID, s.tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectAssignments(rows)
}

func (s *scope) ListAssignmentsByUser(ctx context.Context, userID string) ([]models.AssetAssignment, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT `+assignmentColumns+` FROM asset_assignments
		WHERE user_id::text = $1 AND tenant_id = $2
		ORDER BY assigned_at, id`, userID, s.tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectAssignments(rows)
}

func (s *scope) CountAssignments(ctx context.Context, assetID string) (int, error) {
	return s.count(ctx, `SELECT count(*) FROM asset_assignments WHERE asset_id::text = $1 AND tenant_id = $2`, assetID)
}

func (s *scope) count(ctx context.Context, query, id string) (int, error) {
	var n int
	if err := s.tx.QueryRowContext(ctx, query, id, s.tenantID).Scan(&n); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

// Maintenance

const maintenanceColumns = `id, tenant_id, asset_id, type, title, description, status, scheduled_for,
	started_at, completed_at, cancelled_at, technician, cost_cents, resolution, created_by_user_id,
	row_version, created_at, updated_at`

func scanMaintenance(row rowScanner) (*models.Maintenance, error) {
	var m models.Maintenance
	err := row.Scan(&m.ID, &m.TenantID, &m.AssetID, &m.Type, &m.Title, &m.Description, &m.Status,
		&m.ScheduledFor, &m.StartedAt, &m.CompletedAt, &m.CancelledAt, &m.Technician, &m.CostCents,
		&m.Resolution, &m.CreatedByUserID, &m.RowVersion, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func (s *scope) InsertMaintenance(ctx context.Context, m *models.Maintenance) error {
	if err := s.owned(m.TenantID); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO maintenance (`+maintenanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		m.ID, s.tenantID, m.AssetID, m.Type, m.Title, m.Description, m.Status, m.ScheduledFor,
		m.StartedAt, m.CompletedAt, m.CancelledAt, m.Technician, m.CostCents, m.Resolution,
		m.CreatedByUserID, m.RowVersion, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("maintenance for asset %s: %w", m.AssetID, mapErr(err))
	}
	return nil
}

func (s *scope) GetMaintenance(ctx context.Context, id string) (*models.Maintenance, error) {
	m, err := scanMaintenance(s.tx.QueryRowContext(ctx,
		`SELECT `+maintenanceColumns+` FROM maintenance WHERE id::text = $1 AND tenant_id = $2`, id, s.tenantID))
	if err != nil {
		return nil, err
	}
	if m.Attachments, err = s.ListAttachments(ctx, models.OwnerMaintenance, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *scope) UpdateMaintenance(ctx context.Context, m *models.Maintenance) error {
	res, err := s.tx.ExecContext(ctx, `
		UPDATE maintenance SET
			type = $4, title = $5, description = $6, status = $7, scheduled_for = $8,
			started_at = $9, completed_at = $10, cancelled_at = $11, technician = $12,
			cost_cents = $13, resolution = $14, updated_at = $15,
			row_version = row_version + 1
		WHERE id::text = $1 AND tenant_id = $2 AND row_version = $3`,
		m.ID, s.tenantID, m.RowVersion, m.Type, m.Title, m.Description, m.Status, m.ScheduledFor,
		m.StartedAt, m.CompletedAt, m.CancelledAt, m.Technician, m.CostCents, m.Resolution, m.UpdatedAt)
	if err := affected(res, err); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			if _, getErr := s.GetMaintenance(ctx, m.ID); getErr == nil {
				return models.ErrVersionConflict
			}
		}
		return err
	}
	m.RowVersion++
	return nil
}

func (s *scope) DeleteMaintenance(ctx context.Context, id string) error {
	res, err := s.tx.ExecContext(ctx, `DELETE FROM maintenance WHERE id::text = $1 AND tenant_id = $2`, id, s.tenantID)
	return affected(res, err)
}

func (s *scope) ListMaintenance(ctx context.Context, assetID string) ([]models.Maintenance, error) {
	query := `SELECT ` + maintenanceColumns + ` FROM maintenance WHERE tenant_id = $1`
	args := []any{s.tenantID}
	if assetID != "" {
		query += ` AND asset_id::text = $2`
		args = append(args, assetID)
	}
	rows, err := s.tx.QueryContext(ctx, query+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	out := []models.Maintenance{}
	for rows.Next() {
		m, err := scanMaintenance(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// attachments are read after the cursor is closed; a tx has one connection
	for i := range out {
		if out[i].Attachments, err = s.ListAttachments(ctx, models.OwnerMaintenance, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *scope) CountMaintenance(ctx context.Context, assetID string) (int, error) {
	return s.count(ctx, `SELECT count(*) FROM maintenance WHERE asset_id::text = $1 AND tenant_id = $2`, assetID)
}

// Attachments

var attachmentTables = map[models.AttachmentOwnerKind]string{
	models.OwnerAsset:       "asset_attachments",
	models.OwnerMaintenance: "maintenance_attachments",
}

func attachmentTable(kind models.AttachmentOwnerKind) (string, error) {
	t, ok := attachmentTables[kind]
	if !ok {
		return "", models.ValidationError{Field: "owner_kind", Reason: fmt.Sprintf("unknown owner kind %q", kind)}
	}
	return t, nil
}

const attachmentColumns = `id, tenant_id, owner_id, file_name, storage_key, content_type, size_bytes,
	category, uploaded_by_user_id, uploaded_at`

func scanAttachment(row rowScanner, kind models.AttachmentOwnerKind) (*models.Attachment, error) {
	a := models.Attachment{OwnerKind: kind}
	err := row.Scan(&a.ID, &a.TenantID, &a.OwnerID, &a.FileName, &a.StorageKey, &a.ContentType,
		&a.SizeBytes, &a.Category, &a.UploadedByUserID, &a.UploadedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (s *scope) InsertAttachment(ctx context.Context, a *models.Attachment) error {
	if err := s.owned(a.TenantID); err != nil {
		return err
	}
	table, err := attachmentTable(a.OwnerKind)
	if err != nil {
		return err
	}
	_, err = s.tx.ExecContext(ctx, `
		INSERT INTO `+table+` (`+attachmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, s.tenantID, a.OwnerID, a.FileName, a.StorageKey, a.ContentType, a.SizeBytes,
		a.Category, a.UploadedByUserID, a.UploadedAt)
	if err != nil {
		return fmt.Errorf("attachment %s: %w", a.FileName, mapErr(err))
	}
	return nil
}

func (s *scope) GetAttachment(ctx context.Context, kind models.AttachmentOwnerKind, id string) (*models.Attachment, error) {
	table, err := attachmentTable(kind)
	if err != nil {
		return nil, err
	}
	return scanAttachment(s.tx.QueryRowContext(ctx,
		`SELECT `+attachmentColumns+` FROM `+table+` WHERE id::text = $1 AND tenant_id = $2`, id, s.tenantID), kind)
}

func (s *scope) DeleteAttachment(ctx context.Context, kind models.AttachmentOwnerKind, id string) error {
	table, err := attachmentTable(kind)
	if err != nil {
		return err
	}
	res, err := s.tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id::text = $1 AND tenant_id = $2`, id, s.tenantID)
	return affected(res, err)
}

func (s *scope) ListAttachments(ctx context.Context, kind models.AttachmentOwnerKind, ownerID string) ([]models.Attachment, error) {
	table, err := attachmentTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.tx.QueryContext(ctx, `
		SELECT `+attachmentColumns+` FROM `+table+`
		WHERE owner_id::text = $1 AND tenant_id = $2
		ORDER BY uploaded_at, id`, ownerID, s.tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := []models.Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Warranty alerts

const alertColumns = `id, tenant_id, asset_id, alert_type, warranty_end_date, days_remaining, created_at,
	acknowledged_at, acknowledged_by_user_id`

func scanAlert(row rowScanner) (*models.WarrantyAlert, error) {
	var a models.WarrantyAlert
	err := row.Scan(&a.ID, &a.TenantID, &a.AssetID, &a.Type, &a.WarrantyEndDate, &a.DaysRemaining,
		&a.CreatedAt, &a.AcknowledgedAt, &a.AcknowledgedByUserID)
	if err != nil {
		return nil, mapErr(err)
	}
	a.WarrantyEndDate = models.DateOnly(a.WarrantyEndDate)
	return &a, nil
}

// InsertAlert relies on the partial unique index over open alerts
func (s *scope) InsertAlert(ctx context.Context, a *models.WarrantyAlert) (bool, error) {
	if err := s.owned(a.TenantID); err != nil {
		return false, err
	}
	res, err := s.tx.ExecContext(ctx, `
		INSERT INTO warranty_alerts (id, tenant_id, asset_id, alert_type, warranty_end_date, days_remaining, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (asset_id, alert_type, warranty_end_date) WHERE acknowledged_at IS NULL DO NOTHING`,
		a.ID, s.tenantID, a.AssetID, a.Type, models.DateOnly(a.WarrantyEndDate), a.DaysRemaining, a.CreatedAt)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *scope) GetAlert(ctx context.Context, id string) (*models.WarrantyAlert, error) {
	return scanAlert(s.tx.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM warranty_alerts WHERE id::text = $1 AND tenant_id = $2`, id, s.tenantID))
}

func (s *scope) AcknowledgeAlert(ctx context.Context, id string, at time.Time, byUserID string) (*models.WarrantyAlert, error) {
	a, err := scanAlert(s.tx.QueryRowContext(ctx, `
		UPDATE warranty_alerts SET acknowledged_at = $3, acknowledged_by_user_id = $4
		WHERE id::text = $1 AND tenant_id = $2 AND acknowledged_at IS NULL
		RETURNING `+alertColumns, id, s.tenantID, at, byUserID))
	if errors.Is(err, models.ErrNotFound) {
		if _, getErr := s.GetAlert(ctx, id); getErr == nil {
			return nil, &models.AlreadyAcknowledgedError{AlertID: id}
		}
	}
	return a, err
}

func (s *scope) ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.WarrantyAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM warranty_alerts WHERE tenant_id = $1`
	args := []any{s.tenantID}
	if f.AssetID != "" {
		args = append(args, f.AssetID)
		query += fmt.Sprintf(" AND asset_id::text = $%d", len(args))
	}
	if f.UnacknowledgedOnly {
		query += " AND acknowledged_at IS NULL"
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := []models.WarrantyAlert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *scope) DeleteAlertsForAsset(ctx context.Context, assetID string) error {
	_, err := s.tx.ExecContext(ctx,
		`DELETE FROM warranty_alerts WHERE asset_id::text = $1 AND tenant_id = $2`, assetID, s.tenantID)
	return mapErr(err)
}

// Notifications

const notificationColumns = `id, tenant_id, user_id, title, message, type, link, related_entity_type,
	related_entity_id, is_read, created_at, delivered_at`

func collectNotifications(rows *sql.Rows) ([]models.Notification, error) {
	defer rows.Close()
	out := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.TenantID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.Link,
			&n.RelatedEntityType, &n.RelatedEntityID, &n.IsRead, &n.CreatedAt, &n.DeliveredAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *scope) InsertNotification(ctx context.Context, n *models.Notification) error {
	if err := s.owned(n.TenantID); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		n.ID, s.tenantID, n.UserID, n.Title, n.Message, n.Type, n.Link, n.RelatedEntityType,
		n.RelatedEntityID, n.IsRead, n.CreatedAt, n.DeliveredAt)
	return mapErr(err)
}

func (s *scope) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id::text = $1 AND tenant_id = $2`
	if unreadOnly {
		query += ` AND NOT is_read`
	}
	rows, err := s.tx.QueryContext(ctx, query+` ORDER BY created_at, id`, userID, s.tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectNotifications(rows)
}

func (s *scope) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := s.tx.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id::text = $1 AND user_id::text = $2 AND tenant_id = $3`, id, userID, s.tenantID)
	return affected(res, err)
}

// Users

const userColumns = `id, tenant_id, email, password_hash, first_name, last_name, roles, is_active,
	created_at, updated_at, last_login_at`

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u     models.User
		roles pq.StringArray
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &roles,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt)
	if err != nil {
		return nil, mapErr(err)
	}
	u.Roles = []string(roles)
	return &u, nil
}

func (s *scope) InsertUser(ctx context.Context, u *models.User) error {
	if err := s.owned(u.TenantID); err != nil {
		return err
	}
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, s.tenantID, u.Email, u.PasswordHash, u.FirstName, u.LastName, pq.Array(u.Roles),
		u.IsActive, u.CreatedAt, u.UpdatedAt, u.LastLoginAt)
	if err != nil {
		return fmt.Errorf("user %s: %w", u.Email, mapErr(err))
	}
	return nil
}

func (s *scope) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id::text = $1 AND tenant_id = $2`, id, s.tenantID))
}

func (s *scope) DeleteUser(ctx context.Context, id string) error {
	res, err := s.tx.ExecContext(ctx, `DELETE FROM users WHERE id::text = $1 AND tenant_id = $2`, id, s.tenantID)
	return affected(res, err)
}

func (s *scope) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 ORDER BY created_at, id`, s.tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *scope) ActiveUserIDsWithRole(ctx context.Context, role string) ([]string, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT id FROM users
		WHERE tenant_id = $1 AND is_active AND $2 = ANY(roles)
		ORDER BY created_at, id`, s.tenantID, role)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
