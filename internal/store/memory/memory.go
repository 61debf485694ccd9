// Package memory is an in-process store.Store. Transactions are serialized by
// one mutex and run against a copy of the state that replaces the live state
// only when the callback succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"itam-api/internal/models"
	"itam-api/internal/store"
)

type state struct {
	seq           int64
	order         map[string]int64
	tenants       map[string]models.Tenant
	assetSeq      map[string]int64
	assets        map[string]models.Asset
	assignments   map[string]models.AssetAssignment
	maintenance   map[string]models.Maintenance
	attachments   map[string]models.Attachment
	alerts        map[string]models.WarrantyAlert
	notifications map[string]models.Notification
	users         map[string]models.User
}

func newState() *state {
	return &state{
		order:         map[string]int64{},
		tenants:       map[string]models.Tenant{},
		assetSeq:      map[string]int64{},
		assets:        map[string]models.Asset{},
		assignments:   map[string]models.AssetAssignment{},
		maintenance:   map[string]models.Maintenance{},
		attachments:   map[string]models.Attachment{},
		alerts:        map[string]models.WarrantyAlert{},
		notifications: map[string]models.Notification{},
		users:         map[string]models.User{},
	}
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies every table. Pointer fields are shared; rows are only ever
// replaced, never mutated through those pointers.
func (s *state) clone() *state {
	return &state{
		seq:           s.seq,
		order:         copyMap(s.order),
		tenants:       copyMap(s.tenants),
		assetSeq:      copyMap(s.assetSeq),
		assets:        copyMap(s.assets),
		assignments:   copyMap(s.assignments),
		maintenance:   copyMap(s.maintenance),
		attachments:   copyMap(s.attachments),
		alerts:        copyMap(s.alerts),
		notifications: copyMap(s.notifications),
		users:         copyMap(s.users),
	}
}

func (s *state) track(id string) {
	s.seq++
	s.order[id] = s.seq
}

// Store is a memory-backed store.Store
type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) Close() {}

func (s *Store) CreateTenant(_ context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.tenants[t.ID]; ok {
		return fmt.Errorf("tenant id %s: %w", t.ID, models.ErrConflict)
	}
	for _, existing := range s.st.tenants {
		if existing.Slug == t.Slug {
			return fmt.Errorf("tenant slug %q: %w", t.Slug, models.ErrConflict)
		}
	}
	s.st.tenants[t.ID] = *t
	s.st.track(t.ID)
	return nil
}

func (s *Store) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tenants[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &t, nil
}

func (s *Store) GetTenantBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.st.tenants {
		if t.Slug == slug {
			t := t
			return &t, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) ListTenants(_ context.Context) ([]models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Tenant, 0, len(s.st.tenants))
	for _, t := range s.st.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *Store) SetTenantActive(_ context.Context, id string, active bool) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tenants[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	t.IsActive = active
	t.UpdatedAt = time.Now().UTC()
	s.st.tenants[id] = t
	return &t, nil
}

func (s *Store) UpdateTenantPlan(_ context.Context, id string, tier models.Tier, limits models.Limits) (*models.Tenant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tenants[id]
	if !ok {
		return nil, false, models.ErrNotFound
	}
	if _, over := t.Usage.Exceeds(limits); over {
		return &t, false, nil
	}
	t.Tier = tier
	t.Limits = limits
	t.UpdatedAt = time.Now().UTC()
	s.st.tenants[id] = t
	return &t, true, nil
}

func (s *Store) ReserveUsage(_ context.Context, tenantID string, kind models.ResourceKind, delta int64) (*models.Tenant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tenants[tenantID]
	if !ok {
		return nil, false, models.ErrNotFound
	}
	if !t.IsActive || t.Usage.For(kind)+delta > t.Limits.For(kind) {
		return &t, false, nil
	}
	t.Usage = t.Usage.Add(kind, delta)
	t.UpdatedAt = time.Now().UTC()
	s.st.tenants[tenantID] = t
	return &t, true, nil
}

func (s *Store) ReleaseUsage(_ context.Context, tenantID string, kind models.ResourceKind, delta int64) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tenants[tenantID]
	if !ok {
		return nil, models.ErrNotFound
	}
	t.Usage = t.Usage.Add(kind, -delta)
	t.UpdatedAt = time.Now().UTC()
	s.st.tenants[tenantID] = t
	return &t, nil
}

func (s *Store) InTenant(ctx context.Context, tenantID string, fn func(store.Scope) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.tenants[tenantID]; !ok {
		return models.ErrNotFound
	}
	work := s.st.clone()
	if err := fn(&scope{st: work, tenantID: tenantID}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.st.users {
		if strings.EqualFold(u.Email, email) {
			u.Roles = append([]string(nil), u.Roles...)
			return &u, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.LastLoginAt = &at
	s.st.users[userID] = u
	return nil
}

func (s *Store) PendingNotifications(_ context.Context, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.st.notifications {
		if n.DeliveredAt == nil {
			out = append(out, n)
		}
	}
	sortByOrder(s.st, out, func(n models.Notification) string { return n.ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkNotificationsDelivered(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		n, ok := s.st.notifications[id]
		if !ok || n.DeliveredAt != nil {
			continue
		}
		n.DeliveredAt = &at
		s.st.notifications[id] = n
	}
	return nil
}

func sortByOrder[T any](st *state, rows []T, id func(T) string) {
	sort.SliceStable(rows, func(i, j int) bool {
		return st.order[id(rows[i])] < st.order[id(rows[j])]
	})
}
