package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
)

var errStore = errors.New("store unavailable")

// faults queues errors per method name.
type faults struct {
	mu  sync.Mutex
	err map[string][]error
}

func (f *faults) failNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = make(map[string][]error)
	}
	f.err[method] = append(f.err[method], errs...)
}

func (f *faults) take(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.err[method]
	if len(q) == 0 {
		return nil
	}
	f.err[method] = q[1:]
	return q[0]
}

type fakeUsers struct {
	faults
	mu    sync.Mutex
	users map[string]*domain.User
	finds int
	delay time.Duration
}

func newFakeUsers(users ...*domain.User) *fakeUsers {
	f := &fakeUsers{users: make(map[string]*domain.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) FindByID(ctx context.Context, id string) (*domain.User, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.take("FindByID"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	out := *u
	out.Roles = append([]domain.RoleAssignment(nil), u.Roles...)
	return &out, nil
}

func (f *fakeUsers) findCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finds
}

func (f *fakeUsers) ListRoles(ctx context.Context, userID string) ([]domain.RoleAssignment, error) {
	if err := f.take("ListRoles"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	return append([]domain.RoleAssignment(nil), u.Roles...), nil
}

func (f *fakeUsers) SetRoleActive(ctx context.Context, userID string, role domain.RoleName, active bool) error {
	if err := f.take("SetRoleActive"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil
	}
	for i := range u.Roles {
		if u.Roles[i].RoleName == role {
			u.Roles[i].IsActive = active
			return nil
		}
	}
	if active {
		u.Roles = append(u.Roles, domain.RoleAssignment{RoleName: role, AssignedAt: time.Now(), IsActive: true})
	}
	return nil
}

func (f *fakeUsers) ReplaceRoles(ctx context.Context, userID string, roles []domain.RoleName) error {
	if err := f.take("ReplaceRoles"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil
	}
	u.Roles = nil
	for _, r := range roles {
		u.Roles = append(u.Roles, domain.RoleAssignment{RoleName: r, AssignedAt: time.Now(), IsActive: true})
	}
	return nil
}

func (f *fakeUsers) Delete(ctx context.Context, id string) (bool, error) {
	if err := f.take("Delete"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[id]
	delete(f.users, id)
	return ok, nil
}

func (f *fakeUsers) activeRoles(id string) []domain.RoleName {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil
	}
	return domain.ActiveRoles(u.Roles)
}

type fakePlans struct {
	faults
	mu    sync.Mutex
	plans map[string]*domain.SubscriptionPlan
}

func newFakePlans(plans ...*domain.SubscriptionPlan) *fakePlans {
	f := &fakePlans{plans: make(map[string]*domain.SubscriptionPlan)}
	for _, p := range plans {
		f.plans[p.ID] = p
	}
	return f
}

func (f *fakePlans) FindByID(ctx context.Context, id string) (*domain.SubscriptionPlan, error) {
	if err := f.take("FindByID"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[id]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (f *fakePlans) ListVisible(ctx context.Context) ([]*domain.SubscriptionPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SubscriptionPlan
	for _, p := range f.plans {
		if p.IsActive && p.IsVisible {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

func (f *fakePlans) SetProviderPlanID(ctx context.Context, id, providerPlanID string) error {
	if err := f.take("SetProviderPlanID"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.plans[id]; ok {
		p.ProviderPlanID = providerPlanID
	}
	return nil
}

type fakeSubs struct {
	faults
	mu   sync.Mutex
	subs map[string]*domain.UserSubscription
	// hideUntil makes FindByID miss an id for the first n lookups.
	hideUntil map[string]int
}

func newFakeSubs(subs ...*domain.UserSubscription) *fakeSubs {
	f := &fakeSubs{subs: make(map[string]*domain.UserSubscription), hideUntil: make(map[string]int)}
	for _, s := range subs {
		f.subs[s.ID] = s
	}
	return f
}

func cloneSub(s *domain.UserSubscription) *domain.UserSubscription {
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func (f *fakeSubs) get(id string) *domain.UserSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil
	}
	return cloneSub(s)
}

func (f *fakeSubs) FindByID(ctx context.Context, id string) (*domain.UserSubscription, error) {
	if err := f.take("FindByID"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	if f.hideUntil[id] > 0 {
		f.hideUntil[id]--
		f.mu.Unlock()
		return nil, nil
	}
	f.mu.Unlock()
	return f.get(id), nil
}

func (f *fakeSubs) FindByProviderID(ctx context.Context, providerSubscriptionID string) (*domain.UserSubscription, error) {
	if err := f.take("FindByProviderID"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.ProviderSubscriptionID == providerSubscriptionID {
			return cloneSub(s), nil
		}
	}
	return nil, nil
}

func (f *fakeSubs) ListByUser(ctx context.Context, userID string) ([]*domain.UserSubscription, error) {
	if err := f.take("ListByUser"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.UserSubscription
	for _, s := range f.subs {
		if s.UserID == userID {
			out = append(out, cloneSub(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeSubs) ListStale(ctx context.Context, before time.Time, limit int) ([]*domain.UserSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.UserSubscription
	for _, s := range f.subs {
		if s.ProviderSubscriptionID == "" || s.Status.Terminal() {
			continue
		}
		if s.StatusCheckedAt == nil || s.StatusCheckedAt.Before(before) {
			out = append(out, cloneSub(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// checkActive mirrors the partial unique index on active subscriptions.
func (f *fakeSubs) checkActive(s *domain.UserSubscription) error {
	if s.Status != domain.StatusActive {
		return nil
	}
	for _, other := range f.subs {
		if other.ID != s.ID && other.UserID == s.UserID && other.Status == domain.StatusActive {
			return errors.New("duplicate key value violates unique constraint \"idx_user_subscriptions_one_active\"")
		}
	}
	return nil
}

func (f *fakeSubs) Update(ctx context.Context, s *domain.UserSubscription) error {
	if err := f.take("Update"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.subs[s.ID]
	if !ok {
		return errors.New("not found")
	}
	if err := f.checkActive(s); err != nil {
		return err
	}
	cur.Status = s.Status
	cur.StartDate = s.StartDate
	cur.EndDate = s.EndDate
	cur.Metadata = cloneSub(s).Metadata
	return nil
}

func (f *fakeSubs) ApplyProviderState(ctx context.Context, s *domain.UserSubscription, prev *time.Time) (bool, error) {
	if err := f.take("ApplyProviderState"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.subs[s.ID]
	if !ok {
		return false, nil
	}
	if !sameTime(cur.ProviderUpdatedAt, prev) {
		return false, nil
	}
	if err := f.checkActive(s); err != nil {
		return false, err
	}
	cur.Status = s.Status
	cur.EndDate = s.EndDate
	cur.ProviderUpdatedAt = s.ProviderUpdatedAt
	cur.StatusCheckedAt = s.StatusCheckedAt
	return true, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (f *fakeSubs) MarkChecked(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.subs[id]; ok {
		t := at
		cur.StatusCheckedAt = &t
	}
	return nil
}

func (f *fakeSubs) Delete(ctx context.Context, id string) (bool, error) {
	if err := f.take("Delete"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[id]
	delete(f.subs, id)
	return ok, nil
}

type fakeAccounts struct {
	faults
	mu       sync.Mutex
	accounts []*domain.ProviderAccount
}

func (f *fakeAccounts) FindActiveByUser(ctx context.Context, userID string) (*domain.ProviderAccount, error) {
	if err := f.take("FindActiveByUser"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.accounts) - 1; i >= 0; i-- {
		a := f.accounts[i]
		if a.UserID == userID && a.IsActive {
			out := *a
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeAccounts) ReplaceActive(ctx context.Context, a *domain.ProviderAccount) error {
	if err := f.take("ReplaceActive"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, old := range f.accounts {
		if old.UserID == a.UserID {
			old.IsActive = false
		}
	}
	cp := *a
	f.accounts = append(f.accounts, &cp)
	return nil
}

func (f *fakeAccounts) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	if err := f.take("UpdateTokens"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ID == id {
			a.AccessToken = accessToken
			a.RefreshToken = refreshToken
			a.ExpiresAt = expiresAt
		}
	}
	return nil
}

func (f *fakeAccounts) DeactivateByUser(ctx context.Context, userID string) (int, error) {
	if err := f.take("DeactivateByUser"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.accounts {
		if a.UserID == userID && a.IsActive {
			a.IsActive = false
			n++
		}
	}
	return n, nil
}

func (f *fakeAccounts) DeleteByUser(ctx context.Context, userID string) (int, error) {
	if err := f.take("DeleteByUser"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.accounts[:0]
	n := 0
	for _, a := range f.accounts {
		if a.UserID == userID {
			n++
			continue
		}
		kept = append(kept, a)
	}
	f.accounts = kept
	return n, nil
}

func (f *fakeAccounts) all() []*domain.ProviderAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.ProviderAccount, len(f.accounts))
	for i, a := range f.accounts {
		cp := *a
		out[i] = &cp
	}
	return out
}

// fakeContent counts rows per user and kind.
type fakeContent struct {
	faults
	mu            sync.Mutex
	posts         map[string]int
	bookings      map[string]int
	notifications map[string]int
	favorites     map[string]int
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		posts:         make(map[string]int),
		bookings:      make(map[string]int),
		notifications: make(map[string]int),
		favorites:     make(map[string]int),
	}
}

func (f *fakeContent) CountActivePosts(ctx context.Context, userID string) (int, error) {
	if err := f.take("CountActivePosts"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts[userID], nil
}

func (f *fakeContent) CountBookingsReceivedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bookings[userID], nil
}

func (f *fakeContent) drain(method string, m map[string]int, userID string) (int, error) {
	if err := f.take(method); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := m[userID]
	delete(m, userID)
	return n, nil
}

func (f *fakeContent) DeletePostsByUser(ctx context.Context, userID string) (int, error) {
	return f.drain("DeletePostsByUser", f.posts, userID)
}

func (f *fakeContent) DeleteBookingsByUser(ctx context.Context, userID string) (int, error) {
	return f.drain("DeleteBookingsByUser", f.bookings, userID)
}

func (f *fakeContent) DeleteNotificationsByUser(ctx context.Context, userID string) (int, error) {
	return f.drain("DeleteNotificationsByUser", f.notifications, userID)
}

func (f *fakeContent) DeleteFavoritesByUser(ctx context.Context, userID string) (int, error) {
	return f.drain("DeleteFavoritesByUser", f.favorites, userID)
}

type fakeSagas struct {
	faults
	mu   sync.Mutex
	runs map[string]*domain.SagaRun
}

func newFakeSagas() *fakeSagas {
	return &fakeSagas{runs: make(map[string]*domain.SagaRun)}
}

func (f *fakeSagas) Get(ctx context.Context, id string) (*domain.SagaRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

func (f *fakeSagas) Save(ctx context.Context, run *domain.SagaRun) error {
	if err := f.take("Save"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	if cur, ok := f.runs[run.ID]; ok && cur.CompletedStep > cp.CompletedStep {
		cp.CompletedStep = cur.CompletedStep
	}
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeSagas) ListResumable(ctx context.Context, kind string, before time.Time, limit int) ([]*domain.SagaRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SagaRun
	for _, r := range f.runs {
		if r.Kind != kind || r.UpdatedAt.After(before) {
			continue
		}
		if r.Status == domain.SagaRunning || r.Status == domain.SagaFailed {
			cp := *r
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSagas) backdate(id string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[id]; ok {
		r.UpdatedAt = r.UpdatedAt.Add(-d)
	}
}

type fakeEvents struct {
	faults
	mu     sync.Mutex
	events map[string]*domain.WebhookEvent
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{events: make(map[string]*domain.WebhookEvent)}
}

func (f *fakeEvents) Record(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	if err := f.take("Record"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.events[ev.ProviderEventID]; ok {
		return cur.ProcessedAt == nil, nil
	}
	cp := *ev
	f.events[ev.ProviderEventID] = &cp
	return true, nil
}

func (f *fakeEvents) MarkProcessed(ctx context.Context, providerEventID, processingErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.events[providerEventID]; ok {
		now := time.Now()
		cur.ProcessedAt = &now
		cur.ProcessingError = processingErr
	}
	return nil
}

func (f *fakeEvents) get(id string) *domain.WebhookEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return nil
	}
	cp := *ev
	return &cp
}

// recordingInvalidator counts invalidations per user.
type recordingInvalidator struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[userID]++
	return nil
}

func (r *recordingInvalidator) count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[userID]
}

type fakeIdentity struct {
	err     error
	deleted []string
}

func (f *fakeIdentity) DeleteUser(ctx context.Context, userID string) error {
	f.deleted = append(f.deleted, userID)
	return f.err
}

func user(id string, roles ...domain.RoleName) *domain.User {
	u := &domain.User{ID: id, Email: id + "@example.test"}
	for _, r := range roles {
		u.Roles = append(u.Roles, domain.RoleAssignment{RoleName: r, IsActive: true})
	}
	return u
}

var testEpoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func subscription(id, userID, planID string, status domain.SubscriptionStatus, age time.Duration) *domain.UserSubscription {
	return &domain.UserSubscription{
		ID:           id,
		UserID:       userID,
		PlanID:       planID,
		PlanName:     "Plan " + planID,
		Status:       status,
		Currency:     "ARS",
		BillingCycle: domain.CycleMonthly,
		StartDate:    testEpoch.Add(-age),
		CreatedAt:    testEpoch.Add(-age),
		UpdatedAt:    testEpoch.Add(-age),
	}
}
