package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastRetry(t *testing.T) {
	t.Helper()
	prev := providerRetryDelay
	providerRetryDelay = time.Millisecond
	t.Cleanup(func() { providerRetryDelay = prev })
}

var errUnavailable = &payment.ProviderError{Op: payment.OpGetSubscription, Kind: payment.KindUnavailable}

type syncFixture struct {
	subs        *fakeSubs
	events      *fakeEvents
	gateway     *payment.MockGateway
	invalidator *recordingInvalidator
	svc         *SyncService
}

func newSyncFixture(t *testing.T, subs ...*domain.UserSubscription) *syncFixture {
	t.Helper()
	fastRetry(t)
	f := &syncFixture{
		subs:        newFakeSubs(subs...),
		events:      newFakeEvents(),
		gateway:     payment.NewMockGateway(),
		invalidator: &recordingInvalidator{},
	}
	f.svc = NewSyncService(f.subs, f.events, f.gateway, f.invalidator, zaptest.NewLogger(t))
	return f
}

func linked(id, userID, providerID string, status domain.SubscriptionStatus) *domain.UserSubscription {
	s := subscription(id, userID, "basic", status, time.Hour)
	s.ProviderSubscriptionID = providerID
	return s
}

func notification(id, typ, dataID string) domain.Notification {
	raw, _ := json.Marshal(map[string]any{"id": id, "type": typ, "data": map[string]string{"id": dataID}})
	return domain.Notification{ID: id, Type: typ, Action: "updated", DataID: dataID, RawPayload: raw}
}

func TestHandleNotification_AppliesProviderState(t *testing.T) {
	f := newSyncFixture(t, linked("s1", "u1", "pre-1", domain.StatusPendingPayment))
	next := testEpoch.Add(30 * 24 * time.Hour)
	f.gateway.SetSubscription(payment.SubscriptionState{
		ID:              "pre-1",
		Status:          payment.StatusAuthorized,
		LastModified:    testEpoch,
		NextPaymentDate: &next,
	})

	ack, err := f.svc.HandleNotification(context.Background(), notification("evt-1", domain.NotificationPreapproval, "pre-1"))
	require.NoError(t, err)
	assert.True(t, ack.Received)
	assert.Equal(t, domain.OutcomeApplied, ack.Outcome)

	sub := f.subs.get("s1")
	assert.Equal(t, domain.StatusActive, sub.Status)
	require.NotNil(t, sub.ProviderUpdatedAt)
	assert.True(t, sub.ProviderUpdatedAt.Equal(testEpoch))
	require.NotNil(t, sub.EndDate)
	assert.True(t, sub.EndDate.Equal(next))
	assert.NotNil(t, sub.StatusCheckedAt)
	assert.Equal(t, 1, f.invalidator.count("u1"))

	ev := f.events.get("evt-1")
	require.NotNil(t, ev)
	assert.NotNil(t, ev.ProcessedAt)
	assert.Empty(t, ev.ProcessingError)
}

func TestHandleNotification_ReplayIsDuplicate(t *testing.T) {
	f := newSyncFixture(t, linked("s1", "u1", "pre-1", domain.StatusPendingPayment))
	f.gateway.SetSubscription(payment.SubscriptionState{ID: "pre-1", Status: payment.StatusAuthorized, LastModified: testEpoch})
	n := notification("evt-1", domain.NotificationPreapproval, "pre-1")

	_, err := f.svc.HandleNotification(context.Background(), n)
	require.NoError(t, err)
	ack, err := f.svc.HandleNotification(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeDuplicate, ack.Outcome)
	assert.Equal(t, 1, f.gateway.Calls(payment.OpGetSubscription))
	assert.Equal(t, 1, f.invalidator.count("u1"))
}

func TestHandleNotification_MissingIDDedupesOnPayload(t *testing.T) {
	f := newSyncFixture(t)
	n := domain.Notification{Type: "payment", RawPayload: json.RawMessage(`{"type":"payment","data":{"id":"123"}}`)}

	first, err := f.svc.HandleNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, first.Outcome)

	second, err := f.svc.HandleNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, second.Outcome)
}

func TestHandleNotification_Ignored(t *testing.T) {
	f := newSyncFixture(t)

	tests := []struct {
		name string
		n    domain.Notification
	}{
		{name: "other type", n: notification("evt-1", "payment", "pay-1")},
		{name: "plan notification", n: notification("evt-2", "subscription_preapproval_plan", "plan-1")},
		{name: "missing data id", n: notification("evt-3", domain.NotificationPreapproval, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, err := f.svc.HandleNotification(context.Background(), tt.n)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeIgnored, ack.Outcome)
		})
	}
	assert.Zero(t, f.gateway.Calls(payment.OpGetSubscription))
}

func TestHandleNotification_UnknownSubscription(t *testing.T) {
	f := newSyncFixture(t)
	f.gateway.SetSubscription(payment.SubscriptionState{ID: "pre-9", Status: payment.StatusAuthorized, LastModified: testEpoch})

	ack, err := f.svc.HandleNotification(context.Background(), notification("evt-1", domain.NotificationPreapprovalLegacy, "pre-9"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, ack.Outcome)
}

func TestHandleNotification_ProviderUnavailableIsDeferred(t *testing.T) {
	f := newSyncFixture(t, linked("s1", "u1", "pre-1", domain.StatusPendingPayment))
	f.gateway.FailNext(payment.OpGetSubscription, errUnavailable, errUnavailable)

	ack, err := f.svc.HandleNotification(context.Background(), notification("evt-1", domain.NotificationPreapproval, "pre-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDeferred, ack.Outcome)
	assert.Equal(t, 2, f.gateway.Calls(payment.OpGetSubscription), "one retry")
	assert.Equal(t, domain.StatusPendingPayment, f.subs.get("s1").Status)
	assert.NotEmpty(t, f.events.get("evt-1").ProcessingError)
}

func TestHandleNotification_RetriesOnceThenApplies(t *testing.T) {
	f := newSyncFixture(t, linked("s1", "u1", "pre-1", domain.StatusPendingPayment))
	f.gateway.SetSubscription(payment.SubscriptionState{ID: "pre-1", Status: payment.StatusAuthorized, LastModified: testEpoch})
	f.gateway.FailNext(payment.OpGetSubscription, errUnavailable)

	ack, err := f.svc.HandleNotification(context.Background(), notification("evt-1", domain.NotificationPreapproval, "pre-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, ack.Outcome)
}

func TestHandleNotification_StoreFailureAllowsRedelivery(t *testing.T) {
	f := newSyncFixture(t, linked("s1", "u1", "pre-1", domain.StatusPendingPayment))
	f.gateway.SetSubscription(payment.SubscriptionState{ID: "pre-1", Status: payment.StatusAuthorized, LastModified: testEpoch})
	f.subs.failNext("ApplyProviderState", errStore)
	n := notification("evt-1", domain.NotificationPreapproval, "pre-1")

	_, err := f.svc.HandleNotification(context.Background(), n)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInternal))
	assert.Nil(t, f.events.get("evt-1").ProcessedAt)

	ack, err := f.svc.HandleNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, ack.Outcome)
	assert.Equal(t, domain.StatusActive, f.subs.get("s1").Status)
}

func TestHandleNotification_RecordFailure(t *testing.T) {
	f := newSyncFixture(t)
	f.events.failNext("Record", errStore)

	_, err := f.svc.HandleNotification(context.Background(), notification("evt-1", domain.NotificationPreapproval, "pre-1"))
	assert.True(t, domain.IsKind(err, domain.KindInternal))
}

func TestApply_DiscardsOlderAndEqualStates(t *testing.T) {
	f := newSyncFixture(t, linked("s1", "u1", "pre-1", domain.StatusActive))
	ctx := context.Background()

	outcome, _, err := f.svc.Apply(ctx, f.subs.get("s1"), &payment.SubscriptionState{
		ID: "pre-1", Status: payment.StatusPaused, LastModified: testEpoch.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	outcome, _, err = f.svc.Apply(ctx, f.subs.get("s1"), &payment.SubscriptionState{
		ID: "pre-1", Status: payment.StatusAuthorized, LastModified: testEpoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDiscarded, outcome)

	outcome, _, err = f.svc.Apply(ctx, f.subs.get("s1"), &payment.SubscriptionState{
		ID: "pre-1", Status: payment.StatusCancelled, LastModified: testEpoch.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDiscarded, outcome)

	assert.Equal(t, domain.StatusPaused, f.subs.get("s1").Status)
	assert.Equal(t, 1, f.invalidator.count("u1"))
}

func TestApply_StaleSnapshotCannotRegressConcurrentWrite(t *testing.T) {
	f := newSyncFixture(t, linked("s1", "u1", "pre-1", domain.StatusActive))
	ctx := context.Background()
	snapshot := f.subs.get("s1")

	_, _, err := f.svc.Apply(ctx, f.subs.get("s1"), &payment.SubscriptionState{
		ID: "pre-1", Status: payment.StatusCancelled, LastModified: testEpoch.Add(2 * time.Minute),
	})
	require.NoError(t, err)

	outcome, _, err := f.svc.Apply(ctx, snapshot, &payment.SubscriptionState{
		ID: "pre-1", Status: payment.StatusPaused, LastModified: testEpoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDiscarded, outcome)
	assert.Equal(t, domain.StatusCancelled, f.subs.get("s1").Status)
}

func TestApply_UntimestampedStateKeepsWatermark(t *testing.T) {
	sub := linked("s1", "u1", "pre-1", domain.StatusActive)
	stored := testEpoch
	sub.ProviderUpdatedAt = &stored
	f := newSyncFixture(t, sub)
	f.svc.now = func() time.Time { return testEpoch.Add(time.Hour) }
	ctx := context.Background()

	outcome, _, err := f.svc.Apply(ctx, f.subs.get("s1"), &payment.SubscriptionState{
		ID: "pre-1", Status: payment.StatusPaused,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	got := f.subs.get("s1")
	assert.Equal(t, domain.StatusPaused, got.Status)
	require.NotNil(t, got.ProviderUpdatedAt)
	assert.True(t, got.ProviderUpdatedAt.Equal(testEpoch), "our clock must not stand in for the provider's")

	// Timestamped after the stored state but before our local now.
	outcome, _, err = f.svc.Apply(ctx, f.subs.get("s1"), &payment.SubscriptionState{
		ID: "pre-1", Status: payment.StatusCancelled, LastModified: testEpoch.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, domain.StatusCancelled, f.subs.get("s1").Status)
}

func TestApply_Renewal(t *testing.T) {
	sub := linked("s1", "u1", "pre-1", domain.StatusActive)
	prev := testEpoch.Add(-time.Hour)
	sub.ProviderUpdatedAt = &prev
	end := testEpoch
	sub.EndDate = &end
	f := newSyncFixture(t, sub)

	next := testEpoch.Add(30 * 24 * time.Hour)
	outcome, updated, err := f.svc.Apply(context.Background(), f.subs.get("s1"), &payment.SubscriptionState{
		ID: "pre-1", Status: payment.StatusAuthorized, LastModified: testEpoch, NextPaymentDate: &next,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, domain.StatusActive, updated.Status)
	assert.True(t, f.subs.get("s1").EndDate.Equal(next))
}

func TestApply_TerminalStaysTerminal(t *testing.T) {
	f := newSyncFixture(t, linked("s1", "u1", "pre-1", domain.StatusCancelled))

	outcome, _, err := f.svc.Apply(context.Background(), f.subs.get("s1"), &payment.SubscriptionState{
		ID: "pre-1", Status: payment.StatusAuthorized, LastModified: testEpoch,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDiscarded, outcome)
	assert.Equal(t, domain.StatusCancelled, f.subs.get("s1").Status)
}

func TestApply_CancelSetsEndDate(t *testing.T) {
	f := newSyncFixture(t, linked("s1", "u1", "pre-1", domain.StatusActive))

	_, updated, err := f.svc.Apply(context.Background(), f.subs.get("s1"), &payment.SubscriptionState{
		ID: "pre-1", Status: payment.StatusFinished, LastModified: testEpoch,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, updated.Status)
	assert.NotNil(t, updated.EndDate)
}

func TestApply_ActivationBlockedByOtherActive(t *testing.T) {
	f := newSyncFixture(t,
		linked("s1", "u1", "pre-1", domain.StatusActive),
		linked("s2", "u1", "pre-2", domain.StatusPendingPayment),
	)

	outcome, _, err := f.svc.Apply(context.Background(), f.subs.get("s2"), &payment.SubscriptionState{
		ID: "pre-2", Status: payment.StatusAuthorized, LastModified: testEpoch,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, outcome)
	assert.Equal(t, domain.StatusPendingPayment, f.subs.get("s2").Status)
	assert.Zero(t, f.invalidator.count("u1"))
}

func TestApply_UnknownStatusIgnored(t *testing.T) {
	f := newSyncFixture(t, linked("s1", "u1", "pre-1", domain.StatusActive))

	outcome, _, err := f.svc.Apply(context.Background(), f.subs.get("s1"), &payment.SubscriptionState{
		ID: "pre-1", Status: "in_process", LastModified: testEpoch,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, outcome)
	assert.NotNil(t, f.subs.get("s1").StatusCheckedAt)
}

func TestReconcileStale(t *testing.T) {
	fresh := time.Now()
	checked := linked("s3", "u3", "pre-3", domain.StatusPendingPayment)
	checked.StatusCheckedAt = &fresh
	f := newSyncFixture(t,
		linked("s1", "u1", "pre-1", domain.StatusPendingPayment),
		linked("s2", "u2", "pre-2", domain.StatusActive),
		checked,
		linked("s4", "u4", "pre-4", domain.StatusCancelled),
	)
	f.gateway.SetSubscription(payment.SubscriptionState{ID: "pre-1", Status: payment.StatusAuthorized, LastModified: testEpoch})
	f.gateway.SetSubscription(payment.SubscriptionState{ID: "pre-3", Status: payment.StatusAuthorized, LastModified: testEpoch})

	applied, err := f.svc.ReconcileStale(context.Background(), 5*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, domain.StatusActive, f.subs.get("s1").Status)
	assert.NotNil(t, f.subs.get("s2").StatusCheckedAt, "refused probes are still marked checked")
	assert.Equal(t, domain.StatusPendingPayment, f.subs.get("s3").Status)
	assert.Equal(t, 2, f.gateway.Calls(payment.OpGetSubscription))
}
