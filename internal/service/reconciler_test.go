package service

import (
	"context"
	"testing"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/cache"
	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestReconciler_RunOnce(t *testing.T) {
	fastRetry(t)
	logger := zaptest.NewLogger(t)
	subs := newFakeSubs(
		linked("s1", "u1", "pre-1", domain.StatusActive),
		subscription("s2", "u2", "basic", domain.StatusActive, time.Hour),
		subscription("s3", "u2", "pro", domain.StatusPendingPayment, time.Minute),
	)
	sagas := newFakeSagas()
	gw := payment.NewMockGateway()
	gw.SetSubscription(payment.SubscriptionState{ID: "pre-1", Status: payment.StatusPaused, LastModified: testEpoch})
	inv := &recordingInvalidator{}

	sync := NewSyncService(subs, newFakeEvents(), gw, inv, logger)
	changes := NewPlanChangeService(subs, sagas, gw, inv, time.Millisecond, logger)

	subs.failNext("Update", nil, errStore)
	_, err := changes.ChangePlan(context.Background(), "u2", &domain.ChangePlanRequest{OldSubscriptionID: "s2", NewSubscriptionID: "s3"})
	require.Error(t, err)
	sagas.backdate("plan_change:u2:s2:s3", time.Hour)

	mem := cache.NewMemory(time.Nanosecond)
	require.NoError(t, mem.Set(context.Background(), "u9", domain.Entitlement{UserID: "u9"}))
	time.Sleep(time.Millisecond)

	r := NewReconciler(sync, changes, mem, ReconcilerConfig{
		Interval:    time.Minute,
		Batch:       10,
		StaleAfter:  5 * time.Minute,
		ResumeAfter: time.Minute,
	}, logger)
	r.RunOnce(context.Background())

	assert.Equal(t, domain.StatusPaused, subs.get("s1").Status)
	assert.Equal(t, domain.StatusActive, subs.get("s3").Status)
	assert.Zero(t, mem.Len())
}

func TestReconciler_StartStops(t *testing.T) {
	logger := zap.NewNop()
	subs := newFakeSubs()
	gw := payment.NewMockGateway()
	inv := &recordingInvalidator{}
	r := NewReconciler(
		NewSyncService(subs, newFakeEvents(), gw, inv, logger),
		NewPlanChangeService(subs, newFakeSagas(), gw, inv, time.Millisecond, logger),
		nil,
		ReconcilerConfig{Interval: 5 * time.Millisecond, Batch: 10, StaleAfter: time.Minute, ResumeAfter: time.Minute},
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	disabled := NewReconciler(r.sync, r.planChanges, nil, ReconcilerConfig{}, logger)
	disabled.Start(context.Background())
}
