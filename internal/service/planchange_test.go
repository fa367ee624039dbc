package service

import (
	"context"
	"testing"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type planChangeFixture struct {
	subs        *fakeSubs
	sagas       *fakeSagas
	gateway     *payment.MockGateway
	invalidator *recordingInvalidator
	svc         *PlanChangeService
}

func newPlanChangeFixture(t *testing.T, subs ...*domain.UserSubscription) *planChangeFixture {
	t.Helper()
	fastRetry(t)
	f := &planChangeFixture{
		subs:        newFakeSubs(subs...),
		sagas:       newFakeSagas(),
		gateway:     payment.NewMockGateway(),
		invalidator: &recordingInvalidator{},
	}
	f.svc = NewPlanChangeService(f.subs, f.sagas, f.gateway, f.invalidator, time.Millisecond, zaptest.NewLogger(t))
	return f
}

// standardPlanChange has u1 on an active provider-linked basic plan (s1) and a
// pending pro subscription (s2) waiting to replace it.
func standardPlanChange(t *testing.T) *planChangeFixture {
	oldSub := linked("s1", "u1", "pre-1", domain.StatusActive)
	oldSub.PlanName = "Basic"
	newSub := subscription("s2", "u1", "pro", domain.StatusPendingPayment, time.Minute)
	newSub.PlanName = "Pro"
	f := newPlanChangeFixture(t, oldSub, newSub)
	f.gateway.SetSubscription(payment.SubscriptionState{ID: "pre-1", Status: payment.StatusAuthorized})
	return f
}

var changeS1toS2 = &domain.ChangePlanRequest{OldSubscriptionID: "s1", NewSubscriptionID: "s2"}

func TestChangePlan(t *testing.T) {
	f := standardPlanChange(t)

	res, err := f.svc.ChangePlan(context.Background(), "u1", changeS1toS2)
	require.NoError(t, err)
	assert.Equal(t, &domain.ChangePlanResult{OldSubscriptionID: "s1", NewSubscriptionID: "s2", NewPlanName: "Pro"}, res)

	oldSub := f.subs.get("s1")
	assert.Equal(t, domain.StatusCancelled, oldSub.Status)
	assert.NotNil(t, oldSub.EndDate)
	assert.Equal(t, "s2", oldSub.Metadata[domain.MetaReplacedBy])

	newSub := f.subs.get("s2")
	assert.Equal(t, domain.StatusActive, newSub.Status)
	assert.Equal(t, "Basic", newSub.Metadata[domain.MetaPreviousPlanName])
	assert.Equal(t, "s1", newSub.Metadata[domain.MetaReplaces])

	state, _ := f.gateway.Subscription("pre-1")
	assert.Equal(t, payment.StatusCancelled, state.Status)

	run, err := f.sagas.Get(context.Background(), "plan_change:u1:s1:s2")
	require.NoError(t, err)
	assert.Equal(t, domain.SagaCompleted, run.Status)
	assert.Equal(t, 3, run.CompletedStep)
	assert.Equal(t, 1, f.invalidator.count("u1"))
}

func TestChangePlan_RepeatIsIdempotent(t *testing.T) {
	f := standardPlanChange(t)
	ctx := context.Background()

	first, err := f.svc.ChangePlan(ctx, "u1", changeS1toS2)
	require.NoError(t, err)
	second, err := f.svc.ChangePlan(ctx, "u1", changeS1toS2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.gateway.Calls(payment.OpCancelSubscription))
}

func TestChangePlan_Validation(t *testing.T) {
	f := standardPlanChange(t)

	for _, req := range []*domain.ChangePlanRequest{
		{},
		{OldSubscriptionID: "s1"},
		{NewSubscriptionID: "s2"},
		{OldSubscriptionID: "s1", NewSubscriptionID: "s1"},
	} {
		_, err := f.svc.ChangePlan(context.Background(), "u1", req)
		assert.True(t, domain.IsKind(err, domain.KindValidation), "%+v", req)
	}
	assert.Equal(t, domain.StatusActive, f.subs.get("s1").Status)
}

func TestChangePlan_NotFound(t *testing.T) {
	f := standardPlanChange(t)
	ctx := context.Background()

	_, err := f.svc.ChangePlan(ctx, "u1", &domain.ChangePlanRequest{OldSubscriptionID: "missing", NewSubscriptionID: "s2"})
	assert.True(t, domain.IsKind(err, domain.KindNotFound))

	_, err = f.svc.ChangePlan(ctx, "u1", &domain.ChangePlanRequest{OldSubscriptionID: "s1", NewSubscriptionID: "missing"})
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
	assert.Equal(t, domain.StatusActive, f.subs.get("s1").Status)
}

func TestChangePlan_NewSubscriptionVisibleOnRetry(t *testing.T) {
	f := standardPlanChange(t)
	f.subs.hideUntil["s2"] = 1

	_, err := f.svc.ChangePlan(context.Background(), "u1", changeS1toS2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, f.subs.get("s2").Status)
}

func TestChangePlan_Ownership(t *testing.T) {
	f := newPlanChangeFixture(t,
		subscription("s1", "u1", "basic", domain.StatusActive, time.Hour),
		subscription("s2", "u2", "pro", domain.StatusPendingPayment, time.Minute),
		subscription("s3", "u2", "basic", domain.StatusActive, time.Hour),
	)
	ctx := context.Background()

	_, err := f.svc.ChangePlan(ctx, "u1", changeS1toS2)
	assert.True(t, domain.IsKind(err, domain.KindUnauthorized))

	_, err = f.svc.ChangePlan(ctx, "u1", &domain.ChangePlanRequest{OldSubscriptionID: "s3", NewSubscriptionID: "s2"})
	assert.True(t, domain.IsKind(err, domain.KindUnauthorized))

	assert.Equal(t, domain.StatusActive, f.subs.get("s1").Status)
	assert.Equal(t, domain.StatusActive, f.subs.get("s3").Status)
	assert.Zero(t, f.invalidator.count("u1"))
}

func TestChangePlan_TerminalNewSubscription(t *testing.T) {
	f := newPlanChangeFixture(t,
		subscription("s1", "u1", "basic", domain.StatusActive, time.Hour),
		subscription("s2", "u1", "pro", domain.StatusExpired, time.Minute),
	)

	_, err := f.svc.ChangePlan(context.Background(), "u1", changeS1toS2)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestChangePlan_ProviderCancelIsBestEffort(t *testing.T) {
	f := standardPlanChange(t)
	f.gateway.FailNext(payment.OpCancelSubscription,
		&payment.ProviderError{Op: payment.OpCancelSubscription, Kind: payment.KindUnavailable},
		&payment.ProviderError{Op: payment.OpCancelSubscription, Kind: payment.KindUnavailable},
	)

	_, err := f.svc.ChangePlan(context.Background(), "u1", changeS1toS2)
	require.NoError(t, err)
	assert.Equal(t, 2, f.gateway.Calls(payment.OpCancelSubscription))
	assert.Equal(t, domain.StatusCancelled, f.subs.get("s1").Status)
	assert.Equal(t, domain.StatusActive, f.subs.get("s2").Status)
}

func TestChangePlan_CloseFailureLeavesNewUntouched(t *testing.T) {
	f := standardPlanChange(t)
	f.subs.failNext("Update", errStore)

	_, err := f.svc.ChangePlan(context.Background(), "u1", changeS1toS2)
	assert.True(t, domain.IsKind(err, domain.KindInternal))
	assert.Equal(t, domain.StatusActive, f.subs.get("s1").Status)
	assert.Equal(t, domain.StatusPendingPayment, f.subs.get("s2").Status)
}

func TestChangePlan_ResumesAfterActivationFailure(t *testing.T) {
	f := standardPlanChange(t)
	f.subs.failNext("Update", nil, errStore)
	ctx := context.Background()

	_, err := f.svc.ChangePlan(ctx, "u1", changeS1toS2)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindPartialFailure))
	assert.Equal(t, domain.StatusCancelled, f.subs.get("s1").Status)
	assert.Equal(t, domain.StatusPendingPayment, f.subs.get("s2").Status)
	assert.Equal(t, 1, f.invalidator.count("u1"), "closing the old plan already changed entitlement")

	run, err := f.sagas.Get(ctx, "plan_change:u1:s1:s2")
	require.NoError(t, err)
	assert.Equal(t, domain.SagaFailed, run.Status)
	assert.Equal(t, 2, run.CompletedStep)

	res, err := f.svc.ChangePlan(ctx, "u1", changeS1toS2)
	require.NoError(t, err)
	assert.Equal(t, "s2", res.NewSubscriptionID)
	assert.Equal(t, domain.StatusActive, f.subs.get("s2").Status)
	assert.Equal(t, 1, f.gateway.Calls(payment.OpCancelSubscription), "completed steps are not repeated")
}

func TestChangePlan_ClosesOtherActiveSubscriptions(t *testing.T) {
	f := newPlanChangeFixture(t,
		subscription("s1", "u1", "basic", domain.StatusActive, time.Hour),
		subscription("s2", "u1", "pro", domain.StatusPendingPayment, time.Minute),
		subscription("s3", "u1", "basic", domain.StatusActive, 2*time.Hour),
		subscription("s4", "u1", "basic", domain.StatusExpired, 3*time.Hour),
	)

	_, err := f.svc.ChangePlan(context.Background(), "u1", changeS1toS2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, f.subs.get("s3").Status)
	assert.Equal(t, "s2", f.subs.get("s3").Metadata[domain.MetaReplacedBy])
	assert.Equal(t, domain.StatusExpired, f.subs.get("s4").Status)
	assert.Equal(t, domain.StatusActive, f.subs.get("s2").Status)
}

func TestResumePending(t *testing.T) {
	f := standardPlanChange(t)
	f.subs.failNext("Update", nil, errStore)
	ctx := context.Background()

	_, err := f.svc.ChangePlan(ctx, "u1", changeS1toS2)
	require.Error(t, err)

	resumed, err := f.svc.ResumePending(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, resumed, "recent failures wait for the grace period")

	f.sagas.backdate("plan_change:u1:s1:s2", time.Hour)
	resumed, err = f.svc.ResumePending(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	assert.Equal(t, domain.StatusActive, f.subs.get("s2").Status)
}

func TestResumePending_AbandonsImpossibleRuns(t *testing.T) {
	f := standardPlanChange(t)
	f.subs.failNext("Update", nil, errStore)
	ctx := context.Background()

	_, err := f.svc.ChangePlan(ctx, "u1", changeS1toS2)
	require.Error(t, err)
	_, err = f.subs.Delete(ctx, "s2")
	require.NoError(t, err)

	f.sagas.backdate("plan_change:u1:s1:s2", time.Hour)
	resumed, err := f.svc.ResumePending(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, resumed)

	run, err := f.sagas.Get(ctx, "plan_change:u1:s1:s2")
	require.NoError(t, err)
	assert.Equal(t, domain.SagaAbandoned, run.Status)
}

func TestChangePlan_NextResolveSeesNewPlan(t *testing.T) {
	oldSub := linked("s1", "u1", "pre-1", domain.StatusActive)
	checked := time.Now()
	oldSub.StatusCheckedAt = &checked
	newSub := subscription("s2", "u1", "pro", domain.StatusPendingPayment, time.Minute)
	rf := newResolverFixture(t, []*domain.User{user("u1", domain.RoleClient)}, oldSub, newSub)
	rf.gateway.SetSubscription(payment.SubscriptionState{ID: "pre-1", Status: payment.StatusAuthorized, LastModified: testEpoch})
	rf.content.posts["u1"] = 5
	ctx := context.Background()

	before, err := rf.svc.Resolve(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "s1", before.SubscriptionID)
	require.Equal(t, []domain.RoleName{domain.RoleClient}, before.Roles)
	warm, err := rf.cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, warm)

	fastRetry(t)
	planChanges := NewPlanChangeService(rf.subs, newFakeSagas(), rf.gateway, rf.svc, time.Millisecond, zaptest.NewLogger(t))
	_, err = planChanges.ChangePlan(ctx, "u1", changeS1toS2)
	require.NoError(t, err)

	after, err := rf.svc.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, after.PossiblyStale)
	assert.Equal(t, "s2", after.SubscriptionID)
	assert.Equal(t, "pro", after.PlanID)
	assert.Equal(t, domain.Unlimited, after.RemainingPosts)
	assert.ElementsMatch(t, []domain.RoleName{domain.RoleClient, domain.RolePublisher}, after.Roles)
}
