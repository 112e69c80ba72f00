package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/marketplace-backend/internal/models"
	"github.com/ignatzorin/marketplace-backend/internal/pkg/apperror"
)

// recordedEvent — событие, пойманное тестовым издателем.
type recordedEvent struct {
	event   string
	payload interface{}
}

// channelPublisher собирает публикации через канал: сервис публикует события
// в фоне, поэтому тесты ждут их с таймаутом.
type channelPublisher struct {
	events chan recordedEvent

	// pending хранит события, пришедшие раньше ожидаемого: публикации идут из
	// независимых горутин без гарантии порядка, терять их нельзя.
	pending []recordedEvent
}

func newChannelPublisher() *channelPublisher {
	return &channelPublisher{events: make(chan recordedEvent, 16)}
}

func (p *channelPublisher) Publish(event string, payload interface{}) {
	p.events <- recordedEvent{event: event, payload: payload}
}

func (p *channelPublisher) wait(t *testing.T, event string) recordedEvent {
	t.Helper()
	for i, e := range p.pending {
		if e.event == event {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return e
		}
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-p.events:
			if e.event == event {
				return e
			}
			p.pending = append(p.pending, e)
		case <-deadline:
			t.Fatalf("событие %s не опубликовано", event)
			return recordedEvent{}
		}
	}
}

type engagementFixture struct {
	svc        *EngagementService
	publisher  *channelPublisher
	proposals  *proposalFixture
	payments   *fakePaymentStore
	freelancer uuid.UUID
}

func newEngagementFixture(t *testing.T, autoCreatePayment bool) *engagementFixture {
	t.Helper()

	pf := newProposalFixture(t)
	users := newFakeUserStore()
	freelancer := users.add(&models.User{Role: models.RoleFreelancer, IsActive: true})
	payments := newFakePaymentStore()
	paymentSvc := NewPaymentService(payments, pf.projects, users, testFees, func() time.Time { return fixedNow })
	publisher := newChannelPublisher()

	return &engagementFixture{
		svc:        NewEngagementService(pf.svc, paymentSvc, pf.projects, payments, publisher, autoCreatePayment),
		publisher:  publisher,
		proposals:  pf,
		payments:   payments,
		freelancer: freelancer.ID,
	}
}

func TestEngagementAcceptCreatesPayment(t *testing.T) {
	f := newEngagementFixture(t, true)
	ctx := context.Background()

	proposal := f.proposals.submit(t, f.freelancer, 150)

	accepted, err := f.svc.AcceptProposal(ctx, proposal.ID, f.proposals.client.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusAccepted, accepted.Status)

	f.publisher.wait(t, EventProposalAccepted)
	created := f.publisher.wait(t, EventPaymentCreated)

	payment, ok := created.payload.(*models.Payment)
	require.True(t, ok)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, 150.0, payment.Amount)
	assert.Equal(t, "escrow", payment.Method)
	assert.Equal(t, f.freelancer, payment.FreelancerID)
	assert.Equal(t, f.proposals.client.ID, payment.ClientID)

	stored, err := f.payments.GetByProject(ctx, f.proposals.project.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 1)
}

func TestEngagementAcceptWithoutAutoPayment(t *testing.T) {
	f := newEngagementFixture(t, false)
	ctx := context.Background()

	proposal := f.proposals.submit(t, f.freelancer, 150)

	_, err := f.svc.AcceptProposal(ctx, proposal.ID, f.proposals.client.ID)
	require.NoError(t, err)

	f.publisher.wait(t, EventProposalAccepted)

	_, err = f.payments.GetByProject(ctx, f.proposals.project.ID)
	assert.Error(t, err)
}

func TestEngagementAcceptErrorNotPublished(t *testing.T) {
	f := newEngagementFixture(t, true)

	proposal := f.proposals.submit(t, f.freelancer, 150)

	_, err := f.svc.AcceptProposal(context.Background(), proposal.ID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))

	select {
	case e := <-f.publisher.events:
		t.Fatalf("неожиданное событие %s", e.event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngagementReleasePublishesEvent(t *testing.T) {
	f := newEngagementFixture(t, true)
	ctx := context.Background()

	proposal := f.proposals.submit(t, f.freelancer, 200)
	_, err := f.svc.AcceptProposal(ctx, proposal.ID, f.proposals.client.ID)
	require.NoError(t, err)
	f.publisher.wait(t, EventPaymentCreated)

	payment, err := f.payments.GetByProject(ctx, f.proposals.project.ID)
	require.NoError(t, err)
	_, err = f.svc.payments.Process(ctx, payment.ID, "pi_engagement_1", f.proposals.client.ID)
	require.NoError(t, err)

	released, err := f.svc.ReleasePayment(ctx, payment.ID, f.proposals.client.ID, "работа принята")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusReleased, released.Status)

	e := f.publisher.wait(t, EventPaymentReleased)
	_, ok := e.payload.(*models.Payment)
	assert.True(t, ok)
}

func TestEngagementDisputePublishesEvent(t *testing.T) {
	f := newEngagementFixture(t, true)
	ctx := context.Background()

	proposal := f.proposals.submit(t, f.freelancer, 200)
	_, err := f.svc.AcceptProposal(ctx, proposal.ID, f.proposals.client.ID)
	require.NoError(t, err)
	f.publisher.wait(t, EventPaymentCreated)

	payment, err := f.payments.GetByProject(ctx, f.proposals.project.ID)
	require.NoError(t, err)
	_, err = f.svc.payments.Process(ctx, payment.ID, "pi_engagement_2", f.proposals.client.ID)
	require.NoError(t, err)

	disputed, err := f.svc.DisputePayment(ctx, payment.ID, f.freelancer, "quality", "Результат не соответствует ТЗ")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusDisputed, disputed.Status)

	f.publisher.wait(t, EventPaymentDisputed)
}

func TestEngagementGetState(t *testing.T) {
	f := newEngagementFixture(t, true)
	ctx := context.Background()

	proposal := f.proposals.submit(t, f.freelancer, 150)
	_, err := f.svc.AcceptProposal(ctx, proposal.ID, f.proposals.client.ID)
	require.NoError(t, err)
	f.publisher.wait(t, EventPaymentCreated)

	state, err := f.svc.GetState(ctx, f.proposals.project.ID, f.proposals.client.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusInProgress, state.Project.Status)
	require.NotNil(t, state.AcceptedProposal)
	assert.Equal(t, proposal.ID, state.AcceptedProposal.ID)
	require.NotNil(t, state.Payment)
	assert.Equal(t, models.PaymentStatusPending, state.Payment.Status)

	// Выбранный исполнитель тоже видит сводку, посторонний — нет.
	_, err = f.svc.GetState(ctx, f.proposals.project.ID, f.freelancer)
	assert.NoError(t, err)

	_, err = f.svc.GetState(ctx, f.proposals.project.ID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.svc.GetState(ctx, uuid.New(), f.proposals.client.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestEngagementGetStateWithoutPayment(t *testing.T) {
	f := newEngagementFixture(t, false)
	ctx := context.Background()

	f.proposals.submit(t, f.freelancer, 150)

	state, err := f.svc.GetState(ctx, f.proposals.project.ID, f.proposals.client.ID)
	require.NoError(t, err)
	assert.Nil(t, state.AcceptedProposal)
	assert.Nil(t, state.Payment)
}
