package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/marketplace-backend/internal/models"
	"github.com/ignatzorin/marketplace-backend/internal/pkg/apperror"
)

type proposalFixture struct {
	svc       *ProposalService
	store     *fakeProposalStore
	projects  *fakeProjectStore
	client    *models.User
	project   *models.Project
	coverText string
}

func newProposalFixture(t *testing.T) *proposalFixture {
	t.Helper()

	projects := newFakeProjectStore()
	store := newFakeProposalStore(projects)

	client := &models.User{ID: uuid.New(), Role: models.RoleClient}
	project := projects.add(&models.Project{
		ClientID:     client.ID,
		Title:        "Мобильное приложение",
		Currency:     "USD",
		Status:       models.ProjectStatusOpen,
		MaxProposals: 50,
	})

	return &proposalFixture{
		svc:       NewProposalService(store, projects, func() time.Time { return fixedNow }),
		store:     store,
		projects:  projects,
		client:    client,
		project:   project,
		coverText: "Готов взяться за проект, есть релевантный опыт.",
	}
}

func (f *proposalFixture) submit(t *testing.T, freelancerID uuid.UUID, bid float64) *models.Proposal {
	t.Helper()
	proposal, err := f.svc.Submit(context.Background(), SubmitProposalInput{
		ProjectID:    f.project.ID,
		FreelancerID: freelancerID,
		CoverLetter:  f.coverText,
		BidAmount:    bid,
		TimelineDays: 14,
	})
	require.NoError(t, err)
	return proposal
}

func TestProposalServiceSubmit(t *testing.T) {
	f := newProposalFixture(t)

	proposal := f.submit(t, uuid.New(), 150)

	assert.Equal(t, models.ProposalStatusPending, proposal.Status)
	assert.Equal(t, 150.0, proposal.BidAmount)
	assert.NotEqual(t, uuid.Nil, proposal.ID)
}

func TestProposalServiceSubmitValidation(t *testing.T) {
	f := newProposalFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, SubmitProposalInput{
		ProjectID:    f.project.ID,
		FreelancerID: uuid.New(),
		CoverLetter:  "короткий",
		BidAmount:    100,
		TimelineDays: 14,
	})
	assert.True(t, apperror.IsInvalidArgument(err))

	_, err = f.svc.Submit(ctx, SubmitProposalInput{
		ProjectID:    f.project.ID,
		FreelancerID: uuid.New(),
		CoverLetter:  f.coverText,
		BidAmount:    0,
		TimelineDays: 14,
	})
	assert.True(t, apperror.IsInvalidArgument(err))

	_, err = f.svc.Submit(ctx, SubmitProposalInput{
		ProjectID:    uuid.New(),
		FreelancerID: uuid.New(),
		CoverLetter:  f.coverText,
		BidAmount:    100,
		TimelineDays: 14,
	})
	assert.True(t, apperror.IsNotFound(err))
}

func TestProposalServiceSubmitClosedProject(t *testing.T) {
	f := newProposalFixture(t)
	f.project.Status = models.ProjectStatusInProgress

	_, err := f.svc.Submit(context.Background(), SubmitProposalInput{
		ProjectID:    f.project.ID,
		FreelancerID: uuid.New(),
		CoverLetter:  f.coverText,
		BidAmount:    100,
		TimelineDays: 14,
	})
	assert.True(t, apperror.IsInvalidState(err))
}

func TestProposalServiceDuplicateThenResubmit(t *testing.T) {
	f := newProposalFixture(t)
	ctx := context.Background()
	freelancer := uuid.New()

	first := f.submit(t, freelancer, 100)

	// Второе активное предложение того же фрилансера — конфликт.
	_, err := f.svc.Submit(ctx, SubmitProposalInput{
		ProjectID:    f.project.ID,
		FreelancerID: freelancer,
		CoverLetter:  f.coverText,
		BidAmount:    120,
		TimelineDays: 10,
	})
	assert.True(t, apperror.IsConflict(err))

	// После отзыва слот освобождается и подача проходит.
	_, err = f.svc.Withdraw(ctx, first.ID, freelancer)
	require.NoError(t, err)

	resubmitted := f.submit(t, freelancer, 120)
	assert.Equal(t, models.ProposalStatusPending, resubmitted.Status)
}

func TestProposalServiceSubmitLimitReached(t *testing.T) {
	f := newProposalFixture(t)
	f.project.MaxProposals = 2

	f.submit(t, uuid.New(), 100)
	f.submit(t, uuid.New(), 110)

	_, err := f.svc.Submit(context.Background(), SubmitProposalInput{
		ProjectID:    f.project.ID,
		FreelancerID: uuid.New(),
		CoverLetter:  f.coverText,
		BidAmount:    120,
		TimelineDays: 14,
	})
	assert.True(t, apperror.IsConflict(err))
}

func TestProposalServiceAccept(t *testing.T) {
	f := newProposalFixture(t)
	ctx := context.Background()

	first := f.submit(t, uuid.New(), 100)
	second := f.submit(t, uuid.New(), 150)
	third := f.submit(t, uuid.New(), 200)

	accepted, err := f.svc.Accept(ctx, second.ID, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusAccepted, accepted.Status)

	// Остальные ожидающие предложения отклонены той же операцией.
	for _, id := range []uuid.UUID{first.ID, third.ID} {
		p, err := f.store.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.ProposalStatusRejected, p.Status)
	}

	project, err := f.projects.GetByID(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusInProgress, project.Status)
	require.NotNil(t, project.SelectedFreelancerID)
	assert.Equal(t, second.FreelancerID, *project.SelectedFreelancerID)
}

func TestProposalServiceAcceptTwice(t *testing.T) {
	f := newProposalFixture(t)
	ctx := context.Background()

	first := f.submit(t, uuid.New(), 100)
	second := f.submit(t, uuid.New(), 150)

	_, err := f.svc.Accept(ctx, first.ID, f.client.ID)
	require.NoError(t, err)

	// Проигравший гонку запрос получает ошибку состояния, данные не меняются.
	_, err = f.svc.Accept(ctx, second.ID, f.client.ID)
	assert.True(t, apperror.IsInvalidState(err))

	p, err := f.store.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusRejected, p.Status)
}

func TestProposalServiceAcceptForbidden(t *testing.T) {
	f := newProposalFixture(t)

	proposal := f.submit(t, uuid.New(), 100)

	_, err := f.svc.Accept(context.Background(), proposal.ID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))
}

func TestProposalServiceReject(t *testing.T) {
	f := newProposalFixture(t)
	ctx := context.Background()

	proposal := f.submit(t, uuid.New(), 100)

	rejected, err := f.svc.Reject(ctx, proposal.ID, f.client.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusRejected, rejected.Status)

	// Проект отклонением не затрагивается.
	project, err := f.projects.GetByID(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusOpen, project.Status)

	_, err = f.svc.Reject(ctx, proposal.ID, f.client.ID)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestProposalServiceWithdraw(t *testing.T) {
	f := newProposalFixture(t)
	ctx := context.Background()
	freelancer := uuid.New()

	proposal := f.submit(t, freelancer, 100)

	_, err := f.svc.Withdraw(ctx, proposal.ID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))

	withdrawn, err := f.svc.Withdraw(ctx, proposal.ID, freelancer)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusWithdrawn, withdrawn.Status)
}

func TestProposalServiceWithdrawAccepted(t *testing.T) {
	f := newProposalFixture(t)
	ctx := context.Background()
	freelancer := uuid.New()

	proposal := f.submit(t, freelancer, 100)
	_, err := f.svc.Accept(ctx, proposal.ID, f.client.ID)
	require.NoError(t, err)

	_, err = f.svc.Withdraw(ctx, proposal.ID, freelancer)
	assert.True(t, apperror.IsInvalidState(err))
}

func TestProposalServiceVisibility(t *testing.T) {
	f := newProposalFixture(t)
	ctx := context.Background()
	freelancer := uuid.New()

	proposal := f.submit(t, freelancer, 100)

	_, err := f.svc.GetByID(ctx, proposal.ID, f.client.ID)
	assert.NoError(t, err)

	_, err = f.svc.GetByID(ctx, proposal.ID, freelancer)
	assert.NoError(t, err)

	_, err = f.svc.GetByID(ctx, proposal.ID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))

	_, err = f.svc.ListByProject(ctx, f.project.ID, freelancer)
	assert.True(t, apperror.IsForbidden(err))

	list, err := f.svc.ListByProject(ctx, f.project.ID, f.client.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	own, err := f.svc.ListOwn(ctx, freelancer)
	require.NoError(t, err)
	assert.Len(t, own, 1)
}

func TestProposalServiceAcceptConcurrent(t *testing.T) {
	f := newProposalFixture(t)
	ctx := context.Background()

	first := f.submit(t, uuid.New(), 100)
	second := f.submit(t, uuid.New(), 150)

	// Одновременное принятие разных предложений одного проекта: побеждает
	// ровно одно, проигравший получает ошибку состояния.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.Accept(ctx, id, f.client.ID)
		}(i, id)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case apperror.IsInvalidState(err):
			lost++
		default:
			t.Fatalf("неожиданная ошибка принятия: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	list, err := f.store.ListByProject(ctx, f.project.ID)
	require.NoError(t, err)
	accepted := 0
	for _, p := range list {
		if p.Status == models.ProposalStatusAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)

	project, err := f.projects.GetByID(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectStatusInProgress, project.Status)
	require.NotNil(t, project.SelectedFreelancerID)
}

func TestProposalServiceRandomizedSingleAccept(t *testing.T) {
	f := newProposalFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	type submitted struct {
		id         uuid.UUID
		freelancer uuid.UUID
	}
	var known []submitted

	// После каждого шага: не более одного принятого предложения, и если оно
	// есть, проект в работе с зафиксированным исполнителем.
	checkInvariant := func() {
		t.Helper()
		list, err := f.store.ListByProject(ctx, f.project.ID)
		require.NoError(t, err)

		accepted := 0
		var winner uuid.UUID
		for _, p := range list {
			if p.Status == models.ProposalStatusAccepted {
				accepted++
				winner = p.FreelancerID
			}
		}
		require.LessOrEqual(t, accepted, 1)

		project, err := f.projects.GetByID(ctx, f.project.ID)
		require.NoError(t, err)
		if accepted == 1 {
			require.Equal(t, models.ProjectStatusInProgress, project.Status)
			require.NotNil(t, project.SelectedFreelancerID)
			require.Equal(t, winner, *project.SelectedFreelancerID)
		}
	}

	allowed := func(err error) bool {
		if err == nil {
			return true
		}
		return apperror.IsInvalidState(err) || apperror.IsConflict(err) || apperror.IsNotFound(err)
	}

	for step := 0; step < 200; step++ {
		var err error
		switch op := rng.Intn(4); {
		case op == 0 || len(known) == 0:
			freelancer := uuid.New()
			var proposal *models.Proposal
			proposal, err = f.svc.Submit(ctx, SubmitProposalInput{
				ProjectID:    f.project.ID,
				FreelancerID: freelancer,
				CoverLetter:  f.coverText,
				BidAmount:    float64(50 + step),
				TimelineDays: 7,
			})
			if err == nil {
				known = append(known, submitted{id: proposal.ID, freelancer: freelancer})
			}
		case op == 1:
			target := known[rng.Intn(len(known))]
			_, err = f.svc.Accept(ctx, target.id, f.client.ID)
		case op == 2:
			target := known[rng.Intn(len(known))]
			_, err = f.svc.Reject(ctx, target.id, f.client.ID)
		default:
			target := known[rng.Intn(len(known))]
			_, err = f.svc.Withdraw(ctx, target.id, target.freelancer)
		}

		require.Truef(t, allowed(err), "шаг %d: неожиданная ошибка %v", step, err)
		checkInvariant()
	}
}

func TestProposalServiceStoreUnavailable(t *testing.T) {
	f := newProposalFixture(t)
	ctx := context.Background()
	f.store.failWith = errors.New("connection reset by peer")

	_, err := f.svc.Submit(ctx, SubmitProposalInput{
		ProjectID:    f.project.ID,
		FreelancerID: uuid.New(),
		CoverLetter:  f.coverText,
		BidAmount:    100,
		TimelineDays: 14,
	})
	assert.True(t, apperror.IsUnavailable(err))

	_, err = f.svc.Withdraw(ctx, uuid.New(), uuid.New())
	assert.True(t, apperror.IsUnavailable(err))
}
