package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"erp_sync/internal/domain"
	"erp_sync/internal/testutil"
)

type SessionManagerTestSuite struct {
	suite.Suite

	store   *memorySessions
	manager *SessionManager
}

func (s *SessionManagerTestSuite) SetupTest() {
	s.store = newMemorySessions()
	s.manager = NewSessionManager(s.store, 50, discardLogger())
}

func TestSessionManagerTestSuite(t *testing.T) {
	suite.Run(t, new(SessionManagerTestSuite))
}

func (s *SessionManagerTestSuite) pullRequest() domain.WorkerRequest {
	return domain.WorkerRequest{TenantID: "t1", Entity: domain.EntityCustomer, Direction: domain.DirectionPull}
}

func (s *SessionManagerTestSuite) TestStartOrResume_CreatesWithDefaults() {
	session, created, err := s.manager.StartOrResume(context.Background(), s.pullRequest(), nil)
	s.Require().NoError(err)

	s.True(created)
	s.Equal(domain.SessionInProgress, session.Status)
	s.Equal(50, session.BatchSize)
	s.Equal(domain.SyncModeFull, session.Mode)
	s.Equal(0, session.CurrentOffset)
	s.Equal(uuid.Version(7), session.ID.Version())
}

func (s *SessionManagerTestSuite) TestStartOrResume_ResumesActiveSession() {
	ctx := context.Background()

	first, _, err := s.manager.StartOrResume(ctx, s.pullRequest(), nil)
	s.Require().NoError(err)
	s.Require().NoError(s.manager.Advance(ctx, first, 50, 50))

	resumed, created, err := s.manager.StartOrResume(ctx, s.pullRequest(), nil)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, resumed.ID)
	s.Equal(50, resumed.CurrentOffset)

	push := s.pullRequest()
	push.Direction = domain.DirectionPush
	other, created, err := s.manager.StartOrResume(ctx, push, nil)
	s.Require().NoError(err)
	s.True(created)
	s.NotEqual(first.ID, other.ID)
}

func (s *SessionManagerTestSuite) TestStartOrResume_ExplicitSession() {
	ctx := context.Background()

	session, _, err := s.manager.StartOrResume(ctx, s.pullRequest(), nil)
	s.Require().NoError(err)
	s.Require().NoError(s.manager.Advance(ctx, session, 100, 100))

	req := s.pullRequest()
	req.SessionID = &session.ID
	req.Offset = testutil.Ptr(100)
	got, _, err := s.manager.StartOrResume(ctx, req, nil)
	s.Require().NoError(err)
	s.Equal(session.ID, got.ID)

	req.Offset = testutil.Ptr(50)
	_, _, err = s.manager.StartOrResume(ctx, req, nil)
	s.ErrorIs(err, domain.ErrSessionConflict)

	req.Offset = nil
	req.Entity = domain.EntityItem
	_, _, err = s.manager.StartOrResume(ctx, req, nil)
	s.ErrorIs(err, domain.ErrInvalidInput)

	s.Require().NoError(s.manager.Complete(ctx, session, true, nil))
	s.Equal(domain.SessionCompleted, session.Status)
	req.Entity = domain.EntityCustomer
	_, _, err = s.manager.StartOrResume(ctx, req, nil)
	s.ErrorIs(err, domain.ErrConflict)

	unknown := uuid.New()
	req.SessionID = &unknown
	_, _, err = s.manager.StartOrResume(ctx, req, nil)
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *SessionManagerTestSuite) TestStartOrResume_StartsAtRequestedOffset() {
	req := s.pullRequest()
	req.Offset = testutil.Ptr(200)
	req.BatchSize = 25

	session, created, err := s.manager.StartOrResume(context.Background(), req, nil)
	s.Require().NoError(err)
	s.True(created)
	s.Equal(200, session.CurrentOffset)
	s.Equal(25, session.BatchSize)

	req.Entity = domain.EntityItem
	req.Offset = testutil.Ptr(-1)
	_, _, err = s.manager.StartOrResume(context.Background(), req, nil)
	s.ErrorIs(err, domain.ErrInvalidInput)
}

func (s *SessionManagerTestSuite) TestStartOrResume_KeepsFilterBound() {
	ctx := context.Background()
	first := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	created, _, err := s.manager.StartOrResume(ctx, s.pullRequest(), &first)
	s.Require().NoError(err)

	resumed, isNew, err := s.manager.StartOrResume(ctx, s.pullRequest(), &later)
	s.Require().NoError(err)
	s.False(isNew)
	s.Equal(created.ID, resumed.ID)
	s.Require().NotNil(resumed.FilterSince)
	s.True(first.Equal(*resumed.FilterSince))
}

func (s *SessionManagerTestSuite) TestAdvance_RejectsStaleOffset() {
	ctx := context.Background()

	session, _, err := s.manager.StartOrResume(ctx, s.pullRequest(), nil)
	s.Require().NoError(err)

	stale := *session
	s.Require().NoError(s.manager.Advance(ctx, session, 50, 50))
	s.ErrorIs(s.manager.Advance(ctx, &stale, 50, 50), domain.ErrSessionConflict)

	stored, err := s.manager.Get(ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(50, stored.CurrentOffset)
	s.Equal(50, stored.TotalProcessed)
}
