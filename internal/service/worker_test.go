package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"erp_sync/internal/config"
	"erp_sync/internal/domain"
	"erp_sync/internal/retry"
	"erp_sync/internal/service/mocks"
	"erp_sync/internal/source/qbo"
	"erp_sync/internal/testutil"
)

type WorkerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	client    *mocks.MockAccountingClient
	records   *mocks.MockRecordIndex
	customers *mocks.MockCustomerStore
	items     *mocks.MockItemStore
	invoices  *mocks.MockInvoiceStore
	payments  *mocks.MockPaymentStore

	sessions *memorySessions
	clock    *fakeClock
	cfg      config.SyncConfig
	worker   *Worker
}

func (s *WorkerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.client = mocks.NewMockAccountingClient(s.ctrl)
	s.records = mocks.NewMockRecordIndex(s.ctrl)
	s.customers = mocks.NewMockCustomerStore(s.ctrl)
	s.items = mocks.NewMockItemStore(s.ctrl)
	s.invoices = mocks.NewMockInvoiceStore(s.ctrl)
	s.payments = mocks.NewMockPaymentStore(s.ctrl)

	s.sessions = newMemorySessions()
	s.clock = &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.cfg = config.SyncConfig{
		BatchSize:         50,
		SoftDeadline:      10 * time.Second,
		MaxHistoricalDays: 30,
	}

	logger := discardLogger()
	worker, err := NewWorker(
		s.client,
		NewSessionManager(s.sessions, s.cfg.BatchSize, logger),
		s.records,
		Stores{Customers: s.customers, Items: s.items, Invoices: s.invoices, Payments: s.payments},
		passthroughTx{},
		s.cfg,
		logger,
		WithClock(s.clock.Now),
	)
	s.Require().NoError(err)
	s.worker = worker
}

func (s *WorkerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestWorkerTestSuite(t *testing.T) {
	suite.Run(t, new(WorkerTestSuite))
}

func customerPage(offset, n int) []json.RawMessage {
	out := make([]json.RawMessage, 0, n)
	for i := range n {
		id := strconv.Itoa(offset + i + 1)
		raw, _ := json.Marshal(qbo.Customer{ID: id, SyncToken: "0", DisplayName: "Customer " + id})
		out = append(out, raw)
	}
	return out
}

func rawRecords(docs ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		out[i] = json.RawMessage(d)
	}
	return out
}

func countUpserted[T any](_ context.Context, _ string, records []T) (int, error) {
	return len(records), nil
}

func (s *WorkerTestSuite) TestPull_ResumesAcrossInvocations() {
	ctx := context.Background()
	const total = 237

	var offsets []int
	s.client.EXPECT().Count(gomock.Any(), "t1", domain.EntityCustomer, "").Return(total, nil).Times(1)
	s.client.EXPECT().Query(gomock.Any(), "t1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, req qbo.QueryRequest) (*qbo.Page, error) {
			offsets = append(offsets, req.Offset)
			// every page outlasts the soft deadline
			s.clock.Advance(15 * time.Second)
			n := min(req.MaxResults, total-req.Offset)
			return &qbo.Page{Records: customerPage(req.Offset, n), Offset: req.Offset}, nil
		},
	).Times(5)
	s.customers.EXPECT().UpsertBatch(gomock.Any(), "t1", gomock.Any()).DoAndReturn(countUpserted[domain.Customer]).Times(5)

	req := domain.WorkerRequest{
		TenantID:  "t1",
		Entity:    domain.EntityCustomer,
		Direction: domain.DirectionPull,
		BatchSize: 50,
	}

	upserted := 0
	var sessionID *string
	for i := range 4 {
		resp, err := s.worker.Sync(ctx, req)
		s.Require().NoError(err)
		s.True(resp.Success)
		s.False(resp.IsComplete)
		s.Equal(50, resp.Processed)
		s.Require().NotNil(resp.NextOffset)
		s.Equal((i+1)*50, *resp.NextOffset)
		upserted += resp.Upserted

		id := resp.SessionID.String()
		if sessionID == nil {
			sessionID = &id
		}
		s.Equal(*sessionID, id)
	}

	resp, err := s.worker.Sync(ctx, req)
	s.Require().NoError(err)
	s.True(resp.IsComplete)
	s.Nil(resp.NextOffset)
	s.Equal(37, resp.Processed)
	s.Equal(total, resp.CurrentOffset)
	upserted += resp.Upserted

	s.Equal(total, upserted)
	if diff := cmp.Diff([]int{0, 50, 100, 150, 200}, offsets); diff != "" {
		s.Failf("query offsets mismatch", "(-want +got):\n%s", diff)
	}

	session, err := s.sessions.only()
	s.Require().NoError(err)
	s.Equal(domain.SessionCompleted, session.Status)
	s.Equal(total, session.TotalProcessed)
	s.Require().NotNil(session.TotalExpected)
	s.Equal(total, *session.TotalExpected)
}

func (s *WorkerTestSuite) TestPull_StaleOffsetIsSessionConflict() {
	ctx := context.Background()

	s.client.EXPECT().Count(gomock.Any(), "t1", domain.EntityCustomer, "").Return(120, nil)
	s.client.EXPECT().Query(gomock.Any(), "t1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, req qbo.QueryRequest) (*qbo.Page, error) {
			s.clock.Advance(time.Minute)
			return &qbo.Page{Records: customerPage(req.Offset, req.MaxResults)}, nil
		},
	)
	s.customers.EXPECT().UpsertBatch(gomock.Any(), "t1", gomock.Any()).DoAndReturn(countUpserted[domain.Customer])

	req := domain.WorkerRequest{TenantID: "t1", Entity: domain.EntityCustomer, Direction: domain.DirectionPull}
	first, err := s.worker.Sync(ctx, req)
	s.Require().NoError(err)
	s.Equal(50, first.CurrentOffset)

	req.SessionID = &first.SessionID
	req.Offset = testutil.Ptr(0)
	_, err = s.worker.Sync(ctx, req)
	s.ErrorIs(err, domain.ErrSessionConflict)

	session, err := s.sessions.only()
	s.Require().NoError(err)
	s.Equal(domain.SessionInProgress, session.Status)
	s.Equal(50, session.CurrentOffset)
}

func (s *WorkerTestSuite) TestPull_InvoiceWithUnknownItemKeepsHeader() {
	ctx := context.Background()

	s.records.EXPECT().LoadMappings(gomock.Any(), "t1", domain.EntityCustomer).Return(map[string]int64{"C1": 10}, nil)
	s.records.EXPECT().LoadMappings(gomock.Any(), "t1", domain.EntityItem).Return(map[string]int64{"I1": 20}, nil)
	s.client.EXPECT().Count(gomock.Any(), "t1", domain.EntityInvoice, "").Return(2, nil)
	s.client.EXPECT().Query(gomock.Any(), "t1", gomock.Any()).Return(&qbo.Page{Records: rawRecords(
		`{"Id":"130","SyncToken":"1","CustomerRef":{"value":"C1"},"TotalAmt":150,"Line":[
			{"LineNum":1,"Amount":100,"DetailType":"SalesItemLineDetail","SalesItemLineDetail":{"ItemRef":{"value":"I1"},"Qty":2,"UnitPrice":50}},
			{"LineNum":2,"Amount":50,"DetailType":"SalesItemLineDetail","SalesItemLineDetail":{"ItemRef":{"value":"I9"},"Qty":1,"UnitPrice":50}},
			{"Amount":150,"DetailType":"SubTotalLineDetail"}]}`,
		`{"Id":"131","SyncToken":"0","CustomerRef":{"value":"C404"},"TotalAmt":10}`,
	)}, nil)

	var stored []domain.Invoice
	s.invoices.EXPECT().UpsertBatch(gomock.Any(), "t1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, invoices []domain.Invoice) (int, error) {
			stored = invoices
			return len(invoices), nil
		},
	)

	resp, err := s.worker.Sync(ctx, domain.WorkerRequest{
		TenantID:  "t1",
		Entity:    domain.EntityInvoice,
		Direction: domain.DirectionPull,
	})
	s.Require().NoError(err)
	s.True(resp.IsComplete)
	s.Equal(2, resp.Processed)
	s.Equal(1, resp.Upserted)
	s.Len(resp.Errors, 2)

	s.Require().Len(stored, 1)
	s.Equal(int64(10), stored[0].CustomerID)
	s.Equal(150.0, stored[0].TotalAmount)
	s.Require().Len(stored[0].Lines, 1)
	line := stored[0].Lines[0]
	s.Equal(1, line.LineNumber)
	s.Equal(int64(20), line.ItemID)
	s.Equal(2.0, line.Quantity)
	s.Equal(100.0, line.Amount)

	s.Contains(resp.Errors[0].Reason, `item "I9"`)
	s.Equal("131", resp.Errors[1].ExternalID)
}

func (s *WorkerTestSuite) TestPush_CreateUpdateAndFailures() {
	ctx := context.Background()

	pending := []domain.Customer{
		{SyncMeta: domain.SyncMeta{ID: 1, TenantID: "t1", Active: true}, DisplayName: "A"},
		{SyncMeta: domain.SyncMeta{ID: 2, TenantID: "t1", Active: true, ExternalID: testutil.Ptr("Q2"), SyncToken: testutil.Ptr("3")}, DisplayName: "B"},
		{SyncMeta: domain.SyncMeta{ID: 3, TenantID: "t1", Active: true, ExternalID: testutil.Ptr("Q3")}, DisplayName: "C"},
		{SyncMeta: domain.SyncMeta{ID: 4, TenantID: "t1", Active: true}, DisplayName: "D"},
	}

	s.records.EXPECT().CountPending(gomock.Any(), "t1", domain.EntityCustomer).Return(len(pending), nil)
	s.customers.EXPECT().ListPending(gomock.Any(), "t1", int64(0), 50).Return(pending, nil)

	s.client.EXPECT().Create(gomock.Any(), "t1", domain.EntityCustomer, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, _ domain.EntityKind, payload any) (*qbo.MutationResult, error) {
			c := payload.(qbo.Customer)
			if c.DisplayName == "D" {
				return nil, &retry.StatusError{StatusCode: http.StatusBadRequest, Body: "Duplicate Name Exists Error"}
			}
			return &qbo.MutationResult{ExternalID: "Q1", SyncToken: "0"}, nil
		},
	).Times(2)
	s.client.EXPECT().Update(gomock.Any(), "t1", domain.EntityCustomer, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, _ domain.EntityKind, payload any) (*qbo.MutationResult, error) {
			c := payload.(qbo.Customer)
			s.Equal("Q2", c.ID)
			s.Equal("3", c.SyncToken)
			s.True(c.Sparse)
			return &qbo.MutationResult{ExternalID: "Q2", SyncToken: "4"}, nil
		},
	)

	s.records.EXPECT().MarkSynced(gomock.Any(), domain.EntityCustomer, int64(1), "Q1", "0", gomock.Nil())
	s.records.EXPECT().MarkSynced(gomock.Any(), domain.EntityCustomer, int64(2), "Q2", "4", gomock.Nil())
	s.records.EXPECT().MarkSyncError(gomock.Any(), domain.EntityCustomer, int64(4), gomock.Any())

	resp, err := s.worker.Sync(ctx, domain.WorkerRequest{
		TenantID:  "t1",
		Entity:    domain.EntityCustomer,
		Direction: domain.DirectionPush,
	})
	s.Require().NoError(err)
	s.True(resp.IsComplete)
	s.Equal(4, resp.Processed)
	s.Equal(2, resp.Upserted)
	s.Equal(1, resp.Skipped)
	s.Require().Len(resp.Errors, 2)
	s.Equal(int64(3), resp.Errors[0].InternalID)
	s.Equal(int64(4), resp.Errors[1].InternalID)
	s.Equal(4, resp.CurrentOffset)
}

func (s *WorkerTestSuite) TestPull_ConflictInternalWinsSkipsRecord() {
	ctx := context.Background()
	lastSync := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	s.client.EXPECT().Count(gomock.Any(), "t1", domain.EntityCustomer, "").Return(2, nil)
	s.client.EXPECT().Query(gomock.Any(), "t1", gomock.Any()).Return(&qbo.Page{Records: rawRecords(
		`{"Id":"C1","SyncToken":"2","DisplayName":"Remote","MetaData":{"LastUpdatedTime":"2024-02-01T02:00:00Z"}}`,
		`{"Id":"C2","SyncToken":"0","DisplayName":"Other","MetaData":{"LastUpdatedTime":"2024-02-01T02:00:00Z"}}`,
	)}, nil)
	s.records.EXPECT().LocalVersions(gomock.Any(), "t1", domain.EntityCustomer, []string{"C1", "C2"}).Return(
		map[string]domain.LocalVersion{
			"C1": {ID: 5, UpdatedAt: lastSync.Add(time.Hour), Pending: true},
		}, nil,
	)

	var stored []domain.Customer
	s.customers.EXPECT().UpsertBatch(gomock.Any(), "t1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, customers []domain.Customer) (int, error) {
			stored = customers
			return len(customers), nil
		},
	)

	resp, err := s.worker.Sync(ctx, domain.WorkerRequest{
		TenantID:  "t1",
		Entity:    domain.EntityCustomer,
		Direction: domain.DirectionPull,
		Conflict:  domain.ConflictInternalWins,
		LastSync:  &lastSync,
	})
	s.Require().NoError(err)
	s.Equal(1, resp.Conflicts)
	s.Equal(1, resp.Skipped)
	s.Equal(1, resp.Upserted)
	s.Equal(2, resp.Processed)
	s.Require().Len(stored, 1)
	s.Equal("C2", *stored[0].ExternalID)
}

func (s *WorkerTestSuite) TestPull_ConflictNewestWinsKeepsNewerExternal() {
	ctx := context.Background()
	lastSync := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	s.client.EXPECT().Count(gomock.Any(), "t1", domain.EntityCustomer, "").Return(1, nil)
	s.client.EXPECT().Query(gomock.Any(), "t1", gomock.Any()).Return(&qbo.Page{Records: rawRecords(
		`{"Id":"C1","SyncToken":"2","DisplayName":"Remote","MetaData":{"LastUpdatedTime":"2024-02-01T02:00:00Z"}}`,
	)}, nil)
	s.records.EXPECT().LocalVersions(gomock.Any(), "t1", domain.EntityCustomer, []string{"C1"}).Return(
		map[string]domain.LocalVersion{
			"C1": {ID: 5, UpdatedAt: lastSync.Add(time.Hour), Pending: true},
		}, nil,
	)
	s.customers.EXPECT().UpsertBatch(gomock.Any(), "t1", gomock.Len(1)).Return(1, nil)

	resp, err := s.worker.Sync(ctx, domain.WorkerRequest{
		TenantID:  "t1",
		Entity:    domain.EntityCustomer,
		Direction: domain.DirectionPull,
		Conflict:  domain.ConflictNewestWins,
		LastSync:  &lastSync,
	})
	s.Require().NoError(err)
	s.Equal(1, resp.Conflicts)
	s.Equal(0, resp.Skipped)
	s.Equal(1, resp.Upserted)
}

func (s *WorkerTestSuite) TestSync_FatalErrorFailsSession() {
	ctx := context.Background()

	s.client.EXPECT().Count(gomock.Any(), "t1", domain.EntityCustomer, "").
		Return(0, &retry.StatusError{StatusCode: http.StatusUnauthorized})

	_, err := s.worker.Sync(ctx, domain.WorkerRequest{TenantID: "t1", Entity: domain.EntityCustomer, Direction: domain.DirectionPull})
	s.Error(err)

	session, err := s.sessions.only()
	s.Require().NoError(err)
	s.Equal(domain.SessionFailed, session.Status)
	s.Require().NotNil(session.ErrorMessage)
	s.Contains(*session.ErrorMessage, "401")
}

func (s *WorkerTestSuite) TestSync_TransientErrorKeepsSession() {
	ctx := context.Background()

	s.client.EXPECT().Count(gomock.Any(), "t1", domain.EntityCustomer, "").Return(10, nil)
	s.client.EXPECT().Query(gomock.Any(), "t1", gomock.Any()).Return(nil, errors.New("connection reset by peer"))

	_, err := s.worker.Sync(ctx, domain.WorkerRequest{TenantID: "t1", Entity: domain.EntityCustomer, Direction: domain.DirectionPull})
	s.Error(err)

	session, err := s.sessions.only()
	s.Require().NoError(err)
	s.Equal(domain.SessionInProgress, session.Status)
	s.Require().NotNil(session.ErrorMessage)
	s.Contains(*session.ErrorMessage, "connection reset")
}

func (s *WorkerTestSuite) TestSync_DeltaFilterUsesSince() {
	ctx := context.Background()
	since := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	s.client.EXPECT().Count(gomock.Any(), "t1", domain.EntityItem, "MetaData.LastUpdatedTime > '2024-01-02T03:04:05Z'").Return(0, nil)

	resp, err := s.worker.Sync(ctx, domain.WorkerRequest{
		TenantID:  "t1",
		Entity:    domain.EntityItem,
		Direction: domain.DirectionPull,
		Mode:      domain.SyncModeDelta,
		Since:     &since,
	})
	s.Require().NoError(err)
	s.True(resp.IsComplete)
	s.Equal(0, resp.Processed)
}

func (s *WorkerTestSuite) TestPull_ResumedDeltaKeepsOriginalBound() {
	ctx := context.Background()
	const total = 70
	first := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	where := "MetaData.LastUpdatedTime > '2024-02-01T00:00:00Z'"

	s.client.EXPECT().Count(gomock.Any(), "t1", domain.EntityCustomer, where).Return(total, nil).Times(1)
	s.client.EXPECT().Query(gomock.Any(), "t1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, req qbo.QueryRequest) (*qbo.Page, error) {
			s.Equal(where, req.Where)
			s.clock.Advance(15 * time.Second)
			n := min(req.MaxResults, total-req.Offset)
			return &qbo.Page{Records: customerPage(req.Offset, n), Offset: req.Offset}, nil
		},
	).Times(2)
	s.customers.EXPECT().UpsertBatch(gomock.Any(), "t1", gomock.Any()).DoAndReturn(countUpserted[domain.Customer]).Times(2)

	req := domain.WorkerRequest{
		TenantID:  "t1",
		Entity:    domain.EntityCustomer,
		Direction: domain.DirectionPull,
		BatchSize: 50,
		Mode:      domain.SyncModeDelta,
		LastSync:  &first,
	}
	resp, err := s.worker.Sync(ctx, req)
	s.Require().NoError(err)
	s.False(resp.IsComplete)

	req.LastSync = &later
	resp, err = s.worker.Sync(ctx, req)
	s.Require().NoError(err)
	s.True(resp.IsComplete)
	s.Equal(20, resp.Processed)

	session, err := s.sessions.only()
	s.Require().NoError(err)
	s.Equal(total, session.TotalProcessed)
	s.Require().NotNil(session.FilterSince)
	s.True(first.Equal(*session.FilterSince))
}

func (s *WorkerTestSuite) TestPull_DeltaFromRunStartSeesInFlightEdit() {
	ctx := context.Background()
	runStart := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	where := "MetaData.LastUpdatedTime > '2024-02-01T10:00:00Z'"

	s.client.EXPECT().Count(gomock.Any(), "t1", domain.EntityCustomer, where).Return(1, nil)
	s.client.EXPECT().Query(gomock.Any(), "t1", gomock.Any()).Return(&qbo.Page{Records: rawRecords(
		`{"Id":"C1","SyncToken":"3","DisplayName":"Edited mid-run","MetaData":{"LastUpdatedTime":"2024-02-01T10:00:30Z"}}`,
	)}, nil)
	s.customers.EXPECT().UpsertBatch(gomock.Any(), "t1", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, customers []domain.Customer) (int, error) {
			s.Require().Len(customers, 1)
			s.Equal("Edited mid-run", customers[0].DisplayName)
			return 1, nil
		},
	)

	resp, err := s.worker.Sync(ctx, domain.WorkerRequest{
		TenantID:  "t1",
		Entity:    domain.EntityCustomer,
		Direction: domain.DirectionPull,
		Mode:      domain.SyncModeDelta,
		LastSync:  &runStart,
	})
	s.Require().NoError(err)
	s.True(resp.IsComplete)
	s.Equal(1, resp.Upserted)
}

func (s *WorkerTestSuite) TestSync_HistoricalFilterUsesCutoff() {
	ctx := context.Background()

	s.client.EXPECT().Count(gomock.Any(), "t1", domain.EntityItem, "MetaData.LastUpdatedTime >= '2024-01-31T12:00:00Z'").Return(0, nil)

	_, err := s.worker.Sync(ctx, domain.WorkerRequest{
		TenantID:  "t1",
		Entity:    domain.EntityItem,
		Direction: domain.DirectionPull,
		Mode:      domain.SyncModeHistorical,
	})
	s.Require().NoError(err)
}

func (s *WorkerTestSuite) TestSync_RejectsInvalidRequests() {
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.WorkerRequest
	}{
		{"unknown entity", domain.WorkerRequest{TenantID: "t1", Entity: "vendor", Direction: domain.DirectionPull}},
		{"missing tenant", domain.WorkerRequest{Entity: domain.EntityItem, Direction: domain.DirectionPull}},
		{"both directions", domain.WorkerRequest{TenantID: "t1", Entity: domain.EntityItem, Direction: domain.DirectionBoth}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.worker.Sync(ctx, tt.req)
			s.ErrorIs(err, domain.ErrInvalidInput)
		})
	}
}
