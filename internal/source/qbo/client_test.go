package qbo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"erp_sync/internal/domain"
	"erp_sync/internal/ratelimit"
	"erp_sync/internal/retry"
)

type staticCredentials map[string]*domain.Connection

func (c staticCredentials) Credential(_ context.Context, tenantID string) (*domain.Connection, error) {
	conn, ok := c[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return conn, nil
}

type ClientTestSuite struct {
	suite.Suite
	ctx     context.Context
	server  *httptest.Server
	handler http.HandlerFunc
	limiter *ratelimit.Limiter
	client  *Client

	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
}

func (s *ClientTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.requests = nil
	s.bodies = nil

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, r)
		s.bodies = append(s.bodies, string(body))
		s.mu.Unlock()
		s.handler(w, r)
	}))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	retrier := retry.New(retry.DefaultConfig(), logger, retry.WithSleep(func(context.Context, time.Duration) error {
		return nil
	}))
	s.limiter = ratelimit.New(ratelimit.Config{Capacity: 100, Window: time.Minute})

	creds := staticCredentials{
		"tenant-1": {TenantID: "tenant-1", RealmID: "realm-1", AccessToken: "token-1", Active: true},
	}
	s.client = New(Config{BaseURL: s.server.URL, Timeout: 5 * time.Second, MinorVersion: 75}, creds, s.limiter, retrier, logger)
}

func (s *ClientTestSuite) TearDownTest() {
	s.server.Close()
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (s *ClientTestSuite) TestBuildQuery() {
	s.Equal("SELECT * FROM Customer STARTPOSITION 1 MAXRESULTS 50",
		BuildQuery(QueryRequest{Entity: domain.EntityCustomer, Offset: 0, MaxResults: 50}))
	s.Equal("SELECT * FROM Invoice WHERE MetaData.LastUpdatedTime > '2024-01-01T00:00:00Z' STARTPOSITION 101 MAXRESULTS 50",
		BuildQuery(QueryRequest{
			Entity:     domain.EntityInvoice,
			Offset:     100,
			MaxResults: 50,
			Where:      "MetaData.LastUpdatedTime > '2024-01-01T00:00:00Z'",
		}))
}

func (s *ClientTestSuite) TestQuery_ReturnsRawRecords() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"QueryResponse":{"Customer":[{"Id":"1"},{"Id":"2"}],"startPosition":1,"maxResults":2}}`)
	}

	page, err := s.client.Query(s.ctx, "tenant-1", QueryRequest{Entity: domain.EntityCustomer, MaxResults: 50})

	s.Require().NoError(err)
	s.Len(page.Records, 2)

	req := s.requests[0]
	s.Equal("/v3/company/realm-1/query", req.URL.Path)
	s.Equal("SELECT * FROM Customer STARTPOSITION 1 MAXRESULTS 50", req.URL.Query().Get("query"))
	s.Equal("75", req.URL.Query().Get("minorversion"))
	s.Equal("Bearer token-1", req.Header.Get("Authorization"))
	s.Equal(1, s.limiter.Stats("tenant-1").Count)
}

func (s *ClientTestSuite) TestQuery_EmptyResponseHasNoRecords() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"QueryResponse":{}}`)
	}

	page, err := s.client.Query(s.ctx, "tenant-1", QueryRequest{Entity: domain.EntityItem, Offset: 200, MaxResults: 50})

	s.Require().NoError(err)
	s.Empty(page.Records)
	s.Equal(200, page.Offset)
}

func (s *ClientTestSuite) TestQuery_RetriesRateLimitedCalls() {
	calls := 0
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			writeJSON(w, http.StatusTooManyRequests, `{"Fault":{"type":"ThrottleExceeded"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"QueryResponse":{"Item":[{"Id":"7"}]}}`)
	}

	page, err := s.client.Query(s.ctx, "tenant-1", QueryRequest{Entity: domain.EntityItem, MaxResults: 10})

	s.Require().NoError(err)
	s.Len(page.Records, 1)
	s.Equal(3, calls)
	s.Equal(3, s.limiter.Stats("tenant-1").Count)
}

func (s *ClientTestSuite) TestQuery_UnauthorizedIsFatal() {
	calls := 0
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusUnauthorized, `{"Fault":{"type":"AUTHENTICATION"}}`)
	}

	_, err := s.client.Query(s.ctx, "tenant-1", QueryRequest{Entity: domain.EntityItem, MaxResults: 10})

	s.Error(err)
	s.True(retry.IsFatal(err))
	s.Equal(1, calls)
	code, _ := retry.StatusCode(err)
	s.Equal(http.StatusUnauthorized, code)
}

func (s *ClientTestSuite) TestQuery_MissingCredentialIsFatal() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		s.Fail("no request expected")
	}

	_, err := s.client.Query(s.ctx, "unknown", QueryRequest{Entity: domain.EntityItem, MaxResults: 10})

	s.ErrorIs(err, domain.ErrMissingCredential)
	s.True(retry.IsFatal(err))
	s.Empty(s.requests)
}

func (s *ClientTestSuite) TestCount() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"QueryResponse":{"totalCount":237}}`)
	}

	total, err := s.client.Count(s.ctx, "tenant-1", domain.EntityInvoice, "Balance > '0'")

	s.Require().NoError(err)
	s.Equal(237, total)
	s.Equal("SELECT COUNT(*) FROM Invoice WHERE Balance > '0'", s.requests[0].URL.Query().Get("query"))
}

func (s *ClientTestSuite) TestCreate_SendsPayloadWithRequestID() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"Customer":{"Id":"58","SyncToken":"0","MetaData":{"LastUpdatedTime":"2024-03-01T10:00:00-08:00"}}}`)
	}

	result, err := s.client.Create(s.ctx, "tenant-1", domain.EntityCustomer, Customer{DisplayName: "Acme"})

	s.Require().NoError(err)
	s.Equal("58", result.ExternalID)
	s.Equal("0", result.SyncToken)
	s.Require().NotNil(result.LastUpdated)

	req := s.requests[0]
	s.Equal(http.MethodPost, req.Method)
	s.Equal("/v3/company/realm-1/customer", req.URL.Path)
	s.NotEmpty(req.URL.Query().Get("requestid"))

	var sent map[string]any
	s.Require().NoError(json.Unmarshal([]byte(s.bodies[0]), &sent))
	s.Equal("Acme", sent["DisplayName"])
}

func (s *ClientTestSuite) TestUpdate_RetryReusesRequestID() {
	calls := 0
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeJSON(w, http.StatusServiceUnavailable, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"Item":{"Id":"9","SyncToken":"4"}}`)
	}

	result, err := s.client.Update(s.ctx, "tenant-1", domain.EntityItem, Item{ID: "9", SyncToken: "3", Sparse: true})

	s.Require().NoError(err)
	s.Equal("4", result.SyncToken)
	s.Require().Len(s.requests, 2)
	s.Equal(s.requests[0].URL.Query().Get("requestid"), s.requests[1].URL.Query().Get("requestid"))
}

func (s *ClientTestSuite) TestUpdate_StaleSyncTokenIsFatal() {
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"Fault":{"Error":[{"Message":"Stale Object Error","code":"5010"}],"type":"ValidationFault"}}`)
	}

	_, err := s.client.Update(s.ctx, "tenant-1", domain.EntityItem, Item{ID: "9", SyncToken: "1", Sparse: true})

	var se *retry.StatusError
	s.Require().True(errors.As(err, &se))
	s.Equal(http.StatusBadRequest, se.StatusCode)
	s.Contains(se.Body, "Stale Object Error")
}
