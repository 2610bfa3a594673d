package qbo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"erp_sync/internal/domain"
	"erp_sync/internal/retry"
)

const SourceID = "qbo"

// Credentials resolves the connection of a tenant. Token refresh happens
// elsewhere; the client only reads what is current.
type Credentials interface {
	Credential(ctx context.Context, tenantID string) (*domain.Connection, error)
}

type RateLimiter interface {
	Acquire(ctx context.Context, tenantID string) error
}

type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MinorVersion int
}

// Client talks to the accounting API. Every call is admitted by the tenant's
// rate limiter and wrapped by the retry engine.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	minorVersion int
	credentials  Credentials
	limiter      RateLimiter
	retry        *retry.Engine
	logger       *slog.Logger
}

func New(cfg Config, credentials Credentials, limiter RateLimiter, retrier *retry.Engine, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		minorVersion: cfg.MinorVersion,
		credentials:  credentials,
		limiter:      limiter,
		retry:        retrier,
		logger:       logger.With("source", SourceID),
	}
}

type QueryRequest struct {
	Entity domain.EntityKind
	// Offset is zero based; the API counts from one.
	Offset     int
	MaxResults int
	Where      string
}

type Page struct {
	Records []json.RawMessage
	Offset  int
}

type MutationResult struct {
	ExternalID  string
	SyncToken   string
	LastUpdated *time.Time
}

// BuildQuery renders a paged query statement.
func BuildQuery(req QueryRequest) string {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(req.Entity.ExternalName())
	if req.Where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(req.Where)
	}
	sb.WriteString(" STARTPOSITION ")
	sb.WriteString(strconv.Itoa(req.Offset + 1))
	sb.WriteString(" MAXRESULTS ")
	sb.WriteString(strconv.Itoa(req.MaxResults))
	return sb.String()
}

func (c *Client) Query(ctx context.Context, tenantID string, req QueryRequest) (*Page, error) {
	params := url.Values{"query": {BuildQuery(req)}}

	var env queryEnvelope
	if err := c.call(ctx, tenantID, "query "+req.Entity.ExternalName(), http.MethodGet, "/query", params, nil, &env); err != nil {
		return nil, fmt.Errorf("query %s at %d: %w", req.Entity, req.Offset, err)
	}
	if env.Fault != nil {
		return nil, fmt.Errorf("query %s at %d: %w", req.Entity, req.Offset, env.Fault)
	}

	page := &Page{Offset: req.Offset}
	if raw, ok := env.QueryResponse[req.Entity.ExternalName()]; ok {
		if err := json.Unmarshal(raw, &page.Records); err != nil {
			return nil, fmt.Errorf("decode %s records: %w", req.Entity, err)
		}
	}

	c.logger.Debug("fetched page",
		"tenant", tenantID,
		"entity", req.Entity,
		"offset", req.Offset,
		"records", len(page.Records),
	)

	return page, nil
}

func (c *Client) Count(ctx context.Context, tenantID string, kind domain.EntityKind, where string) (int, error) {
	stmt := "SELECT COUNT(*) FROM " + kind.ExternalName()
	if where != "" {
		stmt += " WHERE " + where
	}

	var env queryEnvelope
	if err := c.call(ctx, tenantID, "count "+kind.ExternalName(), http.MethodGet, "/query", url.Values{"query": {stmt}}, nil, &env); err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}

	return Int(env.QueryResponse["totalCount"]), nil
}

// Create sends a new entity. A request id makes retried creates idempotent.
func (c *Client) Create(ctx context.Context, tenantID string, kind domain.EntityKind, payload any) (*MutationResult, error) {
	return c.mutate(ctx, tenantID, kind, "create", payload)
}

// Update requires payload to carry the external id and the last known sync token.
func (c *Client) Update(ctx context.Context, tenantID string, kind domain.EntityKind, payload any) (*MutationResult, error) {
	return c.mutate(ctx, tenantID, kind, "update", payload)
}

func (c *Client) mutate(ctx context.Context, tenantID string, kind domain.EntityKind, action string, payload any) (*MutationResult, error) {
	params := url.Values{"requestid": {uuid.NewString()}}
	path := "/" + strings.ToLower(kind.ExternalName())

	var env map[string]json.RawMessage
	if err := c.call(ctx, tenantID, action+" "+kind.ExternalName(), http.MethodPost, path, params, payload, &env); err != nil {
		return nil, fmt.Errorf("%s %s: %w", action, kind, err)
	}

	var entity mutationEntity
	if err := json.Unmarshal(env[kind.ExternalName()], &entity); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", action, err)
	}
	if entity.ID == "" {
		return nil, fmt.Errorf("%s %s: response carries no id", action, kind)
	}

	result := &MutationResult{
		ExternalID: entity.ID,
		SyncToken:  entity.SyncToken,
	}
	if entity.MetaData != nil {
		result.LastUpdated = Timestamp(entity.MetaData.LastUpdatedTime)
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, tenantID, op, method, path string, params url.Values, body any, out any) error {
	conn, err := c.credentials.Credential(ctx, tenantID)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%w for tenant %s: %w", domain.ErrMissingCredential, tenantID, err))
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshal payload: %w", err))
		}
	}

	if c.minorVersion > 0 {
		params.Set("minorversion", strconv.Itoa(c.minorVersion))
	}
	endpoint := fmt.Sprintf("%s/v3/company/%s%s?%s", c.baseURL, url.PathEscape(conn.RealmID), path, params.Encode())

	return c.retry.Execute(ctx, op, func(ctx context.Context) error {
		if err := c.limiter.Acquire(ctx, tenantID); err != nil {
			return retry.Permanent(fmt.Errorf("acquire rate limit: %w", err))
		}
		return c.doRequest(ctx, method, endpoint, conn.AccessToken, payload, out)
	})
}

func (c *Client) doRequest(ctx context.Context, method, endpoint, token string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "ERPSync/1.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &retry.StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
