package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"erp_sync/internal/config"
	"erp_sync/internal/domain"
	"erp_sync/internal/metrics"
	"erp_sync/internal/retry"
	"erp_sync/internal/source/qbo"
)

// Worker runs resumable pull and push invocations for one entity at a time.
// Entity kinds dispatch through a closed handler table.
type Worker struct {
	client   AccountingClient
	sessions *SessionManager
	records  RecordIndex
	tx       TransactionManager
	handlers map[domain.EntityKind]entityHandler
	cfg      config.SyncConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type WorkerOption func(*Worker)

func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

func NewWorker(
	client AccountingClient,
	sessions *SessionManager,
	records RecordIndex,
	stores Stores,
	tx TransactionManager,
	cfg config.SyncConfig,
	logger *slog.Logger,
	opts ...WorkerOption,
) (*Worker, error) {
	w := &Worker{
		client:   client,
		sessions: sessions,
		records:  records,
		tx:       tx,
		handlers: newHandlers(stores, cfg.IncomeAccountID),
		cfg:      cfg,
		logger:   logger.With("component", "worker"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, kind := range domain.AllEntityKinds() {
		if _, ok := w.handlers[kind]; !ok {
			return nil, fmt.Errorf("no handler for entity %s", kind)
		}
	}
	return w, nil
}

func (w *Worker) Sync(ctx context.Context, req domain.WorkerRequest) (*domain.WorkerResponse, error) {
	h, ok := w.handlers[req.Entity]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity %q", domain.ErrInvalidInput, req.Entity)
	}
	if req.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", domain.ErrInvalidInput)
	}
	if req.Direction != domain.DirectionPull && req.Direction != domain.DirectionPush {
		return nil, fmt.Errorf("%w: worker direction must be pull or push, got %q", domain.ErrInvalidInput, req.Direction)
	}

	session, created, err := w.sessions.StartOrResume(ctx, req, w.filterSince(req))
	if err != nil {
		return nil, err
	}

	run := &workerRun{
		Worker:  w,
		handler: h,
		req:     req,
		session: session,
		resp:    &domain.WorkerResponse{SessionID: session.ID},
		logger: w.logger.With(
			"tenant", req.TenantID,
			"entity", req.Entity,
			"direction", req.Direction,
			"session_id", session.ID,
		),
		deadline: w.now().Add(w.cfg.SoftDeadline),
	}
	run.logger.Info("worker started", "created", created, "offset", session.CurrentOffset)

	if req.Direction == domain.DirectionPull {
		err = run.pull(ctx)
	} else {
		err = run.push(ctx)
	}
	run.finishResponse()

	w.metrics.AddRecords(string(req.Entity), string(req.Direction), "upserted", run.resp.Upserted)
	w.metrics.AddRecords(string(req.Entity), string(req.Direction), "skipped", run.resp.Skipped)
	w.metrics.AddRecords(string(req.Entity), string(req.Direction), "error", len(run.resp.Errors))

	if err != nil {
		return run.resp, run.abort(ctx, err)
	}

	run.logger.Info("worker finished",
		"processed", run.resp.Processed,
		"upserted", run.resp.Upserted,
		"skipped", run.resp.Skipped,
		"conflicts", run.resp.Conflicts,
		"record_errors", len(run.resp.Errors),
		"complete", run.resp.IsComplete,
	)
	return run.resp, nil
}

// workerRun is the state of one Sync invocation.
type workerRun struct {
	*Worker
	handler  entityHandler
	req      domain.WorkerRequest
	session  *domain.SyncSession
	resp     *domain.WorkerResponse
	logger   *slog.Logger
	deadline time.Time
	pages    int
}

// yield reports whether the invocation should stop at this page boundary.
// At least one page is processed per invocation.
func (r *workerRun) yield() bool {
	if r.pages == 0 {
		return false
	}
	if r.cfg.SoftDeadline > 0 && !r.now().Before(r.deadline) {
		r.logger.Info("soft deadline reached, yielding", "offset", r.session.CurrentOffset)
		return true
	}
	if r.cfg.MaxPagesPerRun > 0 && r.pages >= r.cfg.MaxPagesPerRun {
		r.logger.Info("page budget reached, yielding", "offset", r.session.CurrentOffset)
		return true
	}
	return false
}

func (r *workerRun) pull(ctx context.Context) error {
	where := r.filter()

	if r.session.TotalExpected == nil {
		total, err := r.client.Count(ctx, r.req.TenantID, r.req.Entity, where)
		if err != nil {
			return fmt.Errorf("count %s: %w", r.req.Entity, err)
		}
		if err := r.sessions.Update(ctx, r.session.ID, domain.SessionUpdate{TotalExpected: &total}); err != nil {
			return fmt.Errorf("store expected total: %w", err)
		}
		r.session.TotalExpected = &total
	}

	lk, err := r.loadLookups(ctx)
	if err != nil {
		return err
	}

	for {
		if r.session.Exhausted() {
			return r.complete(ctx)
		}
		if r.yield() {
			return nil
		}

		page, err := r.client.Query(ctx, r.req.TenantID, qbo.QueryRequest{
			Entity:     r.req.Entity,
			Offset:     r.session.CurrentOffset,
			MaxResults: r.session.BatchSize,
			Where:      where,
		})
		if err != nil {
			return err
		}

		if err := r.pullPage(ctx, page.Records, lk); err != nil {
			return err
		}
		r.pages++

		if len(page.Records) < r.session.BatchSize {
			return r.complete(ctx)
		}
	}
}

func (r *workerRun) pullPage(ctx context.Context, raw []json.RawMessage, lk lookups) error {
	kept, err := r.resolveConflicts(ctx, raw)
	if err != nil {
		return err
	}

	fetched := len(raw)
	return r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		n, recErrs, err := r.handler.upsertPage(txCtx, r.req.TenantID, kept, lk)
		if err != nil {
			return err
		}
		if err := r.sessions.Advance(txCtx, r.session, r.session.CurrentOffset+fetched, fetched); err != nil {
			return fmt.Errorf("advance session: %w", err)
		}
		r.resp.Processed += fetched
		r.resp.Upserted += n
		r.resp.Errors = append(r.resp.Errors, recErrs...)
		return nil
	})
}

// resolveConflicts drops external records that lose a conflict against a
// pending local edit. Without a strategy nothing is dropped.
func (r *workerRun) resolveConflicts(ctx context.Context, raw []json.RawMessage) ([]json.RawMessage, error) {
	if r.req.Conflict == domain.ConflictNone || r.req.LastSync == nil || len(raw) == 0 {
		return raw, nil
	}

	headers := make([]qbo.Header, len(raw))
	ids := make([]string, 0, len(raw))
	for i, msg := range raw {
		if err := json.Unmarshal(msg, &headers[i]); err == nil && headers[i].ID != "" {
			ids = append(ids, headers[i].ID)
		}
	}

	local, err := r.records.LocalVersions(ctx, r.req.TenantID, r.req.Entity, ids)
	if err != nil {
		return nil, fmt.Errorf("load local versions: %w", err)
	}

	kept := make([]json.RawMessage, 0, len(raw))
	for i, msg := range raw {
		h := headers[i]
		version, found := local[h.ID]
		updated := h.LastUpdated()
		if !found || !DetectConflict(version, updated, r.req.LastSync) {
			kept = append(kept, msg)
			continue
		}

		r.resp.Conflicts++
		winner := ConflictWinner(r.req.Conflict, version.UpdatedAt, *updated)
		r.logger.Info("conflict detected",
			"external_id", h.ID,
			"local_updated_at", version.UpdatedAt,
			"external_updated_at", *updated,
			"winner", winner,
		)
		if winner == SideInternal {
			r.resp.Skipped++
			continue
		}
		kept = append(kept, msg)
	}
	return kept, nil
}

func (r *workerRun) push(ctx context.Context) error {
	if r.session.TotalExpected == nil {
		pending, err := r.records.CountPending(ctx, r.req.TenantID, r.req.Entity)
		if err != nil {
			return fmt.Errorf("count pending %s: %w", r.req.Entity, err)
		}
		if err := r.sessions.Update(ctx, r.session.ID, domain.SessionUpdate{TotalExpected: &pending}); err != nil {
			return fmt.Errorf("store expected total: %w", err)
		}
		r.session.TotalExpected = &pending
	}

	for {
		if r.yield() {
			return nil
		}

		afterID := int64(r.session.CurrentOffset)
		items, err := r.handler.pendingPage(ctx, r.req.TenantID, afterID, r.session.BatchSize)
		if err != nil {
			return fmt.Errorf("list pending %s: %w", r.req.Entity, err)
		}
		if len(items) == 0 {
			return r.complete(ctx)
		}

		for _, item := range items {
			if err := r.pushItem(ctx, item); err != nil {
				return err
			}
		}

		last := items[len(items)-1].ID
		if err := r.sessions.Advance(ctx, r.session, int(last), len(items)); err != nil {
			return fmt.Errorf("advance session: %w", err)
		}
		r.resp.Processed += len(items)
		r.pages++

		if len(items) < r.session.BatchSize {
			return r.complete(ctx)
		}
	}
}

// pushItem sends one record. Only errors that make further pushes pointless
// are returned; per-record failures are recorded on the response.
func (r *workerRun) pushItem(ctx context.Context, item pushItem) error {
	if item.Err != nil {
		r.resp.Skipped++
		r.resp.Errors = append(r.resp.Errors, domain.RecordError{Entity: r.req.Entity, InternalID: item.ID, Reason: item.Err.Error()})
		r.logger.Warn("record not pushable", "internal_id", item.ID, "error", item.Err)
		return nil
	}

	var (
		result *qbo.MutationResult
		err    error
	)
	if item.ExternalID == nil {
		result, err = r.client.Create(ctx, r.req.TenantID, r.req.Entity, item.Payload)
	} else {
		result, err = r.client.Update(ctx, r.req.TenantID, r.req.Entity, item.Payload)
	}
	if err != nil {
		if errors.Is(err, domain.ErrMissingCredential) || ctx.Err() != nil {
			return err
		}
		r.resp.Errors = append(r.resp.Errors, domain.RecordError{Entity: r.req.Entity, InternalID: item.ID, Reason: err.Error()})
		if markErr := r.records.MarkSyncError(ctx, r.req.Entity, item.ID, err.Error()); markErr != nil {
			return fmt.Errorf("mark sync error: %w", markErr)
		}
		r.logger.Warn("push failed", "internal_id", item.ID, "error", err)
		return nil
	}

	if err := r.records.MarkSynced(ctx, r.req.Entity, item.ID, result.ExternalID, result.SyncToken, result.LastUpdated); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	r.resp.Upserted++
	return nil
}

func (r *workerRun) complete(ctx context.Context) error {
	if err := r.sessions.Complete(ctx, r.session, true, nil); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	r.resp.IsComplete = true
	return nil
}

// abort records err on the session. Fatal errors fail the session; anything
// else leaves it in progress so the next invocation resumes.
func (r *workerRun) abort(ctx context.Context, err error) error {
	msg := err.Error()
	r.resp.Success = false

	if retry.IsFatal(err) && !errors.Is(err, domain.ErrSessionConflict) && ctx.Err() == nil {
		r.logger.Error("worker failed", "error", err, "offset", r.session.CurrentOffset)
		if cErr := r.sessions.Complete(ctx, r.session, false, &msg); cErr != nil {
			r.logger.Error("failed to mark session failed", "error", cErr)
		}
		return err
	}

	r.logger.Warn("worker interrupted, session kept for resume", "error", err, "offset", r.session.CurrentOffset)
	if uErr := r.sessions.Update(context.WithoutCancel(ctx), r.session.ID, domain.SessionUpdate{ErrorMessage: &msg}); uErr != nil {
		r.logger.Error("failed to store session error", "error", uErr)
	}
	return err
}

func (r *workerRun) finishResponse() {
	r.resp.CurrentOffset = r.session.CurrentOffset
	r.resp.Success = true
	if !r.resp.IsComplete {
		next := r.session.CurrentOffset
		r.resp.NextOffset = &next
	}
}

func (r *workerRun) loadLookups(ctx context.Context) (lookups, error) {
	lk := make(lookups)
	for _, dep := range r.handler.dependencies() {
		m, err := r.records.LoadMappings(ctx, r.req.TenantID, dep)
		if err != nil {
			return nil, fmt.Errorf("load %s mappings: %w", dep, err)
		}
		lk[dep] = m
	}
	return lk, nil
}

// filterSince computes the pull bound a new session for req starts with.
func (w *Worker) filterSince(req domain.WorkerRequest) *time.Time {
	if req.Direction != domain.DirectionPull {
		return nil
	}
	switch req.Mode {
	case domain.SyncModeDelta:
		if req.Since != nil {
			return req.Since
		}
		return req.LastSync
	case domain.SyncModeHistorical:
		cutoff := w.now().AddDate(0, 0, -w.cfg.MaxHistoricalDays)
		return &cutoff
	}
	return nil
}

// filter renders the WHERE clause for the session's sync mode from the bound
// stored on the session, so a resumed pull pages through the same result set.
func (r *workerRun) filter() string {
	since := r.session.FilterSince
	if since == nil {
		return ""
	}
	bound := "'" + since.UTC().Format(time.RFC3339) + "'"
	switch r.session.Mode {
	case domain.SyncModeDelta:
		return "MetaData.LastUpdatedTime > " + bound
	case domain.SyncModeHistorical:
		return "MetaData.LastUpdatedTime >= " + bound
	}
	return ""
}
