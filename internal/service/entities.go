package service

import (
	"context"
	"encoding/json"
	"fmt"

	"erp_sync/internal/domain"
	"erp_sync/internal/source/qbo"
)

// lookups maps external ids to internal ids for the dependency kinds of one
// run. It is loaded once per run, never per record.
type lookups map[domain.EntityKind]map[string]int64

func (l lookups) resolve(kind domain.EntityKind, ref *qbo.Ref) (int64, bool) {
	if ref == nil || ref.Value == "" {
		return 0, false
	}
	id, ok := l[kind][ref.Value]
	return id, ok
}

// pushItem is a pending local record rendered for the external system. Err is
// set when the record cannot be rendered yet.
type pushItem struct {
	ID         int64
	ExternalID *string
	Payload    any
	Err        error
}

type entityHandler interface {
	// dependencies are the kinds whose mappings pull resolves references against.
	dependencies() []domain.EntityKind
	upsertPage(ctx context.Context, tenantID string, raw []json.RawMessage, lk lookups) (int, []domain.RecordError, error)
	pendingPage(ctx context.Context, tenantID string, afterID int64, limit int) ([]pushItem, error)
}

// handler binds the wire type W and the local record type R of one entity kind.
type handler[W any, R any] struct {
	kind domain.EntityKind
	deps []domain.EntityKind

	// toLocal maps one external record. ok is false when the whole record
	// must be skipped; errs lists every problem found either way.
	toLocal  func(w *W, lk lookups) (rec R, errs []domain.RecordError, ok bool)
	toRemote func(r *R) (W, error)
	meta     func(r *R) *domain.SyncMeta

	upsert  func(ctx context.Context, tenantID string, records []R) (int, error)
	pending func(ctx context.Context, tenantID string, afterID int64, limit int) ([]R, error)
}

func (h *handler[W, R]) dependencies() []domain.EntityKind {
	return h.deps
}

func (h *handler[W, R]) upsertPage(ctx context.Context, tenantID string, raw []json.RawMessage, lk lookups) (int, []domain.RecordError, error) {
	records := make([]R, 0, len(raw))
	var errs []domain.RecordError

	for _, msg := range raw {
		var w W
		if err := json.Unmarshal(msg, &w); err != nil {
			errs = append(errs, domain.RecordError{Entity: h.kind, Reason: "decode: " + err.Error()})
			continue
		}
		rec, recErrs, ok := h.toLocal(&w, lk)
		errs = append(errs, recErrs...)
		if ok {
			records = append(records, rec)
		}
	}

	if len(records) == 0 {
		return 0, errs, nil
	}
	n, err := h.upsert(ctx, tenantID, records)
	if err != nil {
		return 0, errs, fmt.Errorf("upsert %s page: %w", h.kind, err)
	}
	return n, errs, nil
}

func (h *handler[W, R]) pendingPage(ctx context.Context, tenantID string, afterID int64, limit int) ([]pushItem, error) {
	records, err := h.pending(ctx, tenantID, afterID, limit)
	if err != nil {
		return nil, err
	}

	items := make([]pushItem, len(records))
	for i := range records {
		meta := h.meta(&records[i])
		item := pushItem{ID: meta.ID, ExternalID: meta.ExternalID}
		payload, err := h.toRemote(&records[i])
		if err != nil {
			item.Err = err
		} else {
			item.Payload = payload
		}
		items[i] = item
	}
	return items, nil
}

type Stores struct {
	Customers CustomerStore
	Items     ItemStore
	Invoices  InvoiceStore
	Payments  PaymentStore
}

func newHandlers(stores Stores, incomeAccountID string) map[domain.EntityKind]entityHandler {
	return map[domain.EntityKind]entityHandler{
		domain.EntityCustomer: &handler[qbo.Customer, domain.Customer]{
			kind:     domain.EntityCustomer,
			toLocal:  customerToLocal,
			toRemote: customerToRemote,
			meta:     func(c *domain.Customer) *domain.SyncMeta { return &c.SyncMeta },
			upsert:   stores.Customers.UpsertBatch,
			pending:  stores.Customers.ListPending,
		},
		domain.EntityItem: &handler[qbo.Item, domain.Item]{
			kind:    domain.EntityItem,
			toLocal: itemToLocal,
			toRemote: func(i *domain.Item) (qbo.Item, error) {
				return itemToRemote(i, incomeAccountID)
			},
			meta:    func(i *domain.Item) *domain.SyncMeta { return &i.SyncMeta },
			upsert:  stores.Items.UpsertBatch,
			pending: stores.Items.ListPending,
		},
		domain.EntityInvoice: &handler[qbo.Invoice, domain.Invoice]{
			kind:     domain.EntityInvoice,
			deps:     []domain.EntityKind{domain.EntityCustomer, domain.EntityItem},
			toLocal:  invoiceToLocal,
			toRemote: invoiceToRemote,
			meta:     func(i *domain.Invoice) *domain.SyncMeta { return &i.SyncMeta },
			upsert:   stores.Invoices.UpsertBatch,
			pending:  stores.Invoices.ListPending,
		},
		domain.EntityPayment: &handler[qbo.Payment, domain.Payment]{
			kind:     domain.EntityPayment,
			deps:     []domain.EntityKind{domain.EntityCustomer, domain.EntityInvoice},
			toLocal:  paymentToLocal,
			toRemote: paymentToRemote,
			meta:     func(p *domain.Payment) *domain.SyncMeta { return &p.SyncMeta },
			upsert:   stores.Payments.UpsertBatch,
			pending:  stores.Payments.ListPending,
		},
	}
}
