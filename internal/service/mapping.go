package service

import (
	"errors"
	"fmt"
	"strings"

	"erp_sync/internal/domain"
	"erp_sync/internal/source/qbo"
)

var (
	errMissingExternalRef = errors.New("missing external reference")
	errMissingSyncToken   = errors.New("missing sync token")
)

func recordError(kind domain.EntityKind, externalID, format string, args ...any) domain.RecordError {
	return domain.RecordError{Entity: kind, ExternalID: externalID, Reason: fmt.Sprintf(format, args...)}
}

func lastUpdated(m *qbo.MetaData) string {
	if m == nil {
		return ""
	}
	return m.LastUpdatedTime
}

func activeFlag(b *bool) bool {
	return b == nil || *b
}

func refValue(r *qbo.Ref) *string {
	if r == nil {
		return nil
	}
	return qbo.OptionalString(r.Value)
}

func ref(value *string) *qbo.Ref {
	if value == nil {
		return nil
	}
	return &qbo.Ref{Value: *value}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// identify fills the update fields of a payload. Local records that were
// never pushed produce a create payload.
func identify(meta *domain.SyncMeta) (id, token string, sparse bool, err error) {
	if meta.ExternalID == nil {
		return "", "", false, nil
	}
	if meta.SyncToken == nil {
		return "", "", false, fmt.Errorf("%w for external id %s", errMissingSyncToken, *meta.ExternalID)
	}
	return *meta.ExternalID, *meta.SyncToken, true, nil
}

func pulledMeta(id, syncToken string, active *bool, m *qbo.MetaData) domain.SyncMeta {
	return domain.SyncMeta{
		ExternalID:        qbo.OptionalString(id),
		SyncToken:         qbo.OptionalString(syncToken),
		SyncStatus:        domain.SyncSynced,
		Active:            activeFlag(active),
		ExternalUpdatedAt: qbo.Timestamp(lastUpdated(m)),
	}
}

func customerToLocal(w *qbo.Customer, _ lookups) (domain.Customer, []domain.RecordError, bool) {
	if w.ID == "" {
		return domain.Customer{}, []domain.RecordError{recordError(domain.EntityCustomer, "", "record has no Id")}, false
	}

	name := strings.TrimSpace(w.DisplayName)
	if name == "" {
		name = strings.TrimSpace(w.CompanyName)
	}
	if name == "" {
		name = strings.TrimSpace(w.GivenName + " " + w.FamilyName)
	}
	if name == "" {
		return domain.Customer{}, []domain.RecordError{recordError(domain.EntityCustomer, w.ID, "record has no display name")}, false
	}

	c := domain.Customer{
		SyncMeta:    pulledMeta(w.ID, w.SyncToken, w.Active, w.MetaData),
		DisplayName: name,
		CompanyName: qbo.OptionalString(w.CompanyName),
		GivenName:   qbo.OptionalString(w.GivenName),
		FamilyName:  qbo.OptionalString(w.FamilyName),
		Balance:     qbo.Decimal(w.Balance),
	}
	if w.PrimaryEmailAddr != nil {
		c.Email = qbo.OptionalString(w.PrimaryEmailAddr.Address)
	}
	if w.PrimaryPhone != nil {
		c.Phone = qbo.OptionalString(w.PrimaryPhone.FreeFormNumber)
	}
	if a := w.BillAddr; a != nil {
		c.AddressLine1 = qbo.OptionalString(a.Line1)
		c.City = qbo.OptionalString(a.City)
		c.Region = qbo.OptionalString(a.CountrySubDivisionCode)
		c.PostalCode = qbo.OptionalString(a.PostalCode)
		c.Country = qbo.OptionalString(a.Country)
	}
	return c, nil, true
}

func customerToRemote(c *domain.Customer) (qbo.Customer, error) {
	id, token, sparse, err := identify(&c.SyncMeta)
	if err != nil {
		return qbo.Customer{}, err
	}

	w := qbo.Customer{
		ID:          id,
		SyncToken:   token,
		Sparse:      sparse,
		DisplayName: c.DisplayName,
		CompanyName: deref(c.CompanyName),
		GivenName:   deref(c.GivenName),
		FamilyName:  deref(c.FamilyName),
		Active:      &c.Active,
	}
	if c.Email != nil {
		w.PrimaryEmailAddr = &qbo.EmailAddress{Address: *c.Email}
	}
	if c.Phone != nil {
		w.PrimaryPhone = &qbo.PhoneNumber{FreeFormNumber: *c.Phone}
	}
	if c.AddressLine1 != nil || c.City != nil || c.PostalCode != nil {
		w.BillAddr = &qbo.PhysicalAddress{
			Line1:                  deref(c.AddressLine1),
			City:                   deref(c.City),
			CountrySubDivisionCode: deref(c.Region),
			PostalCode:             deref(c.PostalCode),
			Country:                deref(c.Country),
		}
	}
	return w, nil
}

func itemToLocal(w *qbo.Item, _ lookups) (domain.Item, []domain.RecordError, bool) {
	if w.ID == "" {
		return domain.Item{}, []domain.RecordError{recordError(domain.EntityItem, "", "record has no Id")}, false
	}
	if strings.TrimSpace(w.Name) == "" {
		return domain.Item{}, []domain.RecordError{recordError(domain.EntityItem, w.ID, "record has no name")}, false
	}

	itemType := w.Type
	if itemType == "" {
		itemType = "Service"
	}
	return domain.Item{
		SyncMeta:         pulledMeta(w.ID, w.SyncToken, w.Active, w.MetaData),
		Name:             strings.TrimSpace(w.Name),
		SKU:              qbo.OptionalString(w.Sku),
		Description:      qbo.OptionalString(w.Description),
		Type:             itemType,
		UnitPrice:        qbo.Decimal(w.UnitPrice),
		PurchaseCost:     qbo.Decimal(w.PurchaseCost),
		QuantityOnHand:   qbo.Decimal(w.QtyOnHand),
		IncomeAccountRef: refValue(w.IncomeAccountRef),
	}, nil, true
}

func itemToRemote(i *domain.Item, incomeAccountID string) (qbo.Item, error) {
	id, token, sparse, err := identify(&i.SyncMeta)
	if err != nil {
		return qbo.Item{}, err
	}

	account := i.IncomeAccountRef
	if account == nil && incomeAccountID != "" {
		account = &incomeAccountID
	}
	if account == nil {
		return qbo.Item{}, fmt.Errorf("%w: income account", errMissingExternalRef)
	}

	return qbo.Item{
		ID:               id,
		SyncToken:        token,
		Sparse:           sparse,
		Name:             i.Name,
		Sku:              deref(i.SKU),
		Description:      deref(i.Description),
		Type:             i.Type,
		UnitPrice:        qbo.DecimalValue(i.UnitPrice),
		PurchaseCost:     qbo.DecimalValue(i.PurchaseCost),
		IncomeAccountRef: ref(account),
		Active:           &i.Active,
	}, nil
}

// invoiceToLocal skips invoices whose customer is unknown. Lines whose item
// is unknown are dropped with an error while the rest of the invoice is kept.
func invoiceToLocal(w *qbo.Invoice, lk lookups) (domain.Invoice, []domain.RecordError, bool) {
	if w.ID == "" {
		return domain.Invoice{}, []domain.RecordError{recordError(domain.EntityInvoice, "", "record has no Id")}, false
	}
	customerID, ok := lk.resolve(domain.EntityCustomer, w.CustomerRef)
	if !ok {
		return domain.Invoice{}, []domain.RecordError{
			recordError(domain.EntityInvoice, w.ID, "customer %q is not synced", deref(refValue(w.CustomerRef))),
		}, false
	}

	inv := domain.Invoice{
		SyncMeta:    pulledMeta(w.ID, w.SyncToken, nil, w.MetaData),
		CustomerID:  customerID,
		DocNumber:   qbo.OptionalString(w.DocNumber),
		TxnDate:     qbo.Date(w.TxnDate),
		DueDate:     qbo.Date(w.DueDate),
		TotalAmount: qbo.Decimal(w.TotalAmt),
		Balance:     qbo.Decimal(w.Balance),
		Currency:    refValue(w.CurrencyRef),
		PrivateNote: qbo.OptionalString(w.PrivateNote),
	}

	var errs []domain.RecordError
	numbers := newLineNumbers()
	for pos, line := range w.Line {
		if line.DetailType != qbo.DetailSalesItem || line.SalesItemLineDetail == nil {
			continue
		}
		detail := line.SalesItemLineDetail
		number := numbers.assign(qbo.Int(line.LineNum), pos+1)

		itemID, ok := lk.resolve(domain.EntityItem, detail.ItemRef)
		if !ok {
			errs = append(errs, recordError(domain.EntityInvoice, w.ID,
				"line %d: item %q is not synced", number, deref(refValue(detail.ItemRef))))
			continue
		}
		inv.Lines = append(inv.Lines, domain.InvoiceLine{
			LineNumber:     number,
			ItemID:         itemID,
			ItemExternalID: refValue(detail.ItemRef),
			Description:    qbo.OptionalString(line.Description),
			Quantity:       qbo.Decimal(detail.Qty),
			UnitPrice:      qbo.Decimal(detail.UnitPrice),
			Amount:         qbo.Decimal(line.Amount),
		})
	}
	return inv, errs, true
}

func invoiceToRemote(inv *domain.Invoice) (qbo.Invoice, error) {
	id, token, sparse, err := identify(&inv.SyncMeta)
	if err != nil {
		return qbo.Invoice{}, err
	}
	if inv.CustomerExternalID == nil {
		return qbo.Invoice{}, fmt.Errorf("%w: customer %d was never pushed", errMissingExternalRef, inv.CustomerID)
	}

	w := qbo.Invoice{
		ID:          id,
		SyncToken:   token,
		Sparse:      sparse,
		DocNumber:   deref(inv.DocNumber),
		TxnDate:     qbo.FormatDate(inv.TxnDate),
		DueDate:     qbo.FormatDate(inv.DueDate),
		CustomerRef: ref(inv.CustomerExternalID),
		PrivateNote: deref(inv.PrivateNote),
	}
	for _, l := range inv.Lines {
		if l.ItemExternalID == nil {
			return qbo.Invoice{}, fmt.Errorf("%w: line %d item %d was never pushed", errMissingExternalRef, l.LineNumber, l.ItemID)
		}
		w.Line = append(w.Line, qbo.InvoiceLine{
			LineNum:     qbo.DecimalValue(float64(l.LineNumber)),
			Description: deref(l.Description),
			Amount:      qbo.DecimalValue(l.Amount),
			DetailType:  qbo.DetailSalesItem,
			SalesItemLineDetail: &qbo.SalesItemLineDetail{
				ItemRef:   ref(l.ItemExternalID),
				Qty:       qbo.DecimalValue(l.Quantity),
				UnitPrice: qbo.DecimalValue(l.UnitPrice),
			},
		})
	}
	return w, nil
}

// paymentToLocal skips payments whose customer is unknown and drops
// applications to unknown invoices. Applications to the same invoice are summed.
func paymentToLocal(w *qbo.Payment, lk lookups) (domain.Payment, []domain.RecordError, bool) {
	if w.ID == "" {
		return domain.Payment{}, []domain.RecordError{recordError(domain.EntityPayment, "", "record has no Id")}, false
	}
	customerID, ok := lk.resolve(domain.EntityCustomer, w.CustomerRef)
	if !ok {
		return domain.Payment{}, []domain.RecordError{
			recordError(domain.EntityPayment, w.ID, "customer %q is not synced", deref(refValue(w.CustomerRef))),
		}, false
	}

	p := domain.Payment{
		SyncMeta:        pulledMeta(w.ID, w.SyncToken, nil, w.MetaData),
		CustomerID:      customerID,
		TxnDate:         qbo.Date(w.TxnDate),
		TotalAmount:     qbo.Decimal(w.TotalAmt),
		UnappliedAmount: qbo.Decimal(w.UnappliedAmt),
		ReferenceNumber: qbo.OptionalString(w.PaymentRefNum),
	}

	var errs []domain.RecordError
	applied := make(map[int64]int)
	for _, line := range w.Line {
		amount := qbo.Decimal(line.Amount)
		for _, txn := range line.LinkedTxn {
			if txn.TxnType != "Invoice" {
				continue
			}
			invoiceRef := &qbo.Ref{Value: txn.TxnID}
			invoiceID, ok := lk.resolve(domain.EntityInvoice, invoiceRef)
			if !ok {
				errs = append(errs, recordError(domain.EntityPayment, w.ID, "invoice %q is not synced", txn.TxnID))
				continue
			}
			if i, seen := applied[invoiceID]; seen {
				p.Applications[i].Amount += amount
				continue
			}
			applied[invoiceID] = len(p.Applications)
			p.Applications = append(p.Applications, domain.PaymentApplication{
				InvoiceID:         invoiceID,
				InvoiceExternalID: qbo.OptionalString(txn.TxnID),
				Amount:            amount,
			})
		}
	}
	return p, errs, true
}

func paymentToRemote(p *domain.Payment) (qbo.Payment, error) {
	id, token, sparse, err := identify(&p.SyncMeta)
	if err != nil {
		return qbo.Payment{}, err
	}
	if p.CustomerExternalID == nil {
		return qbo.Payment{}, fmt.Errorf("%w: customer %d was never pushed", errMissingExternalRef, p.CustomerID)
	}

	w := qbo.Payment{
		ID:            id,
		SyncToken:     token,
		Sparse:        sparse,
		TxnDate:       qbo.FormatDate(p.TxnDate),
		CustomerRef:   ref(p.CustomerExternalID),
		TotalAmt:      qbo.DecimalValue(p.TotalAmount),
		PaymentRefNum: deref(p.ReferenceNumber),
	}
	for _, a := range p.Applications {
		if a.InvoiceExternalID == nil {
			return qbo.Payment{}, fmt.Errorf("%w: invoice %d was never pushed", errMissingExternalRef, a.InvoiceID)
		}
		w.Line = append(w.Line, qbo.PaymentLine{
			Amount:    qbo.DecimalValue(a.Amount),
			LinkedTxn: []qbo.LinkedTxn{{TxnID: *a.InvoiceExternalID, TxnType: "Invoice"}},
		})
	}
	return w, nil
}

// lineNumbers hands out unique line numbers, preferring the external one.
type lineNumbers struct {
	used map[int]bool
	next int
}

func newLineNumbers() *lineNumbers {
	return &lineNumbers{used: make(map[int]bool)}
}

func (n *lineNumbers) assign(preferred, fallback int) int {
	num := preferred
	if num <= 0 || n.used[num] {
		num = fallback
	}
	for n.used[num] {
		n.next++
		num = fallback + n.next
	}
	n.used[num] = true
	return num
}
