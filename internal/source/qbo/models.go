package qbo

import (
	"encoding/json"
	"fmt"
	"time"
)

// Ref is a reference to another external entity.
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type MetaData struct {
	CreateTime      string `json:"CreateTime,omitempty"`
	LastUpdatedTime string `json:"LastUpdatedTime,omitempty"`
}

type EmailAddress struct {
	Address string `json:"Address,omitempty"`
}

type PhoneNumber struct {
	FreeFormNumber string `json:"FreeFormNumber,omitempty"`
}

type PhysicalAddress struct {
	Line1                  string `json:"Line1,omitempty"`
	City                   string `json:"City,omitempty"`
	CountrySubDivisionCode string `json:"CountrySubDivisionCode,omitempty"`
	PostalCode             string `json:"PostalCode,omitempty"`
	Country                string `json:"Country,omitempty"`
}

// Numeric and date fields stay raw and go through the coercions in coerce.go.

type Customer struct {
	ID               string           `json:"Id,omitempty"`
	SyncToken        string           `json:"SyncToken,omitempty"`
	Sparse           bool             `json:"sparse,omitempty"`
	DisplayName      string           `json:"DisplayName,omitempty"`
	CompanyName      string           `json:"CompanyName,omitempty"`
	GivenName        string           `json:"GivenName,omitempty"`
	FamilyName       string           `json:"FamilyName,omitempty"`
	PrimaryEmailAddr *EmailAddress    `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *PhoneNumber     `json:"PrimaryPhone,omitempty"`
	BillAddr         *PhysicalAddress `json:"BillAddr,omitempty"`
	Balance          json.RawMessage  `json:"Balance,omitempty"`
	Active           *bool            `json:"Active,omitempty"`
	MetaData         *MetaData        `json:"MetaData,omitempty"`
}

type Item struct {
	ID               string          `json:"Id,omitempty"`
	SyncToken        string          `json:"SyncToken,omitempty"`
	Sparse           bool            `json:"sparse,omitempty"`
	Name             string          `json:"Name,omitempty"`
	Sku              string          `json:"Sku,omitempty"`
	Description      string          `json:"Description,omitempty"`
	Type             string          `json:"Type,omitempty"`
	UnitPrice        json.RawMessage `json:"UnitPrice,omitempty"`
	PurchaseCost     json.RawMessage `json:"PurchaseCost,omitempty"`
	QtyOnHand        json.RawMessage `json:"QtyOnHand,omitempty"`
	IncomeAccountRef *Ref            `json:"IncomeAccountRef,omitempty"`
	Active           *bool           `json:"Active,omitempty"`
	MetaData         *MetaData       `json:"MetaData,omitempty"`
}

const (
	DetailSalesItem = "SalesItemLineDetail"
	DetailSubTotal  = "SubTotalLineDetail"
)

type SalesItemLineDetail struct {
	ItemRef   *Ref            `json:"ItemRef,omitempty"`
	Qty       json.RawMessage `json:"Qty,omitempty"`
	UnitPrice json.RawMessage `json:"UnitPrice,omitempty"`
}

type InvoiceLine struct {
	ID                  string               `json:"Id,omitempty"`
	LineNum             json.RawMessage      `json:"LineNum,omitempty"`
	Description         string               `json:"Description,omitempty"`
	Amount              json.RawMessage      `json:"Amount,omitempty"`
	DetailType          string               `json:"DetailType"`
	SalesItemLineDetail *SalesItemLineDetail `json:"SalesItemLineDetail,omitempty"`
}

type Invoice struct {
	ID          string          `json:"Id,omitempty"`
	SyncToken   string          `json:"SyncToken,omitempty"`
	Sparse      bool            `json:"sparse,omitempty"`
	DocNumber   string          `json:"DocNumber,omitempty"`
	TxnDate     string          `json:"TxnDate,omitempty"`
	DueDate     string          `json:"DueDate,omitempty"`
	CustomerRef *Ref            `json:"CustomerRef,omitempty"`
	Line        []InvoiceLine   `json:"Line,omitempty"`
	TotalAmt    json.RawMessage `json:"TotalAmt,omitempty"`
	Balance     json.RawMessage `json:"Balance,omitempty"`
	CurrencyRef *Ref            `json:"CurrencyRef,omitempty"`
	PrivateNote string          `json:"PrivateNote,omitempty"`
	MetaData    *MetaData       `json:"MetaData,omitempty"`
}

type LinkedTxn struct {
	TxnID   string `json:"TxnId"`
	TxnType string `json:"TxnType"`
}

type PaymentLine struct {
	Amount    json.RawMessage `json:"Amount,omitempty"`
	LinkedTxn []LinkedTxn     `json:"LinkedTxn,omitempty"`
}

type Payment struct {
	ID            string          `json:"Id,omitempty"`
	SyncToken     string          `json:"SyncToken,omitempty"`
	Sparse        bool            `json:"sparse,omitempty"`
	TxnDate       string          `json:"TxnDate,omitempty"`
	CustomerRef   *Ref            `json:"CustomerRef,omitempty"`
	TotalAmt      json.RawMessage `json:"TotalAmt,omitempty"`
	UnappliedAmt  json.RawMessage `json:"UnappliedAmt,omitempty"`
	PaymentRefNum string          `json:"PaymentRefNum,omitempty"`
	Line          []PaymentLine   `json:"Line,omitempty"`
	MetaData      *MetaData       `json:"MetaData,omitempty"`
}

type queryEnvelope struct {
	QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
	Fault         *fault                     `json:"Fault,omitempty"`
}

type fault struct {
	Errors []struct {
		Message string `json:"Message"`
		Detail  string `json:"Detail"`
		Code    string `json:"code"`
	} `json:"Error"`
	Type string `json:"type"`
}

func (f *fault) Error() string {
	if len(f.Errors) == 0 {
		return "fault: " + f.Type
	}
	return fmt.Sprintf("fault %s: %s: %s", f.Errors[0].Code, f.Errors[0].Message, f.Errors[0].Detail)
}

type mutationEntity struct {
	ID        string    `json:"Id"`
	SyncToken string    `json:"SyncToken"`
	MetaData  *MetaData `json:"MetaData,omitempty"`
}

// Header holds the identity fields every entity shares.
type Header struct {
	ID        string    `json:"Id"`
	SyncToken string    `json:"SyncToken"`
	MetaData  *MetaData `json:"MetaData,omitempty"`
}

func (h Header) LastUpdated() *time.Time {
	if h.MetaData == nil {
		return nil
	}
	return Timestamp(h.MetaData.LastUpdatedTime)
}
