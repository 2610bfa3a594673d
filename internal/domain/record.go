package domain

import "time"

type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// SyncMeta carries the bookkeeping shared by every synchronized record.
type SyncMeta struct {
	ID                int64      `db:"id"`
	TenantID          string     `db:"tenant_id"`
	ExternalID        *string    `db:"external_id"`
	SyncToken         *string    `db:"sync_token"`
	SyncStatus        SyncStatus `db:"sync_status"`
	Active            bool       `db:"active"`
	ExternalUpdatedAt *time.Time `db:"external_updated_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

type Customer struct {
	SyncMeta
	DisplayName  string  `db:"display_name"`
	CompanyName  *string `db:"company_name"`
	GivenName    *string `db:"given_name"`
	FamilyName   *string `db:"family_name"`
	Email        *string `db:"email"`
	Phone        *string `db:"phone"`
	AddressLine1 *string `db:"address_line1"`
	City         *string `db:"city"`
	Region       *string `db:"region"`
	PostalCode   *string `db:"postal_code"`
	Country      *string `db:"country"`
	Balance      float64 `db:"balance"`
}

type Item struct {
	SyncMeta
	Name             string  `db:"name"`
	SKU              *string `db:"sku"`
	Description      *string `db:"description"`
	Type             string  `db:"item_type"`
	UnitPrice        float64 `db:"unit_price"`
	PurchaseCost     float64 `db:"purchase_cost"`
	QuantityOnHand   float64 `db:"quantity_on_hand"`
	IncomeAccountRef *string `db:"income_account_ref"`
}

type Invoice struct {
	SyncMeta
	CustomerID         int64      `db:"customer_id"`
	CustomerExternalID *string    `db:"customer_external_id"`
	DocNumber          *string    `db:"doc_number"`
	TxnDate            *time.Time `db:"txn_date"`
	DueDate            *time.Time `db:"due_date"`
	TotalAmount        float64    `db:"total_amount"`
	Balance            float64    `db:"balance"`
	Currency           *string    `db:"currency"`
	PrivateNote        *string    `db:"private_note"`
	Voided             bool       `db:"voided"`

	Lines []InvoiceLine `db:"-"`
}

type InvoiceLine struct {
	InvoiceID      int64   `db:"invoice_id"`
	LineNumber     int     `db:"line_number"`
	ItemID         int64   `db:"item_id"`
	ItemExternalID *string `db:"item_external_id"`
	Description    *string `db:"description"`
	Quantity       float64 `db:"quantity"`
	UnitPrice      float64 `db:"unit_price"`
	Amount         float64 `db:"amount"`
}

type Payment struct {
	SyncMeta
	CustomerID         int64      `db:"customer_id"`
	CustomerExternalID *string    `db:"customer_external_id"`
	TxnDate            *time.Time `db:"txn_date"`
	TotalAmount        float64    `db:"total_amount"`
	UnappliedAmount    float64    `db:"unapplied_amount"`
	ReferenceNumber    *string    `db:"reference_number"`
	Voided             bool       `db:"voided"`

	Applications []PaymentApplication `db:"-"`
}

type PaymentApplication struct {
	PaymentID         int64   `db:"payment_id"`
	InvoiceID         int64   `db:"invoice_id"`
	InvoiceExternalID *string `db:"invoice_external_id"`
	Amount            float64 `db:"amount"`
}

// LocalVersion is the local state of a record compared during conflict detection.
type LocalVersion struct {
	ID        int64
	UpdatedAt time.Time
	Pending   bool
}

// Connection links a tenant to an external company (realm) and its credential.
type Connection struct {
	TenantID    string    `db:"tenant_id"`
	RealmID     string    `db:"realm_id"`
	AccessToken string    `db:"access_token"`
	Active      bool      `db:"active"`
	UpdatedAt   time.Time `db:"updated_at"`
}
