package domain

import (
	"fmt"
	"slices"
	"strings"
)

// EntityKind identifies one of the synchronized record types.
type EntityKind string

const (
	EntityCustomer EntityKind = "customer"
	EntityItem     EntityKind = "item"
	EntityInvoice  EntityKind = "invoice"
	EntityPayment  EntityKind = "payment"
)

var entityKinds = []EntityKind{EntityCustomer, EntityItem, EntityInvoice, EntityPayment}

func AllEntityKinds() []EntityKind {
	return slices.Clone(entityKinds)
}

// ParseEntityKind accepts internal names and external names ("Invoice") alike.
func ParseEntityKind(s string) (EntityKind, error) {
	kind := EntityKind(strings.ToLower(strings.TrimSpace(s)))
	if kind.Valid() {
		return kind, nil
	}
	return "", fmt.Errorf("%w: unknown entity %q", ErrInvalidInput, s)
}

func ParseEntityKinds(names []string) ([]EntityKind, error) {
	kinds := make([]EntityKind, 0, len(names))
	for _, name := range names {
		kind, err := ParseEntityKind(name)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

func (k EntityKind) Valid() bool {
	return slices.Contains(entityKinds, k)
}

// ExternalName is the entity name used by the accounting API.
func (k EntityKind) ExternalName() string {
	switch k {
	case EntityCustomer:
		return "Customer"
	case EntityItem:
		return "Item"
	case EntityInvoice:
		return "Invoice"
	case EntityPayment:
		return "Payment"
	}
	return string(k)
}

func (k EntityKind) String() string {
	return string(k)
}
