package domain

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologicalSort_DependenciesFirst(t *testing.T) {
	g := DefaultGraph()

	got, err := g.TopologicalSort([]EntityKind{EntityPayment, EntityInvoice, EntityItem, EntityCustomer})
	require.NoError(t, err)

	index := make(map[EntityKind]int, len(got))
	for i, k := range got {
		index[k] = i
	}
	for kind, deps := range g {
		for _, dep := range deps {
			assert.Less(t, index[dep], index[kind], "%s must precede %s", dep, kind)
		}
	}
}

func TestTopologicalSort_OnlyRequestedKinds(t *testing.T) {
	got, err := DefaultGraph().TopologicalSort([]EntityKind{EntityPayment, EntityCustomer})
	require.NoError(t, err)

	if diff := cmp.Diff([]EntityKind{EntityCustomer, EntityPayment}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestTopologicalSort_Cycle(t *testing.T) {
	g := Graph{
		EntityCustomer: {EntityInvoice},
		EntityInvoice:  {EntityPayment},
		EntityPayment:  {EntityCustomer},
	}

	_, err := g.TopologicalSort([]EntityKind{EntityCustomer})

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, []EntityKind{EntityCustomer, EntityInvoice, EntityPayment, EntityCustomer}, cycle.Path)
	assert.Equal(t, "dependency cycle: customer -> invoice -> payment -> customer", err.Error())
}

func TestTopologicalSort_UnknownKind(t *testing.T) {
	_, err := Graph{EntityCustomer: nil}.TopologicalSort([]EntityKind{EntityItem})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidate_FindsCycleOutsideRequest(t *testing.T) {
	g := DefaultGraph()
	g[EntityItem] = []EntityKind{EntityPayment}

	assert.ErrorIs(t, g.Validate(), ErrInvalidInput)
	assert.NoError(t, DefaultGraph().Validate())
}

func TestPriorityGroups(t *testing.T) {
	tests := []struct {
		name  string
		kinds []EntityKind
		want  [][]EntityKind
	}{
		{
			name:  "all kinds",
			kinds: AllEntityKinds(),
			want:  [][]EntityKind{{EntityCustomer, EntityItem}, {EntityInvoice}, {EntityPayment}},
		},
		{
			name:  "gaps collapse",
			kinds: []EntityKind{EntityPayment, EntityItem},
			want:  [][]EntityKind{{EntityItem}, {EntityPayment}},
		},
		{
			name:  "single",
			kinds: []EntityKind{EntityInvoice},
			want:  [][]EntityKind{{EntityInvoice}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DefaultGraph().PriorityGroups(tt.kinds)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("groups mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseEntityKinds(t *testing.T) {
	kinds, err := ParseEntityKinds([]string{"Invoice", "customer", "invoice"})
	require.NoError(t, err)
	assert.Equal(t, []EntityKind{EntityInvoice, EntityCustomer}, kinds)

	_, err = ParseEntityKinds([]string{"vendor"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIdempotencyKey_NormalizesTimestamps(t *testing.T) {
	a := IdempotencyKey("r1", EntityInvoice, "130", "2024-03-01T02:00:00-08:00")
	b := IdempotencyKey("r1", EntityInvoice, "130", "2024-03-01T10:00:00Z")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, IdempotencyKey("r1", EntityInvoice, "131", "2024-03-01T10:00:00Z"))
}

func TestDirectionSteps(t *testing.T) {
	assert.Equal(t, []Direction{DirectionPull, DirectionPush}, DirectionBoth.Steps())
	assert.Equal(t, []Direction{DirectionPush}, DirectionPush.Steps())

	_, err := ParseDirection("sideways")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
