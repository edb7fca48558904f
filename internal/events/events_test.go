package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		tenant   string
		typ      Type
		expected string
	}{
		{"Plain tenant", "intercity", "coop-1", SaleCommitted, "intercity.coop-1.sale.committed"},
		{"Dotted tenant", "intercity", "coop.north", TicketReleased, "intercity.coop_north.ticket.released"},
		{"Wildcards", "intercity", "a*b>c", SaleConfirmed, "intercity.a_b_c.sale.confirmed"},
		{"Empty tenant", "intercity", "", TripsMaterialized, "intercity._.trips.materialized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Subject(tt.prefix, tt.tenant, tt.typ))
		})
	}
}

func TestMemory(t *testing.T) {
	m := &Memory{}
	ctx := context.Background()
	_ = m.Publish(ctx, Event{Type: SaleCommitted, SaleID: "s1"})
	_ = m.Publish(ctx, Event{Type: TicketReleased})
	_ = m.Publish(ctx, Event{Type: SaleCommitted, SaleID: "s2"})

	assert.Len(t, m.Events(), 3)
	sales := m.OfType(SaleCommitted)
	assert.Len(t, sales, 2)
	assert.Equal(t, "s2", sales[1].SaleID)
}
