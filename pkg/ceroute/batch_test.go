package ceroute

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

func TestDeadlineHeapOrder(t *testing.T) {
	base := time.Now()
	var h deadlineHeap
	a := &ticket{id: 1, deadline: base.Add(3 * time.Second), index: -1}
	b := &ticket{id: 2, deadline: base.Add(1 * time.Second), index: -1}
	c := &ticket{id: 3, deadline: base.Add(2 * time.Second), index: -1}
	h.add(a)
	h.add(b)
	h.add(c)

	next, ok := h.next()
	require.True(t, ok)
	assert.Equal(t, b.deadline, next)

	expired := h.expired(base.Add(2 * time.Second))
	require.Len(t, expired, 2)
	assert.Equal(t, port.DeliveryID(2), expired[0].id)
	assert.Equal(t, port.DeliveryID(3), expired[1].id)
	assert.Equal(t, -1, expired[0].index)
	assert.Equal(t, 1, h.Len())
}

func TestDeadlineHeapRemove(t *testing.T) {
	base := time.Now()
	var h deadlineHeap
	tickets := make([]*ticket, 5)
	for i := range tickets {
		tickets[i] = &ticket{id: port.DeliveryID(i), deadline: base.Add(time.Duration(i) * time.Second), index: -1}
		h.add(tickets[i])
	}

	h.remove(tickets[0])
	h.remove(tickets[3])
	h.remove(tickets[3]) // already removed

	next, ok := h.next()
	require.True(t, ok)
	assert.Equal(t, tickets[1].deadline, next)
	assert.Equal(t, 3, h.Len())

	got := h.expired(base.Add(time.Hour))
	ids := make([]port.DeliveryID, len(got))
	for i, tk := range got {
		ids[i] = tk.id
	}
	assert.Equal(t, []port.DeliveryID{1, 2, 4}, ids)

	_, ok = h.next()
	assert.False(t, ok)
}

func TestBatchRecord(t *testing.T) {
	b := &batch{outstanding: 2}

	b.outstanding--
	assert.False(t, b.record(port.ResultAck))
	b.outstanding--
	assert.True(t, b.record(port.ResultTransientError))
	assert.Equal(t, port.ResultTransientError, b.result())

	empty := &batch{}
	assert.Equal(t, port.ResultAck, empty.result(), "a batch with no destinations acks")
}

func TestTicketStateString(t *testing.T) {
	assert.Equal(t, "pending", ticketPending.String())
	assert.Equal(t, "ack", ticketAcked.String())
	assert.Equal(t, "nack", ticketNacked.String())
	assert.Equal(t, "timeout", ticketTimedOut.String())
}
