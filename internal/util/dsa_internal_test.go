package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Queue_Pop_Clears_Slot(t *testing.T) {
	q := CreateQueue[*int](2)
	v := 7
	q.Push(&v)
	assert.Same(t, &v, q.Pop())
	for _, slot := range q.data {
		assert.Nil(t, slot)
	}
}

func Test_TicketQueue_Rel_Clears_Slot(t *testing.T) {
	tq := CreateTicketQueue[*int](2)
	v := 7
	ticket := tq.Acq(&v)
	assert.Same(t, &v, tq.Get(ticket))
	tq.Rel(ticket)
	assert.Nil(t, tq.data[ticket])
	assert.Nil(t, tq.Get(ticket))
}
