package util_test

import (
	"strings"
	"testing"

	"ovio/internal/util"

	"github.com/stretchr/testify/assert"
)

func Test_Queue(t *testing.T) {
	q := util.CreateQueue[int](8)
	assert.Equal(t, q.Cnt(), 0)

	for range 3 {
		for i := range 5 {
			q.Push(i)
		}
		assert.Equal(t, q.Cnt(), 5)
		for i := range 5 {
			res := q.Pop()
			assert.Equal(t, res, i)
		}
		assert.Equal(t, q.Cnt(), 0)
	}

	for range 8 {
		q.Push(0)
	}
	assert.Panics(t, func() { q.Push(0) })
	for range 8 {
		q.Pop()
	}
	assert.Panics(t, func() { q.Pop() })
}

func Test_TicketQueue(t *testing.T) {
	tq := util.CreateTicketQueue[string](4)

	tickets := make(map[int]string)
	for _, v := range []string{"a", "b", "c", "d"} {
		ticket := tq.Acq(v)
		_, dup := tickets[ticket]
		assert.False(t, dup, "ticket %d handed out twice", ticket)
		tickets[ticket] = v
	}
	for ticket, v := range tickets {
		assert.Equal(t, v, tq.Get(ticket))
	}
	assert.Panics(t, func() { tq.Acq("e") }, "all tickets are out")

	// released tickets are reused in release order, with cleared slots
	order := make([]int, 0, len(tickets))
	for ticket := range tickets {
		tq.Rel(ticket)
		assert.Equal(t, "", tq.Get(ticket))
		order = append(order, ticket)
	}
	for _, want := range order {
		got := tq.Acq("z")
		assert.Equal(t, want, got)
		assert.Equal(t, "z", tq.Get(got))
	}
	assert.Panics(t, func() { tq.Acq("e") })
}

func Test_PrettyPrintChunk(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	s := util.PrettyPrintChunk(data, 0x1000, 64)

	assert.Contains(t, s, "0x00001000")
	assert.Contains(t, s, "dead beef 01")
	assert.Equal(t, 5, strings.Count(s, "\n"), "header, rule, one row, footer")
}
