package util

func mod(a int, b int) int {
	return ((a % b) + b) % b
}

// Queue is a fixed-size FIFO over a ring buffer.
type Queue[T any] struct {
	data []T
	head int // next slot to write to
	cnt  int
}

func CreateQueue[T any](size int) Queue[T] {
	return Queue[T]{
		data: make([]T, size),
	}
}

func (q *Queue[T]) Cnt() int {
	return q.cnt
}

// Push panics if the queue is full.
func (q *Queue[T]) Push(val T) {
	if q.cnt == len(q.data) {
		panic("queue overflow")
	}
	q.data[q.head] = val
	q.head = mod(q.head+1, len(q.data))
	q.cnt++
}

// Pop panics if the queue is empty. The slot is zeroed so the queue does not keep
// what it handed out alive.
func (q *Queue[T]) Pop() T {
	if q.cnt == 0 {
		panic("queue underflow")
	}
	i := mod(q.head-q.cnt, len(q.data))
	q.cnt--
	val := q.data[i]
	var zero T
	q.data[i] = zero
	return val
}

// TicketQueue is a fixed table of slots handed out by number. Free tickets wait in a
// Queue, so a released ticket goes to the back and is reused last.
type TicketQueue[T any] struct {
	queue Queue[int]
	data  []T
}

func CreateTicketQueue[T any](size int) TicketQueue[T] {
	queue := CreateQueue[int](size)
	for i := range size {
		queue.Push(i)
	}
	return TicketQueue[T]{
		queue: queue,
		data:  make([]T, size),
	}
}

// Acq takes a free ticket and stores val in its slot. Panics if none are free.
func (tq *TicketQueue[T]) Acq(val T) int {
	ticket := tq.queue.Pop()
	tq.data[ticket] = val
	return ticket
}

// Rel frees ticket and clears its slot; Get on it returns the zero value until it is
// acquired again.
func (tq *TicketQueue[T]) Rel(ticket int) {
	var zero T
	tq.data[ticket] = zero
	tq.queue.Push(ticket)
}

func (tq *TicketQueue[T]) Get(ticket int) T {
	return tq.data[ticket]
}
