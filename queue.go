package netframe

import (
	"container/list"
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrQueueEmpty is the panic value of Front, Back, PopFront and PopBack
	// on an empty queue. Callers check IsEmpty first.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueFull is returned when a bounded queue has reached its capacity.
	ErrQueueFull = errors.New("queue capacity reached")
)

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Queue is a double-ended queue guarded by a single mutex. It is the only
// structure shared between the connection goroutines and the application.
//
// Every operation holds the lock for its own duration only, so a check
// followed by a pop is not atomic. That is fine for the single-consumer
// patterns used here.
type Queue[T any] struct {
	_ noCopy

	mu       sync.Mutex
	items    list.List
	capacity int
	// notify holds one token while the queue may be non-empty.
	notify chan struct{}
}

// NewQueue returns an unbounded queue.
func NewQueue[T any]() *Queue[T] {
	return NewBoundedQueue[T](0)
}

// NewBoundedQueue returns a queue holding at most capacity items.
// A capacity <= 0 means unbounded.
func NewBoundedQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Capacity returns the queue's capacity, 0 when unbounded.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// PushFront inserts item at the front, ignoring the capacity.
func (q *Queue[T]) PushFront(item T) {
	q.mu.Lock()
	q.items.PushFront(item)
	q.mu.Unlock()
	q.signal()
}

// PushBack appends item, ignoring the capacity.
func (q *Queue[T]) PushBack(item T) {
	q.mu.Lock()
	q.items.PushBack(item)
	q.mu.Unlock()
	q.signal()
}

// TryPushBack appends item unless the queue is at capacity, in which case
// it returns ErrQueueFull. It also reports whether the queue was empty
// before the push.
func (q *Queue[T]) TryPushBack(item T) (wasEmpty bool, err error) {
	q.mu.Lock()
	n := q.items.Len()
	if q.capacity > 0 && n >= q.capacity {
		q.mu.Unlock()
		return false, errors.Wrapf(ErrQueueFull, "capacity %d", q.capacity)
	}
	q.items.PushBack(item)
	q.mu.Unlock()

	q.signal()
	return n == 0, nil
}

// Front returns the first item without removing it.
func (q *Queue[T]) Front() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mustValue(q.items.Front())
}

// Back returns the last item without removing it.
func (q *Queue[T]) Back() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mustValue(q.items.Back())
}

// PopFront removes and returns the first item.
func (q *Queue[T]) PopFront() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.items.Front()
	item := q.mustValue(e)
	q.items.Remove(e)
	return item
}

// PopBack removes and returns the last item.
func (q *Queue[T]) PopBack() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.items.Back()
	item := q.mustValue(e)
	q.items.Remove(e)
	return item
}

// IsEmpty reports whether the queue holds no items.
func (q *Queue[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() == 0
}

// Size returns the number of queued items.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Clear drops every queued item.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.Init()
}

// Wait blocks until the queue is non-empty or ctx is done.
func (q *Queue[T]) Wait(ctx context.Context) error {
	for {
		if !q.IsEmpty() {
			return nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) mustValue(e *list.Element) T {
	if e == nil {
		panic(ErrQueueEmpty)
	}
	return e.Value.(T)
}
