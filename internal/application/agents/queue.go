package agents

import (
	"context"
	"errors"
	"sync"
)

var errQueueClosed = errors.New("dispatch queue closed")

// job is one queued delivery. drop is called instead of run when the queue
// stops before the job starts.
type job struct {
	key  string
	run  func()
	drop func()
}

// keyedQueue runs jobs with bounded concurrency while keeping jobs of one key
// strictly sequential and in arrival order.
type keyedQueue struct {
	room  chan struct{}
	slots chan struct{}

	mu     sync.Mutex
	lanes  map[string][]job
	queued int
	busy   int
	closed bool
	wg     sync.WaitGroup
}

func newKeyedQueue(concurrency, capacity int) *keyedQueue {
	return &keyedQueue{
		room:  make(chan struct{}, capacity),
		slots: make(chan struct{}, concurrency),
		lanes: make(map[string][]job),
	}
}

// push waits for queue room and appends j to its key's lane. The lane is
// drained until ctx ends; jobs still waiting then are dropped.
func (q *keyedQueue) push(ctx context.Context, j job) error {
	select {
	case q.room <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.room
		return errQueueClosed
	}
	lane, running := q.lanes[j.key]
	q.lanes[j.key] = append(lane, j)
	q.queued++
	if !running {
		q.wg.Add(1)
		go q.drain(ctx, j.key)
	}
	q.mu.Unlock()
	return nil
}

func (q *keyedQueue) drain(ctx context.Context, key string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		lane := q.lanes[key]
		if len(lane) == 0 {
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		select {
		case q.slots <- struct{}{}:
		case <-ctx.Done():
			q.dropLane(key)
			return
		}
		if ctx.Err() != nil {
			<-q.slots
			q.dropLane(key)
			return
		}

		q.mu.Lock()
		j := q.lanes[key][0]
		q.lanes[key] = q.lanes[key][1:]
		q.queued--
		q.busy++
		q.mu.Unlock()
		<-q.room

		j.run()

		q.mu.Lock()
		q.busy--
		q.mu.Unlock()
		<-q.slots
	}
}

func (q *keyedQueue) dropLane(key string) {
	q.mu.Lock()
	lane := q.lanes[key]
	delete(q.lanes, key)
	q.queued -= len(lane)
	q.mu.Unlock()

	for _, j := range lane {
		<-q.room
		if j.drop != nil {
			j.drop()
		}
	}
}

// close rejects further pushes and waits for running lanes to finish.
func (q *keyedQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *keyedQueue) stats() (busy, queued int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy, q.queued
}
