package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/putmeon/internal/domain/model"
)

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, model.Change{Path: "queue/t1", At: 1}) {
		t.Fatal("expected enqueue to succeed")
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}
	c := <-q.Dequeue()
	if c.Path != "queue/t1" {
		t.Errorf("expected queue/t1, got %v", c.Path)
	}
	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_TryEnqueueWhenFull(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	for i := 0; i < 2; i++ {
		if !q.TryEnqueue(model.Change{Path: fmt.Sprintf("queue/t%d", i)}) {
			t.Fatalf("expected enqueue %d to succeed", i)
		}
	}
	if q.TryEnqueue(model.Change{Path: "queue/t3"}) {
		t.Error("expected try-enqueue to fail when full")
	}
}

func TestInMemoryQueue_EnqueueWaitsForSpace(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx := context.Background()
	q.Enqueue(ctx, model.Change{Path: "a/1"})

	done := make(chan bool, 1)
	go func() { done <- q.Enqueue(ctx, model.Change{Path: "a/2"}) }()

	select {
	case <-done:
		t.Fatal("enqueue should block while full")
	case <-time.After(20 * time.Millisecond):
	}

	<-q.Dequeue()
	select {
	case ok := <-done:
		if !ok {
			t.Error("expected blocked enqueue to succeed once space frees up")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue never completed")
	}
}

func TestInMemoryQueue_EnqueueHonorsContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	q.Enqueue(context.Background(), model.Change{Path: "a/1"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if q.Enqueue(ctx, model.Change{Path: "a/2"}) {
		t.Error("expected enqueue to give up when the context ends")
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(16))
	ctx := context.Background()
	const producers, perProducer = 10, 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(ctx, model.Change{Path: fmt.Sprintf("p%d/%d", id, j)})
			}
		}(i)
	}

	got := 0
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	for got < producers*perProducer {
		select {
		case <-q.Dequeue():
			got++
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d changes", got)
		}
	}
	<-finished
	if l := q.Len(); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()
	q.Enqueue(ctx, model.Change{Path: "a/1"})

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, model.Change{Path: "a/2"}) {
		t.Error("expected enqueue to fail after closing")
	}
	select {
	case <-q.Done():
	default:
		t.Error("expected Done to be closed")
	}
	if c := <-q.Dequeue(); c.Path != "a/1" {
		t.Errorf("expected buffered change to survive close, got %q", c.Path)
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got %v", err)
	}
}
