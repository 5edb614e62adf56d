package queue

import (
	"sync"
	"testing"
	"time"
)

// testItem is a simple struct for testing the generic queue
type testItem struct {
	ID   int
	Name string
}

func TestQueue_New(t *testing.T) {
	q := New[testItem]()
	if q == nil {
		t.Fatal("expected non-nil queue")
	}
	if q.Len() != 0 {
		t.Errorf("expected length 0, got %d", q.Len())
	}
}

func TestQueue_Push(t *testing.T) {
	q := New[testItem]()

	q.Push(testItem{ID: 1, Name: "first"})
	if q.Len() != 1 {
		t.Errorf("expected length 1, got %d", q.Len())
	}

	q.Push(testItem{ID: 2}, testItem{ID: 3})
	if q.Len() != 3 {
		t.Errorf("expected length 3, got %d", q.Len())
	}
}

func TestQueue_TryPopIsFIFO(t *testing.T) {
	q := New[testItem]()

	if result, ok := q.TryPop(); ok || result.ID != 0 || result.Name != "" {
		t.Errorf("expected zero value from empty queue, got %+v (ok=%v)", result, ok)
	}

	q.Push(testItem{ID: 1, Name: "first"}, testItem{ID: 2, Name: "second"})
	first, ok := q.TryPop()
	if !ok || first.ID != 1 || first.Name != "first" {
		t.Errorf("expected {1, first}, got %+v (ok=%v)", first, ok)
	}
	second, ok := q.TryPop()
	if !ok || second.ID != 2 {
		t.Errorf("expected {2, second}, got %+v (ok=%v)", second, ok)
	}
	if _, ok := q.TryPop(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueue_ReadySignalsConsumer(t *testing.T) {
	q := New[int]()

	got := make(chan int, 10)
	go func() {
		for range q.Ready() {
			for {
				v, ok := q.TryPop()
				if !ok {
					break
				}
				got <- v
			}
		}
	}()

	for i := 1; i <= 5; i++ {
		q.Push(i)
	}

	for want := 1; want <= 5; want++ {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("expected %d, got %d", want, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for item %d", want)
		}
	}
}

func TestQueue_Close(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)

	if dropped := q.Close(); dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", dropped)
	}
	if q.Push(4) {
		t.Error("push after close should be rejected")
	}
	if !q.Closed() || q.Len() != 0 {
		t.Error("expected closed empty queue")
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(n*100 + j)
			}
		}(i)
	}
	wg.Wait()

	if q.Len() != 1000 {
		t.Errorf("expected 1000 items, got %d", q.Len())
	}
}
