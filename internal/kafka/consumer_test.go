package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu      sync.Mutex
	commits []int64
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.commits = append(r.commits, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.commits...)
}

func msg(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "orders.status_updated", Partition: partition, Offset: offset}
}

func TestConsumer_FailedMessageRetriedBeforeLaterOffsets(t *testing.T) {
	r := newFakeReader(msg(0, 9), msg(0, 10), msg(0, 11))
	c := &Consumer{r: r, workers: 4, retryBase: time.Millisecond, retryMax: 5 * time.Millisecond}

	var (
		mu       sync.Mutex
		handled  []int64
		failures = 2
	)
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, m.Offset)
		if m.Offset == 9 && failures > 0 {
			failures--
			return errors.New("smtp down")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(r.committed()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("commits = %v, want 3", r.committed())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned %v", err)
	}

	want := []int64{9, 10, 11}
	if got := r.committed(); !equal(got, want) {
		t.Errorf("commits = %v, want %v", got, want)
	}
	mu.Lock()
	defer mu.Unlock()
	if !equal(handled, []int64{9, 9, 9, 10, 11}) {
		t.Errorf("handled = %v, want offset 9 retried in place", handled)
	}
}

func TestConsumer_CancelLeavesFailingMessageUncommitted(t *testing.T) {
	r := newFakeReader(msg(0, 3), msg(0, 4))
	c := &Consumer{r: r, workers: 1, retryBase: time.Millisecond, retryMax: 2 * time.Millisecond}

	attempts := make(chan struct{}, 64)
	h := func(_ context.Context, m kafka.Message) error {
		if m.Offset == 3 {
			select {
			case attempts <- struct{}{}:
			default:
			}
			return errors.New("still failing")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()

	for i := 0; i < 3; i++ {
		select {
		case <-attempts:
		case <-time.After(2 * time.Second):
			t.Fatal("handler was not retried")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned %v", err)
	}
	if got := r.committed(); len(got) != 0 {
		t.Errorf("nothing may be committed past a failing offset, got %v", got)
	}
}

func TestConsumer_PartitionMapsToOneLane(t *testing.T) {
	c := &Consumer{workers: 8}
	first := c.lane(msg(3, 1))
	for off := int64(2); off < 50; off++ {
		if c.lane(msg(3, off)) != first {
			t.Fatalf("offset %d of partition 3 moved lanes", off)
		}
	}
}

func equal(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
