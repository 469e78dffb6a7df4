package stream

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"kampus.org/internal/workflow"
)

func TestBusDeliversToEverySubscriber(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := bus.Subscribe(ctx)
	b := bus.Subscribe(ctx)
	evt := workflow.Event{Kind: "visa", EntityID: "v1", Op: "expire", From: "ACTIVE", To: "EXPIRED"}
	bus.Publish(evt)

	for i, ch := range []<-chan workflow.Event{a, b} {
		select {
		case got := <-ch:
			if got.EntityID != "v1" || got.To != "EXPIRED" {
				t.Fatalf("subscriber %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	var dropped atomic.Int32
	bus := New(WithBuffer(1), OnDrop(func(workflow.Event) { dropped.Add(1) }))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = bus.Subscribe(ctx)

	bus.Publish(workflow.Event{EntityID: "1"})
	bus.Publish(workflow.Event{EntityID: "2"})
	bus.Publish(workflow.Event{EntityID: "3"})

	if dropped.Load() != 2 {
		t.Fatalf("expected 2 dropped events, got %d", dropped.Load())
	}
}

func TestBusClosesOnCancel(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := bus.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
	if n := bus.Subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}
