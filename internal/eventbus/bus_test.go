package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TimerStarted, Key: "g__e"})

	for _, ch := range []<-chan Event{a, c} {
		ev := <-ch
		if ev.Type != TimerStarted || ev.Key != "g__e" {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Fatal("expected publish to stamp time")
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TimerQueued})
	b.Publish(Event{Type: TimerQueued})

	if got := Dropped(b); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	// must not panic after close
	b.Publish(Event{Type: AlertWarning})
}

func TestPublishConcurrentWithUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		ch, unsub := b.Subscribe(4)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Publish(Event{Type: TimerStarted})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				select {
				case <-ch:
				default:
				}
			}
			unsub()
			for range ch {
			}
		}()
	}
	wg.Wait()
	b.Publish(Event{Type: TimerStopped})
}
