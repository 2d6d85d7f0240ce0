package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: JobFinished, Data: Run{Job: "report"}})
	for i, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != JobFinished || e.Time.IsZero() {
			t.Fatalf("subscriber %d got %+v", i, e)
		}
		if r, ok := e.Data.(Run); !ok || r.Job != "report" {
			t.Fatalf("subscriber %d data = %#v", i, e.Data)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: JobStarted})
	b.Publish(Event{Type: JobStarted})
	if s := b.Stats(); s.Published != 2 || s.Delivered != 1 || s.Dropped != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		_, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(Event{Type: JobStarted})
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
			unsub()
		}()
	}
	wg.Wait()
}

func TestTerminal(t *testing.T) {
	t.Parallel()
	if Terminal(JobStarted) {
		t.Fatal("started is not terminal")
	}
	for _, ty := range []string{JobFinished, JobFailed, JobSuppressed, JobSuperseded} {
		if !Terminal(ty) {
			t.Fatalf("%s should be terminal", ty)
		}
	}
}
