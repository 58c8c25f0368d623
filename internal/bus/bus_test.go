package bus

import (
	"testing"
	"time"
)

func TestTopicFanOut(t *testing.T) {
	topic := NewTopic[int]()
	ch1, unsub1 := topic.Subscribe(1)
	ch2, unsub2 := topic.Subscribe(1)
	defer unsub1()
	defer unsub2()

	topic.Publish(7)

	select {
	case v := <-ch1:
		if v != 7 {
			t.Fatalf("ch1: expected 7, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("ch1 did not receive")
	}
	select {
	case v := <-ch2:
		if v != 7 {
			t.Fatalf("ch2: expected 7, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("ch2 did not receive")
	}
}

func TestTopicSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	topic := NewTopic[int]()
	ch, unsub := topic.Subscribe(1)
	defer unsub()

	topic.Publish(1)
	topic.Publish(2) // ch's buffer of 1 is already full; this must not block

	v := <-ch
	if v != 1 {
		t.Fatalf("expected first published value 1, got %d", v)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	topic := NewTopic[int]()
	ch, unsub := topic.Subscribe(1)
	unsub()

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}
