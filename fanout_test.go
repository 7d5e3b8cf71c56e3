package wrcgw

import "testing"

func TestActionBroadcasterFanout(t *testing.T) {
	b := NewActionBroadcaster()
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(ActionCheckConnect{MsgID: "m1"})

	got, ok := (<-a).(ActionCheckConnect)
	if !ok || got.MsgID != "m1" {
		t.Fatalf("subscriber a: got %#v, ok=%v", got, ok)
	}
	got, ok = (<-c).(ActionCheckConnect)
	if !ok || got.MsgID != "m1" {
		t.Fatalf("subscriber c: got %#v, ok=%v", got, ok)
	}
}

func TestActionBroadcasterOldestDrop(t *testing.T) {
	b := NewActionBroadcaster()
	sub := b.Subscribe()

	for i := 0; i < 40; i++ {
		b.Publish(ActionCheckConnect{MsgID: string(rune('a' + i%26))})
	}

	if len(sub) != cap(sub) {
		t.Fatalf("expected subscriber buffer full at cap %d, got %d", cap(sub), len(sub))
	}

	first, ok := (<-sub).(ActionCheckConnect)
	if !ok {
		t.Fatalf("expected ActionCheckConnect, got %#v", first)
	}
	if first.MsgID == "a" {
		t.Fatalf("expected the oldest entries to have been dropped, got the very first publish")
	}
}

func TestActionBroadcasterUnsubscribe(t *testing.T) {
	b := NewActionBroadcaster()
	sub := b.Subscribe()
	b.Unsubscribe(sub)

	b.Publish(ActionCheckConnect{MsgID: "ignored"})

	if _, ok := <-sub; ok {
		t.Fatalf("expected channel to be closed after Unsubscribe")
	}
}
