package resultlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newPublisher(t *testing.T) (*RedisPublisher, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisPublisher(rdb, time.Minute), mr, rdb
}

func TestPublish_StoresStateWithTTL(t *testing.T) {
	p, mr, _ := newPublisher(t)
	ctx := context.Background()

	err := p.Publish(ctx, CycleEvent{SessionID: "s1", Decision: "initial", Page: 1, TotalRows: 25, TotalPages: 3, SortOrder: "popularity"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	key := StateKey("s1")
	if key != "tdtp:explore:session:s1:state" {
		t.Errorf("StateKey() = %q", key)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}

	ev, err := p.Latest(ctx, "s1")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if ev.Status != "success" || ev.TotalRows != 25 || ev.At.IsZero() {
		t.Errorf("Latest() = %+v", ev)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := p.Latest(ctx, "s1"); err == nil {
		t.Error("Latest() after expiry: expected error")
	}
}

func TestPublish_FailedStatus(t *testing.T) {
	p, _, _ := newPublisher(t)
	msg := "query failed"
	if err := p.Publish(context.Background(), CycleEvent{SessionID: "s2", Error: &msg}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	ev, err := p.Latest(context.Background(), "s2")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if ev.Status != "failed" || ev.Error == nil || *ev.Error != msg {
		t.Errorf("Latest() = %+v", ev)
	}
}

func TestPublish_Subscribers(t *testing.T) {
	p, _, rdb := newPublisher(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, EventsChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := p.Publish(ctx, CycleEvent{SessionID: "s3", Decision: "adopted", Page: 2}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case m := <-sub.Channel():
		var ev CycleEvent
		if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if ev.SessionID != "s3" || ev.Page != 2 || ev.Decision != "adopted" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestPublish_RedisDown(t *testing.T) {
	p, mr, _ := newPublisher(t)
	mr.Close()
	if err := p.Publish(context.Background(), CycleEvent{SessionID: "s4"}); err == nil {
		t.Error("Publish() with redis down: expected error")
	}
}
