package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCartStorage_LoadSave(t *testing.T) {
	ctx := context.Background()
	s := NewCartStorage()

	v, err := s.Load(ctx, "cart-storage:1")
	if err != nil || v != nil {
		t.Fatalf("expected empty slot, got %q %v", v, err)
	}

	if err := s.Save(ctx, "cart-storage:1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	v, _ = s.Load(ctx, "cart-storage:1")
	if string(v) != `{"a":1}` {
		t.Fatalf("unexpected value %q", v)
	}

	v[0] = 'X'
	again, _ := s.Load(ctx, "cart-storage:1")
	if string(again) != `{"a":1}` {
		t.Fatal("Load must return a copy")
	}
}

func TestCartStorage_SubscribeNotifiesOnWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewCartStorage()

	ch, err := s.Subscribe(ctx, "cart-storage:1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := s.Save(context.Background(), "cart-storage:2", []byte("other")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
		t.Fatal("write to another key must not notify")
	default:
	}

	if err := s.Save(context.Background(), "cart-storage:1", []byte("x")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// Возможное буферизованное уведомление, дочитываем до закрытия.
			<-ch
		}
	case <-time.After(time.Second):
		t.Fatal("channel must close after cancel")
	}
}

func TestCartStorage_FailWrites(t *testing.T) {
	s := NewCartStorage()
	boom := errors.New("quota exceeded")
	s.FailWrites(boom)

	if err := s.Save(context.Background(), "k", []byte("v")); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	s.FailWrites(nil)
	if err := s.Save(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
