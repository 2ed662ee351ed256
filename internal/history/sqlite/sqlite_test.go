package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/devlabo/sandboxd/internal/history"
)

func TestSendAndRecent(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	events := []history.Event{
		{Type: history.EventStart, Name: "frontend", PID: 101, OccurredAt: time.Now().UTC()},
		{Type: history.EventRestart, Name: "frontend", PID: 102, Detail: "attempt 1", OccurredAt: time.Now().UTC()},
		{Type: history.EventStop, Name: "prototype", PID: 103, OccurredAt: time.Now().UTC()},
	}
	for _, evt := range events {
		if err := store.Send(ctx, evt); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	got, err := store.Recent(ctx, "frontend", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Most recent first.
	if got[0].Type != history.EventRestart || got[0].Detail != "attempt 1" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Type != history.EventStart || got[1].PID != 101 {
		t.Errorf("got[1] = %+v", got[1])
	}

	all, err := store.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
}

func TestRecentLimit(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		evt := history.Event{Type: history.EventStart, Name: "p", PID: i, OccurredAt: time.Now().UTC()}
		if err := store.Send(ctx, evt); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	got, err := store.Recent(ctx, "p", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}
