package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/brokerlink/internal/infrastructure/database"
	"github.com/nerrad567/brokerlink/internal/session"
	"github.com/nerrad567/brokerlink/migrations"
)

func setupJournal(t *testing.T) *Journal {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(db.DB, nil)
}

func TestRecord(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	e, err := j.Record(ctx, session.Event{
		Type:     session.EventWaitingBeforeRetry,
		Endpoint: "broker.local:1883",
		Attempt:  2,
		Delay:    500 * time.Millisecond,
		Err:      errors.New("connection refused"),
		Time:     at,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if e.ID == "" || e.SessionID != j.SessionID() {
		t.Errorf("Record() entry = %+v, want ID and session", e)
	}

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Recent() returned %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.Type != "waiting-before-retry" {
		t.Errorf("Type = %q, want waiting-before-retry", got.Type)
	}
	if got.Endpoint != "broker.local:1883" || got.Attempt != 2 || got.Delay != 500*time.Millisecond {
		t.Errorf("entry = %+v", got)
	}
	if got.Error != "connection refused" {
		t.Errorf("Error = %q, want connection refused", got.Error)
	}
	if got.Topic != "" {
		t.Errorf("Topic = %q, want empty (NULL column)", got.Topic)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, at)
	}
}

func TestRecord_StampsMissingTime(t *testing.T) {
	j := setupJournal(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	e, err := j.Record(context.Background(), session.Event{Type: session.EventConnected})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !e.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, fixed)
	}
}

func TestList_Filters(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	events := []session.Event{
		{Type: session.EventConnecting, Endpoint: "a:1883", Time: base},
		{Type: session.EventConnected, Endpoint: "a:1883", Time: base.Add(time.Second)},
		{Type: session.EventSubscribed, Endpoint: "a:1883", Topic: "site/#", Time: base.Add(2 * time.Second)},
		{Type: session.EventConnecting, Endpoint: "b:1883", Time: base.Add(3 * time.Second)},
	}
	for _, ev := range events {
		if _, err := j.Record(ctx, ev); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"connecting", "subscribed", "connected", "connecting"}},
		{"by type", Filter{Type: "connecting"}, []string{"connecting", "connecting"}},
		{"by endpoint", Filter{Endpoint: "b:1883"}, []string{"connecting"}},
		{"since", Filter{Since: base.Add(2 * time.Second)}, []string{"connecting", "subscribed"}},
		{"limit", Filter{Limit: 1}, []string{"connecting"}},
		{"other session", Filter{SessionID: "nope"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := j.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(entries) != len(tt.want) {
				t.Fatalf("List() returned %d entries, want %d", len(entries), len(tt.want))
			}
			for i, e := range entries {
				if e.Type != tt.want[i] {
					t.Errorf("entries[%d].Type = %q, want %q", i, e.Type, tt.want[i])
				}
			}
		})
	}
}

func TestPrune(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	old := session.Event{Type: session.EventConnected, Time: now.Add(-48 * time.Hour)}
	fresh := session.Event{Type: session.EventConnected, Time: now.Add(-time.Hour)}
	for _, ev := range []session.Event{old, fresh} {
		if _, err := j.Record(ctx, ev); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := j.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d, want 1", n)
	}

	if n, _ := j.Prune(ctx, 0); n != 0 {
		t.Errorf("Prune(0) removed %d, want 0", n)
	}

	entries, _ := j.Recent(ctx, 10)
	if len(entries) != 1 {
		t.Errorf("Recent() after prune returned %d entries, want 1", len(entries))
	}
}

func TestRun_RecordsUntilClosed(t *testing.T) {
	j := setupJournal(t)
	ctx := context.Background()

	events := make(chan session.Event, 3)
	events <- session.Event{Type: session.EventConnecting}
	events <- session.Event{Type: session.EventConnected}
	close(events)

	done := make(chan struct{})
	go func() {
		j.Run(ctx, events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after channel close")
	}

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Run() recorded %d entries, want 2", len(entries))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	j := setupJournal(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		j.Run(ctx, make(chan session.Event))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestNew_UniqueSessions(t *testing.T) {
	a, b := New(nil, nil), New(nil, nil)
	if a.SessionID() == b.SessionID() {
		t.Error("New() should assign a fresh session ID")
	}
}
