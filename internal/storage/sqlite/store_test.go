package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/webxuker/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "data", "history.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RecordDeployment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, time.March, 5, 14, 30, 0, 0, time.UTC)
	d := &storage.Deployment{
		Repo:       "app",
		Stage:      "prod",
		Status:     storage.StatusFailed,
		FailedStep: "PullingImages",
		ExitCode:   1,
		Error:      `command "docker-compose pull --quiet" exited with code 1`,
		RequestID:  "req-1",
		StartedAt:  started,
		Duration:   1500 * time.Millisecond,
	}
	if err := store.RecordDeployment(ctx, d); err != nil {
		t.Fatalf("RecordDeployment() error = %v", err)
	}
	if d.ID == "" {
		t.Fatal("expected an assigned ID")
	}

	got, err := store.ListDeployments(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListDeployments() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d deployments, want 1", len(got))
	}

	r := got[0]
	if r.ID != d.ID {
		t.Errorf("ID = %v, want %v", r.ID, d.ID)
	}
	if r.Status != storage.StatusFailed || r.FailedStep != "PullingImages" || r.ExitCode != 1 {
		t.Errorf("unexpected record %+v", r)
	}
	if r.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v", r.Duration)
	}
	if !r.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", r.StartedAt, started)
	}
	if r.RequestID != "req-1" {
		t.Errorf("RequestID = %q", r.RequestID)
	}
}

func TestSQLiteStore_ListDeployments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)

	records := []*storage.Deployment{
		{Repo: "app", Stage: "prod", Status: storage.StatusSucceeded, StartedAt: base},
		{Repo: "app", Stage: "staging", Status: storage.StatusSucceeded, StartedAt: base.Add(time.Minute)},
		{Repo: "app", Stage: "prod", Status: storage.StatusFailed, StartedAt: base.Add(2 * time.Minute)},
		{Repo: "web", Stage: "prod", Status: storage.StatusSucceeded, StartedAt: base.Add(3 * time.Minute)},
	}
	for _, r := range records {
		if err := store.RecordDeployment(ctx, r); err != nil {
			t.Fatalf("RecordDeployment() error = %v", err)
		}
	}

	tests := []struct {
		name    string
		opts    storage.ListOptions
		wantIDs []string
	}{
		{name: "all newest first", opts: storage.ListOptions{}, wantIDs: []string{records[3].ID, records[2].ID, records[1].ID, records[0].ID}},
		{name: "by repo", opts: storage.ListOptions{Repo: "web"}, wantIDs: []string{records[3].ID}},
		{name: "by repo and stage", opts: storage.ListOptions{Repo: "app", Stage: "prod"}, wantIDs: []string{records[2].ID, records[0].ID}},
		{name: "limit", opts: storage.ListOptions{Limit: 2}, wantIDs: []string{records[3].ID, records[2].ID}},
		{name: "no match", opts: storage.ListOptions{Repo: "none"}, wantIDs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListDeployments(ctx, tt.opts)
			if err != nil {
				t.Fatalf("ListDeployments() error = %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d deployments, want %d", len(got), len(tt.wantIDs))
			}
			for i, d := range got {
				if d.ID != tt.wantIDs[i] {
					t.Errorf("[%d] ID = %s, want %s", i, d.ID, tt.wantIDs[i])
				}
			}
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.RecordDeployment(context.Background(), &storage.Deployment{Repo: "app", Stage: "prod", Status: storage.StatusSucceeded}); err != nil {
		t.Fatalf("RecordDeployment() error = %v", err)
	}
	store.Close()

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.ListDeployments(context.Background(), storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListDeployments() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d deployments after reopen, want 1", len(got))
	}
}
