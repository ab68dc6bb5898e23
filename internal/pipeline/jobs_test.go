package pipeline

import (
	"testing"
	"time"
)

func TestContentHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := ContentHashHex(data)
	h2 := ContentHashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestContentHashHex_DifferentInputs(t *testing.T) {
	h1 := ContentHashHex([]byte("aaa"))
	h2 := ContentHashHex([]byte("bbb"))
	if h1 == h2 {
		t.Error("expected different hashes for different inputs")
	}
}

func TestNewJob_Defaults(t *testing.T) {
	req := Request{
		SourceID:    "sinapi",
		BaseID:      "obra-2026",
		BudgetStart: 1, BudgetEnd: 3,
		PDF: []byte("%PDF-1.4 fake"),
	}
	job := NewJob(req)

	if job.ID == "" {
		t.Fatal("expected a generated job id")
	}
	if job.Status != StatusQueued {
		t.Errorf("expected status %q, got %q", StatusQueued, job.Status)
	}
	if job.BaseID != "obra-2026" {
		t.Errorf("expected base id %q, got %q", "obra-2026", job.BaseID)
	}
	if job.ContentHash != ContentHashHex(req.PDF) {
		t.Error("expected content hash to cover the PDF bytes")
	}
	if got := job.Request(); got.BudgetEnd != 3 {
		t.Errorf("expected request to round-trip, got budget end %d", got.BudgetEnd)
	}
}

func TestJob_StateTransitions(t *testing.T) {
	job := NewJob(Request{BaseID: "t"})

	transitions := []struct {
		status JobStatus
		phase  string
	}{
		{StatusExtracting, "extraindo texto"},
		{StatusParsing, "interpretando seções"},
		{StatusCompleted, "done"},
	}

	for _, tr := range transitions {
		before := job.UpdatedAt
		// Small sleep to ensure time difference is detectable.
		time.Sleep(time.Millisecond)
		job.SetStatus(tr.status, tr.phase)

		if job.Status != tr.status {
			t.Errorf("expected status %q, got %q", tr.status, job.Status)
		}
		if job.Phase != tr.phase {
			t.Errorf("expected phase %q, got %q", tr.phase, job.Phase)
		}
		if !job.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance after SetStatus(%q)", tr.status)
		}
	}
}

func TestJob_Fail(t *testing.T) {
	job := NewJob(Request{BaseID: "t"})
	job.Fail("páginas fora do documento")
	if job.Status != StatusFailed {
		t.Errorf("expected status %q, got %q", StatusFailed, job.Status)
	}
	snap := job.Snapshot()
	if snap.Error != "páginas fora do documento" {
		t.Errorf("expected error message in snapshot, got %q", snap.Error)
	}
	if snap.Result != nil {
		t.Error("expected no result on a failed job")
	}
}

func TestJob_SnapshotBeforeCompletion(t *testing.T) {
	job := NewJob(Request{BaseID: "t"})
	if job.Result() != nil {
		t.Error("expected nil result before completion")
	}
	snap := job.Snapshot()
	if snap.Status != StatusQueued {
		t.Errorf("expected queued snapshot, got %q", snap.Status)
	}
	if snap.Result != nil {
		t.Error("expected nil result in snapshot before completion")
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := NewJob(Request{BaseID: "store-1"})
	store.Put(job)

	got := store.Get(job.ID)
	if got == nil {
		t.Fatal("expected to get job back")
	}
	if got.BaseID != "store-1" {
		t.Errorf("expected base id %q, got %q", "store-1", got.BaseID)
	}
}

func TestJobStore_GetMissing(t *testing.T) {
	store := NewJobStore(time.Hour)
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	expired := NewJob(Request{BaseID: "old"})
	store.Put(expired)

	// Wait for the TTL to pass.
	time.Sleep(100 * time.Millisecond)

	// Add a fresh job.
	fresh := NewJob(Request{BaseID: "new"})
	store.Put(fresh)

	store.Cleanup()

	if store.Get(expired.ID) != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get(fresh.ID) == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}

func TestJobStore_CleanupEmpty(t *testing.T) {
	store := NewJobStore(time.Hour)
	// Should not panic on empty store.
	store.Cleanup()
}
