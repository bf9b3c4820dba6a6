package auditlog

import (
	"context"
	"testing"
	"time"
)

func testEntry(id, groupID string, eventType EventType, createdAt time.Time) *Entry {
	return &Entry{
		ID:        id,
		GroupID:   groupID,
		EventType: eventType,
		ActorID:   "usr_actor",
		ActorName: "Actor",
		CreatedAt: createdAt,
	}
}

func TestInMemoryStore_InsertIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	entry := testEntry("grp_audit_1", "grp_a", EventMemberKick, now)

	inserted, err := store.Insert(ctx, entry)
	if err != nil {
		t.Fatalf("Insert() returned error: %v", err)
	}
	if !inserted {
		t.Error("first Insert() = false, want true")
	}

	// Same ID with different content must not overwrite
	dupe := testEntry("grp_audit_1", "grp_a", EventMemberBan, now.Add(time.Minute))
	inserted, err = store.Insert(ctx, dupe)
	if err != nil {
		t.Fatalf("duplicate Insert() returned error: %v", err)
	}
	if inserted {
		t.Error("duplicate Insert() = true, want false")
	}

	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}

	entries, err := store.Recent(ctx, "grp_a", 0)
	if err != nil {
		t.Fatalf("Recent() returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Recent() returned %d entries, want 1", len(entries))
	}
	if entries[0].EventType != EventMemberKick {
		t.Errorf("stored entry event type = %s, want %s (original must win)", entries[0].EventType, EventMemberKick)
	}
}

func TestInMemoryStore_RepollInsertsNothing(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	page := []*Entry{
		testEntry("e1", "grp_a", EventMemberKick, now),
		testEntry("e2", "grp_a", EventMemberBan, now.Add(time.Second)),
		testEntry("e3", "grp_a", EventPostDelete, now.Add(2*time.Second)),
	}

	for _, e := range page {
		if _, err := store.Insert(ctx, e); err != nil {
			t.Fatalf("Insert(%s) returned error: %v", e.ID, err)
		}
	}

	// Second poll returning the identical page inserts zero rows.
	fresh := 0
	for _, e := range page {
		inserted, err := store.Insert(ctx, e)
		if err != nil {
			t.Fatalf("re-poll Insert(%s) returned error: %v", e.ID, err)
		}
		if inserted {
			fresh++
		}
	}
	if fresh != 0 {
		t.Errorf("re-poll inserted %d entries, want 0", fresh)
	}
	if store.Len() != 3 {
		t.Errorf("Len() = %d, want 3", store.Len())
	}
}

func TestInMemoryStore_ExistingIDs(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	if _, err := store.Insert(ctx, testEntry("e1", "grp_a", EventMemberKick, now)); err != nil {
		t.Fatalf("Insert() returned error: %v", err)
	}
	if _, err := store.Insert(ctx, testEntry("e2", "grp_a", EventMemberBan, now)); err != nil {
		t.Fatalf("Insert() returned error: %v", err)
	}

	existing, err := store.ExistingIDs(ctx, []string{"e1", "e2", "e3"})
	if err != nil {
		t.Fatalf("ExistingIDs() returned error: %v", err)
	}
	if !existing["e1"] || !existing["e2"] {
		t.Errorf("ExistingIDs() missing known IDs: %v", existing)
	}
	if existing["e3"] {
		t.Error("ExistingIDs() reported unknown ID e3 as existing")
	}

	empty, err := store.ExistingIDs(ctx, nil)
	if err != nil {
		t.Fatalf("ExistingIDs(nil) returned error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ExistingIDs(nil) returned %d IDs, want 0", len(empty))
	}
}

func TestInMemoryStore_RecentOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of event-time order, as a back-fill would.
	ids := []struct {
		id     string
		offset time.Duration
	}{
		{"e_mid", 2 * time.Minute},
		{"e_old", 0},
		{"e_new", 5 * time.Minute},
	}
	for _, in := range ids {
		if _, err := store.Insert(ctx, testEntry(in.id, "grp_a", EventMemberKick, base.Add(in.offset))); err != nil {
			t.Fatalf("Insert(%s) returned error: %v", in.id, err)
		}
	}
	// Different group must not appear.
	if _, err := store.Insert(ctx, testEntry("e_other", "grp_b", EventMemberKick, base.Add(time.Hour))); err != nil {
		t.Fatalf("Insert() returned error: %v", err)
	}

	entries, err := store.Recent(ctx, "grp_a", 0)
	if err != nil {
		t.Fatalf("Recent() returned error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Recent() returned %d entries, want 3", len(entries))
	}
	wantOrder := []string{"e_new", "e_mid", "e_old"}
	for i, want := range wantOrder {
		if entries[i].ID != want {
			t.Errorf("Recent()[%d].ID = %s, want %s", i, entries[i].ID, want)
		}
	}

	limited, err := store.Recent(ctx, "grp_a", 2)
	if err != nil {
		t.Fatalf("Recent(limit=2) returned error: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("Recent(limit=2) returned %d entries, want 2", len(limited))
	}
	if limited[0].ID != "e_new" || limited[1].ID != "e_mid" {
		t.Errorf("Recent(limit=2) = [%s, %s], want [e_new, e_mid]", limited[0].ID, limited[1].ID)
	}
}

func TestInMemoryStore_RecentReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	if _, err := store.Insert(ctx, testEntry("e1", "grp_a", EventMemberKick, now)); err != nil {
		t.Fatalf("Insert() returned error: %v", err)
	}

	entries, err := store.Recent(ctx, "grp_a", 0)
	if err != nil {
		t.Fatalf("Recent() returned error: %v", err)
	}
	entries[0].ActorName = "mutated"

	again, err := store.Recent(ctx, "grp_a", 0)
	if err != nil {
		t.Fatalf("Recent() returned error: %v", err)
	}
	if again[0].ActorName != "Actor" {
		t.Errorf("stored entry was mutated through returned copy: %s", again[0].ActorName)
	}
}

func TestInMemoryStore_MarkDiscordSent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	if _, err := store.Insert(ctx, testEntry("e1", "grp_a", EventMemberKick, now)); err != nil {
		t.Fatalf("Insert() returned error: %v", err)
	}

	sentAt := now.Add(30 * time.Second)
	if err := store.MarkDiscordSent(ctx, "e1", sentAt); err != nil {
		t.Fatalf("MarkDiscordSent() returned error: %v", err)
	}

	entries, err := store.Recent(ctx, "grp_a", 0)
	if err != nil {
		t.Fatalf("Recent() returned error: %v", err)
	}
	if entries[0].DiscordSentAt == nil {
		t.Fatal("DiscordSentAt is nil after MarkDiscordSent")
	}
	if !entries[0].DiscordSentAt.Equal(sentAt) {
		t.Errorf("DiscordSentAt = %v, want %v", entries[0].DiscordSentAt, sentAt)
	}

	if err := store.MarkDiscordSent(ctx, "missing", sentAt); err != ErrNotFound {
		t.Errorf("MarkDiscordSent(missing) = %v, want ErrNotFound", err)
	}
}
