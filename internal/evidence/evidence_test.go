package evidence_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/examtrust/proctor/internal/evidence"
)

var ctx = context.Background()

func TestAppend_chainsFromAnchor(t *testing.T) {
	l := evidence.NewMemoryLog()
	sid := uuid.New()

	e0, err := l.Append(ctx, sid, "session_start", "", map[string]string{"exam": "exam-1"})
	if err != nil {
		t.Fatal(err)
	}
	if e0.Index != 0 {
		t.Errorf("first entry index = %d, want 0", e0.Index)
	}
	if e0.PrevHash != evidence.Anchor {
		t.Errorf("first entry prev hash = %q, want Anchor", e0.PrevHash)
	}

	e1, err := l.Append(ctx, sid, "tab_switch", "visibilitychange", nil)
	if err != nil {
		t.Fatal(err)
	}
	if e1.PrevHash != e0.Hash {
		t.Errorf("chain broken: e1.PrevHash = %q, want e0.Hash = %q", e1.PrevHash, e0.Hash)
	}

	tip, err := l.Tip(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if tip != e1.Hash {
		t.Errorf("Tip = %q, want %q", tip, e1.Hash)
	}
}

func TestVerify_intactChain(t *testing.T) {
	l := evidence.NewMemoryLog()
	sid := uuid.New()
	for _, kind := range []string{"session_start", "face_lost", "face_found", "warning", "session_end"} {
		if _, err := l.Append(ctx, sid, kind, "", nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Verify(ctx, sid); err != nil {
		t.Errorf("Verify() on intact chain: %v", err)
	}
}

func TestVerify_detectsTampering(t *testing.T) {
	l := evidence.NewMemoryLog()
	sid := uuid.New()
	l.Append(ctx, sid, "session_start", "", nil)
	l.Append(ctx, sid, "tab_switch", "", nil)
	l.Append(ctx, sid, "session_end", "", nil)

	entries, _ := l.Entries(ctx, sid)
	entries[1].Detail = "doctored"
	if err := evidence.VerifyEntries(entries); err == nil {
		t.Error("edited entry not detected")
	}

	entries, _ = l.Entries(ctx, sid)
	if err := evidence.VerifyEntries(entries[:1]); err != nil {
		t.Errorf("truncated-but-consistent prefix should verify: %v", err)
	}

	// Removing a middle entry breaks the chain.
	gapped := []*evidence.Entry{entries[0], entries[2]}
	if err := evidence.VerifyEntries(gapped); err == nil {
		t.Error("removed entry not detected")
	}
}

func TestChains_independentPerSession(t *testing.T) {
	l := evidence.NewMemoryLog()
	a, b := uuid.New(), uuid.New()

	l.Append(ctx, a, "session_start", "", nil)
	eb, _ := l.Append(ctx, b, "session_start", "", nil)

	if eb.Index != 0 || eb.PrevHash != evidence.Anchor {
		t.Errorf("second session's chain should start fresh: %+v", eb)
	}

	tip, _ := l.Tip(ctx, uuid.New())
	if tip != evidence.Anchor {
		t.Errorf("empty chain tip = %q, want Anchor", tip)
	}
}
