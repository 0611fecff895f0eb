package mempool

import (
	"testing"
)

func seqPtr(n int64) *int64 { return &n }

func newTestTracker(profile Profile) *Tracker {
	t := NewTracker(profile, nil)
	return t
}

// Scenario 1: normal path — announce then body.
func TestNormalPath(t *testing.T) {
	tr := newTestTracker(ProfilePublic)
	defer tr.Stop()

	tr.LoadSnapshot(100, nil)

	tr.Register("aa", seqPtr(101), true)
	tr.Insert("aa", &Tx{
		Txid:   "aa",
		Inputs: []Input{{PrevTxid: "pp", PrevVout: 0}},
		Value:  90,
		Fee:    10,
	})

	if got := tr.GetCount(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	if got := tr.GetStatus("aa"); got != StatusLive {
		t.Fatalf("status(aa) = %v, want live", got)
	}
	res, ok := tr.LookupSpend("pp", 0)
	if !ok || res.Spender != "aa" || res.Index != 0 {
		t.Fatalf("lookup_spend(pp,0) = %+v, %v; want (aa,0), true", res, ok)
	}
}

// Scenario 2: body arrives before the announce.
func TestOutOfOrderBody(t *testing.T) {
	tr := newTestTracker(ProfilePublic)
	defer tr.Stop()

	tr.LoadSnapshot(100, nil)

	tr.Insert("bb", &Tx{
		Txid:   "bb",
		Inputs: []Input{{PrevTxid: "qq", PrevVout: 1}},
		Value:  50,
		Fee:    5,
	})
	if got := tr.GetStatus("bb"); got != StatusBodied {
		t.Fatalf("status(bb) before announce = %v, want bodied", got)
	}

	tr.Register("bb", seqPtr(102), true)

	if got := tr.GetCount(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
	if got := tr.GetStatus("bb"); got != StatusLive {
		t.Fatalf("status(bb) = %v, want live", got)
	}
}

// Scenario 3: drop arrives before the body; a tombstone suppresses
// late admission until a fresh announce sequence starts over.
func TestDropBeforeBody(t *testing.T) {
	tr := newTestTracker(ProfilePublic)
	defer tr.Stop()

	tr.LoadSnapshot(100, nil)

	tr.Register("cc", seqPtr(103), true)
	tr.Drop("cc")

	if got := tr.GetCount(); got != 0 {
		t.Fatalf("count after drop = %d, want 0", got)
	}
	if got := tr.GetStatus("cc"); got != StatusDropped {
		t.Fatalf("status(cc) = %v, want dropped", got)
	}

	// A late body arrives: the tombstone is erased, not resurrected.
	tr.Insert("cc", &Tx{Txid: "cc"})
	if got := tr.GetStatus("cc"); got != StatusNew {
		t.Fatalf("status(cc) after late body = %v, want new (tombstone erased)", got)
	}

	// A fresh announce now creates a brand new Announced entry, not a
	// resurrection of the dropped transaction.
	tr.Register("cc", seqPtr(105), true)
	if got := tr.GetStatus("cc"); got != StatusAnnounced {
		t.Fatalf("status(cc) after fresh announce = %v, want announced", got)
	}
	if got := tr.GetCount(); got != 1 {
		t.Fatalf("count after fresh announce = %d, want 1", got)
	}
}

// Scenario 4: a block confirms a live tx and a tx whose body is still
// in flight; the late body must not resurrect it.
func TestBlockConfirmationRace(t *testing.T) {
	tr := newTestTracker(ProfilePublic)
	defer tr.Stop()

	tr.LoadSnapshot(100, nil)

	tr.Register("dd", seqPtr(106), true)
	tr.Insert("dd", &Tx{Txid: "dd"})

	tr.ApplyBlock(&Block{Txids: []string{"dd", "ee"}})

	if got := tr.GetCount(); got != 0 {
		t.Fatalf("count after block = %d, want 0", got)
	}

	// Late body for ee, confirmed but never seen before the block.
	tr.Insert("ee", &Tx{Txid: "ee"})

	if got := tr.GetStatus("ee"); got != StatusBlock {
		t.Fatalf("status(ee) = %v, want block", got)
	}
	if got := tr.GetCount(); got != 0 {
		t.Fatalf("count after late body for ee = %d, want 0", got)
	}
}

// Scenario 5: events queued before the snapshot loads are replayed
// in order, honoring the sequence cursor.
func TestStartupQueuing(t *testing.T) {
	tr := newTestTracker(ProfilePublic)
	defer tr.Stop()

	tr.Register("ff", seqPtr(50), true)
	tr.Drop("gg")

	tr.LoadSnapshot(100, []string{"gg"})

	if got := tr.GetStatus("gg"); got != StatusDropped {
		t.Fatalf("status(gg) = %v, want dropped", got)
	}
	if got := tr.GetStatus("ff"); got != StatusNew {
		t.Fatalf("status(ff) = %v, want new (sequence 50 < cursor 100)", got)
	}
}

// Idempotence: double-A and double-R.
func TestDoubleAnnounceIdempotent(t *testing.T) {
	tr := newTestTracker(ProfilePersonal)
	defer tr.Stop()

	tr.LoadSnapshot(1, nil)

	tr.Register("x", seqPtr(2), true)
	tr.Register("x", seqPtr(3), true)

	if got := tr.GetCount(); got != 1 {
		t.Fatalf("count = %d, want 1 after double announce", got)
	}
	if got := tr.GetStatus("x"); got != StatusAnnounced {
		t.Fatalf("status = %v, want announced", got)
	}
}

func TestDoubleRemoveIdempotent(t *testing.T) {
	tr := newTestTracker(ProfilePersonal)
	defer tr.Stop()

	tr.LoadSnapshot(1, nil)

	tr.Register("x", seqPtr(2), true)
	tr.Drop("x")
	tr.Drop("x")

	if got := tr.GetCount(); got != 0 {
		t.Fatalf("count = %d, want 0 after double drop", got)
	}
	if got := tr.GetStatus("x"); got != StatusDropped {
		t.Fatalf("status = %v, want dropped", got)
	}
}

func TestApplyBlockIdempotent(t *testing.T) {
	tr := newTestTracker(ProfilePersonal)
	defer tr.Stop()

	tr.LoadSnapshot(1, nil)
	tr.Register("x", seqPtr(2), true)
	tr.Insert("x", &Tx{Txid: "x"})

	block := &Block{Txids: []string{"x"}}
	tr.ApplyBlock(block)
	countAfterFirst := tr.GetCount()

	tr.ApplyBlock(block)
	countAfterSecond := tr.GetCount()

	if countAfterFirst != countAfterSecond {
		t.Fatalf("apply_block not idempotent: %d != %d", countAfterFirst, countAfterSecond)
	}
	if got := tr.GetStatus("x"); got != StatusBlock {
		t.Fatalf("status(x) = %v, want block", got)
	}
}

// AR ordering property: announce then remove with a later sequence
// number always returns to the initial count, whether or not a body
// shows up between them. Without a body a Dropped tombstone remains;
// with one the Live entry is deleted outright.
func TestAnnounceThenRemoveReturnsToBaseline(t *testing.T) {
	for _, withBody := range []bool{false, true} {
		tr := newTestTracker(ProfilePersonal)
		tr.LoadSnapshot(1, nil)

		baseline := tr.GetCount()

		tr.Register("x", seqPtr(2), true)
		if withBody {
			tr.Insert("x", &Tx{Txid: "x"})
		}
		tr.Drop("x")

		if got := tr.GetCount(); got != baseline {
			t.Fatalf("withBody=%v: count = %d, want baseline %d", withBody, got, baseline)
		}
		want := StatusDropped
		if withBody {
			want = StatusNew
		}
		if got := tr.GetStatus("x"); got != want {
			t.Fatalf("withBody=%v: status = %v, want %v", withBody, got, want)
		}
		tr.Stop()
	}
}

// Personal profile never populates or serves the spend index.
func TestPersonalProfileDisablesSpendIndex(t *testing.T) {
	tr := newTestTracker(ProfilePersonal)
	defer tr.Stop()

	tr.LoadSnapshot(1, nil)
	tr.Register("aa", seqPtr(2), true)
	tr.Insert("aa", &Tx{
		Txid:   "aa",
		Inputs: []Input{{PrevTxid: "pp", PrevVout: 0}},
	})

	if _, ok := tr.LookupSpend("pp", 0); ok {
		t.Fatalf("lookup_spend succeeded in personal mode, want always-none")
	}
}

func TestPublishCalledOnCountChange(t *testing.T) {
	var payloads [][]byte
	tr := NewTracker(ProfilePersonal, func(p []byte) {
		payloads = append(payloads, p)
	})
	defer tr.Stop()

	tr.LoadSnapshot(1, nil)
	tr.Register("aa", seqPtr(2), true)
	tr.Drop("aa")

	if len(payloads) != 2 {
		t.Fatalf("got %d publish calls, want 2 (one per count change)", len(payloads))
	}
}
