package mempool

import (
	"encoding/json"
	"sync"
)

// sentinelCursor marks that no authoritative snapshot has been loaded
// yet, so incoming sequence-stream events must be queued rather than
// applied directly.
const sentinelCursor int64 = -1

// Profile gates the spend index: only Public populates and serves it.
// Personal mode never populates the spend cache.
type Profile int

const (
	ProfilePersonal Profile = iota
	ProfilePublic
)

// queuedEvent is a sequence-stream add/remove message received before
// the snapshot has loaded, held until the reconciler anchors the
// sequence cursor and the queue can be replayed in receipt order.
type queuedEvent struct {
	remove bool
	txid   string
	seq    int64
}

// Tracker is the mempool state machine. It is the sole writer of its
// indices; every mutating call is marshalled onto a single actor
// goroutine so that, regardless of which of the three notification
// streams triggered it, mutations never interleave. Readers
// (GetCount, GetStatus, LookupSpend) go straight to the lock-guarded
// indices and never touch the actor.
type Tracker struct {
	idx     *indices
	profile Profile
	publish PublishFunc

	sequenceCursor int64
	queued         []queuedEvent
	backfillDone   bool

	blockLock sync.Mutex

	actor chan func()
	quit  chan struct{}
	wg    sync.WaitGroup
}

// NewTracker constructs a Tracker with no snapshot loaded and starts
// its actor goroutine. Callers must call Stop when done.
func NewTracker(profile Profile, publish PublishFunc) *Tracker {
	if publish == nil {
		publish = func([]byte) {}
	}
	t := &Tracker{
		idx:            newIndices(),
		profile:        profile,
		publish:        publish,
		sequenceCursor: sentinelCursor,
		actor:          make(chan func()),
		quit:           make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

func (t *Tracker) run() {
	defer t.wg.Done()
	for {
		select {
		case cmd := <-t.actor:
			cmd()
		case <-t.quit:
			return
		}
	}
}

// Stop shuts down the actor goroutine. Outstanding exec calls unblock
// immediately without running their closure.
func (t *Tracker) Stop() {
	select {
	case <-t.quit:
		return
	default:
	}
	close(t.quit)
	t.wg.Wait()
}

// exec runs fn on the single-writer actor and blocks until it has
// completed, giving callers read-your-writes semantics without
// requiring them to know about the actor.
func (t *Tracker) exec(fn func()) {
	done := make(chan struct{})
	select {
	case t.actor <- func() { fn(); close(done) }:
		<-done
	case <-t.quit:
	}
}

// Register records that a txid has been announced by the sequence
// stream. countIt is false during backfill, where the txid was
// already counted by LoadSnapshot and must not be counted twice.
func (t *Tracker) Register(txid string, seq *int64, countIt bool) {
	t.exec(func() { t.registerLocked(txid, seq, countIt) })
}

func (t *Tracker) registerLocked(txid string, seq *int64, countIt bool) {
	if t.sequenceCursor == sentinelCursor {
		qe := queuedEvent{txid: txid}
		if seq != nil {
			qe.seq = *seq
		}
		t.queued = append(t.queued, qe)
		return
	}

	if seq != nil && *seq < t.sequenceCursor {
		// Already accounted for by the snapshot.
		return
	}
	if t.idx.inBlock(txid) {
		return
	}

	e, ok := t.idx.get(txid)
	if !ok {
		t.idx.set(txid, &entry{kind: kindAnnounced})
		if countIt {
			t.idx.incCount()
			t.publishCount()
		}
		t.idx.removeSync(txid)
		return
	}

	switch e.kind {
	case kindBodied:
		t.promoteToLive(txid, e.tx)
		t.idx.removeSync(txid)
		if countIt {
			t.idx.incCount()
		}
		t.publishCount()
	default:
		// Announced, Dropped: no-op.
	}
}

// Insert records a transaction body decoded off the raw-transaction
// stream or fetched during backfill.
func (t *Tracker) Insert(txid string, tx *Tx) {
	t.exec(func() { t.insertLocked(txid, tx) })
}

func (t *Tracker) insertLocked(txid string, tx *Tx) {
	inBlock := t.idx.inBlock(txid)

	e, ok := t.idx.get(txid)
	if !ok {
		if inBlock {
			return
		}
		t.idx.set(txid, &entry{kind: kindBodied, tx: tx})
		return
	}

	switch e.kind {
	case kindAnnounced:
		if inBlock {
			return
		}
		t.promoteToLive(txid, tx)
		t.idx.removeSync(txid)
		t.publishCount()
	case kindDropped:
		t.idx.delete(txid)
	case kindLive, kindBodied:
		// Duplicate.
	}
}

// promoteToLive transitions an entry to Live and caches its spends
// when the profile enables the spend index. Count is adjusted by the
// caller, since the two call sites (register/insert) disagree on
// whether the promotion itself should count.
func (t *Tracker) promoteToLive(txid string, tx *Tx) {
	t.idx.set(txid, &entry{kind: kindLive, tx: tx, totalIn: tx.Value + tx.Fee})
	if t.profile == ProfilePublic {
		t.idx.cacheSpends(txid, tx.Inputs)
	}
}

// Drop removes a txid from the mempool, called on sequence-stream
// remove events and internally from ApplyBlock. It reports whether
// the drop changed count, which ApplyBlock uses to decide whether a
// confirmed txid needs its count correction applied.
func (t *Tracker) Drop(txid string) bool {
	var changed bool
	t.exec(func() { changed = t.dropLocked(txid) })
	return changed
}

func (t *Tracker) dropLocked(txid string) bool {
	if t.sequenceCursor == sentinelCursor {
		// Removes, like announces, defer onto the queue until the
		// snapshot anchors the sequence cursor.
		t.queued = append(t.queued, queuedEvent{remove: true, txid: txid})
		return false
	}

	e, ok := t.idx.get(txid)
	if !ok {
		if t.idx.inSync(txid) {
			t.idx.set(txid, &entry{kind: kindDropped})
			t.idx.decCount()
			t.idx.removeSync(txid)
			t.publishCount()
			return true
		}
		return false
	}

	switch e.kind {
	case kindAnnounced:
		// Always decrements, even for an entry that was registered
		// with countIt=false during backfill. Backfill only calls
		// Register for txids already counted by LoadSnapshot, so an
		// Announced entry reaching here was always counted exactly
		// once; decrementing unconditionally keeps the invariant that
		// every counted entry is matched by exactly one decrement.
		t.idx.set(txid, &entry{kind: kindDropped})
		t.idx.decCount()
		t.idx.removeSync(txid)
		t.publishCount()
		return true

	case kindBodied:
		t.idx.delete(txid)
		return false

	case kindLive:
		t.idx.delete(txid)
		if t.profile == ProfilePublic {
			t.idx.uncacheSpends(e.tx.Inputs)
		}
		t.idx.decCount()
		t.publishCount()
		return true

	case kindDropped:
		return false
	}
	return false
}

// ApplyBlock atomically drains every confirmed txid out of the
// mempool and installs the new block set so late rawtx arrivals for
// those txids cannot resurrect them.
func (t *Tracker) ApplyBlock(block *Block) {
	t.blockLock.Lock()
	defer t.blockLock.Unlock()

	// One actor command for the whole block, so no sequence-stream
	// Drop or Register interleaves with its confirmation processing.
	t.exec(func() {
		t.idx.resetBlockSet(block.Txids)
		for _, txid := range block.Txids {
			t.dropLocked(txid)
		}
		t.publishCount()
	})
}

// publishCount serializes the current count and hands it to the
// configured PublishFunc. It always runs on the actor goroutine,
// called by the mutating operations (ApplyBlock included).
func (t *Tracker) publishCount() {
	payload, err := json.Marshal(struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
	}{Type: "count", Count: t.idx.getCount()})
	if err != nil {
		return
	}
	t.publish(payload)
}

// LoadSnapshot anchors the sequence cursor, seeds the sync set and
// count from the authoritative snapshot, and replays any events
// queued while the snapshot RPC was in flight. Every snapshot txid
// without an existing entry is seeded as Announced so that a
// subsequent backfill failure leaves it observably Announced rather
// than absent.
func (t *Tracker) LoadSnapshot(seq int64, txids []string) {
	t.exec(func() {
		t.sequenceCursor = seq
		t.idx.setCount(len(txids))
		for _, txid := range txids {
			t.idx.addSync(txid)
			if _, ok := t.idx.get(txid); !ok {
				t.idx.set(txid, &entry{kind: kindAnnounced})
			}
		}

		queued := t.queued
		t.queued = nil
		for _, qe := range queued {
			seq := qe.seq
			if qe.remove {
				t.dropLocked(qe.txid)
			} else {
				t.registerLocked(qe.txid, &seq, true)
			}
		}
	})
}

// MarkBackfillDone records that the reconciler has finished fetching
// bodies for every txid named by the snapshot.
func (t *Tracker) MarkBackfillDone() {
	t.exec(func() { t.backfillDone = true })
}

// BackfillDone reports whether the reconciler has finished the
// initial snapshot and batch backfill.
func (t *Tracker) BackfillDone() bool {
	var done bool
	t.exec(func() { done = t.backfillDone })
	return done
}

// GetCount returns the current live mempool transaction count.
func (t *Tracker) GetCount() int {
	return t.idx.getCount()
}

// GetStatus returns the externally visible lifecycle stage of a txid.
func (t *Tracker) GetStatus(txid string) Status {
	if t.idx.inBlock(txid) {
		return StatusBlock
	}
	e, ok := t.idx.get(txid)
	if !ok {
		return StatusNew
	}
	switch e.kind {
	case kindAnnounced:
		return StatusAnnounced
	case kindBodied:
		return StatusBodied
	case kindLive:
		return StatusLive
	case kindDropped:
		return StatusDropped
	default:
		return StatusNew
	}
}

// LookupSpend reports which live transaction, if any, spends the
// given outpoint. In personal mode the spend index is never
// populated, so this always returns false.
func (t *Tracker) LookupSpend(prevTxid string, prevVout uint32) (SpendResult, bool) {
	if t.profile != ProfilePublic {
		return SpendResult{}, false
	}
	so, ok := t.idx.lookupSpend(Outpoint{PrevTxid: prevTxid, PrevVout: prevVout})
	if !ok {
		return SpendResult{}, false
	}
	return SpendResult{Spender: so.spender, Index: so.index}, true
}
