package mempool

import "sync"

// indices bundles the mempool, sync, and block keyed sets plus the
// spend-provenance map. The state machine is the only writer; it
// takes the same lock readers do so that a query always observes a
// consistent (entry, count) pair.
type indices struct {
	mu sync.RWMutex

	mempool map[string]*entry
	sync    map[string]struct{}
	block   map[string]struct{}
	spend   map[Outpoint]spendOwner

	count int
}

func newIndices() *indices {
	return &indices{
		mempool: make(map[string]*entry),
		sync:    make(map[string]struct{}),
		block:   make(map[string]struct{}),
		spend:   make(map[Outpoint]spendOwner),
	}
}

func (ix *indices) get(txid string) (*entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.mempool[txid]
	return e, ok
}

func (ix *indices) set(txid string, e *entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.mempool[txid] = e
}

func (ix *indices) delete(txid string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.mempool, txid)
}

func (ix *indices) inSync(txid string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.sync[txid]
	return ok
}

func (ix *indices) addSync(txid string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.sync[txid] = struct{}{}
}

func (ix *indices) removeSync(txid string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.sync, txid)
}

func (ix *indices) inBlock(txid string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.block[txid]
	return ok
}

// resetBlockSet clears the block set and reinserts the given txids in
// a single critical section, so the update is atomic with respect to
// concurrent readers.
func (ix *indices) resetBlockSet(txids []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.block = make(map[string]struct{}, len(txids))
	for _, txid := range txids {
		ix.block[txid] = struct{}{}
	}
}

func (ix *indices) cacheSpends(spender string, inputs []Input) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, in := range inputs {
		op := Outpoint{PrevTxid: in.PrevTxid, PrevVout: in.PrevVout}
		ix.spend[op] = spendOwner{spender: spender, index: uint32(i)}
	}
}

// uncacheSpends removes every spend-index row owned by the given
// inputs.
func (ix *indices) uncacheSpends(inputs []Input) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, in := range inputs {
		delete(ix.spend, Outpoint{PrevTxid: in.PrevTxid, PrevVout: in.PrevVout})
	}
}

func (ix *indices) lookupSpend(op Outpoint) (spendOwner, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	so, ok := ix.spend[op]
	return so, ok
}

func (ix *indices) getCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.count
}

func (ix *indices) incCount() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.count++
}

func (ix *indices) decCount() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.count--
}

func (ix *indices) setCount(n int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.count = n
}
