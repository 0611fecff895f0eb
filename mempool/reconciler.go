package mempool

import (
	"context"
	"encoding/json"
	"time"
)

const (
	// backfillBatchSize is the number of txids requested per batched
	// get-raw-transaction call.
	backfillBatchSize = 50

	// interBatchDelay caps RPC pressure during backfill.
	interBatchDelay = 250 * time.Millisecond

	// snapshotRetryDelay is how long the reconciler sleeps before
	// retrying a failed snapshot RPC.
	snapshotRetryDelay = 10 * time.Second
)

// mempoolSnapshot is the decoded reply to the authoritative snapshot
// RPC: a sequence number anchoring subsequent stream events, and the
// full set of txids currently in the node's mempool.
type mempoolSnapshot struct {
	Sequence int64    `json:"mempool_sequence"`
	Txids    []string `json:"txids"`
}

// Reconciler drives the initial snapshot load, replay of events
// queued while it was in flight, and the batched backfill of
// transaction bodies for every txid the snapshot named.
type Reconciler struct {
	tracker *Tracker
	rpc     RPCClient
	decoder Decoder
	log     Logger
}

// NewReconciler wires a Reconciler to the tracker it feeds and the
// RPC/decoder collaborators it needs to fetch and parse bodies.
func NewReconciler(tracker *Tracker, rpc RPCClient, decoder Decoder, log Logger) *Reconciler {
	if log == nil {
		log = noopLogger{}
	}
	return &Reconciler{tracker: tracker, rpc: rpc, decoder: decoder, log: log}
}

// Run executes one full reconciliation pass: snapshot, queue replay,
// and batch backfill. It retries the snapshot RPC indefinitely on
// failure and returns only once backfill has completed or ctx is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	snap, err := r.fetchSnapshotWithRetry(ctx)
	if err != nil {
		return err
	}

	r.tracker.LoadSnapshot(snap.Sequence, snap.Txids)

	if err := r.backfill(ctx, snap.Txids); err != nil {
		return err
	}

	r.tracker.MarkBackfillDone()
	return nil
}

func (r *Reconciler) fetchSnapshotWithRetry(ctx context.Context) (*mempoolSnapshot, error) {
	for {
		snap, err := r.fetchSnapshot()
		if err == nil {
			return snap, nil
		}
		r.log.Errorf("snapshot rpc failed, retrying in %s: %v", snapshotRetryDelay, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(snapshotRetryDelay):
		}
	}
}

func (r *Reconciler) fetchSnapshot() (*mempoolSnapshot, error) {
	// getrawmempool(verbose=false, mempool_sequence=true) is the one
	// combination of bitcoind's flags that returns {txids,
	// mempool_sequence} rather than either a bare txid array or a
	// per-txid verbose object.
	res, err := r.rpc.Request("getrawmempool", false, true)
	if err != nil {
		return nil, err
	}

	var snap mempoolSnapshot
	if err := json.Unmarshal(res.Body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// backfill partitions txids into batches, fetches each batch's raw
// bodies, decodes and feeds every success into the tracker, and
// logs and skips partial failures.
func (r *Reconciler) backfill(ctx context.Context, txids []string) error {
	for start := 0; start < len(txids); start += backfillBatchSize {
		end := start + backfillBatchSize
		if end > len(txids) {
			end = len(txids)
		}
		batch := txids[start:end]

		r.backfillBatch(batch)

		if end >= len(txids) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interBatchDelay):
		}
	}
	return nil
}

func (r *Reconciler) backfillBatch(txids []string) {
	items := make([]BatchItem, len(txids))
	for i, txid := range txids {
		items[i] = BatchItem{Method: "getrawtransaction", Params: []interface{}{txid, false}}
	}

	results, err := r.rpc.BatchRequest(items, false)
	if err != nil {
		r.log.Errorf("batch backfill rpc failed for %d txids: %v", len(txids), err)
		return
	}

	var failures int
	for i, res := range results {
		if res.Err != nil {
			failures++
			continue
		}

		tx, err := r.decoder.Decode(res.Result)
		if err != nil {
			failures++
			r.log.Errorf("failed to decode backfilled tx %s: %v", txids[i], err)
			continue
		}

		r.tracker.Register(tx.Txid, nil, false)
		r.tracker.Insert(tx.Txid, tx)
	}

	if failures > 0 {
		r.log.Warnf("%d/%d backfill entries failed and remain announced-only",
			failures, len(txids))
	}
}
