package mempool

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/breez/mempooltracker/queue"
)

// Sequence-stream events are framed the way bitcoind's zmqpubsequence
// publisher frames them: a 32-byte block/tx hash in internal byte
// order, a one-byte label, and — for mempool add/remove events only —
// an 8-byte little-endian mempool sequence number.
const (
	seqLabelMempoolAdd    = 'A'
	seqLabelMempoolRemove = 'R'
	seqLabelBlockConnect  = 'C'
	seqLabelBlockDisconn  = 'D'
)

// Dispatcher demultiplexes the three node notification streams onto
// Tracker operations. Each stream is fed through its own
// ConcurrentQueue so a slow decoder never backpressures the
// transport's read loop; messages dropped at the transport boundary
// are recovered by the next periodic resync.
type Dispatcher struct {
	source       NotificationSource
	tracker      *Tracker
	decoder      Decoder
	blockDecoder BlockDecoder
	log          Logger

	seqQueue   *queue.ConcurrentQueue
	rawTxQueue *queue.ConcurrentQueue
	blockQueue *queue.ConcurrentQueue

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher wires a Dispatcher to its transport and decoding
// collaborators.
func NewDispatcher(source NotificationSource, tracker *Tracker, decoder Decoder,
	blockDecoder BlockDecoder, log Logger) *Dispatcher {

	if log == nil {
		log = noopLogger{}
	}
	return &Dispatcher{
		source:       source,
		tracker:      tracker,
		decoder:      decoder,
		blockDecoder: blockDecoder,
		log:          log,
		seqQueue:     queue.NewConcurrentQueue(50),
		rawTxQueue:   queue.NewConcurrentQueue(50),
		blockQueue:   queue.NewConcurrentQueue(10),
	}
}

// Start subscribes to all three streams and launches the goroutines
// that drain them. It returns once every subscription has succeeded.
// The caller's ctx is wrapped in one Start/Stop owns, so Stop can
// unblock the drain goroutines on its own even if the caller never
// cancels ctx itself.
func (d *Dispatcher) Start(ctx context.Context) error {
	seqCh, err := d.source.Subscribe(StreamSequence)
	if err != nil {
		return err
	}
	rawTxCh, err := d.source.Subscribe(StreamRawTx)
	if err != nil {
		return err
	}
	rawBlockCh, err := d.source.Subscribe(StreamRawBlock)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.seqQueue.Start()
	d.rawTxQueue.Start()
	d.blockQueue.Start()

	d.wg.Add(6)
	go d.pump(runCtx, seqCh, d.seqQueue)
	go d.pump(runCtx, rawTxCh, d.rawTxQueue)
	go d.pump(runCtx, rawBlockCh, d.blockQueue)
	go d.consumeSequence(runCtx)
	go d.consumeRawTx(runCtx)
	go d.consumeRawBlock(runCtx)

	return nil
}

// Stop cancels the internal context driving every drain goroutine,
// tears down the queues, and waits for everything to exit. The
// transport's Subscribe channels are owned by the source and are not
// closed here; the drain goroutines exit on context cancellation.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.seqQueue.Stop()
	d.rawTxQueue.Stop()
	d.blockQueue.Stop()
	d.wg.Wait()
}

// pump relays raw payloads from a transport channel onto its
// matching ConcurrentQueue, so the transport's read loop never blocks
// on the (possibly slower) decode-and-apply path.
func (d *Dispatcher) pump(ctx context.Context, in <-chan []byte, q *queue.ConcurrentQueue) {
	defer d.wg.Done()
	for {
		select {
		case payload, ok := <-in:
			if !ok {
				return
			}
			q.ChanIn() <- payload
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) consumeSequence(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case item, ok := <-d.seqQueue.ChanOut():
			if !ok {
				return
			}
			d.handleSequence(item.([]byte))
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) handleSequence(raw []byte) {
	if len(raw) < 33 {
		d.log.Errorf("sequence message too short: %d bytes", len(raw))
		return
	}

	txid := reverseHex(raw[:32])
	label := raw[32]

	switch label {
	case seqLabelMempoolAdd:
		if len(raw) < 41 {
			d.log.Errorf("mempool-add sequence message missing sequence number for %s", txid)
			return
		}
		seq := int64(binary.LittleEndian.Uint64(raw[33:41]))
		d.tracker.Register(txid, &seq, true)

	case seqLabelMempoolRemove:
		d.tracker.Drop(txid)

	case seqLabelBlockConnect, seqLabelBlockDisconn:
		// Block connect/disconnect events ride the same stream but
		// are redundant with the raw-block subscription; the block
		// applier is driven from there instead.

	default:
		d.log.Warnf("unrecognized sequence label %q for %s", label, txid)
	}
}

// reverseHex renders a wire-order hash (little-endian) in the
// reversed big-endian hex form txids are conventionally displayed in.
func reverseHex(hash []byte) string {
	rev := make([]byte, len(hash))
	for i, b := range hash {
		rev[len(hash)-1-i] = b
	}
	return fmt.Sprintf("%x", rev)
}

func (d *Dispatcher) consumeRawTx(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case item, ok := <-d.rawTxQueue.ChanOut():
			if !ok {
				return
			}
			d.handleRawTx(item.([]byte))
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) handleRawTx(raw []byte) {
	tx, err := d.decoder.Decode(raw)
	if err != nil {
		d.log.Errorf("failed to decode raw transaction: %v", err)
		return
	}
	d.tracker.Insert(tx.Txid, tx)
}

func (d *Dispatcher) consumeRawBlock(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case item, ok := <-d.blockQueue.ChanOut():
			if !ok {
				return
			}
			d.handleRawBlock(item.([]byte))
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) handleRawBlock(raw []byte) {
	block, err := d.blockDecoder.DecodeBlock(raw)
	if err != nil {
		d.log.Errorf("failed to decode raw block: %v", err)
		return
	}
	d.tracker.ApplyBlock(block)
}
