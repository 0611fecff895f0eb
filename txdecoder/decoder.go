// Package txdecoder turns the raw bytes carried on the raw-transaction
// and raw-block ZMQ streams into the canonical records the mempool
// package's state machine understands, using btcd's wire and
// chainhash packages the way this codebase decodes transactions
// throughout daemon/ and lnwallet/.
package txdecoder

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/breez/mempooltracker/mempool"
)

// PrevOutFetcher looks up the value of a previously-confirmed or
// still-mempooled output, used to compute a transaction's fee. A nil
// PrevOutFetcher is valid; Fee is then left at zero, which is
// acceptable since fee estimation is outside this tracker's scope —
// value and topology are what the state machine actually needs.
type PrevOutFetcher interface {
	PrevOutValue(txid string, vout uint32) (int64, bool)
}

// Decoder implements mempool.Decoder and mempool.BlockDecoder over
// btcd's wire.MsgTx/wire.MsgBlock.
type Decoder struct {
	prevOuts PrevOutFetcher
}

// New constructs a Decoder. fetcher may be nil.
func New(fetcher PrevOutFetcher) *Decoder {
	return &Decoder{prevOuts: fetcher}
}

// Decode implements mempool.Decoder, producing the canonical
// transaction record: txid, inputs, value, fee, and the raw payload.
func (d *Decoder) Decode(raw []byte) (*mempool.Tx, error) {
	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("decoding transaction: %w", err)
	}

	inputs := make([]mempool.Input, len(msgTx.TxIn))
	var totalIn int64
	haveAllPrevOuts := d.prevOuts != nil
	for i, in := range msgTx.TxIn {
		prevTxid := in.PreviousOutPoint.Hash.String()
		prevVout := in.PreviousOutPoint.Index
		inputs[i] = mempool.Input{PrevTxid: prevTxid, PrevVout: prevVout}

		if !haveAllPrevOuts {
			continue
		}
		val, ok := d.prevOuts.PrevOutValue(prevTxid, prevVout)
		if !ok {
			haveAllPrevOuts = false
			continue
		}
		totalIn += val
	}

	var value int64
	for _, out := range msgTx.TxOut {
		value += out.Value
	}

	var fee int64
	if haveAllPrevOuts {
		fee = totalIn - value
	}

	return &mempool.Tx{
		Txid:     msgTx.TxHash().String(),
		Inputs:   inputs,
		Value:    value,
		Fee:      fee,
		Inflated: raw,
	}, nil
}

// DecodeBlock implements mempool.BlockDecoder, turning a raw block
// payload into the ordered set of txids it confirms.
func (d *Decoder) DecodeBlock(raw []byte) (*mempool.Block, error) {
	var msgBlock wire.MsgBlock
	if err := msgBlock.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("decoding block: %w", err)
	}

	txids := make([]string, len(msgBlock.Transactions))
	for i, tx := range msgBlock.Transactions {
		txids[i] = tx.TxHash().String()
	}

	return &mempool.Block{Txids: txids}, nil
}
