package txdecoder

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func buildTx(t *testing.T, prevTxid string, prevVout uint32, outValues ...int64) []byte {
	t.Helper()

	prevHash, err := chainhash.NewHashFromStr(prevTxid)
	if err != nil {
		t.Fatalf("parsing prev txid: %v", err)
	}

	msgTx := wire.NewMsgTx(wire.TxVersion)
	msgTx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(prevHash, prevVout), nil, nil,
	))
	for _, v := range outValues {
		msgTx.AddTxOut(wire.NewTxOut(v, nil))
	}

	var buf bytes.Buffer
	if err := msgTx.Serialize(&buf); err != nil {
		t.Fatalf("serializing tx: %v", err)
	}
	return buf.Bytes()
}

type fakeFetcher struct {
	values map[string]int64
}

func (f fakeFetcher) PrevOutValue(txid string, vout uint32) (int64, bool) {
	v, ok := f.values[txid]
	return v, ok
}

func TestDecodeWithoutFetcher(t *testing.T) {
	prevTxid := "a000000000000000000000000000000000000000000000000000000000000000"
	raw := buildTx(t, prevTxid, 0, 100, 200)

	d := New(nil)
	tx, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if tx.Value != 300 {
		t.Fatalf("value = %d, want 300", tx.Value)
	}
	if tx.Fee != 0 {
		t.Fatalf("fee = %d, want 0 without a prevout fetcher", tx.Fee)
	}
	if len(tx.Inputs) != 1 {
		t.Fatalf("inputs = %d, want 1", len(tx.Inputs))
	}
	if tx.Inputs[0].PrevVout != 0 {
		t.Fatalf("prev vout = %d, want 0", tx.Inputs[0].PrevVout)
	}
	if len(tx.Inflated) != len(raw) {
		t.Fatalf("inflated payload not retained verbatim")
	}
}

func TestDecodeComputesFeeWithFetcher(t *testing.T) {
	prevTxid := "a000000000000000000000000000000000000000000000000000000000000000"
	raw := buildTx(t, prevTxid, 2, 90)

	fetcher := fakeFetcher{values: map[string]int64{prevTxid: 100}}
	d := New(fetcher)

	tx, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tx.Value != 90 {
		t.Fatalf("value = %d, want 90", tx.Value)
	}
	if tx.Fee != 10 {
		t.Fatalf("fee = %d, want 10", tx.Fee)
	}
}

func TestDecodeMissingPrevOutLeavesFeeZero(t *testing.T) {
	prevTxid := "a000000000000000000000000000000000000000000000000000000000000000"
	raw := buildTx(t, prevTxid, 0, 90)

	fetcher := fakeFetcher{values: map[string]int64{}}
	d := New(fetcher)

	tx, err := d.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tx.Fee != 0 {
		t.Fatalf("fee = %d, want 0 when a prevout can't be resolved", tx.Fee)
	}
}

func TestDecodeInvalidPayload(t *testing.T) {
	d := New(nil)
	if _, err := d.Decode([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected error decoding garbage payload")
	}
}

func TestDecodeBlock(t *testing.T) {
	prevTxid := "a000000000000000000000000000000000000000000000000000000000000000"
	raw1 := buildTx(t, prevTxid, 0, 10)

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw1)); err != nil {
		t.Fatalf("deserializing fixture: %v", err)
	}

	msgBlock := wire.NewMsgBlock(&wire.BlockHeader{})
	if err := msgBlock.AddTransaction(&tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	var buf bytes.Buffer
	if err := msgBlock.Serialize(&buf); err != nil {
		t.Fatalf("serializing block: %v", err)
	}

	d := New(nil)
	block, err := d.DecodeBlock(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if len(block.Txids) != 1 {
		t.Fatalf("txids = %d, want 1", len(block.Txids))
	}
	if block.Txids[0] != tx.TxHash().String() {
		t.Fatalf("txid = %s, want %s", block.Txids[0], tx.TxHash().String())
	}
}
