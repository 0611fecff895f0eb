package mempool

// Outpoint identifies a previous transaction output by its containing
// txid and output index. It is the key of the spend index.
type Outpoint struct {
	PrevTxid string
	PrevVout uint32
}

// Input is a single transaction input as decoded from the wire.
type Input struct {
	PrevTxid string
	PrevVout uint32
}

// Tx is the canonical transaction record produced by a Decoder. Value
// and Fee are expressed in satoshis; Value is the sum of the
// transaction's outputs and Fee is the miner fee paid by its inputs.
// Inflated is an opaque payload the decoder attaches for publication
// and is never interpreted by the state machine.
type Tx struct {
	Txid     string
	Inputs   []Input
	Value    int64
	Fee      int64
	Inflated []byte
}

// Status is the externally visible lifecycle stage of a txid, as
// returned by GetStatus. It collapses the internal entry variants
// into the vocabulary a caller can act on.
type Status int

const (
	// StatusNew means the tracker has never seen this txid.
	StatusNew Status = iota
	StatusAnnounced
	StatusBodied
	StatusLive
	StatusDropped
	StatusBlock
)

func (s Status) String() string {
	switch s {
	case StatusAnnounced:
		return "announced"
	case StatusBodied:
		return "bodied"
	case StatusLive:
		return "live"
	case StatusDropped:
		return "dropped"
	case StatusBlock:
		return "block"
	default:
		return "new"
	}
}

// entryKind tags the variant held by a mempool entry. Kept distinct
// from Status, which also covers txids with no entry (new) and txids
// in the block set (block).
type entryKind uint8

const (
	kindAnnounced entryKind = iota
	kindBodied
	kindLive
	kindDropped
)

// entry is the value stored for a txid in the mempool index. Only
// the fields relevant to its kind are populated; the comment on each
// field names the kinds it is meaningful for.
type entry struct {
	kind entryKind

	// bodied / live
	tx *Tx

	// live only
	totalIn int64
}

// spendOwner is the value stored in the spend index: which live
// transaction, and at which input position, spends a given outpoint.
type spendOwner struct {
	spender string
	index   uint32
}

// Block is the decoded raw-block payload the block applier consumes:
// just the set of txids it confirms.
type Block struct {
	Txids []string
}

// SpendResult is returned by LookupSpend.
type SpendResult struct {
	Spender string
	Index   uint32
}
