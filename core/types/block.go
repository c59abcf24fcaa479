package types

import (
	"crypto/sha256"
	"encoding/json"
)

// BlockHeader carries a sealed block's metadata and the commitments derived
// from its content. WalletsRoot digests only the wallet container; lots and
// bid sequences are not covered by any published digest.
type BlockHeader struct {
	Height      uint64 `json:"height"`
	Timestamp   int64  `json:"timestamp"`
	PrevHash    []byte `json:"prevHash"`
	TxRoot      []byte `json:"txRoot"`
	WalletsRoot []byte `json:"walletsRoot"`
	Validator   []byte `json:"validator"`
}

// Block is an ordered batch of transactions whose effects were committed to
// the ledger as a unit.
type Block struct {
	Header       *BlockHeader
	Transactions []*Transaction
}

// NewBlock creates a new block from a header and a set of transactions.
func NewBlock(header *BlockHeader, txs []*Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

// Hash calculates the SHA-256 hash of the block header, the block's unique
// identifier.
func (h *BlockHeader) Hash() ([]byte, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}
