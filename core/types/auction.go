package types

// Wallet is a participant's named balance. Balance holds spendable funds,
// Frozen the amount currently escrowed against the wallet's active bid.
// Balance+Frozen is conserved across every mutation after creation: funds
// only ever move between the two fields of the same wallet.
type Wallet struct {
	Address []byte `json:"address"`
	Name    string `json:"name"`
	Balance uint64 `json:"balance"`
	Frozen  uint64 `json:"frozen"`
}

// Lot is a single auction lot. Its identifier is the hash of the transaction
// that created it, stored redundantly so later operations can refer back to
// it. Lots are immutable once created.
type Lot struct {
	Owner  []byte `json:"owner"`
	Name   string `json:"name"`
	MinBid uint64 `json:"minBid"`
	ID     []byte `json:"id"`
}

// Bid is one entry in a lot's append-only bid sequence. The last entry is
// the active bid, the only one holding escrowed funds.
type Bid struct {
	Owner  []byte `json:"owner"`
	Amount uint64 `json:"amount"`
	TxHash []byte `json:"txHash"`
}
