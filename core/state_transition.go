package core

import (
	"bytes"
	"encoding/json"
	"fmt"

	"auctionchain/core/state"
	"auctionchain/core/types"
	"auctionchain/storage"
)

// StateProcessor validates and applies transactions against a fork. One
// entry point exists per transaction kind; all of them return either nil or
// a typed *state.ExecutionError. Callers own the fork lifecycle: on failure
// the fork must be discarded so that nothing the transaction wrote survives.
//
// Execution is strictly single-threaded: the node delivers one transaction
// at a time in block order, which is what keeps the escrow transitions safe
// without locking.
type StateProcessor struct{}

// NewStateProcessor creates a transaction executor.
func NewStateProcessor() *StateProcessor {
	return &StateProcessor{}
}

// ApplyTransaction dispatches the transaction to its handler. The caller
// must have verified the transaction's signature; unverifiable transactions
// never reach this point.
func (sp *StateProcessor) ApplyTransaction(fork *storage.Fork, tx *types.Transaction) error {
	schema := state.NewMutableSchema(fork)
	switch tx.Type {
	case types.TxTypeCreateWallet:
		return sp.applyCreateWallet(schema, tx)
	case types.TxTypeCreateLot:
		return sp.applyCreateLot(schema, tx)
	case types.TxTypePlaceBid:
		return sp.applyPlaceBid(schema, tx)
	default:
		return fmt.Errorf("unknown transaction type: %d", tx.Type)
	}
}

func (sp *StateProcessor) applyCreateWallet(schema *state.MutableSchema, tx *types.Transaction) error {
	payload := new(types.CreateWalletPayload)
	if err := json.Unmarshal(tx.Data, payload); err != nil {
		return fmt.Errorf("decode create wallet payload: %w", err)
	}

	existing, err := schema.Wallet(tx.Sender)
	if err != nil {
		return err
	}
	if existing != nil {
		return state.ErrWalletAlreadyExists
	}
	return schema.CreateWallet(tx.Sender, payload.Name, payload.Balance)
}

func (sp *StateProcessor) applyCreateLot(schema *state.MutableSchema, tx *types.Transaction) error {
	payload := new(types.CreateLotPayload)
	if err := json.Unmarshal(tx.Data, payload); err != nil {
		return fmt.Errorf("decode create lot payload: %w", err)
	}

	wallet, err := schema.Wallet(tx.Sender)
	if err != nil {
		return err
	}
	if wallet == nil {
		return state.ErrWalletNotFound
	}

	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	return schema.CreateLot(tx.Sender, payload.Name, payload.MinBid, hash)
}

func (sp *StateProcessor) applyPlaceBid(schema *state.MutableSchema, tx *types.Transaction) error {
	payload := new(types.PlaceBidPayload)
	if err := json.Unmarshal(tx.Data, payload); err != nil {
		return fmt.Errorf("decode place bid payload: %w", err)
	}

	lot, err := schema.Lot(payload.Lot)
	if err != nil {
		return err
	}
	if lot == nil {
		return state.ErrLotNotFound
	}
	if payload.Amount < lot.MinBid {
		return state.ErrBidTooLow
	}
	if bytes.Equal(lot.Owner, tx.Sender) {
		return state.ErrBiddingNotAllowedOnOwnLot
	}

	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	return schema.PlaceBid(tx.Sender, lot.ID, payload.Amount, hash)
}
