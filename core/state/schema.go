package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"auctionchain/core/types"
	"auctionchain/storage"
)

// Container prefixes. Bid entries use big-endian indexes so LevelDB key
// order matches append order.
var (
	walletPrefix   = []byte("wallet/")
	lotPrefix      = []byte("lot/")
	bidPrefix      = []byte("bid/")
	bidLenPrefix   = []byte("bidlen/")
	walletIndexKey = []byte("walletindex")
)

func walletKey(addr []byte) []byte {
	return append(append([]byte(nil), walletPrefix...), addr...)
}

func lotKey(id []byte) []byte {
	return append(append([]byte(nil), lotPrefix...), id...)
}

func bidLenKey(lotID []byte) []byte {
	return append(append([]byte(nil), bidLenPrefix...), lotID...)
}

func bidKey(lotID []byte, index uint64) []byte {
	key := make([]byte, 0, len(bidPrefix)+len(lotID)+1+8)
	key = append(key, bidPrefix...)
	key = append(key, lotID...)
	key = append(key, '/')
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	return append(key, idx[:]...)
}

// Schema exposes the auction containers (wallets, lots, per-lot bid
// sequences) over any storage view: the store itself, a snapshot, or a fork
// mid-execution.
type Schema struct {
	view storage.View
}

// NewSchema creates a read-only schema over the given view.
func NewSchema(view storage.View) *Schema {
	return &Schema{view: view}
}

// Wallet returns the wallet stored for the address, or nil when absent.
func (s *Schema) Wallet(addr []byte) (*types.Wallet, error) {
	data, err := s.view.Get(walletKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wallet := new(types.Wallet)
	if err := rlp.DecodeBytes(data, wallet); err != nil {
		return nil, fmt.Errorf("decode wallet: %w", err)
	}
	return wallet, nil
}

// Lot returns the lot stored for the identifier, or nil when absent.
func (s *Schema) Lot(id []byte) (*types.Lot, error) {
	data, err := s.view.Get(lotKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lot := new(types.Lot)
	if err := rlp.DecodeBytes(data, lot); err != nil {
		return nil, fmt.Errorf("decode lot: %w", err)
	}
	return lot, nil
}

// BidCount returns the length of a lot's bid sequence.
func (s *Schema) BidCount(lotID []byte) (uint64, error) {
	data, err := s.view.Get(bidLenKey(lotID))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(data), nil
}

// BidAt returns the bid at the given position in a lot's sequence.
func (s *Schema) BidAt(lotID []byte, index uint64) (*types.Bid, error) {
	data, err := s.view.Get(bidKey(lotID, index))
	if err != nil {
		return nil, err
	}
	bid := new(types.Bid)
	if err := rlp.DecodeBytes(data, bid); err != nil {
		return nil, fmt.Errorf("decode bid: %w", err)
	}
	return bid, nil
}

// BidHistory returns a lot's full bid sequence in placement order. The
// result is empty both for a lot without bids and for an unknown lot; the
// read path does not distinguish the two.
func (s *Schema) BidHistory(lotID []byte) ([]types.Bid, error) {
	count, err := s.BidCount(lotID)
	if err != nil {
		return nil, err
	}
	bids := make([]types.Bid, 0, count)
	for i := uint64(0); i < count; i++ {
		bid, err := s.BidAt(lotID, i)
		if err != nil {
			return nil, err
		}
		bids = append(bids, *bid)
	}
	return bids, nil
}

// LastBid returns the active bid of a lot: the last entry of its sequence.
// It returns nil when the lot does not exist or has no bids yet.
func (s *Schema) LastBid(lotID []byte) (*types.Bid, error) {
	lot, err := s.Lot(lotID)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		return nil, nil
	}
	count, err := s.BidCount(lotID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	return s.BidAt(lotID, count-1)
}

// walletIndex returns the sorted list of known wallet addresses. The index
// is maintained at creation time so the digest can be computed on any view,
// forks included.
func (s *Schema) walletIndex() ([][]byte, error) {
	data, err := s.view.Get(walletIndexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var index [][]byte
	if err := rlp.DecodeBytes(data, &index); err != nil {
		return nil, fmt.Errorf("decode wallet index: %w", err)
	}
	return index, nil
}

// WalletsRoot computes the published state digest. Only the wallet container
// contributes; lots and bid sequences are not covered.
func (s *Schema) WalletsRoot() ([]byte, error) {
	index, err := s.walletIndex()
	if err != nil {
		return nil, err
	}
	var acc []byte
	for _, addr := range index {
		data, err := s.view.Get(walletKey(addr))
		if err != nil {
			return nil, err
		}
		acc = append(acc, ethcrypto.Keccak256(addr, data)...)
	}
	return ethcrypto.Keccak256(acc), nil
}

// MutableSchema extends Schema with the mutations used by the transaction
// executor. All writes accumulate on the underlying fork and become durable
// only when the fork commits.
type MutableSchema struct {
	Schema
	fork *storage.Fork
}

// NewMutableSchema creates a schema whose writes go to the given fork.
func NewMutableSchema(fork *storage.Fork) *MutableSchema {
	return &MutableSchema{Schema: Schema{view: fork}, fork: fork}
}

// PutWallet persists a wallet record.
func (s *MutableSchema) PutWallet(wallet *types.Wallet) error {
	data, err := rlp.EncodeToBytes(wallet)
	if err != nil {
		return fmt.Errorf("encode wallet: %w", err)
	}
	s.fork.Put(walletKey(wallet.Address), data)
	return nil
}

// CreateWallet inserts a new wallet with the given name and starting
// balance and records its address in the wallet index. Nothing is ever
// frozen at creation.
func (s *MutableSchema) CreateWallet(addr []byte, name string, balance uint64) error {
	if err := s.indexWallet(addr); err != nil {
		return err
	}
	return s.PutWallet(&types.Wallet{
		Address: append([]byte(nil), addr...),
		Name:    name,
		Balance: balance,
	})
}

// indexWallet inserts the address into the sorted wallet index.
func (s *MutableSchema) indexWallet(addr []byte) error {
	index, err := s.walletIndex()
	if err != nil {
		return err
	}
	pos := sort.Search(len(index), func(i int) bool {
		return bytes.Compare(index[i], addr) >= 0
	})
	index = append(index, nil)
	copy(index[pos+1:], index[pos:])
	index[pos] = append([]byte(nil), addr...)

	encoded, err := rlp.EncodeToBytes(index)
	if err != nil {
		return fmt.Errorf("encode wallet index: %w", err)
	}
	s.fork.Put(walletIndexKey, encoded)
	return nil
}

// CreateLot inserts a new lot keyed by the hash of its creating transaction.
func (s *MutableSchema) CreateLot(owner []byte, name string, minBid uint64, id []byte) error {
	lot := &types.Lot{
		Owner:  append([]byte(nil), owner...),
		Name:   name,
		MinBid: minBid,
		ID:     append([]byte(nil), id...),
	}
	data, err := rlp.EncodeToBytes(lot)
	if err != nil {
		return fmt.Errorf("encode lot: %w", err)
	}
	s.fork.Put(lotKey(id), data)
	return nil
}

// AppendBid appends a bid to a lot's sequence. Bids are never removed or
// mutated once appended.
func (s *MutableSchema) AppendBid(lotID []byte, bid *types.Bid) error {
	count, err := s.BidCount(lotID)
	if err != nil {
		return err
	}
	data, err := rlp.EncodeToBytes(bid)
	if err != nil {
		return fmt.Errorf("encode bid: %w", err)
	}
	s.fork.Put(bidKey(lotID, count), data)

	var length [8]byte
	binary.BigEndian.PutUint64(length[:], count+1)
	s.fork.Put(bidLenKey(lotID), length[:])
	return nil
}

// FreezeWallet moves amount from the wallet's spendable balance into escrow
// and persists the update. Fails with ErrInsufficientCurrencyAmount when the
// balance does not cover the amount.
func (s *MutableSchema) FreezeWallet(wallet *types.Wallet, amount uint64) error {
	if wallet.Balance < amount {
		return ErrInsufficientCurrencyAmount
	}
	wallet.Balance -= amount
	wallet.Frozen += amount
	return s.PutWallet(wallet)
}

// ReleaseWallet returns escrowed funds to the wallet's spendable balance and
// persists the update. The released amount is clamped to the frozen total so
// Frozen never goes negative.
func (s *MutableSchema) ReleaseWallet(wallet *types.Wallet, amount uint64) error {
	released := amount
	if wallet.Frozen < released {
		released = wallet.Frozen
	}
	wallet.Balance += released
	wallet.Frozen -= released
	return s.PutWallet(wallet)
}

// PlaceBid applies the escrow transition for a new bid on the fork: release
// the previous active bid's escrow in full, freeze the new amount from the
// bidder and append the bid to the lot's sequence. Any failure leaves the
// fork to be discarded by the caller, rolling back the release along with
// everything else.
func (s *MutableSchema) PlaceBid(owner, lotID []byte, amount uint64, txHash []byte) error {
	last, err := s.LastBid(lotID)
	if err != nil {
		return err
	}
	if last != nil {
		if amount <= last.Amount {
			return ErrBidTooLow
		}
		prev, err := s.Wallet(last.Owner)
		if err != nil {
			return err
		}
		// A vanished previous bidder forfeits the release; nothing to do.
		if prev != nil {
			if err := s.ReleaseWallet(prev, last.Amount); err != nil {
				return err
			}
		}
	}

	wallet, err := s.Wallet(owner)
	if err != nil {
		return err
	}
	if wallet == nil {
		// A missing bidder wallet reports the same failure as an empty one.
		return ErrInsufficientCurrencyAmount
	}
	if err := s.FreezeWallet(wallet, amount); err != nil {
		return err
	}

	return s.AppendBid(lotID, &types.Bid{
		Owner:  append([]byte(nil), owner...),
		Amount: amount,
		TxHash: append([]byte(nil), txHash...),
	})
}
