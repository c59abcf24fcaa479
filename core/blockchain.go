package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"auctionchain/core/types"
	"auctionchain/storage"
)

var (
	blockPrefix    = []byte("block/")
	heightPrefix   = []byte("blockheight/")
	txResultPrefix = []byte("txresult/")
	tipKey         = []byte("chain/tip")
	genesisKey     = []byte("chain/genesis")
)

// ErrBlockNotFound is returned when no block exists for the requested hash
// or height.
var ErrBlockNotFound = errors.New("block not found")

// TxResult records the outcome of an executed transaction inside its sealed
// block. Failed transactions stay in the block; the ledger state is as if
// they never ran.
type TxResult struct {
	Height      uint64 `json:"height"`
	OK          bool   `json:"ok"`
	Code        *uint8 `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Blockchain persists sealed blocks, the height index and per-transaction
// results. Block writes go through the same fork that carries the block's
// state mutations, so a block and its effects become durable together.
type Blockchain struct {
	store *storage.Store

	mu     sync.RWMutex
	tip    []byte
	height uint64
}

func blockKey(hash []byte) []byte {
	return append(append([]byte(nil), blockPrefix...), hash...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, 0, len(heightPrefix)+8)
	key = append(key, heightPrefix...)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], height)
	return append(key, idx[:]...)
}

func txResultKey(txHash []byte) []byte {
	return append(append([]byte(nil), txResultPrefix...), txHash...)
}

// NewBlockchain opens the chain over the given store, creating the genesis
// block on first start.
func NewBlockchain(store *storage.Store) (*Blockchain, error) {
	bc := &Blockchain{store: store}

	tipHash, err := store.Get(tipKey)
	if errors.Is(err, storage.ErrNotFound) {
		return bc, bc.writeGenesis()
	}
	if err != nil {
		return nil, err
	}

	block, err := bc.GetBlockByHash(tipHash)
	if err != nil {
		return nil, fmt.Errorf("load tip block: %w", err)
	}
	bc.tip = tipHash
	bc.height = block.Header.Height
	return bc, nil
}

func (bc *Blockchain) writeGenesis() error {
	genesis := types.NewBlock(&types.BlockHeader{Height: 0}, nil)
	hash, err := genesis.Header.Hash()
	if err != nil {
		return err
	}
	data, err := json.Marshal(genesis)
	if err != nil {
		return err
	}

	fork := bc.store.Fork()
	fork.Put(blockKey(hash), data)
	fork.Put(heightKey(0), hash)
	fork.Put(genesisKey, hash)
	fork.Put(tipKey, hash)
	if err := fork.Commit(); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}

	bc.tip = hash
	bc.height = 0
	return nil
}

// AppendBlock stages a sealed block, its height index entry and the
// per-transaction results on the given fork. The caller commits the fork
// and then calls advanceTip.
func (bc *Blockchain) AppendBlock(fork *storage.Fork, b *types.Block, results map[string]TxResult) error {
	bc.mu.RLock()
	tip := bc.tip
	bc.mu.RUnlock()

	if string(b.Header.PrevHash) != string(tip) {
		return fmt.Errorf("block prevhash mismatch at height %d", b.Header.Height)
	}

	hash, err := b.Header.Hash()
	if err != nil {
		return err
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	fork.Put(blockKey(hash), data)
	fork.Put(heightKey(b.Header.Height), hash)
	fork.Put(tipKey, hash)

	for txHash, result := range results {
		encoded, err := json.Marshal(result)
		if err != nil {
			return err
		}
		fork.Put(txResultKey([]byte(txHash)), encoded)
	}
	return nil
}

// advanceTip records the committed block as the new chain head.
func (bc *Blockchain) advanceTip(b *types.Block) error {
	hash, err := b.Header.Hash()
	if err != nil {
		return err
	}
	bc.mu.Lock()
	bc.tip = hash
	bc.height = b.Header.Height
	bc.mu.Unlock()
	return nil
}

// Tip returns the hash of the current chain head.
func (bc *Blockchain) Tip() []byte {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return append([]byte(nil), bc.tip...)
}

// GetHeight returns the height of the current chain head.
func (bc *Blockchain) GetHeight() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.height
}

// GetBlockByHash retrieves a block by its header hash.
func (bc *Blockchain) GetBlockByHash(hash []byte) (*types.Block, error) {
	data, err := bc.store.Get(blockKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}
	block := new(types.Block)
	if err := json.Unmarshal(data, block); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return block, nil
}

// GetBlockByHeight retrieves a block through the height index.
func (bc *Blockchain) GetBlockByHeight(height uint64) (*types.Block, error) {
	hash, err := bc.store.Get(heightKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, err
	}
	return bc.GetBlockByHash(hash)
}

// BlockTransactionIDs returns the ordered transaction hashes of the sealed
// block at the given height. The synchronous submission path uses it to
// check inclusion.
func (bc *Blockchain) BlockTransactionIDs(height uint64) ([][]byte, error) {
	block, err := bc.GetBlockByHeight(height)
	if err != nil {
		return nil, err
	}
	ids := make([][]byte, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		hash, err := tx.Hash()
		if err != nil {
			return nil, err
		}
		ids = append(ids, hash)
	}
	return ids, nil
}

// TxResultByHash returns the recorded outcome of a transaction, or nil when
// the transaction has not been included in a sealed block yet.
func (bc *Blockchain) TxResultByHash(txHash []byte) (*TxResult, error) {
	data, err := bc.store.Get(txResultKey(txHash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	result := new(TxResult)
	if err := json.Unmarshal(data, result); err != nil {
		return nil, fmt.Errorf("decode tx result: %w", err)
	}
	return result, nil
}
