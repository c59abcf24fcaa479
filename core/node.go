package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"auctionchain/core/state"
	"auctionchain/core/types"
	"auctionchain/crypto"
	"auctionchain/observability"
	"auctionchain/storage"
)

// DefaultSealInterval is the block production cadence used when the
// configuration does not override it.
const DefaultSealInterval = time.Second

// Node is the central controller, wiring storage, chain, executor and the
// commit notifier together. All state mutation funnels through CommitBlock
// under stateMu; reads go through store snapshots and never block sealing.
type Node struct {
	store        *storage.Store
	chain        *Blockchain
	processor    *StateProcessor
	notifier     *CommitNotifier
	validatorKey *crypto.PrivateKey
	logger       *slog.Logger

	mempoolMu sync.Mutex
	mempool   []*types.Transaction
	seen      map[string]struct{}

	stateMu sync.Mutex

	sealInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	sealerWG     sync.WaitGroup
	lastSealedAt time.Time
}

// NewNode opens the chain over the given store and assembles the controller.
func NewNode(store *storage.Store, key *crypto.PrivateKey, sealInterval time.Duration, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sealInterval <= 0 {
		sealInterval = DefaultSealInterval
	}

	chain, err := NewBlockchain(store)
	if err != nil {
		return nil, err
	}

	return &Node{
		store:        store,
		chain:        chain,
		processor:    NewStateProcessor(),
		notifier:     NewCommitNotifier(),
		validatorKey: key,
		logger:       logger,
		mempool:      make([]*types.Transaction, 0),
		seen:         make(map[string]struct{}),
		sealInterval: sealInterval,
		stopCh:       make(chan struct{}),
	}, nil
}

// Chain exposes the block index for read handlers.
func (n *Node) Chain() *Blockchain {
	return n.chain
}

// ValidatorAddress returns the sealing validator's address.
func (n *Node) ValidatorAddress() crypto.Address {
	return n.validatorKey.PubKey().Address()
}

// SubmitTransaction verifies the transaction's signature and queues it for
// the next block. It returns the transaction hash used to track inclusion.
// Verification failures are infrastructure errors: the transaction never
// enters a block and never earns an execution result.
func (n *Node) SubmitTransaction(tx *types.Transaction) ([]byte, error) {
	if err := tx.VerifySignature(); err != nil {
		return nil, fmt.Errorf("submission failed: %w", err)
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, fmt.Errorf("submission failed: %w", err)
	}

	// A transaction that already made it into a sealed block is never
	// re-queued; the recorded result stands.
	if result, err := n.chain.TxResultByHash(hash); err != nil {
		return nil, fmt.Errorf("submission failed: %w", err)
	} else if result != nil {
		return hash, nil
	}

	n.mempoolMu.Lock()
	defer n.mempoolMu.Unlock()
	if _, dup := n.seen[string(hash)]; dup {
		// Resubmitting a pending transaction is a no-op; the first copy wins.
		return hash, nil
	}
	n.seen[string(hash)] = struct{}{}
	n.mempool = append(n.mempool, tx)
	return hash, nil
}

// SubmitTransactionSync queues the transaction and blocks until a sealed
// block contains it, returning that block's height. The subscription is
// opened before the transaction enters the mempool so no seal can slip
// between submission and the first wait. Without a deadline on the context
// the wait is unbounded; callers that need a bound set one on ctx.
func (n *Node) SubmitTransactionSync(ctx context.Context, tx *types.Transaction) (uint64, error) {
	sub := n.notifier.Subscribe()
	defer sub.Close()

	hash, err := n.SubmitTransaction(tx)
	if err != nil {
		return 0, err
	}

	// A duplicate of an already-sealed transaction resolves immediately to
	// the height that included it.
	if result, err := n.chain.TxResultByHash(hash); err != nil {
		return 0, err
	} else if result != nil {
		return result.Height, nil
	}

	for {
		height, err := sub.Next(ctx)
		if err != nil {
			return 0, err
		}
		ids, err := n.chain.BlockTransactionIDs(height)
		if err != nil {
			return 0, err
		}
		for _, id := range ids {
			if bytes.Equal(id, hash) {
				return height, nil
			}
		}
	}
}

// GetWallet returns the wallet for the address from the latest committed
// state, or nil when no such wallet exists.
func (n *Node) GetWallet(addr []byte) (*types.Wallet, error) {
	snap, err := n.store.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return state.NewSchema(snap).Wallet(addr)
}

// GetBidHistory returns the lot's bid sequence in placement order from the
// latest committed state. The result is empty both for an unknown lot and
// for a lot without bids.
func (n *Node) GetBidHistory(lotID []byte) ([]types.Bid, error) {
	snap, err := n.store.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return state.NewSchema(snap).BidHistory(lotID)
}

// GetLot returns the lot stored for the identifier, or nil when absent.
func (n *Node) GetLot(id []byte) (*types.Lot, error) {
	snap, err := n.store.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()
	return state.NewSchema(snap).Lot(id)
}

// GetTransactionResult returns the recorded outcome of an included
// transaction, or nil while it is still pending.
func (n *Node) GetTransactionResult(txHash []byte) (*TxResult, error) {
	return n.chain.TxResultByHash(txHash)
}

// GetHeight returns the height of the chain head.
func (n *Node) GetHeight() uint64 {
	return n.chain.GetHeight()
}

// drainMempool removes and returns all queued transactions. Their hashes
// stay in the dedup set until the block carrying them commits, so a
// resubmission between drain and commit is still recognised as a duplicate.
func (n *Node) drainMempool() []*types.Transaction {
	n.mempoolMu.Lock()
	defer n.mempoolMu.Unlock()
	txs := n.mempool
	n.mempool = make([]*types.Transaction, 0)
	return txs
}

func (n *Node) forgetSeen(hashes [][]byte) {
	n.mempoolMu.Lock()
	for _, hash := range hashes {
		delete(n.seen, string(hash))
	}
	n.mempoolMu.Unlock()
}

// releasePending drops the dedup entries for transactions that will never
// reach a committed block, so a client may resubmit them.
func (n *Node) releasePending(txs []*types.Transaction) {
	hashes := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		if hash, err := tx.Hash(); err == nil {
			hashes = append(hashes, hash)
		}
	}
	n.forgetSeen(hashes)
}

// CreateBlock assembles the next block proposal over the given transactions.
// The wallets digest is left empty; CommitBlock fills it after execution.
func (n *Node) CreateBlock(txs []*types.Transaction) (*types.Block, error) {
	header := &types.BlockHeader{
		Height:    n.chain.GetHeight() + 1,
		Timestamp: time.Now().Unix(),
		PrevHash:  n.chain.Tip(),
		Validator: n.validatorKey.PubKey().Address().Bytes(),
	}

	txRoot, err := ComputeTxRoot(txs)
	if err != nil {
		return nil, err
	}
	header.TxRoot = txRoot

	return types.NewBlock(header, txs), nil
}

// CommitBlock executes the block's transactions and makes the block, its
// state effects and the per-transaction results durable in one atomic write.
//
// Each transaction runs on its own child fork of the block fork: a domain
// failure discards only that child, so the transaction stays in the block as
// failed while the ledger is untouched by it. Infrastructure failures abort
// the whole block.
func (n *Node) CommitBlock(b *types.Block) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	txRoot, err := ComputeTxRoot(b.Transactions)
	if err != nil {
		return err
	}
	if !bytes.Equal(txRoot, b.Header.TxRoot) {
		return fmt.Errorf("tx root mismatch at height %d", b.Header.Height)
	}

	fork := n.store.Fork()
	results := make(map[string]TxResult, len(b.Transactions))
	included := make([][]byte, 0, len(b.Transactions))

	for i, tx := range b.Transactions {
		hash, err := tx.Hash()
		if err != nil {
			fork.Discard()
			return fmt.Errorf("hash transaction %d: %w", i, err)
		}
		included = append(included, hash)

		child := fork.Fork()
		execErr := n.processor.ApplyTransaction(child, tx)
		if execErr == nil {
			if err := child.Commit(); err != nil {
				fork.Discard()
				return fmt.Errorf("merge transaction %d: %w", i, err)
			}
			results[string(hash)] = TxResult{Height: b.Header.Height, OK: true}
			observability.Chain().RecordTransaction(txTypeLabel(tx.Type), "ok")
			continue
		}

		child.Discard()
		var domainErr *state.ExecutionError
		if !errors.As(execErr, &domainErr) {
			fork.Discard()
			return fmt.Errorf("apply transaction %d: %w", i, execErr)
		}
		code := uint8(domainErr.Code)
		results[string(hash)] = TxResult{
			Height:      b.Header.Height,
			Code:        &code,
			Description: domainErr.Description,
		}
		observability.Chain().RecordTransaction(txTypeLabel(tx.Type), "failed")
		n.logger.Info("transaction rejected",
			"height", b.Header.Height,
			"code", code,
			"description", domainErr.Description,
		)
	}

	walletsRoot, err := state.NewSchema(fork).WalletsRoot()
	if err != nil {
		fork.Discard()
		return fmt.Errorf("compute wallets digest: %w", err)
	}
	if len(b.Header.WalletsRoot) == 0 {
		b.Header.WalletsRoot = walletsRoot
	} else if !bytes.Equal(b.Header.WalletsRoot, walletsRoot) {
		fork.Discard()
		return fmt.Errorf("wallets digest mismatch at height %d", b.Header.Height)
	}

	if err := n.chain.AppendBlock(fork, b, results); err != nil {
		fork.Discard()
		return err
	}
	if err := fork.Commit(); err != nil {
		return fmt.Errorf("commit block %d: %w", b.Header.Height, err)
	}
	if err := n.chain.advanceTip(b); err != nil {
		return err
	}

	// The results are durable now, so the dedup entries can retire: a
	// resubmission from here on is caught by the stored result lookup.
	n.forgetSeen(included)

	now := time.Now()
	if !n.lastSealedAt.IsZero() {
		observability.Chain().RecordBlockSealed(now.Sub(n.lastSealedAt))
	} else {
		observability.Chain().RecordBlockSealed(0)
	}
	n.lastSealedAt = now

	// Publish strictly after the block is durable so a woken waiter always
	// finds the block it is told about.
	n.notifier.Publish(b.Header.Height)
	return nil
}

// sealOnce drains the mempool and seals one block, empty blocks included so
// the chain advances at a steady cadence.
func (n *Node) sealOnce() error {
	txs := n.drainMempool()
	block, err := n.CreateBlock(txs)
	if err != nil {
		n.releasePending(txs)
		return err
	}
	if err := n.CommitBlock(block); err != nil {
		n.releasePending(txs)
		return err
	}
	n.logger.Info("block sealed", "height", block.Header.Height, "txs", len(txs))
	return nil
}

// Start launches the sealing loop.
func (n *Node) Start() {
	n.sealerWG.Add(1)
	go func() {
		defer n.sealerWG.Done()
		ticker := time.NewTicker(n.sealInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := n.sealOnce(); err != nil {
					n.logger.Error("seal block", "error", err)
				}
			case <-n.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sealing loop and waits for an in-flight seal to finish.
func (n *Node) Stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.sealerWG.Wait()
}

func txTypeLabel(t types.TxType) string {
	switch t {
	case types.TxTypeCreateWallet:
		return "create_wallet"
	case types.TxTypeCreateLot:
		return "create_lot"
	case types.TxTypePlaceBid:
		return "place_bid"
	default:
		return "unknown"
	}
}
