package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"auctionchain/core/state"
	"auctionchain/core/types"
	"auctionchain/crypto"
	"auctionchain/storage"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	store, err := storage.OpenMem()
	require.NoError(t, err)
	t.Cleanup(store.Close)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	node, err := NewNode(store, key, DefaultSealInterval, nil)
	require.NoError(t, err)
	return node
}

func signedTestTx(t *testing.T, key *crypto.PrivateKey, txType types.TxType, nonce uint64, payload interface{}) *types.Transaction {
	t.Helper()
	tx, err := types.NewTransaction(txType, nonce, key.PubKey().Address().Bytes(), payload)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(key.PrivateKey))
	return tx
}

func TestNodeStartsAtGenesis(t *testing.T) {
	node := newTestNode(t)
	require.Equal(t, uint64(0), node.GetHeight())

	genesis, err := node.Chain().GetBlockByHeight(0)
	require.NoError(t, err)
	require.Empty(t, genesis.Transactions)
}

func TestSealEmptyBlocksAdvancesChain(t *testing.T) {
	node := newTestNode(t)

	require.NoError(t, node.sealOnce())
	require.NoError(t, node.sealOnce())
	require.Equal(t, uint64(2), node.GetHeight())

	block, err := node.Chain().GetBlockByHeight(2)
	require.NoError(t, err)
	require.Empty(t, block.Transactions)
	require.Equal(t, node.ValidatorAddress().Bytes(), block.Header.Validator)
}

func TestSubmitThenSealAppliesTransaction(t *testing.T) {
	node := newTestNode(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	tx := signedTestTx(t, key, types.TxTypeCreateWallet, 1, types.CreateWalletPayload{Name: "alice", Balance: 100})
	hash, err := node.SubmitTransaction(tx)
	require.NoError(t, err)

	// Pending transactions have no result yet.
	result, err := node.GetTransactionResult(hash)
	require.NoError(t, err)
	require.Nil(t, result)

	require.NoError(t, node.sealOnce())

	wallet, err := node.GetWallet(key.PubKey().Address().Bytes())
	require.NoError(t, err)
	require.NotNil(t, wallet)
	require.Equal(t, "alice", wallet.Name)
	require.Equal(t, uint64(100), wallet.Balance)

	result, err = node.GetTransactionResult(hash)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.True(t, result.OK)
	require.Equal(t, uint64(1), result.Height)
	require.Nil(t, result.Code)
}

func TestFailedTransactionStaysInBlock(t *testing.T) {
	node := newTestNode(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	first := signedTestTx(t, key, types.TxTypeCreateWallet, 1, types.CreateWalletPayload{Name: "alice", Balance: 100})
	_, err = node.SubmitTransaction(first)
	require.NoError(t, err)
	require.NoError(t, node.sealOnce())

	second := signedTestTx(t, key, types.TxTypeCreateWallet, 2, types.CreateWalletPayload{Name: "intruder", Balance: 9999})
	hash, err := node.SubmitTransaction(second)
	require.NoError(t, err)
	require.NoError(t, node.sealOnce())

	// The duplicate creation is included yet recorded as failed with the
	// wallet-already-exists code, and the original wallet survives.
	result, err := node.GetTransactionResult(hash)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.False(t, result.OK)
	require.NotNil(t, result.Code)
	require.Equal(t, uint8(state.CodeWalletAlreadyExists), *result.Code)

	ids, err := node.Chain().BlockTransactionIDs(2)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Equal(t, hash, ids[0])

	wallet, err := node.GetWallet(key.PubKey().Address().Bytes())
	require.NoError(t, err)
	require.Equal(t, "alice", wallet.Name)
	require.Equal(t, uint64(100), wallet.Balance)
}

func TestSubmitTransactionRejectsTamperedSender(t *testing.T) {
	node := newTestNode(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	tx := signedTestTx(t, key, types.TxTypeCreateWallet, 1, types.CreateWalletPayload{Name: "alice", Balance: 100})
	tx.Sender = testAddr(0xee)

	_, err = node.SubmitTransaction(tx)
	require.Error(t, err)
}

func TestSubmitTransactionDeduplicatesPending(t *testing.T) {
	node := newTestNode(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	tx := signedTestTx(t, key, types.TxTypeCreateWallet, 1, types.CreateWalletPayload{Name: "alice", Balance: 100})
	hash1, err := node.SubmitTransaction(tx)
	require.NoError(t, err)
	hash2, err := node.SubmitTransaction(tx)
	require.NoError(t, err)
	require.Equal(t, hash1, hash2)

	require.NoError(t, node.sealOnce())
	ids, err := node.Chain().BlockTransactionIDs(1)
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestSubmitIncludedTransactionIsNotRequeued(t *testing.T) {
	node := newTestNode(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	tx := signedTestTx(t, key, types.TxTypeCreateWallet, 1, types.CreateWalletPayload{Name: "alice", Balance: 100})
	_, err = node.SubmitTransaction(tx)
	require.NoError(t, err)
	require.NoError(t, node.sealOnce())

	// Resubmission of a sealed transaction resolves to the original height
	// without entering another block.
	height, err := node.SubmitTransactionSync(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)

	require.NoError(t, node.sealOnce())
	ids, err := node.Chain().BlockTransactionIDs(2)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestResubmissionWhileBlockInFlightIsDeduplicated(t *testing.T) {
	node := newTestNode(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	tx := signedTestTx(t, key, types.TxTypeCreateWallet, 1, types.CreateWalletPayload{Name: "alice", Balance: 100})
	hash, err := node.SubmitTransaction(tx)
	require.NoError(t, err)

	// Drain for sealing, then resubmit before the block commits. The
	// duplicate must not re-enter the mempool.
	txs := node.drainMempool()
	require.Len(t, txs, 1)

	resubmitted, err := node.SubmitTransaction(tx)
	require.NoError(t, err)
	require.Equal(t, hash, resubmitted)

	block, err := node.CreateBlock(txs)
	require.NoError(t, err)
	require.NoError(t, node.CommitBlock(block))

	// The next seal carries nothing; the transaction ran exactly once and
	// its recorded result keeps the original height.
	require.NoError(t, node.sealOnce())
	ids, err := node.Chain().BlockTransactionIDs(1)
	require.NoError(t, err)
	require.Equal(t, [][]byte{hash}, ids)
	ids, err = node.Chain().BlockTransactionIDs(2)
	require.NoError(t, err)
	require.Empty(t, ids)

	result, err := node.GetTransactionResult(hash)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.True(t, result.OK)
	require.Equal(t, uint64(1), result.Height)
}

func TestSubmitTransactionSyncReturnsInclusionHeight(t *testing.T) {
	node := newTestNode(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	// Seal blocks in the background until the submission is picked up; the
	// first few seals may be empty and must not satisfy the wait.
	stop := make(chan struct{})
	sealerDone := make(chan struct{})
	defer func() {
		close(stop)
		<-sealerDone
	}()
	go func() {
		defer close(sealerDone)
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				_ = node.sealOnce()
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx := signedTestTx(t, key, types.TxTypeCreateWallet, 1, types.CreateWalletPayload{Name: "alice", Balance: 100})
	height, err := node.SubmitTransactionSync(ctx, tx)
	require.NoError(t, err)
	require.NotZero(t, height)

	hash, err := tx.Hash()
	require.NoError(t, err)
	result, err := node.GetTransactionResult(hash)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, height, result.Height)
	require.True(t, result.OK)
}

func TestSubmitTransactionSyncHonoursContext(t *testing.T) {
	node := newTestNode(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// No sealer runs, so the wait can only end through the context.
	tx := signedTestTx(t, key, types.TxTypeCreateWallet, 1, types.CreateWalletPayload{Name: "alice", Balance: 100})
	_, err = node.SubmitTransactionSync(ctx, tx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommitBlockFillsWalletsDigest(t *testing.T) {
	node := newTestNode(t)
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	tx := signedTestTx(t, key, types.TxTypeCreateWallet, 1, types.CreateWalletPayload{Name: "alice", Balance: 100})
	_, err = node.SubmitTransaction(tx)
	require.NoError(t, err)
	require.NoError(t, node.sealOnce())

	block, err := node.Chain().GetBlockByHeight(1)
	require.NoError(t, err)
	require.NotEmpty(t, block.Header.WalletsRoot)

	// The sealed digest matches one recomputed from committed state.
	snap, err := node.store.Snapshot()
	require.NoError(t, err)
	defer snap.Release()
	recomputed, err := state.NewSchema(snap).WalletsRoot()
	require.NoError(t, err)
	require.Equal(t, recomputed, block.Header.WalletsRoot)

	// Lots do not move the digest.
	lotTx := signedTestTx(t, key, types.TxTypeCreateLot, 2, types.CreateLotPayload{Name: "painting", MinBid: 10})
	_, err = node.SubmitTransaction(lotTx)
	require.NoError(t, err)
	require.NoError(t, node.sealOnce())

	next, err := node.Chain().GetBlockByHeight(2)
	require.NoError(t, err)
	require.Equal(t, block.Header.WalletsRoot, next.Header.WalletsRoot)
}

func TestSealerLoopSealsBlocks(t *testing.T) {
	store, err := storage.OpenMem()
	require.NoError(t, err)
	t.Cleanup(store.Close)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	node, err := NewNode(store, key, 10*time.Millisecond, nil)
	require.NoError(t, err)

	node.Start()
	defer node.Stop()

	require.Eventually(t, func() bool {
		return node.GetHeight() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}
