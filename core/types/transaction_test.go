package types

import (
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func signedTx(t *testing.T) *Transaction {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	sender := ethcrypto.PubkeyToAddress(key.PublicKey).Bytes()

	tx, err := NewTransaction(TxTypeCreateWallet, 1, sender, CreateWalletPayload{Name: "alice", Balance: 100})
	require.NoError(t, err)
	require.NoError(t, tx.Sign(key))
	return tx
}

func TestTransactionHashExcludesSignature(t *testing.T) {
	tx := signedTx(t)
	before, err := tx.Hash()
	require.NoError(t, err)

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, tx.Sign(key))

	after, err := tx.Hash()
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestVerifySignature(t *testing.T) {
	tx := signedTx(t)
	require.NoError(t, tx.VerifySignature())
}

func TestVerifySignatureRejectsWrongSender(t *testing.T) {
	tx := signedTx(t)

	other, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	tx.Sender = ethcrypto.PubkeyToAddress(other.PublicKey).Bytes()
	tx.from = nil

	require.ErrorIs(t, tx.VerifySignature(), ErrInvalidSignature)
}

func TestVerifySignatureRejectsOversizedSignatureValues(t *testing.T) {
	// Signature components come straight off the wire; values too wide for
	// a recoverable signature must fail verification instead of panicking.
	oversized := new(big.Int).Lsh(big.NewInt(1), 300)

	tx := signedTx(t)
	tx.R = oversized
	require.ErrorIs(t, tx.VerifySignature(), ErrInvalidSignature)

	tx = signedTx(t)
	tx.S = oversized
	require.ErrorIs(t, tx.VerifySignature(), ErrInvalidSignature)

	tx = signedTx(t)
	tx.V = new(big.Int).Lsh(big.NewInt(1), 80)
	require.ErrorIs(t, tx.VerifySignature(), ErrInvalidSignature)

	tx = signedTx(t)
	tx.V = big.NewInt(3)
	require.ErrorIs(t, tx.VerifySignature(), ErrInvalidSignature)
}

func TestVerifySignatureRejectsUnsigned(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	sender := ethcrypto.PubkeyToAddress(key.PublicKey).Bytes()

	tx, err := NewTransaction(TxTypePlaceBid, 7, sender, PlaceBidPayload{Lot: []byte{1}, Amount: 10})
	require.NoError(t, err)
	require.Error(t, tx.VerifySignature())
}
