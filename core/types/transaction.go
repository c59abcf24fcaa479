package types

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeCreateWallet TxType = 0x01 // Register a named wallet with an initial balance
	TxTypeCreateLot    TxType = 0x02 // Open a new auction lot
	TxTypePlaceBid     TxType = 0x03 // Place a bid on an existing lot
)

// ErrInvalidSignature is returned when a transaction's signature does not
// match its declared sender.
var ErrInvalidSignature = errors.New("transaction signature does not match sender")

// Transaction is the signed envelope for all three auction operations. The
// operation-specific fields travel JSON-encoded in Data and are decoded per
// Type by the executor.
type Transaction struct {
	Type   TxType `json:"type"`
	Nonce  uint64 `json:"nonce"`
	Sender []byte `json:"sender"`
	Data   []byte `json:"data"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

// CreateWalletPayload carries the parameters of a TxTypeCreateWallet
// transaction.
type CreateWalletPayload struct {
	Name    string `json:"name"`
	Balance uint64 `json:"balance"`
}

// CreateLotPayload carries the parameters of a TxTypeCreateLot transaction.
type CreateLotPayload struct {
	Name   string `json:"name"`
	MinBid uint64 `json:"minBid"`
}

// PlaceBidPayload carries the parameters of a TxTypePlaceBid transaction.
// Lot is the identifier (creating transaction hash) of the lot bid on.
type PlaceBidPayload struct {
	Lot    []byte `json:"lot"`
	Amount uint64 `json:"amount"`
}

// NewTransaction builds an unsigned transaction around the given payload.
func NewTransaction(txType TxType, nonce uint64, sender []byte, payload interface{}) (*Transaction, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &Transaction{
		Type:   txType,
		Nonce:  nonce,
		Sender: append([]byte(nil), sender...),
		Data:   data,
	}, nil
}

// Hash returns the transaction identifier: the SHA-256 digest of the signed
// content. Signatures are excluded so the identifier is stable across
// signing.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		Type   TxType `json:"type"`
		Nonce  uint64 `json:"nonce"`
		Sender []byte `json:"sender"`
		Data   []byte `json:"data"`
	}{tx.Type, tx.Nonce, tx.Sender, tx.Data}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// Sign signs the transaction hash with the given key and records the
// signature in R, S, V.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	return nil
}

// From recovers the signer's address from the signature.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, errors.New("transaction is unsigned")
	}
	// R, S and V arrive unchecked from the wire; anything that does not fit
	// a 65-byte recoverable signature cannot have been produced by Sign.
	rBytes, sBytes := tx.R.Bytes(), tx.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 {
		return nil, ErrInvalidSignature
	}
	if !tx.V.IsUint64() || tx.V.Uint64() < 27 || tx.V.Uint64() > 27+255 {
		return nil, ErrInvalidSignature
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}

// VerifySignature checks that the recovered signer matches the declared
// sender. A transaction failing this check must never reach the executor.
func (tx *Transaction) VerifySignature() error {
	from, err := tx.From()
	if err != nil {
		return err
	}
	if !bytes.Equal(from, tx.Sender) {
		return ErrInvalidSignature
	}
	return nil
}
