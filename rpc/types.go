package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"auctionchain/core"
	"auctionchain/core/types"
	"auctionchain/crypto"
)

// WalletResult summarises a wallet for RPC consumers. Address is bech32
// encoded; balances are integer currency units.
type WalletResult struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Balance uint64 `json:"balance"`
	Frozen  uint64 `json:"frozen"`
}

// LotResult summarises an auction lot.
type LotResult struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	MinBid uint64 `json:"minBid"`
}

// BidResult is one entry of a lot's bid history.
type BidResult struct {
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
	TxHash string `json:"txHash"`
}

// SendTransactionResult acknowledges an asynchronous submission.
type SendTransactionResult struct {
	Hash string `json:"hash"`
}

// SendTransactionSyncResult reports a synchronous submission: the height of
// the block that included the transaction plus its recorded outcome. A failed
// transaction still gets a height; Code and Description say why it failed.
type SendTransactionSyncResult struct {
	Hash        string `json:"hash"`
	Height      uint64 `json:"height"`
	OK          bool   `json:"ok"`
	Code        *uint8 `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// TransactionResultPayload reflects a stored execution outcome.
type TransactionResultPayload struct {
	Hash        string `json:"hash"`
	Height      uint64 `json:"height"`
	OK          bool   `json:"ok"`
	Code        *uint8 `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

func formatWallet(wallet *types.Wallet) WalletResult {
	return WalletResult{
		Address: crypto.NewAddress(crypto.AuctionPrefix, wallet.Address).String(),
		Name:    wallet.Name,
		Balance: wallet.Balance,
		Frozen:  wallet.Frozen,
	}
}

func formatLot(lot *types.Lot) LotResult {
	return LotResult{
		ID:     formatHash(lot.ID),
		Owner:  crypto.NewAddress(crypto.AuctionPrefix, lot.Owner).String(),
		Name:   lot.Name,
		MinBid: lot.MinBid,
	}
}

func formatBid(bid *types.Bid) BidResult {
	return BidResult{
		Owner:  crypto.NewAddress(crypto.AuctionPrefix, bid.Owner).String(),
		Amount: bid.Amount,
		TxHash: formatHash(bid.TxHash),
	}
}

func formatTxResult(hash []byte, result *core.TxResult) TransactionResultPayload {
	return TransactionResultPayload{
		Hash:        formatHash(hash),
		Height:      result.Height,
		OK:          result.OK,
		Code:        result.Code,
		Description: result.Description,
	}
}

// formatHash renders a hash as a 0x-prefixed hexadecimal string.
func formatHash(hash []byte) string {
	return "0x" + hex.EncodeToString(hash)
}

func parseHash(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hash: %w", err)
	}
	return decoded, nil
}

func parseAddressParam(params []json.RawMessage) ([]byte, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("expected 1 parameter: address")
	}
	var encoded string
	if err := json.Unmarshal(params[0], &encoded); err != nil {
		return nil, fmt.Errorf("address must be a bech32 string")
	}
	addr, err := crypto.DecodeAddress(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	return addr.Bytes(), nil
}

func parseHashParam(params []json.RawMessage, what string) ([]byte, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("expected 1 parameter: %s hash", what)
	}
	var encoded string
	if err := json.Unmarshal(params[0], &encoded); err != nil {
		return nil, fmt.Errorf("%s hash must be a hex string", what)
	}
	return parseHash(encoded)
}

func parseTransactionParam(params []json.RawMessage) (*types.Transaction, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("expected 1 parameter: transaction object")
	}
	tx := new(types.Transaction)
	if err := json.Unmarshal(params[0], tx); err != nil {
		return nil, fmt.Errorf("invalid transaction payload: %w", err)
	}
	return tx, nil
}
