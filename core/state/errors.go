package state

// ErrorCode is the stable numeric code attached to a domain failure. The
// values are part of the external contract and must not be renumbered.
type ErrorCode uint8

const (
	CodeWalletAlreadyExists ErrorCode = iota
	CodeLotNotFound
	CodeBidTooLow
	CodeInsufficientCurrencyAmount
	CodeWalletNotFound
	CodeBiddingNotAllowedOnOwnLot
)

// ExecutionError is a typed domain failure returned by the transaction
// executor. It aborts the whole transaction atomically and is recorded as
// that transaction's result; it is never surfaced as a protocol-level error.
type ExecutionError struct {
	Code        ErrorCode
	Description string
}

func (e *ExecutionError) Error() string { return e.Description }

var (
	// ErrWalletAlreadyExists is emitted by CreateWallet.
	ErrWalletAlreadyExists = &ExecutionError{CodeWalletAlreadyExists, "wallet already exists"}
	// ErrLotNotFound is emitted by PlaceBid.
	ErrLotNotFound = &ExecutionError{CodeLotNotFound, "lot does not exist"}
	// ErrBidTooLow is emitted by PlaceBid.
	ErrBidTooLow = &ExecutionError{CodeBidTooLow, "bid below current minimum"}
	// ErrInsufficientCurrencyAmount is emitted by PlaceBid, both for a
	// bidder balance that is too low and for a missing bidder wallet.
	ErrInsufficientCurrencyAmount = &ExecutionError{CodeInsufficientCurrencyAmount, "currency amount insufficient for bid placement"}
	// ErrWalletNotFound is emitted by CreateLot.
	ErrWalletNotFound = &ExecutionError{CodeWalletNotFound, "wallet does not exist"}
	// ErrBiddingNotAllowedOnOwnLot is emitted by PlaceBid.
	ErrBiddingNotAllowedOnOwnLot = &ExecutionError{CodeBiddingNotAllowedOnOwnLot, "bidding not allowed on one's own lot"}
)
