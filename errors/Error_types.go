package errors

var (
	ErrUnknown              = New(ERR_UNKNOWN, "unknown error")
	ErrInvalidArgument      = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrThresholdExceeded    = New(ERR_THRESHOLD_EXCEEDED, "threshold exceeded")
	ErrNotFound             = New(ERR_NOT_FOUND, "not found")
	ErrProcessing           = New(ERR_PROCESSING, "error processing")
	ErrConfiguration        = New(ERR_CONFIGURATION, "configuration error")
	ErrContextCanceled      = New(ERR_CONTEXT_CANCELED, "context canceled")
	ErrError                = New(ERR_ERROR, "generic error")
	ErrMalformed            = New(ERR_MALFORMED, "malformed data")
	ErrTxInvalid            = New(ERR_TX_INVALID, "tx invalid")
	ErrTxNotFound           = New(ERR_TX_NOT_FOUND, "tx not found")
	ErrTxExists             = New(ERR_TX_EXISTS, "tx already exists")
	ErrTxEmpty              = New(ERR_TX_EMPTY, "tx has no inputs or outputs")
	ErrTxTooLarge           = New(ERR_TX_TOO_LARGE, "tx too large")
	ErrTxMissingInput       = New(ERR_TX_MISSING_INPUT, "tx input not found")
	ErrTxInvalidSignature   = New(ERR_TX_INVALID_SIGNATURE, "tx signature invalid")
	ErrTxDuplicateInput     = New(ERR_TX_DUPLICATE_INPUT, "tx spends the same output twice")
	ErrTxDoubleSpend        = New(ERR_TX_DOUBLE_SPEND, "tx conflicts with another spend")
	ErrTxInsufficientFunds  = New(ERR_TX_INSUFFICIENT_FUNDS, "tx outputs exceed inputs")
	ErrTxValueOverflow      = New(ERR_TX_VALUE_OVERFLOW, "tx value overflow")
	ErrTxCoinbase           = New(ERR_TX_COINBASE, "coinbase not allowed here")
	ErrMempoolFull          = New(ERR_MEMPOOL_FULL, "mempool full")
	ErrBlockInvalid         = New(ERR_BLOCK_INVALID, "block invalid")
	ErrBlockNotFound        = New(ERR_BLOCK_NOT_FOUND, "block not found")
	ErrBlockExists          = New(ERR_BLOCK_EXISTS, "block exists")
	ErrBlockStructure       = New(ERR_BLOCK_STRUCTURE, "block structure invalid")
	ErrBlockPoW             = New(ERR_BLOCK_POW, "block hash above target")
	ErrBlockDifficulty      = New(ERR_BLOCK_DIFFICULTY, "block difficulty unexpected")
	ErrBlockTimestamp       = New(ERR_BLOCK_TIMESTAMP, "block timestamp invalid")
	ErrBlockMerkleRoot      = New(ERR_BLOCK_MERKLE_ROOT, "block merkle root mismatch")
	ErrBlockCoinbase        = New(ERR_BLOCK_COINBASE, "block coinbase invalid")
	ErrBlockOrphan          = New(ERR_BLOCK_ORPHAN, "block parent unknown")
	ErrBlockReorgTooDeep    = New(ERR_BLOCK_REORG_TOO_DEEP, "fork point beyond undo history")
	ErrStorageError         = New(ERR_STORAGE_ERROR, "storage error")
	ErrStorageNotFound      = New(ERR_STORAGE_NOT_FOUND, "storage not found")
	ErrUtxoInvariant        = New(ERR_UTXO_INVARIANT, "utxo invariant violated")
	ErrUtxoNotFound         = New(ERR_UTXO_NOT_FOUND, "utxo not found")
	ErrServiceError         = New(ERR_SERVICE_ERROR, "service error")
	ErrServiceUnavailable   = New(ERR_SERVICE_UNAVAILABLE, "service unavailable")
	ErrNetworkError         = New(ERR_NETWORK_ERROR, "network error")
	ErrNetworkTimeout       = New(ERR_NETWORK_TIMEOUT, "network timeout")
	ErrNetworkHandshake     = New(ERR_NETWORK_HANDSHAKE, "handshake failed")
	ErrNetworkPeerMalicious = New(ERR_NETWORK_PEER_MALICIOUS, "peer misbehaving")
)

// errors initialization functions

func NewUnknownError(message string, params ...interface{}) error {
	return New(ERR_UNKNOWN, message, params...)
}
func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}
func NewThresholdExceededError(message string, params ...interface{}) error {
	return New(ERR_THRESHOLD_EXCEEDED, message, params...)
}
func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}
func NewProcessingError(message string, params ...interface{}) error {
	return New(ERR_PROCESSING, message, params...)
}
func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}
func NewContextCanceledError(message string, params ...interface{}) error {
	return New(ERR_CONTEXT_CANCELED, message, params...)
}
func NewError(message string, params ...interface{}) error {
	return New(ERR_ERROR, message, params...)
}
func NewMalformedError(message string, params ...interface{}) error {
	return New(ERR_MALFORMED, message, params...)
}
func NewTxInvalidError(message string, params ...interface{}) error {
	return New(ERR_TX_INVALID, message, params...)
}
func NewTxNotFoundError(message string, params ...interface{}) error {
	return New(ERR_TX_NOT_FOUND, message, params...)
}
func NewTxExistsError(message string, params ...interface{}) error {
	return New(ERR_TX_EXISTS, message, params...)
}
func NewTxEmptyError(message string, params ...interface{}) error {
	return New(ERR_TX_EMPTY, message, params...)
}
func NewTxTooLargeError(message string, params ...interface{}) error {
	return New(ERR_TX_TOO_LARGE, message, params...)
}
func NewTxMissingInputError(message string, params ...interface{}) error {
	return New(ERR_TX_MISSING_INPUT, message, params...)
}
func NewTxInvalidSignatureError(message string, params ...interface{}) error {
	return New(ERR_TX_INVALID_SIGNATURE, message, params...)
}
func NewTxDuplicateInputError(message string, params ...interface{}) error {
	return New(ERR_TX_DUPLICATE_INPUT, message, params...)
}
func NewTxDoubleSpendError(message string, params ...interface{}) error {
	return New(ERR_TX_DOUBLE_SPEND, message, params...)
}
func NewTxInsufficientFundsError(message string, params ...interface{}) error {
	return New(ERR_TX_INSUFFICIENT_FUNDS, message, params...)
}
func NewTxValueOverflowError(message string, params ...interface{}) error {
	return New(ERR_TX_VALUE_OVERFLOW, message, params...)
}
func NewTxCoinbaseError(message string, params ...interface{}) error {
	return New(ERR_TX_COINBASE, message, params...)
}
func NewMempoolFullError(message string, params ...interface{}) error {
	return New(ERR_MEMPOOL_FULL, message, params...)
}
func NewBlockInvalidError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_INVALID, message, params...)
}
func NewBlockNotFoundError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_NOT_FOUND, message, params...)
}
func NewBlockExistsError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_EXISTS, message, params...)
}
func NewBlockStructureError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_STRUCTURE, message, params...)
}
func NewBlockPoWError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_POW, message, params...)
}
func NewBlockDifficultyError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_DIFFICULTY, message, params...)
}
func NewBlockTimestampError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_TIMESTAMP, message, params...)
}
func NewBlockMerkleRootError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_MERKLE_ROOT, message, params...)
}
func NewBlockCoinbaseError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_COINBASE, message, params...)
}
func NewBlockOrphanError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_ORPHAN, message, params...)
}
func NewBlockReorgTooDeepError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_REORG_TOO_DEEP, message, params...)
}
func NewStorageError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_ERROR, message, params...)
}
func NewStorageNotFoundError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_NOT_FOUND, message, params...)
}
func NewUtxoInvariantError(message string, params ...interface{}) error {
	return New(ERR_UTXO_INVARIANT, message, params...)
}
func NewUtxoNotFoundError(message string, params ...interface{}) error {
	return New(ERR_UTXO_NOT_FOUND, message, params...)
}
func NewServiceError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_ERROR, message, params...)
}
func NewServiceUnavailableError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_UNAVAILABLE, message, params...)
}
func NewNetworkError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_ERROR, message, params...)
}
func NewNetworkTimeoutError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_TIMEOUT, message, params...)
}
func NewNetworkConnectionRefusedError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_CONNECTION_REFUSED, message, params...)
}
func NewNetworkHandshakeError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_HANDSHAKE, message, params...)
}
func NewNetworkPeerMaliciousError(message string, params ...interface{}) error {
	return New(ERR_NETWORK_PEER_MALICIOUS, message, params...)
}
