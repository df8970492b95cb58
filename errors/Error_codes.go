package errors

import "strconv"

// ERR is the error code carried by every *Error. Codes are grouped by range: general (0-19),
// transaction rejections (20-39), block rejections (40-59), storage and utxo (60-79),
// service and network (80-99).
type ERR int32

const (
	ERR_UNKNOWN            ERR = 0
	ERR_INVALID_ARGUMENT   ERR = 1
	ERR_THRESHOLD_EXCEEDED ERR = 2
	ERR_NOT_FOUND          ERR = 3
	ERR_PROCESSING         ERR = 4
	ERR_CONFIGURATION      ERR = 5
	ERR_CONTEXT_CANCELED   ERR = 6
	ERR_ERROR              ERR = 7
	ERR_MALFORMED          ERR = 8

	ERR_TX_INVALID            ERR = 20
	ERR_TX_NOT_FOUND          ERR = 21
	ERR_TX_EXISTS             ERR = 22
	ERR_TX_EMPTY              ERR = 23
	ERR_TX_TOO_LARGE          ERR = 24
	ERR_TX_MISSING_INPUT      ERR = 25
	ERR_TX_INVALID_SIGNATURE  ERR = 26
	ERR_TX_DUPLICATE_INPUT    ERR = 27
	ERR_TX_DOUBLE_SPEND       ERR = 28
	ERR_TX_INSUFFICIENT_FUNDS ERR = 29
	ERR_TX_VALUE_OVERFLOW     ERR = 30
	ERR_TX_COINBASE           ERR = 31
	ERR_MEMPOOL_FULL          ERR = 32

	ERR_BLOCK_INVALID        ERR = 40
	ERR_BLOCK_NOT_FOUND      ERR = 41
	ERR_BLOCK_EXISTS         ERR = 42
	ERR_BLOCK_STRUCTURE      ERR = 43
	ERR_BLOCK_POW            ERR = 44
	ERR_BLOCK_DIFFICULTY     ERR = 45
	ERR_BLOCK_TIMESTAMP      ERR = 46
	ERR_BLOCK_MERKLE_ROOT    ERR = 47
	ERR_BLOCK_COINBASE       ERR = 48
	ERR_BLOCK_ORPHAN         ERR = 49
	ERR_BLOCK_REORG_TOO_DEEP ERR = 50

	ERR_STORAGE_ERROR     ERR = 60
	ERR_STORAGE_NOT_FOUND ERR = 61
	ERR_UTXO_INVARIANT    ERR = 62
	ERR_UTXO_NOT_FOUND    ERR = 63

	ERR_SERVICE_ERROR              ERR = 80
	ERR_SERVICE_UNAVAILABLE        ERR = 81
	ERR_NETWORK_ERROR              ERR = 82
	ERR_NETWORK_TIMEOUT            ERR = 83
	ERR_NETWORK_CONNECTION_REFUSED ERR = 84
	ERR_NETWORK_PEER_MALICIOUS     ERR = 85
	ERR_NETWORK_HANDSHAKE          ERR = 86
)

var ERR_name = map[int32]string{
	0:  "UNKNOWN",
	1:  "INVALID_ARGUMENT",
	2:  "THRESHOLD_EXCEEDED",
	3:  "NOT_FOUND",
	4:  "PROCESSING",
	5:  "CONFIGURATION",
	6:  "CONTEXT_CANCELED",
	7:  "ERROR",
	8:  "MALFORMED",
	20: "TX_INVALID",
	21: "TX_NOT_FOUND",
	22: "TX_EXISTS",
	23: "TX_EMPTY",
	24: "TX_TOO_LARGE",
	25: "TX_MISSING_INPUT",
	26: "TX_INVALID_SIGNATURE",
	27: "TX_DUPLICATE_INPUT",
	28: "TX_DOUBLE_SPEND",
	29: "TX_INSUFFICIENT_FUNDS",
	30: "TX_VALUE_OVERFLOW",
	31: "TX_COINBASE",
	32: "MEMPOOL_FULL",
	40: "BLOCK_INVALID",
	41: "BLOCK_NOT_FOUND",
	42: "BLOCK_EXISTS",
	43: "BLOCK_STRUCTURE",
	44: "BLOCK_POW",
	45: "BLOCK_DIFFICULTY",
	46: "BLOCK_TIMESTAMP",
	47: "BLOCK_MERKLE_ROOT",
	48: "BLOCK_COINBASE",
	49: "BLOCK_ORPHAN",
	50: "BLOCK_REORG_TOO_DEEP",
	60: "STORAGE_ERROR",
	61: "STORAGE_NOT_FOUND",
	62: "UTXO_INVARIANT",
	63: "UTXO_NOT_FOUND",
	80: "SERVICE_ERROR",
	81: "SERVICE_UNAVAILABLE",
	82: "NETWORK_ERROR",
	83: "NETWORK_TIMEOUT",
	84: "NETWORK_CONNECTION_REFUSED",
	85: "NETWORK_PEER_MALICIOUS",
	86: "NETWORK_HANDSHAKE",
}

// Enum returns the symbolic name of the code.
func (x ERR) Enum() string {
	if name, ok := ERR_name[int32(x)]; ok {
		return name
	}

	return strconv.Itoa(int(x))
}

func (x ERR) String() string {
	return x.Enum()
}
