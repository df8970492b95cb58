package model

import "github.com/bsv-blockchain/go-bt/v2/chainhash"

type NotificationType int

const (
	// NotificationTypeBlock is sent when the canonical tip changes.
	NotificationTypeBlock NotificationType = iota
	// NotificationTypeTransaction is sent when a transaction enters the mempool.
	NotificationTypeTransaction
)

func (t NotificationType) String() string {
	switch t {
	case NotificationTypeBlock:
		return "block"
	case NotificationTypeTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

type Notification struct {
	Type   NotificationType
	Hash   *chainhash.Hash
	Height uint32
	// Reorg is set on block notifications when the previous tip was abandoned.
	Reorg bool
}
