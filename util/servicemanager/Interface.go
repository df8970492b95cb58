package servicemanager

import (
	"context"
)

// Service is a long-running part of the node. Start blocks until ctx is done or the service fails, and
// closes readyCh once the service can be used by the services added after it.
type Service interface {
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
	Init(ctx context.Context) error
	Start(ctx context.Context, readyCh chan<- struct{}) error
	Stop(ctx context.Context) error
}
