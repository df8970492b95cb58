package blockchain

import (
	"context"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/looplab/fsm"
)

// NewFiniteStateMachine creates the state machine of the chain service.
// The finite state machine has the following states:
// - Idle
// - Running
// - CatchingBlocks
// - Stopped
// The finite state machine has the following events:
// - Run
// - CatchupBlocks
// - Stop
func (b *Blockchain) NewFiniteStateMachine(opts ...func(*fsm.FSM)) *fsm.FSM {
	finiteStateMachine := fsm.NewFSM(
		FSMStateIdle.String(),
		fsm.Events{
			{
				Name: FSMEventRun.String(),
				Src: []string{
					FSMStateIdle.String(),
					FSMStateCatchingBlocks.String(),
				},
				Dst: FSMStateRunning.String(),
			},
			{
				Name: FSMEventCatchupBlocks.String(),
				Src: []string{
					FSMStateRunning.String(),
				},
				Dst: FSMStateCatchingBlocks.String(),
			},
			{
				Name: FSMEventStop.String(),
				Src: []string{
					FSMStateIdle.String(),
					FSMStateRunning.String(),
					FSMStateCatchingBlocks.String(),
				},
				Dst: FSMStateStopped.String(),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				b.logger.Infof("[Blockchain][FSM] %s -> %s on %s", e.Src, e.Dst, e.Event)
			},
		},
	)

	for _, opt := range opts {
		opt(finiteStateMachine)
	}

	return finiteStateMachine
}

// GetFSMCurrentState returns the current state of the service.
func (b *Blockchain) GetFSMCurrentState() FSMStateType {
	return FSMStateType(b.finiteStateMachine.Current())
}

// SendFSMEvent moves the service to another state. Sending the event of the current state is a no-op.
func (b *Blockchain) SendFSMEvent(ctx context.Context, event FSMEventType) error {
	if b.finiteStateMachine.Can(event.String()) {
		if err := b.finiteStateMachine.Event(ctx, event.String()); err != nil {
			return errors.NewProcessingError("[Blockchain][SendFSMEvent] %s", event, err)
		}
	}

	return nil
}

func (b *Blockchain) Run(ctx context.Context) error {
	return b.SendFSMEvent(ctx, FSMEventRun)
}

// CatchUpBlocks marks the node as syncing from a peer that is ahead.
func (b *Blockchain) CatchUpBlocks(ctx context.Context) error {
	return b.SendFSMEvent(ctx, FSMEventCatchupBlocks)
}

func (b *Blockchain) IsCatchingUp() bool {
	return b.GetFSMCurrentState() == FSMStateCatchingBlocks
}
