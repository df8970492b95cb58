package blockchain

type FSMStateType string

const (
	FSMStateIdle           FSMStateType = "IDLE"
	FSMStateRunning        FSMStateType = "RUNNING"
	FSMStateCatchingBlocks FSMStateType = "CATCHINGBLOCKS"
	FSMStateStopped        FSMStateType = "STOPPED"
)

func (s FSMStateType) String() string {
	return string(s)
}

type FSMEventType string

const (
	FSMEventRun           FSMEventType = "RUN"
	FSMEventCatchupBlocks FSMEventType = "CATCHUPBLOCKS"
	FSMEventStop          FSMEventType = "STOP"
)

func (e FSMEventType) String() string {
	return string(e)
}
