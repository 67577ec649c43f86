package engine

// Phase is the tick state machine position
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseEvaluating
	PhaseRebalanceInFlight
	PhaseStopLossInFlight
	PhaseMitigationCheck
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseEvaluating:
		return "EVALUATING"
	case PhaseRebalanceInFlight:
		return "REBALANCE_IN_FLIGHT"
	case PhaseStopLossInFlight:
		return "STOP_LOSS_IN_FLIGHT"
	case PhaseMitigationCheck:
		return "MITIGATION_CHECK"
	default:
		return "UNKNOWN"
	}
}
