package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerProcess              Trigger = "PROCESS"
	TriggerComplete             Trigger = "COMPLETE"
	TriggerStart                Trigger = "START"
	TriggerSubmit               Trigger = "SUBMIT"
	TriggerApprove              Trigger = "APPROVE"
	TriggerReject               Trigger = "REJECT"
	TriggerRequestCommunication Trigger = "REQUEST_COMMUNICATION"
	TriggerResume               Trigger = "RESUME"

	// Opinion triggers are fired when a processing opinion is recorded
	// rather than by an explicit operator action.
	TriggerOpinionApprove Trigger = "OPINION_APPROVE"
	TriggerOpinionReject  Trigger = "OPINION_REJECT"
	TriggerOpinionOther   Trigger = "OPINION_OTHER"
)

var validTriggers = map[Trigger]bool{
	TriggerProcess:              true,
	TriggerComplete:             true,
	TriggerStart:                true,
	TriggerSubmit:               true,
	TriggerApprove:              true,
	TriggerReject:               true,
	TriggerRequestCommunication: true,
	TriggerResume:               true,
	TriggerOpinionApprove:       true,
	TriggerOpinionReject:        true,
	TriggerOpinionOther:         true,
}

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// IsValid returns true if the trigger is known
func (t Trigger) IsValid() bool {
	return validTriggers[t]
}
