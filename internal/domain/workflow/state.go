package workflow

// State is a work-order status. The set below is the union of the states used
// by the receipt intake, audit and communication tables; each table only
// configures the subset that belongs to its kind.
type State string

const (
	StateReceived           State = "RECEIVED"
	StateProcessed          State = "PROCESSED"
	StatePending            State = "PENDING"
	StateProcessing         State = "PROCESSING"
	StateAuditing           State = "AUDITING"
	StateNeedsCommunication State = "NEEDS_COMMUNICATION"
	StateApproved           State = "APPROVED"
	StateRejected           State = "REJECTED"
	StateCompleted          State = "COMPLETED"
)

var validStates = map[State]bool{
	StateReceived:           true,
	StateProcessed:          true,
	StatePending:            true,
	StateProcessing:         true,
	StateAuditing:           true,
	StateNeedsCommunication: true,
	StateApproved:           true,
	StateRejected:           true,
	StateCompleted:          true,
}

// IsTerminal returns true if no table has outgoing edges from the state
func (s State) IsTerminal() bool {
	return s == StateCompleted
}

// IsDecided returns true for the two states that carry an audit result
func (s State) IsDecided() bool {
	return s == StateApproved || s == StateRejected
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known work-order state
func (s State) IsValid() bool {
	return validStates[s]
}
