package workflow

import (
	"fmt"

	"github.com/garyjia/expense-reconciler/internal/domain/entity"
	domainwf "github.com/garyjia/expense-reconciler/internal/domain/workflow"
)

// Hooks are entry actions attached to a work order machine
type Hooks struct {
	// OnDecided runs when the machine enters APPROVED or REJECTED
	OnDecided domainwf.EntryFunc

	// OnCompleted runs when the machine enters COMPLETED
	OnCompleted domainwf.EntryFunc
}

// undecided lists the states an opinion may be recorded from
var undecided = []domainwf.State{
	domainwf.StatePending,
	domainwf.StateProcessing,
	domainwf.StateAuditing,
	domainwf.StateNeedsCommunication,
	domainwf.StateApproved,
	domainwf.StateRejected,
}

// BuildReceiptIntakeMachine creates the receipt intake table:
// RECEIVED -> PROCESSED -> COMPLETED
func BuildReceiptIntakeMachine(initialState domainwf.State, hooks Hooks) (domainwf.StateMachine, error) {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StateReceived).
		Permit(domainwf.TriggerProcess, domainwf.StateProcessed)

	builder.Configure(domainwf.StateProcessed).
		Permit(domainwf.TriggerComplete, domainwf.StateCompleted)

	completed := builder.Configure(domainwf.StateCompleted)
	if hooks.OnCompleted != nil {
		completed.OnEntry(hooks.OnCompleted)
	}

	return builder.Build(initialState)
}

// BuildAuditMachine creates the audit table
func BuildAuditMachine(initialState domainwf.State, hooks Hooks) (domainwf.StateMachine, error) {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StatePending).
		Permit(domainwf.TriggerStart, domainwf.StateProcessing)

	builder.Configure(domainwf.StateProcessing).
		Permit(domainwf.TriggerSubmit, domainwf.StateAuditing)

	builder.Configure(domainwf.StateAuditing).
		Permit(domainwf.TriggerApprove, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerRequestCommunication, domainwf.StateNeedsCommunication)

	builder.Configure(domainwf.StateNeedsCommunication).
		Permit(domainwf.TriggerResume, domainwf.StateAuditing).
		Permit(domainwf.TriggerReject, domainwf.StateRejected)

	configureDecided(builder, hooks)
	configureOpinions(builder)

	return builder.Build(initialState)
}

// BuildCommunicationMachine creates the communication table. Communication
// orders are created directly in PROCESSING; PENDING stays reachable for
// imported rows.
func BuildCommunicationMachine(initialState domainwf.State, hooks Hooks) (domainwf.StateMachine, error) {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StatePending).
		Permit(domainwf.TriggerStart, domainwf.StateProcessing)

	builder.Configure(domainwf.StateProcessing).
		Permit(domainwf.TriggerRequestCommunication, domainwf.StateNeedsCommunication).
		Permit(domainwf.TriggerComplete, domainwf.StateCompleted)

	builder.Configure(domainwf.StateNeedsCommunication).
		Permit(domainwf.TriggerApprove, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected)

	configureDecided(builder, hooks)
	configureOpinions(builder)

	return builder.Build(initialState)
}

func configureDecided(builder domainwf.StateMachineBuilder, hooks Hooks) {
	approved := builder.Configure(domainwf.StateApproved).
		Permit(domainwf.TriggerComplete, domainwf.StateCompleted)
	rejected := builder.Configure(domainwf.StateRejected).
		Permit(domainwf.TriggerComplete, domainwf.StateCompleted)

	if hooks.OnDecided != nil {
		approved.OnEntry(hooks.OnDecided)
		rejected.OnEntry(hooks.OnDecided)
	}

	completed := builder.Configure(domainwf.StateCompleted)
	if hooks.OnCompleted != nil {
		completed.OnEntry(hooks.OnCompleted)
	}
}

// configureOpinions adds the opinion edges to every state that is not COMPLETED
func configureOpinions(builder domainwf.StateMachineBuilder) {
	for _, state := range undecided {
		builder.Configure(state).
			Permit(domainwf.TriggerOpinionApprove, domainwf.StateApproved).
			Permit(domainwf.TriggerOpinionReject, domainwf.StateRejected).
			Permit(domainwf.TriggerOpinionOther, domainwf.StateProcessing)
	}
}

// MachineFor builds the machine of the given kind positioned at status
func MachineFor(kind entity.WorkOrderKind, status string, hooks Hooks) (domainwf.StateMachine, error) {
	state := domainwf.State(status)

	switch kind {
	case entity.KindReceiptIntake:
		return BuildReceiptIntakeMachine(state, hooks)
	case entity.KindAudit:
		return BuildAuditMachine(state, hooks)
	case entity.KindCommunication:
		return BuildCommunicationMachine(state, hooks)
	default:
		return nil, fmt.Errorf("%w: unknown work order kind %q", domainwf.ErrInvalidState, kind)
	}
}

// InitialState returns the state a new work order of the kind starts in
func InitialState(kind entity.WorkOrderKind) (domainwf.State, error) {
	switch kind {
	case entity.KindReceiptIntake:
		return domainwf.StateReceived, nil
	case entity.KindAudit:
		return domainwf.StatePending, nil
	case entity.KindCommunication:
		return domainwf.StateProcessing, nil
	default:
		return "", fmt.Errorf("%w: unknown work order kind %q", domainwf.ErrInvalidState, kind)
	}
}

// OpinionTarget is the opinion-to-status mapping:
// approve -> APPROVED, reject -> REJECTED, anything else -> PROCESSING
func OpinionTarget(opinion entity.Opinion) domainwf.State {
	switch opinion {
	case entity.OpinionApprove:
		return domainwf.StateApproved
	case entity.OpinionReject:
		return domainwf.StateRejected
	default:
		return domainwf.StateProcessing
	}
}

// OpinionTrigger returns the trigger that records the opinion
func OpinionTrigger(opinion entity.Opinion) (domainwf.Trigger, error) {
	switch opinion {
	case entity.OpinionApprove:
		return domainwf.TriggerOpinionApprove, nil
	case entity.OpinionReject:
		return domainwf.TriggerOpinionReject, nil
	case entity.OpinionOther:
		return domainwf.TriggerOpinionOther, nil
	default:
		return "", fmt.Errorf("%w: empty opinion", domainwf.ErrInvalidTransition)
	}
}
