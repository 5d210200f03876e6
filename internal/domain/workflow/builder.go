package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc evaluates whether an edge may be taken
type GuardFunc func(ctx context.Context) bool

// EntryFunc runs after the machine entered a state
type EntryFunc func(ctx context.Context, t Transition)

// StateMachineBuilder builds a transition table
type StateMachineBuilder interface {
	// Configure returns the configuration for the given state
	Configure(state State) StateConfiguration

	// States returns every state that was configured as a source or target
	States() []State

	// Build creates a machine positioned at initialState. The state must belong to the table.
	Build(initialState State) (StateMachine, error)
}

// StateConfiguration configures the outgoing edges of one state
type StateConfiguration interface {
	// Permit allows a trigger to move to the target state
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf allows a trigger to move to the target state when the guard passes
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration

	// OnEntry registers an action run whenever the state is entered
	OnEntry(fn EntryFunc) StateConfiguration
}

type edge struct {
	toState State
	guard   GuardFunc
}

type stateConfig struct {
	builder *stateMachineBuilder
	state   State
	edges   map[Trigger][]edge
	entry   []EntryFunc
}

type stateMachineBuilder struct {
	configurations map[State]*stateConfig
	known          map[State]bool
}

type stateMachine struct {
	currentState   State
	configurations map[State]*stateConfig
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[State]*stateConfig),
		known:          make(map[State]bool),
	}
}

// Configure returns the configuration for the given state, panicking on unknown states
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			builder: b,
			state:   state,
			edges:   make(map[Trigger][]edge),
		}
		b.configurations[state] = config
		b.known[state] = true
	}

	return config
}

// States returns every state of the table, sorted
func (b *stateMachineBuilder) States() []State {
	states := make([]State, 0, len(b.known))
	for s := range b.known {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	return states
}

// Build creates a machine with its own copy of the table
func (b *stateMachineBuilder) Build(initialState State) (StateMachine, error) {
	if !b.known[initialState] {
		return nil, fmt.Errorf("%w: %s is not part of this table", ErrInvalidState, initialState)
	}

	configsCopy := make(map[State]*stateConfig, len(b.configurations))
	for state, config := range b.configurations {
		edgesCopy := make(map[Trigger][]edge, len(config.edges))
		for trigger, edges := range config.edges {
			edgesCopy[trigger] = append([]edge{}, edges...)
		}
		configsCopy[state] = &stateConfig{
			state: state,
			edges: edgesCopy,
			entry: append([]EntryFunc{}, config.entry...),
		}
	}

	return &stateMachine{
		currentState:   initialState,
		configurations: configsCopy,
	}, nil
}

// Permit allows a trigger to move to the target state
func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

// PermitIf allows a trigger to move to the target state when the guard passes
func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	if !trigger.IsValid() {
		panic(fmt.Sprintf("invalid trigger: %s", trigger))
	}

	c.edges[trigger] = append(c.edges[trigger], edge{
		toState: toState,
		guard:   guard,
	})
	c.builder.known[toState] = true

	return c
}

// OnEntry registers an entry action
func (c *stateConfig) OnEntry(fn EntryFunc) StateConfiguration {
	c.entry = append(c.entry, fn)
	return c
}

// State returns the current state
func (m *stateMachine) State() State {
	return m.currentState
}

// CanFire returns true if the trigger has at least one edge from the current state.
// Guards are not evaluated here since they need a context.
func (m *stateMachine) CanFire(trigger Trigger) bool {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return false
	}
	return len(config.edges[trigger]) > 0
}

// Fire takes the first edge whose guard passes
func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) (Transition, error) {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return Transition{}, fmt.Errorf("%w: cannot fire %s from %s (no outgoing edges)", ErrInvalidTransition, trigger, m.currentState)
	}

	edges := config.edges[trigger]
	if len(edges) == 0 {
		return Transition{}, fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.currentState)
	}

	for _, e := range edges {
		if e.guard != nil && !e.guard(ctx) {
			continue
		}

		t := Transition{From: m.currentState, To: e.toState, Trigger: trigger}
		m.currentState = e.toState

		if target, ok := m.configurations[e.toState]; ok {
			for _, fn := range target.entry {
				fn(ctx, t)
			}
		}
		return t, nil
	}

	return Transition{}, fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.currentState)
}

// PermittedTriggers returns the triggers with an edge from the current state
func (m *stateMachine) PermittedTriggers() []Trigger {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return []Trigger{}
	}

	triggers := make([]Trigger, 0, len(config.edges))
	for trigger := range config.edges {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })

	return triggers
}
