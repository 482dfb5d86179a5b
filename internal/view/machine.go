// Package view holds the screen mode of a connected client. Exactly one mode
// is active at a time; the cycle or session it refers to travels with it.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// Kind names a screen mode.
type Kind string

const (
	Home     Kind = "home"
	Creating Kind = "creating"
	Viewing  Kind = "viewing"
	Report   Kind = "report"
	Trip     Kind = "trip"
)

// TripMode tells the driver of a trip from a co-pilot following it.
type TripMode string

const (
	TripDriver  TripMode = "driver"
	TripCopilot TripMode = "copilot"
)

// Commands accepted by the machine.
const (
	CmdHome    = "home"
	CmdCreate  = "create"
	CmdView    = "view"
	CmdReport  = "report"
	CmdTrip    = "trip"
	CmdEndTrip = "end_trip"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrMissingCycle      = errors.New("cycle id required")
	ErrMissingSession    = errors.New("session id required")
	ErrUnknownTripMode   = errors.New("unknown trip mode")
)

// Mode is the active screen. CycleID is set for Viewing and Report, and for
// a Trip recorded into a cycle. TripMode and SessionID are set for Trip only.
type Mode struct {
	Kind      Kind     `json:"kind"`
	CycleID   string   `json:"cycle_id,omitempty"`
	TripMode  TripMode `json:"trip_mode,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// Command asks the machine to change mode.
type Command struct {
	Name      string   `json:"command"`
	CycleID   string   `json:"cycle_id,omitempty"`
	TripMode  TripMode `json:"trip_mode,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// Machine is the screen-mode state machine of one client.
type Machine struct {
	mu       sync.Mutex
	fsm      *fsm.FSM
	mode     Mode
	onChange func(from, to Mode)
}

// NewMachine starts at Home. onChange, when set, runs after every applied
// command, including re-entering the same kind with a different cycle.
func NewMachine(onChange func(from, to Mode)) *Machine {
	return &Machine{
		mode:     Mode{Kind: Home},
		onChange: onChange,
		fsm: fsm.NewFSM(
			string(Home),
			fsm.Events{
				{Name: CmdHome, Src: []string{string(Home), string(Creating), string(Viewing), string(Report)}, Dst: string(Home)},
				{Name: CmdCreate, Src: []string{string(Home), string(Viewing)}, Dst: string(Creating)},
				{Name: CmdView, Src: []string{string(Home), string(Creating), string(Viewing), string(Report)}, Dst: string(Viewing)},
				{Name: CmdReport, Src: []string{string(Home), string(Viewing), string(Report)}, Dst: string(Report)},
				{Name: CmdTrip, Src: []string{string(Home), string(Viewing)}, Dst: string(Trip)},
				{Name: CmdEndTrip, Src: []string{string(Trip)}, Dst: string(Home)},
			},
			fsm.Callbacks{},
		),
	}
}

// Mode returns the active mode.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Can reports whether cmd is allowed from the active mode.
func (m *Machine) Can(cmd string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Can(cmd)
}

// Apply runs a command and returns the new mode. A driver trip started
// from a cycle records into it, and ending such a trip returns to the cycle.
func (m *Machine) Apply(ctx context.Context, cmd Command) (Mode, error) {
	next, err := target(cmd)
	if err != nil {
		return m.Mode(), err
	}

	m.mu.Lock()
	from := m.mode
	switch cmd.Name {
	case CmdEndTrip:
		err = m.fire(ctx, CmdEndTrip)
		if err == nil && from.CycleID != "" {
			next = Mode{Kind: Viewing, CycleID: from.CycleID}
			err = m.fire(ctx, CmdView)
		}
	case CmdTrip:
		if next.TripMode == TripDriver && next.CycleID == "" {
			next.CycleID = from.CycleID
		}
		err = m.fire(ctx, cmd.Name)
	default:
		err = m.fire(ctx, cmd.Name)
	}
	if err != nil {
		m.mu.Unlock()
		return from, err
	}
	m.mode = next
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(from, next)
	}
	return next, nil
}

// fire triggers an fsm event. Staying in the same state is a valid
// transition here since the mode's payload may still change.
func (m *Machine) fire(ctx context.Context, event string) error {
	err := m.fsm.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return nil
	}
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, m.fsm.Current())
	}
	var unknown fsm.UnknownEventError
	if errors.As(err, &unknown) {
		return fmt.Errorf("%w: unknown command %q", ErrInvalidTransition, event)
	}
	return err
}

// target builds the mode a command leads to, checking its arguments.
func target(cmd Command) (Mode, error) {
	switch cmd.Name {
	case CmdHome, CmdEndTrip:
		return Mode{Kind: Home}, nil
	case CmdCreate:
		return Mode{Kind: Creating}, nil
	case CmdView:
		if cmd.CycleID == "" {
			return Mode{}, ErrMissingCycle
		}
		return Mode{Kind: Viewing, CycleID: cmd.CycleID}, nil
	case CmdReport:
		if cmd.CycleID == "" {
			return Mode{}, ErrMissingCycle
		}
		return Mode{Kind: Report, CycleID: cmd.CycleID}, nil
	case CmdTrip:
		switch cmd.TripMode {
		case TripDriver:
		case TripCopilot:
			if cmd.SessionID == "" {
				return Mode{}, ErrMissingSession
			}
		default:
			return Mode{}, fmt.Errorf("%w %q", ErrUnknownTripMode, cmd.TripMode)
		}
		return Mode{Kind: Trip, CycleID: cmd.CycleID, TripMode: cmd.TripMode, SessionID: cmd.SessionID}, nil
	default:
		return Mode{}, fmt.Errorf("%w: unknown command %q", ErrInvalidTransition, cmd.Name)
	}
}
