package view

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_StartsAtHome(t *testing.T) {
	m := NewMachine(nil)
	assert.Equal(t, Mode{Kind: Home}, m.Mode())
	assert.True(t, m.Can(CmdCreate))
	assert.False(t, m.Can(CmdEndTrip))
}

func TestMachine_Transitions(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		commands []Command
		expected Mode
	}{
		{"create", []Command{{Name: CmdCreate}}, Mode{Kind: Creating}},
		{"create then view", []Command{{Name: CmdCreate}, {Name: CmdView, CycleID: "c1"}}, Mode{Kind: Viewing, CycleID: "c1"}},
		{"switch cycles", []Command{{Name: CmdView, CycleID: "c1"}, {Name: CmdView, CycleID: "c2"}}, Mode{Kind: Viewing, CycleID: "c2"}},
		{"report from view", []Command{{Name: CmdView, CycleID: "c1"}, {Name: CmdReport, CycleID: "c1"}}, Mode{Kind: Report, CycleID: "c1"}},
		{"back to view", []Command{{Name: CmdReport, CycleID: "c1"}, {Name: CmdView, CycleID: "c1"}}, Mode{Kind: Viewing, CycleID: "c1"}},
		{"home twice", []Command{{Name: CmdHome}, {Name: CmdHome}}, Mode{Kind: Home}},
		{
			"driver trip keeps the viewed cycle",
			[]Command{{Name: CmdView, CycleID: "c1"}, {Name: CmdTrip, TripMode: TripDriver}},
			Mode{Kind: Trip, CycleID: "c1", TripMode: TripDriver},
		},
		{
			"copilot trip",
			[]Command{{Name: CmdView, CycleID: "c1"}, {Name: CmdTrip, TripMode: TripCopilot, SessionID: "s1"}},
			Mode{Kind: Trip, TripMode: TripCopilot, SessionID: "s1"},
		},
		{
			"ending a cycle trip returns to the cycle",
			[]Command{{Name: CmdView, CycleID: "c1"}, {Name: CmdTrip, TripMode: TripDriver}, {Name: CmdEndTrip}},
			Mode{Kind: Viewing, CycleID: "c1"},
		},
		{
			"ending a free trip goes home",
			[]Command{{Name: CmdTrip, TripMode: TripCopilot, SessionID: "s1"}, {Name: CmdEndTrip}},
			Mode{Kind: Home},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			for _, cmd := range tt.commands {
				_, err := m.Apply(ctx, cmd)
				require.NoError(t, err, "command %s", cmd.Name)
			}
			assert.Equal(t, tt.expected, m.Mode())
		})
	}
}

func TestMachine_Rejections(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		setup    []Command
		cmd      Command
		expected error
	}{
		{"end trip outside a trip", nil, Command{Name: CmdEndTrip}, ErrInvalidTransition},
		{"view without cycle", nil, Command{Name: CmdView}, ErrMissingCycle},
		{"report without cycle", nil, Command{Name: CmdReport}, ErrMissingCycle},
		{"copilot without session", nil, Command{Name: CmdTrip, TripMode: TripCopilot}, ErrMissingSession},
		{"trip without mode", nil, Command{Name: CmdTrip}, ErrUnknownTripMode},
		{"unknown command", nil, Command{Name: "fly"}, ErrInvalidTransition},
		{"leave trip by home", []Command{{Name: CmdTrip, TripMode: TripDriver}}, Command{Name: CmdHome}, ErrInvalidTransition},
		{"report while creating", []Command{{Name: CmdCreate}}, Command{Name: CmdReport, CycleID: "c1"}, ErrInvalidTransition},
		{"trip from report", []Command{{Name: CmdReport, CycleID: "c1"}}, Command{Name: CmdTrip, TripMode: TripDriver}, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			for _, cmd := range tt.setup {
				_, err := m.Apply(ctx, cmd)
				require.NoError(t, err)
			}
			before := m.Mode()
			got, err := m.Apply(ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.expected)
			assert.Equal(t, before, got, "a rejected command keeps the mode")
			assert.Equal(t, before, m.Mode())
		})
	}
}

func TestMachine_OnChange(t *testing.T) {
	var changes [][2]Mode
	m := NewMachine(func(from, to Mode) { changes = append(changes, [2]Mode{from, to}) })

	_, err := m.Apply(context.Background(), Command{Name: CmdView, CycleID: "c1"})
	require.NoError(t, err)
	_, err = m.Apply(context.Background(), Command{Name: CmdView, CycleID: "c2"})
	require.NoError(t, err)
	_, err = m.Apply(context.Background(), Command{Name: CmdEndTrip})
	require.Error(t, err)

	require.Len(t, changes, 2)
	assert.Equal(t, Mode{Kind: Home}, changes[0][0])
	assert.Equal(t, "c1", changes[1][0].CycleID)
	assert.Equal(t, "c2", changes[1][1].CycleID)
}
