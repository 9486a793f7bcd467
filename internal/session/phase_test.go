package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	steps := []struct {
		trigger Trigger
		want    Phase
	}{
		{TriggerStart, PhaseAwaitingMedia},
		{TriggerMediaReady, PhaseActive},
		{TriggerInterrupt, PhaseInterrupted},
		{TriggerResume, PhaseActive},
		{TriggerInterrupt, PhaseInterrupted},
		{TriggerResume, PhaseActive},
		{TriggerEnd, PhaseEnding},
		{TriggerSummarize, PhaseSummaryPending},
		{TriggerSummarize, PhaseSummaryPending},
		{TriggerSummaryDone, PhaseComplete},
	}

	phase := PhaseIdle
	for _, step := range steps {
		next, err := Transition(phase, step.trigger)
		require.NoError(t, err, "%s --(%s)", phase, step.trigger)
		require.Equal(t, step.want, next)
		phase = next
	}
}

func TestTransitionTerminateFromAnyLivePhase(t *testing.T) {
	for _, phase := range []Phase{PhaseIdle, PhaseAwaitingMedia, PhaseActive, PhaseInterrupted, PhaseEnding, PhaseSummaryPending} {
		next, err := Transition(phase, TriggerTerminate)
		require.NoError(t, err)
		require.Equal(t, PhaseComplete, next)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		phase   Phase
		trigger Trigger
	}{
		{name: "idle interrupt invalid", phase: PhaseIdle, trigger: TriggerInterrupt},
		{name: "awaiting media resume invalid", phase: PhaseAwaitingMedia, trigger: TriggerResume},
		{name: "active summarize invalid", phase: PhaseActive, trigger: TriggerSummarize},
		{name: "active resume invalid", phase: PhaseActive, trigger: TriggerResume},
		{name: "interrupted interrupt invalid", phase: PhaseInterrupted, trigger: TriggerInterrupt},
		{name: "ending end invalid", phase: PhaseEnding, trigger: TriggerEnd},
		{name: "summary pending resume invalid", phase: PhaseSummaryPending, trigger: TriggerResume},
		{name: "complete start invalid", phase: PhaseComplete, trigger: TriggerStart},
		{name: "complete terminate invalid", phase: PhaseComplete, trigger: TriggerTerminate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Transition(tt.phase, tt.trigger)
			require.Error(t, err)
			require.Equal(t, tt.phase, next)
		})
	}
}

func TestTransitionUnknownPhase(t *testing.T) {
	_, err := Transition(Phase("paused"), TriggerStart)
	require.ErrorContains(t, err, "unknown phase")
}

func TestPhaseLive(t *testing.T) {
	require.True(t, PhaseActive.Live())
	require.True(t, PhaseInterrupted.Live())
	require.True(t, PhaseAwaitingMedia.Live())
	require.False(t, PhaseEnding.Live())
	require.False(t, PhaseComplete.Live())
}
