package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatusTransitions(t *testing.T) {
	all := []SessionStatus{SessionInProgress, SessionRevealing, SessionEnded}
	allowed := map[SessionStatus][]SessionStatus{
		SessionInProgress: {SessionInProgress, SessionRevealing, SessionEnded},
		SessionRevealing:  {SessionInProgress, SessionEnded},
		SessionEnded:      {},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}

	assert.False(t, SessionStatus("PAUSED").Valid())
	assert.False(t, SessionStatus("PAUSED").CanTransition(SessionEnded))
}

func TestTurnOutcomeTransitions(t *testing.T) {
	assert.True(t, OutcomePending.CanTransition(OutcomeCorrect))
	assert.True(t, OutcomePending.CanTransition(OutcomeWrong))
	assert.True(t, OutcomePending.CanTransition(OutcomeTimeout))
	assert.False(t, OutcomePending.CanTransition(OutcomePending))

	for _, resolved := range []TurnOutcome{OutcomeCorrect, OutcomeWrong, OutcomeTimeout} {
		assert.True(t, resolved.Resolved())
		for _, to := range []TurnOutcome{OutcomePending, OutcomeCorrect, OutcomeWrong, OutcomeTimeout} {
			assert.False(t, resolved.CanTransition(to), "%s -> %s", resolved, to)
		}
	}
	assert.False(t, TurnOutcome("SKIPPED").Valid())
}

func TestSessionBeforeSave(t *testing.T) {
	now := time.Now()

	s := &GameSession{Status: SessionInProgress}
	assert.NoError(t, s.BeforeSave(nil))

	s.EndedAt = &now
	assert.Error(t, s.BeforeSave(nil))

	s.Status = SessionEnded
	assert.NoError(t, s.BeforeSave(nil))

	s.EndedAt = nil
	assert.Error(t, s.BeforeSave(nil))

	assert.Error(t, (&GameSession{Status: "bogus"}).BeforeSave(nil))
}

func TestTurnBeforeSave(t *testing.T) {
	now := time.Now()

	turn := &GameTurn{Outcome: OutcomePending}
	assert.NoError(t, turn.BeforeSave(nil))
	assert.True(t, turn.IsOpen())

	turn.Outcome = OutcomeWrong
	assert.Error(t, turn.BeforeSave(nil))

	turn.AnsweredAt = &now
	assert.NoError(t, turn.BeforeSave(nil))
}

func TestStringList(t *testing.T) {
	l := StringList{"Style", "Willow", "Style"}
	assert.Equal(t, 2, l.Count("Style"))
	assert.True(t, l.Contains("Willow"))
	assert.False(t, l.Contains("Karma"))

	v, err := l.Value()
	require.NoError(t, err)
	assert.Equal(t, `["Style","Willow","Style"]`, v)

	var back StringList
	require.NoError(t, back.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, StringList{"a", "b"}, back)

	require.NoError(t, back.Scan(nil))
	assert.Empty(t, back)

	assert.Error(t, back.Scan(42))

	empty, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)
}
