package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdvanceHappyPath(t *testing.T) {
	m := &Message{Status: StatusWaiting}
	require.NoError(t, m.Advance(StatusSent))
	require.NoError(t, m.Advance(StatusDelivered))
}

func TestAdvanceRetryResetsToWaiting(t *testing.T) {
	m := &Message{Status: StatusSent}
	require.NoError(t, m.Advance(StatusWaiting))
	require.Equal(t, StatusWaiting, m.Status)
}

func TestAdvanceRejectsSkippingSent(t *testing.T) {
	m := &Message{Status: StatusWaiting}
	require.ErrorIs(t, m.Advance(StatusDelivered), ErrInvalidTransition)
}

func TestAdvanceRejectsDeliveredBackwards(t *testing.T) {
	m := &Message{Status: StatusDelivered}
	require.ErrorIs(t, m.Advance(StatusWaiting), ErrInvalidTransition)
}
