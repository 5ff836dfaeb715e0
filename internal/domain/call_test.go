package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCall(t *testing.T) {
	call := NewCall("alice", "bob", CallTypeVideo, "conv-1")

	assert.NotEmpty(t, call.ID)
	assert.Equal(t, CallInitiated, call.Status)
	assert.Equal(t, UserID("alice"), call.CallerID)
	assert.Equal(t, UserID("bob"), call.CalleeID)
	require.Len(t, call.Participants, 2)
	assert.Equal(t, RoleHost, call.Participants[0].Role)
	assert.Equal(t, ParticipantJoining, call.Participants[0].Status)
	assert.Equal(t, RoleParticipant, call.Participants[1].Role)
	assert.Equal(t, ParticipantInvited, call.Participants[1].Status)
	assert.True(t, call.Participants[0].VideoEnabled)
}

func TestCallLifecycleHappyPath(t *testing.T) {
	call := NewCall("alice", "bob", CallTypeVoice, "")

	require.NoError(t, call.Transition(CallRinging))
	require.NoError(t, call.Transition(CallConnecting))
	require.NoError(t, call.Transition(CallActive))
	require.NotNil(t, call.StartedAt)
	assert.Nil(t, call.EndedAt)

	require.NoError(t, call.Transition(CallEnded))
	require.NotNil(t, call.EndedAt)
}

func TestCallTransitionRejectsSkips(t *testing.T) {
	call := NewCall("alice", "bob", CallTypeVoice, "")

	err := call.Transition(CallActive)
	assert.ErrorIs(t, err, ErrBadTransition)
	assert.Equal(t, CallInitiated, call.Status)
}

func TestCallTerminalIsFinal(t *testing.T) {
	for _, terminal := range []CallStatus{CallEnded, CallDeclined, CallMissed, CallFailed} {
		t.Run(string(terminal), func(t *testing.T) {
			call := NewCall("alice", "bob", CallTypeVoice, "")
			require.NoError(t, call.Transition(CallRinging))
			require.NoError(t, call.Transition(terminal))

			for _, next := range []CallStatus{CallRinging, CallConnecting, CallActive, CallEnded, CallFailed} {
				err := call.Transition(next)
				assert.ErrorIs(t, err, ErrTerminalStatus)
			}
			assert.Equal(t, terminal, call.Status)
		})
	}
}

func TestCallFailedReachableFromAnywhere(t *testing.T) {
	call := NewCall("alice", "bob", CallTypeVoice, "")
	require.NoError(t, call.Transition(CallRinging))
	require.NoError(t, call.Transition(CallConnecting))
	require.NoError(t, call.Transition(CallActive))
	require.NoError(t, call.Transition(CallFailed))
	assert.NotNil(t, call.EndedAt)
}

func TestPeerOf(t *testing.T) {
	call := NewCall("alice", "bob", CallTypeVoice, "")
	assert.Equal(t, UserID("bob"), call.PeerOf("alice"))
	assert.Equal(t, UserID("alice"), call.PeerOf("bob"))
}

func TestParticipantLookup(t *testing.T) {
	call := NewCall("alice", "bob", CallTypeVoice, "")
	require.NotNil(t, call.Participant("alice"))
	require.NotNil(t, call.Participant("bob"))
	assert.Nil(t, call.Participant("mallory"))
}
