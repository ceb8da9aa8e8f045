package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

func TestParseClientMessage_Enqueue(t *testing.T) {
	input := []byte(`{"type":"enqueue","player_id":"p1","game_mode":"2v2","match_type":"ranked",` +
		`"player_level":42,"platform":"pc","criteria":{"skill_range_percent":10,"max_wait_seconds":90,` +
		`"allow_cross_platform":false,"preferred_region":"eu"}}`)

	msgType, msg, err := ParseClientMessage(input)
	require.NoError(t, err)
	assert.Equal(t, TypeEnqueue, msgType)

	m, ok := msg.(EnqueueMsg)
	require.True(t, ok, "got %T", msg)
	req, err := m.Request()
	require.NoError(t, err)

	assert.Equal(t, "p1", req.PlayerID)
	assert.Equal(t, match.Ranked, req.MatchType)
	assert.Equal(t, 42, req.PlayerLevel)
	assert.Equal(t, "pc", req.Platform)
	assert.Equal(t, 10, req.Criteria.SkillRangePercent)
	assert.Equal(t, 90*time.Second, req.Criteria.MaxWaitTime)
	assert.False(t, req.Criteria.AllowCrossPlatform)
	assert.Equal(t, "eu", req.Criteria.PreferredRegion)
	assert.Equal(t, match.DefaultCriteria().MinCompatibilityScore, req.Criteria.MinCompatibilityScore)
}

func TestEnqueueMsg_DefaultsAndValidation(t *testing.T) {
	req, err := EnqueueMsg{PlayerID: "p1", GameMode: "1v1", MatchType: "QUICK"}.Request()
	require.NoError(t, err)
	assert.Equal(t, match.DefaultCriteria(), req.Criteria)

	_, err = EnqueueMsg{PlayerID: "p1", GameMode: "1v1", MatchType: "arcade"}.Request()
	assert.ErrorIs(t, err, match.ErrInvalidRequest)

	bad := 150
	_, err = EnqueueMsg{PlayerID: "p1", GameMode: "1v1", MatchType: "QUICK",
		Criteria: &CriteriaMsg{SkillRangePercent: &bad}}.Request()
	assert.ErrorIs(t, err, match.ErrInvalidRequest)

	_, err = EnqueueMsg{GameMode: "1v1", MatchType: "QUICK"}.Request()
	assert.ErrorIs(t, err, match.ErrInvalidRequest)
}

func TestParseClientMessage_Responses(t *testing.T) {
	tests := []struct {
		input string
		want  interface{}
	}{
		{`{"type":"cancel","player_id":"p1"}`, CancelMsg{Type: TypeCancel, PlayerID: "p1"}},
		{`{"type":"accept","player_id":"p1","match_id":"m1"}`, AcceptMsg{Type: TypeAccept, PlayerID: "p1", MatchID: "m1"}},
		{`{"type":"reject","player_id":"p1","match_id":"m1"}`, RejectMsg{Type: TypeReject, PlayerID: "p1", MatchID: "m1"}},
		{`{"type":"status","player_id":"p1"}`, StatusMsg{Type: TypeStatus, PlayerID: "p1"}},
	}
	for _, tt := range tests {
		_, msg, err := ParseClientMessage([]byte(tt.input))
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, msg)
	}
}

func TestParseClientMessage_Errors(t *testing.T) {
	for _, input := range []string{
		`not json`,
		`{"player_id":"p1"}`,
		`{"type":""}`,
		`{"type":"match_found"}`,
		`{"type":"accept","match_id":42}`,
	} {
		_, _, err := ParseClientMessage([]byte(input))
		assert.Error(t, err, input)
	}
}

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeMatchFound, MatchFoundMsg{
		Type:           "wrong",
		MatchID:        "m1",
		RoomID:         "r1",
		Players:        []string{"a", "b"},
		AcceptDeadline: 30,
	})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, TypeMatchFound, out["type"])
	assert.Equal(t, "m1", out["match_id"])
	assert.EqualValues(t, 30, out["accept_deadline"])
}

func TestNewQueueError(t *testing.T) {
	e := NewQueueError(match.E("queue.Enqueue", match.KindQueueFull, nil))
	assert.Equal(t, "QUEUE_FULL", e.Code)
	assert.True(t, e.Retryable)

	e = NewQueueError(match.E("queue.Enqueue", match.KindPlayerAlreadyQueued, nil))
	assert.False(t, e.Retryable)

	e = NewQueueError(errors.New("boom"))
	assert.Equal(t, "INTERNAL", e.Code)
	assert.Equal(t, "boom", e.Message)
}
