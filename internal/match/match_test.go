package match

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMatchRequest_Validation(t *testing.T) {
	_, err := NewMatchRequest("", "1v1", Quick, 1, DefaultCriteria())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = NewMatchRequest("p1", " ", Quick, 1, DefaultCriteria())
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = NewMatchRequest("p1", "1v1", MatchType("ARCADE"), 1, DefaultCriteria())
	assert.ErrorIs(t, err, ErrInvalidRequest)

	bad := DefaultCriteria()
	bad.MinCompatibilityScore = 120
	_, err = NewMatchRequest("p1", "1v1", Quick, 1, bad)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req, err := NewMatchRequest("p1", "1v1", Ranked, 12, DefaultCriteria())
	require.NoError(t, err)
	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, StatusWaiting, req.Status)
	assert.Equal(t, "1v1:RANKED", req.PartitionKey())
}

func TestParseMatchType(t *testing.T) {
	for _, s := range []string{"quick", "Ranked", " CUSTOM ", "tournament"} {
		_, ok := ParseMatchType(s)
		assert.True(t, ok, s)
	}
	_, ok := ParseMatchType("arena")
	assert.False(t, ok)
}

func TestSplitPartitionKey(t *testing.T) {
	mode, typ, ok := SplitPartitionKey("team:5v5:QUICK")
	require.True(t, ok)
	assert.Equal(t, "team:5v5", mode)
	assert.Equal(t, Quick, typ)

	_, _, ok = SplitPartitionKey("nocolon")
	assert.False(t, ok)
	_, _, ok = SplitPartitionKey("1v1:BOGUS")
	assert.False(t, ok)
}

func TestClone_IsDeep(t *testing.T) {
	req, err := NewMatchRequest("p1", "1v1", Custom, 3, DefaultCriteria())
	require.NoError(t, err)
	req.Metadata = map[string]string{"map": "dust"}
	req.Criteria.Custom = map[string]string{"ruleset": "classic"}

	c := req.Clone()
	c.Metadata["map"] = "nuke"
	c.Criteria.Custom["ruleset"] = "hardcore"
	c.Priority = 99

	assert.Equal(t, "dust", req.Metadata["map"])
	assert.Equal(t, "classic", req.Criteria.Custom["ruleset"])
	assert.Zero(t, req.Priority)
	assert.True(t, c.RequestTime.Equal(req.RequestTime))
}

func TestNewMatchResult_Validity(t *testing.T) {
	a, _ := NewMatchRequest("a", "1v1", Quick, 1, DefaultCriteria())
	b, _ := NewMatchRequest("b", "1v1", Quick, 1, DefaultCriteria())
	c, _ := NewMatchRequest("c", "2v2", Quick, 1, DefaultCriteria())

	_, err := NewMatchResult([]*MatchRequest{a}, 100, time.Minute)
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)

	_, err = NewMatchResult([]*MatchRequest{a, c}, 100, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = NewMatchResult([]*MatchRequest{a, a}, 100, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	res, err := NewMatchResult([]*MatchRequest{a, b}, 100, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ResultPending, res.Status)
	assert.Equal(t, []string{"a", "b"}, res.PlayerIDs())
	assert.Same(t, b, res.Request("b"))
	assert.Nil(t, res.Request("zzz"))
	assert.NotEmpty(t, res.MatchID)
	assert.WithinDuration(t, res.CreateTime.Add(time.Minute), res.ExpireTime, time.Millisecond)
}

func TestError_KindMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", E("queue.Enqueue", KindQueueFull, errors.New("cap 1000")))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.NotErrorIs(t, err, ErrPlayerAlreadyQueued)
	assert.Equal(t, KindQueueFull, KindOf(err))
	assert.True(t, KindOf(err).Retryable())
	assert.False(t, KindPlayerAlreadyQueued.Retryable())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestRuleBook_Fallbacks(t *testing.T) {
	book := DefaultRuleBook()
	assert.Equal(t, 2, book.For("1v1").MaxPlayers)
	assert.Equal(t, DefaultModeRules, book.For("unknown"))

	book["broken"] = ModeRules{MinPlayers: 0, MaxPlayers: 1}
	r := book.For("broken")
	assert.Equal(t, 2, r.MinPlayers)
	assert.Equal(t, 2, r.MaxPlayers)
	assert.Equal(t, 2, r.BracketSize)
}
