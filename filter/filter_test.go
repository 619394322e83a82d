package filter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-meeting/types"
)

func TestConversionHelpers(t *testing.T) {
	assert.Equal(t, int64(42), AsInt("42"))
	assert.Equal(t, int64(42), AsInt(42.0))
	assert.Equal(t, int64(0), AsInt("forty-two"))
	assert.Equal(t, 0.5, AsFloat("0.5"))
	assert.Equal(t, "3", AsString(3))
	assert.Equal(t, []string{"a", "b"}, AsStringSlice("a,b"))
	assert.Empty(t, AsStringSlice(""))
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	f, err := Compile("")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.True(t, f.Match(NewEnv()))
}

func TestCompileRejectsInvalidExpression(t *testing.T) {
	_, err := Compile(`Name ==`)
	assert.Error(t, err)
	_, err = Compile(`Unknown == "x"`)
	assert.Error(t, err)
}

func TestNotificationFilter(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	n := types.NewNotification("retro-1", types.MessageTypeVoteUpdate, types.Identity{Id: "u1", Name: "Ada"},
		json.RawMessage(`{"item":"42","score":"5"}`), created)
	env := NotificationEnv(n, "u1", 3)

	cases := []struct {
		filter string
		match  bool
	}{
		{`Name == "vote_update"`, true},
		{`Name in ["rating", "notes_update"]`, false},
		{`Room.Id == "retro-1" && Room.Participants > 2`, true},
		{`Source.IsLeader`, true},
		{`Source.Name == "Grace"`, false},
		{`AsInt(Data["score"]) >= 5`, true},
		{`Created == 1709283600`, true},
	}
	for _, c := range cases {
		f, err := Compile(c.filter)
		require.NoError(t, err, c.filter)
		assert.Equal(t, c.match, f.Match(env), c.filter)
	}
}

func TestNotificationEnvIgnoresNonObjectData(t *testing.T) {
	n := types.NewNotification("r", types.MessageTypeRating, types.Identity{Id: "u"}, json.RawMessage(`[1,2]`), time.Now())
	env := NotificationEnv(n, "", 1)
	assert.NotNil(t, env.Data)
	assert.Empty(t, env.Data)
	assert.False(t, env.Source.IsLeader)
}
