package push

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-dispatcher/internal/models"
)

func payloadFromJSON(t *testing.T, raw string) models.Payload {
	t.Helper()
	var p models.Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

func TestBuildMessages_SoundStaysTopLevel(t *testing.T) {
	job := models.NotificationJob{
		ID:      "job-1",
		Kind:    models.KindRoundEnd,
		Payload: payloadFromJSON(t, `{"sound":"chime.wav","navigateTo":"/x"}`),
	}
	devices := []models.Device{{UserID: "u1", PushToken: "ExponentPushToken[a]"}}

	msgs := BuildMessages(job, devices)
	require.Len(t, msgs, 1)

	m := msgs[0]
	assert.Equal(t, "chime.wav", m.Sound)
	assert.NotContains(t, m.Data, "sound")
	assert.Equal(t, "/x", m.Data["navigateTo"])
	assert.Equal(t, "job-1", m.Data["jobId"])
	assert.Equal(t, "round_end", m.Data["kind"])
	assert.Contains(t, m.Data, "tournamentId")
	assert.Nil(t, m.Data["tournamentId"])
}

func TestBuildMessages_Defaults(t *testing.T) {
	job := models.NotificationJob{ID: "job-2", Kind: models.KindDailyOpen}
	msgs := BuildMessages(job, []models.Device{{PushToken: "tok"}})
	require.Len(t, msgs, 1)

	m := msgs[0]
	assert.Equal(t, "tok", m.To)
	assert.Equal(t, DefaultTitle, m.Title)
	assert.Equal(t, DefaultBody, m.Body)
	assert.Equal(t, DefaultSound, m.Sound)
	assert.Equal(t, DefaultChannelID, m.ChannelID)
	assert.Equal(t, PriorityHigh, m.Priority)
	assert.Equal(t, DefaultNavigateTo, m.Data["navigateTo"])
}

func TestBuildMessages_SoundVariants(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "empty string sound", payload: `{"sound":""}`, want: DefaultSound},
		{name: "non-string sound", payload: `{"sound":5}`, want: DefaultSound},
		{name: "null sound", payload: `{"sound":null}`, want: DefaultSound},
		{name: "custom", payload: `{"sound":"whistle.wav"}`, want: "whistle.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := models.NotificationJob{ID: "j", Kind: "k", Payload: payloadFromJSON(t, tt.payload)}
			msgs := BuildMessages(job, []models.Device{{PushToken: "tok"}})
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.want, msgs[0].Sound)
			assert.NotContains(t, msgs[0].Data, "sound")
		})
	}
}

func TestBuildMessages_PassthroughAndOverrides(t *testing.T) {
	tournament := "tour-7"
	job := models.NotificationJob{
		ID:           "job-3",
		Kind:         models.KindTournamentElimination,
		TournamentID: &tournament,
		Payload: payloadFromJSON(t, `{
			"title": "Knocked out",
			"body": "Better luck next time",
			"round": 3,
			"jobId": "spoofed",
			"kind": "spoofed"
		}`),
	}

	msgs := BuildMessages(job, []models.Device{{PushToken: "a"}, {PushToken: "b"}})
	require.Len(t, msgs, 2)

	assert.Equal(t, "a", msgs[0].To)
	assert.Equal(t, "b", msgs[1].To)
	for _, m := range msgs {
		assert.Equal(t, "Knocked out", m.Title)
		assert.Equal(t, "Better luck next time", m.Body)
		assert.Equal(t, "Knocked out", m.Data["title"])
		assert.Equal(t, float64(3), m.Data["round"])
		assert.Equal(t, "job-3", m.Data["jobId"])
		assert.Equal(t, "tournament_elimination", m.Data["kind"])
		assert.Equal(t, "tour-7", m.Data["tournamentId"])
	}

	// Each message owns its data map.
	msgs[0].Data["round"] = 99
	assert.Equal(t, float64(3), msgs[1].Data["round"])
}

func TestBuildMessages_Deterministic(t *testing.T) {
	job := models.NotificationJob{
		ID:      "job-4",
		Kind:    models.KindRoundEnd,
		Payload: payloadFromJSON(t, `{"title":"T","extra":{"a":1}}`),
	}
	devices := []models.Device{{PushToken: "a"}, {PushToken: "b"}}

	first, err := json.Marshal(BuildMessages(job, devices))
	require.NoError(t, err)
	second, err := json.Marshal(BuildMessages(job, devices))
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestBuildMessages_NoDevices(t *testing.T) {
	msgs := BuildMessages(models.NotificationJob{ID: "j"}, nil)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}
