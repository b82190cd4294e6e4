package notify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	cases := []struct {
		in   string
		want Topic
	}{
		{"slot:2", SlotTopic(2)},
		{"slot:01", SlotTopic(1)},
		{" slot:+3 ", SlotTopic(3)},
		{"user:0017", UserTopic(17)},
		{"catalog", CatalogTopic()},
		{"admin", AdminTopic()},
	}
	for _, tc := range cases {
		got, err := ParseTopic(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "slot", "slot:x", "user:-1", "admin:1", "kitchen:1"} {
		_, err := ParseTopic(bad)
		assert.Error(t, err, bad)
	}
}

func TestTopicJSONUsesWireName(t *testing.T) {
	b, err := json.Marshal(struct {
		Topic Topic `json:"topic"`
	}{SlotTopic(3)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"slot:3"}`, string(b))

	var back struct {
		Topic Topic `json:"topic"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"topic":"slot:03"}`), &back))
	assert.Equal(t, SlotTopic(3), back.Topic)
}
