package tradeoffer

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePollData() *PollData {
	pd := NewPollData()
	pd.OffersSince = 1700000000
	pd.Sent[101] = StateActive
	pd.Sent[102] = StateAccepted
	pd.Received[201] = StateCreatedNeedsConfirmation
	pd.Timestamps[101] = 1699990000
	pd.Timestamps[201] = 1699995000
	pd.OfferData[101] = map[string]json.RawMessage{
		"cancelTime": json.RawMessage(`60000`),
		"note":       json.RawMessage(`{"a": [1, 2]}`),
	}
	return pd
}

func TestPollData_Golden(t *testing.T) {
	data, err := samplePollData().Encode()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "polldata", data)
}

func TestPollData_RoundTrip(t *testing.T) {
	pd := samplePollData()
	data, err := pd.Encode()
	require.NoError(t, err)

	decoded, err := DecodePollData(data)
	require.NoError(t, err)

	want := pd.Clone()
	want.OfferData[101]["note"] = json.RawMessage(`{"a":[1,2]}`)
	assert.True(t, want.Equal(decoded))

	again, err := decoded.Encode()
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestPollData_DecodeMissingSections(t *testing.T) {
	pd, err := DecodePollData([]byte(`{"offersSince":5,"sent":{"1":2}}`))
	require.NoError(t, err)

	assert.Equal(t, int64(5), pd.OffersSince)
	assert.Equal(t, StateActive, pd.Sent[1])
	assert.NotNil(t, pd.Received)
	assert.NotNil(t, pd.Timestamps)
	assert.NotNil(t, pd.OfferData)

	_, err = DecodePollData([]byte(`{"sent":[`))
	assert.Error(t, err)
}

func TestPollData_CloneIsDeep(t *testing.T) {
	pd := samplePollData()
	cp := pd.Clone()
	require.True(t, pd.Equal(cp))

	cp.Sent[101] = StateCanceled
	cp.OfferData[101]["cancelTime"][0] = '7'
	assert.Equal(t, StateActive, pd.Sent[101])
	assert.JSONEq(t, `60000`, string(pd.OfferData[101]["cancelTime"]))
	assert.False(t, pd.Equal(cp))
}
