package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Commands(t *testing.T) {
	cmd, err := Decode([]byte(`{"event":"start","params":{"landscape":[9,0,9],"hours":2.5}}`))
	require.NoError(t, err)
	assert.Equal(t, KindStart, cmd.Kind)
	assert.Equal(t, []float64{9, 0, 9}, cmd.Start.Landscape)
	assert.Equal(t, 2.5, cmd.Start.Hours)

	for raw, want := range map[string]Kind{
		`{"event":"pause"}`:              KindPause,
		`{"event":"resume","params":{}}`: KindResume,
		`{"event":"forward"}`:            KindForward,
		`{"event":"rewind"}`:             KindUnknown,
		`{"type":"HELLO"}`:               KindUnknown,
	} {
		cmd, err := Decode([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, cmd.Kind, raw)
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`{"event":7}`,
		`[1,2,3]`,
	} {
		cmd, err := Decode([]byte(raw))
		require.ErrorIs(t, err, ErrMalformed, raw)
		assert.Equal(t, KindUnknown, cmd.Kind)
	}
}

func TestDecode_InvalidStart(t *testing.T) {
	for _, raw := range []string{
		`{"event":"start"}`,
		`{"event":"start","params":"abc"}`,
		`{"event":"start","params":{"landscape":"abc","hours":1}}`,
		`{"event":"start","params":{"landscape":[1,"x",3],"hours":1}}`,
		`{"event":"start","params":{"landscape":[1,2,3],"hours":"two"}}`,
		`{"event":"start","params":{"landscape":[1,2]}}`,
	} {
		cmd, err := Decode([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, KindStart, cmd.Kind, raw)
		assert.ErrorIs(t, cmd.Invalid, ErrInvalidStart, raw)
		assert.Nil(t, cmd.Start.Landscape, raw)
	}
}

func TestEncodeProgress(t *testing.T) {
	b, err := EncodeProgress(ProgressParams{Running: true, Time: 0.05})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"progress","params":{"running":true,"time":0.05,"levels":[]}}`, string(b))
}

func TestEncodeError(t *testing.T) {
	b, err := EncodeError(ErrBadRequest, "hours must be non-negative")
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(b, &env))
	assert.Equal(t, EventError, env.Event)
	var p ErrorParams
	require.NoError(t, json.Unmarshal(env.Params, &p))
	assert.Equal(t, ErrBadRequest, p.Code)
	assert.True(t, IsKnownCode(p.Code))
}

func TestEncodeCommand_RoundTrip(t *testing.T) {
	for _, c := range []Command{
		{Kind: KindStart, Start: StartParams{Landscape: []float64{1, 2}, Hours: 3}},
		{Kind: KindPause},
		{Kind: KindResume},
		{Kind: KindForward},
	} {
		b, err := EncodeCommand(c)
		require.NoError(t, err)
		got, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := EncodeCommand(Command{})
	assert.Error(t, err)
}
