package checkpoint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	state := map[string]any{
		"thread_id":  "t-1",
		"status":     "PAUSED",
		"risk_score": 25,
	}

	data, err := Encode(state)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(decoded, &got))
	assert.Equal(t, "t-1", got["thread_id"])
	assert.Equal(t, "PAUSED", got["status"])
	assert.Equal(t, float64(25), got["risk_score"])
}

func TestEncodeNilState(t *testing.T) {
	_, err := Encode(nil)
	require.Error(t, err)
	assert.Equal(t, types.CHECKPOINT_FAILED, types.CodeOf(err))
}

func TestDecodeEmptyData(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
	assert.Equal(t, types.CHECKPOINT_CORRUPT, types.CodeOf(err))
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	data, err := json.Marshal(envelope{
		Version:  SchemaVersion + 1,
		Checksum: "abc",
		State:    json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	assert.Equal(t, types.CHECKPOINT_INCOMPATIBLE, types.CodeOf(err))
}

func TestDecodeRejectsTamperedState(t *testing.T) {
	data, err := Encode(map[string]any{"status": "RUNNING"})
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	env.State = json.RawMessage(`{"status":"COMPLETED"}`)
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = Decode(tampered)
	require.Error(t, err)
	assert.Equal(t, types.CHECKPOINT_CORRUPT, types.CodeOf(err))
}

func TestDecodeMissingChecksum(t *testing.T) {
	data, err := json.Marshal(envelope{
		Version: SchemaVersion,
		State:   json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
	assert.Equal(t, types.CHECKPOINT_CORRUPT, types.CodeOf(err))
}
