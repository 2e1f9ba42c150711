package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameSingleObject(t *testing.T) {
	envs, err := ParseFrame([]byte(`{"msg_type":"0001","body":{"train_id":"123A"}}`))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, MsgActivation, envs[0].MsgType)
}

func TestParseFrameArray(t *testing.T) {
	envs, err := ParseFrame([]byte(`  [{"msg_type":"0002","body":{}},{"msg_type":"0003","body":{}}]`))
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, MsgCancellation, envs[0].MsgType)
	assert.Equal(t, MsgMovement, envs[1].MsgType)
}

func TestParseFrameEmpty(t *testing.T) {
	_, err := ParseFrame([]byte("   "))
	assert.Error(t, err)
}

func TestParseEpochMillis(t *testing.T) {
	ts, err := parseEpochMillis("1684756800000")
	require.NoError(t, err)
	assert.Equal(t, 2023, ts.Year())

	zero, err := parseEpochMillis("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = parseEpochMillis("not-a-number")
	assert.Error(t, err)
}

func TestParseBool(t *testing.T) {
	assert.True(t, parseBool("true"))
	assert.False(t, parseBool("false"))
	assert.False(t, parseBool(""))
}

func TestIngesterCorrectTimestamp(t *testing.T) {
	ing := &Ingester{DSTCorrection: func(time.Time) bool { return true }}
	base := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(-time.Hour), ing.correctTimestamp(base))

	ing.DSTCorrection = func(time.Time) bool { return false }
	assert.Equal(t, base, ing.correctTimestamp(base))

	ing.DSTCorrection = nil
	assert.Equal(t, base, ing.correctTimestamp(base))
}
