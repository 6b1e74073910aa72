package blob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateName_RoundTrip(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	name := UpdateName("0f6c-device_id", at)
	assert.Equal(t, "update_0f6c-device_id_1700000000123.bin", name)
	assert.Equal(t, "updates/"+name, UpdatePath(name))

	device, ts, err := ParseUpdateName(name)
	require.NoError(t, err)
	assert.Equal(t, "0f6c-device_id", device)
	assert.Equal(t, at.UnixMilli(), ts.UnixMilli())
}

func TestParseUpdateName_Rejects(t *testing.T) {
	for _, name := range []string{
		"notes.txt",
		"update_.bin",
		"update_dev_abc.bin",
		"other_dev_1.bin",
	} {
		_, _, err := ParseUpdateName(name)
		assert.Error(t, err, name)
	}
}

func TestSortByTimestamp(t *testing.T) {
	names := []string{
		"update_b_300.bin",
		"garbage.bin",
		"update_a_100.bin",
		"update_c_200.bin",
	}
	SortByTimestamp(names)
	assert.Equal(t, []string{
		"update_a_100.bin",
		"update_c_200.bin",
		"update_b_300.bin",
		"garbage.bin",
	}, names)
}

func TestIsDelta(t *testing.T) {
	assert.True(t, IsDelta("update_a_1.bin"))
	assert.False(t, IsDelta("update_a_1.bin.tmp"))
}
