package crdt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vifly/tasksApp/internal/schema"
)

func taskJSON(t *testing.T, uuid, content string, updatedMs int64) []byte {
	t.Helper()
	data, err := json.Marshal(&schema.Task{
		UUID:      uuid,
		Content:   content,
		Tags:      []string{},
		CreatedAt: schema.FromMillis(1000),
		UpdatedAt: schema.FromMillis(updatedMs),
		Weight:    100,
	})
	require.NoError(t, err)
	return data
}

func allTasks(t *testing.T, d *Document) []*schema.Task {
	t.Helper()
	data, err := d.GetAllTasksJSON()
	require.NoError(t, err)
	tasks, err := schema.UnmarshalTasks(data, time.Now())
	require.NoError(t, err)
	return tasks
}

func newDoc(actor string, ms int64) (*Document, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(ms))
	return New(actor, clock), clock
}

func TestDocument_AddUpdateDelete(t *testing.T) {
	d, _ := newDoc("a", 5000)

	require.NoError(t, d.AddTask(taskJSON(t, "u1", "Buy milk", 5000)))
	require.NoError(t, d.AddTask(taskJSON(t, "u2", "Walk dog", 5000)))
	require.NoError(t, d.UpdateTask("u1", taskJSON(t, "u1", "Buy oat milk", 5001)))
	require.NoError(t, d.DeleteTask("u2"))
	require.NoError(t, d.DeleteTask("u2"))

	tasks := allTasks(t, d)
	require.Len(t, tasks, 1)
	assert.Equal(t, "u1", tasks[0].UUID)
	assert.Equal(t, "Buy oat milk", tasks[0].Content)
	assert.Equal(t, 1, d.Len())
}

func TestDocument_GetAllTasksJSON_EmptyIsArray(t *testing.T) {
	d, _ := newDoc("a", 1)
	data, err := d.GetAllTasksJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestDocument_Convergence(t *testing.T) {
	a, clockA := newDoc("device-a", 10_000)
	b, clockB := newDoc("device-b", 10_000)

	require.NoError(t, a.AddTask(taskJSON(t, "shared", "from a", 10_000)))
	require.NoError(t, a.AddTask(taskJSON(t, "only-a", "a", 10_000)))
	clockB.Advance(5 * time.Millisecond)
	require.NoError(t, b.AddTask(taskJSON(t, "shared", "from b", 10_005)))
	require.NoError(t, b.AddTask(taskJSON(t, "only-b", "b", 10_005)))
	clockA.Advance(time.Second)
	require.NoError(t, a.DeleteTask("only-a"))

	deltaA, err := a.GetUpdate()
	require.NoError(t, err)
	deltaB, err := b.GetUpdate()
	require.NoError(t, err)

	// A third replica applying in the opposite order must agree.
	c, _ := newDoc("device-c", 1)
	require.NoError(t, c.ApplyUpdate(deltaB))
	require.NoError(t, c.ApplyUpdate(deltaA))

	require.NoError(t, a.ApplyUpdate(deltaB))
	require.NoError(t, b.ApplyUpdate(deltaA))

	jsonA, err := a.GetAllTasksJSON()
	require.NoError(t, err)
	jsonB, err := b.GetAllTasksJSON()
	require.NoError(t, err)
	jsonC, err := c.GetAllTasksJSON()
	require.NoError(t, err)

	assert.Equal(t, string(jsonA), string(jsonB))
	assert.Equal(t, string(jsonA), string(jsonC))

	tasks := allTasks(t, a)
	require.Len(t, tasks, 2)
	assert.Equal(t, "only-b", tasks[0].UUID)
	assert.Equal(t, "shared", tasks[1].UUID)
	assert.Equal(t, "from b", tasks[1].Content, "later stamp wins")
}

func TestDocument_ApplyUpdateIdempotent(t *testing.T) {
	a, _ := newDoc("a", 1000)
	require.NoError(t, a.AddTask(taskJSON(t, "u1", "x", 1000)))
	delta, err := a.GetUpdate()
	require.NoError(t, err)

	b, _ := newDoc("b", 1)
	require.NoError(t, b.ApplyUpdate(delta))
	first, err := b.GetAllTasksJSON()
	require.NoError(t, err)

	require.NoError(t, b.ApplyUpdate(delta))
	second, err := b.GetAllTasksJSON()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Zero(t, b.Pending(), "merged changes are not re-exported")
}

func TestDocument_ApplyUpdateEmptyIsNoop(t *testing.T) {
	d, _ := newDoc("a", 1)
	assert.NoError(t, d.ApplyUpdate(nil))
	assert.NoError(t, d.ApplyUpdate([]byte{}))
}

func TestDocument_ApplyUpdateMalformed(t *testing.T) {
	d, _ := newDoc("a", 1000)
	require.NoError(t, d.AddTask(taskJSON(t, "u1", "keep", 1000)))
	before, err := d.GetAllTasksJSON()
	require.NoError(t, err)

	good, err := d.GetUpdate()
	require.NoError(t, err)

	cases := map[string][]byte{
		"garbage":       []byte("not a delta"),
		"bad zstd":      append([]byte(deltaMagic), 0x01, 0x02, 0x03),
		"truncated":     good[:len(good)-3],
		"missing magic": good[len(deltaMagic):],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			err := d.ApplyUpdate(data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedUpdate)

			after, err := d.GetAllTasksJSON()
			require.NoError(t, err)
			assert.Equal(t, string(before), string(after))
		})
	}
}

func TestDocument_ApplyUpdateRejectsBadPayload(t *testing.T) {
	bad, err := encodeDelta(&deltaWire{
		Version: deltaVersion,
		Actor:   "x",
		Entries: []entryWire{
			{UUID: "ok", Stamp: 5, Actor: "x", Payload: taskJSON(t, "ok", "fine", 5)},
			{UUID: "u2", Stamp: 5, Actor: "x", Payload: []byte(`{"uuid":"u2","content":7}`)},
		},
	})
	require.NoError(t, err)

	d, _ := newDoc("a", 1)
	err = d.ApplyUpdate(bad)
	assert.ErrorIs(t, err, ErrMalformedUpdate)
	assert.Zero(t, d.Len(), "no entry of a rejected delta is applied")
}

func TestDocument_AckKeepsLaterWrites(t *testing.T) {
	d, clock := newDoc("a", 1000)
	require.NoError(t, d.AddTask(taskJSON(t, "u1", "first", 1000)))

	delta, err := d.GetUpdate()
	require.NoError(t, err)
	require.NotNil(t, delta)

	clock.Advance(time.Millisecond)
	require.NoError(t, d.AddTask(taskJSON(t, "u2", "second", 1001)))

	require.NoError(t, d.AckUpdate())
	assert.Equal(t, 1, d.Pending())

	next, err := d.GetUpdate()
	require.NoError(t, err)
	other, _ := newDoc("b", 1)
	require.NoError(t, other.ApplyUpdate(next))
	tasks := allTasks(t, other)
	require.Len(t, tasks, 1)
	assert.Equal(t, "u2", tasks[0].UUID)

	require.NoError(t, d.AckUpdate())
	none, err := d.GetUpdate()
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDocument_UnackedUpdateIsReexported(t *testing.T) {
	d, _ := newDoc("a", 1000)
	require.NoError(t, d.AddTask(taskJSON(t, "u1", "x", 1000)))

	first, err := d.GetUpdate()
	require.NoError(t, err)
	second, err := d.GetUpdate()
	require.NoError(t, err)
	assert.Equal(t, first, second, "deterministic encoding of the same pending set")
}

func TestDocument_LocalStampsMoveForward(t *testing.T) {
	// Clock behind the restored stamp: local edits must still win.
	d, _ := newDoc("a", 1000)
	require.NoError(t, d.RestoreFromJSON([]byte(`[`+string(taskJSON(t, "u1", "old", 9000))+`]`)))
	require.NoError(t, d.UpdateTask("u1", taskJSON(t, "u1", "new", 9000)))

	delta, err := d.GetUpdate()
	require.NoError(t, err)

	peer, _ := newDoc("b", 1)
	require.NoError(t, peer.ApplyUpdate(delta))
	tasks := allTasks(t, peer)
	require.Len(t, tasks, 1)
	assert.Equal(t, "new", tasks[0].Content)
}

func TestDocument_RestoreLosesToNewerRemote(t *testing.T) {
	remote, _ := newDoc("remote", 50_000)
	require.NoError(t, remote.AddTask(taskJSON(t, "u1", "remote edit", 50_000)))
	delta, err := remote.GetUpdate()
	require.NoError(t, err)

	// Restarted device restores an older row with a clock far ahead.
	local, _ := newDoc("local", 999_999)
	require.NoError(t, local.RestoreFromJSON([]byte(`[`+string(taskJSON(t, "u1", "stale", 20_000))+`]`)))
	require.NoError(t, local.ApplyUpdate(delta))

	tasks := allTasks(t, local)
	require.Len(t, tasks, 1)
	assert.Equal(t, "remote edit", tasks[0].Content)
}

func TestDocument_RestoreReplacesState(t *testing.T) {
	d, _ := newDoc("a", 1000)
	require.NoError(t, d.AddTask(taskJSON(t, "gone", "x", 1000)))
	require.NoError(t, d.DeleteTask("gone"))

	require.NoError(t, d.RestoreFromJSON([]byte(`[`+string(taskJSON(t, "u1", "x", 1000))+`]`)))
	tasks := allTasks(t, d)
	require.Len(t, tasks, 1)
	assert.Equal(t, "u1", tasks[0].UUID)
	assert.Equal(t, 1, d.Pending())

	assert.Error(t, d.RestoreFromJSON([]byte(`{"not":"array"}`)))
}

func TestDocument_DeleteBeatsConcurrentUpdate(t *testing.T) {
	a, _ := newDoc("a", 1000)
	require.NoError(t, a.AddTask(taskJSON(t, "u1", "x", 1000)))
	base, err := a.GetUpdate()
	require.NoError(t, err)

	b, _ := newDoc("b", 1000)
	require.NoError(t, b.ApplyUpdate(base))

	// Both write with the same stamp: the tombstone wins the tie.
	require.NoError(t, a.DeleteTask("u1"))
	require.NoError(t, b.UpdateTask("u1", taskJSON(t, "u1", "edited", 1001)))

	da, err := a.GetUpdate()
	require.NoError(t, err)
	db, err := b.GetUpdate()
	require.NoError(t, err)
	require.NoError(t, a.ApplyUpdate(db))
	require.NoError(t, b.ApplyUpdate(da))

	assert.Zero(t, a.Len())
	assert.Zero(t, b.Len())
}

func TestDocument_DeleteTaskAtKeepsOriginalTime(t *testing.T) {
	// Deleted at 30s, replayed after a restart with the clock at 999s.
	local, _ := newDoc("local", 999_999)
	require.NoError(t, local.RestoreFromJSON([]byte(`[]`)))
	require.NoError(t, local.DeleteTaskAt("u1", time.UnixMilli(30_000)))
	require.NoError(t, local.DeleteTaskAt("u1", time.UnixMilli(30_000)))
	assert.Equal(t, 1, local.Pending())

	tomb, err := local.GetUpdate()
	require.NoError(t, err)

	older, _ := newDoc("remote", 20_000)
	require.NoError(t, older.AddTask(taskJSON(t, "u1", "before delete", 20_000)))
	require.NoError(t, older.ApplyUpdate(tomb))
	assert.Zero(t, older.Len())

	newer, _ := newDoc("remote", 40_000)
	require.NoError(t, newer.AddTask(taskJSON(t, "u1", "after delete", 40_000)))
	require.NoError(t, newer.ApplyUpdate(tomb))
	assert.Equal(t, 1, newer.Len())
}

func TestDocument_DeleteTaskAtBeatsRestoredRow(t *testing.T) {
	d, _ := newDoc("a", 1000)
	require.NoError(t, d.RestoreFromJSON([]byte(`[`+string(taskJSON(t, "u1", "x", 5000))+`]`)))
	require.NoError(t, d.DeleteTaskAt("u1", time.UnixMilli(2000)))
	assert.Zero(t, d.Len())

	assert.Error(t, d.DeleteTaskAt("", time.UnixMilli(1)))
}
