package natssink

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/testsupport/tcnats"
)

func setupConn(t *testing.T) *nats.Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	c, err := tcnats.SetupNats(ctx)
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, c.Container)
	conn, err := nats.Connect(c.URL)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestSink(t *testing.T) {
	conn := setupConn(t)
	ctx := context.Background()
	kv, err := SetupKeyValue(ctx, conn, "lapc-test")
	require.NoError(t, err)

	s := New(conn, WithPrefix("race1"), WithKeyValue(kv))
	snapSub, err := conn.SubscribeSync("race1.snapshot")
	require.NoError(t, err)
	evSub, err := conn.SubscribeSync("race1.event")
	require.NoError(t, err)

	snap := model.Snapshot{Entries: []model.SnapshotEntry{
		{Runner: "001", LapRecord: model.LapRecord{DisplayLaps: 2, ActualLaps: 1}},
	}}
	require.NoError(t, s.Publish(ctx, snap).Err)
	ev := model.NewDetectionEvent("001", time.Now(), model.LapRecord{DisplayLaps: 2, ActualLaps: 1})
	require.NoError(t, s.PublishEvent(ctx, ev).Err)
	require.NoError(t, s.Flush())

	msg, err := snapSub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var gotSnap model.Snapshot
	require.NoError(t, json.Unmarshal(msg.Data, &gotSnap))
	assert.Equal(t, snap.Records(), gotSnap.Records())

	msg, err = evSub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var gotEv model.DetectionEvent
	require.NoError(t, json.Unmarshal(msg.Data, &gotEv))
	assert.Equal(t, ev.ID, gotEv.ID)
	assert.Equal(t, model.RunnerID("001"), gotEv.Runner)

	latest, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Records(), latest.Records())
}

func TestSink_Subjects(t *testing.T) {
	s := New(nil)
	assert.Equal(t, "lapc.snapshot", s.SnapshotSubject())
	assert.Equal(t, "lapc.event", s.EventSubject())
	_, err := s.LatestSnapshot(context.Background())
	assert.Error(t, err)
}
