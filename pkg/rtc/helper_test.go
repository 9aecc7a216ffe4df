package rtc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"
)

const (
	selfSID      = livekit.ParticipantID("PA_self")
	testVersion  = "0.4.1"
	testRoomSID  = "RM_test"
	testRoomName = "test-room"
)

type fakeTrack struct {
	id    string
	err   error
	stops atomic.Int32
}

func newFakeTrack(id string) *fakeTrack {
	return &fakeTrack{id: id}
}

func (f *fakeTrack) ID() string {
	return f.id
}

func (f *fakeTrack) Stop() error {
	f.stops.Inc()
	return f.err
}

type notificationRecorder struct {
	notifications []Notification
}

func (r *notificationRecorder) record(n Notification) {
	r.notifications = append(r.notifications, n)
}

func (r *notificationRecorder) types() []NotificationType {
	types := make([]NotificationType, 0, len(r.notifications))
	for _, n := range r.notifications {
		types = append(types, n.Type)
	}
	return types
}

func (r *notificationRecorder) reset() {
	r.notifications = nil
}

func newTestRoom() (*Room, *notificationRecorder) {
	room := NewRoom(logger.GetLogger())
	rec := &notificationRecorder{}
	room.OnNotification(rec.record)
	return room, rec
}

func participantInfo(sid string, identity string, state livekit.ParticipantInfo_State, tracks ...*livekit.TrackInfo) *livekit.ParticipantInfo {
	return &livekit.ParticipantInfo{
		Sid:      sid,
		Identity: identity,
		Name:     identity,
		State:    state,
		Tracks:   tracks,
	}
}

func trackInfo(sid string, kind livekit.TrackType, name string) *livekit.TrackInfo {
	return &livekit.TrackInfo{
		Sid:  sid,
		Type: kind,
		Name: name,
	}
}

func joinAccepted(serverVersion string, others ...*livekit.ParticipantInfo) JoinAccepted {
	return JoinAccepted{
		ServerVersion:     serverVersion,
		Room:              &livekit.Room{Sid: testRoomSID, Name: testRoomName},
		Participant:       participantInfo(string(selfSID), "self", livekit.ParticipantInfo_JOINED),
		OtherParticipants: others,
	}
}

// connectedRoom returns a room that completed a join with the given participants
// already in it. Notifications recorded during the join are cleared.
func connectedRoom(t *testing.T, others ...*livekit.ParticipantInfo) (*Room, *notificationRecorder) {
	room, rec := newTestRoom()
	future, start := room.Connect()
	require.True(t, start)
	room.HandleEvent(joinAccepted(testVersion, others...))

	connected, err := future.Result()
	require.NoError(t, err)
	require.Same(t, room, connected)
	rec.reset()
	return room, rec
}
