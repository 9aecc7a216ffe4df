// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtc

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/thoas/go-funk"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-client/pkg/rtc/types"
)

const departedCacheSize = 256

// participantState is implemented by both participant kinds.
type participantState interface {
	types.Participant
	setAudioLevel(level float64)
	unpublishAll() int
}

// Room is the client side view of a session. It is not safe for concurrent use:
// every method except ConnectionState must be called from a single goroutine,
// which the engine guarantees by applying commands and events on one queue.
type Room struct {
	logger logger.Logger

	state         atomic.Int32
	everConnected bool
	connectFuture *ConnectFuture

	sid           string
	name          string
	serverVersion string

	localParticipant *LocalParticipant
	// participant sid => participant
	remoteParticipants map[livekit.ParticipantID]*RemoteParticipant
	activeSpeakers     []types.Participant
	// participants that left, so late media events for them are dropped
	departed *lru.Cache[livekit.ParticipantID, struct{}]

	onNotification func(n Notification)
}

func NewRoom(log logger.Logger) *Room {
	if log == nil {
		log = logger.GetLogger()
	}
	departed, _ := lru.New[livekit.ParticipantID, struct{}](departedCacheSize)
	return &Room{
		logger:             log,
		remoteParticipants: make(map[livekit.ParticipantID]*RemoteParticipant),
		departed:           departed,
	}
}

// OnNotification registers the single observer. It is invoked on the event queue.
func (r *Room) OnNotification(f func(n Notification)) {
	r.onNotification = f
}

func (r *Room) ConnectionState() types.ConnectionState {
	return types.ConnectionState(r.state.Load())
}

func (r *Room) SID() string {
	return r.sid
}

func (r *Room) Name() string {
	return r.name
}

func (r *Room) ServerVersion() string {
	return r.serverVersion
}

func (r *Room) LocalParticipant() *LocalParticipant {
	return r.localParticipant
}

func (r *Room) GetRemoteParticipant(sid livekit.ParticipantID) *RemoteParticipant {
	return r.remoteParticipants[sid]
}

func (r *Room) RemoteParticipants() []*RemoteParticipant {
	return funk.Values(r.remoteParticipants).([]*RemoteParticipant)
}

func (r *Room) ActiveSpeakers() []types.Participant {
	speakers := make([]types.Participant, len(r.activeSpeakers))
	copy(speakers, r.activeSpeakers)
	return speakers
}

// Connect starts a connection attempt. The returned bool is true only when the
// caller has to issue the join; otherwise the future describes the current attempt.
func (r *Room) Connect() (*ConnectFuture, bool) {
	switch r.ConnectionState() {
	case types.ConnectionStateConnected:
		return resolvedConnectFuture(r), false
	case types.ConnectionStateConnecting:
		return r.connectFuture, false
	}

	if r.everConnected {
		return rejectedConnectFuture(ErrRoomClosed), false
	}

	r.connectFuture = newConnectFuture()
	r.setState(types.ConnectionStateConnecting)
	r.logger.Infow("connecting to room")
	return r.connectFuture, true
}

// Disconnect is valid from any state and is a no-op once disconnected.
func (r *Room) Disconnect() {
	if r.ConnectionState() == types.ConnectionStateDisconnected {
		return
	}

	r.logger.Infow("disconnecting from room", "room", r.name, "roomID", r.sid)
	r.teardown(ErrDisconnected)
	r.notify(Notification{Type: NotificationDidDisconnect, Room: r})
}

// HandleEvent applies a single event. Participant updates emit
// ParticipantDidConnect for new participants and also for placeholders that were
// created from media and receive their first info. A disconnected update for a
// participant the room never knew about emits nothing.
func (r *Room) HandleEvent(event Event) {
	if event == nil {
		return
	}
	state := r.ConnectionState()
	switch ev := event.(type) {
	case JoinAccepted:
		if state != types.ConnectionStateConnecting {
			r.logger.Infow("ignoring join response, no connect pending", "state", state)
			return
		}
		r.onJoinAccepted(ev)
		return

	case TransportFailed:
		if state == types.ConnectionStateDisconnected {
			return
		}
		r.onTransportFailed(ev)
		return

	case TransportClosed:
		if state == types.ConnectionStateDisconnected {
			return
		}
		r.onTransportClosed(ev)
		return
	}

	if state != types.ConnectionStateConnected {
		r.logger.Debugw("dropping event, room not connected", "event", event.EventType(), "state", state)
		return
	}

	switch ev := event.(type) {
	case ParticipantUpdate:
		r.onParticipantUpdate(ev)
	case SpeakerUpdate:
		r.onSpeakerUpdate(ev)
	case RemoteTrackAdded:
		r.onRemoteTrackAdded(ev)
	case RemoteDataTrackAdded:
		r.onRemoteDataTrackAdded(ev)
	case LocalTrackPublished:
		r.onLocalTrackPublished(ev)
	default:
		r.logger.Warnw("unknown event", nil, "event", event.EventType())
	}
}

func (r *Room) onJoinAccepted(ev JoinAccepted) {
	if err := CheckServerVersion(ev.ServerVersion); err != nil {
		// the room stays connecting, the caller learns about it through the future
		r.logger.Errorw("could not join room", err, "serverVersion", ev.ServerVersion)
		r.connectFuture.reject(err)
		return
	}

	r.serverVersion = ev.ServerVersion
	if ev.Room != nil {
		r.sid = ev.Room.Sid
		r.name = ev.Room.Name
	}

	if ev.Participant != nil {
		lp, err := newLocalParticipant(ev.Participant, r.logger)
		if err != nil {
			r.logger.Warnw("invalid local participant info", err)
		} else {
			r.localParticipant = lp
		}
	}

	for _, pi := range ev.OtherParticipants {
		if pi != nil && r.localParticipant != nil && livekit.ParticipantID(pi.Sid) == r.localParticipant.SID() {
			r.logger.Warnw("ignoring local participant in join roster", nil, "pID", pi.Sid)
			continue
		}
		if _, _, err := r.getOrCreateParticipant(pi); err != nil {
			r.logger.Warnw("invalid participant info in join response", err)
		}
	}

	r.everConnected = true
	r.setState(types.ConnectionStateConnected)
	r.logger.Infow("connected to room",
		"room", r.name,
		"roomID", r.sid,
		"serverVersion", r.serverVersion,
		"numParticipants", len(r.remoteParticipants),
	)

	r.connectFuture.resolve(r)
	r.notify(Notification{Type: NotificationDidConnect, Room: r})
}

func (r *Room) onParticipantUpdate(ev ParticipantUpdate) {
	for _, pi := range ev.Participants {
		if pi == nil || pi.Sid == "" {
			r.logger.Warnw("skipping malformed participant update", ErrMissingSID)
			continue
		}
		sid := livekit.ParticipantID(pi.Sid)

		if r.localParticipant != nil && sid == r.localParticipant.SID() {
			if err := r.localParticipant.applyInfo(pi); err != nil {
				r.logger.Warnw("could not update local participant", err)
			}
			continue
		}

		if pi.State == livekit.ParticipantInfo_DISCONNECTED {
			r.removeParticipant(sid)
			continue
		}

		rp, created, err := r.getOrCreateParticipant(pi)
		if err != nil {
			r.logger.Warnw("could not create participant", err, "pID", sid)
			continue
		}
		r.departed.Remove(sid)
		if created {
			r.logger.Infow("participant connected", "pID", sid, "participant", rp.Identity())
			r.notify(Notification{Type: NotificationParticipantDidConnect, Room: r, Participant: rp})
			continue
		}

		wasPlaceholder := rp.isPlaceholder()
		if err := rp.applyInfo(pi); err != nil {
			r.logger.Warnw("could not update participant", err, "pID", sid)
			continue
		}
		if wasPlaceholder {
			// first info for a participant only known from its media
			r.logger.Infow("participant connected", "pID", sid, "participant", rp.Identity())
			r.notify(Notification{Type: NotificationParticipantDidConnect, Room: r, Participant: rp})
		}
	}
}

func (r *Room) removeParticipant(sid livekit.ParticipantID) {
	r.departed.Add(sid, struct{}{})

	rp, ok := r.remoteParticipants[sid]
	if !ok {
		r.logger.Debugw("participant already gone", "pID", sid)
		return
	}
	delete(r.remoteParticipants, sid)

	numUnpublished := rp.unpublishAll()
	rp.state = livekit.ParticipantInfo_DISCONNECTED
	rp.setAudioLevel(0)
	r.removeActiveSpeaker(sid)

	r.logger.Infow("participant disconnected",
		"pID", sid,
		"participant", rp.Identity(),
		"numUnpublished", numUnpublished,
	)
	r.notify(Notification{Type: NotificationParticipantDidDisconnect, Room: r, Participant: rp})
}

func (r *Room) removeActiveSpeaker(sid livekit.ParticipantID) {
	for i, p := range r.activeSpeakers {
		if p.SID() == sid {
			speakers := make([]types.Participant, 0, len(r.activeSpeakers)-1)
			speakers = append(speakers, r.activeSpeakers[:i]...)
			r.activeSpeakers = append(speakers, r.activeSpeakers[i+1:]...)
			return
		}
	}
}

func (r *Room) onSpeakerUpdate(ev SpeakerUpdate) {
	speakers := make([]types.Participant, 0, len(ev.Speakers))
	seen := make(map[livekit.ParticipantID]struct{}, len(ev.Speakers))
	for _, si := range ev.Speakers {
		if si == nil {
			continue
		}
		sid := livekit.ParticipantID(si.Sid)
		if _, ok := seen[sid]; ok {
			continue
		}
		p := r.lookupParticipant(sid)
		if p == nil {
			continue
		}
		seen[sid] = struct{}{}
		p.setAudioLevel(float64(si.Level))
		speakers = append(speakers, p)
	}

	if r.localParticipant != nil {
		if _, ok := seen[r.localParticipant.SID()]; !ok {
			r.localParticipant.setAudioLevel(0)
		}
	}
	for sid, rp := range r.remoteParticipants {
		if _, ok := seen[sid]; !ok {
			rp.setAudioLevel(0)
		}
	}

	r.activeSpeakers = speakers
	r.notify(Notification{Type: NotificationActiveSpeakersDidChange, Room: r, Speakers: r.ActiveSpeakers()})
}

func (r *Room) onRemoteTrackAdded(ev RemoteTrackAdded) {
	rp, err := r.trackOwner(ev.ParticipantSID)
	if err != nil {
		r.logger.Warnw("dropping remote track", err, "pID", ev.ParticipantSID, "trackID", ev.TrackSID)
		return
	}

	if _, err := rp.bindTrack(ev.TrackSID, ev.Kind, "", ev.Track); err != nil {
		r.logger.Warnw("could not add remote track", err, "pID", ev.ParticipantSID, "trackID", ev.TrackSID)
		return
	}
	r.logger.Debugw("remote track added", "pID", ev.ParticipantSID, "trackID", ev.TrackSID, "kind", ev.Kind)
}

func (r *Room) onRemoteDataTrackAdded(ev RemoteDataTrackAdded) {
	rp, err := r.trackOwner(ev.ParticipantSID)
	if err != nil {
		r.logger.Warnw("dropping remote data track", err, "pID", ev.ParticipantSID, "trackID", ev.TrackSID)
		return
	}

	if _, err := rp.bindTrack(ev.TrackSID, livekit.TrackType_DATA, ev.Name, ev.Track); err != nil {
		r.logger.Warnw("could not add remote data track", err, "pID", ev.ParticipantSID, "trackID", ev.TrackSID)
		return
	}
	r.logger.Debugw("remote data track added", "pID", ev.ParticipantSID, "trackID", ev.TrackSID, "name", ev.Name)
}

func (r *Room) onLocalTrackPublished(ev LocalTrackPublished) {
	if r.localParticipant == nil || ev.Track == nil {
		r.logger.Warnw("cannot add local track", ErrMissingInfo)
		return
	}
	if _, err := r.localParticipant.addPublishedTrack(ev.Track, ev.MediaTrack); err != nil {
		r.logger.Warnw("could not add local track", err, "trackID", ev.Track.Sid)
		return
	}
	r.logger.Debugw("local track published", "trackID", ev.Track.Sid, "kind", ev.Track.Type)
}

func (r *Room) onTransportClosed(ev TransportClosed) {
	var err error
	if ev.Code != CloseCodeNormal {
		err = &TransportError{Reason: ev.Reason, Code: ev.Code}
	}

	r.logger.Infow("signal connection closed", "code", ev.Code, "reason", ev.Reason)
	pendingErr := err
	if pendingErr == nil {
		pendingErr = ErrDisconnected
	}
	r.teardown(pendingErr)
	r.notify(Notification{Type: NotificationDidDisconnect, Room: r, Err: err})
}

func (r *Room) onTransportFailed(ev TransportFailed) {
	if r.ConnectionState() == types.ConnectionStateConnected {
		// failures after join end the session like an abnormal close
		r.logger.Warnw("transport failed", ev.Err)
		r.teardown(ev.Err)
		r.notify(Notification{Type: NotificationDidDisconnect, Room: r, Err: ev.Err})
		return
	}

	r.logger.Warnw("could not connect to room", ev.Err)
	if r.connectFuture != nil {
		r.connectFuture.reject(ev.Err)
	}
	r.setState(types.ConnectionStateDisconnected)
	r.notify(Notification{Type: NotificationDidFailToConnect, Room: r, Err: ev.Err})
}

// teardown moves to disconnected, releasing everything the session held. An
// outstanding connect is rejected with pendingErr.
func (r *Room) teardown(pendingErr error) {
	if r.connectFuture != nil {
		r.connectFuture.reject(pendingErr)
	}
	r.setState(types.ConnectionStateDisconnected)

	if r.localParticipant != nil {
		r.localParticipant.unpublishAll()
		r.localParticipant = nil
	}
	for sid, rp := range r.remoteParticipants {
		rp.unpublishAll()
		delete(r.remoteParticipants, sid)
	}
	r.activeSpeakers = nil
}

// getOrCreateParticipant returns the existing participant untouched, or creates one
// from info. Returns true when created.
func (r *Room) getOrCreateParticipant(pi *livekit.ParticipantInfo) (*RemoteParticipant, bool, error) {
	if pi == nil {
		return nil, false, ErrMissingInfo
	}
	if rp, ok := r.remoteParticipants[livekit.ParticipantID(pi.Sid)]; ok {
		return rp, false, nil
	}

	rp, err := newRemoteParticipantFromInfo(pi, r.logger)
	if err != nil {
		return nil, false, err
	}
	r.remoteParticipants[rp.SID()] = rp
	return rp, true, nil
}

// trackOwner resolves the owner of an incoming track, creating a placeholder that a
// later participant update will fill in.
func (r *Room) trackOwner(sid livekit.ParticipantID) (*RemoteParticipant, error) {
	if sid == "" {
		return nil, ErrMissingSID
	}
	if r.localParticipant != nil && sid == r.localParticipant.SID() {
		return nil, ErrSIDMismatch
	}
	if rp, ok := r.remoteParticipants[sid]; ok {
		return rp, nil
	}
	if r.departed.Contains(sid) {
		return nil, ErrParticipantDeparted
	}

	rp := newRemoteParticipant(sid, r.logger)
	r.remoteParticipants[sid] = rp
	r.logger.Debugw("created placeholder participant", "pID", sid)
	return rp, nil
}

func (r *Room) lookupParticipant(sid livekit.ParticipantID) participantState {
	if r.localParticipant != nil && r.localParticipant.SID() == sid {
		return r.localParticipant
	}
	if rp, ok := r.remoteParticipants[sid]; ok {
		return rp
	}
	return nil
}

func (r *Room) setState(state types.ConnectionState) {
	old := types.ConnectionState(r.state.Swap(int32(state)))
	if old != state {
		r.logger.Debugw("room state changed", "old", old, "new", state)
	}
}

func (r *Room) notify(n Notification) {
	if r.onNotification != nil {
		r.onNotification(n)
	}
}
