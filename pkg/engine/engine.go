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

package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gammazero/workerpool"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pion/webrtc/v3"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-client/pkg/rtc"
	"github.com/livekit/livekit-client/pkg/rtc/types"
	"github.com/livekit/livekit-client/pkg/telemetry/prometheus"
)

const participantVersionCacheSize = 512

var (
	ErrEngineClosed    = errors.New("engine is closed")
	ErrPublishPending  = errors.New("a track with the same id is already being published")
	ErrPublishRejected = errors.New("track could not be attached to the local participant")
)

type Params struct {
	Signal SignalClient
	Media  MediaTransport
	Logger logger.Logger
}

// Engine owns a Room and feeds it from the signal client and the media
// transport. Every input, including application commands, is applied on a
// single worker so the room sees one event at a time, in arrival order.
type Engine struct {
	logger logger.Logger
	signal SignalClient
	media  MediaTransport
	room   *rtc.Room

	queueLock sync.RWMutex
	queue     *workerpool.WorkerPool
	closed    core.Fuse

	// owned by the queue
	participantVersions *lru.Cache[livekit.ParticipantID, uint32]
	connectStartedAt    time.Time
	connectFuture       *rtc.ConnectFuture
	cancelDial          context.CancelFunc
	onNotification      func(n rtc.Notification)

	// dials run one at a time, so an abandoned connection is closed before the next one opens
	dialLock sync.Mutex

	// client track id => pending acknowledgement
	pendingLock   sync.Mutex
	pendingTracks map[string]chan *livekit.TrackInfo
}

func NewEngine(params Params) *Engine {
	log := params.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	versions, _ := lru.New[livekit.ParticipantID, uint32](participantVersionCacheSize)

	e := &Engine{
		logger:              log,
		signal:              params.Signal,
		media:               params.Media,
		room:                rtc.NewRoom(log),
		queue:               workerpool.New(1),
		participantVersions: versions,
		pendingTracks:       make(map[string]chan *livekit.TrackInfo),
	}
	e.room.OnNotification(e.handleNotification)

	e.signal.OnMessage(func(msg *livekit.SignalResponse) {
		e.submit(func() { e.handleSignal(msg) })
	})
	e.signal.OnClose(func(code int, reason string) {
		e.submit(func() { e.apply(rtc.TransportClosed{Code: code, Reason: reason}) })
	})

	e.media.OnRemoteTrack(e.onRemoteTrack)
	e.media.OnRemoteDataChannel(e.onRemoteDataChannel)
	e.media.OnICECandidate(e.sendICECandidate)
	e.media.OnOffer(e.sendOffer)
	return e
}

// OnNotification sets the observer for room notifications. It is invoked on the
// engine's queue, so it must not call back into blocking engine methods.
func (e *Engine) OnNotification(f func(n rtc.Notification)) {
	_ = e.submitWait(func() { e.onNotification = f })
}

// ConnectionState is safe to call from any goroutine.
func (e *Engine) ConnectionState() types.ConnectionState {
	return e.room.ConnectionState()
}

// Connect starts joining the room at url. Calling it again while an attempt is
// outstanding returns that attempt's future.
func (e *Engine) Connect(ctx context.Context, url string, token string, params types.ConnectParams) *rtc.ConnectFuture {
	var (
		future *rtc.ConnectFuture
		start  bool
	)
	dialCtx, cancel := context.WithCancel(ctx)
	if err := e.submitWait(func() {
		future, start = e.room.Connect()
		if start {
			e.connectStartedAt = time.Now()
			e.connectFuture = future
			e.cancelDial = cancel
			e.participantVersions.Purge()
		}
	}); err != nil {
		cancel()
		return rtc.FailedConnectFuture(err)
	}
	if !start {
		cancel()
		return future
	}

	go func() {
		defer cancel()
		e.dial(dialCtx, future, url, token, params)
	}()
	return future
}

// dial opens the signal connection for the attempt behind future. A connection
// that completes after the attempt was abandoned is closed right away.
func (e *Engine) dial(ctx context.Context, future *rtc.ConnectFuture, url string, token string, params types.ConnectParams) {
	e.dialLock.Lock()
	defer e.dialLock.Unlock()

	dialErr := e.signal.Dial(ctx, url, token, params)

	current := false
	if err := e.submitWait(func() {
		current = e.isCurrentAttempt(future)
		if current && dialErr != nil {
			e.logger.Warnw("could not dial signal connection", dialErr, "url", url)
			e.apply(rtc.TransportFailed{Err: dialErr})
		}
	}); err != nil {
		current = false
	}

	switch {
	case dialErr != nil:
		if !current {
			e.logger.Debugw("dial of abandoned connect attempt failed", "error", dialErr, "url", url)
		}
	case !current:
		e.logger.Infow("closing signal connection of abandoned connect attempt", "url", url)
		if err := e.signal.Close(); err != nil {
			e.logger.Debugw("could not close signal connection", "error", err)
		}
	}
}

// isCurrentAttempt must be called on the queue.
func (e *Engine) isCurrentAttempt(future *rtc.ConnectFuture) bool {
	return e.connectFuture == future && e.room.ConnectionState() != types.ConnectionStateDisconnected
}

func (e *Engine) Disconnect() {
	_ = e.submitWait(func() {
		if e.room.ConnectionState() == types.ConnectionStateDisconnected {
			return
		}
		e.room.Disconnect()
	})
}

// Close disconnects and stops the queue. The engine cannot be used afterwards.
func (e *Engine) Close() {
	e.Disconnect()

	e.queueLock.Lock()
	defer e.queueLock.Unlock()
	if e.closed.IsBroken() {
		return
	}
	e.closed.Break()
	e.queue.StopWait()
}

// Query runs f on the queue with exclusive access to the room.
func (e *Engine) Query(f func(room *rtc.Room)) error {
	return e.submitWait(func() { f(e.room) })
}

// PublishTrack asks the server to accept track, waits for the acknowledgement and
// then adds it to the publisher connection.
func (e *Engine) PublishTrack(ctx context.Context, track webrtc.TrackLocal, name string) (types.TrackPublication, error) {
	if e.room.ConnectionState() != types.ConnectionStateConnected {
		return nil, rtc.ErrNotConnected
	}

	kind := rtc.ToProtoTrackKind(track.Kind())
	cid := track.ID()
	ackCh := make(chan *livekit.TrackInfo, 1)

	e.pendingLock.Lock()
	if _, ok := e.pendingTracks[cid]; ok {
		e.pendingLock.Unlock()
		return nil, ErrPublishPending
	}
	e.pendingTracks[cid] = ackCh
	e.pendingLock.Unlock()
	defer func() {
		e.pendingLock.Lock()
		delete(e.pendingTracks, cid)
		e.pendingLock.Unlock()
	}()

	prometheus.AddPublishAttempt(kind.String())
	if err := e.signal.SendRequest(&livekit.SignalRequest{
		Message: &livekit.SignalRequest_AddTrack{
			AddTrack: &livekit.AddTrackRequest{
				Cid:  cid,
				Name: name,
				Type: kind,
			},
		},
	}); err != nil {
		return nil, err
	}

	var ti *livekit.TrackInfo
	select {
	case ti = <-ackCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.closed.Watch():
		return nil, ErrEngineClosed
	}

	mediaTrack, err := e.media.PublishLocalTrack(track)
	if err != nil {
		return nil, err
	}

	var pub types.TrackPublication
	if err := e.submitWait(func() {
		e.apply(rtc.LocalTrackPublished{Track: ti, MediaTrack: mediaTrack})
		if lp := e.room.LocalParticipant(); lp != nil {
			pub = lp.GetTrackPublication(livekit.TrackID(ti.Sid))
		}
	}); err != nil {
		return nil, err
	}
	if pub == nil || pub.Track() != mediaTrack {
		_ = mediaTrack.Stop()
		return nil, ErrPublishRejected
	}

	prometheus.AddPublishSuccess(kind.String())
	e.logger.Infow("published track", "trackID", ti.Sid, "cid", cid, "kind", kind)
	return pub, nil
}

func (e *Engine) handleSignal(msg *livekit.SignalResponse) {
	switch m := msg.Message.(type) {
	case *livekit.SignalResponse_Join:
		prometheus.IncrementMessage("join", "received")
		join := m.Join
		for _, pi := range join.OtherParticipants {
			if pi != nil {
				e.participantVersions.Add(livekit.ParticipantID(pi.Sid), pi.Version)
			}
		}
		e.apply(rtc.JoinAccepted{
			ServerVersion:     join.ServerVersion,
			Room:              join.Room,
			Participant:       join.Participant,
			OtherParticipants: join.OtherParticipants,
		})
		if e.room.ConnectionState() == types.ConnectionStateConnected && !e.connectStartedAt.IsZero() {
			prometheus.RecordConnectTime(time.Since(e.connectStartedAt))
			e.connectStartedAt = time.Time{}
		}

	case *livekit.SignalResponse_Update:
		prometheus.IncrementMessage("update", "received")
		if updates := e.filterParticipantUpdates(m.Update.Participants); len(updates) > 0 {
			e.apply(rtc.ParticipantUpdate{Participants: updates})
		}

	case *livekit.SignalResponse_SpeakersChanged:
		prometheus.IncrementMessage("speakers_changed", "received")
		e.apply(rtc.SpeakerUpdate{Speakers: m.SpeakersChanged.Speakers})

	case *livekit.SignalResponse_Leave:
		prometheus.IncrementMessage("leave", "received")
		e.logger.Infow("server requested leave")
		e.apply(rtc.TransportClosed{Code: rtc.CloseCodeNormal, Reason: "server requested leave"})

	case *livekit.SignalResponse_Offer:
		prometheus.IncrementMessage("offer", "received")
		answer, err := e.media.HandleOffer(rtc.FromProtoSessionDescription(m.Offer))
		if err != nil {
			e.logger.Warnw("could not handle offer", err)
			return
		}
		if err := e.signal.SendRequest(&livekit.SignalRequest{
			Message: &livekit.SignalRequest_Answer{
				Answer: rtc.ToProtoSessionDescription(answer),
			},
		}); err != nil {
			e.logger.Warnw("could not send answer", err)
		}

	case *livekit.SignalResponse_Answer:
		prometheus.IncrementMessage("answer", "received")
		if err := e.media.HandleAnswer(rtc.FromProtoSessionDescription(m.Answer)); err != nil {
			e.logger.Warnw("could not handle answer", err)
		}

	case *livekit.SignalResponse_Trickle:
		prometheus.IncrementMessage("trickle", "received")
		candidate, err := rtc.FromProtoTrickle(m.Trickle)
		if err != nil {
			e.logger.Warnw("could not decode ice candidate", err)
			return
		}
		if err := e.media.AddICECandidate(candidate, m.Trickle.Target); err != nil {
			e.logger.Warnw("could not add ice candidate", err, "target", m.Trickle.Target)
		}

	case *livekit.SignalResponse_TrackPublished:
		prometheus.IncrementMessage("track_published", "received")
		e.pendingLock.Lock()
		ackCh, ok := e.pendingTracks[m.TrackPublished.Cid]
		e.pendingLock.Unlock()
		if !ok {
			e.logger.Debugw("track published without pending request", "cid", m.TrackPublished.Cid)
			return
		}
		select {
		case ackCh <- m.TrackPublished.Track:
		default:
		}

	default:
		prometheus.IncrementMessage("unknown", "ignored")
		e.logger.Debugw("ignoring signal message", "message", msg.String())
	}
}

// filterParticipantUpdates drops infos that are older than one already applied.
func (e *Engine) filterParticipantUpdates(infos []*livekit.ParticipantInfo) []*livekit.ParticipantInfo {
	valid := make([]*livekit.ParticipantInfo, 0, len(infos))
	for _, pi := range infos {
		if pi == nil {
			continue
		}
		pID := livekit.ParticipantID(pi.Sid)
		if lastVersion, ok := e.participantVersions.Get(pID); ok && pi.Version < lastVersion {
			e.logger.Debugw("skipping outdated participant update", "pID", pID, "version", pi.Version, "lastVersion", lastVersion)
			continue
		}
		e.participantVersions.Add(pID, pi.Version)
		valid = append(valid, pi)
	}
	return valid
}

func (e *Engine) onRemoteTrack(streamID string, trackID string, kind livekit.TrackType, track types.MediaTrack) {
	pID, tID := rtc.UnpackStreamID(streamID)
	if tID == "" {
		tID = livekit.TrackID(trackID)
	}
	e.submit(func() {
		e.apply(rtc.RemoteTrackAdded{
			ParticipantSID: pID,
			TrackSID:       tID,
			Kind:           kind,
			Track:          track,
		})
		if e.room.ConnectionState() == types.ConnectionStateConnected {
			prometheus.AddSubscribedTrack(kind.String())
		}
	})
}

func (e *Engine) onRemoteDataChannel(label string, track types.MediaTrack) {
	pID, tID, name := rtc.UnpackDataTrackLabel(label)
	if pID == "" {
		e.logger.Debugw("ignoring data channel", "label", label)
		return
	}
	e.submit(func() {
		e.apply(rtc.RemoteDataTrackAdded{
			ParticipantSID: pID,
			TrackSID:       tID,
			Name:           name,
			Track:          track,
		})
	})
}

func (e *Engine) sendICECandidate(candidate webrtc.ICECandidateInit, target livekit.SignalTarget) {
	if err := e.signal.SendRequest(&livekit.SignalRequest{
		Message: &livekit.SignalRequest_Trickle{
			Trickle: rtc.ToProtoTrickle(candidate, target),
		},
	}); err != nil {
		e.logger.Debugw("could not send ice candidate", "error", err, "target", target)
	}
}

func (e *Engine) sendOffer(offer webrtc.SessionDescription) {
	if err := e.signal.SendRequest(&livekit.SignalRequest{
		Message: &livekit.SignalRequest_Offer{
			Offer: rtc.ToProtoSessionDescription(offer),
		},
	}); err != nil {
		e.logger.Warnw("could not send offer", err)
	}
}

// apply must be called on the queue.
func (e *Engine) apply(event rtc.Event) {
	e.room.HandleEvent(event)
	prometheus.EventProcessed(event.EventType())
	prometheus.SetRemoteParticipants(len(e.room.RemoteParticipants()))
}

// handleNotification runs on the queue, inside the room's event handling.
func (e *Engine) handleNotification(n rtc.Notification) {
	prometheus.NotificationSent(n.Type.String())

	switch n.Type {
	case rtc.NotificationDidDisconnect:
		e.stopDial()
		e.closeTransports()
		prometheus.ResetSubscribedTracks()
	case rtc.NotificationDidFailToConnect:
		// the media transport is untouched before join, so a retry can reuse it
		e.stopDial()
		if err := e.signal.Close(); err != nil {
			e.logger.Debugw("could not close signal connection", "error", err)
		}
	}

	if e.onNotification != nil {
		e.onNotification(n)
	}
}

func (e *Engine) stopDial() {
	if e.cancelDial != nil {
		e.cancelDial()
		e.cancelDial = nil
	}
}

func (e *Engine) closeTransports() {
	if err := e.signal.SendLeave(); err != nil {
		e.logger.Debugw("could not send leave", "error", err)
	}
	if err := e.signal.Close(); err != nil {
		e.logger.Debugw("could not close signal connection", "error", err)
	}
	if err := e.media.Close(); err != nil {
		e.logger.Warnw("could not close media transport", err)
	}
}

func (e *Engine) submit(f func()) {
	e.queueLock.RLock()
	defer e.queueLock.RUnlock()
	if e.closed.IsBroken() {
		return
	}
	e.queue.Submit(f)
}

func (e *Engine) submitWait(f func()) error {
	e.queueLock.RLock()
	defer e.queueLock.RUnlock()
	if e.closed.IsBroken() {
		return ErrEngineClosed
	}
	e.queue.SubmitWait(f)
	return nil
}
