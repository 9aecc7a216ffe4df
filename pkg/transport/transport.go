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

package transport

import (
	"errors"
	"sync"

	"github.com/pion/ice/v2"
	"github.com/pion/interceptor"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-client/pkg/rtc"
	"github.com/livekit/livekit-client/pkg/rtc/types"
)

const (
	lossyDataChannel    = "_lossy"
	reliableDataChannel = "_reliable"
)

var ErrTransportClosed = errors.New("media transport is closed")

var defaultICEServers = []webrtc.ICEServer{
	{
		URLs: []string{"stun:stun.l.google.com:19302"},
	},
}

type Config struct {
	ICEServers []webrtc.ICEServer
}

// Transport holds the publisher and subscriber peer connections of a session.
// The server offers on the subscriber; the client offers on the publisher.
type Transport struct {
	logger     logger.Logger
	publisher  *webrtc.PeerConnection
	subscriber *webrtc.PeerConnection

	reliableDC *webrtc.DataChannel
	lossyDC    *webrtc.DataChannel

	lock              sync.Mutex
	closed            bool
	pendingCandidates map[livekit.SignalTarget][]webrtc.ICECandidateInit

	onRemoteTrack       func(streamID string, trackID string, kind livekit.TrackType, track types.MediaTrack)
	onRemoteDataChannel func(label string, track types.MediaTrack)
	onICECandidate      func(candidate webrtc.ICECandidateInit, target livekit.SignalTarget)
	onOffer             func(offer webrtc.SessionDescription)
}

func NewTransport(conf Config, log logger.Logger) (*Transport, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{
		LoggerFactory: newLoggerFactory(log),
	}
	se.SetAnsweringDTLSRole(webrtc.DTLSRoleClient)
	se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(ir),
	)

	iceServers := conf.ICEServers
	if len(iceServers) == 0 {
		iceServers = defaultICEServers
	}
	rtcConf := webrtc.Configuration{ICEServers: iceServers}

	t := &Transport{
		logger:            log,
		pendingCandidates: make(map[livekit.SignalTarget][]webrtc.ICECandidateInit),
	}

	var err error
	if t.publisher, err = api.NewPeerConnection(rtcConf); err != nil {
		return nil, err
	}
	if t.subscriber, err = api.NewPeerConnection(rtcConf); err != nil {
		_ = t.publisher.Close()
		return nil, err
	}

	ordered := true
	t.reliableDC, err = t.publisher.CreateDataChannel(reliableDataChannel,
		&webrtc.DataChannelInit{Ordered: &ordered},
	)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	maxRetransmits := uint16(0)
	t.lossyDC, err = t.publisher.CreateDataChannel(lossyDataChannel,
		&webrtc.DataChannelInit{Ordered: &ordered, MaxRetransmits: &maxRetransmits},
	)
	if err != nil {
		_ = t.Close()
		return nil, err
	}

	t.publisher.OnICECandidate(func(ic *webrtc.ICECandidate) {
		t.handleLocalCandidate(ic, livekit.SignalTarget_PUBLISHER)
	})
	t.subscriber.OnICECandidate(func(ic *webrtc.ICECandidate) {
		t.handleLocalCandidate(ic, livekit.SignalTarget_SUBSCRIBER)
	})
	t.subscriber.OnTrack(t.handleRemoteTrack)
	t.subscriber.OnDataChannel(t.handleRemoteDataChannel)

	t.subscriber.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.logger.Debugw("subscriber ICE state has changed", "state", state.String())
	})
	t.publisher.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.logger.Debugw("publisher ICE state has changed", "state", state.String())
	})
	return t, nil
}

func (t *Transport) OnRemoteTrack(f func(streamID string, trackID string, kind livekit.TrackType, track types.MediaTrack)) {
	t.lock.Lock()
	t.onRemoteTrack = f
	t.lock.Unlock()
}

func (t *Transport) OnRemoteDataChannel(f func(label string, track types.MediaTrack)) {
	t.lock.Lock()
	t.onRemoteDataChannel = f
	t.lock.Unlock()
}

func (t *Transport) OnICECandidate(f func(candidate webrtc.ICECandidateInit, target livekit.SignalTarget)) {
	t.lock.Lock()
	t.onICECandidate = f
	t.lock.Unlock()
}

func (t *Transport) OnOffer(f func(offer webrtc.SessionDescription)) {
	t.lock.Lock()
	t.onOffer = f
	t.lock.Unlock()
}

// HandleOffer handles a server initiated offer on the subscriber.
func (t *Transport) HandleOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if t.isClosed() {
		return webrtc.SessionDescription{}, ErrTransportClosed
	}
	parsed := sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(offer.SDP)); err != nil {
		return webrtc.SessionDescription{}, err
	}
	t.logger.Debugw("received subscriber offer", "numMedia", len(parsed.MediaDescriptions))

	if err := t.subscriber.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	t.flushCandidates(livekit.SignalTarget_SUBSCRIBER)

	answer, err := t.subscriber.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.subscriber.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	t.logger.Debugw("created subscriber answer")
	return answer, nil
}

// HandleAnswer applies the server answer to a publisher offer.
func (t *Transport) HandleAnswer(answer webrtc.SessionDescription) error {
	if t.isClosed() {
		return ErrTransportClosed
	}
	if err := t.publisher.SetRemoteDescription(answer); err != nil {
		return err
	}
	t.flushCandidates(livekit.SignalTarget_PUBLISHER)
	return nil
}

// AddICECandidate queues candidates that arrive before the remote description.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit, target livekit.SignalTarget) error {
	pc := t.peerConnection(target)

	t.lock.Lock()
	if t.closed {
		t.lock.Unlock()
		return ErrTransportClosed
	}
	if pc.RemoteDescription() == nil {
		t.pendingCandidates[target] = append(t.pendingCandidates[target], candidate)
		t.lock.Unlock()
		return nil
	}
	t.lock.Unlock()

	return pc.AddICECandidate(candidate)
}

func (t *Transport) PublishLocalTrack(track webrtc.TrackLocal) (types.MediaTrack, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}
	sender, err := t.publisher.AddTrack(track)
	if err != nil {
		return nil, err
	}
	t.negotiate()
	return newLocalTrack(track, sender, t.publisher), nil
}

func (t *Transport) Close() error {
	t.lock.Lock()
	if t.closed {
		t.lock.Unlock()
		return nil
	}
	t.closed = true
	t.pendingCandidates = make(map[livekit.SignalTarget][]webrtc.ICECandidateInit)
	t.lock.Unlock()

	var err error
	for _, pc := range []*webrtc.PeerConnection{t.publisher, t.subscriber} {
		if pc != nil {
			err = multierr.Append(err, pc.Close())
		}
	}
	return err
}

// negotiate creates an offer on the publisher and hands it to the offer callback.
func (t *Transport) negotiate() {
	offer, err := t.publisher.CreateOffer(nil)
	if err != nil {
		t.logger.Warnw("could not create publisher offer", err)
		return
	}
	if err := t.publisher.SetLocalDescription(offer); err != nil {
		t.logger.Warnw("could not set publisher local description", err)
		return
	}

	t.lock.Lock()
	onOffer := t.onOffer
	t.lock.Unlock()
	if onOffer != nil {
		onOffer(offer)
	}
}

func (t *Transport) handleLocalCandidate(ic *webrtc.ICECandidate, target livekit.SignalTarget) {
	if ic == nil {
		return
	}
	t.lock.Lock()
	onICECandidate := t.onICECandidate
	t.lock.Unlock()
	if onICECandidate != nil {
		onICECandidate(ic.ToJSON(), target)
	}
}

func (t *Transport) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	t.lock.Lock()
	onRemoteTrack := t.onRemoteTrack
	t.lock.Unlock()

	t.logger.Debugw("remote track added", "streamID", track.StreamID(), "trackID", track.ID(), "kind", track.Kind())
	if onRemoteTrack != nil {
		onRemoteTrack(track.StreamID(), track.ID(), rtc.ToProtoTrackKind(track.Kind()), newRemoteTrack(track, receiver))
	}
}

func (t *Transport) handleRemoteDataChannel(dc *webrtc.DataChannel) {
	if dc.Label() == reliableDataChannel || dc.Label() == lossyDataChannel {
		return
	}

	t.lock.Lock()
	onRemoteDataChannel := t.onRemoteDataChannel
	t.lock.Unlock()

	t.logger.Debugw("remote data channel added", "label", dc.Label())
	if onRemoteDataChannel != nil {
		onRemoteDataChannel(dc.Label(), newDataTrack(dc))
	}
}

func (t *Transport) flushCandidates(target livekit.SignalTarget) {
	t.lock.Lock()
	pending := t.pendingCandidates[target]
	delete(t.pendingCandidates, target)
	t.lock.Unlock()

	pc := t.peerConnection(target)
	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			t.logger.Warnw("could not add pending ice candidate", err, "target", target)
		}
	}
}

func (t *Transport) peerConnection(target livekit.SignalTarget) *webrtc.PeerConnection {
	if target == livekit.SignalTarget_PUBLISHER {
		return t.publisher
	}
	return t.subscriber
}

func (t *Transport) isClosed() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.closed
}
