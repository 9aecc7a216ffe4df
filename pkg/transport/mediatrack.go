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
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/livekit/livekit-client/pkg/rtc/types"
)

var (
	_ types.MediaTrack = (*RemoteTrack)(nil)
	_ types.MediaTrack = (*DataTrack)(nil)
	_ types.MediaTrack = (*LocalTrack)(nil)
)

// RemoteTrack is a subscribed audio or video track.
type RemoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func newRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *RemoteTrack {
	return &RemoteTrack{track: track, receiver: receiver}
}

func (t *RemoteTrack) ID() string {
	return t.track.ID()
}

func (t *RemoteTrack) TrackRemote() *webrtc.TrackRemote {
	return t.track
}

func (t *RemoteTrack) Stop() error {
	return t.receiver.Stop()
}

// DataTrack is a data channel opened by the server on behalf of a remote participant.
type DataTrack struct {
	dc *webrtc.DataChannel
}

func newDataTrack(dc *webrtc.DataChannel) *DataTrack {
	return &DataTrack{dc: dc}
}

func (t *DataTrack) ID() string {
	return t.dc.Label()
}

func (t *DataTrack) DataChannel() *webrtc.DataChannel {
	return t.dc
}

func (t *DataTrack) Stop() error {
	return t.dc.Close()
}

// LocalTrack is a track published by the application.
type LocalTrack struct {
	track  webrtc.TrackLocal
	sender *webrtc.RTPSender
	pc     *webrtc.PeerConnection

	once sync.Once
}

func newLocalTrack(track webrtc.TrackLocal, sender *webrtc.RTPSender, pc *webrtc.PeerConnection) *LocalTrack {
	return &LocalTrack{track: track, sender: sender, pc: pc}
}

func (t *LocalTrack) ID() string {
	return t.track.ID()
}

func (t *LocalTrack) TrackLocal() webrtc.TrackLocal {
	return t.track
}

func (t *LocalTrack) Stop() error {
	var err error
	t.once.Do(func() {
		if t.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
			return
		}
		err = t.pc.RemoveTrack(t.sender)
	})
	return err
}
