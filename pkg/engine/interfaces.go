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

	"github.com/pion/webrtc/v3"

	"github.com/livekit/protocol/livekit"

	"github.com/livekit/livekit-client/pkg/rtc/types"
)

// SignalClient carries signal messages to and from the server. Callbacks are
// invoked from the client's own goroutines.
type SignalClient interface {
	Dial(ctx context.Context, url string, token string, params types.ConnectParams) error
	OnMessage(f func(msg *livekit.SignalResponse))
	// OnClose is called once when the connection goes away for any reason other than Close.
	OnClose(f func(code int, reason string))
	SendRequest(req *livekit.SignalRequest) error
	SendLeave() error
	Close() error
}

// MediaTransport owns the peer connections and every media resource.
type MediaTransport interface {
	OnRemoteTrack(f func(streamID string, trackID string, kind livekit.TrackType, track types.MediaTrack))
	OnRemoteDataChannel(f func(label string, track types.MediaTrack))
	OnICECandidate(f func(candidate webrtc.ICECandidateInit, target livekit.SignalTarget))
	OnOffer(f func(offer webrtc.SessionDescription))

	// HandleOffer applies a server offer to the subscriber and returns the answer.
	HandleOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	HandleAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit, target livekit.SignalTarget) error
	PublishLocalTrack(track webrtc.TrackLocal) (types.MediaTrack, error)
	Close() error
}
