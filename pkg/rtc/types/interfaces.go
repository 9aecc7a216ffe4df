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

package types

import (
	"github.com/livekit/protocol/livekit"
)

type ConnectionState int32

const (
	ConnectionStateDisconnected ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateDisconnected:
		return "DISCONNECTED"
	case ConnectionStateConnecting:
		return "CONNECTING"
	case ConnectionStateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// MediaTrack is the handle to a media resource owned by the media transport.
// Publications only reference it; stopping it is the transport's concern.
type MediaTrack interface {
	ID() string
	Stop() error
}

// TrackPublication is the read view of a track a participant has made available.
type TrackPublication interface {
	SID() livekit.TrackID
	Kind() livekit.TrackType
	Name() string
	Muted() bool
	Track() MediaTrack
	IsSubscribed() bool
}

// Participant is the read view handed to the application. Participants are
// mutated only by the room that owns them.
type Participant interface {
	SID() livekit.ParticipantID
	Identity() livekit.ParticipantIdentity
	Name() string
	Metadata() string
	State() livekit.ParticipantInfo_State
	IsLocal() bool

	AudioLevel() float64
	IsSpeaking() bool

	TrackPublications() []TrackPublication
	GetTrackPublication(sid livekit.TrackID) TrackPublication
}
