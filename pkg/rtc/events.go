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
	"github.com/livekit/protocol/livekit"

	"github.com/livekit/livekit-client/pkg/rtc/types"
)

// Event is a discrete input to the room. Events are produced by the engine from
// signal messages and media transport callbacks, and applied one at a time.
type Event interface {
	EventType() string
}

type JoinAccepted struct {
	ServerVersion     string
	Room              *livekit.Room
	Participant       *livekit.ParticipantInfo
	OtherParticipants []*livekit.ParticipantInfo
}

type ParticipantUpdate struct {
	Participants []*livekit.ParticipantInfo
}

type SpeakerUpdate struct {
	Speakers []*livekit.SpeakerInfo
}

type RemoteTrackAdded struct {
	TrackSID       livekit.TrackID
	ParticipantSID livekit.ParticipantID
	Kind           livekit.TrackType
	Track          types.MediaTrack
}

type RemoteDataTrackAdded struct {
	ParticipantSID livekit.ParticipantID
	TrackSID       livekit.TrackID
	Name           string
	Track          types.MediaTrack
}

// LocalTrackPublished is the server acknowledgement of a track published by the application.
type LocalTrackPublished struct {
	Track      *livekit.TrackInfo
	MediaTrack types.MediaTrack
}

type TransportClosed struct {
	Reason string
	Code   int
}

type TransportFailed struct {
	Err error
}

func (JoinAccepted) EventType() string         { return "join_accepted" }
func (ParticipantUpdate) EventType() string    { return "participant_update" }
func (SpeakerUpdate) EventType() string        { return "speaker_update" }
func (RemoteTrackAdded) EventType() string     { return "remote_track_added" }
func (RemoteDataTrackAdded) EventType() string { return "remote_data_track_added" }
func (LocalTrackPublished) EventType() string  { return "local_track_published" }
func (TransportClosed) EventType() string      { return "transport_closed" }
func (TransportFailed) EventType() string      { return "transport_failed" }
