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
	"github.com/pkg/errors"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-client/pkg/rtc/types"
)

var _ types.Participant = (*RemoteParticipant)(nil)

// RemoteParticipant can only subscribe: its publications are announced by the
// server and bound to media as the transport delivers tracks.
type RemoteParticipant struct {
	participantBase
}

func newRemoteParticipant(sid livekit.ParticipantID, log logger.Logger) *RemoteParticipant {
	return &RemoteParticipant{
		participantBase: newParticipantBase(sid, log),
	}
}

func newRemoteParticipantFromInfo(info *livekit.ParticipantInfo, log logger.Logger) (*RemoteParticipant, error) {
	if info == nil {
		return nil, ErrMissingInfo
	}
	if info.Sid == "" {
		return nil, errors.Wrapf(ErrMissingSID, "identity: %s", info.Identity)
	}
	p := newRemoteParticipant(livekit.ParticipantID(info.Sid), log)
	if err := p.applyInfo(info); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RemoteParticipant) IsLocal() bool {
	return false
}

// applyInfo merges participant fields and reconciles the announced track list.
// Publications already bound to media are kept even when the info omits them.
func (p *RemoteParticipant) applyInfo(info *livekit.ParticipantInfo) error {
	if err := p.participantBase.applyInfo(info); err != nil {
		return err
	}

	announced := make(map[livekit.TrackID]struct{}, len(info.Tracks))
	for _, ti := range info.Tracks {
		sid := livekit.TrackID(ti.Sid)
		if sid == "" {
			p.logger.Warnw("ignoring track info without sid", ErrMissingTrackSID, "name", ti.Name)
			continue
		}
		announced[sid] = struct{}{}
		if pub := p.getPublication(sid); pub != nil {
			pub.updateFromInfo(ti)
			continue
		}
		p.tracks.Set(sid, newTrackPublicationFromInfo(ti))
	}

	for _, sid := range p.tracks.Keys() {
		if _, ok := announced[sid]; ok {
			continue
		}
		if pub := p.getPublication(sid); pub != nil && !pub.IsSubscribed() {
			p.removePublication(sid)
			p.logger.Debugw("announced track removed", "trackID", sid)
		}
	}
	return nil
}

// bindTrack attaches the media handle delivered by the transport, either to an
// already announced publication or to a new one.
func (p *RemoteParticipant) bindTrack(
	sid livekit.TrackID,
	kind livekit.TrackType,
	name string,
	track types.MediaTrack,
) (*TrackPublication, error) {
	pub := p.getPublication(sid)
	if pub == nil {
		return p.attachPublication(sid, kind, name, track)
	}
	if pub.IsSubscribed() {
		return nil, errors.Wrapf(ErrTrackAlreadyBound, "trackID: %s", sid)
	}
	pub.track = track
	if pub.name == "" {
		pub.name = name
	}
	return pub, nil
}
