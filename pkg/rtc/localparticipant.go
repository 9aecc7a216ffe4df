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

var _ types.Participant = (*LocalParticipant)(nil)

// LocalParticipant can only publish. Its publications are added once the
// server acknowledges a track published by the application.
type LocalParticipant struct {
	participantBase
}

func newLocalParticipant(info *livekit.ParticipantInfo, log logger.Logger) (*LocalParticipant, error) {
	if info == nil {
		return nil, ErrMissingInfo
	}
	if info.Sid == "" {
		return nil, errors.Wrapf(ErrMissingSID, "identity: %s", info.Identity)
	}
	p := &LocalParticipant{
		participantBase: newParticipantBase(livekit.ParticipantID(info.Sid), log),
	}
	if err := p.applyInfo(info); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *LocalParticipant) IsLocal() bool {
	return true
}

func (p *LocalParticipant) addPublishedTrack(ti *livekit.TrackInfo, track types.MediaTrack) (*TrackPublication, error) {
	pub, err := p.attachPublication(livekit.TrackID(ti.Sid), ti.Type, ti.Name, track)
	if err != nil {
		return nil, err
	}
	pub.muted = ti.Muted
	return pub, nil
}
