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
	"github.com/elliotchance/orderedmap/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-client/pkg/rtc/types"
)

// participantBase holds the state shared by local and remote participants.
// Mutators are unexported and must only be called from the room's event queue.
type participantBase struct {
	sid      livekit.ParticipantID
	identity livekit.ParticipantIdentity
	name     string
	metadata string
	state    livekit.ParticipantInfo_State
	// created from a media event before any participant info arrived
	placeholder bool

	audioLevel atomic.Float64

	// track sid => publication, in attach order
	tracks *orderedmap.OrderedMap[livekit.TrackID, *TrackPublication]

	logger logger.Logger
}

func newParticipantBase(sid livekit.ParticipantID, log logger.Logger) participantBase {
	return participantBase{
		sid:         sid,
		state:       livekit.ParticipantInfo_JOINED,
		placeholder: true,
		tracks:      orderedmap.NewOrderedMap[livekit.TrackID, *TrackPublication](),
		logger:      log.WithValues("pID", sid),
	}
}

func (p *participantBase) SID() livekit.ParticipantID {
	return p.sid
}

func (p *participantBase) Identity() livekit.ParticipantIdentity {
	return p.identity
}

func (p *participantBase) Name() string {
	return p.name
}

func (p *participantBase) Metadata() string {
	return p.metadata
}

func (p *participantBase) State() livekit.ParticipantInfo_State {
	return p.state
}

func (p *participantBase) AudioLevel() float64 {
	return p.audioLevel.Load()
}

func (p *participantBase) IsSpeaking() bool {
	return p.audioLevel.Load() > 0
}

func (p *participantBase) TrackPublications() []types.TrackPublication {
	pubs := make([]types.TrackPublication, 0, p.tracks.Len())
	for el := p.tracks.Front(); el != nil; el = el.Next() {
		pubs = append(pubs, el.Value)
	}
	return pubs
}

func (p *participantBase) GetTrackPublication(sid livekit.TrackID) types.TrackPublication {
	if pub, ok := p.tracks.Get(sid); ok {
		return pub
	}
	return nil
}

func (p *participantBase) getPublication(sid livekit.TrackID) *TrackPublication {
	pub, _ := p.tracks.Get(sid)
	return pub
}

func (p *participantBase) isPlaceholder() bool {
	return p.placeholder
}

// applyInfo merges the participant level fields of info. Identity is settable
// until populated; any later change is rejected.
func (p *participantBase) applyInfo(info *livekit.ParticipantInfo) error {
	if info == nil {
		return ErrMissingInfo
	}
	if info.Sid == "" {
		return errors.Wrapf(ErrMissingSID, "identity: %s", info.Identity)
	}
	if livekit.ParticipantID(info.Sid) != p.sid {
		return errors.Wrapf(ErrSIDMismatch, "expected %s, got %s", p.sid, info.Sid)
	}

	identity := livekit.ParticipantIdentity(info.Identity)
	if identity != "" {
		if p.identity != "" && p.identity != identity {
			return errors.Wrapf(ErrIdentityChanged, "from %s to %s", p.identity, identity)
		}
		p.identity = identity
	}
	if info.Name != "" {
		p.name = info.Name
	}
	p.metadata = info.Metadata
	p.state = info.State
	p.placeholder = false
	return nil
}

func (p *participantBase) attachPublication(
	sid livekit.TrackID,
	kind livekit.TrackType,
	name string,
	track types.MediaTrack,
) (*TrackPublication, error) {
	if sid == "" {
		return nil, ErrMissingTrackSID
	}
	if _, ok := p.tracks.Get(sid); ok {
		return nil, errors.Wrapf(ErrTrackAlreadyExists, "trackID: %s", sid)
	}

	pub := newTrackPublication(sid, kind, name, track)
	p.tracks.Set(sid, pub)
	return pub, nil
}

func (p *participantBase) removePublication(sid livekit.TrackID) *TrackPublication {
	pub, ok := p.tracks.Get(sid)
	if !ok {
		return nil
	}
	p.tracks.Delete(sid)
	return pub
}

// unpublishAll removes every publication, stopping bound media on a best-effort
// basis. Returns the number of publications that were unpublished.
func (p *participantBase) unpublishAll() int {
	attempts := 0
	for _, sid := range p.tracks.Keys() {
		pub := p.removePublication(sid)
		if pub == nil {
			continue
		}
		attempts++
		if err := pub.unpublish(); err != nil {
			p.logger.Warnw("could not unpublish track", err, "trackID", sid)
			continue
		}
		p.logger.Debugw("unpublished track", "trackID", sid, "kind", pub.Kind())
	}
	return attempts
}

func (p *participantBase) setAudioLevel(level float64) {
	p.audioLevel.Store(level)
}
