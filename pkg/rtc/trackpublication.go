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

var _ types.TrackPublication = (*TrackPublication)(nil)

type TrackPublication struct {
	sid   livekit.TrackID
	kind  livekit.TrackType
	name  string
	muted bool
	// owned by the media transport
	track types.MediaTrack
}

func newTrackPublication(sid livekit.TrackID, kind livekit.TrackType, name string, track types.MediaTrack) *TrackPublication {
	return &TrackPublication{
		sid:   sid,
		kind:  kind,
		name:  name,
		track: track,
	}
}

func newTrackPublicationFromInfo(ti *livekit.TrackInfo) *TrackPublication {
	t := newTrackPublication(livekit.TrackID(ti.Sid), ti.Type, ti.Name, nil)
	t.muted = ti.Muted
	return t
}

func (t *TrackPublication) SID() livekit.TrackID {
	return t.sid
}

func (t *TrackPublication) Kind() livekit.TrackType {
	return t.kind
}

func (t *TrackPublication) Name() string {
	return t.name
}

func (t *TrackPublication) Muted() bool {
	return t.muted
}

func (t *TrackPublication) Track() types.MediaTrack {
	return t.track
}

func (t *TrackPublication) IsSubscribed() bool {
	return t.track != nil
}

func (t *TrackPublication) updateFromInfo(ti *livekit.TrackInfo) {
	t.kind = ti.Type
	if ti.Name != "" {
		t.name = ti.Name
	}
	t.muted = ti.Muted
}

// unpublish releases the media handle. The publication keeps no reference afterwards.
func (t *TrackPublication) unpublish() error {
	track := t.track
	t.track = nil
	if track == nil {
		return nil
	}
	return track.Stop()
}
