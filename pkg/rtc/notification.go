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
	"github.com/livekit/livekit-client/pkg/rtc/types"
)

type NotificationType int

const (
	NotificationDidConnect NotificationType = iota
	NotificationDidDisconnect
	NotificationDidFailToConnect
	NotificationParticipantDidConnect
	NotificationParticipantDidDisconnect
	NotificationActiveSpeakersDidChange
)

func (t NotificationType) String() string {
	switch t {
	case NotificationDidConnect:
		return "DidConnect"
	case NotificationDidDisconnect:
		return "DidDisconnect"
	case NotificationDidFailToConnect:
		return "DidFailToConnect"
	case NotificationParticipantDidConnect:
		return "ParticipantDidConnect"
	case NotificationParticipantDidDisconnect:
		return "ParticipantDidDisconnect"
	case NotificationActiveSpeakersDidChange:
		return "ActiveSpeakersDidChange"
	default:
		return "Unknown"
	}
}

// Notification is what the room tells the application after applying an event.
// Only the fields relevant to Type are set.
type Notification struct {
	Type        NotificationType
	Room        *Room
	Participant types.Participant
	Speakers    []types.Participant
	Err         error
}
