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
	"errors"
	"fmt"
)

var (
	ErrRoomClosed          = errors.New("room has already been connected and closed")
	ErrDisconnected        = errors.New("room disconnected before join completed")
	ErrIncompatibleVersion = errors.New("server protocol version is not supported")
	ErrInvalidVersion      = errors.New("server version could not be parsed")
	ErrMissingInfo         = errors.New("participant info is missing")
	ErrMissingSID          = errors.New("participant info has no sid")
	ErrSIDMismatch         = errors.New("participant info is for a different participant")
	ErrIdentityChanged     = errors.New("participant identity cannot change once set")
	ErrTrackAlreadyExists  = errors.New("a track with the same sid is already published")
	ErrTrackAlreadyBound   = errors.New("track publication already has a media track")
	ErrMissingTrackSID     = errors.New("track has no sid")
	ErrNotConnected        = errors.New("room is not connected")
	ErrParticipantDeparted = errors.New("participant has already left the room")
)

const CloseCodeNormal = 1000

// TransportError is reported when the signal connection closes with anything
// other than a normal closure.
type TransportError struct {
	Reason string
	Code   int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("signal connection closed unexpectedly, code: %d, reason: %s", e.Code, e.Reason)
}
