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

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/livekit/livekit-client/pkg/rtc"
	"github.com/livekit/livekit-client/pkg/rtc/types"
	"github.com/livekit/livekit-client/pkg/telemetry/prometheus"
)

// renderRoster must be called with exclusive access to room.
func renderRoster(w io.Writer, room *rtc.Room, connectedAt time.Time) {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"SID",
		"Identity",
		"Name",
		"State",
		"Tracks",
		"Audio Level",
	})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
	})

	participants := make([]types.Participant, 0, len(room.RemoteParticipants())+1)
	if lp := room.LocalParticipant(); lp != nil {
		participants = append(participants, lp)
	}
	remotes := room.RemoteParticipants()
	sort.Slice(remotes, func(i, j int) bool {
		return remotes[i].SID() < remotes[j].SID()
	})
	for _, rp := range remotes {
		participants = append(participants, rp)
	}

	for _, p := range participants {
		identity := string(p.Identity())
		if p.IsLocal() {
			identity += " (you)"
		}
		table.Append([]string{
			string(p.SID()),
			identity,
			p.Name(),
			p.State().String(),
			describeTracks(p),
			fmt.Sprintf("%.2f", p.AudioLevel()),
		})
	}

	table.Render()

	stats := prometheus.GetSnapshot()
	fmt.Fprintf(w, "room %s, connected %s, %s events processed, %s tracks subscribed\n",
		room.Name(),
		humanize.Time(connectedAt),
		humanize.Comma(int64(stats.EventsProcessed)),
		humanize.Comma(int64(stats.SubscribedTracks)),
	)
}

func describeTracks(p types.Participant) string {
	pubs := p.TrackPublications()
	descriptions := make([]string, 0, len(pubs))
	for _, pub := range pubs {
		d := fmt.Sprintf("%s:%s", pub.Kind(), pub.SID())
		if pub.Name() != "" {
			d += "(" + pub.Name() + ")"
		}
		if pub.Muted() {
			d += " muted"
		}
		descriptions = append(descriptions, d)
	}
	return strings.Join(descriptions, ", ")
}

func describeNotification(n rtc.Notification) string {
	switch n.Type {
	case rtc.NotificationParticipantDidConnect, rtc.NotificationParticipantDidDisconnect:
		return fmt.Sprintf("%s: %s (%s)", n.Type, n.Participant.Identity(), n.Participant.SID())
	case rtc.NotificationActiveSpeakersDidChange:
		speakers := make([]string, 0, len(n.Speakers))
		for _, s := range n.Speakers {
			speakers = append(speakers, fmt.Sprintf("%s=%.2f", s.Identity(), s.AudioLevel()))
		}
		return fmt.Sprintf("%s: [%s]", n.Type, strings.Join(speakers, " "))
	default:
		if n.Err != nil {
			return fmt.Sprintf("%s: %v", n.Type, n.Err)
		}
		return n.Type.String()
	}
}
