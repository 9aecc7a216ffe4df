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

package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

var (
	participantCurrent     atomic.Int32
	trackSubscribedCurrent atomic.Int32
	trackPublishAttempts   atomic.Int32
	trackPublishSuccess    atomic.Int32
	eventsProcessed        atomic.Uint64

	promParticipantCurrent     prometheus.Gauge
	promTrackSubscribedCurrent *prometheus.GaugeVec
	promTrackPublishCounter    *prometheus.CounterVec
	promEventCounter           *prometheus.CounterVec
	promNotificationCounter    *prometheus.CounterVec
	promConnectTime            prometheus.Histogram
)

func initRoomStats(clientID string) {
	promParticipantCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "participant",
		Name:        "remote_total",
		ConstLabels: prometheus.Labels{"client_id": clientID},
	})
	promTrackSubscribedCurrent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "track",
		Name:        "subscribed_total",
		ConstLabels: prometheus.Labels{"client_id": clientID},
	}, []string{"kind"})
	promTrackPublishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "track",
		Name:        "publish_counter",
		ConstLabels: prometheus.Labels{"client_id": clientID},
	}, []string{"kind", "state"})
	promEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "room",
		Name:        "events",
		ConstLabels: prometheus.Labels{"client_id": clientID},
	}, []string{"type"})
	promNotificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "room",
		Name:        "notifications",
		ConstLabels: prometheus.Labels{"client_id": clientID},
	}, []string{"type"})
	promConnectTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   livekitNamespace,
		Subsystem:   "session",
		Name:        "connect_time_ms",
		ConstLabels: prometheus.Labels{"client_id": clientID},
		Buckets:     prometheus.ExponentialBucketsRange(100, 10000, 15),
	})

	prometheus.MustRegister(promParticipantCurrent)
	prometheus.MustRegister(promTrackSubscribedCurrent)
	prometheus.MustRegister(promTrackPublishCounter)
	prometheus.MustRegister(promEventCounter)
	prometheus.MustRegister(promNotificationCounter)
	prometheus.MustRegister(promConnectTime)
}

func EventProcessed(eventType string) {
	eventsProcessed.Inc()
	if initialized.Load() {
		promEventCounter.WithLabelValues(eventType).Inc()
	}
}

func NotificationSent(notificationType string) {
	if initialized.Load() {
		promNotificationCounter.WithLabelValues(notificationType).Inc()
	}
}

func SetRemoteParticipants(count int) {
	participantCurrent.Store(int32(count))
	if initialized.Load() {
		promParticipantCurrent.Set(float64(count))
	}
}

func AddSubscribedTrack(kind string) {
	trackSubscribedCurrent.Inc()
	if initialized.Load() {
		promTrackSubscribedCurrent.WithLabelValues(kind).Add(1)
	}
}

func ResetSubscribedTracks() {
	trackSubscribedCurrent.Store(0)
	if initialized.Load() {
		promTrackSubscribedCurrent.Reset()
	}
}

func AddPublishAttempt(kind string) {
	trackPublishAttempts.Inc()
	if initialized.Load() {
		promTrackPublishCounter.WithLabelValues(kind, "attempt").Inc()
	}
}

func AddPublishSuccess(kind string) {
	trackPublishSuccess.Inc()
	if initialized.Load() {
		promTrackPublishCounter.WithLabelValues(kind, "success").Inc()
	}
}

func RecordConnectTime(d time.Duration) {
	if initialized.Load() {
		promConnectTime.Observe(float64(d.Milliseconds()))
	}
}

// Snapshot returns the in-process counters, available without Init.
type Snapshot struct {
	RemoteParticipants int32
	SubscribedTracks   int32
	PublishAttempts    int32
	PublishSuccesses   int32
	EventsProcessed    uint64
}

func GetSnapshot() Snapshot {
	return Snapshot{
		RemoteParticipants: participantCurrent.Load(),
		SubscribedTracks:   trackSubscribedCurrent.Load(),
		PublishAttempts:    trackPublishAttempts.Load(),
		PublishSuccesses:   trackPublishSuccess.Load(),
		EventsProcessed:    eventsProcessed.Load(),
	}
}
