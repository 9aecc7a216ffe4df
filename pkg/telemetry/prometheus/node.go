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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	livekitNamespace string = "livekit"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool

	MessageCounter *prometheus.CounterVec
)

// Init registers the client collectors with the default registry. Until it is
// called only the in-process counters are maintained.
func Init(clientID string) {
	initOnce.Do(func() { register(clientID) })
}

func register(clientID string) {
	MessageCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   livekitNamespace,
			Subsystem:   "client",
			Name:        "signal_messages",
			ConstLabels: prometheus.Labels{"client_id": clientID},
		},
		[]string{"type", "status"},
	)
	prometheus.MustRegister(MessageCounter)

	initRoomStats(clientID)
	initialized.Store(true)
}

func IncrementMessage(messageType string, status string) {
	if !initialized.Load() {
		return
	}
	MessageCounter.WithLabelValues(messageType, status).Inc()
}
