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
	"sync"

	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"
)

// NotificationQueue decouples the room's event queue from slow consumers. Push never
// blocks; notifications are delivered in order on C().
type NotificationQueue struct {
	lock    sync.Mutex
	pending deque.Deque[Notification]
	wake    chan struct{}
	out     chan Notification
	closed  core.Fuse
}

func NewNotificationQueue() *NotificationQueue {
	q := &NotificationQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan Notification),
	}
	go q.worker()
	return q
}

// Push has the signature of a room observer so it can be passed to OnNotification.
func (q *NotificationQueue) Push(n Notification) {
	if q.closed.IsBroken() {
		return
	}

	q.lock.Lock()
	q.pending.PushBack(n)
	q.lock.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// C is closed after Close once pending notifications are dropped.
func (q *NotificationQueue) C() <-chan Notification {
	return q.out
}

func (q *NotificationQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.pending.Len()
}

func (q *NotificationQueue) Close() {
	q.closed.Break()
}

func (q *NotificationQueue) worker() {
	defer close(q.out)

	for {
		q.lock.Lock()
		if q.pending.Len() == 0 {
			q.lock.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.closed.Watch():
				return
			}
		}
		n := q.pending.Front()
		q.lock.Unlock()

		select {
		case q.out <- n:
			q.lock.Lock()
			q.pending.PopFront()
			q.lock.Unlock()
		case <-q.closed.Watch():
			return
		}
	}
}
