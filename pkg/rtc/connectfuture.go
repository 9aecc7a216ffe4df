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
	"context"
	"errors"
	"sync"

	"github.com/frostbyte73/core"
)

var ErrConnectPending = errors.New("connect has not completed")

// ConnectFuture is the one-shot result of a connect attempt. It is written
// exactly once, either with the connected room or with the reason it failed.
type ConnectFuture struct {
	once sync.Once
	done core.Fuse

	room *Room
	err  error
}

func newConnectFuture() *ConnectFuture {
	return &ConnectFuture{}
}

func resolvedConnectFuture(room *Room) *ConnectFuture {
	f := newConnectFuture()
	f.resolve(room)
	return f
}

func rejectedConnectFuture(err error) *ConnectFuture {
	f := newConnectFuture()
	f.reject(err)
	return f
}

// resolve returns false if the future had already been written.
func (f *ConnectFuture) resolve(room *Room) bool {
	written := false
	f.once.Do(func() {
		f.room = room
		written = true
		f.done.Break()
	})
	return written
}

func (f *ConnectFuture) reject(err error) bool {
	written := false
	f.once.Do(func() {
		f.err = err
		written = true
		f.done.Break()
	})
	return written
}

func (f *ConnectFuture) Done() <-chan struct{} {
	return f.done.Watch()
}

func (f *ConnectFuture) IsDone() bool {
	return f.done.IsBroken()
}

// Result returns ErrConnectPending until the future has been written.
func (f *ConnectFuture) Result() (*Room, error) {
	if !f.done.IsBroken() {
		return nil, ErrConnectPending
	}
	return f.room, f.err
}

func (f *ConnectFuture) Wait(ctx context.Context) (*Room, error) {
	select {
	case <-f.done.Watch():
		return f.room, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FailedConnectFuture returns a future that has already been rejected with err.
func FailedConnectFuture(err error) *ConnectFuture {
	return rejectedConnectFuture(err)
}
