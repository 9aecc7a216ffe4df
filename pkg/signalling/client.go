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

package signalling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-client/pkg/rtc/types"
)

const (
	pingFrequency = 10 * time.Second
	pingTimeout   = 2 * time.Second
)

var (
	ErrNotConnected     = errors.New("signal connection is not established")
	ErrAlreadyConnected = errors.New("signal connection is already established")
)

// Client is a websocket signal connection. It can be dialed again after it closed.
type Client struct {
	logger logger.Logger
	dialer *websocket.Dialer

	lock      sync.Mutex
	conn      *websocket.Conn
	closed    *core.Fuse
	onMessage func(msg *livekit.SignalResponse)
	onClose   func(code int, reason string)

	writeLock sync.Mutex
}

func NewClient(log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		logger: log,
		dialer: websocket.DefaultDialer,
	}
}

func (c *Client) OnMessage(f func(msg *livekit.SignalResponse)) {
	c.lock.Lock()
	c.onMessage = f
	c.lock.Unlock()
}

func (c *Client) OnClose(f func(code int, reason string)) {
	c.lock.Lock()
	c.onClose = f
	c.lock.Unlock()
}

func (c *Client) Dial(ctx context.Context, host string, token string, params types.ConnectParams) error {
	connectURL, err := BuildURL(host, params)
	if err != nil {
		return err
	}

	c.lock.Lock()
	if c.conn != nil {
		c.lock.Unlock()
		return ErrAlreadyConnected
	}
	c.lock.Unlock()

	requestHeader := make(http.Header)
	SetAuthorizationToken(requestHeader, token)

	conn, resp, err := c.dialer.DialContext(ctx, connectURL, requestHeader)
	if err != nil {
		if resp != nil {
			return pkgerrors.Wrapf(err, "status: %d", resp.StatusCode)
		}
		return err
	}

	closed := &core.Fuse{}
	c.lock.Lock()
	if c.conn != nil {
		c.lock.Unlock()
		_ = conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.closed = closed
	c.lock.Unlock()

	c.logger.Debugw("signal connection established", "url", connectURL)
	go c.readLoop(conn, closed)
	go c.pingWorker(conn, closed)
	return nil
}

// BuildURL turns an http(s) or ws(s) server address into the signal endpoint.
func BuildURL(host string, params types.ConnectParams) (string, error) {
	u, err := url.Parse(host)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme: %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/rtc"

	protocol := params.Protocol
	if protocol == 0 {
		protocol = types.DefaultProtocol
	}
	q := u.Query()
	q.Set("protocol", fmt.Sprintf("%d", protocol))
	q.Set("auto_subscribe", fmt.Sprintf("%t", params.AutoSubscribe))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func SetAuthorizationToken(header http.Header, token string) {
	header.Set("Authorization", "Bearer "+token)
}

func (c *Client) SendRequest(msg *livekit.SignalRequest) error {
	c.lock.Lock()
	conn := c.conn
	c.lock.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	payload, err := proto.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *Client) SendLeave() error {
	return c.SendRequest(&livekit.SignalRequest{
		Message: &livekit.SignalRequest_Leave{
			Leave: &livekit.LeaveRequest{},
		},
	})
}

// Close ends the connection without invoking OnClose. It is a no-op when not connected.
func (c *Client) Close() error {
	c.lock.Lock()
	conn, closed := c.conn, c.closed
	c.conn = nil
	c.closed = nil
	c.lock.Unlock()
	if conn == nil {
		return nil
	}

	closed.Break()
	c.writeLock.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(pingTimeout),
	)
	c.writeLock.Unlock()
	return conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, closed *core.Fuse) {
	for {
		msg, err := readResponse(conn)
		if err != nil {
			c.handleReadError(conn, closed, err)
			return
		}
		if msg == nil {
			continue
		}

		c.lock.Lock()
		onMessage := c.onMessage
		c.lock.Unlock()
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

func readResponse(conn *websocket.Conn) (*livekit.SignalResponse, error) {
	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	msg := &livekit.SignalResponse{}
	switch messageType {
	case websocket.BinaryMessage:
		// protobuf encoded
		err = proto.Unmarshal(payload, msg)
	case websocket.TextMessage:
		err = protojson.Unmarshal(payload, msg)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "could not decode signal response")
	}
	return msg, nil
}

func (c *Client) handleReadError(conn *websocket.Conn, closed *core.Fuse, err error) {
	if closed.IsBroken() {
		// closed locally
		return
	}
	closed.Break()

	c.lock.Lock()
	if c.conn == conn {
		c.conn = nil
		c.closed = nil
	}
	onClose := c.onClose
	c.lock.Unlock()
	_ = conn.Close()

	code, reason := websocket.CloseAbnormalClosure, err.Error()
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code, reason = closeErr.Code, closeErr.Text
	}
	c.logger.Infow("signal connection closed", "code", code, "reason", reason)
	if onClose != nil {
		onClose(code, reason)
	}
}

func (c *Client) pingWorker(conn *websocket.Conn, closed *core.Fuse) {
	ticker := time.NewTicker(pingFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-closed.Watch():
			return
		case <-ticker.C:
			c.writeLock.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte(""), time.Now().Add(pingTimeout))
			c.writeLock.Unlock()
			if err != nil {
				return
			}
		}
	}
}
