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
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bep/debounce"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"github.com/urfave/negroni/v3"
	"golang.org/x/sync/errgroup"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-client/pkg/config"
	"github.com/livekit/livekit-client/pkg/engine"
	"github.com/livekit/livekit-client/pkg/rtc"
	"github.com/livekit/livekit-client/pkg/signalling"
	"github.com/livekit/livekit-client/pkg/telemetry/prometheus"
	"github.com/livekit/livekit-client/pkg/transport"
)

func createToken(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	conf.Token = ""
	if err := conf.ValidateCredentials(); err != nil {
		return err
	}

	token, err := createJoinToken(conf)
	if err != nil {
		return err
	}

	fmt.Println("Token:", token)
	return nil
}

func createJoinToken(conf *config.Config) (string, error) {
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     conf.Room,
	}
	at := auth.NewAccessToken(conf.APIKey, conf.APISecret).
		AddGrant(grant).
		SetIdentity(conf.Identity).
		SetValidFor(conf.Session.TokenValidity)

	return at.ToJWT()
}

func joinRoom(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	if err := conf.ValidateCredentials(); err != nil {
		return err
	}

	token := conf.Token
	if token == "" {
		if token, err = createJoinToken(conf); err != nil {
			return pkgerrors.Wrap(err, "create token")
		}
	}

	prometheus.Init(conf.Identity)
	sessionCtx, endSession := context.WithCancel(c.Context)
	defer endSession()
	group, groupCtx := errgroup.WithContext(sessionCtx)
	if conf.PrometheusPort > 0 {
		group.Go(func() error {
			return runPrometheus(groupCtx, conf.PrometheusPort)
		})
	}

	log := logger.GetLogger()
	media, err := transport.NewTransport(transport.Config{ICEServers: conf.WebRTCICEServers()}, log)
	if err != nil {
		return pkgerrors.Wrap(err, "create media transport")
	}
	eng := engine.NewEngine(engine.Params{
		Signal: signalling.NewClient(log),
		Media:  media,
		Logger: log,
	})
	defer eng.Close()

	notifications := rtc.NewNotificationQueue()
	defer notifications.Close()
	eng.OnNotification(notifications.Push)

	group.Go(func() error {
		// the metrics listener stops with the session
		defer endSession()
		return runSession(groupCtx, conf, eng, token, notifications)
	})
	return group.Wait()
}

func runSession(ctx context.Context, conf *config.Config, eng *engine.Engine, token string, notifications *rtc.NotificationQueue) error {
	connectCtx, cancel := context.WithTimeout(ctx, conf.Session.ConnectTimeout)
	defer cancel()
	room, err := eng.Connect(connectCtx, conf.URL, token, conf.ConnectParams()).Wait(connectCtx)
	if err != nil {
		eng.Disconnect()
		return pkgerrors.Wrap(err, "could not connect")
	}
	connectedAt := time.Now()
	logger.Infow("joined room", "room", room.Name(), "roomID", room.SID(), "serverVersion", room.ServerVersion())

	refresh := debounce.New(conf.Output.RefreshInterval)
	printRoster := func() {
		_ = eng.Query(func(room *rtc.Room) {
			renderRoster(os.Stdout, room, connectedAt)
		})
	}
	refresh(printRoster)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	for {
		select {
		case sig := <-sigChan:
			logger.Infow("exit requested, leaving room", "signal", sig)
			eng.Disconnect()
			return nil

		case <-ctx.Done():
			eng.Disconnect()
			return ctx.Err()

		case n, ok := <-notifications.C():
			if !ok {
				return nil
			}
			fmt.Println(describeNotification(n))
			switch n.Type {
			case rtc.NotificationDidDisconnect, rtc.NotificationDidFailToConnect:
				return n.Err
			}
			refresh(printRoster)
		}
	}
}

// runPrometheus serves /metrics until ctx is done.
func runPrometheus(ctx context.Context, port uint32) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseHandler(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: n,
	}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	logger.Infow("starting prometheus listener", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return pkgerrors.Wrap(err, "prometheus listener")
	}
	return nil
}
