package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/livekit"

	"github.com/livekit/livekit-client/pkg/config"
	"github.com/livekit/livekit-client/pkg/rtc"
)

type testStruct struct {
	configFileName string
	configBody     string

	expectedError      error
	expectedConfigBody string
}

func TestGetConfigString(t *testing.T) {
	dir := t.TempDir()
	tests := []testStruct{
		{"", "", nil, ""},
		{"", "configBody", nil, "configBody"},
		{filepath.Join(dir, "file1"), "configBody", nil, "configBody"},
		{filepath.Join(dir, "file2"), "", nil, "fileContent"},
	}
	for _, test := range tests {
		writeConfigFile(test, t)

		configBody, err := getConfigString(test.configFileName, test.configBody)
		require.Equal(t, test.expectedError, err)
		require.Equal(t, test.expectedConfigBody, configBody)
	}
}

func TestShouldReturnErrorIfConfigFileDoesNotExist(t *testing.T) {
	configBody, err := getConfigString("notExistingFile", "")
	require.Error(t, err)
	require.Empty(t, configBody)
}

func TestCreateJoinToken(t *testing.T) {
	conf, err := config.NewConfig("", true, nil, nil)
	require.NoError(t, err)
	conf.APIKey = "devkey"
	conf.APISecret = "secret-that-is-long-enough-for-hmac"
	conf.Room = "room"
	conf.Identity = "alice"

	token, err := createJoinToken(conf)
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestDescribeNotification(t *testing.T) {
	require.Equal(t, "DidConnect", describeNotification(rtc.Notification{Type: rtc.NotificationDidConnect}))
	require.Equal(t, "DidFailToConnect: boom",
		describeNotification(rtc.Notification{Type: rtc.NotificationDidFailToConnect, Err: errors.New("boom")}))
}

func TestRenderRoster(t *testing.T) {
	room := rtc.NewRoom(nil)
	room.Connect()
	room.HandleEvent(rtc.JoinAccepted{
		ServerVersion: "0.5.0",
		Room:          &livekit.Room{Sid: "RM_1", Name: "standup"},
		Participant:   &livekit.ParticipantInfo{Sid: "PA_self", Identity: "me"},
		OtherParticipants: []*livekit.ParticipantInfo{{
			Sid:      "PA_a",
			Identity: "alice",
			State:    livekit.ParticipantInfo_ACTIVE,
			Tracks:   []*livekit.TrackInfo{{Sid: "TR_a", Type: livekit.TrackType_AUDIO, Name: "mic", Muted: true}},
		}},
	})

	var buf bytes.Buffer
	renderRoster(&buf, room, time.Now().Add(-time.Minute))
	out := buf.String()
	require.Contains(t, out, "me (you)")
	require.Contains(t, out, "alice")
	require.Contains(t, out, "AUDIO:TR_a(mic) muted")
	require.Contains(t, out, "room standup, connected 1 minute ago")
}

func writeConfigFile(test testStruct, t *testing.T) {
	if test.configFileName != "" {
		d1 := []byte(test.expectedConfigBody)
		err := os.WriteFile(test.configFileName, d1, 0o644)
		require.NoError(t, err)
	}
}
