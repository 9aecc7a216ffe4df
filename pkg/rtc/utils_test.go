package rtc

import (
	"io"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/livekit"
)

func TestPackStreamId(t *testing.T) {
	packed := "PA_123abc|uuid-id"
	pId, trackId := UnpackStreamID(packed)
	require.Equal(t, livekit.ParticipantID("PA_123abc"), pId)
	require.Equal(t, livekit.TrackID("uuid-id"), trackId)

	require.Equal(t, packed, PackStreamID(pId, trackId))
}

func TestUnpackStreamId_Unpacked(t *testing.T) {
	pId, trackId := UnpackStreamID("stream")
	require.Equal(t, livekit.ParticipantID("stream"), pId)
	require.Empty(t, trackId)
}

func TestPackDataTrackLabel(t *testing.T) {
	pId := livekit.ParticipantID("PA_123abc")
	trackId := livekit.TrackID("TR_b3da25")
	label := "trackLabel"
	packed := "PA_123abc|TR_b3da25|trackLabel"
	require.Equal(t, packed, PackDataTrackLabel(pId, trackId, label))

	p, tr, l := UnpackDataTrackLabel(packed)
	require.Equal(t, pId, p)
	require.Equal(t, trackId, tr)
	require.Equal(t, label, l)
}

func TestUnpackDataTrackLabel_NotPacked(t *testing.T) {
	p, tr, l := UnpackDataTrackLabel("_reliable")
	require.Empty(t, p)
	require.Equal(t, livekit.TrackID("_reliable"), tr)
	require.Empty(t, l)
}

func TestSessionDescriptionConversion(t *testing.T) {
	sd := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}
	proto := ToProtoSessionDescription(sd)
	require.Equal(t, "answer", proto.Type)
	require.Equal(t, sd, FromProtoSessionDescription(proto))
}

func TestTrickleConversion(t *testing.T) {
	mid := "0"
	ci := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host", SDPMid: &mid}

	trickle := ToProtoTrickle(ci, livekit.SignalTarget_SUBSCRIBER)
	require.Equal(t, livekit.SignalTarget_SUBSCRIBER, trickle.Target)

	decoded, err := FromProtoTrickle(trickle)
	require.NoError(t, err)
	require.Equal(t, ci.Candidate, decoded.Candidate)
	require.Equal(t, mid, *decoded.SDPMid)

	_, err = FromProtoTrickle(&livekit.TrickleRequest{CandidateInit: "{"})
	require.Error(t, err)
}

func TestToProtoTrackKind(t *testing.T) {
	require.Equal(t, livekit.TrackType_AUDIO, ToProtoTrackKind(webrtc.RTPCodecTypeAudio))
	require.Equal(t, livekit.TrackType_VIDEO, ToProtoTrackKind(webrtc.RTPCodecTypeVideo))
	require.Equal(t, livekit.TrackType_DATA, ToProtoTrackKind(0))
}

func TestIsEOF(t *testing.T) {
	require.True(t, IsEOF(io.EOF))
	require.True(t, IsEOF(errors.Wrap(io.ErrClosedPipe, "read")))
	require.False(t, IsEOF(errors.New("other")))
}
