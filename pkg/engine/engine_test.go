package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/livekit-client/pkg/rtc"
	"github.com/livekit/livekit-client/pkg/rtc/types"
)

const waitTimeout = 2 * time.Second

type fakeSignal struct {
	lock      sync.Mutex
	onMessage func(msg *livekit.SignalResponse)
	onClose   func(code int, reason string)
	requests  []*livekit.SignalRequest

	dialErr error
	dialed  chan string
	// when set, Dial returns only once the channel is closed
	dialBlock chan struct{}
	leaves  atomic.Int32
	closes  atomic.Int32

	// when set, AddTrack requests are acknowledged with this track sid
	ackTrackSID string
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{dialed: make(chan string, 4)}
}

func (s *fakeSignal) Dial(_ context.Context, url string, _ string, _ types.ConnectParams) error {
	s.lock.Lock()
	block, err := s.dialBlock, s.dialErr
	s.lock.Unlock()
	s.dialed <- url
	if block != nil {
		<-block
	}
	return err
}

func (s *fakeSignal) setDialBlock(block chan struct{}) {
	s.lock.Lock()
	s.dialBlock = block
	s.lock.Unlock()
}

func (s *fakeSignal) OnMessage(f func(msg *livekit.SignalResponse)) {
	s.onMessage = f
}

func (s *fakeSignal) OnClose(f func(code int, reason string)) {
	s.onClose = f
}

func (s *fakeSignal) SendRequest(req *livekit.SignalRequest) error {
	s.lock.Lock()
	s.requests = append(s.requests, req)
	ackSID := s.ackTrackSID
	s.lock.Unlock()

	if add, ok := req.Message.(*livekit.SignalRequest_AddTrack); ok && ackSID != "" {
		go s.onMessage(&livekit.SignalResponse{
			Message: &livekit.SignalResponse_TrackPublished{
				TrackPublished: &livekit.TrackPublishedResponse{
					Cid: add.AddTrack.Cid,
					Track: &livekit.TrackInfo{
						Sid:  ackSID,
						Type: add.AddTrack.Type,
						Name: add.AddTrack.Name,
					},
				},
			},
		})
	}
	return nil
}

func (s *fakeSignal) SendLeave() error {
	s.leaves.Inc()
	return nil
}

func (s *fakeSignal) Close() error {
	s.closes.Inc()
	return nil
}

func (s *fakeSignal) sentRequests() []*livekit.SignalRequest {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]*livekit.SignalRequest(nil), s.requests...)
}

func (s *fakeSignal) send(msg *livekit.SignalResponse) {
	s.onMessage(msg)
}

type fakeMedia struct {
	lock       sync.Mutex
	onTrack    func(streamID string, trackID string, kind livekit.TrackType, track types.MediaTrack)
	onData     func(label string, track types.MediaTrack)
	onICE      func(candidate webrtc.ICECandidateInit, target livekit.SignalTarget)
	onOffer    func(offer webrtc.SessionDescription)
	offers     []webrtc.SessionDescription
	answers    []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	published  []string
	closes     atomic.Int32
}

func (m *fakeMedia) OnRemoteTrack(f func(streamID string, trackID string, kind livekit.TrackType, track types.MediaTrack)) {
	m.onTrack = f
}

func (m *fakeMedia) OnRemoteDataChannel(f func(label string, track types.MediaTrack)) {
	m.onData = f
}

func (m *fakeMedia) OnICECandidate(f func(candidate webrtc.ICECandidateInit, target livekit.SignalTarget)) {
	m.onICE = f
}

func (m *fakeMedia) OnOffer(f func(offer webrtc.SessionDescription)) {
	m.onOffer = f
}

func (m *fakeMedia) HandleOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.offers = append(m.offers, offer)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (m *fakeMedia) HandleAnswer(answer webrtc.SessionDescription) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.answers = append(m.answers, answer)
	return nil
}

func (m *fakeMedia) AddICECandidate(candidate webrtc.ICECandidateInit, _ livekit.SignalTarget) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.candidates = append(m.candidates, candidate)
	return nil
}

func (m *fakeMedia) PublishLocalTrack(track webrtc.TrackLocal) (types.MediaTrack, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.published = append(m.published, track.ID())
	return &fakeTrack{id: track.ID()}, nil
}

func (m *fakeMedia) Close() error {
	m.closes.Inc()
	return nil
}

type fakeTrack struct {
	id    string
	stops atomic.Int32
}

func (t *fakeTrack) ID() string {
	return t.id
}

func (t *fakeTrack) Stop() error {
	t.stops.Inc()
	return nil
}

type testEngine struct {
	*Engine
	signal        *fakeSignal
	media         *fakeMedia
	notifications chan rtc.Notification
}

func newTestEngine(t *testing.T) *testEngine {
	signal := newFakeSignal()
	media := &fakeMedia{}
	e := NewEngine(Params{Signal: signal, Media: media, Logger: logger.GetLogger()})
	t.Cleanup(e.Close)

	te := &testEngine{
		Engine:        e,
		signal:        signal,
		media:         media,
		notifications: make(chan rtc.Notification, 32),
	}
	e.OnNotification(func(n rtc.Notification) {
		te.notifications <- n
	})
	return te
}

func (te *testEngine) expectNotification(t *testing.T, expected rtc.NotificationType) rtc.Notification {
	t.Helper()
	select {
	case n := <-te.notifications:
		require.Equal(t, expected, n.Type)
		return n
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", expected)
		return rtc.Notification{}
	}
}

// connect joins a room with the given other participants and waits for the result.
func (te *testEngine) connect(t *testing.T, others ...*livekit.ParticipantInfo) {
	t.Helper()
	future := te.Connect(context.Background(), "ws://localhost:7880", "token", types.ConnectParams{
		Protocol:      types.DefaultProtocol,
		AutoSubscribe: true,
	})

	select {
	case <-te.signal.dialed:
	case <-time.After(waitTimeout):
		t.Fatal("signal connection was not dialed")
	}

	te.signal.send(joinResponse("0.4.1", others...))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	room, err := future.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, room)
	te.expectNotification(t, rtc.NotificationDidConnect)
}

func joinResponse(serverVersion string, others ...*livekit.ParticipantInfo) *livekit.SignalResponse {
	return &livekit.SignalResponse{
		Message: &livekit.SignalResponse_Join{
			Join: &livekit.JoinResponse{
				ServerVersion:     serverVersion,
				Room:              &livekit.Room{Sid: "RM_test", Name: "test"},
				Participant:       &livekit.ParticipantInfo{Sid: "PA_self", Identity: "self"},
				OtherParticipants: others,
			},
		},
	}
}

func updateResponse(infos ...*livekit.ParticipantInfo) *livekit.SignalResponse {
	return &livekit.SignalResponse{
		Message: &livekit.SignalResponse_Update{
			Update: &livekit.ParticipantUpdate{Participants: infos},
		},
	}
}

func TestEngineConnect(t *testing.T) {
	t.Run("join builds the room", func(t *testing.T) {
		te := newTestEngine(t)
		te.connect(t, &livekit.ParticipantInfo{Sid: "PA_a", Identity: "alice", State: livekit.ParticipantInfo_ACTIVE})

		require.Equal(t, types.ConnectionStateConnected, te.ConnectionState())
		require.NoError(t, te.Query(func(room *rtc.Room) {
			require.Equal(t, "RM_test", room.SID())
			require.Len(t, room.RemoteParticipants(), 1)
			require.Equal(t, livekit.ParticipantID("PA_self"), room.LocalParticipant().SID())
		}))

		// already connected, nothing is dialed again
		future := te.Connect(context.Background(), "ws://localhost:7880", "token", types.ConnectParams{})
		room, err := future.Result()
		require.NoError(t, err)
		require.NotNil(t, room)
		require.Len(t, te.signal.dialed, 0)
	})

	t.Run("dial failure", func(t *testing.T) {
		te := newTestEngine(t)
		dialErr := errors.New("connection refused")
		te.signal.dialErr = dialErr

		future := te.Connect(context.Background(), "ws://localhost:7880", "token", types.ConnectParams{})
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_, err := future.Wait(ctx)
		require.ErrorIs(t, err, dialErr)

		n := te.expectNotification(t, rtc.NotificationDidFailToConnect)
		require.ErrorIs(t, n.Err, dialErr)
		require.Equal(t, types.ConnectionStateDisconnected, te.ConnectionState())
		require.Equal(t, int32(1), te.signal.closes.Load())
		require.Zero(t, te.media.closes.Load())
	})

	t.Run("disconnect while dialing closes the late connection", func(t *testing.T) {
		te := newTestEngine(t)
		block := make(chan struct{})
		te.signal.setDialBlock(block)

		future := te.Connect(context.Background(), "ws://localhost:7880", "token", types.ConnectParams{})
		select {
		case <-te.signal.dialed:
		case <-time.After(waitTimeout):
			t.Fatal("signal connection was not dialed")
		}

		te.Disconnect()
		_, err := future.Result()
		require.ErrorIs(t, err, rtc.ErrDisconnected)
		te.expectNotification(t, rtc.NotificationDidDisconnect)
		require.Equal(t, int32(1), te.signal.closes.Load())

		// the dial completes after the attempt was abandoned
		te.signal.setDialBlock(nil)
		close(block)
		require.Eventually(t, func() bool {
			return te.signal.closes.Load() == 2
		}, waitTimeout, 10*time.Millisecond)
		require.Equal(t, types.ConnectionStateDisconnected, te.ConnectionState())

		// the attempt never joined, so a new one is allowed
		te.connect(t)
		require.Equal(t, types.ConnectionStateConnected, te.ConnectionState())
		require.Equal(t, int32(2), te.signal.closes.Load())
	})

	t.Run("stale dial failure does not fail the next attempt", func(t *testing.T) {
		te := newTestEngine(t)
		block := make(chan struct{})
		te.signal.setDialBlock(block)
		te.signal.dialErr = errors.New("connection refused")

		te.Connect(context.Background(), "ws://localhost:7880", "token", types.ConnectParams{})
		<-te.signal.dialed
		te.Disconnect()
		te.expectNotification(t, rtc.NotificationDidDisconnect)

		future := te.Connect(context.Background(), "ws://localhost:7880", "token", types.ConnectParams{})
		te.signal.lock.Lock()
		te.signal.dialBlock = nil
		te.signal.dialErr = nil
		te.signal.lock.Unlock()
		close(block)

		select {
		case <-te.signal.dialed:
		case <-time.After(waitTimeout):
			t.Fatal("second attempt was not dialed")
		}
		te.signal.send(joinResponse("0.4.1"))

		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_, err := future.Wait(ctx)
		require.NoError(t, err)
		te.expectNotification(t, rtc.NotificationDidConnect)
	})

	t.Run("closed engine", func(t *testing.T) {
		te := newTestEngine(t)
		te.Close()

		future := te.Connect(context.Background(), "ws://localhost:7880", "token", types.ConnectParams{})
		_, err := future.Result()
		require.ErrorIs(t, err, ErrEngineClosed)
		require.ErrorIs(t, te.Query(func(*rtc.Room) {}), ErrEngineClosed)
	})
}

func TestEngineDisconnect(t *testing.T) {
	t.Run("application disconnect closes transports", func(t *testing.T) {
		te := newTestEngine(t)
		te.connect(t)

		te.Disconnect()

		n := te.expectNotification(t, rtc.NotificationDidDisconnect)
		require.NoError(t, n.Err)
		require.Equal(t, types.ConnectionStateDisconnected, te.ConnectionState())
		require.Equal(t, int32(1), te.signal.leaves.Load())
		require.Equal(t, int32(1), te.signal.closes.Load())
		require.Equal(t, int32(1), te.media.closes.Load())

		// second disconnect is a no-op
		te.Disconnect()
		require.Equal(t, int32(1), te.media.closes.Load())
	})

	t.Run("server leave", func(t *testing.T) {
		te := newTestEngine(t)
		te.connect(t)

		te.signal.send(&livekit.SignalResponse{
			Message: &livekit.SignalResponse_Leave{Leave: &livekit.LeaveRequest{}},
		})

		n := te.expectNotification(t, rtc.NotificationDidDisconnect)
		require.NoError(t, n.Err)
	})

	t.Run("abnormal close", func(t *testing.T) {
		te := newTestEngine(t)
		te.connect(t)

		te.signal.onClose(1006, "")

		n := te.expectNotification(t, rtc.NotificationDidDisconnect)
		var transportErr *rtc.TransportError
		require.True(t, errors.As(n.Err, &transportErr))
		require.Equal(t, 1006, transportErr.Code)
		require.Equal(t, int32(1), te.media.closes.Load())
	})
}

func TestEngineParticipantVersions(t *testing.T) {
	te := newTestEngine(t)
	te.connect(t, &livekit.ParticipantInfo{Sid: "PA_a", Identity: "alice", Metadata: "v2", Version: 2})

	// older than the join snapshot
	te.signal.send(updateResponse(&livekit.ParticipantInfo{Sid: "PA_a", Identity: "alice", Metadata: "v1", Version: 1}))
	require.NoError(t, te.Query(func(room *rtc.Room) {
		require.Equal(t, "v2", room.GetRemoteParticipant("PA_a").Metadata())
	}))

	te.signal.send(updateResponse(&livekit.ParticipantInfo{Sid: "PA_a", Identity: "alice", Metadata: "v3", Version: 3}))
	require.NoError(t, te.Query(func(room *rtc.Room) {
		require.Equal(t, "v3", room.GetRemoteParticipant("PA_a").Metadata())
	}))

	te.signal.send(updateResponse(&livekit.ParticipantInfo{Sid: "PA_b", Identity: "bob", Version: 1}))
	n := te.expectNotification(t, rtc.NotificationParticipantDidConnect)
	require.Equal(t, livekit.ParticipantIdentity("bob"), n.Participant.Identity())
}

func TestEngineSpeakers(t *testing.T) {
	te := newTestEngine(t)
	te.connect(t, &livekit.ParticipantInfo{Sid: "PA_a", Identity: "alice"})

	te.signal.send(&livekit.SignalResponse{
		Message: &livekit.SignalResponse_SpeakersChanged{
			SpeakersChanged: &livekit.SpeakersChanged{
				Speakers: []*livekit.SpeakerInfo{{Sid: "PA_a", Level: 0.7, Active: true}},
			},
		},
	})

	n := te.expectNotification(t, rtc.NotificationActiveSpeakersDidChange)
	require.Len(t, n.Speakers, 1)
	require.Equal(t, livekit.ParticipantID("PA_a"), n.Speakers[0].SID())
}

func TestEngineMedia(t *testing.T) {
	t.Run("remote tracks are routed by stream id", func(t *testing.T) {
		te := newTestEngine(t)
		te.connect(t, &livekit.ParticipantInfo{
			Sid:      "PA_a",
			Identity: "alice",
			Tracks:   []*livekit.TrackInfo{{Sid: "TR_a", Type: livekit.TrackType_AUDIO, Name: "mic"}},
		})

		audio := &fakeTrack{id: "TR_a"}
		te.media.onTrack(rtc.PackStreamID("PA_a", "TR_a"), "TR_a", livekit.TrackType_AUDIO, audio)
		te.media.onData(rtc.PackDataTrackLabel("PA_a", "TR_d", "chat"), &fakeTrack{id: "dc"})
		te.media.onData("_reliable", &fakeTrack{id: "reliable"})

		require.NoError(t, te.Query(func(room *rtc.Room) {
			rp := room.GetRemoteParticipant("PA_a")
			require.Len(t, rp.TrackPublications(), 2)
			require.Same(t, audio, rp.GetTrackPublication("TR_a").Track())
			require.Equal(t, "chat", rp.GetTrackPublication("TR_d").Name())
		}))

		te.Disconnect()
		te.expectNotification(t, rtc.NotificationDidDisconnect)
		require.Equal(t, int32(1), audio.stops.Load())
	})

	t.Run("negotiation", func(t *testing.T) {
		te := newTestEngine(t)
		te.connect(t)

		te.signal.send(&livekit.SignalResponse{
			Message: &livekit.SignalResponse_Offer{
				Offer: &livekit.SessionDescription{Type: "offer", Sdp: "offer-sdp"},
			},
		})
		te.signal.send(&livekit.SignalResponse{
			Message: &livekit.SignalResponse_Trickle{
				Trickle: &livekit.TrickleRequest{
					CandidateInit: `{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}`,
					Target:        livekit.SignalTarget_SUBSCRIBER,
				},
			},
		})
		require.NoError(t, te.Query(func(*rtc.Room) {}))

		te.media.lock.Lock()
		require.Len(t, te.media.offers, 1)
		require.Equal(t, "offer-sdp", te.media.offers[0].SDP)
		require.Len(t, te.media.candidates, 1)
		te.media.lock.Unlock()

		var answer *livekit.SessionDescription
		for _, req := range te.signal.sentRequests() {
			if a, ok := req.Message.(*livekit.SignalRequest_Answer); ok {
				answer = a.Answer
			}
		}
		require.NotNil(t, answer)
		require.Equal(t, "answer", answer.Type)
		require.Equal(t, "answer-sdp", answer.Sdp)

		te.media.onICE(webrtc.ICECandidateInit{Candidate: "candidate:2"}, livekit.SignalTarget_PUBLISHER)
		te.media.onOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "publisher-offer"})

		var sawTrickle, sawOffer bool
		for _, req := range te.signal.sentRequests() {
			switch m := req.Message.(type) {
			case *livekit.SignalRequest_Trickle:
				sawTrickle = m.Trickle.Target == livekit.SignalTarget_PUBLISHER
			case *livekit.SignalRequest_Offer:
				sawOffer = m.Offer.Sdp == "publisher-offer"
			}
		}
		require.True(t, sawTrickle)
		require.True(t, sawOffer)
	})
}

func TestEnginePublishTrack(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		te := newTestEngine(t)
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "stream")
		require.NoError(t, err)

		_, err = te.PublishTrack(context.Background(), track, "microphone")
		require.ErrorIs(t, err, rtc.ErrNotConnected)
	})

	t.Run("acknowledged", func(t *testing.T) {
		te := newTestEngine(t)
		te.signal.ackTrackSID = "TR_mic"
		te.connect(t)

		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "stream")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		pub, err := te.PublishTrack(ctx, track, "microphone")
		require.NoError(t, err)
		require.Equal(t, livekit.TrackID("TR_mic"), pub.SID())
		require.Equal(t, livekit.TrackType_AUDIO, pub.Kind())
		require.Equal(t, "microphone", pub.Name())
		require.True(t, pub.IsSubscribed())

		te.media.lock.Lock()
		require.Equal(t, []string{"mic"}, te.media.published)
		te.media.lock.Unlock()

		require.NoError(t, te.Query(func(room *rtc.Room) {
			require.NotNil(t, room.LocalParticipant().GetTrackPublication("TR_mic"))
		}))
	})

	t.Run("no acknowledgement", func(t *testing.T) {
		te := newTestEngine(t)
		te.connect(t)

		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera", "stream")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = te.PublishTrack(ctx, track, "camera")
		require.ErrorIs(t, err, context.DeadlineExceeded)

		te.media.lock.Lock()
		require.Empty(t, te.media.published)
		te.media.lock.Unlock()
	})
}
