package pionpc

import (
	"context"
	"testing"

	"github.com/Connect-Club/connectclub-calls-client/media"
	"github.com/Connect-Club/connectclub-calls-client/sdp"
	"github.com/Connect-Club/connectclub-calls-client/transport"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnection(t *testing.T) transport.Connection {
	factory, err := NewFactory(logrus.WithField("test", t.Name()))
	require.NoError(t, err)
	connection, err := factory.NewConnection(transport.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = connection.Close()
	})
	return connection
}

func TestFactoryRegistersInterceptors(t *testing.T) {
	factory, err := NewFactory(logrus.WithField("test", t.Name()))
	require.NoError(t, err)
	require.NotNil(t, factory.interceptors)

	chain, err := factory.interceptors.Build("test")
	require.NoError(t, err)
	assert.NoError(t, chain.Close())
}

func TestOfferIsParsable(t *testing.T) {
	connection := newConnection(t)

	silence, err := media.NewPlaceholder(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)
	black, err := media.NewPlaceholder(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)
	_, err = connection.AddTrack(silence)
	require.NoError(t, err)
	_, err = connection.AddTrack(black)
	require.NoError(t, err)
	var id uint16
	_, err = connection.CreateDataChannel("data", transport.DataChannelInit{ID: &id, Negotiated: true})
	require.NoError(t, err)

	offer, err := connection.CreateOffer(context.Background(), transport.OfferOptions{})
	require.NoError(t, err)
	require.NoError(t, connection.SetLocalDescription(context.Background(), offer))

	payload, err := sdp.ParseGroup(offer)
	require.NoError(t, err)
	assert.NotEmpty(t, payload.Ufrag)
	assert.NotEmpty(t, payload.Pwd)
	assert.NotZero(t, payload.Ssrc)
	require.Len(t, payload.SsrcGroups, 1)
	assert.NotEmpty(t, payload.SsrcGroups[0].Sources)
}

func TestReplaceTrack(t *testing.T) {
	connection := newConnection(t)

	black, err := media.NewPlaceholder(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)
	_, err = connection.AddTrack(black)
	require.NoError(t, err)

	sender := transport.FindSender(connection, black.ID())
	require.NotNil(t, sender)

	camera, err := media.PlaceholderDevices{}.Acquire(context.Background(), media.Video, media.FacingUser)
	require.NoError(t, err)
	require.NoError(t, sender.ReplaceTrack(camera))

	assert.Nil(t, transport.FindSender(connection, black.ID()))
	assert.Equal(t, sender, transport.FindSender(connection, camera.ID()))
}

func TestCanceledContext(t *testing.T) {
	connection := newConnection(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := connection.CreateOffer(ctx, transport.OfferOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
