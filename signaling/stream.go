package signaling

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/Connect-Club/connectclub-calls-client/groupcall"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	handshakeTimeout = 3 * time.Second

	// pongWait - pingInterval is how long the server has to answer a ping
	pingInterval     = 5 * time.Second
	pongWait         = 7 * time.Second
	closeWriteWait   = 2 * time.Second
	maxEventSize     = 1 << 20
	participantsType = "participants"
	signalingType    = "signaling"
)

// event is one frame of the call's event stream.
type event struct {
	Type         string                  `json:"type"`
	Participants []groupcall.Participant `json:"participants,omitempty"`
	Data         []byte                  `json:"data,omitempty"`
}

func (c *Client) streamUrl() (string, error) {
	u, err := url.Parse(c.callUrl("/stream"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// stream dials the event stream. The returned channel is closed when ctx is
// done or the connection drops.
func (c *Client) stream(ctx context.Context, eventType string) (<-chan event, error) {
	if !c.isActive.Load() {
		return nil, InactiveClientError
	}
	streamUrl, err := c.streamUrl()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+c.token)
	header.Add(clientIdHeader, c.id)

	conn, resp, err := c.dialer.DialContext(ctx, streamUrl, header)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, BadTokenError
			case http.StatusNotFound:
				return nil, NotFoundError
			}
		}
		return nil, err
	}
	log := c.log.WithField("stream", eventType)
	log.Info("event stream connected")

	events := make(chan event)
	done := make(chan struct{})
	conn.SetReadLimit(maxEventSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(events)
		defer close(done)
		for {
			var e event
			if err := conn.ReadJSON(&e); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.WithError(err).Warn("event stream read failed")
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			if e.Type != eventType {
				continue
			}
			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	go c.keepAlive(ctx, conn, done, log)
	return events, nil
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}, log *logrus.Entry) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer func() {
		if err := conn.Close(); err != nil {
			log.WithError(err).Debug("cannot close event stream")
		}
	}()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeWriteWait),
			)
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeWriteWait)); err != nil {
				log.WithError(err).Warn("cannot ping event stream")
				return
			}
		}
	}
}

// ParticipantUpdates streams participant deltas of the group call.
func (c *Client) ParticipantUpdates(ctx context.Context) (<-chan []groupcall.Participant, error) {
	events, err := c.stream(ctx, participantsType)
	if err != nil {
		return nil, err
	}
	out := make(chan []groupcall.Participant)
	go func() {
		defer close(out)
		for e := range events {
			select {
			case out <- e.Participants:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SignalingData streams payloads the other party of a direct call sent.
func (c *Client) SignalingData(ctx context.Context) (<-chan []byte, error) {
	events, err := c.stream(ctx, signalingType)
	if err != nil {
		return nil, err
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for e := range events {
			select {
			case out <- e.Data:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
