package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Connect-Club/connectclub-calls-client/groupcall"
	"github.com/Connect-Club/connectclub-calls-client/internal/volatile"
	"github.com/Connect-Club/connectclub-calls-client/p2p"
	"github.com/Connect-Club/connectclub-calls-client/sdp"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	retryDelay     = 500 * time.Millisecond
	requestTimeout = 10 * time.Second

	clientIdHeader  = "calls-client-id"
	requestIdHeader = "request-id"
)

var _ groupcall.Backend = (*Client)(nil)
var _ p2p.Signaler = (*Client)(nil)

// PhoneCall is what the backend knows about a direct call.
type PhoneCall struct {
	Connections  []p2p.PhoneCallConnection `json:"connections"`
	IsP2pAllowed bool                      `json:"isP2pAllowed"`
	IsOutgoing   bool                      `json:"isOutgoing"`
}

type signalingPayload struct {
	Data []byte `json:"data"`
}

// Client talks to the call-control backend on behalf of one call. It serves
// as the group call backend and as the direct call signaler.
type Client struct {
	log        *logrus.Entry
	id         string
	address    string
	token      string
	callId     string
	httpClient *http.Client
	dialer     *websocket.Dialer
	retryDelay time.Duration

	isActive *volatile.Value[bool]
}

func NewClient(address, token, callId string) *Client {
	clientId := uuid.NewString()
	return &Client{
		log: logrus.WithFields(logrus.Fields{
			"clientId":  clientId,
			"callId":    callId,
			"component": "signaling",
		}),
		id:         clientId,
		address:    strings.TrimRight(address, "/"),
		token:      token,
		callId:     callId,
		httpClient: &http.Client{Timeout: requestTimeout},
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		retryDelay: retryDelay,
		isActive:   volatile.NewValue(true),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) IsActive() bool {
	return c.isActive.Load()
}

// Close makes every later request fail with InactiveClientError. Open
// streams end with their contexts.
func (c *Client) Close() {
	if !c.isActive.Swap(false) {
		return
	}
	c.log.Info("🚀")
}

func (c *Client) callUrl(suffix string) string {
	return fmt.Sprintf("%s/calls/%s%s", c.address, url.PathEscape(c.callId), suffix)
}

func (c *Client) JoinCall(ctx context.Context, payload *sdp.JoinPayload) (*groupcall.ConnectionData, error) {
	c.log.Info("🚀")
	data := &groupcall.ConnectionData{}
	if err := c.call(ctx, http.MethodPost, c.callUrl("/join"), payload, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) JoinPresentation(ctx context.Context, payload *sdp.JoinPayload) (*groupcall.ConnectionData, error) {
	c.log.Info("🚀")
	data := &groupcall.ConnectionData{}
	if err := c.call(ctx, http.MethodPost, c.callUrl("/presentation"), payload, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) LeavePresentation(ctx context.Context) error {
	c.log.Info("🚀")
	return c.call(ctx, http.MethodDelete, c.callUrl("/presentation"), nil, nil)
}

func (c *Client) EditParticipant(ctx context.Context, flags groupcall.ParticipantFlags) error {
	return c.call(ctx, http.MethodPatch, c.callUrl("/participant"), flags, nil)
}

func (c *Client) LeaveCall(ctx context.Context) error {
	c.log.Info("🚀")
	return c.call(ctx, http.MethodDelete, c.callUrl("/join"), nil, nil)
}

func (c *Client) GetPhoneCall(ctx context.Context) (*PhoneCall, error) {
	phoneCall := &PhoneCall{}
	if err := c.call(ctx, http.MethodGet, c.callUrl(""), nil, phoneCall); err != nil {
		return nil, err
	}
	return phoneCall, nil
}

func (c *Client) SendSignalingData(ctx context.Context, data []byte) error {
	return c.call(ctx, http.MethodPost, c.callUrl("/signaling"), signalingPayload{Data: data}, nil)
}

// call sends in as json and decodes the response into out when out is not nil.
func (c *Client) call(ctx context.Context, method, url string, in, out interface{}) error {
	if !c.isActive.Load() {
		return InactiveClientError
	}
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}
	respBody, err := c.repeatableHttpRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w, cannot decode response of %v %v: %v", ServerError, method, url, err)
	}
	return nil
}

// repeatableHttpRequestWithContext retries until a 2xx response, a terminal
// status (401, 403, 404) or ctx is done. All attempts share one request id.
func (c *Client) repeatableHttpRequestWithContext(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	requestId := uuid.NewString()
	log := c.log.WithFields(logrus.Fields{"method": method, "url": url, "requestId": requestId})
	for {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Add("Authorization", "Bearer "+c.token)
		req.Header.Add(clientIdHeader, c.id)
		req.Header.Add(requestIdHeader, requestId)
		if body != nil {
			req.Header.Add("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.WithError(err).Info("http request failed")
		} else {
			respBody, readErr := io.ReadAll(resp.Body)
			if err := resp.Body.Close(); err != nil {
				log.WithError(err).Warn("cannot close response body")
			}
			switch {
			case readErr != nil:
				log.WithError(readErr).Info("cannot read response body")
			case resp.StatusCode == http.StatusNotFound:
				return respBody, NotFoundError
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				//it makes no sense to repeat
				return respBody, fmt.Errorf("%w, response status = %v", BadTokenError, resp.Status)
			case resp.StatusCode < 200 || resp.StatusCode > 299:
				log.Infof("incorrect response. StatusCode=%d, Status=%s", resp.StatusCode, resp.Status)
			default:
				return respBody, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}
