package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/fluxcd/conveyor/pkg/api"
	"github.com/fluxcd/conveyor/pkg/artifact"
	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
	"github.com/fluxcd/conveyor/pkg/history"
	transport "github.com/fluxcd/conveyor/pkg/http"
	"github.com/fluxcd/conveyor/pkg/http/httperror"
	"github.com/fluxcd/conveyor/pkg/pipeline"
)

type Token string

func (t Token) Set(req *http.Request) {
	if string(t) != "" {
		req.Header.Set("Authorization", "Bearer "+string(t))
	}
}

type Client struct {
	client   *http.Client
	token    Token
	router   *mux.Router
	endpoint string
	// WebhookSecret, if set, is used to sign the source change
	// events sent with NotifyChange.
	WebhookSecret string
}

var _ api.Server = &Client{}

func New(c *http.Client, router *mux.Router, endpoint string, t Token) *Client {
	return &Client{
		client:   c,
		token:    t,
		router:   router,
		endpoint: endpoint,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Get(ctx, nil, transport.Ping)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v string
	err := c.Get(ctx, &v, transport.Version)
	return v, err
}

func (c *Client) NotifyChange(ctx context.Context, e pipeline.Event) (api.TriggerResult, error) {
	var res api.TriggerResult
	err := c.methodWithResp(ctx, "POST", &res, transport.Webhook, e)
	return res, err
}

func (c *Client) ListServices(ctx context.Context) ([]artifact.Service, error) {
	var res []artifact.Service
	err := c.Get(ctx, &res, transport.ListServices)
	return res, err
}

func (c *Client) ListRuns(ctx context.Context) ([]pipeline.Summary, error) {
	var res []pipeline.Summary
	err := c.Get(ctx, &res, transport.ListRuns)
	return res, err
}

func (c *Client) RunStatus(ctx context.Context, id pipeline.RunID) (pipeline.Run, error) {
	var res pipeline.Run
	err := c.Get(ctx, &res, transport.RunStatus, "id", string(id))
	return res, err
}

func (c *Client) RunEvents(ctx context.Context, id pipeline.RunID) ([]history.Event, error) {
	var res []history.Event
	err := c.Get(ctx, &res, transport.RunEvents, "id", string(id))
	return res, err
}

func (c *Client) Promote(ctx context.Context, id pipeline.RunID, opts api.PromoteOptions) (pipeline.Run, error) {
	var res pipeline.Run
	err := c.methodWithResp(ctx, "POST", &res, transport.Promote, opts, "id", string(id))
	return res, err
}

func (c *Client) Abort(ctx context.Context, id pipeline.RunID) (pipeline.Run, error) {
	var res pipeline.Run
	err := c.methodWithResp(ctx, "POST", &res, transport.Abort, nil, "id", string(id))
	return res, err
}

// --- Request helpers

// methodWithResp handles body and param encoding, as well as decoding
// the response into the provided destination. The response is only
// decoded into dest if it has a body.
func (c *Client) methodWithResp(ctx context.Context, method string, dest interface{}, route string, body interface{}, urlParams ...string) error {
	u, err := transport.MakeURL(c.endpoint, c.router, route, urlParams...)
	if err != nil {
		return errors.Wrap(err, "constructing URL")
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return errors.Wrapf(err, "constructing request %s", u)
	}
	c.token.Set(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if route == transport.Webhook && c.WebhookSecret != "" {
		transport.SignRequest(req, c.WebhookSecret, bodyBytes, time.Now())
	}

	resp, err := c.executeRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "reading response from server")
	}
	if len(respBytes) == 0 || dest == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, dest); err != nil {
		return errors.Wrap(err, "decoding response from server")
	}
	return nil
}

// Get executes a get request against the conveyor daemon. It
// unmarshals the response into dest, if not nil.
func (c *Client) Get(ctx context.Context, dest interface{}, route string, urlParams ...string) error {
	return c.methodWithResp(ctx, "GET", dest, route, nil, urlParams...)
}

func (c *Client) executeRequest(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "executing HTTP request")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusAccepted:
		return resp, nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body of error")
	}
	// Use the content type to discriminate between `fluxerr.Error`,
	// and any old error
	if strings.HasPrefix(resp.Header.Get(http.CanonicalHeaderKey("Content-Type")), "application/json") {
		var niceError fluxerr.Error
		if err := json.Unmarshal(body, &niceError); err != nil {
			return nil, errors.Wrap(err, "decoding response body of error")
		}
		// just in case it's JSON but not one of our own errors
		if niceError.Err != nil {
			return nil, &niceError
		}
	}
	return nil, httperror.New(resp, body)
}
