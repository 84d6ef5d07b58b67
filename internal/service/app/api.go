package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"blind_relay/internal/model"

	"github.com/gorilla/websocket"
)

type (
	// API talks to the relay's HTTP surface and opens its websocket.
	API struct {
		base   url.URL
		client *http.Client
		token  string
	}

	PeerKey struct {
		DisplayName string `json:"displayName"`
		PublicKey   string `json:"publicKey"`
	}

	loginResult struct {
		DisplayName string `json:"displayName"`
		PublicKey   string `json:"publicKey"`
		Token       string `json:"token"`
	}

	apiError struct {
		Error string `json:"error"`
	}
)

func NewAPI(host string) *API {
	return &API{
		base:   url.URL{Scheme: "http", Host: host},
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *API) Token() string {
	return a.token
}

// Register publishes the public key under name. password may be empty.
func (a *API) Register(ctx context.Context, name, password, publicKey string) error {
	body := map[string]string{"username": name, "password": password, "publicKey": publicKey}
	return a.do(ctx, http.MethodPost, "/api/register", nil, body, nil)
}

// Login exchanges a password for a token, which later calls and the
// websocket auth frame carry.
func (a *API) Login(ctx context.Context, name, password string) error {
	var res loginResult
	body := map[string]string{"username": name, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/login", nil, body, &res); err != nil {
		return err
	}
	a.token = res.Token
	return nil
}

func (a *API) Lookup(ctx context.Context, name string) (*PeerKey, error) {
	var res PeerKey
	if err := a.do(ctx, http.MethodGet, "/api/user/"+url.PathEscape(name), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *API) DirectHistory(ctx context.Context, me, with string) ([]model.Envelope, error) {
	return a.history(ctx, url.Values{"me": {me}, "with": {with}})
}

func (a *API) RoomHistory(ctx context.Context, roomID string) ([]model.Envelope, error) {
	return a.history(ctx, url.Values{"room": {roomID}})
}

func (a *API) history(ctx context.Context, q url.Values) ([]model.Envelope, error) {
	var res []model.Envelope
	if err := a.do(ctx, http.MethodGet, "/api/history", q, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

func (a *API) Dial(ctx context.Context) (*websocket.Conn, error) {
	u := a.base
	u.Scheme = "ws"
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return conn, nil
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := a.base
	u.Path = path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%w: %s %s: %s", statusError(resp.StatusCode), method, path, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(status int) error {
	switch status {
	case http.StatusBadRequest:
		return model.ErrInvalidInput
	case http.StatusUnauthorized:
		return model.ErrUnauthorized
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusConflict:
		return model.ErrConflict
	case http.StatusTooManyRequests:
		return model.ErrRateLimited
	default:
		return errors.New(http.StatusText(status))
	}
}
