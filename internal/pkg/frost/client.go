package frost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/multicareConsortium/st-utils/internal/pkg/monitor"
)

// ErrUpload wraps any failure to push an observation to the remote store.
// Upload failures count toward a connection's retry budget.
var ErrUpload = errors.New("observation upload failed")

// Client talks to an OGC SensorThings (FROST-compatible) server. It holds
// no mutable state of its own: concurrent calls from different connections
// race only at the remote server.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
	monitor    *monitor.Monitor
}

func New(baseURL, user, password string, mon *monitor.Monitor) *Client {
	credentials := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))

	return &Client{
		baseURL:    baseURL,
		authHeader: "Basic " + credentials,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{MaxIdleConnsPerHost: 16},
		},
		monitor: mon,
	}
}

// BaseURL returns the configured endpoint of the remote store.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping confirms the remote store is reachable and answering queries.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.getJSON(ctx, c.baseURL+"/Datastreams")
	if err != nil {
		return fmt.Errorf("remote store at %s not reachable: %w", c.baseURL, err)
	}
	return nil
}

type queryResult struct {
	Value    []map[string]any `json:"value"`
	NextLink string           `json:"@iot.nextLink"`
}

// filterQuery issues an OData-style equality filter against a collection
// path (e.g. "/Sensors") or a fully qualified navigation URL.
func (c *Client) filterQuery(ctx context.Context, collectionOrURL, filter string) (queryResult, error) {
	target := collectionOrURL
	if !isAbsolute(target) {
		target = c.baseURL + target
	}
	target += "?$filter=" + url.QueryEscape(filter)

	var result queryResult

	body, err := c.getJSON(ctx, target)
	if err != nil {
		return result, err
	}

	err = json.Unmarshal(body, &result)
	if err != nil {
		return result, fmt.Errorf("could not decode query response: %w", err)
	}

	return result, nil
}

func isAbsolute(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != ""
}

func (c *Client) getJSON(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.authHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned status %d", target, resp.StatusCode)
	}

	return body, nil
}

// post sends a JSON document and returns the Location header of the created
// resource.
func (c *Client) post(ctx context.Context, target string, body []byte) (string, error) {
	log := logging.GetFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(resp.Body)
		log.Warn("create request rejected", "url", target, "status", resp.StatusCode, "response", string(msg))
		return "", fmt.Errorf("POST %s returned status %d", target, resp.StatusCode)
	}

	return resp.Header.Get("Location"), nil
}
