// Package flightsapi is the HTTP client for the flights server's REST API.
package flightsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/unklstewy/flightscope/pkg/opensky"
)

// DefaultTimeout for API requests
const DefaultTimeout = 10 * time.Second

// Client calls a flights server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// FlightsURL returns the /api/flights URL for a query.
func (c *Client) FlightsURL(lat, lng, sizeKm float64) string {
	params := url.Values{}
	params.Set("lat", formatFloat(lat))
	params.Set("lng", formatFloat(lng))
	params.Set("size", formatFloat(sizeKm))
	return c.baseURL + "/api/flights?" + params.Encode()
}

// Flights fetches the airborne aircraft around lat, lng. On-ground records
// are dropped even if the server returns them.
func (c *Client) Flights(ctx context.Context, lat, lng, sizeKm float64) ([]opensky.FlightRecord, error) {
	var flights []opensky.FlightRecord
	if err := c.getJSON(ctx, c.FlightsURL(lat, lng, sizeKm), &flights); err != nil {
		return nil, err
	}

	airborne := flights[:0]
	for _, f := range flights {
		if !f.OnGround {
			airborne = append(airborne, f)
		}
	}
	return airborne, nil
}

// Credits returns the server's view of the remaining OpenSky credits.
func (c *Client) Credits(ctx context.Context) (int, error) {
	var resp struct {
		Remaining int `json:"remaining"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/credits", &resp); err != nil {
		return 0, err
	}
	return resp.Remaining, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

func (c *Client) getJSON(ctx context.Context, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(body, &e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
