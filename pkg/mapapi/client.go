// Package mapapi is a typed client for the map backend's REST API
// (layers, aircraft, airspace).
package mapapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"airmap/pkg/model"
	"airmap/pkg/request"
)

// Getter is the transport the client needs. *request.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, u, cacheKey string) ([]byte, error)
}

// APIError is an error response from the map backend.
type APIError struct {
	Status int
	// Detail is the backend's "detail" message, if it sent one.
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("map api: status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("map api: status %d", e.Status)
}

// AircraftQuery holds the supported list filters. Zero values are omitted.
type AircraftQuery struct {
	Limit  int
	Skip   int
	Hex    string
	Flight string
}

func (q AircraftQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Skip > 0 {
		v.Set("skip", strconv.Itoa(q.Skip))
	}
	if q.Hex != "" {
		v.Set("hex", q.Hex)
	}
	if q.Flight != "" {
		v.Set("flight", q.Flight)
	}
	return v
}

// Client talks to the map backend.
type Client struct {
	baseURL string
	http    Getter
	// CacheAirspace enables response caching for airspace geometry, which
	// changes far less often than positions.
	CacheAirspace bool
}

// New creates a client for baseURL, e.g. "http://localhost:8000/api/v1".
func New(baseURL string, g Getter) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    g,
	}
}

// MapLayers returns the configured map layers.
func (c *Client) MapLayers(ctx context.Context) ([]model.Layer, error) {
	var layers []model.Layer
	if err := c.getJSON(ctx, "/map-layers/", nil, "", &layers); err != nil {
		return nil, err
	}
	return layers, nil
}

// Aircraft returns one page of current aircraft.
func (c *Client) Aircraft(ctx context.Context, q AircraftQuery) (*model.AircraftPage, error) {
	var page model.AircraftPage
	if err := c.getJSON(ctx, "/aircraft/", q.values(), "", &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AircraftByID returns a single aircraft record.
func (c *Client) AircraftByID(ctx context.Context, id string) (*model.AircraftRecord, error) {
	var rec model.AircraftRecord
	if err := c.getJSON(ctx, "/aircraft/"+url.PathEscape(id), nil, "", &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Airspace returns up to limit airspace polygons as GeoJSON.
func (c *Client) Airspace(ctx context.Context, limit int) (*geojson.FeatureCollection, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	key := ""
	if c.CacheAirspace {
		key = fmt.Sprintf("airspace:%d", limit)
	}

	body, err := c.get(ctx, "/airspace/geojson", v, key)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("decode airspace: %w", err)
	}
	return fc, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, cacheKey string, out any) error {
	body, err := c.get(ctx, path, q, cacheKey)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, cacheKey string) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	body, err := c.http.Get(ctx, u, cacheKey)
	if err != nil {
		return nil, translate(err)
	}
	return body, nil
}

// translate turns transport status errors into *APIError, keeping the backend's detail.
func translate(err error) error {
	var se *request.StatusError
	if !errors.As(err, &se) {
		return err
	}
	apiErr := &APIError{Status: se.Code, Detail: parseDetail(se.Body)}
	if errors.Is(err, request.ErrMaxRetries) {
		return fmt.Errorf("%w: %w", request.ErrMaxRetries, apiErr)
	}
	return apiErr
}

// parseDetail extracts {"detail": ...}. Validation errors carry a list; those
// are reported as their raw JSON.
func parseDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}
	if string(payload.Detail) == "null" {
		return ""
	}
	return string(payload.Detail)
}
