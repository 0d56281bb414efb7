package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/geo"
)

// ErrNoResult is returned when the geocoder knows no place for the query
var ErrNoResult = errors.New("no geocoding result")

// Config holds routing service endpoints. Empty endpoints disable the lookup.
type Config struct {
	OSRMEndpoint      string
	NominatimEndpoint string
	UserAgent         string
	Timeout           time.Duration
}

// Client estimates road distances with OSRM and resolves addresses with Nominatim.
// When OSRM is unset or fails, distances fall back to the great-circle distance.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a routing client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "fleet-requests"
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// CalculateDistance returns the driving distance in kilometres
func (c *Client) CalculateDistance(ctx context.Context, from, to geo.Point) (float64, error) {
	if c.cfg.OSRMEndpoint == "" {
		return geo.Haversine(from, to) / 1000, nil
	}

	km, err := c.osrmDistance(ctx, from, to)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		c.logger.Warn("OSRM lookup failed, using great-circle distance", zap.Error(err))
		return geo.Haversine(from, to) / 1000, nil
	}
	return km, nil
}

func (c *Client) osrmDistance(ctx context.Context, from, to geo.Point) (float64, error) {
	// OSRM takes lon,lat pairs
	u := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		c.cfg.OSRMEndpoint, from.Lng, from.Lat, to.Lng, to.Lat)

	var out struct {
		Code   string `json:"code"`
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"routes"`
	}
	if err := c.getJSON(ctx, u, &out); err != nil {
		return 0, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return 0, fmt.Errorf("osrm no route: %s", out.Code)
	}
	return out.Routes[0].Distance / 1000, nil
}

// Geocode resolves a free-form address to coordinates
func (c *Client) Geocode(ctx context.Context, address string) (geo.Point, error) {
	if c.cfg.NominatimEndpoint == "" {
		return geo.Point{}, fmt.Errorf("geocoding disabled")
	}

	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	var out []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := c.getJSON(ctx, c.cfg.NominatimEndpoint+"/search?"+q.Encode(), &out); err != nil {
		return geo.Point{}, err
	}
	if len(out) == 0 {
		return geo.Point{}, fmt.Errorf("%q: %w", address, ErrNoResult)
	}

	lat, err := strconv.ParseFloat(out[0].Lat, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid latitude %q: %w", out[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(out[0].Lon, 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid longitude %q: %w", out[0].Lon, err)
	}
	return geo.Point{Lat: lat, Lng: lng}, nil
}

// ReverseGeocode returns a display name for a coordinate
func (c *Client) ReverseGeocode(ctx context.Context, p geo.Point) (string, error) {
	if c.cfg.NominatimEndpoint == "" {
		return "", fmt.Errorf("geocoding disabled")
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(p.Lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(p.Lng, 'f', 6, 64))
	q.Set("format", "json")

	var out struct {
		DisplayName string `json:"display_name"`
		Error       string `json:"error"`
	}
	if err := c.getJSON(ctx, c.cfg.NominatimEndpoint+"/reverse?"+q.Encode(), &out); err != nil {
		return "", err
	}
	if out.DisplayName == "" {
		return "", fmt.Errorf("%.6f,%.6f: %w", p.Lat, p.Lng, ErrNoResult)
	}
	return out.DisplayName, nil
}

func (c *Client) getJSON(ctx context.Context, u string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var (
	_ port.DistanceCalculator = (*Client)(nil)
	_ port.Geocoder           = (*Client)(nil)
)
