package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/domain/geo"
)

var (
	addis = geo.Point{Lat: 9.0054, Lng: 38.7636}
	adama = geo.Point{Lat: 8.5400, Lng: 39.2700}
)

func TestCalculateDistance_UsesOSRM(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"distance":99500,"duration":5400}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{OSRMEndpoint: srv.URL}, zap.NewNop())
	km, err := c.CalculateDistance(context.Background(), addis, adama)
	require.NoError(t, err)
	assert.InDelta(t, 99.5, km, 0.001)
	assert.Equal(t, "/route/v1/driving/38.763600,9.005400;39.270000,8.540000", path)
}

func TestCalculateDistance_FallsBackToGreatCircle(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"no route", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"code":"NoRoute","routes":[]}`)) }},
		{"garbage", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`<html>`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewClient(Config{OSRMEndpoint: srv.URL}, zap.NewNop())
			km, err := c.CalculateDistance(context.Background(), addis, adama)
			require.NoError(t, err)
			assert.InDelta(t, geo.Haversine(addis, adama)/1000, km, 0.001)
		})
	}

	c := NewClient(Config{}, zap.NewNop())
	km, err := c.CalculateDistance(context.Background(), addis, adama)
	require.NoError(t, err)
	assert.InDelta(t, 76, km, 5)
}

func TestGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			if r.URL.Query().Get("q") == "Adama" {
				_, _ = w.Write([]byte(`[{"lat":"8.5400","lon":"39.2700","display_name":"Adama, Oromia"}]`))
				return
			}
			_, _ = w.Write([]byte(`[]`))
		case "/reverse":
			_, _ = w.Write([]byte(`{"display_name":"Adama, Oromia"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{NominatimEndpoint: srv.URL}, zap.NewNop())

	p, err := c.Geocode(context.Background(), "Adama")
	require.NoError(t, err)
	assert.Equal(t, adama, p)

	_, err = c.Geocode(context.Background(), "Atlantis")
	assert.True(t, errors.Is(err, ErrNoResult))

	name, err := c.ReverseGeocode(context.Background(), adama)
	require.NoError(t, err)
	assert.Equal(t, "Adama, Oromia", name)

	_, err = NewClient(Config{}, zap.NewNop()).Geocode(context.Background(), "Adama")
	assert.Error(t, err)
}
