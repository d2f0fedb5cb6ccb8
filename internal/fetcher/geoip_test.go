package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"playerident/internal/ratelimit"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoProvidersDecodeTheirFormats(t *testing.T) {
	tests := []struct {
		name string
		body string
		make func(*Client, *ratelimit.Service) *GeoProvider
	}{
		{
			name: "IPStack",
			body: `{"country_code":"DE","country_name":"Germany","region_code":"BE","region_name":"Berlin","city":"Berlin","zip":"10115","latitude":52.52,"longitude":13.4}`,
			make: func(c *Client, s *ratelimit.Service) *GeoProvider { return NewIPStack(c, s, "secret") },
		},
		{
			name: "FreeGeoIP",
			body: `{"country_code":"DE","country_name":"Germany","region_code":"BE","region_name":"Berlin","city":"Berlin","zip_code":"10115","latitude":52.52,"longitude":13.4}`,
			make: NewFreeGeoIP,
		},
		{
			name: "IPAPI",
			body: `{"country":"DE","country_name":"Germany","region_code":"BE","region":"Berlin","city":"Berlin","postal":"10115","latitude":52.52,"longitude":13.4}`,
			make: NewIPAPI,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var query string
			srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				query = r.URL.RawQuery
				w.Write([]byte(tt.body))
			})
			clk := clock.NewMock()
			svc := ratelimit.New(tt.name, srv.URL+"/{subject}?k={key}", IPAPICooldown, clk)

			info, err := tt.make(testClient(clk), svc).Attempt(context.Background(), "203.0.113.7")
			require.NoError(t, err)
			assert.Equal(t, "203.0.113.7", info.Address)
			assert.Equal(t, "DE", info.CountryCode)
			assert.Equal(t, "Germany", info.CountryName)
			assert.Equal(t, "BE", info.RegionCode)
			assert.Equal(t, "Berlin", info.RegionName)
			assert.Equal(t, "Berlin", info.City)
			assert.Equal(t, "10115", info.PostalCode)
			assert.InDelta(t, 52.52, info.Latitude, 1e-9)
			assert.InDelta(t, 13.4, info.Longitude, 1e-9)
			assert.Equal(t, tt.name, info.Source)
			if tt.name == "IPStack" {
				assert.Equal(t, "k=secret", query)
			}
		})
	}
}

func TestGeoProviderRateLimitSignals(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		make   func(*Client, *ratelimit.Service) *GeoProvider
	}{
		{
			name:   "IPStack",
			status: http.StatusOK,
			body:   `{"success":false,"error":{"code":104,"type":"usage_limit_reached","info":"quota"}}`,
			make:   func(c *Client, s *ratelimit.Service) *GeoProvider { return NewIPStack(c, s, "k") },
		},
		{name: "FreeGeoIP", status: http.StatusForbidden, make: NewFreeGeoIP},
		{name: "IPAPI", status: http.StatusTooManyRequests, make: NewIPAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			clk := clock.NewMock()
			svc := ratelimit.New(tt.name, srv.URL+"/{subject}", FreeGeoIPCooldown, clk)
			p := tt.make(testClient(clk), svc)

			_, err := p.Attempt(context.Background(), "203.0.113.7")
			var f *Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, RateLimited, f.Kind)
			assert.False(t, svc.Available(clk.Now()))

			_, err = p.Attempt(context.Background(), "203.0.113.7")
			require.Error(t, err)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestGeoProviderIgnoresOtherProvidersSignals(t *testing.T) {
	// 429 means nothing to FreeGeoIP and 403 means nothing to IPAPI
	tests := []struct {
		name   string
		status int
		make   func(*Client, *ratelimit.Service) *GeoProvider
	}{
		{"FreeGeoIP", http.StatusTooManyRequests, NewFreeGeoIP},
		{"IPAPI", http.StatusForbidden, NewIPAPI},
		{"IPAPI", http.StatusInternalServerError, NewIPAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			clk := clock.NewMock()
			svc := ratelimit.New(tt.name, srv.URL+"/{subject}", IPAPICooldown, clk)

			_, err := tt.make(testClient(clk), svc).Attempt(context.Background(), "203.0.113.7")
			var f *Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, Transient, f.Kind)
			assert.Equal(t, tt.status, f.Status)
			assert.True(t, svc.Available(clk.Now()))
		})
	}
}

func TestGeoProviderRequiresCoordinates(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"country_code":"DE","latitude":52.52}`))
	})
	clk := clock.NewMock()
	svc := ratelimit.New("FreeGeoIP", srv.URL+"/{subject}", FreeGeoIPCooldown, clk)

	_, err := NewFreeGeoIP(testClient(clk), svc).Attempt(context.Background(), "203.0.113.7")
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, Transient, f.Kind)
	assert.Contains(t, err.Error(), "longitude")
}
