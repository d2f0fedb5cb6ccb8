package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"playerident/internal/ratelimit"
	"playerident/models"
)

// Cooldowns and rate-limit signals of the geo-IP providers. IPStack reports
// an exhausted quota as error code 104 inside a 200 response.
const (
	IPStackCooldown   = 2592000 * time.Second
	FreeGeoIPCooldown = 3600 * time.Second
	IPAPICooldown     = 86400 * time.Second

	IPStackRateLimitCode     = 104
	FreeGeoIPRateLimitStatus = http.StatusForbidden
	IPAPIRateLimitStatus     = http.StatusTooManyRequests
)

// GeoProvider resolves an address against one geo-IP web service
type GeoProvider struct {
	client          *Client
	svc             *ratelimit.Service
	key             string
	rateLimitStatus int
	decode          func(ctx context.Context, p *GeoProvider, url, address string) (models.GeoIPInfo, error)
}

// NewIPStack creates the ipstack.com provider, which requires an access key
func NewIPStack(client *Client, svc *ratelimit.Service, key string) *GeoProvider {
	return &GeoProvider{client: client, svc: svc, key: key, rateLimitStatus: IPStackRateLimitCode, decode: decodeIPStack}
}

func NewFreeGeoIP(client *Client, svc *ratelimit.Service) *GeoProvider {
	return &GeoProvider{client: client, svc: svc, rateLimitStatus: FreeGeoIPRateLimitStatus, decode: decodeFreeGeoIP}
}

func NewIPAPI(client *Client, svc *ratelimit.Service) *GeoProvider {
	return &GeoProvider{client: client, svc: svc, rateLimitStatus: IPAPIRateLimitStatus, decode: decodeIPAPI}
}

// Attempt looks address up. A provider that is cooling down is skipped
// without any request being made.
func (p *GeoProvider) Attempt(ctx context.Context, address string) (models.GeoIPInfo, error) {
	u, err := p.svc.RequestURL(address, p.key)
	if err != nil {
		return models.GeoIPInfo{}, &Failure{Kind: RateLimited, Source: p.svc.Name(), Err: err}
	}

	info, err := p.decode(ctx, p, u, address)
	if err != nil {
		return models.GeoIPInfo{}, checkRateLimit(err, p.rateLimitStatus, func() {
			p.svc.MarkRateLimited(p.client.Now())
		})
	}
	info.Source = p.svc.Name()
	return info, nil
}

func (p *GeoProvider) String() string {
	return p.svc.Name()
}

func (p *GeoProvider) incomplete(field string) error {
	return &Failure{Kind: Transient, Source: p.svc.Name(), Err: fmt.Errorf("response has no %s", field)}
}

func (p *GeoProvider) coordinates(lat, lon *float64) (float64, float64, error) {
	if lat == nil {
		return 0, 0, p.incomplete("latitude")
	}
	if lon == nil {
		return 0, 0, p.incomplete("longitude")
	}
	return *lat, *lon, nil
}

type ipstackResponse struct {
	Success     *bool    `json:"success"`
	CountryCode string   `json:"country_code"`
	CountryName string   `json:"country_name"`
	RegionCode  string   `json:"region_code"`
	RegionName  string   `json:"region_name"`
	City        string   `json:"city"`
	Zip         string   `json:"zip"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Error       *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
}

func decodeIPStack(ctx context.Context, p *GeoProvider, url, address string) (models.GeoIPInfo, error) {
	var resp ipstackResponse
	if err := p.client.GetJSON(ctx, p.svc.Name(), url, &resp); err != nil {
		return models.GeoIPInfo{}, err
	}
	if resp.Error != nil {
		return models.GeoIPInfo{}, &Failure{Kind: Transient, Source: p.svc.Name(), Status: resp.Error.Code,
			Err: fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Info)}
	}
	if resp.Success != nil && !*resp.Success {
		return models.GeoIPInfo{}, &Failure{Kind: Transient, Source: p.svc.Name(), Err: errors.New("request was not successful")}
	}
	lat, lon, err := p.coordinates(resp.Latitude, resp.Longitude)
	if err != nil {
		return models.GeoIPInfo{}, err
	}
	return models.GeoIPInfo{
		Address:     address,
		CountryCode: resp.CountryCode,
		CountryName: resp.CountryName,
		RegionCode:  resp.RegionCode,
		RegionName:  resp.RegionName,
		City:        resp.City,
		PostalCode:  resp.Zip,
		Latitude:    lat,
		Longitude:   lon,
	}, nil
}

type freeGeoIPResponse struct {
	CountryCode string   `json:"country_code"`
	CountryName string   `json:"country_name"`
	RegionCode  string   `json:"region_code"`
	RegionName  string   `json:"region_name"`
	City        string   `json:"city"`
	ZipCode     string   `json:"zip_code"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

func decodeFreeGeoIP(ctx context.Context, p *GeoProvider, url, address string) (models.GeoIPInfo, error) {
	var resp freeGeoIPResponse
	if err := p.client.GetJSON(ctx, p.svc.Name(), url, &resp); err != nil {
		return models.GeoIPInfo{}, err
	}
	lat, lon, err := p.coordinates(resp.Latitude, resp.Longitude)
	if err != nil {
		return models.GeoIPInfo{}, err
	}
	return models.GeoIPInfo{
		Address:     address,
		CountryCode: resp.CountryCode,
		CountryName: resp.CountryName,
		RegionCode:  resp.RegionCode,
		RegionName:  resp.RegionName,
		City:        resp.City,
		PostalCode:  resp.ZipCode,
		Latitude:    lat,
		Longitude:   lon,
	}, nil
}

type ipapiResponse struct {
	Country     string   `json:"country"`
	CountryName string   `json:"country_name"`
	RegionCode  string   `json:"region_code"`
	Region      string   `json:"region"`
	City        string   `json:"city"`
	Postal      string   `json:"postal"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Error       bool     `json:"error"`
	Reason      string   `json:"reason"`
}

func decodeIPAPI(ctx context.Context, p *GeoProvider, url, address string) (models.GeoIPInfo, error) {
	var resp ipapiResponse
	if err := p.client.GetJSON(ctx, p.svc.Name(), url, &resp); err != nil {
		return models.GeoIPInfo{}, err
	}
	if resp.Error {
		return models.GeoIPInfo{}, &Failure{Kind: Transient, Source: p.svc.Name(), Err: errors.New(resp.Reason)}
	}
	lat, lon, err := p.coordinates(resp.Latitude, resp.Longitude)
	if err != nil {
		return models.GeoIPInfo{}, err
	}
	return models.GeoIPInfo{
		Address:     address,
		CountryCode: resp.Country,
		CountryName: resp.CountryName,
		RegionCode:  resp.RegionCode,
		RegionName:  resp.Region,
		City:        resp.City,
		PostalCode:  resp.Postal,
		Latitude:    lat,
		Longitude:   lon,
	}, nil
}
