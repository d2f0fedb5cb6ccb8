package resolver

import (
	"context"

	"playerident/internal/chain"
	"playerident/internal/fetcher"
	"playerident/models"
)

// LookupAddress asks the enabled geo-IP providers about address in the order
// IPStack, FreeGeoIP, IPAPI. Providers that are cooling down are skipped.
// Results are not cached.
func (r *Resolver) LookupAddress(ctx context.Context, address string) (models.GeoIPInfo, error) {
	fc := r.config()

	var providers []chain.Source[string, models.GeoIPInfo]
	if fc.IPStack {
		providers = append(providers, fetcher.NewIPStack(r.client, r.ipstackSvc, fc.IPStackKey))
	}
	if fc.FreeGeoIP {
		providers = append(providers, fetcher.NewFreeGeoIP(r.client, r.freeGeoIPSvc))
	}
	if fc.IPAPI {
		providers = append(providers, fetcher.NewIPAPI(r.client, r.ipapiSvc))
	}

	info, err := chain.Walk(ctx, providers, address, r.observer("geoip"))
	if err != nil {
		return models.GeoIPInfo{}, &NoGeoIPError{Address: address, Err: err}
	}
	return info, nil
}
