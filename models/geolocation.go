package models

// GeoIPInfo is the result of a successful geo-IP lookup. Values are never
// modified after a provider returns them.
type GeoIPInfo struct {
	Address     string  `json:"address"`
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	RegionCode  string  `json:"region_code"`
	RegionName  string  `json:"region_name"`
	City        string  `json:"city"`
	PostalCode  string  `json:"postal_code"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Source      string  `json:"source"` // provider that answered
}
