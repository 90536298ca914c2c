package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weatherapp/internal/weather"
)

// geocoderMu serializes access to the package-level key of kelvins/geocoder.
var geocoderMu sync.Mutex

// GoogleGeocoder implements weather.Geocoder with the Google Geocoding API.
type GoogleGeocoder struct {
	apiKey string

	// Overridable in tests.
	forward func(geocoder.Address) (geocoder.Location, error)
	reverse func(geocoder.Location) ([]geocoder.Address, error)
}

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{
		apiKey:  apiKey,
		forward: geocoder.Geocoding,
		reverse: geocoder.GeocodingReverse,
	}
}

func (g *GoogleGeocoder) Locate(ctx context.Context, name string) (weather.Location, error) {
	if err := ctx.Err(); err != nil {
		return weather.Location{}, err
	}

	geocoderMu.Lock()
	geocoder.ApiKey = g.apiKey
	loc, err := g.forward(geocoder.Address{City: name})
	geocoderMu.Unlock()
	if err != nil {
		return weather.Location{}, fmt.Errorf("google geocoding %q: %w", name, err)
	}
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return weather.Location{}, weather.ErrLocationNotFound
	}
	return weather.NewLocation(name, "", loc.Latitude, loc.Longitude), nil
}

func (g *GoogleGeocoder) Reverse(ctx context.Context, lat, lon float64) (weather.Location, error) {
	if err := ctx.Err(); err != nil {
		return weather.Location{}, err
	}

	geocoderMu.Lock()
	geocoder.ApiKey = g.apiKey
	addresses, err := g.reverse(geocoder.Location{Latitude: lat, Longitude: lon})
	geocoderMu.Unlock()
	if err != nil {
		return weather.Location{}, fmt.Errorf("google reverse geocoding: %w", err)
	}

	for _, a := range addresses {
		if a.City != "" {
			return weather.NewLocation(a.City, a.Country, lat, lon), nil
		}
	}
	return weather.Location{}, weather.ErrLocationNotFound
}
