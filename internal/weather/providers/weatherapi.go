package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/weatherapp/internal/common"
	"github.com/i474232898/weatherapp/internal/weather"
)

// WeatherAPIProvider implements weather.ForecastProvider and weather.Geocoder for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string, logger *zap.Logger) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1",
		httpCfg: defaultHTTPConfig(client),
		circuit: newBreaker("weatherapi", orNop(logger)),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

type weatherAPICondition struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
}

type weatherAPILocation struct {
	Name           string  `json:"name"`
	Region         string  `json:"region"`
	Country        string  `json:"country"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	LocaltimeEpoch int64   `json:"localtime_epoch"`
}

type weatherAPICurrent struct {
	LastUpdatedEpoch int64               `json:"last_updated_epoch"`
	TempC            float64             `json:"temp_c"`
	Humidity         float64             `json:"humidity"`
	WindKph          float64             `json:"wind_kph"`
	PressureMb       float64             `json:"pressure_mb"`
	PrecipMm         float64             `json:"precip_mm"`
	Condition        weatherAPICondition `json:"condition"`
}

type weatherAPIForecastDay struct {
	Date string `json:"date"`
	Day  struct {
		MaxTempC      float64             `json:"maxtemp_c"`
		MinTempC      float64             `json:"mintemp_c"`
		AvgTempC      float64             `json:"avgtemp_c"`
		MaxWindKph    float64             `json:"maxwind_kph"`
		TotalPrecipMm float64             `json:"totalprecip_mm"`
		AvgHumidity   float64             `json:"avghumidity"`
		Condition     weatherAPICondition `json:"condition"`
	} `json:"day"`
}

// query returns the "q" parameter; WeatherAPI accepts "city,country" or "lat,lon".
func (p *WeatherAPIProvider) query(loc weather.Location) string {
	if loc.HasCoordinates() {
		return fmt.Sprintf("%f,%f", *loc.Lat, *loc.Lon)
	}
	if loc.Country != "" {
		return fmt.Sprintf("%s,%s", loc.City, loc.Country)
	}
	return loc.City
}

func (p *WeatherAPIProvider) get(ctx context.Context, endpoint string, values url.Values, out any) error {
	if p.apiKey == "" {
		return fmt.Errorf("weatherapi api key is not configured")
	}
	values.Set("key", p.apiKey)

	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s/%s?%s", p.baseURL, endpoint, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	var payload struct {
		Location weatherAPILocation `json:"location"`
		Current  weatherAPICurrent  `json:"current"`
	}
	values := url.Values{}
	values.Set("q", p.query(loc))
	if err := p.get(ctx, "current.json", values, &payload); err != nil {
		return weather.ProviderReading{}, err
	}

	epoch := payload.Current.LastUpdatedEpoch
	if epoch == 0 {
		epoch = payload.Location.LocaltimeEpoch
	}
	ts := time.Now().UTC()
	if epoch > 0 {
		ts = time.Unix(epoch, 0).UTC()
	}

	c := payload.Current
	return weather.ProviderReading{
		ProviderName: p.name,
		Timestamp:    ts,
		TemperatureC: c.TempC,
		HumidityPct:  c.Humidity,
		WindSpeedMS:  c.WindKph / 3.6,
		PressureHpa:  c.PressureMb,
		PrecipMm:     c.PrecipMm,
		Condition:    mapWeatherAPICondition(c.Condition.Text),
		Description:  c.Condition.Text,
		IconURL:      iconURL(c.Condition.Icon),
	}, nil
}

// FetchForecast returns one reading per forecast day.
func (p *WeatherAPIProvider) FetchForecast(ctx context.Context, loc weather.Location, days int) ([]weather.ProviderReading, error) {
	var payload struct {
		Forecast struct {
			ForecastDay []weatherAPIForecastDay `json:"forecastday"`
		} `json:"forecast"`
	}
	values := url.Values{}
	values.Set("q", p.query(loc))
	values.Set("days", strconv.Itoa(days))
	values.Set("aqi", "no")
	values.Set("alerts", "no")
	if err := p.get(ctx, "forecast.json", values, &payload); err != nil {
		return nil, err
	}

	readings := make([]weather.ProviderReading, 0, len(payload.Forecast.ForecastDay))
	for _, fd := range payload.Forecast.ForecastDay {
		date, err := time.Parse("2006-01-02", fd.Date)
		if err != nil {
			continue
		}
		d := fd.Day
		readings = append(readings, weather.ProviderReading{
			ProviderName: p.name,
			Timestamp:    date.Add(12 * time.Hour),
			TemperatureC: d.AvgTempC,
			TempMinC:     d.MinTempC,
			TempMaxC:     d.MaxTempC,
			HasRange:     true,
			HumidityPct:  d.AvgHumidity,
			WindSpeedMS:  d.MaxWindKph / 3.6,
			PrecipMm:     d.TotalPrecipMm,
			Condition:    mapWeatherAPICondition(d.Condition.Text),
			Description:  d.Condition.Text,
			IconURL:      iconURL(d.Condition.Icon),
		})
	}
	return readings, nil
}

// Locate resolves a city name with the search endpoint; the best match comes first.
func (p *WeatherAPIProvider) Locate(ctx context.Context, name string) (weather.Location, error) {
	var results []weatherAPILocation
	values := url.Values{}
	values.Set("q", name)
	if err := p.get(ctx, "search.json", values, &results); err != nil {
		if isNotFound(err) {
			return weather.Location{}, weather.ErrLocationNotFound
		}
		return weather.Location{}, err
	}
	if len(results) == 0 {
		return weather.Location{}, weather.ErrLocationNotFound
	}
	r := results[0]
	return weather.NewLocation(r.Name, r.Country, r.Lat, r.Lon), nil
}

// Reverse names the place at lat/lon using the location block of current.json.
func (p *WeatherAPIProvider) Reverse(ctx context.Context, lat, lon float64) (weather.Location, error) {
	var payload struct {
		Location weatherAPILocation `json:"location"`
	}
	values := url.Values{}
	values.Set("q", fmt.Sprintf("%f,%f", lat, lon))
	if err := p.get(ctx, "current.json", values, &payload); err != nil {
		if isNotFound(err) {
			return weather.Location{}, weather.ErrLocationNotFound
		}
		return weather.Location{}, err
	}
	if payload.Location.Name == "" {
		return weather.Location{}, weather.ErrLocationNotFound
	}
	return weather.NewLocation(payload.Location.Name, payload.Location.Country, lat, lon), nil
}

// iconURL turns WeatherAPI's protocol-relative icon paths into absolute URLs.
func iconURL(icon string) string {
	if strings.HasPrefix(icon, "//") {
		return "https:" + icon
	}
	return icon
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case common.HasAny(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.HasAny(text, "snow", "sleet", "blizzard", "ice pellets"):
		return weather.ConditionSnow
	case common.HasAny(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.HasAny(text, "mist", "fog"):
		return weather.ConditionMist
	case common.HasAny(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.HasAny(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
