package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/weatherapp/internal/weather"
)

// OpenWeatherProvider implements weather.ForecastProvider for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, logger *zap.Logger) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5",
		httpCfg: defaultHTTPConfig(client),
		circuit: newBreaker("openweather", orNop(logger)),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// openWeatherEntry is shared by /weather and the entries of /forecast.
type openWeatherEntry struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp     float64 `json:"temp"`
		TempMin  float64 `json:"temp_min"`
		TempMax  float64 `json:"temp_max"`
		Humidity float64 `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Rain struct {
		OneH   float64 `json:"1h"`
		ThreeH float64 `json:"3h"`
	} `json:"rain"`
	Weather []openWeatherCondition `json:"weather"`
}

type openWeatherCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

func (p *OpenWeatherProvider) get(ctx context.Context, endpoint string, loc weather.Location, extra url.Values, out any) error {
	if p.apiKey == "" {
		return fmt.Errorf("openweather api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		for k, v := range extra {
			values[k] = v
		}
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")

		if loc.HasCoordinates() {
			values.Set("lat", fmt.Sprintf("%f", *loc.Lat))
			values.Set("lon", fmt.Sprintf("%f", *loc.Lon))
		} else {
			q := loc.City
			if loc.Country != "" {
				q = fmt.Sprintf("%s,%s", loc.City, loc.Country)
			}
			values.Set("q", q)
		}

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

func (p *OpenWeatherProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	var payload openWeatherEntry
	if err := p.get(ctx, "weather", loc, nil, &payload); err != nil {
		return weather.ProviderReading{}, err
	}
	r := p.reading(payload)
	// /weather min/max describe the city area, not the day.
	r.TempMinC, r.TempMaxC, r.HasRange = 0, 0, false
	return r, nil
}

// FetchForecast returns the 3-hourly entries covering the requested days (at most five).
func (p *OpenWeatherProvider) FetchForecast(ctx context.Context, loc weather.Location, days int) ([]weather.ProviderReading, error) {
	cnt := days * 8
	if cnt > 40 {
		cnt = 40
	}
	extra := url.Values{}
	extra.Set("cnt", fmt.Sprintf("%d", cnt))

	var payload struct {
		List []openWeatherEntry `json:"list"`
	}
	if err := p.get(ctx, "forecast", loc, extra, &payload); err != nil {
		return nil, err
	}

	readings := make([]weather.ProviderReading, 0, len(payload.List))
	for _, e := range payload.List {
		readings = append(readings, p.reading(e))
	}
	return readings, nil
}

func (p *OpenWeatherProvider) reading(e openWeatherEntry) weather.ProviderReading {
	ts := time.Now().UTC()
	if e.Dt > 0 {
		ts = time.Unix(e.Dt, 0).UTC()
	}

	precip := e.Rain.OneH
	if precip == 0 {
		precip = e.Rain.ThreeH
	}

	r := weather.ProviderReading{
		ProviderName: p.name,
		Timestamp:    ts,
		TemperatureC: e.Main.Temp,
		TempMinC:     e.Main.TempMin,
		TempMaxC:     e.Main.TempMax,
		HasRange:     true,
		HumidityPct:  e.Main.Humidity,
		WindSpeedMS:  e.Wind.Speed,
		PressureHpa:  e.Main.Pressure,
		PrecipMm:     precip,
		Condition:    mapOpenWeatherCondition(e.Weather),
	}
	if len(e.Weather) > 0 {
		r.Description = e.Weather[0].Description
		if e.Weather[0].Icon != "" {
			r.IconURL = fmt.Sprintf("https://openweathermap.org/img/wn/%s@2x.png", e.Weather[0].Icon)
		}
	}
	return r
}

func mapOpenWeatherCondition(items []openWeatherCondition) weather.Condition {
	if len(items) == 0 {
		return weather.ConditionUnknown
	}
	switch items[0].Main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke":
		return weather.ConditionMist
	default:
		return weather.ConditionUnknown
	}
}
