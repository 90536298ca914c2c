package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregateReadings_Empty(t *testing.T) {
	snap := AggregateReadings(Location{City: "X"}, nil)
	assert.Equal(t, ConditionUnknown, snap.Condition)
	assert.False(t, snap.Timestamp.IsZero())
}

func TestAggregateReadings_AveragesAndRange(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(30 * time.Minute)

	snap := AggregateReadings(Location{City: "X"}, []ProviderReading{
		{ProviderName: "a", Timestamp: t1, TemperatureC: 10, HumidityPct: 50, Condition: ConditionCloudy, Description: "Overcast", IconURL: "a.png"},
		{ProviderName: "b", Timestamp: t2, TemperatureC: 20, HumidityPct: 70, Condition: ConditionRain, Description: "Light rain", IconURL: "b.png"},
		{ProviderName: "c", Timestamp: t1, TemperatureC: 30, HumidityPct: 60, Condition: ConditionRain},
	})

	assert.Equal(t, 20.0, snap.Temperature)
	assert.Equal(t, 60.0, snap.Humidity)
	// Readings without an explicit range contribute their temperature.
	assert.Equal(t, 10.0, snap.TempMin)
	assert.Equal(t, 30.0, snap.TempMax)
	assert.Equal(t, ConditionRain, snap.Condition)
	assert.Equal(t, "Light rain", snap.Description)
	assert.Equal(t, "b.png", snap.IconURL)
	assert.Equal(t, t2, snap.Timestamp)
	assert.Len(t, snap.Providers, 3)
}

func TestAggregateReadings_ZeroRangeIsKept(t *testing.T) {
	snap := AggregateReadings(Location{City: "Oslo"}, []ProviderReading{
		{ProviderName: "a", TemperatureC: 0.5, TempMinC: 0, TempMaxC: 0, HasRange: true},
		{ProviderName: "b", TemperatureC: 3, TempMinC: -1, TempMaxC: 4, HasRange: true},
	})
	assert.Equal(t, -1.0, snap.TempMin)
	assert.Equal(t, 4.0, snap.TempMax)

	snap = AggregateReadings(Location{City: "Oslo"}, []ProviderReading{
		{ProviderName: "a", TemperatureC: 0.5, TempMinC: 0, TempMaxC: 0, HasRange: true},
		{ProviderName: "b", TemperatureC: 2},
	})
	assert.Equal(t, 0.0, snap.TempMin)
	assert.Equal(t, 2.0, snap.TempMax)
}

func TestAggregateReadings_TieKeepsFirstSeen(t *testing.T) {
	snap := AggregateReadings(Location{City: "X"}, []ProviderReading{
		{Condition: ConditionSnow},
		{Condition: ConditionClear},
	})
	assert.Equal(t, ConditionSnow, snap.Condition)
}

func TestLocationKey(t *testing.T) {
	assert.Equal(t, "são paulo:br", Location{City: "São Paulo", Country: "BR"}.Key())
	loc := NewLocation("Recife", "", -8, -34)
	assert.True(t, loc.HasCoordinates())
	assert.False(t, Location{City: "Recife"}.HasCoordinates())
}
