package market

import (
	"math"
	"strings"
	"time"
)

// meanTemperatureC is the annual mean ambient temperature per country.
var meanTemperatureC = map[string]float64{
	"DE": 10,
	"AT": 9,
	"CH": 8,
	"CZ": 9,
	"HU": 13,
}

const defaultTemperatureC = 25.0

// SyntheticTemperature models ambient temperature as the country mean plus a
// 12 degree seasonal swing and a 5 degree daily swing.
func SyntheticTemperature(country string, t time.Time) float64 {
	mean, ok := meanTemperatureC[strings.ToUpper(country)]
	if !ok {
		mean = defaultTemperatureC
	}
	doy := float64(t.YearDay())
	hour := float64(t.Hour())
	return mean + 12*math.Sin(2*math.Pi*doy/365) + 5*math.Sin(2*math.Pi*hour/24)
}
