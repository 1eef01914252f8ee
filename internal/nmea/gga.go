// Package nmea decodes the rover's GGA position reports, the source
// of truth for the Caster's base-selection logic.
package nmea

import (
	"fmt"
	"strconv"

	adrianmo "github.com/adrianmo/go-nmea"
)

// Fix is the subset of a GGA sentence the relay acts on.
type Fix struct {
	Latitude  float64 // decimal degrees, positive north
	Longitude float64 // decimal degrees, positive east
	Quality   int64   // GPS quality indicator, field 6
	NumSats   int64
}

// ParseGGA decodes line, which must be a single NMEA sentence
// (leading '$', trailing checksum), and returns an error if it is not
// a GGA sentence or fails checksum validation.
func ParseGGA(line string) (Fix, error) {
	sentence, err := adrianmo.Parse(line)
	if err != nil {
		return Fix{}, fmt.Errorf("nmea: parse: %w", err)
	}
	if sentence.DataType() != adrianmo.TypeGGA {
		return Fix{}, fmt.Errorf("nmea: not a GGA sentence (got %s)", sentence.DataType())
	}
	gga := sentence.(adrianmo.GGA)
	quality, err := strconv.ParseInt(gga.FixQuality, 10, 64)
	if err != nil {
		return Fix{}, fmt.Errorf("nmea: fix quality: %w", err)
	}

	return Fix{
		Latitude:  gga.Latitude,
		Longitude: gga.Longitude,
		Quality:   quality,
		NumSats:   int64(gga.NumSatellites),
	}, nil
}
