// Package directory fetches the reference-station sourcetable and
// ranks stations by distance from the rover, backing base selection.
package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gnss-relay/rbmc-ntrip/internal/relayerr"
	geo "github.com/kellydunn/golang-geo"
)

// Station is one reference station advertised by the sourcetable.
type Station struct {
	ID        string
	Latitude  float64
	Longitude float64
	DistanceKM float64
}

// Client fetches and ranks stations from a single sourcetable endpoint.
type Client struct {
	EndpointURL string
	httpClient  *http.Client
}

// NewClient builds a Client that fetches endpointURL on Fetch.
func NewClient(endpointURL string) *Client {
	return &Client{
		EndpointURL: endpointURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch retrieves the sourcetable and returns stations ranked nearest
// first to (lat, lon). A non-2xx response or a request that never
// completes is reported as relayerr.ErrDirectoryUnavailable; the
// Caster treats that as fatal to the session.
func (c *Client) Fetch(ctx context.Context, lat, lon float64) ([]Station, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.EndpointURL, nil)
	if err != nil {
		return nil, fmt.Errorf("directory: build request: %w", relayerr.ErrDirectoryUnavailable)
	}
	req.Header.Set("User-Agent", "NTRIP rbmc-ntrip/relay")
	req.Header.Set("Ntrip-Version", "Ntrip/2.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: fetch %s: %w: %v", c.EndpointURL, relayerr.ErrDirectoryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("directory: status %d: %w", resp.StatusCode, relayerr.ErrDirectoryUnavailable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("directory: read body: %w", relayerr.ErrDirectoryUnavailable)
	}

	stations := parseSourcetable(string(body))
	rank(stations, lat, lon)
	return stations, nil
}

// parseSourcetable extracts mountpoint id, latitude, and longitude
// from each "STR;"-prefixed line, skipping malformed entries.
func parseSourcetable(data string) []Station {
	var stations []Station
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "STR;") {
			continue
		}
		fields := strings.Split(line, ";")
		if len(fields) < 11 {
			continue
		}
		lat, errLat := strconv.ParseFloat(fields[9], 64)
		lon, errLon := strconv.ParseFloat(fields[10], 64)
		if errLat != nil || errLon != nil {
			continue
		}
		stations = append(stations, Station{
			ID:        fields[1],
			Latitude:  lat,
			Longitude: lon,
		})
	}
	return stations
}

// rank fills in each station's DistanceKM from (lat, lon) and sorts
// nearest first; equal distances keep their relative order, so the
// station appearing earlier in the source list wins a tie.
func rank(stations []Station, lat, lon float64) {
	origin := geo.NewPoint(lat, lon)
	for i := range stations {
		p := geo.NewPoint(stations[i].Latitude, stations[i].Longitude)
		stations[i].DistanceKM = origin.GreatCircleDistance(p)
	}
	sort.SliceStable(stations, func(i, j int) bool {
		return stations[i].DistanceKM < stations[j].DistanceKM
	})
}
