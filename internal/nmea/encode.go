package nmea

import "fmt"

// EncodeGGA renders fix as a minimal, checksum-valid GGA sentence. It
// exists for tests; it is not a general NMEA encoder.
func EncodeGGA(fix Fix) string {
	latDeg := int(fix.Latitude)
	latMin := (fix.Latitude - float64(latDeg)) * 60
	latHemi := "N"
	if latDeg < 0 {
		latHemi = "S"
		latDeg = -latDeg
		latMin = -latMin
	}

	lonDeg := int(fix.Longitude)
	lonMin := (fix.Longitude - float64(lonDeg)) * 60
	lonHemi := "E"
	if lonDeg < 0 {
		lonHemi = "W"
		lonDeg = -lonDeg
		lonMin = -lonMin
	}

	body := fmt.Sprintf("GPGGA,000000.00,%02d%07.4f,%s,%03d%07.4f,%s,%d,%02d,1.0,0.0,M,0.0,M,,",
		latDeg, latMin, latHemi, lonDeg, lonMin, lonHemi, fix.Quality, fix.NumSats)

	checksum := byte(0)
	for i := 0; i < len(body); i++ {
		checksum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, checksum)
}
