package risk

import "math"

const earthRadiusKm = 6371.0

// haversine returns the great-circle distance between two coordinates in kilometres
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)

	lat1 = lat1 * (math.Pi / 180.0)
	lat2 = lat2 * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// circularHourDistance is the distance between two hours of day on a 24h clock
func circularHourDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	return math.Min(d, 24-d)
}
