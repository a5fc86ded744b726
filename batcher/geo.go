package batcher

import (
	"math"

	"github.com/theoremus-urban-solutions/departures/model"
)

// haversineKM returns the great-circle distance between two points.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	la1 := lat1 * math.Pi / 180
	la2 := lat2 * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(la1)*math.Cos(la2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// near compares coordinates when both places have them and identifiers
// otherwise.
func near(a, b model.Place, radiusKM float64) bool {
	if a.HasCoordinates() && b.HasCoordinates() {
		return haversineKM(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude) < radiusKM
	}
	return a.Key() != "" && a.Key() == b.Key()
}

// group partitions reqs, keeping their order. A request joins the first
// group whose leader is near at both ends.
func group(reqs []*request, radiusKM float64) [][]*request {
	var groups [][]*request
next:
	for _, r := range reqs {
		for i, g := range groups {
			lead := g[0].route
			if near(lead.Origin, r.route.Origin, radiusKM) && near(lead.Destination, r.route.Destination, radiusKM) {
				groups[i] = append(g, r)
				continue next
			}
		}
		groups = append(groups, []*request{r})
	}
	return groups
}
