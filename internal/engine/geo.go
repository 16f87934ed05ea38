package engine

import (
	"github.com/golang/geo/s2"

	"github.com/ernie/milsim/internal/domain"
)

const earthRadiusMeters = 6371000.0

// distanceMeters returns the great-circle distance between two points
func distanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * earthRadiusMeters
}

// inRange reports whether pos satisfies a position challenge on cp
func inRange(cp *domain.ControlPoint, ch *domain.PositionChallenge, pos *domain.Position) bool {
	if pos == nil {
		return false
	}
	if pos.Accuracy > ch.MinAccuracy {
		return false
	}
	return distanceMeters(cp.Latitude, cp.Longitude, pos.Lat, pos.Lng) <= ch.MinDistance
}
