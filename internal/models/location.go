package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Position is a geographical position with latitude and longitude coordinates.
type Position struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

// FallbackPosition is shown until the first tracking record arrives (Nairobi).
var FallbackPosition = Position{Lat: -1.2864, Lng: 36.8172}

// TrackingRecord is one reported vehicle position. Coordinates may arrive as
// strings from some clients.
type TrackingRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AccountID string             `bson:"accountId" json:"accountId"`
	VehicleID string             `bson:"vehicleId,omitempty" json:"vehicleId,omitempty"`
	Lat       Numeric            `bson:"lat" json:"lat"`
	Lng       Numeric            `bson:"lng" json:"lng"`
	Timestamp time.Time          `bson:"timestamp,omitempty" json:"timestamp"`
}

// Position resolves the record's coordinates, falling back per coordinate
// when a value cannot be parsed.
func (r TrackingRecord) Position(fallback Position) Position {
	return Position{
		Lat: r.Lat.Float(fallback.Lat),
		Lng: r.Lng.Float(fallback.Lng),
	}
}
