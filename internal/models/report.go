package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Report is a free-form fleet report filed against an account.
type Report struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AccountID string             `bson:"accountId" json:"accountId"`
	Title     string             `bson:"title" json:"title"`
	Type      string             `bson:"type,omitempty" json:"type,omitempty"` // "incident", "maintenance", "fuel", ...
	Content   string             `bson:"content,omitempty" json:"content,omitempty"`
	VehicleID string             `bson:"vehicleId,omitempty" json:"vehicleId,omitempty"`
	CreatedAt time.Time          `bson:"createdAt,omitempty" json:"createdAt"`
}
