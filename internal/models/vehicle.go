package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Vehicle status values written by the dashboard. Other values are allowed
// and count as not active.
const (
	VehicleStatusActive   = "Active"
	VehicleStatusInactive = "Inactive"
)

// Vehicle represents a fleet vehicle owned by one account.
type Vehicle struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AccountID       string             `bson:"accountId" json:"accountId"`
	Make            string             `bson:"make" json:"make"`
	Model           string             `bson:"model" json:"model"`
	Mileage         Numeric            `bson:"mileage,omitempty" json:"mileage"`
	Status          string             `bson:"status" json:"status"`
	UtilizationRate Numeric            `bson:"utilizationRate,omitempty" json:"utilizationRate"` // 0-100
	CreatedAt       time.Time          `bson:"createdAt,omitempty" json:"createdAt"`
}

// IsActive reports whether the status is exactly "Active".
func (v Vehicle) IsActive() bool {
	return v.Status == VehicleStatusActive
}

// Label is the display name used by charts.
func (v Vehicle) Label() string {
	return v.Make + " " + v.Model
}
