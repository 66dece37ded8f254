package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Driver represents a driver profile owned by one account.
type Driver struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AccountID     string             `bson:"accountId" json:"accountId"`
	Name          string             `bson:"name" json:"name"`
	Email         string             `bson:"email,omitempty" json:"email,omitempty"`
	Phone         string             `bson:"phone,omitempty" json:"phone,omitempty"`
	LicenseNumber string             `bson:"licenseNumber,omitempty" json:"licenseNumber,omitempty"`
	VehicleID     string             `bson:"vehicleId,omitempty" json:"vehicleId,omitempty"`
	Status        string             `bson:"status,omitempty" json:"status,omitempty"`
	CreatedAt     time.Time          `bson:"createdAt,omitempty" json:"createdAt"`
}

// Assigned reports whether the driver is linked to a vehicle.
func (d Driver) Assigned() bool {
	return d.VehicleID != ""
}
