package db

import (
	"context"

	"github.com/ukydev/fleet-dashboard/internal/models"
)

// VehicleWriter defines the interface for vehicle writes.
type VehicleWriter interface {
	InsertVehicle(ctx context.Context, vehicle models.Vehicle) error
}

// DriverWriter defines the interface for driver writes.
type DriverWriter interface {
	InsertDriver(ctx context.Context, driver models.Driver) error
}

// ReportWriter defines the interface for report writes.
type ReportWriter interface {
	InsertReport(ctx context.Context, report models.Report) error
}

// TrackingWriter defines the interface for tracking writes.
type TrackingWriter interface {
	InsertTracking(ctx context.Context, record models.TrackingRecord) error
}

var (
	_ VehicleWriter  = (*MongoCollection)(nil)
	_ DriverWriter   = (*MongoCollection)(nil)
	_ ReportWriter   = (*MongoCollection)(nil)
	_ TrackingWriter = (*MongoCollection)(nil)
	_ UserCollection = (*MongoUserCollection)(nil)
)
