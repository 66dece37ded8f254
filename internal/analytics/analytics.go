// Package analytics derives dashboard metrics from an account's vehicle and
// driver lists. Every input is defaulted leniently: malformed records never
// stop the dashboard from rendering.
package analytics

import (
	"math"

	"github.com/ukydev/fleet-dashboard/internal/models"
)

// NoDataLabel labels the placeholder point of an empty mileage chart.
const NoDataLabel = "No Data"

// Status chart labels.
const (
	LabelActive   = "Active"
	LabelInactive = "Inactive"
)

// Snapshot holds the three headline metrics.
type Snapshot struct {
	TotalMileage   float64 `json:"totalMileage"`
	ActiveVehicles int     `json:"activeVehicles"`
	AvgUtilization float64 `json:"avgUtilization"`
}

// ChartPoint is one labelled value of a chart dataset.
type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Summary is everything the analytics view shows.
type Summary struct {
	Snapshot
	TotalVehicles   int          `json:"totalVehicles"`
	TotalDrivers    int          `json:"totalDrivers"`
	AssignedDrivers int          `json:"assignedDrivers"`
	MileageChart    []ChartPoint `json:"mileageChart"`
	StatusChart     []ChartPoint `json:"statusChart"`
}

// UtilizationPercent is the average utilization rounded for display.
func (s Summary) UtilizationPercent() int {
	return int(math.Round(s.AvgUtilization))
}

// Compute builds a Summary from the current vehicle and driver lists.
// Mileage is totalled as whole numbers read from the leading digits, so
// "1000abc" adds 1000. Missing or non-numeric mileage and utilization count
// as 0, and the utilization mean is taken over all vehicles.
func Compute(vehicles []models.Vehicle, drivers []models.Driver) Summary {
	var (
		s           Summary
		utilization float64
	)
	s.TotalVehicles = len(vehicles)
	s.TotalDrivers = len(drivers)

	s.MileageChart = make([]ChartPoint, 0, max(1, len(vehicles)))
	for _, v := range vehicles {
		mileage := v.Mileage.Float(0)
		s.TotalMileage += v.Mileage.Integer(0)
		utilization += v.UtilizationRate.Float(0)
		if v.IsActive() {
			s.ActiveVehicles++
		}
		s.MileageChart = append(s.MileageChart, ChartPoint{Label: v.Label(), Value: mileage})
	}
	if len(vehicles) > 0 {
		s.AvgUtilization = utilization / float64(len(vehicles))
	} else {
		s.MileageChart = append(s.MileageChart, ChartPoint{Label: NoDataLabel})
	}

	s.StatusChart = []ChartPoint{
		{Label: LabelActive, Value: float64(s.ActiveVehicles)},
		{Label: LabelInactive, Value: float64(len(vehicles) - s.ActiveVehicles)},
	}

	for _, d := range drivers {
		if d.Assigned() {
			s.AssignedDrivers++
		}
	}
	return s
}
