package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dashboard/internal/analytics"
	"github.com/ukydev/fleet-dashboard/internal/db"
	"github.com/ukydev/fleet-dashboard/internal/fleet"
	"github.com/ukydev/fleet-dashboard/internal/layout"
	"github.com/ukydev/fleet-dashboard/internal/middleware"
	"github.com/ukydev/fleet-dashboard/internal/models"
	"github.com/ukydev/fleet-dashboard/internal/session"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Collections are the write side of the fleet records. Writes reach the
// dashboard state through the live subscriptions, not directly.
type Collections struct {
	Vehicles db.VehicleWriter
	Drivers  db.DriverWriter
	Reports  db.ReportWriter
	Tracking db.TrackingWriter
}

// FleetHandler serves the account's live state and accepts fleet records.
type FleetHandler struct {
	sessions    Sessions
	collections Collections
	log         logrus.FieldLogger
}

// NewFleetHandler creates a fleet handler.
func NewFleetHandler(sessions Sessions, collections Collections, logger logrus.FieldLogger) *FleetHandler {
	return &FleetHandler{sessions: sessions, collections: collections, log: logger}
}

// AnalyticsResponse is the analytics view payload.
type AnalyticsResponse struct {
	analytics.Summary
	UtilizationPercent int `json:"utilizationPercent"`
}

// SettingsRequest updates account preferences.
type SettingsRequest struct {
	DarkMode *bool `json:"darkMode"`
}

// store returns the caller's live store, opening a session for the
// token's account when this instance has none.
func (h *FleetHandler) store(w http.ResponseWriter, r *http.Request) (*fleet.Store, *models.Claims, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return nil, nil, false
	}
	token, _ := middleware.RequestToken(r)
	st, err := h.sessions.Ensure(session.New(claims.UserID, token, claims.Role))
	if err != nil {
		h.log.WithError(err).WithField("account_id", claims.UserID).Error("Failed to open fleet session")
		http.Error(w, "Failed to open session", http.StatusInternalServerError)
		return nil, nil, false
	}
	return st, claims, true
}

// GetState returns drivers, vehicles, reports, the tracking position and
// dark mode for the caller's account.
func (h *FleetHandler) GetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, _, ok := h.store(w, r)
	if !ok {
		return
	}
	writeJSON(w, h.log, http.StatusOK, st.State())
}

// GetAnalytics returns the analytics summary of the current state.
func (h *FleetHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, _, ok := h.store(w, r)
	if !ok {
		return
	}
	summary := st.Analytics()
	writeJSON(w, h.log, http.StatusOK, AnalyticsResponse{Summary: summary, UtilizationPercent: summary.UtilizationPercent()})
}

// UpdateSettings stores the dark mode preference.
func (h *FleetHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SettingsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DarkMode == nil {
		http.Error(w, "darkMode is required", http.StatusBadRequest)
		return
	}
	st, claims, ok := h.store(w, r)
	if !ok {
		return
	}
	if err := st.SetDarkMode(r.Context(), *req.DarkMode); err != nil {
		h.log.WithError(err).WithField("account_id", claims.UserID).Error("Failed to save settings")
		http.Error(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.log, http.StatusOK, models.Settings{ID: models.SettingsID(claims.UserID), DarkMode: req.DarkMode})
}

// GetLayout returns the chart layout for ?width=.
func (h *FleetHandler) GetLayout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	width, err := strconv.Atoi(r.URL.Query().Get("width"))
	if err != nil || width < 0 {
		http.Error(w, "width must be a non-negative integer", http.StatusBadRequest)
		return
	}
	writeJSON(w, h.log, http.StatusOK, layout.For(width))
}

// CreateVehicle registers a vehicle for the caller's account.
func (h *FleetHandler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.writer(w, r)
	if !ok {
		return
	}
	var v models.Vehicle
	if !decodeBody(w, r, &v) {
		return
	}
	if strings.TrimSpace(v.Make) == "" || strings.TrimSpace(v.Model) == "" {
		http.Error(w, "make and model are required", http.StatusBadRequest)
		return
	}
	if v.Status == "" {
		v.Status = models.VehicleStatusActive
	}
	v.ID = primitive.NewObjectID()
	v.AccountID = claims.UserID
	v.CreatedAt = time.Now()

	if err := h.collections.Vehicles.InsertVehicle(r.Context(), v); err != nil {
		h.insertFailed(w, claims, db.VehiclesCollection, err)
		return
	}
	writeJSON(w, h.log, http.StatusCreated, v)
}

// CreateDriver registers a driver for the caller's account.
func (h *FleetHandler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.writer(w, r)
	if !ok {
		return
	}
	var d models.Driver
	if !decodeBody(w, r, &d) {
		return
	}
	if strings.TrimSpace(d.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	d.ID = primitive.NewObjectID()
	d.AccountID = claims.UserID
	d.CreatedAt = time.Now()

	if err := h.collections.Drivers.InsertDriver(r.Context(), d); err != nil {
		h.insertFailed(w, claims, db.DriversCollection, err)
		return
	}
	writeJSON(w, h.log, http.StatusCreated, d)
}

// CreateReport files a report for the caller's account.
func (h *FleetHandler) CreateReport(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.writer(w, r)
	if !ok {
		return
	}
	var rep models.Report
	if !decodeBody(w, r, &rep) {
		return
	}
	if strings.TrimSpace(rep.Title) == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}
	rep.ID = primitive.NewObjectID()
	rep.AccountID = claims.UserID
	rep.CreatedAt = time.Now()

	if err := h.collections.Reports.InsertReport(r.Context(), rep); err != nil {
		h.insertFailed(w, claims, db.ReportsCollection, err)
		return
	}
	writeJSON(w, h.log, http.StatusCreated, rep)
}

// RecordTracking stores a vehicle position for the caller's account.
func (h *FleetHandler) RecordTracking(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.writer(w, r)
	if !ok {
		return
	}
	var rec models.TrackingRecord
	if !decodeBody(w, r, &rec) {
		return
	}
	if !rec.Lat.Valid() || !rec.Lng.Valid() {
		http.Error(w, "lat and lng must be numbers", http.StatusBadRequest)
		return
	}
	rec.ID = primitive.NewObjectID()
	rec.AccountID = claims.UserID
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	if err := h.collections.Tracking.InsertTracking(r.Context(), rec); err != nil {
		h.insertFailed(w, claims, db.TrackingCollection, err)
		return
	}
	writeJSON(w, h.log, http.StatusCreated, rec)
}

func (h *FleetHandler) writer(w http.ResponseWriter, r *http.Request) (*models.Claims, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

func (h *FleetHandler) insertFailed(w http.ResponseWriter, claims *models.Claims, collection string, err error) {
	h.log.WithError(err).WithFields(logrus.Fields{
		"account_id": claims.UserID,
		"collection": collection,
	}).Error("Failed to insert record")
	http.Error(w, "Failed to save record", http.StatusInternalServerError)
}
