package main

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dashboard/internal/config"
	"github.com/ukydev/fleet-dashboard/internal/handlers"
	"github.com/ukydev/fleet-dashboard/internal/middleware"
	"github.com/ukydev/fleet-dashboard/internal/models"
)

func newRouter(cfg *config.Config, tokens middleware.TokenValidator, revoked middleware.RevocationChecker, ah *handlers.AuthHandler, fh *handlers.FleetHandler, logger logrus.FieldLogger) http.Handler {
	authMW := middleware.NewAuthMiddleware(tokens, logger).WithRevocations(revoked)
	limit := middleware.NewRateLimitMiddleware(cfg.TrustProxy).RateLimit(cfg.RateLimit, time.Minute)
	allow := func(action string, h http.HandlerFunc) http.Handler {
		return authMW.RequirePermission(action)(h)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/auth/signup", limit(http.HandlerFunc(ah.Signup)))
	mux.Handle("/api/auth/login", limit(http.HandlerFunc(ah.Login)))
	mux.HandleFunc("/api/auth/refresh", ah.Refresh)
	mux.HandleFunc("/api/auth/logout", ah.Logout)
	mux.HandleFunc("/api/auth/profile", ah.GetProfile)

	mux.Handle("/api/fleet/state", allow(models.ActionViewFleet, fh.GetState))
	mux.Handle("/api/fleet/analytics", allow(models.ActionViewFleet, fh.GetAnalytics))
	mux.Handle("/api/fleet/settings", allow(models.ActionViewFleet, fh.UpdateSettings))
	mux.Handle("/api/fleet/live", allow(models.ActionViewFleet, fh.Live))
	mux.HandleFunc("/api/layout", fh.GetLayout)

	mux.Handle("/api/vehicles", allow(models.ActionManageFleet, fh.CreateVehicle))
	mux.Handle("/api/drivers", allow(models.ActionManageFleet, fh.CreateDriver))
	mux.Handle("/api/reports", allow(models.ActionFileReport, fh.CreateReport))
	mux.Handle("/api/tracking", allow(models.ActionRecordTracking, fh.RecordTracking))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return middleware.Logging(logger)(authMW.Authenticate(mux))
}
