package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Location is a point in decimal degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Vehicle is the registration payload for POST /vehicles.
type Vehicle struct {
	Make            string  `json:"make"`
	Model           string  `json:"model"`
	Mileage         float64 `json:"mileage"`
	Status          string  `json:"status"`
	UtilizationRate float64 `json:"utilizationRate"`
}

// Tracking is the payload for POST /tracking.
type Tracking struct {
	VehicleID string    `json:"vehicleId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// Towns around Nairobi the simulated vehicles drive between.
var towns = []Location{
	{Lat: -1.2864, Lng: 36.8172}, // Nairobi
	{Lat: -1.0333, Lng: 37.0693}, // Thika
	{Lat: -1.5177, Lng: 37.2634}, // Machakos
	{Lat: -1.1714, Lng: 36.8356}, // Kiambu
	{Lat: -0.7172, Lng: 36.4310}, // Naivasha
	{Lat: -0.3031, Lng: 36.0800}, // Nakuru
	{Lat: -1.8524, Lng: 36.7768}, // Kajiado
	{Lat: -1.3917, Lng: 36.9386}, // Athi River
}

var catalogue = []struct{ Make, Model string }{
	{"Toyota", "Probox"},
	{"Toyota", "Hiace"},
	{"Isuzu", "NQR"},
	{"Isuzu", "D-Max"},
	{"Nissan", "NV200"},
	{"Mitsubishi", "Canter"},
	{"Subaru", "Forester"},
}

// Client posts to the dashboard API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Login exchanges credentials for a token and keeps it on the client.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/auth/login", map[string]string{"email": email, "password": password}, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return fmt.Errorf("login returned no token")
	}
	c.Token = resp.Token
	return nil
}

func randomVehicle(rng *rand.Rand) Vehicle {
	pick := catalogue[rng.Intn(len(catalogue))]
	status := "Active"
	if rng.Float64() < 0.2 {
		status = "Inactive"
	}
	return Vehicle{
		Make:            pick.Make,
		Model:           pick.Model,
		Mileage:         math.Round(5000 + rng.Float64()*150000),
		Status:          status,
		UtilizationRate: math.Round(rng.Float64() * 100),
	}
}

// CreateVehicle registers a vehicle and returns its id.
func (c *Client) CreateVehicle(ctx context.Context, v Vehicle) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/vehicles", v, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("invalid vehicle ID in response")
	}
	log.WithFields(log.Fields{
		"vehicle_id": created.ID,
		"make":       v.Make,
		"model":      v.Model,
		"status":     v.Status,
	}).Info("Created vehicle")
	return created.ID, nil
}

// SendTracking posts one position.
func (c *Client) SendTracking(ctx context.Context, t Tracking) error {
	return c.post(ctx, "/tracking", t, nil)
}

func haversineKm(a, b Location) float64 {
	const R = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return R * 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

func jitterLocation(rng *rand.Rand, base Location, meters float64) Location {
	latMetersPerDeg := 111320.0
	lngMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rng.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLng := (rng.Float64()*2 - 1) * (meters / lngMetersPerDeg)
	return Location{Lat: base.Lat + dLat, Lng: base.Lng + dLng}
}

// VehicleState is one simulated vehicle driving town to town.
type VehicleState struct {
	VehicleID string
	Position  Location
	Target    Location
	SpeedKmh  float64
	Odometer  float64 // km driven in this run
}

// step moves the vehicle toward its target for tickSec seconds and picks
// a new town on arrival.
func (s *VehicleState) step(rng *rand.Rand, tickSec float64) {
	s.SpeedKmh += (rng.Float64()*2 - 1) * 1.5
	s.SpeedKmh = math.Min(math.Max(s.SpeedKmh, 15), 90)

	travel := s.SpeedKmh * tickSec / 3600
	left := haversineKm(s.Position, s.Target)
	if travel >= left {
		s.Odometer += left
		s.Position = s.Target
		s.Target = jitterLocation(rng, towns[rng.Intn(len(towns))], 500)
		return
	}
	t := travel / left
	s.Position = Location{
		Lat: s.Position.Lat + (s.Target.Lat-s.Position.Lat)*t,
		Lng: s.Position.Lng + (s.Target.Lng-s.Position.Lng)*t,
	}
	s.Odometer += travel
}

func simulateVehicle(ctx context.Context, c *Client, s *VehicleState, rng *rand.Rand, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		s.step(rng, interval.Seconds())
		err := c.SendTracking(ctx, Tracking{
			VehicleID: s.VehicleID,
			Lat:       s.Position.Lat,
			Lng:       s.Position.Lng,
			Timestamp: time.Now(),
		})
		entry := log.WithFields(log.Fields{"vehicle_id": s.VehicleID, "odometer_km": math.Round(s.Odometer*10) / 10})
		if err != nil {
			entry.WithError(err).Warn("Failed to send tracking")
			continue
		}
		entry.Debug("Sent tracking")
	}
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func main() {
	_ = godotenv.Load()

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}
	fleetSize := envInt("FLEET_SIZE", 5)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &Client{BaseURL: apiURL, Token: os.Getenv("SIM_AUTH_TOKEN"), HTTP: &http.Client{Timeout: 10 * time.Second}}
	if email := os.Getenv("SIM_EMAIL"); email != "" {
		if err := client.Login(ctx, email, os.Getenv("SIM_PASSWORD")); err != nil {
			log.Fatalf("Failed to sign in: %v", err)
		}
	}

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"api_url":    apiURL,
		"interval":   interval,
	}).Info("Starting fleet simulation")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	states := make([]*VehicleState, 0, fleetSize)
	for i := 0; i < fleetSize; i++ {
		id, err := client.CreateVehicle(ctx, randomVehicle(rng))
		if err != nil {
			log.WithError(err).Error("Failed to create vehicle")
			continue
		}
		start := jitterLocation(rng, towns[rng.Intn(len(towns))], 500)
		states = append(states, &VehicleState{
			VehicleID: id,
			Position:  start,
			Target:    jitterLocation(rng, towns[rng.Intn(len(towns))], 500),
			SpeedKmh:  30 + rng.Float64()*30,
		})
	}
	if len(states) == 0 {
		log.Fatal("No vehicles created. Check the credentials and that the API is reachable.")
	}

	var wg sync.WaitGroup
	for i, s := range states {
		wg.Add(1)
		// rand.Rand is not safe for concurrent use.
		vehicleRng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
		go func(s *VehicleState) {
			defer wg.Done()
			simulateVehicle(ctx, client, s, vehicleRng, interval)
		}(s)
	}
	log.WithField("vehicles", len(states)).Info("Tracking simulation started")
	wg.Wait()
	log.Info("Simulation stopped")
}
