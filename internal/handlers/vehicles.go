package handlers

import (
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/middleware"
	"github.com/ukydev/fleet-telemetry/internal/models"
)

// VehicleHandler registers and lists fleet vehicles.
type VehicleHandler struct {
	vehicles db.VehicleCollection
}

// NewVehicleHandler creates a vehicle handler.
func NewVehicleHandler(vehicles db.VehicleCollection) *VehicleHandler {
	return &VehicleHandler{vehicles: vehicles}
}

// VehicleRequest is the body of a vehicle registration.
type VehicleRequest struct {
	OwnerID     string   `json:"owner_id,omitempty"`
	PlateNumber string   `json:"plate_number"`
	DeviceIDs   []string `json:"device_ids"`
	Type        string   `json:"type"`
	Make        string   `json:"make"`
	Model       string   `json:"model"`
	Year        int      `json:"year"`
}

// Create registers a vehicle. Owners always register for themselves;
// admins and managers may name another owner.
func (h *VehicleHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	var req VehicleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.PlateNumber = strings.TrimSpace(req.PlateNumber)
	if req.PlateNumber == "" {
		http.Error(w, "plate_number is required", http.StatusBadRequest)
		return
	}
	switch req.Type {
	case "":
		req.Type = "ICE"
	case "ICE", "EV":
	default:
		http.Error(w, "type must be ICE or EV", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" || claims.Role == models.RoleOwner {
		req.OwnerID = claims.UserID
	}

	vehicle, err := h.vehicles.InsertVehicle(r.Context(), models.Vehicle{
		OwnerID:     req.OwnerID,
		PlateNumber: req.PlateNumber,
		DeviceIDs:   req.DeviceIDs,
		Type:        req.Type,
		Make:        req.Make,
		Model:       req.Model,
		Year:        req.Year,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	log.WithFields(log.Fields{
		"vehicle_id": vehicle.ID.Hex(),
		"owner_id":   vehicle.OwnerID,
		"plate":      vehicle.PlateNumber,
	}).Info("Vehicle registered")
	writeJSON(w, http.StatusCreated, vehicle)
}

// List returns the vehicles visible to the caller.
func (h *VehicleHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	vehicles, err := h.vehicles.ListVehicles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if claims.Role == models.RoleOwner {
		own := vehicles[:0]
		for _, v := range vehicles {
			if v.OwnerID == claims.UserID {
				own = append(own, v)
			}
		}
		vehicles = own
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// Get returns one vehicle with its current status.
func (h *VehicleHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	vehicle, err := h.vehicles.FindVehicle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if claims.Role == models.RoleOwner && vehicle.OwnerID != claims.UserID {
		http.Error(w, "Vehicle not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}
