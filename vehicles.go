package client

import (
	"context"
	"net/url"
)

// Vehicle describes a vehicle known to the catalog backend.
type Vehicle struct {
	ID         string         `json:"id"`
	Year       int            `json:"year,omitempty"`
	Make       string         `json:"make,omitempty"`
	Model      string         `json:"model,omitempty"`
	Engine     string         `json:"engine,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// VehicleService wraps the vehicle endpoints. Selecting a vehicle
// establishes backend-side context; the session id the server assigns is
// captured into the shared SessionPropagator and stamped on subsequent
// calls.
type VehicleService struct {
	resource
}

func NewVehicleService(client HTTPClient, manager *AuthManager) *VehicleService {
	return &VehicleService{resource{client: client, manager: manager}}
}

// Get returns a single vehicle by id.
func (s *VehicleService) Get(ctx context.Context, id string) (*Vehicle, error) {
	if id == "" {
		return nil, errWithMeta(ErrValidation, nil, map[string]any{"reason": "vehicle id is required"})
	}

	opts, err := s.authOptions(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Get(ctx, "/vehicles/"+url.PathEscape(id), opts...)
	if err != nil {
		return nil, err
	}
	s.manager.SessionPropagator().CaptureResponse(res)

	vehicle := &Vehicle{}
	if err := res.DecodeJSON(vehicle); err != nil {
		return nil, err
	}
	return vehicle, nil
}

// Select makes the vehicle the active context for follow-up lookups and
// records the sticky session id from the response.
func (s *VehicleService) Select(ctx context.Context, id string) (*Vehicle, error) {
	if id == "" {
		return nil, errWithMeta(ErrValidation, nil, map[string]any{"reason": "vehicle id is required"})
	}

	opts, err := s.authOptions(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Post(ctx, "/vehicles/"+url.PathEscape(id)+"/select", nil, opts...)
	if err != nil {
		return nil, err
	}
	s.manager.SessionPropagator().CaptureResponse(res)

	vehicle := &Vehicle{}
	if err := res.DecodeJSON(vehicle); err != nil {
		return nil, err
	}
	return vehicle, nil
}
