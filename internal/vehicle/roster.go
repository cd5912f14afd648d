// Package vehicle holds the roster of cars in play and turns their marker
// poses into screen-space position estimates.
package vehicle

import (
	"fmt"

	"github.com/frogdesign/akart/internal/config"
	"github.com/frogdesign/akart/internal/marker"
)

// Car identifies a vehicle by the two markers glued on its rear, one on the
// left and one on the right.
type Car struct {
	ID    string `json:"id"`
	Left  int    `json:"left"`
	Right int    `json:"right"`
}

// TrackedVehicle is a roster car plus the poses its markers had in the most
// recent detection pass. The marker ids never change after setup.
type TrackedVehicle struct {
	car   Car
	left  marker.Pose
	right marker.Pose
}

// Car returns the vehicle identity
func (v *TrackedVehicle) Car() Car {
	return v.car
}

// ID returns the vehicle id
func (v *TrackedVehicle) ID() string {
	return v.car.ID
}

// LastPoses returns the marker poses from the latest pass
func (v *TrackedVehicle) LastPoses() (left, right marker.Pose) {
	return v.left, v.right
}

// Roster is the fixed set of vehicles for a session
type Roster struct {
	vehicles []*TrackedVehicle
	byID     map[string]*TrackedVehicle
}

// NewRoster builds a roster from config. Ids and marker ids must be unique.
func NewRoster(cars []config.CarConfig) (*Roster, error) {
	r := &Roster{byID: make(map[string]*TrackedVehicle, len(cars))}
	markers := make(map[int]string, len(cars)*2)
	for _, c := range cars {
		if c.ID == "" {
			return nil, fmt.Errorf("roster entry without id")
		}
		if _, dup := r.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate vehicle id %s", c.ID)
		}
		for _, m := range []int{c.Left, c.Right} {
			if m < 0 {
				continue
			}
			if owner, dup := markers[m]; dup {
				return nil, fmt.Errorf("marker %d assigned to both %s and %s", m, owner, c.ID)
			}
			markers[m] = c.ID
		}
		v := &TrackedVehicle{
			car:   Car{ID: c.ID, Left: c.Left, Right: c.Right},
			left:  marker.Pose{ID: c.Left},
			right: marker.Pose{ID: c.Right},
		}
		r.vehicles = append(r.vehicles, v)
		r.byID[c.ID] = v
	}
	return r, nil
}

// Vehicles returns the roster in configuration order
func (r *Roster) Vehicles() []*TrackedVehicle {
	return r.vehicles
}

// Get finds a vehicle by id
func (r *Roster) Get(id string) (*TrackedVehicle, bool) {
	v, ok := r.byID[id]
	return v, ok
}

// Cars returns the identities of every vehicle
func (r *Roster) Cars() []Car {
	cars := make([]Car, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		cars = append(cars, v.car)
	}
	return cars
}

// Markers returns every assigned marker id
func (r *Roster) Markers() []int {
	ids := make([]int, 0, len(r.vehicles)*2)
	for _, v := range r.vehicles {
		if v.car.Left >= 0 {
			ids = append(ids, v.car.Left)
		}
		if v.car.Right >= 0 {
			ids = append(ids, v.car.Right)
		}
	}
	return ids
}
