package parking

import "time"

// Space is the persisted state of one parking bay.
type Space struct {
	ID           string    `json:"id"`
	SensorID     string    `json:"sensorId"`
	Name         string    `json:"name"`
	Description  *string   `json:"description"`
	Address      string    `json:"address"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	IsOccupied   bool      `json:"isOccupied"`
	CurrentPrice float64   `json:"currentPrice"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Topic returns the realtime topic for the space.
func (s *Space) Topic() string {
	return s.ID
}

// SpaceInput is the body of a create request.
type SpaceInput struct {
	SensorID     string   `json:"sensorId"`
	Name         string   `json:"name"`
	Description  *string  `json:"description,omitempty"`
	Address      string   `json:"address"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	IsOccupied   bool     `json:"isOccupied"`
	CurrentPrice float64  `json:"currentPrice"`
}

// SpacePatch is the body of a partial update. Nil fields are left unchanged.
type SpacePatch struct {
	SensorID     *string  `json:"sensorId,omitempty"`
	Name         *string  `json:"name,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Address      *string  `json:"address,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	IsOccupied   *bool    `json:"isOccupied,omitempty"`
	CurrentPrice *float64 `json:"currentPrice,omitempty"`
}

// empty reports whether no field is set.
func (p SpacePatch) empty() bool {
	return p.SensorID == nil && p.Name == nil && p.Description == nil && p.Address == nil &&
		p.Latitude == nil && p.Longitude == nil && p.IsOccupied == nil && p.CurrentPrice == nil
}

// apply writes the set fields onto s.
func (p SpacePatch) apply(s *Space) {
	if p.SensorID != nil {
		s.SensorID = *p.SensorID
	}
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Description != nil {
		s.Description = p.Description
	}
	if p.Address != nil {
		s.Address = *p.Address
	}
	if p.Latitude != nil {
		s.Latitude = p.Latitude
	}
	if p.Longitude != nil {
		s.Longitude = p.Longitude
	}
	if p.IsOccupied != nil {
		s.IsOccupied = *p.IsOccupied
	}
	if p.CurrentPrice != nil {
		s.CurrentPrice = *p.CurrentPrice
	}
}

// Query filters a List call. Zero values mean "no filter".
type Query struct {
	IsOccupied *bool
	Address    string
	Name       string
	MinPrice   *float64
	MaxPrice   *float64

	// Latitude, Longitude and RadiusKm are given together or not at all.
	Latitude  *float64
	Longitude *float64
	RadiusKm  *float64

	Page     int
	PageSize int
}

// hasRadius reports whether the query carries a distance filter.
func (q Query) hasRadius() bool {
	return q.Latitude != nil && q.Longitude != nil && q.RadiusKm != nil
}

// Page is one page of List results.
type Page struct {
	Spaces   []Space `json:"parkingSpaces"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
}

// Subscription is a user's durable interest in a parking space.
type Subscription struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ParkingSpaceID string    `json:"parkingSpaceId"`
	CreatedAt      time.Time `json:"createdAt"`
	ParkingSpace   *Space    `json:"parkingSpace,omitempty"`
}
