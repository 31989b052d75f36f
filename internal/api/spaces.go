package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/parking"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

// handleListSpaces returns one page of spaces matching the query filters.
func (s *Server) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	q, err := parseSpaceQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.spaces.List(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, page)
}

// handleCreateSpace registers a new parking space.
func (s *Server) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	var in parking.SpaceInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	space, err := s.spaces.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOKMessage(w, http.StatusCreated, space, "Parking space created successfully")
}

// handleGetSpace returns a single space.
func (s *Server) handleGetSpace(w http.ResponseWriter, r *http.Request) {
	space, err := s.spaces.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, space)
}

// handleUpdateSpace applies a partial update.
func (s *Server) handleUpdateSpace(w http.ResponseWriter, r *http.Request) {
	var patch parking.SpacePatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}

	space, err := s.spaces.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOKMessage(w, http.StatusOK, space, "Parking space updated successfully")
}

// handleDeleteSpace removes a space and its subscriptions.
func (s *Server) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	if err := s.spaces.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOKMessage[any](w, http.StatusOK, nil, "Parking space deleted successfully")
}

// parseSpaceQuery reads list filters from the query string. Paging and
// range checks are left to parking.NormaliseQuery.
func parseSpaceQuery(v url.Values) (parking.Query, error) {
	var q parking.Query
	var err error

	if raw := v.Get("isOccupied"); raw != "" {
		b, perr := strconv.ParseBool(raw)
		if perr != nil {
			return q, result.New(result.CodeValidation, "isOccupied must be true or false")
		}
		q.IsOccupied = &b
	}
	q.Address = v.Get("address")
	q.Name = v.Get("name")

	floats := []struct {
		key string
		dst **float64
	}{
		{"minPrice", &q.MinPrice},
		{"maxPrice", &q.MaxPrice},
		{"latitude", &q.Latitude},
		{"longitude", &q.Longitude},
		{"radius", &q.RadiusKm},
	}
	for _, f := range floats {
		if *f.dst, err = optionalFloat(v, f.key); err != nil {
			return q, err
		}
	}

	if q.Page, err = optionalInt(v, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = optionalInt(v, "pageSize"); err != nil {
		return q, err
	}
	return q, nil
}

func optionalFloat(v url.Values, key string) (*float64, error) {
	raw := v.Get(key)
	if raw == "" {
		return nil, nil //nolint:nilnil // absent filter
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, result.Newf(result.CodeValidation, "%s must be a number", key)
	}
	return &f, nil
}

func optionalInt(v url.Values, key string) (int, error) {
	raw := v.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, result.Newf(result.CodeValidation, "%s must be an integer", key)
	}
	return n, nil
}
