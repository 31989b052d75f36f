package parking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/infrastructure/database"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Repository defines the interface for parking space persistence.
type Repository interface {
	// FindBySensorID retrieves a space by its hardware sensor ID.
	// Returns ErrSpaceNotFound if no space carries that sensor.
	FindBySensorID(ctx context.Context, sensorID string) (*Space, error)

	// UpdateStatus sets occupancy (and price, when non-nil) for the space
	// owning sensorID and returns the updated row. The write and the
	// read-back happen in one transaction.
	UpdateStatus(ctx context.Context, sensorID string, isOccupied bool, price *float64) (*Space, error)

	GetByID(ctx context.Context, id string) (*Space, error)
	List(ctx context.Context, q Query) (*Page, error)
	Create(ctx context.Context, in SpaceInput) (*Space, error)
	Update(ctx context.Context, id string, patch SpacePatch) (*Space, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewRepository creates a new SQLite-backed parking space repository.
func NewRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const spaceColumns = `id, sensor_id, name, description, address, latitude, longitude,
	is_occupied, current_price, created_at, updated_at`

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// FindBySensorID retrieves a space by sensor ID.
func (r *SQLiteRepository) FindBySensorID(ctx context.Context, sensorID string) (*Space, error) {
	return getSpace(ctx, r.db, "sensor_id", sensorID)
}

// GetByID retrieves a space by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Space, error) {
	return getSpace(ctx, r.db, "id", id)
}

// UpdateStatus records a sensor report.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, sensorID string, isOccupied bool, price *float64) (*Space, error) {
	var space *Space
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.now().UTC().Format(timeFormat)

		var res sql.Result
		var err error
		if price != nil {
			res, err = tx.ExecContext(ctx,
				`UPDATE parking_spaces SET is_occupied = ?, current_price = ?, updated_at = ? WHERE sensor_id = ?`,
				boolToInt(isOccupied), *price, now, sensorID)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE parking_spaces SET is_occupied = ?, updated_at = ? WHERE sensor_id = ?`,
				boolToInt(isOccupied), now, sensorID)
		}
		if err != nil {
			return fmt.Errorf("updating parking space status: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		} else if n == 0 {
			return ErrSpaceNotFound
		}

		space, err = getSpace(ctx, tx, "sensor_id", sensorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return space, nil
}

// List returns one page of spaces ordered by most recently updated.
// The distance filter is applied after the SQL filters, so Total counts
// only spaces inside the radius.
func (r *SQLiteRepository) List(ctx context.Context, q Query) (*Page, error) {
	if err := NormaliseQuery(&q); err != nil {
		return nil, err
	}

	where, args := q.sqlFilter()
	base := "FROM parking_spaces" + where
	order := " ORDER BY updated_at DESC, id"
	offset := (q.Page - 1) * q.PageSize

	page := &Page{Spaces: []Space{}, Page: q.Page, PageSize: q.PageSize}

	if !q.hasRadius() {
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) "+base, args...).Scan(&page.Total); err != nil {
			return nil, fmt.Errorf("counting parking spaces: %w", err)
		}
		spaces, err := r.querySpaces(ctx, "SELECT "+spaceColumns+" "+base+order+" LIMIT ? OFFSET ?",
			append(args, q.PageSize, offset)...)
		if err != nil {
			return nil, err
		}
		page.Spaces = append(page.Spaces, spaces...)
		return page, nil
	}

	all, err := r.querySpaces(ctx, "SELECT "+spaceColumns+" "+base+order, args...)
	if err != nil {
		return nil, err
	}
	var inside []Space
	for i := range all {
		if q.within(&all[i]) {
			inside = append(inside, all[i])
		}
	}
	page.Total = len(inside)
	if offset < len(inside) {
		end := min(offset+q.PageSize, len(inside))
		page.Spaces = append(page.Spaces, inside[offset:end]...)
	}
	return page, nil
}

// sqlFilter builds the WHERE clause for the non-geographic filters.
func (q Query) sqlFilter() (string, []any) {
	var conds []string
	var args []any

	if q.IsOccupied != nil {
		conds = append(conds, "is_occupied = ?")
		args = append(args, boolToInt(*q.IsOccupied))
	}
	if q.Address != "" {
		conds = append(conds, "address LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(q.Address)+"%")
	}
	if q.Name != "" {
		conds = append(conds, "name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(q.Name)+"%")
	}
	if q.MinPrice != nil {
		conds = append(conds, "current_price >= ?")
		args = append(args, *q.MinPrice)
	}
	if q.MaxPrice != nil {
		conds = append(conds, "current_price <= ?")
		args = append(args, *q.MaxPrice)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Create validates and inserts a new space with a generated ID.
// A taken sensor ID returns ErrSensorExists.
func (r *SQLiteRepository) Create(ctx context.Context, in SpaceInput) (*Space, error) {
	if err := ValidateInput(&in); err != nil {
		return nil, err
	}

	now := r.now().UTC().Truncate(time.Millisecond)
	space := &Space{
		ID:           "ps-" + uuid.NewString(),
		SensorID:     in.SensorID,
		Name:         in.Name,
		Description:  in.Description,
		Address:      in.Address,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		IsOccupied:   in.IsOccupied,
		CurrentPrice: in.CurrentPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ts := now.Format(timeFormat)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO parking_spaces (`+spaceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		space.ID, space.SensorID, space.Name, nullableString(space.Description), space.Address,
		nullableFloat(space.Latitude), nullableFloat(space.Longitude),
		boolToInt(space.IsOccupied), space.CurrentPrice, ts, ts,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrSensorExists
		}
		return nil, fmt.Errorf("inserting parking space: %w", err)
	}
	return space, nil
}

// Update applies a partial update and returns the resulting space.
func (r *SQLiteRepository) Update(ctx context.Context, id string, patch SpacePatch) (*Space, error) {
	if err := ValidatePatch(&patch); err != nil {
		return nil, err
	}

	var space *Space
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := getSpace(ctx, tx, "id", id)
		if err != nil {
			return err
		}
		patch.apply(current)
		current.UpdatedAt = r.now().UTC().Truncate(time.Millisecond)

		_, err = tx.ExecContext(ctx, `
			UPDATE parking_spaces SET
				sensor_id = ?, name = ?, description = ?, address = ?, latitude = ?,
				longitude = ?, is_occupied = ?, current_price = ?, updated_at = ?
			WHERE id = ?`,
			current.SensorID, current.Name, nullableString(current.Description), current.Address,
			nullableFloat(current.Latitude), nullableFloat(current.Longitude),
			boolToInt(current.IsOccupied), current.CurrentPrice, current.UpdatedAt.Format(timeFormat),
			id,
		)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return ErrSensorExists
			}
			return fmt.Errorf("updating parking space: %w", err)
		}
		space = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return space, nil
}

// Delete removes a space and, through the foreign key cascade, every
// subscription to it.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM parking_spaces WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting parking space: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSpaceNotFound
	}
	return nil
}

// Count returns the total number of spaces.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM parking_spaces").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting parking spaces: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) querySpaces(ctx context.Context, query string, args ...any) ([]Space, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying parking spaces: %w", err)
	}
	defer rows.Close()

	var spaces []Space
	for rows.Next() {
		s, err := scanSpace(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning parking space: %w", err)
		}
		spaces = append(spaces, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating parking spaces: %w", err)
	}
	return spaces, nil
}

// queryRower is satisfied by *sql.DB, *sql.Tx and *database.DB.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getSpace loads one space by a unique column (id or sensor_id).
func getSpace(ctx context.Context, q queryRower, column, value string) (*Space, error) {
	row := q.QueryRowContext(ctx, "SELECT "+spaceColumns+" FROM parking_spaces WHERE "+column+" = ?", value)
	s, err := scanSpace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSpaceNotFound
		}
		return nil, fmt.Errorf("querying parking space by %s: %w", column, err)
	}
	return s, nil
}

func scanSpace(scanner rowScanner) (*Space, error) {
	var s Space
	var description sql.NullString
	var address sql.NullString
	var lat, lon sql.NullFloat64
	var occupied int
	var createdAt, updatedAt string

	err := scanner.Scan(&s.ID, &s.SensorID, &s.Name, &description, &address, &lat, &lon,
		&occupied, &s.CurrentPrice, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.IsOccupied = occupied != 0
	s.Address = address.String
	if description.Valid {
		s.Description = &description.String
	}
	if lat.Valid {
		s.Latitude = &lat.Float64
	}
	if lon.Valid {
		s.Longitude = &lon.Float64
	}

	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &s, nil
}

// escapeLike escapes LIKE wildcards in user input.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableFloat returns a sql.NullFloat64 for optional coordinates.
func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
