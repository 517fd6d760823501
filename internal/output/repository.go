package output

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteRepository implements Repository using SQLite.
//
// States are kept in output_states with RFC3339 UTC log times so that
// lexical order matches time order.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed output repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LoadOutputs retrieves every output ordered by ID.
func (r *SQLiteRepository) LoadOutputs(ctx context.Context) ([]Config, error) {
	query := `
		SELECT id, model, subcontroller_id, parent_output_id, address, pin,
		       name, color, is_pwm, is_inverted_pwm, automation_timeout
		FROM outputs
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying outputs: %w", err)
	}
	defer rows.Close()

	var cfgs []Config
	for rows.Next() {
		var cfg Config
		var model string
		var subID, parentID sql.NullInt64
		var isPwm, isInverted int

		if err := rows.Scan(&cfg.ID, &model, &subID, &parentID, &cfg.Address, &cfg.Pin,
			&cfg.Name, &cfg.Color, &isPwm, &isInverted, &cfg.AutomationTimeout); err != nil {
			return nil, fmt.Errorf("scanning output: %w", err)
		}
		cfg.Model = Model(model)
		cfg.IsPwm = isPwm != 0
		cfg.IsInvertedPwm = isInverted != 0
		if subID.Valid {
			cfg.SubcontrollerID = &subID.Int64
		}
		if parentID.Valid {
			cfg.ParentGroupID = &parentID.Int64
		}
		cfgs = append(cfgs, cfg.Normalize())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outputs: %w", err)
	}
	return cfgs, nil
}

// LoadSubcontrollers retrieves every subcontroller ordered by ID.
func (r *SQLiteRepository) LoadSubcontrollers(ctx context.Context) ([]Subcontroller, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, host_name FROM subcontrollers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying subcontrollers: %w", err)
	}
	defer rows.Close()

	var subs []Subcontroller
	for rows.Next() {
		var s Subcontroller
		if err := rows.Scan(&s.ID, &s.Name, &s.HostName); err != nil {
			return nil, fmt.Errorf("scanning subcontroller: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subcontrollers: %w", err)
	}
	return subs, nil
}

// AppendState inserts one state of an output.
func (r *SQLiteRepository) AppendState(ctx context.Context, outputID int64, st State) error {
	if !st.ControlMode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidControlMode, st.ControlMode)
	}
	if st.LogTime.IsZero() {
		st.LogTime = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO output_states (id, output_id, value, control_mode, log_time) VALUES (?, ?, ?, ?, ?)",
		uuid.NewString(),
		outputID,
		clampValue(st.Value),
		string(st.ControlMode),
		st.LogTime.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting output state: %w", err)
	}
	return nil
}

// LoadHistoricalStates returns the newest limit states logged at or after
// since, oldest first. A limit below 1 returns every matching state.
func (r *SQLiteRepository) LoadHistoricalStates(ctx context.Context, outputID int64, since time.Time, limit int) ([]State, error) {
	if limit < 1 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT value, control_mode, log_time FROM (
			SELECT value, control_mode, log_time
			FROM output_states
			WHERE output_id = ? AND log_time >= ?
			ORDER BY log_time DESC
			LIMIT ?
		) ORDER BY log_time ASC`,
		outputID,
		since.UTC().Format(time.RFC3339),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying output states: %w", err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating output states: %w", err)
	}
	return states, nil
}

// LastState returns the newest state of an output.
func (r *SQLiteRepository) LastState(ctx context.Context, outputID int64) (State, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT value, control_mode, log_time
		 FROM output_states
		 WHERE output_id = ?
		 ORDER BY log_time DESC
		 LIMIT 1`,
		outputID,
	)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

// PruneStates deletes states older than the given duration and returns the
// number of rows removed.
func (r *SQLiteRepository) PruneStates(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)

	res, err := r.db.ExecContext(ctx, "DELETE FROM output_states WHERE log_time < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning output states: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned output states: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(s rowScanner) (State, error) {
	var st State
	var mode, logTime string
	if err := s.Scan(&st.Value, &mode, &logTime); err != nil {
		return State{}, fmt.Errorf("scanning output state: %w", err)
	}
	t, err := time.Parse(time.RFC3339, logTime)
	if err != nil {
		return State{}, fmt.Errorf("parsing log_time %q: %w", logTime, err)
	}
	st.ControlMode = ControlMode(mode)
	st.LogTime = t
	return st, nil
}
