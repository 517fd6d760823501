package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository is the storage the Manager reads rules from.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// LoadAutomationsFor returns every automation with an action on outputID.
	// Rule.Value is the action's value; Conditions are not populated.
	LoadAutomationsFor(ctx context.Context, outputID int64) ([]Rule, error)

	// LoadConditionsFor returns every condition of an automation.
	LoadConditionsFor(ctx context.Context, automationID int64) ([]Condition, error)

	// RecordRun stores the time an automation last fired.
	RecordRun(ctx context.Context, automationID int64, at time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LoadAutomationsFor retrieves the automations acting on an output, ordered by ID.
func (r *SQLiteRepository) LoadAutomationsFor(ctx context.Context, outputID int64) ([]Rule, error) {
	query := `
		SELECT a.id, a.name, a.operator, a.enabled, a.last_run_time, oa.value
		FROM automations a
		JOIN output_actions oa ON oa.automation_id = a.id
		WHERE oa.output_id = ?
		ORDER BY a.id`

	rows, err := r.db.QueryContext(ctx, query, outputID)
	if err != nil {
		return nil, fmt.Errorf("querying automations: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		var operator string
		var enabled int
		var lastRun sql.NullString

		if err := rows.Scan(&rule.ID, &rule.Name, &operator, &enabled, &lastRun, &rule.Value); err != nil {
			return nil, fmt.Errorf("scanning automation: %w", err)
		}
		rule.Operator = Operator(operator)
		rule.Enabled = enabled != 0
		if lastRun.Valid {
			t, err := time.Parse(time.RFC3339, lastRun.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_run_time of automation %d: %w", rule.ID, err)
			}
			rule.LastRunAt = &t
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating automations: %w", err)
	}
	return rules, nil
}

// LoadConditionsFor retrieves every condition of an automation, grouped by
// kind in a fixed order and by ID within each kind.
func (r *SQLiteRepository) LoadConditionsFor(ctx context.Context, automationID int64) ([]Condition, error) {
	loaders := []func(context.Context, int64) ([]Condition, error){
		r.sensorConditions,
		r.outputConditions,
		r.timeConditions,
		r.weekdayConditions,
		r.monthConditions,
		r.dateRangeConditions,
	}

	var conds []Condition
	for _, load := range loaders {
		c, err := load(ctx, automationID)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c...)
	}
	return conds, nil
}

// RecordRun updates an automation's last_run_time.
func (r *SQLiteRepository) RecordRun(ctx context.Context, automationID int64, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE automations SET last_run_time = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), automationID,
	)
	if err != nil {
		return fmt.Errorf("recording automation run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Create inserts a rule, its action on outputID and its conditions in one
// transaction. Rule and condition IDs are filled in on success.
func (r *SQLiteRepository) Create(ctx context.Context, outputID int64, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	res, err := tx.ExecContext(ctx,
		"INSERT INTO automations (name, operator, enabled, last_run_time) VALUES (?, ?, ?, ?)",
		rule.Name, string(rule.Operator), boolToInt(rule.Enabled), nullableTime(rule.LastRunAt),
	)
	if err != nil {
		return fmt.Errorf("inserting automation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading automation id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO output_actions (automation_id, output_id, value) VALUES (?, ?, ?)",
		id, outputID, rule.Value,
	); err != nil {
		return fmt.Errorf("inserting output action: %w", err)
	}

	condIDs := make([]int64, len(rule.Conditions))
	for i, c := range rule.Conditions {
		cid, err := insertCondition(ctx, tx, id, c)
		if err != nil {
			return err
		}
		condIDs[i] = cid
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing automation: %w", err)
	}

	rule.ID = id
	for i := range rule.Conditions {
		rule.Conditions[i].ID = condIDs[i]
	}
	return nil
}

func insertCondition(ctx context.Context, tx *sql.Tx, automationID int64, c Condition) (int64, error) {
	var (
		query string
		args  []any
	)
	switch c.Kind {
	case KindSensor:
		query = `INSERT INTO sensor_conditions
			(automation_id, group_type, sensor_id, reading_type, operator, comparison_value, comparison_lookback)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		args = []any{automationID, string(c.Group), c.SensorID, c.ReadingType, string(c.Comparator), c.Threshold, nullableLookback(c.Lookback)}
	case KindOutput:
		query = `INSERT INTO output_conditions
			(automation_id, group_type, output_id, operator, comparison_value, comparison_lookback)
			VALUES (?, ?, ?, ?, ?, ?)`
		args = []any{automationID, string(c.Group), c.OutputID, string(c.Comparator), c.Threshold, nullableLookback(c.Lookback)}
	case KindTime:
		query = `INSERT INTO time_conditions (automation_id, group_type, start_time, end_time) VALUES (?, ?, ?, ?)`
		args = []any{automationID, string(c.Group), nullableString(c.StartTime), nullableString(c.EndTime)}
	case KindWeekday:
		query = `INSERT INTO weekday_conditions (automation_id, group_type, weekdays) VALUES (?, ?, ?)`
		args = []any{automationID, string(c.Group), int64(c.Weekdays)}
	case KindMonth:
		query = `INSERT INTO month_conditions (automation_id, group_type, months) VALUES (?, ?, ?)`
		args = []any{automationID, string(c.Group), int64(c.Months)}
	case KindDateRange:
		query = `INSERT INTO date_range_conditions
			(automation_id, group_type, start_month, start_day, end_month, end_day)
			VALUES (?, ?, ?, ?, ?, ?)`
		args = []any{automationID, string(c.Group), int(c.StartMonth), c.StartDay, int(c.EndMonth), c.EndDay}
	default:
		return 0, fmt.Errorf("%w: kind %q", ErrInvalidCondition, c.Kind)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting %s condition: %w", c.Kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading %s condition id: %w", c.Kind, err)
	}
	return id, nil
}

// ─── Condition Loaders ──────────────────────────────────────────────────────

func (r *SQLiteRepository) sensorConditions(ctx context.Context, automationID int64) ([]Condition, error) {
	query := `
		SELECT id, group_type, sensor_id, reading_type, operator, comparison_value, comparison_lookback
		FROM sensor_conditions WHERE automation_id = ? ORDER BY id`

	return r.queryConditions(ctx, KindSensor, query, automationID, func(s rowScanner) (Condition, error) {
		c := Condition{Kind: KindSensor}
		var group, comparator string
		var lookback sql.NullInt64
		err := s.Scan(&c.ID, &group, &c.SensorID, &c.ReadingType, &comparator, &c.Threshold, &lookback)
		c.Group = GroupType(group)
		c.Comparator = Comparator(comparator)
		c.Lookback = int(lookback.Int64)
		return c, err
	})
}

func (r *SQLiteRepository) outputConditions(ctx context.Context, automationID int64) ([]Condition, error) {
	query := `
		SELECT id, group_type, output_id, operator, comparison_value, comparison_lookback
		FROM output_conditions WHERE automation_id = ? ORDER BY id`

	return r.queryConditions(ctx, KindOutput, query, automationID, func(s rowScanner) (Condition, error) {
		c := Condition{Kind: KindOutput}
		var group, comparator string
		var lookback sql.NullInt64
		err := s.Scan(&c.ID, &group, &c.OutputID, &comparator, &c.Threshold, &lookback)
		c.Group = GroupType(group)
		c.Comparator = Comparator(comparator)
		c.Lookback = int(lookback.Int64)
		return c, err
	})
}

func (r *SQLiteRepository) timeConditions(ctx context.Context, automationID int64) ([]Condition, error) {
	query := `
		SELECT id, group_type, start_time, end_time
		FROM time_conditions WHERE automation_id = ? ORDER BY id`

	return r.queryConditions(ctx, KindTime, query, automationID, func(s rowScanner) (Condition, error) {
		c := Condition{Kind: KindTime}
		var group string
		var start, end sql.NullString
		err := s.Scan(&c.ID, &group, &start, &end)
		c.Group = GroupType(group)
		if start.Valid {
			c.StartTime = &start.String
		}
		if end.Valid {
			c.EndTime = &end.String
		}
		return c, err
	})
}

func (r *SQLiteRepository) weekdayConditions(ctx context.Context, automationID int64) ([]Condition, error) {
	query := `SELECT id, group_type, weekdays FROM weekday_conditions WHERE automation_id = ? ORDER BY id`

	return r.queryConditions(ctx, KindWeekday, query, automationID, func(s rowScanner) (Condition, error) {
		c := Condition{Kind: KindWeekday}
		var group string
		var weekdays int64
		err := s.Scan(&c.ID, &group, &weekdays)
		c.Group = GroupType(group)
		c.Weekdays = uint8(weekdays) //nolint:gosec // Validated to 7 bits
		return c, err
	})
}

func (r *SQLiteRepository) monthConditions(ctx context.Context, automationID int64) ([]Condition, error) {
	query := `SELECT id, group_type, months FROM month_conditions WHERE automation_id = ? ORDER BY id`

	return r.queryConditions(ctx, KindMonth, query, automationID, func(s rowScanner) (Condition, error) {
		c := Condition{Kind: KindMonth}
		var group string
		var months int64
		err := s.Scan(&c.ID, &group, &months)
		c.Group = GroupType(group)
		c.Months = uint16(months) //nolint:gosec // Validated to 12 bits
		return c, err
	})
}

func (r *SQLiteRepository) dateRangeConditions(ctx context.Context, automationID int64) ([]Condition, error) {
	query := `
		SELECT id, group_type, start_month, start_day, end_month, end_day
		FROM date_range_conditions WHERE automation_id = ? ORDER BY id`

	return r.queryConditions(ctx, KindDateRange, query, automationID, func(s rowScanner) (Condition, error) {
		c := Condition{Kind: KindDateRange}
		var group string
		var startMonth, endMonth int
		err := s.Scan(&c.ID, &group, &startMonth, &c.StartDay, &endMonth, &c.EndDay)
		c.Group = GroupType(group)
		c.StartMonth = time.Month(startMonth)
		c.EndMonth = time.Month(endMonth)
		return c, err
	})
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) queryConditions(ctx context.Context, kind Kind, query string, automationID int64, scan func(rowScanner) (Condition, error)) ([]Condition, error) {
	rows, err := r.db.QueryContext(ctx, query, automationID)
	if err != nil {
		return nil, fmt.Errorf("querying %s conditions: %w", kind, err)
	}
	defer rows.Close()

	var conds []Condition
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s condition: %w", kind, err)
		}
		conds = append(conds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s conditions: %w", kind, err)
	}
	return conds, nil
}

// GetLastRun returns an automation's last run time, nil if it never ran.
func (r *SQLiteRepository) GetLastRun(ctx context.Context, automationID int64) (*time.Time, error) {
	var lastRun sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT last_run_time FROM automations WHERE id = ?", automationID,
	).Scan(&lastRun)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying last run: %w", err)
	}
	if !lastRun.Valid {
		return nil, nil //nolint:nilnil // Never ran
	}
	t, err := time.Parse(time.RFC3339, lastRun.String)
	if err != nil {
		return nil, fmt.Errorf("parsing last run: %w", err)
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullableLookback(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}
