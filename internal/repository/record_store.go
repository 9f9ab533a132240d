package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/noah-isme/fix-delete-modules/pkg/errors"
)

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to splice into SQL as a table or column.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

type conditionOp int

const (
	opEq conditionOp = iota
	opIn
	opGt
)

// Condition is one predicate of a keyed query. Conditions are ANDed in order.
type Condition struct {
	column string
	op     conditionOp
	values []interface{}
}

// Eq matches column = value; a nil value matches NULL.
func Eq(column string, value interface{}) Condition {
	return Condition{column: column, op: opEq, values: []interface{}{value}}
}

// Gt matches column > value.
func Gt(column string, value interface{}) Condition {
	return Condition{column: column, op: opGt, values: []interface{}{value}}
}

// In matches column IN (values). An empty list matches nothing.
func In(column string, values ...interface{}) Condition {
	return Condition{column: column, op: opIn, values: values}
}

// InInt64 is In for id lists.
func InInt64(column string, ids []int64) Condition {
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return In(column, values...)
}

// Assignment sets one column in an insert or update.
type Assignment struct {
	Column string
	Value  interface{}
}

// Set builds an Assignment.
func Set(column string, value interface{}) Assignment {
	return Assignment{Column: column, Value: value}
}

// QueryObserver receives query timings.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// RecordStore gives keyed access to prefixed tables. Every call is one statement; nothing is
// wrapped in a transaction. Absence is reported as an empty result, driver faults as ErrStorage.
type RecordStore struct {
	db       *sqlx.DB
	prefix   string
	observer QueryObserver
}

// NewRecordStore constructs the store for the given table prefix.
func NewRecordStore(db *sqlx.DB, prefix string, observer QueryObserver) *RecordStore {
	return &RecordStore{db: db, prefix: prefix, observer: observer}
}

// Table returns the prefixed table name.
func (s *RecordStore) Table(name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid table name %q", name))
	}
	return s.prefix + name, nil
}

// Get loads the first matching row into dest. found is false when no row matches.
func (s *RecordStore) Get(ctx context.Context, dest interface{}, table string, columns []string, conds ...Condition) (bool, error) {
	query, args, err := s.selectQuery(table, columns, conds)
	if err != nil {
		return false, err
	}
	query += " ORDER BY id LIMIT 1"
	defer s.observe("get", table, time.Now())
	if err := s.db.GetContext(ctx, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, storageError("get", table, err)
	}
	return true, nil
}

// Select loads all matching rows ordered by id.
func (s *RecordStore) Select(ctx context.Context, dest interface{}, table string, columns []string, conds ...Condition) error {
	query, args, err := s.selectQuery(table, columns, conds)
	if err != nil {
		return err
	}
	query += " ORDER BY id"
	defer s.observe("select", table, time.Now())
	if err := s.db.SelectContext(ctx, dest, query, args...); err != nil {
		return storageError("select", table, err)
	}
	return nil
}

// Exists reports whether any row matches.
func (s *RecordStore) Exists(ctx context.Context, table string, conds ...Condition) (bool, error) {
	name, err := s.Table(table)
	if err != nil {
		return false, err
	}
	where, args, err := buildWhere(conds)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf("SELECT 1 FROM %s%s LIMIT 1", name, where)
	defer s.observe("exists", table, time.Now())
	var one int
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, storageError("exists", table, err)
	}
	return true, nil
}

// Count returns the number of matching rows.
func (s *RecordStore) Count(ctx context.Context, table string, conds ...Condition) (int64, error) {
	name, err := s.Table(table)
	if err != nil {
		return 0, err
	}
	where, args, err := buildWhere(conds)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(1) FROM %s%s", name, where)
	defer s.observe("count", table, time.Now())
	var count int64
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, storageError("count", table, err)
	}
	return count, nil
}

// Delete removes matching rows and returns how many went. At least one condition is required.
func (s *RecordStore) Delete(ctx context.Context, table string, conds ...Condition) (int64, error) {
	if len(conds) == 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "refusing to delete without conditions")
	}
	name, err := s.Table(table)
	if err != nil {
		return 0, err
	}
	where, args, err := buildWhere(conds)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s%s", name, where)
	defer s.observe("delete", table, time.Now())
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storageError("delete", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("delete", table, err)
	}
	return affected, nil
}

// Update sets columns on the row with the given id. It reports whether a row changed.
func (s *RecordStore) Update(ctx context.Context, table string, id int64, sets ...Assignment) (bool, error) {
	if len(sets) == 0 {
		return false, nil
	}
	name, err := s.Table(table)
	if err != nil {
		return false, err
	}
	clauses := make([]string, 0, len(sets))
	args := make([]interface{}, 0, len(sets)+1)
	for _, set := range sets {
		if !ValidIdentifier(set.Column) {
			return false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid column %q", set.Column))
		}
		args = append(args, set.Value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", set.Column, len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", name, strings.Join(clauses, ", "), len(args))
	return s.execAffected(ctx, "update", table, query, args)
}

// Increment adds one to an integer column on the row with the given id.
func (s *RecordStore) Increment(ctx context.Context, table string, id int64, column string) (bool, error) {
	name, err := s.Table(table)
	if err != nil {
		return false, err
	}
	if !ValidIdentifier(column) {
		return false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid column %q", column))
	}
	query := fmt.Sprintf("UPDATE %s SET %s = %s + 1 WHERE id = $1", name, column, column)
	return s.execAffected(ctx, "increment", table, query, []interface{}{id})
}

// Insert adds a row and returns its generated id.
func (s *RecordStore) Insert(ctx context.Context, table string, values ...Assignment) (int64, error) {
	name, err := s.Table(table)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "insert requires at least one column")
	}
	columns := make([]string, 0, len(values))
	placeholders := make([]string, 0, len(values))
	args := make([]interface{}, 0, len(values))
	for _, value := range values {
		if !ValidIdentifier(value.Column) {
			return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid column %q", value.Column))
		}
		args = append(args, value.Value)
		columns = append(columns, value.Column)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id", name, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	defer s.observe("insert", table, time.Now())
	var id int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, storageError("insert", table, err)
	}
	return id, nil
}

func (s *RecordStore) execAffected(ctx context.Context, op, table, query string, args []interface{}) (bool, error) {
	defer s.observe(op, table, time.Now())
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, storageError(op, table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storageError(op, table, err)
	}
	return affected > 0, nil
}

func (s *RecordStore) selectQuery(table string, columns []string, conds []Condition) (string, []interface{}, error) {
	name, err := s.Table(table)
	if err != nil {
		return "", nil, err
	}
	if len(columns) == 0 {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, "select requires columns")
	}
	for _, column := range columns {
		if !ValidIdentifier(column) {
			return "", nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid column %q", column))
		}
	}
	where, args, err := buildWhere(conds)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(columns, ", "), name, where), args, nil
}

func (s *RecordStore) observe(op, table string, start time.Time) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveDBQuery(op+":"+table, time.Since(start))
}

func buildWhere(conds []Condition) (string, []interface{}, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(conds))
	args := make([]interface{}, 0, len(conds))
	for _, cond := range conds {
		if !ValidIdentifier(cond.column) {
			return "", nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid column %q", cond.column))
		}
		switch cond.op {
		case opEq:
			if cond.values[0] == nil {
				clauses = append(clauses, cond.column+" IS NULL")
				continue
			}
			args = append(args, cond.values[0])
			clauses = append(clauses, fmt.Sprintf("%s = $%d", cond.column, len(args)))
		case opGt:
			args = append(args, cond.values[0])
			clauses = append(clauses, fmt.Sprintf("%s > $%d", cond.column, len(args)))
		case opIn:
			if len(cond.values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			placeholders := make([]string, len(cond.values))
			for i, value := range cond.values {
				args = append(args, value)
				placeholders[i] = fmt.Sprintf("$%d", len(args))
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", cond.column, strings.Join(placeholders, ", ")))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func storageError(op, table string, err error) error {
	return appErrors.Storage(err, fmt.Sprintf("%s %s failed", op, table))
}
