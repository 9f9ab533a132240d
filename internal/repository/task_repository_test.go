package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fix-delete-modules/internal/models"
)

var fixedNow = time.Unix(1_700_000_000, 0)

const taskSelect = "SELECT id, component, classname, nextruntime, faildelay, customdata, userid, blocking FROM mdl_task_adhoc"

func taskRows() *sqlmock.Rows {
	return sqlmock.NewRows(models.AdhocTaskColumns)
}

func TestTaskRepositoryListByClass(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()
	repo := NewTaskRepository(store, func() time.Time { return fixedNow })

	mock.ExpectQuery(regexp.QuoteMeta(taskSelect+" WHERE classname = $1 AND faildelay > $2 ORDER BY id")).
		WithArgs(`\core_course\task\course_delete_modules`, int64(60)).
		WillReturnRows(taskRows().
			AddRow(42, "moodle", `\core_course\task\course_delete_modules`, 0, 120, `{"cms":[{"id":7}]}`, 2, 0))

	tasks, err := repo.ListByClass(context.Background(), `\core_course\task\course_delete_modules`, time.Minute)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(42), tasks[0].ID)
	assert.Equal(t, `{"cms":[{"id":7}]}`, tasks[0].CustomData.String)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryEnqueue(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()
	repo := NewTaskRepository(store, func() time.Time { return fixedNow })

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO mdl_task_adhoc (component, classname, nextruntime, faildelay, customdata, userid, blocking, timecreated) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id")).
		WithArgs("moodle", "cls", fixedNow.Unix(), int64(0), `{"cms":[]}`, int64(2), int64(0), fixedNow.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))

	id, err := repo.Enqueue(context.Background(), "moodle", "cls", `{"cms":[]}`, models.Int64Ptr(2))
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryRescheduleOrEnqueueFallsBackToEnqueue(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()
	repo := NewTaskRepository(store, func() time.Time { return fixedNow })

	mock.ExpectExec(regexp.QuoteMeta("UPDATE mdl_task_adhoc SET faildelay = $1, nextruntime = $2 WHERE id = $3")).
		WithArgs(int64(0), fixedNow.Unix(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO mdl_task_adhoc")).
		WithArgs("moodle", "cls", fixedNow.Unix(), int64(0), "{}", nil, int64(0), fixedNow.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(43))

	id, err := repo.RescheduleOrEnqueue(context.Background(), models.AdhocTask{
		ID:         42,
		Component:  "moodle",
		ClassName:  "cls",
		CustomData: sql.NullString{String: "{}", Valid: true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(43), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryMarkFailedBacksOff(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()
	repo := NewTaskRepository(store, func() time.Time { return fixedNow })

	mock.ExpectExec(regexp.QuoteMeta("UPDATE mdl_task_adhoc SET faildelay = $1, nextruntime = $2 WHERE id = $3")).
		WithArgs(int64(240), fixedNow.Add(240*time.Second).Unix(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	delay, err := repo.MarkFailed(context.Background(), models.AdhocTask{ID: 42, FailDelay: 120})
	require.NoError(t, err)
	assert.Equal(t, 240*time.Second, delay)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryMarkCompleteAndExists(t *testing.T) {
	store, mock, cleanup := newStoreMock(t)
	defer cleanup()
	repo := NewTaskRepository(store, nil)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM mdl_task_adhoc WHERE id = $1")).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM mdl_task_adhoc WHERE id = $1 LIMIT 1")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"one"}))

	require.NoError(t, repo.MarkComplete(context.Background(), 42))
	exists, err := repo.Exists(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextFailDelayBounds(t *testing.T) {
	assert.Equal(t, time.Minute, NextFailDelay(0))
	assert.Equal(t, 2*time.Hour, NextFailDelay(time.Hour))
	assert.Equal(t, 24*time.Hour, NextFailDelay(20*time.Hour))
}
