package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/fix-delete-modules/internal/models"
	appErrors "github.com/noah-isme/fix-delete-modules/pkg/errors"
	"github.com/noah-isme/fix-delete-modules/pkg/jobs"
)

type runStoreStub struct {
	items map[string][]byte
}

func newRunStoreStub() *runStoreStub {
	return &runStoreStub{items: map[string][]byte{}}
}

func (s *runStoreStub) Enabled() bool { return true }

func (s *runStoreStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := s.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (s *runStoreStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.items[key] = raw
	return nil
}

type dispatcherStub struct {
	jobs []jobs.Job
	err  error
}

func (d *dispatcherStub) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func newReportServiceForTest(db *moodleFake, runs runStore, queue jobDispatcher) (*ReportService, *MetricsService) {
	fx := newRepairFixture(db)
	metrics := NewMetricsService()
	diagnostic := NewDiagnosticService(db, metrics, zap.NewNop())
	svc := NewReportService(fx.directory, diagnostic, fx.surgeon, runs, queue, metrics, zap.NewNop(), ReportServiceConfig{})
	return svc, metrics
}

// seedReportTasks queues a healthy job (40), a stuck single-module job (41) and a multi-module job (42).
func seedReportTasks(db *moodleFake) {
	db.addModule(6, 2, 1, 9, 11, 30)
	db.addModule(7, 2, 16, 3, 11, 31)
	db.addModule(8, 5, 1, 4, 12, 32)
	db.addModule(9, 5, 1, 5, 12, 33)
	delete(db.instances["quiz"], 3)
	db.addTask(40, `{"cms":[{"id":6}]}`)
	db.addTask(41, `{"cms":[{"id":7}]}`)
	db.addTask(42, `{"cms":[{"id":8},{"id":9}]}`)
}

func TestReportServiceCheckDoesNotMutate(t *testing.T) {
	db := newMoodleFake()
	seedReportTasks(db)
	svc, _ := newReportServiceForTest(db, nil, nil)

	report, err := svc.Check(context.Background(), models.JobFilter{MinFailDelay: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, ReportModeCheck, report.Mode)
	require.Len(t, report.Jobs, 3)
	assert.True(t, report.Jobs[0].Diagnosis.Healthy())
	assert.True(t, report.Jobs[1].Diagnosis.HasModuleMissingData)
	assert.True(t, report.Jobs[2].Diagnosis.IsMultiModuleJob)
	for _, entry := range report.Jobs {
		assert.Nil(t, entry.Outcome)
	}
	assert.Len(t, db.tasks, 3)
	assert.Len(t, db.courseModules, 4)
}

func TestReportServiceFilters(t *testing.T) {
	db := newMoodleFake()
	seedReportTasks(db)
	svc, _ := newReportServiceForTest(db, nil, nil)

	cases := []struct {
		name   string
		filter models.JobFilter
		want   []int64
	}{
		{name: "task", filter: models.JobFilter{TaskIDs: []int64{41}}, want: []int64{41}},
		{name: "cmid", filter: models.JobFilter{CourseModuleIDs: []int64{9}}, want: []int64{42}},
		{name: "course", filter: models.JobFilter{CourseIDs: []int64{2}}, want: []int64{40, 41}},
		{name: "module name", filter: models.JobFilter{ModuleNames: []string{"assign"}}, want: []int64{40, 42}},
		{name: "fail delay", filter: models.JobFilter{MinFailDelay: 2 * time.Hour}, want: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			list, err := svc.ListJobs(context.Background(), tc.filter)
			require.NoError(t, err)
			var got []int64
			for _, job := range list {
				got = append(got, job.TaskID)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReportServiceFixRepairsEveryJob(t *testing.T) {
	db := newMoodleFake()
	seedReportTasks(db)
	svc, metrics := newReportServiceForTest(db, nil, nil)

	report, err := svc.Fix(context.Background(), models.JobFilter{})
	require.NoError(t, err)
	require.Len(t, report.Jobs, 3)

	healthy := report.Jobs[0].Outcome
	require.NotNil(t, healthy)
	assert.Equal(t, []models.MessageCode{models.MsgNoKnownIssues}, healthy.Codes())
	assert.Contains(t, db.courseModules, int64(6))

	assert.True(t, report.Jobs[1].Outcome.Success)
	assert.NotContains(t, db.courseModules, int64(7))

	assert.Contains(t, report.Jobs[2].Outcome.Codes(), models.MsgSplitSuccess)
	assert.NotContains(t, db.tasks, int64(42))
	assert.Len(t, db.tasks, 3, "healthy task plus two split tasks")

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(2), snapshot.SymptomsFound)
}

func TestReportServiceFixStopsOnStorageFault(t *testing.T) {
	db := newMoodleFake()
	seedReportTasks(db)
	svc, _ := newReportServiceForTest(db, nil, nil)
	db.failWith = appErrors.Storage(errors.New("gone away"), "query failed")

	report, err := svc.Fix(context.Background(), models.JobFilter{})
	require.Error(t, err)
	assert.True(t, appErrors.IsStorage(err))
	require.NotNil(t, report)
	assert.Empty(t, report.Jobs)
}

func TestReportServiceRunLifecycle(t *testing.T) {
	db := newMoodleFake()
	seedReportTasks(db)
	queue := &dispatcherStub{}
	svc, _ := newReportServiceForTest(db, newRunStoreStub(), queue)
	ctx := context.Background()

	run, err := svc.SubmitRun(ctx, models.JobFilter{TaskIDs: []int64{41}}, "ops")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, run.ID, queue.jobs[0].ID)

	stored, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, stored.Status)
	assert.Equal(t, "ops", stored.RequestedBy)

	require.NoError(t, svc.ProcessRun(ctx, queue.jobs[0]))

	finished, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFinished, finished.Status)
	require.NotNil(t, finished.FinishedAt)
	require.NotNil(t, finished.Report)
	require.Len(t, finished.Report.Jobs, 1)
	assert.Equal(t, int64(41), finished.Report.Jobs[0].Diagnosis.Job.TaskID)
	assert.NotContains(t, db.courseModules, int64(7))

	_, err = svc.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestReportServiceRunFailureIsRecorded(t *testing.T) {
	db := newMoodleFake()
	seedReportTasks(db)
	queue := &dispatcherStub{}
	svc, _ := newReportServiceForTest(db, nil, queue)
	ctx := context.Background()

	run, err := svc.SubmitRun(ctx, models.JobFilter{}, "ops")
	require.NoError(t, err)

	db.failWith = appErrors.Storage(errors.New("gone away"), "query failed")
	require.NoError(t, svc.ProcessRun(ctx, queue.jobs[0]))

	stored, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, *stored.Error, "gone away")
}

func TestReportServiceSubmitRunUnavailable(t *testing.T) {
	db := newMoodleFake()
	svc, _ := newReportServiceForTest(db, nil, nil)

	_, err := svc.SubmitRun(context.Background(), models.JobFilter{}, "ops")
	assert.ErrorIs(t, err, appErrors.ErrUnavailable)

	svc.SetDispatcher(&dispatcherStub{err: errors.New("queue full")})
	_, err = svc.SubmitRun(context.Background(), models.JobFilter{}, "ops")
	assert.ErrorIs(t, err, appErrors.ErrUnavailable)
}
