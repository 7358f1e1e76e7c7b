package importer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/cache"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/uploads"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// memoryLeadStore enforces the same unique keys as the leads table.
type memoryLeadStore struct {
	mu            sync.Mutex
	leads         []models.Lead
	findErr       error
	insertManyErr error
	insertOneErr  func(lead models.Lead) error
}

func (s *memoryLeadStore) conflicts(l models.Lead) bool {
	for _, existing := range s.leads {
		if l.Phone != "" && existing.Phone == l.Phone {
			return true
		}
		if l.GoogleURL != "" && existing.GoogleURL == l.GoogleURL {
			return true
		}
		if existing.IdentityKey() == l.IdentityKey() {
			return true
		}
	}
	return false
}

func (s *memoryLeadStore) FindOne(_ context.Context, f models.LeadFilter) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for i, l := range s.leads {
		switch {
		case f.Phone != "" && l.Phone == f.Phone,
			f.GoogleURL != "" && l.GoogleURL == f.GoogleURL,
			f.Name != "" && l.IdentityKey() == models.IdentityKey(f.Name, f.Province, f.City):
			return &s.leads[i], nil
		}
	}
	return nil, nil
}

func (s *memoryLeadStore) InsertMany(_ context.Context, leads []models.Lead) (models.InsertManyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertManyErr != nil {
		return models.InsertManyResult{}, s.insertManyErr
	}
	var res models.InsertManyResult
	for i, l := range leads {
		if s.conflicts(l) {
			res.Skipped = append(res.Skipped, i)
			continue
		}
		l.ID = uuid.New().String()
		s.leads = append(s.leads, l)
		res.InsertedCount++
		res.InsertedIDs = append(res.InsertedIDs, l.ID)
	}
	return res, nil
}

func (s *memoryLeadStore) InsertOne(_ context.Context, l models.Lead) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertOneErr != nil {
		if err := s.insertOneErr(l); err != nil {
			return "", err
		}
	}
	if s.conflicts(l) {
		return "", database.ErrUniqueViolation
	}
	l.ID = uuid.New().String()
	s.leads = append(s.leads, l)
	return l.ID, nil
}

type memoryRunStore struct {
	mu        sync.Mutex
	runs      map[string]models.ImportRun
	createErr error
}

func (s *memoryRunStore) Create(_ context.Context, run *models.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if s.runs == nil {
		s.runs = map[string]models.ImportRun{}
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *memoryRunStore) Finalize(_ context.Context, run *models.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[run.ID].Status.Final() {
		return errors.New("run already finalized")
	}
	s.runs[run.ID] = *run
	return nil
}

type fixture struct {
	leads  *memoryLeadStore
	runs   *memoryRunStore
	files  *uploads.Store
	cache  *cache.Memory
	orch   *Orchestrator
	locker *LocalLocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	files, err := uploads.NewStore(t.TempDir(), 1<<20, noopLogger())
	require.NoError(t, err)

	f := &fixture{
		leads:  &memoryLeadStore{},
		runs:   &memoryRunStore{},
		files:  files,
		cache:  cache.NewMemory(),
		locker: NewLocalLocker(),
	}
	f.orch = NewOrchestrator(Dependencies{
		Leads:  f.leads,
		Runs:   f.runs,
		Files:  f.files,
		Locker: f.locker,
		Cache:  f.cache,
		Logger: noopLogger(),
	}, Options{DefaultProvince: ""})
	return f
}

func (f *fixture) upload(t *testing.T, content string) string {
	t.Helper()
	stored, err := f.files.Save(context.Background(), "leads.csv", strings.NewReader(content))
	require.NoError(t, err)
	return stored.Filename
}

var basicMapping = models.ColumnMapping{
	models.FieldName:     0,
	models.FieldPhone:    1,
	models.FieldProvince: 2,
}

const scenarioFile = "Name,Phone,Province\n" +
	"Cafe Uno,+54 (11) 1234-5678,Buenos Aires\n" +
	"Cafe Dos,+54 11 1234 5678,Buenos Aires\n" +
	",351 555,Cordoba\n"

func TestRun_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	filename := f.upload(t, scenarioFile)
	run, err := f.orch.Run(ctx, models.ImportRequest{
		Filename:       filename,
		ColumnMapping:  basicMapping,
		SkipDuplicates: true,
		UploadedBy:     "admin-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ImportStateCompleted, run.Status)
	assert.Equal(t, models.ImportStats{TotalRows: 3, ValidRows: 1, DuplicatesRemoved: 1, InvalidRemoved: 1, LeadsCreated: 1}, run.Stats)
	assert.Equal(t, "admin-1", run.UploadedBy)

	require.Len(t, f.leads.leads, 1)
	assert.Equal(t, "+541112345678", f.leads.leads[0].Phone)
	assert.Equal(t, run.ID, f.leads.leads[0].ImportRunID)

	levels := map[models.LogLevel]int{}
	for _, entry := range run.Logs {
		levels[entry.Level]++
	}
	assert.Equal(t, 1, levels[models.LogLevelInfo])
	assert.Equal(t, 1, levels[models.LogLevelWarning])

	// the uploaded file is removed and the run is persisted as final
	_, err = f.files.Path(filename)
	assert.ErrorIs(t, err, uploads.ErrNotFound)
	assert.Equal(t, models.ImportStateCompleted, f.runs.runs[run.ID].Status)
}

func TestRun_ReimportCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	content := "Name,Phone,Province\nA,111,X\nB,222,X\nC,,Y\n"

	first, err := f.orch.Run(ctx, models.ImportRequest{Filename: f.upload(t, content), ColumnMapping: basicMapping, SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Stats.LeadsCreated)

	second, err := f.orch.Run(ctx, models.ImportRequest{Filename: f.upload(t, content), ColumnMapping: basicMapping, SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Stats.LeadsCreated)
	assert.Equal(t, first.Stats.ValidRows, second.Stats.DuplicatesRemoved)
	assert.Len(t, f.leads.leads, 3)
}

func TestRun_NoPrecheckStillHonorsUniqueKeys(t *testing.T) {
	f := newFixture(t)
	content := "Name,Phone,Province\nA,111,X\nB,111,X\n"

	run, err := f.orch.Run(context.Background(), models.ImportRequest{Filename: f.upload(t, content), ColumnMapping: basicMapping})
	require.NoError(t, err)

	assert.Equal(t, models.ImportStats{TotalRows: 2, ValidRows: 2, DuplicatesRemoved: 1, LeadsCreated: 1}, run.Stats)
}

func TestRun_FallbackToIndividualInserts(t *testing.T) {
	f := newFixture(t)
	f.leads.leads = []models.Lead{{ID: "existing", Name: "Old", Phone: "222", Province: "X"}}
	f.leads.insertManyErr = errors.New("driver: bad connection")
	f.leads.insertOneErr = func(l models.Lead) error {
		if l.Name == "C" {
			return errors.New("value too long")
		}
		return nil
	}

	content := "Name,Phone,Province\nA,111,X\nB,222,X\nC,333,X\n"
	run, err := f.orch.Run(context.Background(), models.ImportRequest{Filename: f.upload(t, content), ColumnMapping: basicMapping})
	require.NoError(t, err)

	assert.Equal(t, models.ImportStats{TotalRows: 3, ValidRows: 3, DuplicatesRemoved: 1, InvalidRemoved: 1, LeadsCreated: 1}, run.Stats)
	s := run.Stats
	assert.Equal(t, s.ValidRows, s.LeadsCreated+1+1)

	var sawError bool
	for _, entry := range run.Logs {
		if entry.Level == models.LogLevelError {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestRun_DefaultProvince(t *testing.T) {
	f := newFixture(t)
	content := "Name,Phone\nA,111\n"
	mapping := models.ColumnMapping{models.FieldName: 0, models.FieldPhone: 1}

	run, err := f.orch.Run(context.Background(), models.ImportRequest{
		Filename:        f.upload(t, content),
		ColumnMapping:   mapping,
		DefaultProvince: "Santa Fe",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Stats.LeadsCreated)
	assert.Equal(t, "Santa Fe", f.leads.leads[0].Province)
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.leads.findErr = errors.New("connection refused")
	require.NoError(t, f.cache.Set(context.Background(), cache.StatsKey, []byte("{}"), time.Minute))

	filename := f.upload(t, scenarioFile)
	run, err := f.orch.Run(context.Background(), models.ImportRequest{Filename: filename, ColumnMapping: basicMapping, SkipDuplicates: true})
	require.Error(t, err)
	assert.True(t, IsRunFatal(err))

	var fatal *RunFatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, run.ID, fatal.RunID)

	assert.Equal(t, models.ImportStateFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "connection refused")
	assert.Empty(t, f.leads.leads)

	_, err = f.files.Path(filename)
	assert.ErrorIs(t, err, uploads.ErrNotFound)

	_, err = f.cache.Get(context.Background(), cache.StatsKey)
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestRun_RunStoreUnavailableRemovesUpload(t *testing.T) {
	f := newFixture(t)
	f.runs.createErr = errors.New("connection refused")

	filename := f.upload(t, scenarioFile)
	run, err := f.orch.Run(context.Background(), models.ImportRequest{Filename: filename, ColumnMapping: basicMapping})
	assert.Nil(t, run)
	assert.True(t, IsRunFatal(err))
	assert.ErrorContains(t, err, "connection refused")

	_, err = f.files.Path(filename)
	assert.ErrorIs(t, err, uploads.ErrNotFound)
	assert.Empty(t, f.leads.leads)
}

func TestRun_RowNumbersSurviveBlankRows(t *testing.T) {
	f := newFixture(t)
	content := "Name,Phone,Province
" +
		"A,111,X
" +
		",,
" +
		"
" +
		",222,BA
" +
		"B,111,X
"

	run, err := f.orch.Run(context.Background(), models.ImportRequest{
		Filename:       f.upload(t, content),
		ColumnMapping:  basicMapping,
		SkipDuplicates: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStats{TotalRows: 3, ValidRows: 1, DuplicatesRemoved: 1, InvalidRemoved: 1, LeadsCreated: 1}, run.Stats)

	var messages []string
	for _, entry := range run.Logs {
		messages = append(messages, entry.Message)
	}
	require.Len(t, messages, 2)
	assert.Equal(t, "row 4: missing name", messages[0])
	assert.Contains(t, messages[1], "row 5:")
}

func TestRun_UnreadableFileIsFatal(t *testing.T) {
	f := newFixture(t)
	stored, err := f.files.Save(context.Background(), "broken.xlsx", strings.NewReader("not a zip"))
	require.NoError(t, err)

	run, err := f.orch.Run(context.Background(), models.ImportRequest{Filename: stored.Filename, ColumnMapping: basicMapping})
	assert.True(t, IsRunFatal(err))
	require.NotNil(t, run)
	assert.Equal(t, models.ImportStateFailed, run.Status)
}

func TestRun_RejectsBeforeStarting(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Run(context.Background(), models.ImportRequest{Filename: "x.csv", ColumnMapping: models.ColumnMapping{models.FieldPhone: 1}})
	assert.ErrorIs(t, err, ErrInvalidMapping)

	_, err = f.orch.Run(context.Background(), models.ImportRequest{Filename: "missing.csv", ColumnMapping: basicMapping})
	assert.ErrorIs(t, err, uploads.ErrNotFound)

	assert.Empty(t, f.runs.runs)
}

func TestRun_SameFileIsLocked(t *testing.T) {
	f := newFixture(t)
	filename := f.upload(t, scenarioFile)

	err := f.locker.WithLock(context.Background(), lockKey(filename), time.Minute, func(ctx context.Context) error {
		_, err := f.orch.Run(ctx, models.ImportRequest{Filename: filename, ColumnMapping: basicMapping})
		return err
	})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// released afterwards
	run, err := f.orch.Run(context.Background(), models.ImportRequest{Filename: filename, ColumnMapping: basicMapping})
	require.NoError(t, err)
	assert.Equal(t, models.ImportStateCompleted, run.Status)
}
