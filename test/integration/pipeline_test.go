// Package integration runs the import and distribution pipeline against a real Postgres.
// Set CLOVER_INTEGRATION=1 to run it; Docker is required.
package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	agentrepo "github.com/Ramsey-B/clover/internal/repositories/agent"
	importrunrepo "github.com/Ramsey-B/clover/internal/repositories/importrun"
	leadrepo "github.com/Ramsey-B/clover/internal/repositories/lead"
	"github.com/Ramsey-B/clover/pkg/cache"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/distribution"
	"github.com/Ramsey-B/clover/pkg/importer"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/uploads"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "user",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "clover",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("host=%s port=%s user=user password=password dbname=clover sslmode=disable", host, port.Port())
}

type pipeline struct {
	files   *uploads.Store
	leads   *leadrepo.Repository
	agents  *agentrepo.Repository
	orch    *importer.Orchestrator
	planner *distribution.Planner
}

func setup(t *testing.T) (context.Context, *pipeline) {
	if os.Getenv("CLOVER_INTEGRATION") != "1" {
		t.Skip("set CLOVER_INTEGRATION=1 to run integration tests")
	}

	ctx := context.Background()
	logger := getTestLogger()

	db, err := database.Connect(ctx, database.ConnectionConfig{DSN: startPostgres(t, ctx)}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "../../db/pg"})
	require.NoError(t, migrations.Migrate(db.SQL()))

	files, err := uploads.NewStore(t.TempDir(), 1<<20, logger)
	require.NoError(t, err)

	p := &pipeline{
		files:  files,
		leads:  leadrepo.NewRepository(db, logger, 2),
		agents: agentrepo.NewRepository(db, logger),
	}
	c := cache.NewMemory()
	p.orch = importer.NewOrchestrator(importer.Dependencies{
		Leads:  p.leads,
		Runs:   importrunrepo.NewRepository(db, logger),
		Files:  files,
		Cache:  c,
		Logger: logger,
	}, importer.Options{DefaultProvince: "Madrid"})

	assigner := distribution.NewAssigner(p.leads, p.agents, database.NewTransactor(db), logger)
	p.planner = distribution.NewPlanner(assigner, logger, distribution.Options{Cache: c})
	return ctx, p
}

func (p *pipeline) importCSV(t *testing.T, ctx context.Context, content string, skipDuplicates bool) *models.ImportRun {
	t.Helper()
	stored, err := p.files.Save(ctx, "leads.csv", strings.NewReader(content))
	require.NoError(t, err)

	run, err := p.orch.Run(ctx, models.ImportRequest{
		Filename:       stored.Filename,
		ColumnMapping:  models.ColumnMapping{models.FieldName: 0, models.FieldPhone: 1, models.FieldCity: 2},
		SkipDuplicates: skipDuplicates,
		UploadedBy:     "integration",
	})
	require.NoError(t, err)
	return run
}

func TestImportAndDistribute(t *testing.T) {
	ctx, p := setup(t)

	run := p.importCSV(t, ctx, "Name,Phone,City\nBar Pepe,600 111 222,Madrid\nPepe Bar,600111222,Getafe\n,600333444,Madrid\n", true)
	assert.Equal(t, models.ImportStateCompleted, run.Status)
	assert.Equal(t, models.ImportStats{TotalRows: 3, ValidRows: 1, DuplicatesRemoved: 1, InvalidRemoved: 1, LeadsCreated: 1}, run.Stats)

	again := p.importCSV(t, ctx, "Name,Phone,City\nBar Pepe,600 111 222,Madrid\n", true)
	assert.Equal(t, 0, again.Stats.LeadsCreated)
	assert.Equal(t, 1, again.Stats.DuplicatesRemoved)

	var rows strings.Builder
	rows.WriteString("Name,Phone,City\n")
	for i := 0; i < 9; i++ {
		fmt.Fprintf(&rows, "Lead %d,61000000%d,Madrid\n", i, i)
	}
	bulk := p.importCSV(t, ctx, rows.String(), false)
	require.Equal(t, 9, bulk.Stats.LeadsCreated)

	for _, name := range []string{"Ana", "Bruno", "Carla"} {
		_, err := p.agents.Create(ctx, models.Agent{Name: name, Email: strings.ToLower(name) + "@example.com", Active: true})
		require.NoError(t, err)
	}

	result, err := p.planner.Distribute(ctx, distribution.Request{Strategy: distribution.StrategyEquitable, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, result.AssignedCount)

	roster, err := p.agents.FindActive(ctx, models.AgentFilter{})
	require.NoError(t, err)
	require.Len(t, roster, 3)
	assert.Equal(t, []int{4, 3, 3}, []int{result.PerAgent[roster[0].ID], result.PerAgent[roster[1].ID], result.PerAgent[roster[2].ID]})
	assert.Equal(t, 4, roster[0].TotalLeads)

	left, err := p.leads.ListUnassigned(ctx, models.LeadListFilter{})
	require.NoError(t, err)
	assert.Empty(t, left)
}
