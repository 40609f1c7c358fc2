package test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/gitmesh/syncrun"
	"github.com/gitmesh/syncrun/adapters/dispatch"
	"github.com/gitmesh/syncrun/adapters/notify"
	"github.com/gitmesh/syncrun/adapters/repository"
	"github.com/gitmesh/syncrun/adapters/txn"
)

// demoConnector walks two fixed streams and emits one member per stream.
type demoConnector struct {
	syncrun.BaseConnector
}

func (c *demoConnector) Platform() syncrun.Platform {
	return syncrun.PlatformGithub
}

func (c *demoConnector) ChecksEvery() int {
	return 8
}

func (c *demoConnector) GetStreams(ctx context.Context, sc *syncrun.StepContext) ([]syncrun.StreamSeed, error) {
	return []syncrun.StreamSeed{
		{Name: "stargazers"},
		{Name: "pulls"},
	}, nil
}

func (c *demoConnector) ProcessStream(ctx context.Context, stream *syncrun.Stream, sc *syncrun.StepContext) (*syncrun.ProcessResult, error) {
	member := syncrun.NewMetadata()
	member.Set("sourceId", fmt.Sprintf("demo-%s", stream.Name))
	member.Set("username", fmt.Sprintf("user-of-%s", stream.Name))
	return &syncrun.ProcessResult{
		Operations: []syncrun.Operation{
			{Type: syncrun.OperationUpsertMembers, Records: []syncrun.Metadata{member}},
		},
	}, nil
}

func main() {
	// set db for syncrun to store runs & streams
	var db *sql.DB
	var err error
	db, err = sql.Open("mysql", "root:root123@tcp(127.0.0.1:3306)/syncrun?charset=utf8&parseTime=true")
	if err != nil {
		panic(err)
	}
	logger := syncrun.NewLogger(os.Stdout, syncrun.Info)

	runs := repository.NewRunStore(db, syncrun.DefaultMaxStreamRetries)
	streams := repository.NewStreamStore(db, syncrun.DefaultMaxStreamRetries, syncrun.DefaultStreamRetryBackoff)
	integrations := repository.NewIntegrationStore(db)

	engine, err := syncrun.NewEngine(syncrun.EngineConfig{
		Runs:         runs,
		Streams:      streams,
		Integrations: integrations,
		Dispatcher:   dispatch.NewSQLDispatcher(txn.NewTransactionManager(db), nil),
		Notifier:     notify.NewNotifier(notify.Config{}, logger),
		Logger:       logger,
	})
	if err != nil {
		panic(err)
	}

	// register connector to syncrun
	err = engine.Register(&demoConnector{})
	if err != nil {
		panic(err)
	}

	// run
	integration, err := integrations.FindByPlatform(context.Background(), "tenant-1", syncrun.PlatformGithub)
	if err != nil {
		panic(err)
	}
	run, err := engine.StartIntegrationRun(context.Background(), integration, true)
	if err != nil {
		panic(err)
	}
	fmt.Printf("started run %v\n", run.ID)
	time.Sleep(5 * time.Second)
}
