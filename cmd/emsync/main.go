// Command emsync mirrors the asset-management platform into an ArangoDB
// document+graph database: it provisions the schema, runs the resumable
// bulk fills, enriches the mirror and builds the indexes and graphs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/mowtools/emsync/internal/arango"
	"github.com/mowtools/emsync/internal/config"
	"github.com/mowtools/emsync/internal/emapi"
	"github.com/mowtools/emsync/internal/logger"
	"github.com/mowtools/emsync/internal/metrics"
	"github.com/mowtools/emsync/internal/pipeline"
	"github.com/mowtools/emsync/internal/resilience"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		settingsPath = flag.String("settings", "", "path to the settings file")
		envName      = flag.String("env", "prd", "API environment (prd, tei, dev, aim)")
		authName     = flag.String("auth", "jwt", "authentication method (jwt, cert, cookie)")
		cookie       = flag.String("cookie", "", "acm-awv cookie value (cookie auth only)")
		metricsAddr  = flag.String("metrics-addr", "", "serve prometheus metrics on this address")
		rps          = flag.Float64("rps", 0, "upstream request rate limit in requests per second (0 = unlimited)")
		workers      = flag.Int("workers", 4, "max parallel resources per fill group")
		retryDelay   = flag.Duration("retry-delay", 30*time.Second, "back-off before failed fill tasks rerun")
		pageSize     = flag.Int("page-size", 100, "upstream page size")
		benchLimit   = flag.Int("bench-limit", 0, "stop the assets fill after N records (0 = unlimited)")
		pipelined    = flag.Bool("pipelined", false, "overlap page fetches with transform+write")
		lenientGeo   = flag.Bool("lenient-geometry", false, "skip geometries that fail to transform instead of failing the page")
		logLevel     = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger.Initialize(logger.LogConfig{
		Level:      *logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	})
	log := logger.New("emsync")

	if *settingsPath == "" {
		log.Error("missing required -settings flag")
		return 1
	}
	settings, err := config.Load(*settingsPath)
	if err != nil {
		log.Error("loading settings failed", logger.Error(err))
		return 1
	}
	env, err := config.ParseEnvironment(*envName)
	if err != nil {
		log.Error("invalid environment", logger.Error(err))
		return 1
	}
	auth, err := config.ParseAuthMethod(*authName)
	if err != nil {
		log.Error("invalid auth method", logger.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		go func() {
			if err := metrics.Default().Serve(*metricsAddr); err != nil {
				log.Warn("metrics listener stopped", logger.Error(err))
			}
		}()
	}

	requester, err := emapi.NewRequesterForAuth(settings, env, auth, *cookie, *rps)
	if err != nil {
		log.Error("building requester failed", logger.Error(err))
		return 1
	}
	infra := emapi.NewInfraClient(requester)
	son := emapi.NewSONClient(requester)

	dbSettings, err := settings.Database(env)
	if err != nil {
		log.Error("database settings missing", logger.Error(err))
		return 1
	}
	var db *arango.Store
	if _, err := resilience.Retry(ctx, nil, func(ctx context.Context) error {
		db, err = arango.Connect(ctx, dbSettings)
		return err
	}); err != nil {
		log.Error("connecting to database failed", logger.Error(err))
		return 1
	}
	log.Info("connected to database",
		logger.String("database", db.Name()),
		logger.String("environment", string(env)))

	controller := pipeline.NewController(db, infra, son, pipeline.Config{
		PageSize:        *pageSize,
		MaxWorkers:      *workers,
		RetryDelay:      *retryDelay,
		AssetChunkSize:  1000,
		BestekChunkSize: 2000,
		BenchLimit:      *benchLimit,
		Pipelined:       *pipelined,
		StrictGeometry:  !*lenientGeo,
	})
	if _, err := resilience.Retry(ctx, nil, controller.TestConnections); err != nil {
		log.Error("upstream connection test failed", logger.Error(err))
		return 1
	}

	started := time.Now()
	if err := controller.Run(ctx); err != nil {
		log.Error("pipeline failed", logger.Error(err))
		printSummary(controller.Summary())
		return 1
	}
	log.Info("pipeline finished", logger.Duration("elapsed", time.Since(started)))
	printSummary(controller.Summary())
	return 0
}

func printSummary(sum *pipeline.Summary) {
	stats := sum.Snapshot()
	if len(stats) == 0 {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Resource", "Pages", "Records", "Skipped"})
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator(" ")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, resource := range sortedKeys(stats) {
		st := stats[resource]
		table.Append([]string{
			resource,
			fmt.Sprintf("%d", st.Pages),
			fmt.Sprintf("%d", st.Records),
			fmt.Sprintf("%d", st.Skipped),
		})
	}
	table.Render()
}

func sortedKeys(stats map[string]pipeline.ResourceStats) []string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
