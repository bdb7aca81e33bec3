package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/mowtools/emsync/internal/arango"
	"github.com/mowtools/emsync/internal/concurrency"
	"github.com/mowtools/emsync/internal/emapi"
	"github.com/mowtools/emsync/internal/errors"
	"github.com/mowtools/emsync/internal/logger"
	"github.com/mowtools/emsync/internal/metrics"
	"github.com/mowtools/emsync/internal/resilience"
	"github.com/mowtools/emsync/internal/state"
	"github.com/mowtools/emsync/internal/transform"
)

// pageHandler turns one page of raw upstream records into writes
type pageHandler func(ctx context.Context, items []map[string]interface{}) error

// FillEngine runs the resumable bulk fill over the declared resource groups
type FillEngine struct {
	db    arango.Database
	state *state.Store
	infra *emapi.InfraClient
	son   *emapi.SONClient
	cfg   Config
	sum   *Summary
	log   logger.Logger

	transformer transform.Transformer
	lookupOnce  sync.Once
	lookupErr   error
}

// NewFillEngine builds the fill engine
func NewFillEngine(db arango.Database, st *state.Store, infra *emapi.InfraClient, son *emapi.SONClient, cfg Config, sum *Summary) *FillEngine {
	cfg.normalize()
	return &FillEngine{
		db:    db,
		state: st,
		infra: infra,
		son:   son,
		cfg:   cfg,
		sum:   sum,
		log:   logger.New("initialfill"),
		transformer: transform.Transformer{
			StrictGeometry: cfg.StrictGeometry,
		},
	}
}

// Execute refreshes the feed markers, then fills every group in order
func (e *FillEngine) Execute(ctx context.Context) error {
	if err := e.state.RefreshFeedMarkers(ctx, e.infra); err != nil {
		return err
	}
	for _, group := range FillGroups {
		if err := e.fillGroup(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

// fillGroup runs the group's resources in parallel. Failed resources are
// rerun after the back-off until the group drains or ctx is cancelled.
func (e *FillEngine) fillGroup(ctx context.Context, group []string) error {
	pending := group
	return resilience.Forever(ctx, "fill group", e.cfg.RetryDelay, func(ctx context.Context) error {
		failed, err := e.runGroupRound(ctx, pending)
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			pending = failed
			return errors.NewConnectivityError("fill tasks failed").
				WithDetail("failed", len(failed))
		}
		return nil
	})
}

// runGroupRound runs one parallel pass over pending and reports the
// resources that failed
func (e *FillEngine) runGroupRound(ctx context.Context, pending []string) ([]string, error) {
	workers := len(pending)
	if workers > e.cfg.MaxWorkers {
		workers = e.cfg.MaxWorkers
	}
	pool := concurrency.NewWorkerPool(workers)
	defer pool.Shutdown(10 * time.Second)

	var (
		mu     sync.Mutex
		failed []string
		wg     sync.WaitGroup
	)
	for _, resource := range pending {
		resource := resource
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := e.FillResource(ctx, resource); err != nil {
				e.log.Error("fill failed",
					logger.String("resource", colorize(resource)),
					logger.Error(err))
				metrics.Default().TaskRetries.WithLabelValues(resource).Inc()
				mu.Lock()
				failed = append(failed, resource)
				mu.Unlock()
			}
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			return nil, err
		}
	}
	wg.Wait()
	return failed, nil
}

// FillResource drains one resource's upstream pages into its collection,
// advancing the progress marker after every written page
func (e *FillEngine) FillResource(ctx context.Context, resource string) error {
	progress, err := e.state.Progress(ctx, resource)
	if err != nil {
		return err
	}
	if !progress.Fill {
		e.log.Info("skipping, already filled", logger.String("resource", colorize(resource)))
		return nil
	}

	pager, err := e.pagerFor(resource, progress.From)
	if err != nil {
		return err
	}
	handler, err := e.handlerFor(resource)
	if err != nil {
		return err
	}
	e.log.Info("filling resource",
		logger.String("resource", colorize(resource)),
		logger.Any("from", progress.From))

	if e.cfg.Pipelined && isCursorPaged(resource) {
		return e.drainPipelined(ctx, resource, pager, handler)
	}
	return e.drain(ctx, resource, pager, handler)
}

func (e *FillEngine) drain(ctx context.Context, resource string, pager emapi.Pager, handler pageHandler) error {
	for {
		page, ok, err := pager.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		done, err := e.processPage(ctx, resource, handler, page)
		if err != nil || done {
			return err
		}
	}
}

// processPage handles one page: records are written before the cursor
// advances, so a crash costs at most one re-imported page. The final page
// (nil cursor) marks the resource filled. done is also reported when the
// bench cap is reached.
func (e *FillEngine) processPage(ctx context.Context, resource string, handler pageHandler, page emapi.Page) (bool, error) {
	e.sum.AddPages(resource, 1)
	metrics.Default().PagesFetched.WithLabelValues(resource).Inc()

	if len(page.Items) > 0 {
		if err := handler(ctx, page.Items); err != nil {
			return false, err
		}
		e.log.Info("page inserted",
			logger.String("resource", colorize(resource)),
			logger.Int("records", len(page.Items)),
			logger.Any("next", page.Next))
	}

	if page.Next == nil {
		if err := e.state.MarkFilled(ctx, resource); err != nil {
			return false, err
		}
		e.log.Info("no more data, marked as filled",
			logger.String("resource", colorize(resource)))
		return true, nil
	}
	if err := e.state.AdvanceProgress(ctx, resource, page.Next); err != nil {
		return false, err
	}

	if resource == ResourceAssets && e.cfg.BenchLimit > 0 &&
		e.sum.Records(resource) >= int64(e.cfg.BenchLimit) {
		e.log.Info("bench limit reached, stopping assets fill",
			logger.Int("limit", e.cfg.BenchLimit),
			logger.Int64("records", e.sum.Records(resource)))
		return true, nil
	}
	return false, nil
}

// pagerFor routes a resource to its upstream generator
func (e *FillEngine) pagerFor(resource string, start interface{}) (emapi.Pager, error) {
	switch resource {
	case ResourceAssetTypes, ResourceRelatieTypes, ResourceBeheerders:
		return e.infra.ResourcePager(resource, e.cfg.PageSize, start), nil
	case ResourceBestekken:
		return e.infra.ResourcePager("bestekrefs", e.cfg.PageSize, start), nil
	case ResourceIdentiteiten, ResourceToezichtgroepen:
		return e.infra.IdentityResourcePager(resource, e.cfg.PageSize, start), nil
	case ResourceAgents, ResourceBetrokkeneRelaties:
		return e.infra.SearchPager(resource, e.cfg.PageSize, start, []string{"contactInfo"}), nil
	case ResourceAssets, ResourceAssetRelaties:
		return e.son.SearchPager(resource, e.cfg.PageSize, start), nil
	default:
		return nil, errors.NewConfigurationError("no upstream generator for resource").
			WithDetail("resource", resource)
	}
}

func (e *FillEngine) handlerFor(resource string) (pageHandler, error) {
	switch resource {
	case ResourceAssetTypes:
		return e.insertAssetTypes, nil
	case ResourceRelatieTypes:
		return e.insertRelatieTypes, nil
	case ResourceToezichtgroepen:
		return e.referenceHandler(ResourceToezichtgroepen, transform.ShortKeyLen, deriveActive), nil
	case ResourceBeheerders:
		return e.referenceHandler(ResourceBeheerders, transform.ShortKeyLen, deriveActive), nil
	case ResourceIdentiteiten:
		return e.referenceHandler(ResourceIdentiteiten, transform.ShortKeyLen, nil), nil
	case ResourceBestekken:
		return e.referenceHandler(ResourceBestekken, transform.ShortKeyLen, nil), nil
	case ResourceAgents:
		return e.insertAgents, nil
	case ResourceAssets:
		return e.insertAssets, nil
	case ResourceAssetRelaties:
		return e.insertAssetRelaties, nil
	case ResourceBetrokkeneRelaties:
		return e.insertBetrokkeneRelaties, nil
	default:
		return nil, errors.NewConfigurationError("no handler for resource").
			WithDetail("resource", resource)
	}
}

func isCursorPaged(resource string) bool {
	switch resource {
	case ResourceAssets, ResourceAssetRelaties, ResourceAgents, ResourceBetrokkeneRelaties:
		return true
	}
	return false
}
