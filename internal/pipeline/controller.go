package pipeline

import (
	"context"
	"time"

	"github.com/mowtools/emsync/internal/arango"
	"github.com/mowtools/emsync/internal/emapi"
	"github.com/mowtools/emsync/internal/logger"
	"github.com/mowtools/emsync/internal/metrics"
	"github.com/mowtools/emsync/internal/state"
)

// Controller drives the linear pipeline from schema provisioning to the
// final sync placeholder. Every transition is persisted before the next
// step runs, so a restarted run resumes at the recorded step.
type Controller struct {
	db    arango.Database
	state *state.Store
	infra *emapi.InfraClient
	son   *emapi.SONClient
	cfg   Config
	sum   *Summary
	log   logger.Logger
}

// NewController builds the pipeline controller
func NewController(db arango.Database, infra *emapi.InfraClient, son *emapi.SONClient, cfg Config) *Controller {
	cfg.normalize()
	return &Controller{
		db:    db,
		state: state.NewStore(db),
		infra: infra,
		son:   son,
		cfg:   cfg,
		sum:   NewSummary(),
		log:   logger.New("controller"),
	}
}

// Summary returns the per-resource statistics accumulated so far
func (c *Controller) Summary() *Summary {
	return c.sum
}

// TestConnections probes both upstream APIs with the configured credentials
func (c *Controller) TestConnections(ctx context.Context) error {
	if err := c.infra.TestConnection(ctx); err != nil {
		return err
	}
	return c.son.TestConnection(ctx)
}

// Run executes the pipeline from the persisted step to the end
func (c *Controller) Run(ctx context.Context) error {
	step, found, err := c.state.GetStep(ctx)
	if err != nil {
		return err
	}
	if !found {
		step = state.StepCreateDB
	}
	c.log.Info("starting pipeline", logger.String("step", step.String()))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		next, done, err := c.runStep(ctx, step)
		if err != nil {
			return err
		}
		if done {
			c.log.Info("pipeline complete")
			return nil
		}
		step = next
	}
}

// runStep executes one step and persists the transition. Each step
// implementation sets the marker itself when the original does (create-db);
// the others are advanced here.
func (c *Controller) runStep(ctx context.Context, step state.Step) (state.Step, bool, error) {
	started := time.Now()
	defer func() {
		metrics.Default().StepDuration.WithLabelValues(step.String()).
			Observe(time.Since(started).Seconds())
	}()
	c.log.Info("running step", logger.String("step", step.String()))

	switch step {
	case state.StepCreateDB:
		if err := NewCreateDBStep(c.db, c.state).Execute(ctx); err != nil {
			return 0, false, err
		}
		return state.StepInitialFill, false, nil

	case state.StepInitialFill:
		engine := NewFillEngine(c.db, c.state, c.infra, c.son, c.cfg, c.sum)
		if err := engine.Execute(ctx); err != nil {
			return 0, false, err
		}
		return c.advance(ctx, state.StepExtraDataFill)

	case state.StepExtraDataFill:
		extra := NewExtraFillStep(c.db, c.state, c.infra, c.cfg, c.sum)
		if err := extra.Execute(ctx); err != nil {
			return 0, false, err
		}
		// both fill phases are done, the resume markers have served their
		// purpose
		if err := c.state.SweepFillMarkers(ctx); err != nil {
			return 0, false, err
		}
		return c.advance(ctx, state.StepCreateIndexes)

	case state.StepCreateIndexes:
		if err := NewCreateIndicesStep(c.db).Execute(ctx); err != nil {
			return 0, false, err
		}
		return c.advance(ctx, state.StepApplyConstraints)

	case state.StepApplyConstraints:
		// placeholder until constraints are specified
		return c.advance(ctx, state.StepFinalSync)

	case state.StepFinalSync:
		// placeholder, terminal: incremental feed syncing runs elsewhere
		return 0, true, nil

	default:
		return 0, true, nil
	}
}

func (c *Controller) advance(ctx context.Context, next state.Step) (state.Step, bool, error) {
	if err := c.state.SetStep(ctx, next); err != nil {
		return 0, false, err
	}
	return next, false, nil
}
