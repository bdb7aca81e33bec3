// Package state persists pipeline progress in the params collection:
// the step marker, one fill_<resource> document per resource, and the
// feed markers.
package state

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mowtools/emsync/internal/arango"
	"github.com/mowtools/emsync/internal/emapi"
	"github.com/mowtools/emsync/internal/errors"
	"github.com/mowtools/emsync/internal/logger"
)

// Collection is the name of the state collection
const Collection = "params"

const stepKey = "db_step"

// Step is a stage of the pipeline. The marker is monotonic across a run.
type Step int

const (
	StepCreateDB Step = iota
	StepInitialFill
	StepExtraDataFill
	StepCreateIndexes
	StepApplyConstraints
	StepFinalSync
)

var stepNames = map[Step]string{
	StepCreateDB:         "CREATE_DB",
	StepInitialFill:      "INITIAL_FILL",
	StepExtraDataFill:    "EXTRA_DATA_FILL",
	StepCreateIndexes:    "CREATE_INDEXES",
	StepApplyConstraints: "APPLY_CONSTRAINTS",
	StepFinalSync:        "FINAL_SYNC",
}

// String returns the persisted name of the step
func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// ParseStep parses a persisted step name
func ParseStep(name string) (Step, error) {
	for step, n := range stepNames {
		if n == name {
			return step, nil
		}
	}
	return 0, errors.NewStorageError(fmt.Sprintf("unknown pipeline step %q", name))
}

// Progress is the fill marker of one resource. Invariant: fill=false
// implies From is nil; fill=true means From is nil (start) or the last
// successfully processed cursor/offset.
type Progress struct {
	Fill bool
	From interface{}
}

// FeedReader fetches feedproxy pages; satisfied by emapi.InfraClient
type FeedReader interface {
	LastFeedPage(ctx context.Context, feedName string) (*emapi.FeedPage, error)
}

// Store reads and writes the params collection
type Store struct {
	db  arango.Database
	log logger.Logger
}

// NewStore creates a state store over db
func NewStore(db arango.Database) *Store {
	return &Store{db: db, log: logger.New("state")}
}

// SetStep upserts the step marker
func (s *Store) SetStep(ctx context.Context, step Step) error {
	err := s.db.Exec(ctx, `
		UPSERT { _key: @key }
			INSERT { _key: @key, value: @value }
			UPDATE { value: @value }
		IN params`,
		map[string]interface{}{"key": stepKey, "value": step.String()})
	if err != nil {
		return err
	}
	s.log.Info("db_step updated", logger.String("step", step.String()))
	return nil
}

// GetStep reads the step marker; found is false on a fresh database
func (s *Store) GetStep(ctx context.Context) (Step, bool, error) {
	exists, err := s.db.CollectionExists(ctx, Collection)
	if err != nil || !exists {
		return 0, false, err
	}
	doc, found, err := s.db.GetDocument(ctx, Collection, stepKey)
	if err != nil || !found {
		return 0, false, err
	}
	name, _ := doc["value"].(string)
	step, err := ParseStep(name)
	if err != nil {
		return 0, false, err
	}
	return step, true, nil
}

// Progress reads the fill marker of a resource, creating it with
// {fill:true, from:null} on first read
func (s *Store) Progress(ctx context.Context, resource string) (Progress, error) {
	key := "fill_" + resource
	doc, found, err := s.db.GetDocument(ctx, Collection, key)
	if err != nil {
		return Progress{}, err
	}
	if !found {
		if err := s.db.InsertDocument(ctx, Collection, map[string]interface{}{
			"_key": key,
			"fill": true,
			"from": nil,
		}); err != nil {
			return Progress{}, err
		}
		return Progress{Fill: true, From: nil}, nil
	}
	fill, _ := doc["fill"].(bool)
	return Progress{Fill: fill, From: doc["from"]}, nil
}

// AdvanceProgress persists the last successfully processed cursor of a
// resource. Callers write records before advancing so a crash costs at most
// one re-processed page.
func (s *Store) AdvanceProgress(ctx context.Context, resource string, cursor interface{}) error {
	return s.db.Exec(ctx, `UPDATE @key WITH { from: @from } IN params`,
		map[string]interface{}{"key": "fill_" + resource, "from": cursor})
}

// MarkFilled marks a resource as completely filled
func (s *Store) MarkFilled(ctx context.Context, resource string) error {
	return s.db.Exec(ctx, `UPDATE @key WITH { from: null, fill: false } IN params`,
		map[string]interface{}{"key": "fill_" + resource})
}

// ResetFill re-arms the fill marker of a resource
func (s *Store) ResetFill(ctx context.Context, resource string) error {
	return s.db.Exec(ctx, `UPDATE @key WITH { from: null, fill: true } IN params`,
		map[string]interface{}{"key": "fill_" + resource})
}

// SweepFillMarkers deletes all fill_* documents once the fills are complete
func (s *Store) SweepFillMarkers(ctx context.Context) error {
	return s.db.Exec(ctx, `
		FOR doc IN params
			FILTER STARTS_WITH(doc._key, "fill_")
			REMOVE doc IN params`, nil)
}

// SeedFeedDefaults inserts the default feed markers for the given feeds
func (s *Store) SeedFeedDefaults(ctx context.Context, feeds []string) error {
	docs := make([]map[string]interface{}, 0, len(feeds))
	for _, feed := range feeds {
		docs = append(docs, map[string]interface{}{
			"_key":       "feed_" + feed,
			"page":       -1,
			"event_uuid": nil,
		})
	}
	return s.db.ImportBulk(ctx, Collection, docs, 0)
}

// RefreshFeedMarkers resolves every feed marker still at page -1 to the
// current last feed page and most recent event id, so a later incremental
// sync knows where the bulk fill left off.
func (s *Store) RefreshFeedMarkers(ctx context.Context, feeds FeedReader) error {
	rows, err := s.db.QueryAll(ctx, `
		FOR doc IN params
			FILTER doc.page == -1
			RETURN doc`, nil)
	if err != nil {
		return err
	}

	for _, doc := range rows {
		key, _ := doc["_key"].(string)
		feedName := strings.TrimPrefix(key, "feed_")
		if feedName == key {
			continue
		}

		page, err := feeds.LastFeedPage(ctx, feedName)
		if err != nil {
			return err
		}
		pageNum, err := selfPageNumber(page.Links)
		if err != nil {
			return errors.NewProtocolError("resolve feed page number").WithCause(err).
				WithDetail("feed", feedName)
		}
		entry, err := latestEntry(page.Entries)
		if err != nil {
			return errors.NewProtocolError("resolve latest feed entry").WithCause(err).
				WithDetail("feed", feedName)
		}

		if err := s.db.UpdateDocument(ctx, Collection, key, map[string]interface{}{
			"page":       pageNum,
			"event_uuid": entry.ID,
		}); err != nil {
			return err
		}
		s.log.Info("feed marker refreshed",
			logger.String("feed", feedName),
			logger.Int("page", pageNum),
			logger.String("event_uuid", entry.ID))
	}
	return nil
}

// selfPageNumber extracts the page number from the self link href ("<page>/<size>")
func selfPageNumber(links []emapi.FeedLink) (int, error) {
	for _, link := range links {
		if link.Rel != "self" {
			continue
		}
		parts := strings.Split(link.Href, "/")
		if len(parts) < 2 {
			return 0, fmt.Errorf("malformed self link %q", link.Href)
		}
		return strconv.Atoi(parts[1])
	}
	return 0, fmt.Errorf("feed page without self link")
}

// latestEntry returns the entry with the most recent updated timestamp
func latestEntry(entries []emapi.FeedEntry) (emapi.FeedEntry, error) {
	if len(entries) == 0 {
		return emapi.FeedEntry{}, fmt.Errorf("feed page without entries")
	}
	sorted := make([]emapi.FeedEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, erri := time.Parse(time.RFC3339, sorted[i].Updated)
		tj, errj := time.Parse(time.RFC3339, sorted[j].Updated)
		if erri != nil || errj != nil {
			return sorted[i].Updated < sorted[j].Updated
		}
		return ti.Before(tj)
	})
	return sorted[len(sorted)-1], nil
}
