// Package pipeline sequences the mirror: schema provisioning, the parallel
// bulk fills, the enrichment pass and the index/graph build, driven by the
// step marker persisted in the params collection.
package pipeline

import (
	"sync"
	"time"

	"github.com/fatih/color"
)

// Resource names match the upstream endpoints and the target collections
const (
	ResourceAssets             = "assets"
	ResourceAgents             = "agents"
	ResourceAssetRelaties      = "assetrelaties"
	ResourceBetrokkeneRelaties = "betrokkenerelaties"
	ResourceAssetTypes         = "assettypes"
	ResourceRelatieTypes       = "relatietypes"
	ResourceToezichtgroepen    = "toezichtgroepen"
	ResourceBestekken          = "bestekken"
	ResourceIdentiteiten       = "identiteiten"
	ResourceBeheerders         = "beheerders"
)

// FillGroups orders the bulk fill: lookup-like resources first so the
// asset and relation handlers find their reference tables populated.
// Groups run sequentially, resources within a group in parallel.
var FillGroups = [][]string{
	{
		ResourceAssetTypes,
		ResourceRelatieTypes,
		ResourceToezichtgroepen,
		ResourceBestekken,
		ResourceIdentiteiten,
		ResourceBeheerders,
	},
	{
		ResourceAssets,
		ResourceAgents,
		ResourceAssetRelaties,
		ResourceBetrokkeneRelaties,
	},
}

// resourceColors gives every resource a stable color so interleaved fill
// logs can be told apart
var resourceColors = map[string]*color.Color{
	ResourceAssets:             color.New(color.FgGreen),
	ResourceAgents:             color.New(color.FgYellow),
	ResourceAssetRelaties:      color.New(color.FgCyan),
	ResourceBetrokkeneRelaties: color.New(color.FgMagenta),
	ResourceBestekken:          color.New(color.FgBlue),
	ResourceToezichtgroepen:    color.New(color.FgHiYellow),
	ResourceIdentiteiten:       color.New(color.FgHiCyan),
	ResourceRelatieTypes:       color.New(color.FgHiGreen),
	ResourceAssetTypes:         color.New(color.FgHiMagenta),
	ResourceBeheerders:         color.New(color.FgHiRed),
}

func colorize(resource string) string {
	if c, ok := resourceColors[resource]; ok {
		return c.Sprint(resource)
	}
	return resource
}

// Config tunes the fill engines
type Config struct {
	// PageSize is the upstream page size
	PageSize int
	// MaxWorkers caps parallel resources per group
	MaxWorkers int
	// RetryDelay is the fixed back-off before failed group tasks rerun
	RetryDelay time.Duration
	// AssetChunkSize and BestekChunkSize are the bulk-import flush
	// thresholds of the assets handler
	AssetChunkSize  int
	BestekChunkSize int
	// BenchLimit stops the assets fill after roughly this many records;
	// zero disables the cap
	BenchLimit int
	// Pipelined overlaps page fetches with transform+write for the
	// cursor-paged resources
	Pipelined bool
	// StrictGeometry makes a geometry transform failure fail the page
	StrictGeometry bool
}

// DefaultConfig returns the production tuning
func DefaultConfig() Config {
	return Config{
		PageSize:        100,
		MaxWorkers:      4,
		RetryDelay:      30 * time.Second,
		AssetChunkSize:  1000,
		BestekChunkSize: 2000,
		StrictGeometry:  true,
	}
}

func (c *Config) normalize() {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.AssetChunkSize <= 0 {
		c.AssetChunkSize = 1000
	}
	if c.BestekChunkSize <= 0 {
		c.BestekChunkSize = 2000
	}
}

// ResourceStats counts the work done for one resource
type ResourceStats struct {
	Pages   int64
	Records int64
	Skipped int64
}

// Summary accumulates per-resource statistics across workers
type Summary struct {
	mu    sync.Mutex
	stats map[string]*ResourceStats
}

// NewSummary creates an empty summary
func NewSummary() *Summary {
	return &Summary{stats: make(map[string]*ResourceStats)}
}

func (s *Summary) get(resource string) *ResourceStats {
	st, ok := s.stats[resource]
	if !ok {
		st = &ResourceStats{}
		s.stats[resource] = st
	}
	return st
}

// AddPages counts fetched pages
func (s *Summary) AddPages(resource string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(resource).Pages += n
}

// AddRecords counts written records
func (s *Summary) AddRecords(resource string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(resource).Records += n
}

// AddSkipped counts skipped records
func (s *Summary) AddSkipped(resource string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(resource).Skipped += n
}

// Records returns the written-record count of one resource
func (s *Summary) Records(resource string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(resource).Records
}

// Snapshot copies the accumulated statistics
func (s *Summary) Snapshot() map[string]ResourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ResourceStats, len(s.stats))
	for resource, st := range s.stats {
		out[resource] = *st
	}
	return out
}

// head returns at most n leading bytes of s
func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
