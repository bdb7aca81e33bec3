package emapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequester(t *testing.T, handler http.HandlerFunc) *Requester {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewRequester(RequesterConfig{BaseURL: server.URL + "/", Retries: 1})
}

func offsetServer(t *testing.T, totalCount int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, _ := strconv.Atoi(r.URL.Query().Get("from"))
		size, _ := strconv.Atoi(r.URL.Query().Get("size"))
		assert.Equal(t, "OFFSET", r.URL.Query().Get("pagingMode"))

		data := make([]map[string]interface{}, 0, size)
		for i := from; i < from+size && i < totalCount; i++ {
			data = append(data, map[string]interface{}{"uuid": fmt.Sprintf("item-%d", i)})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"from":       from,
			"size":       size,
			"totalCount": totalCount,
			"data":       data,
		})
	}
}

func TestOffsetPagerWalksAllPages(t *testing.T) {
	req := newTestRequester(t, offsetServer(t, 5))
	pager := newOffsetPager(req, "core/api/things", 2, nil)

	var items []map[string]interface{}
	var cursors []interface{}
	for {
		page, ok, err := pager.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		items = append(items, page.Items...)
		cursors = append(cursors, page.Next)
	}

	assert.Len(t, items, 5)
	assert.Equal(t, []interface{}{2, 4, nil}, cursors,
		"offsets advance monotonically and the final page carries a nil cursor")
}

func TestOffsetPagerExactMultipleTerminates(t *testing.T) {
	req := newTestRequester(t, offsetServer(t, 4))
	pager := newOffsetPager(req, "core/api/things", 2, nil)

	pages := 0
	for {
		_, ok, err := pager.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		pages++
	}
	assert.Equal(t, 2, pages, "from+size >= totalCount terminates on the boundary")
}

func TestOffsetPagerEmptyUpstream(t *testing.T) {
	req := newTestRequester(t, offsetServer(t, 0))
	pager := newOffsetPager(req, "core/api/things", 2, nil)

	page, ok, err := pager.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, page.Items)
	assert.Nil(t, page.Next)

	_, ok, err = pager.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOffsetPagerResumesFromPersistedMarker(t *testing.T) {
	var seenFrom []string
	req := newTestRequester(t, func(w http.ResponseWriter, r *http.Request) {
		seenFrom = append(seenFrom, r.URL.Query().Get("from"))
		offsetServer(t, 10)(w, r)
	})

	// progress markers read back from the store arrive as float64
	pager := newOffsetPager(req, "core/api/things", 5, float64(5))
	page, ok, err := pager.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, page.Next)
	assert.Equal(t, []string{"5"}, seenFrom)
}

func TestCursorPagerFollowsHeaderUntilAbsent(t *testing.T) {
	var bodies []SearchQuery
	req := newTestRequester(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, contentTypeEMInfra, r.Header.Get("Content-Type"))

		var query SearchQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		bodies = append(bodies, query)

		switch query.FromCursor {
		case "":
			w.Header().Set(pagingCursorHeader, "CURSOR-1")
			fmt.Fprint(w, `{"@graph":[{"uuid":"a"},{"uuid":"b"}]}`)
		case "CURSOR-1":
			fmt.Fprint(w, `{"@graph":[{"uuid":"c"}]}`)
		default:
			t.Fatalf("unexpected cursor %q", query.FromCursor)
		}
	})

	pager := newCursorPager(req, "api/otl/assets/search", 100, nil, nil)

	first, ok, err := pager.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "CURSOR-1", first.Next)
	assert.Len(t, first.Items, 2)

	second, ok, err := pager.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, second.Next, "missing header terminates the iteration")
	assert.Len(t, second.Items, 1)

	_, ok, err = pager.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, bodies, 2)
	assert.Equal(t, 100, bodies[0].Size)
	assert.NotNil(t, bodies[0].Filters)
}

func TestCursorPagerSendsExpansions(t *testing.T) {
	req := newTestRequester(t, func(w http.ResponseWriter, r *http.Request) {
		var query SearchQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		require.NotNil(t, query.Expansions)
		assert.Equal(t, []string{"contactInfo"}, query.Expansions.Fields)
		fmt.Fprint(w, `{"@graph":[]}`)
	})

	pager := newCursorPager(req, "core/api/otl/agents/search", 100, nil, []string{"contactInfo"})
	_, ok, err := pager.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCursorPagerResumesFromPersistedCursor(t *testing.T) {
	req := newTestRequester(t, func(w http.ResponseWriter, r *http.Request) {
		var query SearchQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		assert.Equal(t, "SAVED", query.FromCursor)
		fmt.Fprint(w, `{"@graph":[]}`)
	})

	pager := newCursorPager(req, "api/otl/assets/search", 100, "SAVED", nil)
	_, _, err := pager.Next(context.Background())
	require.NoError(t, err)
}

func TestToOffset(t *testing.T) {
	assert.Equal(t, 0, toOffset(nil))
	assert.Equal(t, 7, toOffset(7))
	assert.Equal(t, 7, toOffset(int64(7)))
	assert.Equal(t, 7, toOffset(float64(7)))
	assert.Equal(t, 7, toOffset(json.Number("7")))
	assert.Equal(t, 0, toOffset("not a number"))
}
