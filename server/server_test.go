package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beststories/go-beststories/apierror"
	"github.com/beststories/go-beststories/internal/test"
	"github.com/beststories/go-beststories/model"
	"github.com/beststories/go-beststories/scache"
	"github.com/beststories/go-beststories/server"
	"github.com/beststories/go-beststories/source"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	items []model.Item
	err   error
	snaps []model.Snapshot
	stats scache.Stats
}

func (s *stubReader) TopItems(context.Context) ([]model.Item, error) {
	return s.items, s.err
}

func (s *stubReader) Snapshots() []model.Snapshot {
	return s.snaps
}

func (s *stubReader) Stats() scache.Stats {
	return s.stats
}

func (s *stubReader) IsValid(snap model.Snapshot) bool {
	return snap.ValidAt(time.Now(), time.Minute)
}

func newTestServer(t *testing.T, r server.Reader, options ...server.Option) *httptest.Server {
	h, err := server.New(r, options...)
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url, accept string) (*http.Response, []byte) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestTopItems(t *testing.T) {
	posted := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &stubReader{
		items: []model.Item{
			{Title: "B", URI: "https://b.example", PostedBy: "bob", Time: &posted, Score: 20, CommentCount: 3},
			{Title: "A", Score: 10},
		},
	}
	ts := newTestServer(t, r)

	resp, body := get(t, ts.URL+"/best20", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var items []model.Item
	require.NoError(t, json.Unmarshal(body, &items))
	require.Equal(t, r.items, items)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	require.Equal(t, "bob", raw[0]["postedBy"])
	require.Equal(t, float64(3), raw[0]["commentCount"])
	require.Equal(t, "2024-03-01T12:00:00Z", raw[0]["time"])
	require.Nil(t, raw[1]["time"])
}

func TestTopItemsNDJson(t *testing.T) {
	r := &stubReader{
		items: []model.Item{{Title: "B", Score: 20}, {Title: "A", Score: 10}},
	}
	ts := newTestServer(t, r)

	resp, body := get(t, ts.URL+"/best20", "application/x-ndjson")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var titles []string
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		var item model.Item
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &item))
		titles = append(titles, item.Title)
	}
	require.Equal(t, []string{"B", "A"}, titles)

	// JSON array wins when both are accepted.
	resp, _ = get(t, ts.URL+"/best20", "application/x-ndjson, application/json")
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	// Empty list elements are ignored.
	resp, _ = get(t, ts.URL+"/best20", "application/json, ")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	resp, _ = get(t, ts.URL+"/best20", ",application/x-ndjson,,")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	resp, body = get(t, ts.URL+"/best20", "text/html")
	require.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	require.Error(t, apierror.DecodeError(body))
}

func TestTopItemsNoSnapshot(t *testing.T) {
	ts := newTestServer(t, &stubReader{err: scache.ErrNoValidSnapshot})

	resp, body := get(t, ts.URL+"/best20", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	err := apierror.DecodeError(body)
	var apierr *apierror.Error
	require.ErrorAs(t, err, &apierr)
	require.Equal(t, http.StatusNotFound, apierr.Status())
	require.Equal(t, scache.ErrNoValidSnapshot.Error(), err.Error())
}

func TestTopItemsInternalError(t *testing.T) {
	ts := newTestServer(t, &stubReader{err: errors.New("boom")})

	resp, body := get(t, ts.URL+"/best20", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.ErrorContains(t, apierror.DecodeError(body), "boom")
}

func TestEmptyItemsIsArray(t *testing.T) {
	ts := newTestServer(t, &stubReader{})

	_, body := get(t, ts.URL+"/best20", "")
	require.Equal(t, "[]", strings.TrimSpace(string(body)))
}

func TestWithRoute(t *testing.T) {
	ts := newTestServer(t, &stubReader{items: []model.Item{{Title: "A"}}}, server.WithRoute("/top"))

	resp, _ := get(t, ts.URL+"/top", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = get(t, ts.URL+"/best20", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err := server.New(&stubReader{}, server.WithRoute("top"))
	require.ErrorContains(t, err, "option 0 failed")
	_, err = server.New(&stubReader{}, server.WithRoute("/metrics"))
	require.ErrorContains(t, err, "conflicts")
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &stubReader{})

	resp, body := get(t, ts.URL+"/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
}

func TestSnapshots(t *testing.T) {
	now := time.Now()
	r := &stubReader{
		snaps: []model.Snapshot{
			{Created: now, Items: make([]model.Item, 2)},
			{Created: now.Add(-2 * time.Minute), Items: make([]model.Item, 2)},
		},
	}
	ts := newTestServer(t, r)

	resp, body := get(t, ts.URL+"/snapshots", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []server.SnapshotSummary
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out, 2)
	require.True(t, out[0].Valid)
	require.Equal(t, 2, out[0].Items)
	require.False(t, out[1].Valid)
	require.True(t, out[0].Created.Equal(now))
}

func TestSnapshotsUseCacheClock(t *testing.T) {
	up := test.NewUpstream(t)
	up.Load(test.RandomStories(2))
	src, err := source.NewHTTPSource(up.ListURL(), up.ItemBaseURL(), source.WithClient(up.Client()))
	require.NoError(t, err)

	var offset atomic.Int64
	clock := func() time.Time {
		return time.Now().Add(time.Duration(offset.Load()))
	}
	c, err := scache.New(
		scache.WithSource(src),
		scache.WithTopN(2),
		scache.WithValidity(time.Minute),
		scache.WithClock(clock))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background()))
	ts := newTestServer(t, c)

	summaries := func() []server.SnapshotSummary {
		resp, body := get(t, ts.URL+"/snapshots", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out []server.SnapshotSummary
		require.NoError(t, json.Unmarshal(body, &out))
		require.Len(t, out, 1)
		return out
	}
	require.True(t, summaries()[0].Valid)

	// Only the cache's clock has moved past the validity window.
	offset.Store(int64(2 * time.Minute))
	require.False(t, summaries()[0].Valid)
	_, err = c.GetTopItems()
	require.ErrorIs(t, err, scache.ErrNoValidSnapshot)
}

func TestMetrics(t *testing.T) {
	r := &stubReader{
		stats: scache.Stats{
			RefreshesStarted:   5,
			RefreshesSucceeded: 3,
			RefreshesFailed:    2,
			ItemErrors:         4,
			ItemTimeouts:       1,
			LastSuccess:        time.Unix(1700000000, 0),
			InFlight:           true,
			LastElapsed:        1500 * time.Millisecond,
			Snapshots:          2,
			Validity:           time.Minute,
		},
	}
	ts := newTestServer(t, r)

	resp, body := get(t, ts.URL+"/metrics", "text/plain")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(strings.NewReader(string(body)))
	require.NoError(t, err)

	value := func(name string) float64 {
		mf, ok := mfs[name]
		require.True(t, ok, name)
		m := mf.GetMetric()[0]
		if m.Counter != nil {
			return m.Counter.GetValue()
		}
		return m.Gauge.GetValue()
	}
	require.Equal(t, float64(5), value("beststories_refreshes_started_total"))
	require.Equal(t, float64(3), value("beststories_refreshes_succeeded_total"))
	require.Equal(t, float64(2), value("beststories_refreshes_failed_total"))
	require.Equal(t, float64(4), value("beststories_item_errors_total"))
	require.Equal(t, float64(1), value("beststories_item_timeouts_total"))
	require.Equal(t, float64(1700000000), value("beststories_last_success_timestamp_seconds"))
	require.Zero(t, value("beststories_last_failure_timestamp_seconds"))
	require.Equal(t, float64(1), value("beststories_refresh_in_flight"))
	require.Equal(t, 1.5, value("beststories_last_refresh_duration_seconds"))
	require.Equal(t, float64(2), value("beststories_snapshots"))
	require.Equal(t, float64(60), value("beststories_validity_seconds"))
}

func TestServeFromCache(t *testing.T) {
	up := test.NewUpstream(t)
	up.SetIDs("a", "b")
	up.SetStory("a", "A", 10)
	up.SetStory("b", "B", 20)

	src, err := source.NewHTTPSource(up.ListURL(), up.ItemBaseURL())
	require.NoError(t, err)
	c, err := scache.New(scache.WithSource(src), scache.WithTopN(2))
	require.NoError(t, err)
	defer c.Close()

	ts := newTestServer(t, c)

	for i := 0; i < 3; i++ {
		resp, body := get(t, ts.URL+"/best20", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var items []model.Item
		require.NoError(t, json.Unmarshal(body, &items))
		require.Len(t, items, 2)
		require.Equal(t, "B", items[0].Title)
	}
	require.Equal(t, int32(1), up.ListCalls.Load())

	up.SetItemStatus("a", http.StatusInternalServerError)
	c2, err := scache.New(scache.WithSource(src), scache.WithTopN(2))
	require.NoError(t, err)
	defer c2.Close()
	ts2 := newTestServer(t, c2)

	resp, _ := get(t, ts2.URL+"/best20", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
