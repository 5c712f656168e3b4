package test

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	listPath = "/v0/beststories.json"
	itemPath = "/v0/item/"
)

var globalSeed atomic.Int64

// Upstream is a fake story API: a list endpoint returning ranked IDs, and an
// item endpoint returning one JSON object per ID.
type Upstream struct {
	srv *httptest.Server

	mu         sync.Mutex
	ids        []string
	items      map[string]string
	itemStatus map[string]int
	itemDelay  map[string]time.Duration
	listStatus int
	listDelay  time.Duration

	ListCalls atomic.Int32
	ItemCalls atomic.Int32
}

// NewUpstream starts a fake upstream that is closed when the test ends.
func NewUpstream(t testing.TB) *Upstream {
	u := &Upstream{
		items:      make(map[string]string),
		itemStatus: make(map[string]int),
		itemDelay:  make(map[string]time.Duration),
		listStatus: http.StatusOK,
	}
	u.srv = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *Upstream) ListURL() string {
	return u.srv.URL + listPath
}

func (u *Upstream) ItemBaseURL() string {
	return u.srv.URL + itemPath
}

func (u *Upstream) Client() *http.Client {
	return u.srv.Client()
}

// SetIDs sets the ranked ID list.
func (u *Upstream) SetIDs(ids ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ids = append([]string(nil), ids...)
}

// SetItem sets the raw JSON body returned for id.
func (u *Upstream) SetItem(id, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.items[id] = body
}

// SetStory sets a story body built from title and score.
func (u *Upstream) SetStory(id, title string, score int) {
	b, err := json.Marshal(map[string]any{
		"id":    id,
		"title": title,
		"score": score,
		"type":  "story",
	})
	if err != nil {
		panic(err)
	}
	u.SetItem(id, string(b))
}

// SetItemStatus makes the item endpoint answer id with status. Zero restores
// the normal response.
func (u *Upstream) SetItemStatus(id string, status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if status == 0 {
		delete(u.itemStatus, id)
		return
	}
	u.itemStatus[id] = status
}

// SetItemDelay delays the response for id.
func (u *Upstream) SetItemDelay(id string, d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.itemDelay[id] = d
}

// SetListStatus sets the status returned by the list endpoint.
func (u *Upstream) SetListStatus(status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.listStatus = status
}

// SetListDelay delays every list response.
func (u *Upstream) SetListDelay(d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.listDelay = d
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == listPath:
		u.ListCalls.Add(1)
		u.mu.Lock()
		status, delay := u.listStatus, u.listDelay
		body, err := json.Marshal(u.ids)
		u.mu.Unlock()
		if err != nil {
			panic(err)
		}
		if !sleep(r, delay) {
			return
		}
		if status != http.StatusOK {
			http.Error(w, "list unavailable", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)

	case strings.HasPrefix(r.URL.Path, itemPath) && strings.HasSuffix(r.URL.Path, ".json"):
		u.ItemCalls.Add(1)
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, itemPath), ".json")
		u.mu.Lock()
		body, ok := u.items[id]
		status, failed := u.itemStatus[id]
		delay := u.itemDelay[id]
		u.mu.Unlock()
		if !sleep(r, delay) {
			return
		}
		if failed {
			http.Error(w, "item unavailable", status)
			return
		}
		if !ok {
			body = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))

	default:
		http.NotFound(w, r)
	}
}

// sleep waits for d unless the request goes away first.
func sleep(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

// RandomStories returns n story IDs with random, distinct scores, and the
// JSON body for each.
func RandomStories(n int) ([]string, map[string]string) {
	rng := rand.New(rand.NewSource(globalSeed.Add(1)))
	scores := rng.Perm(n * 10)
	ids := make([]string, n)
	bodies := make(map[string]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%d", 30000000+rng.Intn(1000000)*100+i)
		ids[i] = id
		bodies[id] = fmt.Sprintf(
			`{"by":"user%d","descendants":%d,"id":%s,"score":%d,"time":%d,"title":"Story %d","type":"story","url":"https://example.com/%d"}`,
			rng.Intn(1000), rng.Intn(500), id, scores[i], 1700000000+rng.Intn(86400), i, i)
	}
	return ids, bodies
}

// Load sets ids and bodies on the upstream.
func (u *Upstream) Load(ids []string, bodies map[string]string) {
	u.SetIDs(ids...)
	for id, body := range bodies {
		u.SetItem(id, body)
	}
}
