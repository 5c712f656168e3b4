package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/beststories/go-beststories/apierror"
	"github.com/beststories/go-beststories/model"
	"github.com/hashicorp/go-retryablehttp"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("source")

// Source supplies the ranked story list and the details of each story.
type Source interface {
	// FetchIDs gets the story identifiers in rank order.
	FetchIDs(context.Context) ([]string, error)
	// FetchItem gets the details of one story.
	FetchItem(context.Context, string) (model.Item, error)
	// String returns a description of the source.
	String() string
}

type httpSource struct {
	listURL  string
	itemBase string
	client   *http.Client
	header   http.Header
}

// NewHTTPSource creates a Source that reads the story list from listURL and
// each story from itemBaseURL + id + ".json".
func NewHTTPSource(listURL, itemBaseURL string, options ...Option) (Source, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	for _, u := range []string{listURL, itemBaseURL} {
		if err = checkURL(u); err != nil {
			return nil, err
		}
	}

	client := opts.httpClient
	if opts.retryMax != 0 {
		rclient := &retryablehttp.Client{
			HTTPClient:   client,
			RetryWaitMin: opts.retryWaitMin,
			RetryWaitMax: opts.retryWaitMax,
			RetryMax:     opts.retryMax,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Backoff:      retryablehttp.DefaultBackoff,
		}
		client = rclient.StandardClient()
	}

	return &httpSource{
		listURL:  listURL,
		itemBase: itemBaseURL,
		client:   client,
		header:   opts.header,
	}, nil
}

func checkURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must have http or https scheme: %s", s)
	}
	return nil
}

func (s *httpSource) FetchIDs(ctx context.Context) ([]string, error) {
	body, err := s.get(ctx, s.listURL)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw []any
	if err = dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("cannot decode story list: %w", err)
	}

	ids := make([]string, len(raw))
	for i, v := range raw {
		switch id := v.(type) {
		case json.Number:
			ids[i] = id.String()
		case string:
			ids[i] = id
		default:
			return nil, fmt.Errorf("story list entry %d has unsupported type %T", i, v)
		}
	}
	return ids, nil
}

func (s *httpSource) FetchItem(ctx context.Context, id string) (model.Item, error) {
	body, err := s.get(ctx, s.itemBase+url.PathEscape(id)+".json")
	if err != nil {
		return model.Item{}, err
	}
	return model.ParseItem(id, body)
}

func (s *httpSource) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for key, vals := range s.header {
		for _, val := range vals {
			req.Header.Add(key, val)
		}
	}
	req.Header.Add("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		log.Debugw("Upstream request failed", "url", u, "status", resp.StatusCode)
		return nil, apierror.FromResponse(resp.StatusCode, body)
	}
	return body, nil
}

func (s *httpSource) String() string {
	return s.listURL
}
