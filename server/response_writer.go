package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/beststories/go-beststories/apierror"
	"github.com/beststories/go-beststories/model"
)

const (
	mediaTypeNDJson = "application/x-ndjson"
	mediaTypeJson   = "application/json"
	mediaTypeAny    = "*/*"
)

// storyResponseWriter writes stories as a JSON array, or as newline delimited
// JSON when the client asks for it.
type storyResponseWriter struct {
	w  http.ResponseWriter
	nd bool
}

func newStoryResponseWriter(w http.ResponseWriter) *storyResponseWriter {
	return &storyResponseWriter{w: w}
}

// Accept selects the response media type from the request's Accept header.
// A request without an Accept header gets a JSON array.
func (s *storyResponseWriter) Accept(r *http.Request) error {
	accepts := r.Header.Values("Accept")
	if len(accepts) == 0 {
		return nil
	}

	var okJson bool
	for _, accept := range accepts {
		for _, amt := range strings.Split(accept, ",") {
			if strings.TrimSpace(amt) == "" {
				continue
			}
			mt, _, err := mime.ParseMediaType(amt)
			if err != nil {
				return apierror.New(errors.New("invalid Accept header"), http.StatusBadRequest)
			}
			switch mt {
			case mediaTypeNDJson:
				s.nd = true
			case mediaTypeJson, mediaTypeAny:
				okJson = true
			}
		}
	}
	if !okJson && !s.nd {
		return apierror.New(fmt.Errorf("media type not supported: %s", accepts), http.StatusNotAcceptable)
	}
	// Prefer a JSON array when both are acceptable.
	if okJson {
		s.nd = false
	}
	return nil
}

func (s *storyResponseWriter) WriteItems(items []model.Item) error {
	if s.nd {
		s.w.Header().Set("Content-Type", mediaTypeNDJson)
		s.w.Header().Set("X-Content-Type-Options", "nosniff")
		enc := json.NewEncoder(s.w)
		for i := range items {
			if err := enc.Encode(&items[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if items == nil {
		items = []model.Item{}
	}
	s.w.Header().Set("Content-Type", mediaTypeJson)
	return json.NewEncoder(s.w).Encode(items)
}
