package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("model")

// Field names of the upstream item detail object.
const (
	fieldTitle       = "title"
	fieldURL         = "url"
	fieldBy          = "by"
	fieldTime        = "time"
	fieldScore       = "score"
	fieldDescendants = "descendants"
)

// ErrNotFound is returned by ParseItem when upstream answers with a JSON null,
// which is what it does for an unknown item ID.
var ErrNotFound = errors.New("item not found")

var jsonNull = []byte("null")

// ParseItem decodes an upstream item detail object.
//
// A missing or mistyped field does not fail the item: it is logged and
// replaced with the field's zero value. Only a body that is not a JSON object
// is an error.
func ParseItem(id string, data []byte) (Item, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Item{}, fmt.Errorf("cannot decode item %s: %w", id, err)
	}
	if fields == nil {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	p := itemParser{id: id, fields: fields}
	return Item{
		Title:        p.str(fieldTitle),
		URI:          p.str(fieldURL),
		PostedBy:     p.str(fieldBy),
		Time:         p.epoch(fieldTime),
		Score:        p.int(fieldScore),
		CommentCount: p.int(fieldDescendants),
	}, nil
}

type itemParser struct {
	id     string
	fields map[string]json.RawMessage
}

func (p itemParser) raw(key string) (json.RawMessage, bool) {
	raw, ok := p.fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		log.Warnw("Story does not contain required property", "field", key, "item", p.id)
		return nil, false
	}
	return raw, true
}

func (p itemParser) invalid(key string, err error) {
	log.Warnw("Story property has unexpected type", "field", key, "item", p.id, "err", err)
}

func (p itemParser) str(key string) string {
	raw, ok := p.raw(key)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		p.invalid(key, err)
		return ""
	}
	return s
}

func (p itemParser) int(key string) int {
	raw, ok := p.raw(key)
	if !ok {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		p.invalid(key, err)
		return 0
	}
	return n
}

// epoch decodes a Unix time in seconds. Fractional seconds are kept.
func (p itemParser) epoch(key string) *time.Time {
	raw, ok := p.raw(key)
	if !ok {
		return nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		p.invalid(key, err)
		return nil
	}
	whole, frac := math.Modf(secs)
	t := time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
	return &t
}
