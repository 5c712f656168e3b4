package model

import "time"

// Item is one story in a ranked list.
type Item struct {
	// Title is the story headline. Empty if upstream did not supply one.
	Title string `json:"title"`
	// URI is the story's target link. Empty for text posts.
	URI string `json:"uri"`
	// PostedBy is the author's handle.
	PostedBy string `json:"postedBy"`
	// Time is when the story was posted, or nil if unknown.
	Time *time.Time `json:"time"`
	// Score is the popularity score the list is ranked by.
	Score int `json:"score"`
	// CommentCount is the total number of comments on the story.
	CommentCount int `json:"commentCount"`
}

// Snapshot is the complete, ranked result of one successful refresh. Its
// Items must not be modified once the snapshot is published.
type Snapshot struct {
	// Created is the start time of the refresh that produced the snapshot.
	Created time.Time
	Items   []Item
}

// Clone returns a copy of the snapshot that shares no memory with it.
func (s Snapshot) Clone() Snapshot {
	s.Items = CloneItems(s.Items)
	return s
}

// Age returns how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Created)
}

// ValidAt reports whether the snapshot may still be served at now.
func (s Snapshot) ValidAt(now time.Time, validity time.Duration) bool {
	if s.Created.IsZero() {
		return false
	}
	return s.Age(now) < validity
}

// Clone returns a copy of the item that shares no memory with it.
func (it Item) Clone() Item {
	if it.Time != nil {
		t := *it.Time
		it.Time = &t
	}
	return it
}

// CloneItems returns a deep copy of items.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}
