package model

import (
	"fmt"
	"time"
)

// Category is a generation kind counted against quota.
type Category string

// Generation categories.
const (
	CategoryText   Category = "text"
	CategoryImage  Category = "image"
	CategorySpeech Category = "speech"
)

// Categories lists every category in a stable order.
var Categories = []Category{CategoryText, CategoryImage, CategorySpeech}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryText, CategoryImage, CategorySpeech:
		return true
	}
	return false
}

// UsageEntry counts uses of one category. Count restarts at the first
// use of each UTC day, so LastUsed tells which day Count belongs to.
type UsageEntry struct {
	Count    int64      `json:"count"`
	LastUsed *time.Time `json:"lastUsed"`
}

// Usage holds the per-category counters of an account.
type Usage struct {
	Text   UsageEntry `json:"text"`
	Image  UsageEntry `json:"image"`
	Speech UsageEntry `json:"speech"`
}

// Entry returns a pointer to the counter for c.
func (u *Usage) Entry(c Category) (*UsageEntry, error) {
	switch c {
	case CategoryText:
		return &u.Text, nil
	case CategoryImage:
		return &u.Image, nil
	case CategorySpeech:
		return &u.Speech, nil
	}
	return nil, fmt.Errorf("unknown usage category %q", c)
}

func (u Usage) clone() Usage {
	u.Text.LastUsed = cloneTime(u.Text.LastUsed)
	u.Image.LastUsed = cloneTime(u.Image.LastUsed)
	u.Speech.LastUsed = cloneTime(u.Speech.LastUsed)
	return u
}

// PeriodUsage counts uses of all categories in the calendar month
// starting at PeriodStart.
type PeriodUsage struct {
	Count       int64      `json:"count"`
	PeriodStart *time.Time `json:"periodStart"`
}
