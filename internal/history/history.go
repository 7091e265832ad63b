// Package history groups view records into day sections. It never
// queries the store itself: records come from an injected provider and
// writes go through injected actions.
package history

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Record is one history entry as supplied by a RecordsProvider.
type Record struct {
	ID                   string    `json:"id"`
	ProjectID            string    `json:"project_id"`
	NamespaceID          int16     `json:"namespace_id"`
	Title                string    `json:"title"`
	DescriptionOrSnippet string    `json:"description_or_snippet,omitempty"`
	ShortDescription     string    `json:"short_description,omitempty"`
	ArticleURL           string    `json:"article_url,omitempty"`
	ImageURL             string    `json:"image_url,omitempty"`
	ViewedDate           time.Time `json:"viewed_date"`
	IsSaved              bool      `json:"is_saved"`
	Snippet              string    `json:"snippet,omitempty"`
	Variant              string    `json:"variant,omitempty"`
}

// Item is a record inside a section. Its saved state may be toggled
// concurrently; the embedded IsSaved is guarded by the item's lock, so
// read it through Saved.
type Item struct {
	Record

	mu sync.RWMutex
}

func newItem(r Record) *Item {
	return &Item{Record: r}
}

// Saved reports the item's current saved state.
func (i *Item) Saved() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.IsSaved
}

// SetSaved updates the item's saved state.
func (i *Item) SetSaved(saved bool) {
	i.mu.Lock()
	i.IsSaved = saved
	i.mu.Unlock()
}

// MarshalJSON encodes the record with the item's current saved state.
func (i *Item) MarshalJSON() ([]byte, error) {
	i.mu.RLock()
	r := i.Record
	i.mu.RUnlock()
	return json.Marshal(r)
}

// Section holds the items viewed on one calendar day.
type Section struct {
	ID              string    `json:"id"`
	DateWithoutTime time.Time `json:"date"`
	Items           []*Item   `json:"items"`
}

// RecordsProvider returns history records.
type RecordsProvider func(ctx context.Context) ([]Record, error)

// Action is a side-effecting operation on one item.
type Action func(ctx context.Context, item *Item) error

// Controller builds history sections. Calls are serialized.
type Controller struct {
	mu       sync.Mutex
	provider RecordsProvider
	location *time.Location

	deleteAction Action
	saveAction   Action
	unsaveAction Action
}

// Option configures a Controller.
type Option func(*Controller)

// WithLocation sets the time zone that defines day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) {
		if loc != nil {
			c.location = loc
		}
	}
}

// NewController creates a history controller over provider.
func NewController(provider RecordsProvider, opts ...Option) *Controller {
	c := &Controller{provider: provider, location: time.Local}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetActions installs the delete, save and unsave actions. Nil actions
// turn the matching operation into a no-op.
func (c *Controller) SetActions(deleteAction, saveAction, unsaveAction Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteAction = deleteAction
	c.saveAction = saveAction
	c.unsaveAction = unsaveAction
}

// FetchHistorySections groups records by start of day, newest day first.
// Items keep the provider's order within a day.
func (c *Controller) FetchHistorySections(ctx context.Context) ([]Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.provider(ctx)
	if err != nil {
		return nil, err
	}
	return groupByDay(records, c.location), nil
}

func groupByDay(records []Record, loc *time.Location) []Section {
	sections := []Section{}
	index := make(map[time.Time]int)
	for _, r := range records {
		day := StartOfDay(r.ViewedDate, loc)
		i, ok := index[day]
		if !ok {
			i = len(sections)
			index[day] = i
			sections = append(sections, Section{
				ID:              day.Format("2006-01-02"),
				DateWithoutTime: day,
			})
		}
		sections[i].Items = append(sections[i].Items, newItem(r))
	}
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].DateWithoutTime.After(sections[j].DateWithoutTime)
	})
	return sections
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DeleteHistoryItem runs the delete action for item.
func (c *Controller) DeleteHistoryItem(ctx context.Context, item *Item) error {
	return c.run(ctx, item, func() Action { return c.deleteAction })
}

// SaveHistoryItem runs the save action and marks item saved.
func (c *Controller) SaveHistoryItem(ctx context.Context, item *Item) error {
	if err := c.run(ctx, item, func() Action { return c.saveAction }); err != nil {
		return err
	}
	item.SetSaved(true)
	return nil
}

// UnsaveHistoryItem runs the unsave action and marks item unsaved.
func (c *Controller) UnsaveHistoryItem(ctx context.Context, item *Item) error {
	if err := c.run(ctx, item, func() Action { return c.unsaveAction }); err != nil {
		return err
	}
	item.SetSaved(false)
	return nil
}

func (c *Controller) run(ctx context.Context, item *Item, pick func() Action) error {
	c.mu.Lock()
	action := pick()
	c.mu.Unlock()
	if action == nil {
		return nil
	}
	return action(ctx, item)
}
