package storage

import (
	"fmt"
	"time"
)

// Page identifies an article. ProjectID, NamespaceID and the normalized
// Title form its natural key.
type Page struct {
	ID          string
	ProjectID   string
	NamespaceID int16
	Title       string
	Timestamp   time.Time
}

// SaveInfo marks a Page as saved. A Page has at most one.
type SaveInfo struct {
	ID        string
	PageID    string
	SavedDate time.Time
}

// PageView is an append-only record of one article view.
type PageView struct {
	ID                 string
	PageID             string
	Timestamp          time.Time
	NumberOfSeconds    int64
	PreviousPageViewID string
}

// DurationMinutes returns the whole minutes spent on the view.
func (v *PageView) DurationMinutes() int64 {
	return v.NumberOfSeconds / 60
}

// Category is a wiki category attached to page views.
type Category struct {
	ID        string
	ProjectID string
	Title     string
}

// PageViewCategory associates a PageView with a Category.
type PageViewCategory struct {
	ID         string
	PageViewID string
	CategoryID string
}

// PageRef addresses a page by its natural key.
type PageRef struct {
	ProjectID   string
	NamespaceID int16
	Title       string
}

// Normalized returns a copy of r with its title normalized for storage.
func (r PageRef) Normalized() PageRef {
	r.Title = NormalizeTitle(r.Title)
	return r
}

// Key returns the dedup key "projectID::title" of the normalized reference.
func (r PageRef) Key() string {
	return ArticleKey(r.ProjectID, NormalizeTitle(r.Title))
}

// Predicate matches the Page row for r.
func (r PageRef) Predicate() Predicate {
	n := r.Normalized()
	return And(
		Eq("project_id", n.ProjectID),
		Eq("namespace_id", n.NamespaceID),
		Eq("title", n.Title),
	)
}

// Ref returns the natural key of p.
func (p *Page) Ref() PageRef {
	return PageRef{ProjectID: p.ProjectID, NamespaceID: p.NamespaceID, Title: p.Title}
}

// ArticleKey joins a project ID and a title into a dedup key.
func ArticleKey(projectID, title string) string {
	return projectID + "::" + title
}

// Stats holds aggregate statistics about the store.
type Stats struct {
	Pages             int64
	SavedPages        int64
	PageViews         int64
	Categories        int64
	HistoryEntries    int64
	OldestPageView    time.Time
	NewestPageView    time.Time
	DatabaseSizeBytes int64
	TopProjects       []ProjectCount
}

// ProjectCount is a project ID with its page view count.
type ProjectCount struct {
	ProjectID string
	Views     int64
}

// ── entity descriptions ─────────────────────────────────────────────

var (
	pageEntity = &entityDescription{
		name:  "Page",
		table: "pages",
		columns: []column{
			{name: "project_id", kind: kindText},
			{name: "namespace_id", kind: kindInt},
			{name: "title", kind: kindText},
			{name: "timestamp", kind: kindTime},
		},
		naturalKey: []string{"project_id", "namespace_id", "title"},
	}

	saveInfoEntity = &entityDescription{
		name:  "SaveInfo",
		table: "save_infos",
		columns: []column{
			{name: "page_id", kind: kindText, references: "pages"},
			{name: "saved_date", kind: kindTime},
		},
		naturalKey: []string{"page_id"},
	}

	pageViewEntity = &entityDescription{
		name:  "PageView",
		table: "page_views",
		columns: []column{
			{name: "page_id", kind: kindText, references: "pages"},
			{name: "timestamp", kind: kindTime},
			{name: "number_of_seconds", kind: kindInt},
			{name: "previous_page_view_id", kind: kindNullText, references: "page_views"},
		},
	}

	categoryEntity = &entityDescription{
		name:  "Category",
		table: "categories",
		columns: []column{
			{name: "project_id", kind: kindText},
			{name: "title", kind: kindText},
		},
		naturalKey: []string{"project_id", "title"},
	}

	pageViewCategoryEntity = &entityDescription{
		name:  "PageViewCategory",
		table: "page_view_categories",
		columns: []column{
			{name: "page_view_id", kind: kindText, references: "page_views"},
			{name: "category_id", kind: kindText, references: "categories"},
		},
		naturalKey: []string{"page_view_id", "category_id"},
	}
)

func (p *Page) ObjectID() string           { return p.ID }
func (p *Page) setObjectID(id string)      { p.ID = id }
func (p *Page) entity() *entityDescription { return pageEntity }

func (s *SaveInfo) ObjectID() string           { return s.ID }
func (s *SaveInfo) setObjectID(id string)      { s.ID = id }
func (s *SaveInfo) entity() *entityDescription { return saveInfoEntity }

func (v *PageView) ObjectID() string           { return v.ID }
func (v *PageView) setObjectID(id string)      { v.ID = id }
func (v *PageView) entity() *entityDescription { return pageViewEntity }

func (c *Category) ObjectID() string           { return c.ID }
func (c *Category) setObjectID(id string)      { c.ID = id }
func (c *Category) entity() *entityDescription { return categoryEntity }

func (a *PageViewCategory) ObjectID() string           { return a.ID }
func (a *PageViewCategory) setObjectID(id string)      { a.ID = id }
func (a *PageViewCategory) entity() *entityDescription { return pageViewCategoryEntity }

func (p *Page) columnValues() []any {
	return []any{p.ProjectID, int64(p.NamespaceID), p.Title, p.Timestamp}
}

func (p *Page) setColumnValues(v []any) error {
	if err := checkArity(pageEntity, v); err != nil {
		return err
	}
	p.ProjectID = v[0].(string)
	p.NamespaceID = int16(v[1].(int64))
	p.Title = v[2].(string)
	p.Timestamp = v[3].(time.Time)
	return nil
}

func (s *SaveInfo) columnValues() []any {
	return []any{s.PageID, s.SavedDate}
}

func (s *SaveInfo) setColumnValues(v []any) error {
	if err := checkArity(saveInfoEntity, v); err != nil {
		return err
	}
	s.PageID = v[0].(string)
	s.SavedDate = v[1].(time.Time)
	return nil
}

func (v *PageView) columnValues() []any {
	return []any{v.PageID, v.Timestamp, v.NumberOfSeconds, v.PreviousPageViewID}
}

func (v *PageView) setColumnValues(vals []any) error {
	if err := checkArity(pageViewEntity, vals); err != nil {
		return err
	}
	v.PageID = vals[0].(string)
	v.Timestamp = vals[1].(time.Time)
	v.NumberOfSeconds = vals[2].(int64)
	v.PreviousPageViewID = vals[3].(string)
	return nil
}

func (c *Category) columnValues() []any {
	return []any{c.ProjectID, c.Title}
}

func (c *Category) setColumnValues(v []any) error {
	if err := checkArity(categoryEntity, v); err != nil {
		return err
	}
	c.ProjectID = v[0].(string)
	c.Title = v[1].(string)
	return nil
}

func (a *PageViewCategory) columnValues() []any {
	return []any{a.PageViewID, a.CategoryID}
}

func (a *PageViewCategory) setColumnValues(v []any) error {
	if err := checkArity(pageViewCategoryEntity, v); err != nil {
		return err
	}
	a.PageViewID = v[0].(string)
	a.CategoryID = v[1].(string)
	return nil
}

func checkArity(d *entityDescription, v []any) error {
	if len(v) != len(d.columns) {
		return fmt.Errorf("%s: expected %d values, got %d", d.name, len(d.columns), len(v))
	}
	return nil
}
