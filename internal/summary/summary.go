// Package summary fetches article summaries from the page summary REST
// endpoint. Its only consumer is thumbnail enrichment of saved articles.
package summary

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrNoThumbnail marks a summary that has no thumbnail image.
	ErrNoThumbnail = errors.New("summary: article has no thumbnail")

	// ErrNotFound is returned when the article does not exist.
	ErrNotFound = errors.New("summary: article not found")

	// ErrUnknownProject is returned for project IDs that map to no host.
	ErrUnknownProject = errors.New("summary: unknown project")
)

// ArticleSummary is the subset of a page summary used by the core.
type ArticleSummary struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Description  string `json:"description,omitempty"`
	Extract      string `json:"extract,omitempty"`
}

// Fetcher fetches an article summary for a project and title.
type Fetcher interface {
	FetchArticleSummary(ctx context.Context, projectID, title string) (*ArticleSummary, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, projectID, title string) (*ArticleSummary, error)

// FetchArticleSummary calls f.
func (f FetcherFunc) FetchArticleSummary(ctx context.Context, projectID, title string) (*ArticleSummary, error) {
	return f(ctx, projectID, title)
}

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("summary: %s returned status %d", e.URL, e.Code)
}

// ProjectHost maps a project ID such as "wikipedia~en" to its host name.
func ProjectHost(projectID string) (string, error) {
	family, lang, _ := strings.Cut(projectID, "~")
	switch family {
	case "commons":
		return "commons.wikimedia.org", nil
	case "wikidata":
		return "www.wikidata.org", nil
	case "wikipedia", "wiktionary", "wikibooks", "wikiquote", "wikisource", "wikinews", "wikiversity", "wikivoyage":
		if lang == "" {
			return "", fmt.Errorf("%w: %q", ErrUnknownProject, projectID)
		}
		return lang + "." + family + ".org", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProject, projectID)
}

// ArticleURL returns the canonical article URL of title on projectID.
func ArticleURL(projectID, title string) (string, error) {
	host, err := ProjectHost(projectID)
	if err != nil {
		return "", err
	}
	return "https://" + host + "/wiki/" + url.PathEscape(strings.ReplaceAll(title, " ", "_")), nil
}
