package summary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectHost(t *testing.T) {
	tests := []struct {
		project string
		want    string
		wantErr bool
	}{
		{"wikipedia~en", "en.wikipedia.org", false},
		{"wiktionary~de", "de.wiktionary.org", false},
		{"commons", "commons.wikimedia.org", false},
		{"wikidata", "www.wikidata.org", false},
		{"wikipedia", "", true},
		{"myspace~en", "", true},
	}
	for _, tt := range tests {
		got, err := ProjectHost(tt.project)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnknownProject, tt.project)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestArticleURL(t *testing.T) {
	u, err := ArticleURL("wikipedia~en", "Go (programming language)")
	require.NoError(t, err)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go_%28programming_language%29", u)

	_, err = ArticleURL("myspace~en", "Go")
	assert.ErrorIs(t, err, ErrUnknownProject)
}

func TestFetchArticleSummary(t *testing.T) {
	var gotPath, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"title": "Go (programming language)",
			"description": "Programming language",
			"extract": "Go is a statically typed language.",
			"thumbnail": {"source": "https://upload.example/go.png", "width": 320, "height": 200}
		}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithUserAgent("test-agent"))
	s, err := c.FetchArticleSummary(context.Background(), "wikipedia~en", "Go (programming language)")
	require.NoError(t, err)
	assert.Equal(t, "/api/rest_v1/page/summary/Go_%28programming_language%29", gotPath)
	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "https://upload.example/go.png", s.ThumbnailURL)
	assert.Equal(t, "Programming language", s.Description)
}

func TestFetchArticleSummary_NoThumbnail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title": "Stub", "extract": "short"}`))
	}))
	defer srv.Close()

	s, err := NewClient(WithBaseURL(srv.URL)).FetchArticleSummary(context.Background(), "wikipedia~en", "Stub")
	assert.ErrorIs(t, err, ErrNoThumbnail)
	require.NotNil(t, s)
	assert.Equal(t, "short", s.Extract)
}

func TestFetchArticleSummary_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/rest_v1/page/summary/Missing":
			http.NotFound(w, r)
		case "/api/rest_v1/page/summary/Broken":
			_, _ = w.Write([]byte(`{not json`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	c := NewClient(WithBaseURL(srv.URL))
	ctx := context.Background()

	_, err := c.FetchArticleSummary(ctx, "wikipedia~en", "Missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.FetchArticleSummary(ctx, "wikipedia~en", "Broken")
	assert.Error(t, err)

	_, err = c.FetchArticleSummary(ctx, "wikipedia~en", "Down")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)

	_, err = NewClient().FetchArticleSummary(ctx, "nowhere", "X")
	assert.ErrorIs(t, err, ErrUnknownProject)
}
