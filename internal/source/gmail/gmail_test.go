package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
)

const messagesPath = "/gmail/v1/users/me/messages"

func newTestFetcher(t *testing.T, handler http.HandlerFunc, fullBody bool) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f, err := New(context.Background(), srv.Client(), time.UTC, fullBody, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return f
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func apiError(code int) map[string]any {
	return map[string]any{"error": map[string]any{"code": code, "message": http.StatusText(code)}}
}

func enc(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestSearch_PassesQueryAndLimit(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, messagesPath, r.URL.Path)
		assert.Equal(t, "is:unread from:boss", r.URL.Query().Get("q"))
		assert.Equal(t, "10", r.URL.Query().Get("maxResults"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"messages": []map[string]string{{"id": "A", "threadId": "tA"}, {"id": "B", "threadId": "tB"}},
		})
	}, false)

	ids, err := f.Search(context.Background(), "is:unread from:boss", source.SearchLimit)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)
}

func TestSearch_NoMessages(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"resultSizeEstimate": 0})
	}, false)

	ids, err := f.Search(context.Background(), "is:unread", source.SearchLimit)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSearch_ErrorIsSearchError(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, apiError(http.StatusBadRequest))
	}, false)

	_, err := f.Search(context.Background(), "bad:query", source.SearchLimit)
	require.Error(t, err)
	assert.True(t, source.IsSearchError(err))
}

func TestFetch_BuildsSummary(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, messagesPath+"/A", r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("format"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"id":       "A",
			"threadId": "thread-1",
			"snippet":  "snip",
			"payload": map[string]any{
				"mimeType": "multipart/alternative",
				"headers": []map[string]string{
					{"name": "subject", "value": "Quarterly report"},
					{"name": "FROM", "value": "Boss <boss@example.com>"},
					{"name": "Date", "value": "Tue, 15 Jan 2024 15:30:00 +0000"},
				},
				"parts": []map[string]any{
					{"mimeType": "text/html", "body": map[string]string{"data": enc("<p>html</p>")}},
					{"mimeType": "text/plain", "body": map[string]string{"data": enc("plain text")}},
				},
			},
		})
	}, false)

	got, err := f.Fetch(context.Background(), "A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A", got.ID)
	assert.Equal(t, "thread-1", got.ThreadID)
	assert.Equal(t, "Quarterly report", got.Subject)
	assert.Equal(t, "Boss <boss@example.com>", got.Sender)
	assert.Equal(t, "2024-01-15 15:30:00 UTC", got.Date)
	assert.Equal(t, "plain text", got.Body)
	assert.Equal(t, "snip", got.Snippet)
	assert.Equal(t, LinkPrefix+"thread-1", got.Link)
}

func TestFetch_MissingHeadersUseFallbacks(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"id":       "A",
			"threadId": "t",
			"snippet":  "only the snippet",
			"payload":  map[string]any{"mimeType": "multipart/mixed"},
		})
	}, false)

	got, err := f.Fetch(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, model.NoSubject, got.Subject)
	assert.Equal(t, model.UnknownSender, got.Sender)
	assert.Equal(t, model.UnknownDate, got.Date)
	assert.Equal(t, "only the snippet", got.Body)
}

func TestFetch_TruncatesUnlessFullBody(t *testing.T) {
	long := strings.Repeat("x", 300)
	handler := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"id":      "A",
			"payload": map[string]any{"mimeType": "text/plain", "body": map[string]string{"data": enc(long)}},
		})
	}

	got, err := newTestFetcher(t, handler, false).Fetch(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 200)+"...", got.Body)
	assert.Empty(t, got.Link)

	got, err = newTestFetcher(t, handler, true).Fetch(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, long, got.Body)
}

func TestFetch_NotFoundAndForbiddenAreSkipped(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusForbidden} {
		f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, code, apiError(code))
		}, false)

		got, err := f.Fetch(context.Background(), "gone")
		assert.NoError(t, err, "status %d", code)
		assert.Nil(t, got, "status %d", code)
	}
}

func TestFetch_OtherErrorsAreFetchErrors(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, apiError(http.StatusBadRequest))
	}, false)

	got, err := f.Fetch(context.Background(), "A")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, source.IsFetchError(err))
}
