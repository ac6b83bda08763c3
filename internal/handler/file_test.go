package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/locator-kn/ms-fileserve/internal/domain"
)

// serveWithParams calls fn with chi route parameters installed on the
// request context, the way the router would.
func serveWithParams(fn http.HandlerFunc, w http.ResponseWriter, req *http.Request, kv ...string) {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	fn(w, req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx)))
}

func TestServeFile(t *testing.T) {
	store := new(MockStore)
	h := newTestHandler(new(MockIngestor), store, new(MockRepo))

	content := "these are the stored bytes"
	store.On("OpenRead", mock.Anything, "abc-123").
		Return(io.NopCloser(strings.NewReader(content)), int64(len(content)), nil)

	req := httptest.NewRequest("GET", "/file/abc-123/holiday_clip.mp4", nil)
	rr := httptest.NewRecorder()
	serveWithParams(h.ServeFile, rr, req, "fileId", "abc-123", "filename", "holiday_clip.mp4")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "video/mp4", rr.Header().Get("Content-Type"))
	assert.Equal(t, "26", rr.Header().Get("Content-Length"))
	assert.Equal(t, content, rr.Body.String())
}

func TestServeFile_ContentTypes(t *testing.T) {
	cases := map[string]string{
		"a.jpg":  "image/jpeg",
		"a.JPEG": "image/jpeg",
		"a.png":  "image/png",
		"a.3gp":  "video/3gpp",
		"a.mov":  "video/quicktime",
		"a.mp3":  "audio/mpeg",
	}
	for filename, want := range cases {
		store := new(MockStore)
		h := newTestHandler(new(MockIngestor), store, new(MockRepo))
		store.On("OpenRead", mock.Anything, "id-1").
			Return(io.NopCloser(strings.NewReader("x")), int64(1), nil)

		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/file/id-1/"+filename, nil)
		serveWithParams(h.ServeFile, rr, req, "fileId", "id-1", "filename", filename)

		assert.Equal(t, want, rr.Header().Get("Content-Type"), filename)
	}
}

func TestServeFile_NotFound(t *testing.T) {
	store := new(MockStore)
	h := newTestHandler(new(MockIngestor), store, new(MockRepo))
	store.On("OpenRead", mock.Anything, "missing").
		Return(nil, int64(0), domain.ErrNotFound)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/file/missing/a.png", nil)
	serveWithParams(h.ServeFile, rr, req, "fileId", "missing", "filename", "a.png")

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServeFile_BadExtension(t *testing.T) {
	store := new(MockStore)
	h := newTestHandler(new(MockIngestor), store, new(MockRepo))

	for _, filename := range []string{"a.exe", "noext", "trailing."} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/file/id-1/"+filename, nil)
		serveWithParams(h.ServeFile, rr, req, "fileId", "id-1", "filename", filename)
		assert.Equal(t, http.StatusBadRequest, rr.Code, filename)
	}
	store.AssertNotCalled(t, "OpenRead", mock.Anything, mock.Anything)
}

func TestDeleteFile(t *testing.T) {
	store := new(MockStore)
	repo := new(MockRepo)
	h := newTestHandler(new(MockIngestor), store, repo)

	store.On("Stat", mock.Anything, "abc-123").Return(int64(42), nil)
	store.On("Delete", mock.Anything, "abc-123").Return(nil)
	repo.On("Delete", mock.Anything, "abc-123").Return(nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/file/abc-123", nil)
	serveWithParams(h.DeleteFile, rr, req, "fileId", "abc-123")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
	store.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestDeleteFile_NotFound(t *testing.T) {
	store := new(MockStore)
	h := newTestHandler(new(MockIngestor), store, new(MockRepo))
	store.On("Stat", mock.Anything, "missing").Return(int64(0), domain.ErrNotFound)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/file/missing", nil)
	serveWithParams(h.DeleteFile, rr, req, "fileId", "missing")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestDeleteFile_RecordDeleteFailureIsNotFatal(t *testing.T) {
	store := new(MockStore)
	repo := new(MockRepo)
	h := newTestHandler(new(MockIngestor), store, repo)

	store.On("Stat", mock.Anything, "abc-123").Return(int64(42), nil)
	store.On("Delete", mock.Anything, "abc-123").Return(nil)
	repo.On("Delete", mock.Anything, "abc-123").Return(errors.New("db down"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/file/abc-123", nil)
	serveWithParams(h.DeleteFile, rr, req, "fileId", "abc-123")

	assert.Equal(t, http.StatusOK, rr.Code)
}
