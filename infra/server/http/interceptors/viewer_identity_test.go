package interceptors

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/livecast/overlay-delivery-service/internal/domain/model"
	"github.com/stretchr/testify/assert"
)

func TestViewerIdentityMiddleware(t *testing.T) {
	var got model.Viewer
	var ok bool
	h := NewViewerIdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = GetViewer(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws?username=query&avatar=a.png", nil)
	req.Header.Set(HeaderViewerName, " alice ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, ok)
	assert.Equal(t, model.Viewer{Username: "alice", ProfilePictureURL: "a.png"}, got)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.False(t, ok, "anonymous watcher")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?username="+strings.Repeat("x", 65), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
