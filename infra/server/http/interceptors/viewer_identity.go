package interceptors

import (
	"context"
	"net/http"
	"strings"

	"github.com/livecast/overlay-delivery-service/internal/domain/model"
)

type contextKey string

const (
	// ViewerContextKey is the key used to store/retrieve the viewer identity from context
	ViewerContextKey contextKey = "viewer_identity"

	HeaderViewerName   = "X-Viewer-Name"
	HeaderViewerAvatar = "X-Viewer-Avatar"

	maxUsernameLen = 64
)

// NewViewerIdentityMiddleware resolves the display identity supplied by the
// upstream authentication layer. Browsers cannot set headers on a WebSocket
// handshake, so the query parameters username and avatar are accepted too.
// A request without identity proceeds as an anonymous watcher.
func NewViewerIdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()

			name := firstNonEmpty(r.Header.Get(HeaderViewerName), q.Get("username"))
			if len(name) > maxUsernameLen {
				http.Error(w, "username too long", http.StatusBadRequest)
				return
			}

			viewer := model.Viewer{
				Username:          name,
				ProfilePictureURL: firstNonEmpty(r.Header.Get(HeaderViewerAvatar), q.Get("avatar")),
			}

			// [ENRICHMENT] Inject the identity into the context for downstream handlers
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ViewerContextKey, viewer)))
		})
	}
}

// GetViewer is a helper to extract the identity from context safely.
func GetViewer(ctx context.Context) (model.Viewer, bool) {
	v, ok := ctx.Value(ViewerContextKey).(model.Viewer)
	return v, ok && v.Username != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
