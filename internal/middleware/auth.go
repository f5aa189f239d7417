package middleware

import (
	"net/http"
	"strings"

	"github.com/landora/backoffice-gate/internal/session"
	"github.com/landora/backoffice-gate/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

// TokenVerifier validates a presented session token. Verification is total,
// a bad token yields ok == false, never an error.
type TokenVerifier interface {
	Verify(token string) (session.Payload, bool)
}

// AuthMiddlewareHandler is the edge enforcement point for the back office:
// every request under the protected prefix must carry a valid session cookie,
// otherwise it gets redirected to the login page. The back office handlers
// re-run the same verification before rendering, so bypassing this middleware
// alone is not enough to reach protected content.
type AuthMiddlewareHandler struct {
	verifier        TokenVerifier
	cookieName      string
	protectedPrefix string
	loginPath       string
}

func NewAuthMiddlewareHandler(
	verifier TokenVerifier,
	cookieName string,
	protectedPrefix string,
	loginPath string,
) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		verifier:        verifier,
		cookieName:      cookieName,
		protectedPrefix: strings.TrimSuffix(protectedPrefix, "/"),
		loginPath:       loginPath,
	}
}

func (h *AuthMiddlewareHandler) pathIsProtected(path string) bool {
	return path == h.protectedPrefix || strings.HasPrefix(path, h.protectedPrefix+"/")
}

func (h *AuthMiddlewareHandler) AuthCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, span := tracing.GlobalTracer.Start(r.Context(), "middleware.auth")
			defer span.End()

			if !h.pathIsProtected(r.URL.Path) {
				span.SetStatus(codes.Ok, "ok")
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(h.cookieName)
			if err != nil {
				log.Tracef("[missing session cookie] [auth middleware] unauthorized => %s", r.URL.Path)
				h.redirectToLogin(w, r)
				span.SetStatus(codes.Error, "missing-session-cookie")
				return
			}

			if _, ok := h.verifier.Verify(cookie.Value); !ok {
				log.Tracef("[invalid session cookie] [auth middleware] unauthorized => %s", r.URL.Path)
				h.redirectToLogin(w, r)
				span.SetStatus(codes.Error, "invalid-session-cookie")
				return
			}

			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r)
		})
	}
}

// redirectToLogin sends the client to the login page, dropping any query string
func (h *AuthMiddlewareHandler) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.loginPath, http.StatusFound)
}
