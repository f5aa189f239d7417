package backoffice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/landora/backoffice-gate/internal/auth"
	"github.com/landora/backoffice-gate/internal/middleware"
	"github.com/landora/backoffice-gate/internal/telemetry/tracing"
	"github.com/landora/backoffice-gate/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

// auditTrailPeriod limits how far back the audit endpoint looks
const auditTrailPeriod = 24 * time.Hour

// AuditTrail reads back recorded login attempts.
type AuditTrail interface {
	List(ctx context.Context, since time.Time) ([]auth.LoginAttempt, error)
}

// Handler serves the protected back office entry points. On top of the edge
// middleware, every handler re-verifies the session cookie itself, so a
// misconfigured or bypassed middleware layer alone never exposes content.
type Handler struct {
	verifier    middleware.TokenVerifier
	audit       AuditTrail
	cookieName  string
	loginPath   string
	versionInfo string
	startedAt   time.Time
}

func NewHandler(
	verifier middleware.TokenVerifier,
	audit AuditTrail,
	cookieName string,
	loginPath string,
	versionInfo string,
) *Handler {
	return &Handler{
		verifier:    verifier,
		audit:       audit,
		cookieName:  cookieName,
		loginPath:   loginPath,
		versionInfo: versionInfo,
		startedAt:   time.Now(),
	}
}

func (handler *Handler) SetupRoutes(mainRouter *mux.Router) {
	mainRouter.HandleFunc("/admin/dashboard", handler.handleDashboard).
		Methods("GET", "OPTIONS").Name("admin-dashboard")
	mainRouter.HandleFunc("/admin/session", handler.handleSessionInfo).
		Methods("GET", "OPTIONS").Name("admin-session-info")
	mainRouter.HandleFunc("/admin/audit", handler.handleAuditTrail).
		Methods("GET", "OPTIONS").Name("admin-audit-trail")
}

// checkSession is the page level enforcement, it runs the same verification
// as the edge middleware and redirects to the login page on any failure
func (handler *Handler) checkSession(w http.ResponseWriter, r *http.Request) bool {
	cookie, err := r.Cookie(handler.cookieName)
	if err != nil {
		log.Tracef("[missing session cookie] [back office] unauthorized => %s", r.URL.Path)
		http.Redirect(w, r, handler.loginPath, http.StatusFound)
		return false
	}

	if _, ok := handler.verifier.Verify(cookie.Value); !ok {
		log.Tracef("[invalid session cookie] [back office] unauthorized => %s", r.URL.Path)
		http.Redirect(w, r, handler.loginPath, http.StatusFound)
		return false
	}

	return true
}

func (handler *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "backofficeHandler.dashboard")
	defer span.End()

	if !handler.checkSession(w, r) {
		span.SetStatus(codes.Error, "not-logged")
		return
	}

	uptime := time.Since(handler.startedAt).Round(time.Second)
	span.SetStatus(codes.Ok, "ok")
	pkg.WriteJSONResponseOK(w, fmt.Sprintf(
		`{"status":"ok","uptime":"%s","version":"%s"}`,
		uptime, handler.versionInfo,
	))
}

func (handler *Handler) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "backofficeHandler.sessionInfo")
	defer span.End()

	cookie, err := r.Cookie(handler.cookieName)
	if err != nil {
		http.Redirect(w, r, handler.loginPath, http.StatusFound)
		span.SetStatus(codes.Error, "missing-session-cookie")
		return
	}

	payload, ok := handler.verifier.Verify(cookie.Value)
	if !ok {
		http.Redirect(w, r, handler.loginPath, http.StatusFound)
		span.SetStatus(codes.Error, "invalid-session-cookie")
		return
	}

	span.SetStatus(codes.Ok, "ok")
	pkg.WriteJSONResponseOK(w, fmt.Sprintf(
		`{"issuedAt":%d,"expiresAt":%d}`,
		payload.IssuedAt, payload.ExpiresAt,
	))
}

// handleAuditTrail lists the login attempts recorded over the last day
func (handler *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "backofficeHandler.auditTrail")
	defer span.End()

	if !handler.checkSession(w, r) {
		span.SetStatus(codes.Error, "not-logged")
		return
	}

	if handler.audit == nil {
		span.SetStatus(codes.Error, "audit-disabled")
		http.Error(w, "audit trail disabled", http.StatusNotFound)
		return
	}

	since := time.Now().Add(-auditTrailPeriod)
	attempts, err := handler.audit.List(ctx, since)
	if err != nil {
		log.Errorf("back office, list login attempts: %s", err)
		span.SetStatus(codes.Error, "list-failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if attempts == nil {
		attempts = []auth.LoginAttempt{}
	}

	attemptsJson, err := json.Marshal(attempts)
	if err != nil {
		log.Errorf("back office, marshal login attempts: %s", err)
		span.SetStatus(codes.Error, "marshal-failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	span.SetStatus(codes.Ok, "ok")
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, attemptsJson)
}
