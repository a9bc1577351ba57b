package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"freelance-erp/internal/auth"
	"freelance-erp/internal/core"
	"freelance-erp/internal/log"
	"freelance-erp/internal/services"
	"freelance-erp/internal/storage"
)

type dataResponse struct {
	Data      core.Document `json:"data"`
	UpdatedAt *string       `json:"updatedAt"`
}

type savedResponse struct {
	OK        bool   `json:"ok"`
	UpdatedAt string `json:"updatedAt"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(storage.TimestampLayout)
}

func tenantOf(r *http.Request) string {
	tenant, _ := auth.TenantFrom(r.Context())
	return tenant
}

// writeServiceError maps service failures onto responses. Validation
// failures carry their details; anything else is logged and hidden.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		BadRequestError("Invalid data", verr.Details...).Write(w)
		return
	}
	ctx := r.Context()
	if errors.Is(err, context.Canceled) {
		log.FromContext(ctx).DebugContext(ctx, "Request cancelled", log.FieldOperation, op)
		return
	}
	log.NewStructuredLogger(log.FromContext(ctx)).LogError(ctx, "Request failed", err,
		log.ErrorTypeInternal, log.ComponentHTTP, op, log.NewFields().WithTenant(tenantOf(r)))
	InternalServerError().Write(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"ok":  true,
		"now": s.now().UTC().Format(time.RFC3339),
	}).Write(w)
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady pings the database.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	status := http.StatusOK
	if s.docs == nil {
		checks["database"] = "not_configured"
		status = http.StatusServiceUnavailable
	} else if err := s.docs.Ping(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		checks["database"] = "failed"
		status = http.StatusServiceUnavailable
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	NewJSONResponse().Status(status).Body(map[string]any{
		"status": state,
		"checks": checks,
	}).Write(w)
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	doc, updatedAt, err := s.docs.Load(r.Context(), tenantOf(r))
	if err != nil {
		writeServiceError(w, r, log.OpLoad, err)
		return
	}
	resp := dataResponse{Data: doc}
	if updatedAt != nil {
		ts := formatTimestamp(*updatedAt)
		resp.UpdatedAt = &ts
	}
	NewJSONResponse().Body(resp).Write(w)
}

func (s *Server) handlePutData(w http.ResponseWriter, r *http.Request) {
	body, err := ReadBody(r)
	if errors.Is(err, errTooLarge) {
		PayloadTooLargeError().Write(w)
		return
	}
	if err != nil {
		BadRequestError(msgBadDataBody).Write(w)
		return
	}
	raw, err := DecodeDataBody(body)
	if err != nil {
		BadRequestError(msgBadDataBody).Write(w)
		return
	}

	tenant := tenantOf(r)
	updatedAt, err := s.docs.SaveRaw(r.Context(), tenant, raw)
	if err != nil {
		writeServiceError(w, r, log.OpSave, err)
		return
	}
	ts := formatTimestamp(updatedAt)
	log.NewStructuredLogger(log.FromContext(r.Context())).LogDocumentSaved(r.Context(), tenant, ts, len(raw))
	NewJSONResponse().Body(savedResponse{OK: true, UpdatedAt: ts}).Write(w)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	year, err := ParseYear(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	d, err := s.docs.Dashboard(r.Context(), tenantOf(r), year)
	if err != nil {
		writeServiceError(w, r, log.OpLoad, err)
		return
	}
	NewJSONResponse().Body(d).Write(w)
}

func (s *Server) handleExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := ParseYear(q)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	typ, err := ParseOperationType(q)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	summary, err := s.docs.Expenses(r.Context(), tenantOf(r), year, typ)
	if err != nil {
		writeServiceError(w, r, log.OpLoad, err)
		return
	}
	NewJSONResponse().Body(summary).Write(w)
}

func (s *Server) handleLedgerCheck(w http.ResponseWriter, r *http.Request) {
	problems, err := s.docs.CheckLedger(r.Context(), tenantOf(r))
	if err != nil {
		writeServiceError(w, r, log.OpValidate, err)
		return
	}
	if problems == nil {
		problems = []string{}
	}
	NewJSONResponse().Body(map[string]any{
		"ok":       len(problems) == 0,
		"problems": problems,
	}).Write(w)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	env, err := s.docs.Export(r.Context(), tenantOf(r))
	if err != nil {
		writeServiceError(w, r, log.OpExport, err)
		return
	}
	name := "freelance-erp-export-" + s.now().UTC().Format("2006-01-02") + ".json"
	NewJSONResponse().
		Header("Content-Disposition", `attachment; filename="`+name+`"`).
		Body(env).
		Write(w)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	mode, err := ParseImportMode(r.URL.Query())
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	body, err := ReadBody(r)
	if errors.Is(err, errTooLarge) {
		PayloadTooLargeError().Write(w)
		return
	}
	if err != nil {
		BadRequestError("Invalid import file").Write(w)
		return
	}
	env, err := core.ParseEnvelope(body)
	if err != nil {
		BadRequestError("Invalid import file", err.Error()).Write(w)
		return
	}

	tenant := tenantOf(r)
	updatedAt, err := s.docs.Import(r.Context(), tenant, env, mode)
	if err != nil {
		writeServiceError(w, r, log.OpImport, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Document imported",
		log.NewFields().WithTenant(tenant).WithOperation(log.OpImport).ToSlice()...)
	NewJSONResponse().Body(savedResponse{OK: true, UpdatedAt: formatTimestamp(updatedAt)}).Write(w)
}

func (s *Server) handleNextInvoiceNumber(w http.ResponseWriter, r *http.Request) {
	number, err := s.docs.NextInvoiceNumber(r.Context(), tenantOf(r))
	if err != nil {
		writeServiceError(w, r, log.OpLoad, err)
		return
	}
	NewJSONResponse().Body(map[string]string{"number": number}).Write(w)
}
