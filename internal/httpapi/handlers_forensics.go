package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jackdawsentry/sentry-core/internal/compliance"
	"github.com/jackdawsentry/sentry-core/internal/domain"
	"github.com/jackdawsentry/sentry-core/internal/platform/httputil"
	"github.com/jackdawsentry/sentry-core/internal/platform/middleware"
	"github.com/jackdawsentry/sentry-core/internal/reports"
)

// requireUUID rejects a path param that isn't a well-formed UUID before it
// reaches the case store or evidence vault. Case and evidence IDs are always
// uuid.NewString() output, so a malformed ID can only be a client mistake or
// a probe, not a conflict that needs a database round trip to detect.
func requireUUID(w http.ResponseWriter, id string) bool {
	if !middleware.IsValidUUID(id) {
		httputil.BadRequest(w, "id must be a valid UUID")
		return false
	}
	return true
}

// registerForensicsRoutes binds GET/POST /api/v1/forensics/... to the case
// store, evidence vault, compliance assessor, and report generator
// (spec §6).
func registerForensicsRoutes(api *mux.Router, deps Dependencies) {
	api.HandleFunc("/forensics/cases", handleCreateCase(deps)).Methods(http.MethodPost)
	api.HandleFunc("/forensics/cases/{id}", handleGetCase(deps)).Methods(http.MethodGet)
	api.HandleFunc("/forensics/cases/{id}/transition", handleTransitionCase(deps)).Methods(http.MethodPost)
	api.HandleFunc("/forensics/cases/{id}/notes", handleAddCaseNote(deps)).Methods(http.MethodPost)

	api.HandleFunc("/forensics/evidence", handlePutEvidence(deps)).Methods(http.MethodPost)
	api.HandleFunc("/forensics/evidence/{id}", handleGetEvidence(deps)).Methods(http.MethodGet)
	api.HandleFunc("/forensics/evidence/{id}/verify", handleVerifyEvidence(deps)).Methods(http.MethodPost)

	api.HandleFunc("/forensics/reports/generate", handleGenerateReport(deps)).Methods(http.MethodPost)
	api.HandleFunc("/forensics/court-preparation/{case_id}", handleCourtPreparation(deps)).Methods(http.MethodPost)
}

type createCaseRequest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Priority      string `json:"priority"`
	Jurisdiction  string `json:"jurisdiction"`
	LegalStandard string `json:"legal_standard"`
}

func handleCreateCase(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCaseRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		userID := httputil.GetUserID(r)
		c, err := deps.Cases.Create(r.Context(), req.Title, req.Description, req.Priority, req.Jurisdiction, req.LegalStandard, userID)
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.RespondCreated(w, c)
	}
}

func handleGetCase(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if !requireUUID(w, id) {
			return
		}
		c, err := deps.Cases.Get(r.Context(), id)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, c)
	}
}

type transitionCaseRequest struct {
	To     domain.CaseStatus `json:"to"`
	Reason string            `json:"reason"`
}

func handleTransitionCase(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionCaseRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		id := mux.Vars(r)["id"]
		if !requireUUID(w, id) {
			return
		}
		userID := httputil.GetUserID(r)
		isAdmin := httputil.GetUserRole(r) == "admin"
		c, err := deps.Cases.Transition(r.Context(), id, req.To, userID, isAdmin, req.Reason)
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, c)
	}
}

type addCaseNoteRequest struct {
	Body string `json:"body"`
}

func handleAddCaseNote(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addCaseNoteRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		id := mux.Vars(r)["id"]
		if !requireUUID(w, id) {
			return
		}
		userID := httputil.GetUserID(r)
		if err := deps.Cases.AddNote(r.Context(), id, userID, req.Body); err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.RespondNoContent(w)
	}
}

type putEvidenceRequest struct {
	CaseID     string            `json:"case_id"`
	DataBase64 string            `json:"data_base64"`
	Type       string            `json:"type"`
	Source     string            `json:"source"`
	Metadata   map[string]string `json:"metadata"`
}

type putEvidenceResponse struct {
	ID     string `json:"id"`
	Digest string `json:"digest"`
}

func handlePutEvidence(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.EvidenceReplay != nil {
			if requestID := r.Header.Get("X-Request-ID"); requestID != "" && !deps.EvidenceReplay.ValidateAndMark(requestID) {
				httputil.WriteErrorResponse(w, r, http.StatusConflict, "DUPLICATE_REQUEST", "evidence capture with this X-Request-ID was already recorded", nil)
				return
			}
		}
		var req putEvidenceRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if !requireUUID(w, req.CaseID) {
			return
		}
		data, err := base64.StdEncoding.DecodeString(req.DataBase64)
		if err != nil {
			httputil.BadRequest(w, "data_base64 is not valid base64")
			return
		}
		collector := httputil.GetUserID(r)
		id, digest, err := deps.Evidence.Put(r.Context(), req.CaseID, data, req.Type, req.Source, collector, req.Metadata)
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		if err := deps.Cases.LinkEvidence(r.Context(), req.CaseID, id); err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.RespondCreated(w, putEvidenceResponse{ID: id, Digest: digest})
	}
}

func handleGetEvidence(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if !requireUUID(w, id) {
			return
		}
		actor := httputil.GetUserID(r)
		data, err := deps.Evidence.Get(r.Context(), id, actor)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"data_base64": base64.StdEncoding.EncodeToString(data),
		})
	}
}

func handleVerifyEvidence(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if !requireUUID(w, id) {
			return
		}
		status, err := deps.Evidence.Verify(r.Context(), id)
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"integrity": string(status)})
	}
}

type generateReportRequest struct {
	CaseID     string `json:"case_id"`
	TemplateID string `json:"template_id"`
	Format     string `json:"format"`
}

func handleGenerateReport(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateReportRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		if !requireUUID(w, req.CaseID) {
			return
		}
		c, err := deps.Cases.Get(r.Context(), req.CaseID)
		if err != nil {
			httputil.NotFound(w, err.Error())
			return
		}
		summary := reports.CaseSummary{
			Title: c.Title, Description: c.Description, Status: c.Status,
			Jurisdiction: c.Jurisdiction, LegalStandard: c.LegalStandard,
			EvidenceCount: c.EvidenceCount, Notes: c.Notes,
		}
		report, err := deps.Reports.Generate(r.Context(), req.CaseID, req.TemplateID, req.Format, summary)
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		httputil.RespondCreated(w, report)
	}
}

type courtPreparationRequest struct {
	EvidenceID    string                     `json:"evidence_id"`
	Jurisdiction  string                     `json:"jurisdiction"`
	CourtType     string                     `json:"court_type"`
	LegalStandard string                     `json:"legal_standard"`
	Profile       compliance.EvidenceProfile `json:"profile"`
}

func handleCourtPreparation(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req courtPreparationRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		caseID := mux.Vars(r)["case_id"]
		if !requireUUID(w, caseID) || !requireUUID(w, req.EvidenceID) {
			return
		}

		record, err := deps.Compliance.Assess(caseID, req.EvidenceID, req.Jurisdiction, req.CourtType, req.LegalStandard, req.Profile)
		if err != nil {
			httputil.InternalError(w, err.Error())
			return
		}
		guidance := compliance.BuildGuidance(record)
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"compliance": record,
			"guidance":   guidance,
		})
	}
}
