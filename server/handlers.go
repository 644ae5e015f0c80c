package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/commbus"
	"github.com/leaseflow/coreengine/coreengine/agents"
	"github.com/leaseflow/coreengine/coreengine/envelope"
	"github.com/leaseflow/coreengine/coreengine/extract"
	"github.com/leaseflow/coreengine/coreengine/rag"
	"github.com/leaseflow/coreengine/coreengine/runtime"
	"github.com/leaseflow/coreengine/coreengine/storage"
	"github.com/leaseflow/coreengine/coreengine/typeutil"
	"github.com/leaseflow/coreengine/coreengine/validation"
)

const maxUploadBytes = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := map[string]any{}
	if s.bus != nil {
		for _, name := range []string{"database", "memory", "vector_index"} {
			reply, err := s.bus.QuerySync(r.Context(), &commbus.HealthCheckRequest{Component: name})
			if err != nil {
				status = "degraded"
				components[name] = map[string]any{"status": "unhealthy", "error": err.Error()}
				continue
			}
			resp, ok := reply.(*commbus.HealthCheckResponse)
			if !ok {
				status = "degraded"
				components[name] = map[string]any{"status": "unknown"}
				continue
			}
			if resp.Status != "healthy" {
				status = "degraded"
			}
			components[name] = map[string]any{"status": resp.Status, "details": resp.Details}
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"agents":     envelope.StageOrder,
		"components": components,
	})
}

// healthHandler answers HealthCheckRequest queries for the components the
// server owns.
func (s *Server) healthHandler() commbus.HandlerFunc {
	return func(ctx context.Context, msg commbus.Message) (any, error) {
		req, ok := msg.(*commbus.HealthCheckRequest)
		if !ok {
			return nil, fmt.Errorf("unexpected message type %s", commbus.GetMessageType(msg))
		}
		resp := &commbus.HealthCheckResponse{Component: req.Component, Status: "healthy"}
		switch req.Component {
		case "database":
			counts, err := s.store.Status(ctx)
			if err != nil {
				resp.Status = "unhealthy"
				resp.Details = map[string]any{"error": err.Error()}
				return resp, nil
			}
			resp.Details = map[string]any{"counts": counts}
		case "memory":
			resp.Details = map[string]any{"entries": s.memory.Len()}
		case "vector_index":
			docs, err := s.store.CountChunks(ctx, rag.DefaultCollection)
			if err != nil {
				resp.Status = "unhealthy"
				resp.Details = map[string]any{"error": err.Error()}
				return resp, nil
			}
			resp.Details = map[string]any{"documents": docs}
		default:
			return nil, fmt.Errorf("unknown component %q", req.Component)
		}
		return resp, nil
	}
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.store.ListApplications(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

// profileFormFields maps multipart form names onto profile keys.
var profileFormFields = []string{
	"first_name", "middle_name", "last_name", "dob", "phone_number",
	"current_address", "previous_address", "employment_status",
	"employer_name", "employer_contact", "income",
	"drivers_license", "passport_number",
}

func (s *Server) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	state := strings.ToUpper(strings.TrimSpace(r.FormValue("state")))
	email := strings.TrimSpace(r.FormValue("email"))
	if state == "" || email == "" {
		respondError(w, http.StatusBadRequest, "state and email are required")
		return
	}

	profile := map[string]any{
		"email":          email,
		"rental_history": []any{},
		"references":     []any{},
	}
	for _, field := range profileFormFields {
		if value := r.FormValue(field); value != "" {
			profile[field] = value
		}
	}

	var uploads []*multipart.FileHeader
	if r.MultipartForm != nil {
		uploads = r.MultipartForm.File["documents"]
	}
	paths, extracted, err := s.ingestDocuments(r.Context(), uploads)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	env := envelope.NewIntake(map[string]any{
		"state":     state,
		"profile":   profile,
		"documents": paths,
		"extracted": extracted,
		"query":     strings.TrimSpace(r.FormValue("query")),
		"email":     email,
	}, "")

	out, runErr := s.runner.Run(r.Context(), env)
	if runErr != nil {
		respondError(w, http.StatusInternalServerError, runErr.Error())
		return
	}
	payload, err := runtime.Unwrap(out)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	final := runtime.FinalResponse(payload)

	// Whatever the redaction stage did to the profile copy, the record is
	// keyed by the raw form email.
	finalProfile := typeutil.SafeMapStringAnyDefault(final["profile"], map[string]any{})
	finalEmail := firstNonEmpty(
		typeutil.SafeStringDefault(final["email"], ""),
		typeutil.SafeStringDefault(finalProfile["email"], ""),
		typeutil.SafeStringDefault(payload["email"], ""),
		email,
		"unknown@example.com",
	)
	final["email"] = finalEmail
	final["state"] = state
	finalProfile["email"] = finalEmail
	final["profile"] = finalProfile

	if err := s.store.SaveApplication(r.Context(), &storage.Application{
		Email: finalEmail,
		State: state,
		Data:  final,
	}); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	profileToSave := make(map[string]any, len(finalProfile))
	for k, v := range finalProfile {
		profileToSave[k] = v
	}
	profileToSave["email"] = email
	if err := s.store.SaveProfile(r.Context(), email, profileToSave); err != nil {
		log.Error().Err(err).Msg("profile_save_failed")
	} else {
		cacheKey := "profile:" + strings.ToLower(email)
		if s.bus != nil {
			if err := s.bus.Send(r.Context(), &commbus.InvalidateCache{Key: &cacheKey}); err != nil {
				log.Warn().Err(err).Msg("cache_invalidate_failed")
			}
		} else {
			s.cache.Invalidate(cacheKey)
		}
	}

	if s.bus != nil {
		_ = s.bus.Publish(r.Context(), &commbus.AuditRecorded{
			RequestID:    env.RequestID(),
			Action:       "application_submitted",
			Jurisdiction: state,
			Details:      map[string]any{"email": email, "documents": len(paths)},
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"state":       state,
		"application": final,
	})
}

// ingestDocuments saves the uploads and runs document extraction over them
// concurrently. Extraction failures are logged per document, never fatal.
func (s *Server) ingestDocuments(ctx context.Context, uploads []*multipart.FileHeader) ([]string, map[string]any, error) {
	uploadDir := filepath.Join(s.cfg.DataDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating upload dir: %w", err)
	}

	paths := make([]string, len(uploads))
	extracted := make(map[string]any)
	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for i, header := range uploads {
		wg.Add(1)
		go func(i int, header *multipart.FileHeader) {
			defer wg.Done()

			name := filepath.Base(header.Filename)
			path := filepath.Join(uploadDir, name)
			content, err := saveUpload(header, path)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			mu.Lock()
			paths[i] = path
			mu.Unlock()

			kind := extract.KindForFilename(name)
			if kind == "" {
				return
			}
			fields, err := s.extractor.Extract(ctx, kind, string(content))
			if err != nil {
				log.Warn().Str("document", name).Err(err).Msg("extraction_failed")
				return
			}
			mu.Lock()
			extracted[kind] = fields
			extracted[name] = fields
			mu.Unlock()
		}(i, header)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, nil, firstErr
	}
	return paths, extracted, nil
}

func saveUpload(header *multipart.FileHeader, path string) ([]byte, error) {
	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload %s: %w", header.Filename, err)
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("reading upload %s: %w", header.Filename, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("saving upload %s: %w", header.Filename, err)
	}
	return content, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// PROFILES
// =============================================================================

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(chi.URLParam(r, "email"))
	cacheKey := "profile:" + strings.ToLower(email)

	if cached, ok := s.cache.Get(cacheKey); ok {
		respondJSON(w, http.StatusOK, map[string]any{"profile": cached})
		return
	}

	profile, err := s.store.GetProfile(r.Context(), email)
	if errors.Is(err, storage.ErrProfileNotFound) {
		respondJSON(w, http.StatusOK, map[string]any{"profile": nil})
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.cache.Set(cacheKey, profile)
	respondJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

// =============================================================================
// COMPLIANCE
// =============================================================================

func (s *Server) handleComplianceCheck(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State     string         `json:"state"`
		Profile   map[string]any `json:"profile"`
		Extracted map[string]any `json:"extracted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	state := agents.CanonicalState(body.State)
	if state == "" {
		state = "GENERAL"
	}
	profile := body.Profile
	if profile == nil {
		profile = map[string]any{}
	}

	profile = agents.MergeExtracted(profile, body.Extracted)
	missing := validation.Validate(state, profile)
	result := s.evaluator.Evaluate(r.Context(), "", state, profile)

	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  state,
		"result": map[string]any{
			"missing":            missing,
			"compliance_summary": result,
			"profile":            profile,
		},
	})
}

// =============================================================================
// RAG AND MEMORY
// =============================================================================

func (s *Server) handleRAGQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	result := s.engine.Retrieve(r.Context(), body.State, body.Query)
	respondJSON(w, http.StatusOK, map[string]any{
		"state":          result.State,
		"retrieved_docs": result.RetrievedDocs,
		"top_chunks":     result.TopChunks,
		"memory_hit":     result.MemoryHit,
	})
}

func (s *Server) handleMemoryStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"entries":        s.memory.Len(),
		"states_tracked": s.memory.States(),
		"recent":         s.memory.Snapshot(3),
		"persist_path":   s.memory.Path(),
		"max_history":    s.memory.MaxHistory(),
	})
}

// =============================================================================
// STATUS AND DEV UTILITIES
// =============================================================================

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.CountChunks(r.Context(), rag.DefaultCollection)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	collections, err := s.store.ListCollections(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"cache_size":  s.cache.Len(),
		"ttl_seconds": s.cfg.CacheTTLSeconds,
		"db_docs":     docs,
		"collections": collections,
	})
}

func (s *Server) handleDBStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sqlite_path": s.store.Path(),
		"counts":      counts,
	})
}

func (s *Server) handleDBSeed(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SeedIfEmpty(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.engine.SeedDefaultCorpus(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
