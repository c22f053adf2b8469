// Copyright 2025 The Species Database App Authors
// SPDX-License-Identifier: Apache-2.0

package speciesync

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ZB1234D/Species-Database-App-123/internal/auth"
)

// DefaultMaxUploadBytes bounds multipart sheet uploads
const DefaultMaxUploadBytes = 32 << 20

// HTTPSyncHandlers exposes the sync, dataset and admin API over net/http
type HTTPSyncHandlers struct {
	service        *SyncService
	jwt            *JWTAuth
	logger         *slog.Logger
	tokenTTL       time.Duration
	maxUploadBytes int64
}

// HandlersConfig tunes the HTTP handlers
type HandlersConfig struct {
	TokenTTL       time.Duration // Login token lifetime (default 12h)
	MaxUploadBytes int64         // Sheet upload limit (default DefaultMaxUploadBytes)
}

// NewHTTPSyncHandlers creates a new instance of handlers
func NewHTTPSyncHandlers(service *SyncService, jwtAuth *JWTAuth, logger *slog.Logger, cfg *HandlersConfig) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HTTPSyncHandlers{
		service:        service,
		jwt:            jwtAuth,
		logger:         logger,
		tokenTTL:       12 * time.Hour,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	if cfg != nil {
		if cfg.TokenTTL > 0 {
			h.tokenTTL = cfg.TokenTTL
		}
		if cfg.MaxUploadBytes > 0 {
			h.maxUploadBytes = cfg.MaxUploadBytes
		}
	}
	return h
}

// Register mounts every route on mux. Sync reads and login are public;
// mutations and admin listings require the admin role.
func (h *HTTPSyncHandlers) Register(mux *http.ServeMux) {
	admin := h.jwt.RequireRole(RoleAdmin)

	mux.HandleFunc("GET /api/bundle", h.HandleBundle)
	mux.HandleFunc("GET /api/species/changes", h.HandleChanges)
	mux.HandleFunc("GET /api/species/incremental", h.HandleIncremental)
	mux.HandleFunc("POST /api/auth/login", h.HandleLogin)
	mux.Handle("POST /api/auth/logout", h.jwt.RequireRole()(http.HandlerFunc(h.HandleLogout)))

	mux.Handle("POST /upload-species", admin(http.HandlerFunc(h.HandleUploadSpecies)))
	mux.Handle("POST /upload", admin(http.HandlerFunc(h.HandleCreateSpecies)))
	mux.Handle("PUT /api/species/{id}", admin(http.HandlerFunc(h.HandleUpdateSpecies)))
	mux.Handle("DELETE /api/species/{id}", admin(http.HandlerFunc(h.HandleDeleteSpecies)))

	mux.Handle("POST /upload-media", admin(http.HandlerFunc(h.HandleRegisterMedia)))
	mux.Handle("GET /upload-media", admin(http.HandlerFunc(h.HandleListMedia)))
	mux.Handle("GET /upload-media/{id}", admin(http.HandlerFunc(h.HandleGetMedia)))
	mux.Handle("PUT /upload-media/{id}", admin(http.HandlerFunc(h.HandleUpdateMedia)))
	mux.Handle("DELETE /upload-media/{id}", admin(http.HandlerFunc(h.HandleDeleteMedia)))

	mux.Handle("POST /api/users", admin(http.HandlerFunc(h.HandleCreateUser)))
	mux.Handle("GET /api/users", admin(http.HandlerFunc(h.HandleListUsers)))
	mux.Handle("GET /api/users/{id}", admin(http.HandlerFunc(h.HandleGetUser)))
	mux.Handle("PUT /api/users/{id}", admin(http.HandlerFunc(h.HandleUpdateUser)))
	mux.Handle("DELETE /api/users/{id}", admin(http.HandlerFunc(h.HandleDeleteUser)))

	mux.Handle("POST /translate", admin(http.HandlerFunc(h.HandleTranslate)))
	mux.Handle("GET /api/changelog", admin(http.HandlerFunc(h.HandleListChangelog)))

	mux.Handle("GET /analytics/overview", admin(http.HandlerFunc(h.HandleAnalyticsOverview)))
	mux.Handle("GET /analytics/users", admin(http.HandlerFunc(h.HandleUserAnalytics)))
}

// parseSince reads the required since_version query parameter
func parseSince(r *http.Request) (int64, error) {
	s := r.URL.Query().Get("since_version")
	if s == "" {
		return 0, &ValidationError{Fields: []string{"since_version"}, Message: "since_version required"}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ValidationError{Fields: []string{"since_version"}, Message: "since_version must be an integer"}
	}
	if v < 0 {
		return 0, &ValidationError{Fields: []string{"since_version"}, Message: "since_version must be >= 0"}
	}
	return v, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &ValidationError{Fields: []string{"id"}, Message: "id must be a positive integer"}
	}
	return id, nil
}

func versionOf(entry *ChangelogEntry) *int64 {
	if entry == nil {
		return nil
	}
	v := entry.Version
	return &v
}

// HandleBundle returns the full dataset
func (h *HTTPSyncHandlers) HandleBundle(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Bundle(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleChanges tells a client whether it is up to date, can sync
// incrementally or must refetch the bundle
func (h *HTTPSyncHandlers) HandleChanges(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	d, err := h.service.Plan(r.Context(), since)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d.ChangesResponse())
}

// HandleIncremental returns current rows of entities changed since the client's version
func (h *HTTPSyncHandlers) HandleIncremental(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	resp, err := h.service.Incremental(r.Context(), since)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleUploadSpecies bulk-loads a multipart spreadsheet upload
func (h *HTTPSyncHandlers) HandleUploadSpecies(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "No file part")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "No file part")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "No selected file")
		return
	}

	res, err := h.service.IngestSheet(r.Context(), header.Filename, file)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, UploadSpeciesResponse{
		Status:       "success",
		Message:      "Data uploaded to species_en & species_tet tables",
		RowsInserted: len(res.SpeciesIDs),
		Version:      res.Entry.Version,
	})
}

func (h *HTTPSyncHandlers) decodeSpeciesPair(r *http.Request) (SpeciesPair, error) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body == nil {
		return SpeciesPair{}, &ValidationError{Message: "invalid or missing JSON body"}
	}
	return speciesPairFromJSON(body), nil
}

// HandleCreateSpecies creates one species in both languages
func (h *HTTPSyncHandlers) HandleCreateSpecies(w http.ResponseWriter, r *http.Request) {
	pair, err := h.decodeSpeciesPair(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if _, err := h.service.CreateSpecies(r.Context(), pair); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, "Created")
}

func (h *HTTPSyncHandlers) HandleUpdateSpecies(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	pair, err := h.decodeSpeciesPair(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	res, err := h.service.UpdateSpecies(r.Context(), id, pair)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "updated", ID: id, Version: versionOf(res.Entry)})
}

func (h *HTTPSyncHandlers) HandleDeleteSpecies(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	res, err := h.service.DeleteSpecies(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "deleted", ID: id, Version: versionOf(res.Entry)})
}

func (h *HTTPSyncHandlers) HandleRegisterMedia(w http.ResponseWriter, r *http.Request) {
	var in MediaInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid / missing JSON body")
		return
	}
	res, err := h.service.RegisterMedia(r.Context(), in)
	if err != nil {
		h.writeMediaError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, StatusResponse{
		Status:  "success",
		Message: "media upload successful",
		ID:      res.Media.MediaID,
		Version: versionOf(res.Entry),
	})
}

func (h *HTTPSyncHandlers) HandleListMedia(w http.ResponseWriter, r *http.Request) {
	media, err := h.service.ListMedia(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if media == nil {
		media = []MediaRecord{}
	}
	h.writeJSON(w, http.StatusOK, media)
}

func (h *HTTPSyncHandlers) HandleGetMedia(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	m, err := h.service.GetMedia(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *HTTPSyncHandlers) HandleUpdateMedia(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	var patch MediaPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "missing JSON body")
		return
	}
	res, err := h.service.UpdateMedia(r.Context(), id, patch)
	if err != nil {
		h.writeMediaError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "updated", ID: id, Version: versionOf(res.Entry)})
}

func (h *HTTPSyncHandlers) HandleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	res, err := h.service.DeleteMedia(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "deleted", Message: "Media removed", ID: id, Version: versionOf(res.Entry)})
}

func (h *HTTPSyncHandlers) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in UserInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid JSON or missing request body")
		return
	}
	res, err := h.service.CreateUser(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res.User)
}

func (h *HTTPSyncHandlers) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if users == nil {
		users = []UserRecord{}
	}
	h.writeJSON(w, http.StatusOK, users)
}

func (h *HTTPSyncHandlers) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	u, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *HTTPSyncHandlers) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	var patch UserPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid JSON or missing request body")
		return
	}
	res, err := h.service.UpdateUser(r.Context(), id, patch)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res.User)
}

func (h *HTTPSyncHandlers) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	res, err := h.service.DeleteUser(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "deleted", ID: id, Version: versionOf(res.Entry)})
}

// HandleLogin exchanges name and password for a bearer token
func (h *HTTPSyncHandlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON")
		return
	}
	if req.Name == "" || req.Password == "" {
		h.writeServiceError(w, &ValidationError{Fields: []string{"name", "password"}, Message: "name and password required"})
		return
	}
	user, err := h.service.Authenticate(r.Context(), req.Name, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	tok, err := h.jwt.GenerateToken(user, h.tokenTTL)
	if err != nil {
		h.logger.Error("Failed to sign token", "error", err, "user_id", user.UserID)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to issue token")
		return
	}
	if _, err := h.service.RecordLogin(r.Context(), user.UserID); err != nil {
		h.logger.Warn("Failed to record login", "user_id", user.UserID, "error", err)
	}
	h.logger.Info("User logged in", "user_id", user.UserID, "role", user.Role)
	h.writeJSON(w, http.StatusOK, LoginResponse{Token: tok, ExpiresIn: int64(h.tokenTTL.Seconds()), User: user})
}

// HandleLogout closes the caller's open session. Tokens stay valid until
// they expire.
func (h *HTTPSyncHandlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sub, _ := auth.GetUserID(r.Context())
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnauthorized, CodeAuthFailed, "token subject is not a user id")
		return
	}
	session, err := h.service.EndSession(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// HandleAnalyticsOverview reports user, session and coverage totals
func (h *HTTPSyncHandlers) HandleAnalyticsOverview(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.AnalyticsOverview(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPSyncHandlers) HandleUserAnalytics(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.UserAnalytics(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleTranslate translates a list of English strings to Tetum
func (h *HTTPSyncHandlers) HandleTranslate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Text) == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "No text provided")
		return
	}
	out, err := h.service.TranslateTexts(r.Context(), req.Text)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// HandleListChangelog lists raw changelog entries for auditing
func (h *HTTPSyncHandlers) HandleListChangelog(w http.ResponseWriter, r *http.Request) {
	since := int64(0)
	if r.URL.Query().Get("since_version") != "" {
		v, err := parseSince(r)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		since = v
	}
	limit := 100
	if ls := r.URL.Query().Get("limit"); ls != "" {
		v, err := strconv.Atoi(ls)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be an integer")
			return
		}
		limit = v
	}
	resp, err := h.service.ListChangelog(r.Context(), since, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleHealth provides a simple health check endpoint
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status": "healthy", "service": "speciesync"}`))
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeMediaError reports an unknown species name as a bad request, the way
// the dashboard expects, and defers everything else to writeServiceError.
func (h *HTTPSyncHandlers) writeMediaError(w http.ResponseWriter, err error) {
	var me *MutationError
	var nf *NotFoundError
	if !errors.As(err, &me) && errors.As(err, &nf) && nf.Entity == "species" {
		writeErrorResponse(w, http.StatusBadRequest, ErrorResponse{
			Error:   CodeInvalidRequest,
			Message: fmt.Sprintf("species '%s' not found", nf.Key),
			Entity:  nf.Entity,
		})
		return
	}
	h.writeServiceError(w, err)
}

// writeServiceError maps service errors onto the HTTP error envelope
func (h *HTTPSyncHandlers) writeServiceError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	var nf *NotFoundError
	var ce *ConflictError
	var me *MutationError
	// MutationError unwraps to its cause, so it must match before the client
	// error types or a failed rollback would surface as a 404 or 409.
	switch {
	case errors.As(err, &me):
		if me.RolledBack {
			writeError(w, http.StatusInternalServerError, CodeMutationRolledBack, me.Error())
		} else {
			h.logger.Error("Responding with rollback failure", "op", me.Op, "step", me.Step, "error", err)
			writeError(w, http.StatusInternalServerError, CodeRollbackFailed, me.Error())
		}
	case errors.As(err, &ve):
		writeErrorResponse(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalidRequest, Message: ve.Error(), Fields: ve.Fields})
	case errors.As(err, &nf):
		writeErrorResponse(w, http.StatusNotFound, ErrorResponse{Error: CodeNotFound, Message: nf.Error(), Entity: nf.Entity})
	case errors.As(err, &ce):
		writeErrorResponse(w, http.StatusConflict, ErrorResponse{Error: CodeAlreadyRegistered, Message: "already registered", Entity: ce.Entity})
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, CodeAuthFailed, err.Error())
	case errors.Is(err, ErrServiceClosed):
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
	default:
		h.logger.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
	}
}

// writeError writes a standardized error response
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeErrorResponse(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
