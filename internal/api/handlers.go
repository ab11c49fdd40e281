package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/z-dmr/zdmr/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type createDownloadsRequest struct {
	URLs    []string `json:"urls"`
	DestDir string   `json:"dest_dir"`
}

func (s *Server) handleCreateDownloads(w http.ResponseWriter, r *http.Request) {
	var req createDownloadsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	urls := filterHTTPURLs(req.URLs)
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, "no valid http(s) urls")
		return
	}
	destDir := req.DestDir
	if destDir == "" {
		if settings, _ := s.store.GetSettings(); settings != nil {
			destDir = settings.DefaultDownloadDir
		}
	}
	ids, err := s.engine.Add(urls, destDir, "", "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

type createBatchRequest struct {
	Name                string   `json:"name"`
	DestDir             string   `json:"dest_dir"`
	RawURLList          string   `json:"raw_url_list"`
	URLs                []string `json:"urls"`
	DownloadThroughProxy bool    `json:"download_through_proxy"`
	OnCollision         string   `json:"on_collision"`
}

// handleCreateBatch implements spec.md §6's POST /batches: parses
// raw_url_list (whitespace-split, filtered to http/https) if provided, in
// addition to any explicit urls.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.DestDir == "" {
		writeError(w, http.StatusBadRequest, "dest_dir required")
		return
	}

	urls := append([]string{}, req.URLs...)
	if req.RawURLList != "" {
		urls = append(urls, strings.Fields(req.RawURLList)...)
	}
	urls = filterHTTPURLs(urls)
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, "no valid http(s) urls")
		return
	}

	onCollision := req.OnCollision
	if onCollision == "" {
		onCollision = "rename"
	}
	batch := &model.Batch{
		ID:          uuid.NewString(),
		Name:        req.Name,
		DestDir:     req.DestDir,
		ForcedProxy: req.DownloadThroughProxy,
		OnCollision: onCollision,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertBatch(batch); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	forcedProxyURL := ""
	if batch.ForcedProxy {
		settings, _ := s.store.GetSettings()
		if settings != nil {
			forcedProxyURL = settings.GlobalProxy.URL
		}
	}
	ids, err := s.engine.Add(urls, req.DestDir, batch.ID, forcedProxyURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"batch_id": batch.ID, "ids": ids})
}

func filterHTTPURLs(in []string) []string {
	var out []string
	for _, u := range in {
		trimmed := strings.TrimSpace(u)
		if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	downloads, err := s.store.ListDownloads()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, downloads)
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, err := s.store.GetDownload(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.Delete(id); err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.Pause(id); err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.Resume(id); err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.Retry(id); err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type addProxyRetryRequest struct {
	ProxyURL string `json:"proxy_url"`
}

func (s *Server) handleAddProxyRetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req addProxyRetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProxyURL == "" {
		writeError(w, http.StatusBadRequest, "proxy_url required")
		return
	}
	if err := s.engine.AddHostToProxyAndRetry(id, req.ProxyURL); err != nil {
		writeNotFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.PauseAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"paused": n})
}

func (s *Server) handleResumeAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.ResumeAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"resumed": n})
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearCompleted()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var rule model.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if rule.ID < 0 {
		writeError(w, http.StatusBadRequest, "negative rule id")
		return
	}
	id, err := s.store.UpsertRule(&rule)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.DeleteRule(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := s.store.SetSettings(&settings); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeNotFoundOr500 implements spec.md §6's status-code table: engine
// operations on an unknown ID surface as 404, everything else as 500.
func writeNotFoundOr500(w http.ResponseWriter, err error) {
	if err != nil && strings.Contains(err.Error(), "not found") {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
