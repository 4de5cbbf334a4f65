// Package httpapi implements the service's HTTP surface: upload,
// status/infos/result polling, archive download, image
// serving, and the two removal endpoints. The core components it drives
// (ingest, registry, aggregator, removal, archive) own all the actual
// business logic; this package is deliberately thin — request parsing,
// status codes, and JSON envelopes only.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aperisolve/core/internal/aggregator"
	"github.com/aperisolve/core/internal/ingest"
	"github.com/aperisolve/core/internal/registry"
	"github.com/aperisolve/core/internal/removal"
	"github.com/aperisolve/core/shield"
)

// downloadableAnalyzers is the fixed set of analyzer names that may have a
// downloadable archive. GET /download validates against this set before
// ever touching the filesystem, so an unknown analyzer name 404s without a
// stat call.
var downloadableAnalyzers = map[string]bool{
	"binwalk": true, "foremost": true, "steghide": true, "openstego": true,
	"outguess": true, "jpseek": true, "pcrt": true,
}

// Server wires the HTTP surface to the core components.
type Server struct {
	DB               *sql.DB
	Ingester         *ingest.Ingester
	RemovalPolicy    *removal.Policy
	ResultFolder     string
	MaxContentLength int64
}

// Routes builds the chi router for the full endpoint surface.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/upload", s.handleUpload)
	r.Get("/status/{submissionFP}", s.handleStatus)
	r.Get("/infos/{submissionFP}", s.handleInfos)
	r.Get("/result/{submissionFP}", s.handleResult)
	r.Get("/download/{submissionFP}/{analyzer}", s.handleDownload)
	r.Get("/image/{first}", s.handleImageByImageFP)
	r.Get("/image/{first}/{filename}", s.handleImageBySubmission)
	r.Post("/remove/{submissionFP}", s.handleRemove)
	r.Post("/remove_password/{submissionFP}", s.handleRemovePassword)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

// handleUpload implements POST /upload: multipart form with an image file
// plus optional password and deep flag.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.MaxContentLength + 1<<20); err != nil {
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds MAX_CONTENT_LENGTH")
			return
		}
		writeError(w, http.StatusBadRequest, "malformed multipart form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.MaxContentLength+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if int64(len(data)) > s.MaxContentLength {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds MAX_CONTENT_LENGTH")
		return
	}

	filename := header.Filename
	ext := strings.ToLower(filepath.Ext(filename))
	if err := ingest.ValidateUpload(filename, int64(len(data)), s.MaxContentLength); err != nil {
		var ve *ingest.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Reason)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	password := r.FormValue("password")
	deep := parseDeepFlag(r.FormValue("deep"))

	clientIP := shield.ExtractIP(r)
	userAgent := r.Header.Get("User-Agent")

	submissionFP, err := s.Ingester.Ingest(r.Context(), data, filename, ext, password, deep, clientIP, userAgent)
	if err != nil {
		shield.GetLogger(r.Context()).Error("upload: ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"submission_hash": submissionFP})
}

// handleStatus implements GET /status/<submission_fp>.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "submissionFP")
	sub, err := registry.GetSubmission(r.Context(), s.DB, fp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(sub.Status)})
}

// handleInfos implements GET /infos/<submission_fp>: image metadata, known
// filenames and passwords, and timestamps, gathered across every
// Submission that shares the same Image.
func (s *Server) handleInfos(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "submissionFP")
	sub, err := registry.GetSubmission(r.Context(), s.DB, fp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	img, err := registry.GetImage(r.Context(), s.DB, sub.ImageFP)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	siblingFPs, err := registry.SubmissionsForImage(r.Context(), s.DB, sub.ImageFP)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	filenameSet := map[string]bool{}
	passwordSet := map[string]bool{}
	for _, siblingFP := range siblingFPs {
		sibling, err := registry.GetSubmission(r.Context(), s.DB, siblingFP)
		if err != nil || sibling == nil {
			continue
		}
		filenameSet[sibling.Filename] = true
		if sibling.Password.Valid && sibling.Password.String != "" {
			passwordSet[sibling.Password.String] = true
		}
	}

	resp := map[string]any{
		"image_fp":      sub.ImageFP,
		"submission_fp": sub.Fingerprint,
		"filename":      sub.Filename,
		"deep_analysis": sub.DeepAnalysis,
		"status":        sub.Status,
		"created_at":    sub.CreatedAt.Unix(),
		"filenames":     sortedKeys(filenameSet),
		"passwords":     sortedKeys(passwordSet),
	}
	if img != nil {
		resp["size_bytes"] = img.SizeBytes
		resp["first_seen"] = img.FirstSeen.Unix()
		resp["last_seen"] = img.LastSeen.Unix()
		resp["upload_count"] = img.UploadCount
	}
	writeJSON(w, http.StatusOK, resp)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// handleResult implements GET /result/<submission_fp>: 425 until
// results.json has materialized, so pollers can tell "not ready" apart
// from "unknown submission".
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "submissionFP")
	sub, err := registry.GetSubmission(r.Context(), s.DB, fp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}

	resultDir := filepath.Join(s.ResultFolder, sub.ImageFP, fp)
	doc, present, err := aggregator.Read(resultDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read results")
		return
	}
	if !present {
		writeError(w, http.StatusTooEarly, "results not yet available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": doc})
}

// handleDownload implements GET /download/<submission_fp>/<analyzer>.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "submissionFP")
	analyzerName := chi.URLParam(r, "analyzer")

	if !downloadableAnalyzers[analyzerName] {
		writeError(w, http.StatusNotFound, "no archive for this analyzer")
		return
	}

	sub, err := registry.GetSubmission(r.Context(), s.DB, fp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}

	archivePath := filepath.Join(s.ResultFolder, sub.ImageFP, fp, analyzerName+".7z")
	if _, err := os.Stat(archivePath); err != nil {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.7z"`, analyzerName))
	http.ServeFile(w, r, archivePath)
}

// handleImageByImageFP implements GET /image/<image_fp>: serves the
// canonical blob.
func (s *Server) handleImageByImageFP(w http.ResponseWriter, r *http.Request) {
	imageFP := chi.URLParam(r, "first")
	img, err := registry.GetImage(r.Context(), s.DB, imageFP)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if img == nil {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if !ingest.IsAllowedExtension(filepath.Ext(img.Path)) {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	http.ServeFile(w, r, img.Path)
}

// handleImageBySubmission implements GET /image/<submission_fp>/<filename>:
// serves a derived artifact (decomposer/color-remap/image-resize output)
// written under a submission's result directory.
func (s *Server) handleImageBySubmission(w http.ResponseWriter, r *http.Request) {
	submissionFP := chi.URLParam(r, "first")
	filename := chi.URLParam(r, "filename")

	if !ingest.IsAllowedExtension(filepath.Ext(filename)) || strings.Contains(filename, "..") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	sub, err := registry.GetSubmission(r.Context(), s.DB, submissionFP)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}

	path := filepath.Join(s.ResultFolder, sub.ImageFP, submissionFP, filepath.Base(filename))
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	http.ServeFile(w, r, path)
}

// handleRemove implements POST /remove/<submission_fp>, gated by
// internal/removal's age + single-IP policy.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "submissionFP")
	if err := s.RemovalPolicy.RemoveImage(r.Context(), fp); err != nil {
		s.writeRemovalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// handleRemovePassword implements POST /remove_password/<submission_fp>.
func (s *Server) handleRemovePassword(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "submissionFP")
	if err := s.RemovalPolicy.RemovePassword(r.Context(), fp); err != nil {
		s.writeRemovalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *Server) writeRemovalError(w http.ResponseWriter, err error) {
	var gateErr *removal.GateError
	if errors.As(err, &gateErr) {
		writeError(w, http.StatusForbidden, gateErr.Reason)
		return
	}
	writeError(w, http.StatusInternalServerError, "removal failed")
}

// parseDeepFlag interprets the "deep" form field: empty is false, a value
// strconv.ParseBool accepts gives that result, and any other non-empty value
// is true.
func parseDeepFlag(v string) bool {
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}
