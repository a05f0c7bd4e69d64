package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/logging"
)

// multipartOverhead is allowed on top of the file size limit for form
// boundaries and option fields.
const multipartOverhead = 1 << 20

// maxMemory is how much of a multipart body is buffered before spilling to disk.
const maxMemory = 32 << 20

var contentTypes = map[string]string{
	core.TemplateCSV:  "text/csv; charset=utf-8",
	core.TemplateXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// healthResponse is returned by GET /healthz.
type healthResponse struct {
	Status   string                `json:"status"`
	Entities int                   `json:"entities"`
	Jobs     core.JobLimiterStatus `json:"jobs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Entities: core.EntityCount(),
		Jobs:     s.service.LimiterStatus(),
	})
}

// handleListEntities returns the entity catalogue.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListEntities())
}

// handleTemplate downloads an import template for an entity.
// Query: format=csv|xlsx (default csv), example=true to add sample rows.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	entityKey := chi.URLParam(r, "entity")

	format := core.NormalizeTemplateFormat(r.URL.Query().Get("format"))
	includeExample, err := parseFlag(r.URL.Query().Get("example"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid example flag")
		return
	}

	data, filename, err := s.service.Template(entityKey, format, includeExample)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", contentTypes[format])
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Write(data)
}

// handleValidate validates an uploaded file and creates a session.
// Expects a multipart form with a "file" part and optional
// skipDuplicates, updateExisting and continueOnError fields.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	entityKey := chi.URLParam(r, "entity")
	ctx := WithRequestMetadata(r.Context(), r)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			s.respondError(w, r, errNoFile, http.StatusBadRequest)
			return
		}
		s.respondError(w, r, err, 0)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			err = errNoFile
		}
		s.respondError(w, r, err, 0)
		return
	}
	defer file.Close()

	opts, err := parseOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err), 0)
		return
	}

	summary, err := s.service.ValidateFile(ctx, entityKey, data, header.Filename, opts)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	logging.WithFields(ctx, "entity", entityKey, "session_id", summary.SessionID).Info("file validated",
		"rows", summary.TotalRows,
		"invalid", summary.InvalidRows,
	)
	writeJSON(w, http.StatusOK, summary)
}

// handleExecute starts an import job for a validated session. An optional
// JSON ImportOptions body overrides the options chosen at validation.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctx := WithRequestMetadata(r.Context(), r)

	var opts *core.ImportOptions
	var body core.ImportOptions
	switch err := json.NewDecoder(r.Body).Decode(&body); {
	case errors.Is(err, io.EOF):
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	default:
		opts = &body
	}

	job, err := s.service.ExecuteImport(ctx, sessionID, opts, actorFromRequest(r))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	logging.WithFields(ctx, "session_id", sessionID, "job_id", job.ID).Info("import job accepted",
		"entity", job.EntityKey,
		"rows", job.Progress.Total,
	)

	w.Header().Set("Location", "/api/imports/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

// handleJobStatus returns a job snapshot.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetJobStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob asks a running job to stop and returns its snapshot.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.CancelJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobEvents streams job snapshots as Server-Sent Events.
//
// Each snapshot is a "progress" event whose id is the number of processed
// rows. Clients resuming with Last-Event-ID (or ?lastEventId=) skip rows
// they have already seen. A final "complete" event carries the terminal job.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	lastEventIDStr := r.Header.Get("Last-Event-ID")
	if lastEventIDStr == "" {
		lastEventIDStr = r.URL.Query().Get("lastEventId")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates, err := s.service.SubscribeJob(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var last []byte
	for {
		select {
		case job, ok := <-updates:
			if !ok {
				if last == nil {
					last = []byte("{}")
				}
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", last)
				flusher.Flush()
				return
			}

			data, err := json.Marshal(job)
			if err != nil {
				logging.FromContext(r.Context()).Error("encode job event", "job_id", jobID, "error", err)
				continue
			}
			last = data

			if !job.Status.Terminal() && job.Progress.Current <= lastEventID {
				continue
			}
			lastEventID = job.Progress.Current

			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", job.Progress.Current, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// parseOptions reads the duplicate and failure policy from form fields.
func parseOptions(r *http.Request) (core.ImportOptions, error) {
	var opts core.ImportOptions
	fields := []struct {
		name string
		dst  *bool
	}{
		{"skipDuplicates", &opts.SkipDuplicates},
		{"updateExisting", &opts.UpdateExisting},
		{"continueOnError", &opts.ContinueOnError},
	}
	for _, f := range fields {
		v, err := parseFlag(r.FormValue(f.name))
		if err != nil {
			return opts, fmt.Errorf("invalid %s: %q", f.name, r.FormValue(f.name))
		}
		*f.dst = v
	}
	return opts, nil
}

// parseFlag accepts strconv booleans plus "on" from HTML checkboxes.
// Empty means false.
func parseFlag(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return false, nil
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}
