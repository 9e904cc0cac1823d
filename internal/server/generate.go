package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"easel/internal/quality"
	"easel/internal/scheduler"
)

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	maxBytes := int64(s.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, 4*maxBytes)
	if err := r.ParseMultipartForm(4 * maxBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_FORM", "invalid multipart form")
		return
	}

	level, ok := quality.Parse(r.FormValue("quality"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "INVALID_QUALITY", "invalid quality preset")
		return
	}

	basePath, err := s.store.BaseImage(sess.SID, r.FormValue("base_image_id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "BASE_IMAGE_NOT_FOUND", "base image not registered")
		return
	}

	sketch, err := readFilePart(r, "sketch_png")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "MISSING_SKETCH", "sketch part missing")
		return
	}
	// An empty sketch means there is nothing to generate from.
	if len(sketch) == 0 {
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "skipped"})
		return
	}

	// The client may send a pre-composited canvas; otherwise the
	// registered base image is used as-is.
	canvas, err := readFilePart(r, "canvas_png")
	if err != nil || len(canvas) == 0 {
		canvas, err = os.ReadFile(basePath)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "BASE_IMAGE_READ", "could not read base image")
			return
		}
	}

	var seed *int64
	if value := r.FormValue("seed"); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "INVALID_SEED", "seed must be an integer")
			return
		}
		seed = &parsed
	}

	sketchID := r.FormValue("request_id")
	if sketchID == "" {
		sketchID = "sketch"
	}

	job, err := s.manager.Submit(r.Context(), sess, scheduler.SubmitRequest{
		BaseImage:     canvas,
		ScribbleImage: sketch,
		BaseName:      sketchID + "_canvas.png",
		SketchName:    sketchID + "_mask.png",
		Prompt:        r.FormValue("prompt"),
		UILanguage:    r.FormValue("ui_language"),
		Quality:       level,
		Seed:          seed,
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrTooManyJobs) || errors.Is(err, scheduler.ErrQueueFull) {
			s.writeError(w, http.StatusTooManyRequests, "TOO_MANY_JOBS", "too many concurrent jobs")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "SUBMIT_FAILED", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":            job.ID,
		"status":            job.Status,
		"quality_effective": job.QualityEffective,
		"quality_degraded":  job.Degraded,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var payload struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_JOB_ID", "invalid job id")
		return
	}

	outcome := s.manager.Cancel(sess, payload.JobID)
	if outcome == scheduler.CancelNotFound {
		s.writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": outcome})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	snapshot, err := s.manager.Snapshot(sess, r.PathValue("job_id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func readFilePart(r *http.Request, name string) ([]byte, error) {
	file, _, err := r.FormFile(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
