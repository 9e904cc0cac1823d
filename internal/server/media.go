package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"easel/internal/logging"
	"easel/internal/session"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	maxBytes := int64(s.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1)
	if err := r.ParseMultipartForm(maxBytes + 1); err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "MISSING_FILE", "file part missing")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType != "image/jpeg" && contentType != "image/png" {
		s.writeError(w, http.StatusUnsupportedMediaType, "INVALID_TYPE", "only JPG and PNG are supported")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "READ_FAILED", "could not read upload")
		return
	}
	if int64(len(data)) > maxBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file too large")
		return
	}

	imageID := "img_" + uuid.NewString()
	dir := s.store.Dir(sess.SID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.writeError(w, http.StatusInternalServerError, "STORE_FAILED", err.Error())
		return
	}
	path := filepath.Join(dir, imageID+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.writeError(w, http.StatusInternalServerError, "STORE_FAILED", err.Error())
		return
	}
	if err := s.store.RegisterBaseImage(sess.SID, imageID, path); err != nil {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown session")
		return
	}

	s.logger.Info("base image uploaded",
		logging.String(logging.FieldSessionID, sess.SID),
		logging.String("image_id", imageID),
		logging.Int("bytes", len(data)),
	)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"image_id": imageID,
		"url":      "/api/image/" + imageID,
	})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	path, err := s.store.BaseImage(sess.SID, r.PathValue("image_id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "IMAGE_NOT_FOUND", "image not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	name := r.PathValue("name")

	var meta *session.ResultMeta
	if token := r.URL.Query().Get("t"); token != "" {
		consumed, err := s.store.ConsumeDownloadToken(sess.SID, token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "invalid token")
			return
		}
		if filepath.Base(consumed.Path) != name {
			s.writeError(w, http.StatusNotFound, "RESULT_NOT_FOUND", "result not found")
			return
		}
		meta = consumed
	} else {
		found, err := s.store.ResultByName(sess.SID, name)
		if err != nil {
			s.writeError(w, http.StatusNotFound, "RESULT_NOT_FOUND", "result not found")
			return
		}
		meta = found
	}

	filename := fmt.Sprintf("easel-gen-%s.png", meta.CreatedAt.Format("20060102-150405"))
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, meta.Path)
}

func (s *Server) handleHistoryUndo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	meta, err := s.store.PopHistory(sess.SID)
	if err != nil {
		if errors.Is(err, session.ErrNoHistory) {
			s.writeError(w, http.StatusConflict, "NO_HISTORY", "no previous result to restore")
			return
		}
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown session")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"result_id":  meta.ResultID,
		"result_url": "/api/result/" + filepath.Base(meta.Path),
		"seed":       meta.Seed,
		"quality":    meta.QualityEffective,
	})
}
