package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"image-magic/internal/batch"
	"image-magic/internal/export"
	"image-magic/internal/ingest"
	"image-magic/internal/prompt"
)

const maxMemoryMultipart = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"modes":         prompt.Modes(),
		"aspect_ratios": prompt.AspectRatios(),
		"themes":        prompt.BannerThemes(),
		"styles":        prompt.BannerStyles(),
		"max_items":     batch.MaxItems,
		"min_variants":  prompt.MinVariants,
		"max_variants":  prompt.MaxVariants,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sid, sess := s.sessions.Create()
	writeJSON(w, http.StatusCreated, toSessionView(sid, sess.Limit(), sess.View()))
}

// lookup resolves {sid}, writing a 404 when it is unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (string, *batch.Session, bool) {
	sid := chi.URLParam(r, "sid")
	sess, ok := s.sessions.Lookup(sid)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return "", nil, false
	}
	return sid, sess, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sid, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(sid, sess.Limit(), sess.View()))
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sid, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sess.Reset()
	writeJSON(w, http.StatusOK, toSessionView(sid, sess.Limit(), sess.View()))
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var patch settingsPatch
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings body: "+err.Error())
		return
	}
	if err := patch.validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	st := sess.Configure(patch.apply)
	writeJSON(w, http.StatusOK, toSettingsView(st))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sid, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemoryMultipart); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "missing images")
		return
	}

	room := sess.Limit() - sess.Len()
	files := make([]ingest.File, len(headers))
	for i, fh := range headers {
		files[i] = ingest.File{Name: fh.Filename, MimeType: fh.Header.Get("Content-Type")}
		// Files past the remaining room are dropped unread.
		if i >= room {
			continue
		}
		data, err := readPart(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read "+fh.Filename)
			return
		}
		files[i].Data = data
	}

	res, err := ingest.Ingest(r.Context(), files, sess.Len(), sess.Limit())
	if err != nil {
		writeError(w, http.StatusRequestTimeout, err.Error())
		return
	}
	switch {
	case res.Notice.Full:
		writeError(w, http.StatusConflict, res.Notice.Message())
		return
	case res.Notice.NoValid:
		writeError(w, http.StatusUnprocessableEntity, res.Notice.Message())
		return
	}

	added := sess.Add(res.Seeds...)
	out := uploadView{
		Added:   make([]itemView, 0, len(added.Added)),
		Dropped: res.Notice.Dropped + added.Dropped,
		Invalid: res.Notice.Invalid,
		Notice:  res.Notice.Message(),
	}
	for _, it := range added.Added {
		out.Added = append(out.Added, toItemView(sid, it))
	}
	writeJSON(w, http.StatusCreated, out)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !sess.Remove(chi.URLParam(r, "iid")) {
		writeError(w, http.StatusNotFound, batch.ErrItemNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDuplicate(w http.ResponseWriter, r *http.Request) {
	sid, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	dup, err := sess.Duplicate(chi.URLParam(r, "iid"))
	switch {
	case errors.Is(err, batch.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, batch.ErrCollectionFull):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusCreated, toItemView(sid, dup))
	}
}

// gateStatus maps run preconditions to HTTP statuses.
func gateStatus(err error) int {
	switch {
	case errors.Is(err, batch.ErrNoItems), errors.Is(err, batch.ErrBlankInstruction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, batch.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, batch.ErrRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	sid, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	p, err := sess.StartRun()
	if err != nil {
		writeError(w, gateStatus(err), err.Error())
		return
	}

	s.detach("run", sid, func(ctx context.Context) error {
		p.Process(ctx)
		return nil
	})
	writeJSON(w, http.StatusAccepted, acceptedView{Dispatched: p.Len()})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sid, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	p, err := sess.StartRetry(chi.URLParam(r, "iid"))
	if err != nil {
		writeError(w, gateStatus(err), err.Error())
		return
	}

	s.detach("retry", sid, func(ctx context.Context) error {
		p.Process(ctx)
		return nil
	})
	writeJSON(w, http.StatusAccepted, acceptedView{Dispatched: p.Len()})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	it, found := sess.Item(chi.URLParam(r, "iid"))
	if !found {
		writeError(w, http.StatusNotFound, batch.ErrItemNotFound.Error())
		return
	}
	writeImage(w, it.Preview, "")
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	iid := chi.URLParam(r, "iid")
	items := sess.Items()
	idx := slices.IndexFunc(items, func(it batch.Item) bool { return it.ID == iid })
	if idx < 0 {
		writeError(w, http.StatusNotFound, batch.ErrItemNotFound.Error())
		return
	}
	it := items[idx]

	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || it.Status != batch.StatusSucceeded || n < 0 || n >= len(it.Results) {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	img := it.Results[n]
	name := export.ResultFileName(idx, n, it.Run.Mode, it.Run.AspectRatio, img.MimeType, s.now())
	writeImage(w, img, name)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	now := s.now()
	var buf bytes.Buffer
	err := export.WriteBundle(&buf, sess.Items(), export.BundleOptions{Method: s.archiveMethod, At: now})
	if errors.Is(err, export.ErrNotReady) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("archive failed")
		writeError(w, http.StatusInternalServerError, "failed to create archive")
		return
	}

	w.Header().Set("content-type", "application/zip")
	w.Header().Set("content-disposition", fmt.Sprintf("attachment; filename=%q", export.BundleName(now)))
	w.Header().Set("content-length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func writeImage(w http.ResponseWriter, img batch.Image, downloadName string) {
	mimeType := img.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(img.Data)
	}
	w.Header().Set("content-type", mimeType)
	w.Header().Set("content-length", strconv.Itoa(len(img.Data)))
	if downloadName != "" {
		w.Header().Set("content-disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}
