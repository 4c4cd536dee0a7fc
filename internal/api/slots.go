package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/anvil/internal/store"
)

const (
	maxUploadSize = 1 << 30 // 1 GiB
	uploadField   = "file"
)

// slotResponse is the JSON body returned for a slot.
type slotResponse struct {
	*store.Slot
	URL string `json:"url"`
}

type statsResponse struct {
	Exists bool `json:"exists"`
}

func (s *Server) handleCreateSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := s.store.Create(r.Context())
	if err != nil {
		s.logger.Error("create slot", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create slot")
		return
	}
	slotsCreated.Inc()
	s.writeJSON(w, http.StatusCreated, slotResponse{Slot: slot, URL: s.slotURL(r, slot.ID)})
}

func (s *Server) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rc, slot, err := s.store.Open(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "slot not found")
		return
	case errors.Is(err, store.ErrEmpty):
		s.writeError(w, http.StatusNotFound, "slot is empty")
		return
	case err != nil:
		s.logger.Error("open slot", "slot_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read slot")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", slot.UpdatedAt, rs)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("send slot", "slot_id", id, "error", err)
	}
}

// handlePutSlot stores the request content: the "file" part of a multipart
// form, or the raw body for anything else.
func (s *Server) handlePutSlot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "slot not found")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	body, err := uploadBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slot, err := s.store.Put(r.Context(), id, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		s.logger.Error("store slot", "slot_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	uploadBytes.Add(float64(slot.Size))
	s.logger.Info("slot filled", "slot_id", id, "size", slot.Size)
	s.writeJSON(w, http.StatusOK, slotResponse{Slot: slot, URL: s.slotURL(r, id)})
}

func uploadBody(r *http.Request) (io.Reader, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, nil
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errors.New("invalid multipart body")
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errors.New(`multipart body has no "file" field`)
		}
		if err != nil {
			return nil, errors.New("invalid multipart body")
		}
		if part.FormName() == uploadField {
			return part, nil
		}
		part.Close()
	}
}

func (s *Server) handleSlotStats(w http.ResponseWriter, r *http.Request) {
	slot, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "slot not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to get slot")
		return
	}
	s.writeJSON(w, http.StatusOK, statsResponse{Exists: slot.Exists})
}

// slotURL is the public URL of a slot.
func (s *Server) slotURL(r *http.Request, id string) string {
	base := s.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	u, err := url.JoinPath(strings.TrimSuffix(base, "/"), "v1", "slots", id)
	if err != nil {
		return base + "/v1/slots/" + id
	}
	return u
}
