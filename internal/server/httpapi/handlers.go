package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
	"github.com/dmitrijs2005/shashinpass/internal/server/services"
	"github.com/gorilla/mux"
)

const multipartOverhead = 1 << 20

type tokenResponse struct {
	Token     string    `json:"token"`
	Scope     string    `json:"scope"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenResponse(t *models.DownloadToken) *tokenResponse {
	if t == nil {
		return nil
	}
	return &tokenResponse{
		Token:     t.Token,
		Scope:     string(t.Scope),
		URL:       "/api/downloads/" + t.Token,
		ExpiresAt: t.ExpiresAt,
	}
}

type recordResponse struct {
	RecordID          string     `json:"record_id"`
	Paid              bool       `json:"paid"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	HasOutput         bool       `json:"has_output"`
	HasPreview        bool       `json:"has_preview"`
	TransformFallback bool       `json:"transform_fallback"`
	CheckoutSessionID string     `json:"checkout_session_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newRecordResponse(p *models.Photo) recordResponse {
	return recordResponse{
		RecordID:          p.ID,
		Paid:              p.Paid,
		PaidAt:            p.PaidAt,
		HasOutput:         p.HasOutput(),
		HasPreview:        p.PreviewRef != "",
		TransformFallback: p.TransformFallback,
		CheckoutSessionID: p.CheckoutSessionID,
		CreatedAt:         p.CreatedAt,
	}
}

type uploadResponse struct {
	recordResponse
	RecordToken string         `json:"record_token"`
	Preview     *tokenResponse `json:"preview"`
}

type checkoutRequest struct {
	Email     string `json:"email"`
	ReturnURL string `json:"return_url"`
}

type checkoutResponse struct {
	SessionID    string `json:"session_id"`
	URL          string `json:"url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type confirmationResponse struct {
	RecordID  string         `json:"record_id"`
	State     string         `json:"state"`
	Paid      bool           `json:"paid"`
	Retryable bool           `json:"retryable"`
	Attempts  int            `json:"attempts"`
	Message   string         `json:"message,omitempty"`
	Token     *tokenResponse `json:"token,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(services.MaxUploadSize); err != nil {
		writeError(w, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, fmt.Errorf("%w: image field is required", common.ErrInvalidInput))
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, services.MaxUploadSize+1))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
		return
	}

	res, err := s.uploads.Upload(r.Context(), body, r.FormValue("email"))
	if err != nil {
		s.fail(w, r, "upload failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		recordResponse: newRecordResponse(res.Photo),
		RecordToken:    res.RecordToken,
		Preview:        newTokenResponse(res.Preview),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	p, err := s.uploads.GetRecord(r.Context(), recordIDFrom(r.Context()))
	if err != nil {
		s.fail(w, r, "get record failed", err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(p))
}

func (s *Server) handlePreviewToken(w http.ResponseWriter, r *http.Request) {
	t, err := s.uploads.MintPreviewToken(r.Context(), recordIDFrom(r.Context()))
	if err != nil {
		s.fail(w, r, "preview token failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, newTokenResponse(t))
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, fmt.Errorf("%w: %v", common.ErrInvalidInput, err))
			return
		}
	}

	session, err := s.checkout.CreateSession(r.Context(), recordIDFrom(r.Context()), req.Email, req.ReturnURL)
	if err != nil {
		s.fail(w, r, "checkout failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		SessionID:    session.ID,
		URL:          session.URL,
		ClientSecret: session.ClientSecret,
	})
}

func (s *Server) handleConfirmRecord(w http.ResponseWriter, r *http.Request) {
	c, err := s.reconciler.ConfirmRecord(r.Context(), recordIDFrom(r.Context()))
	if err != nil {
		s.fail(w, r, "confirm record failed", err)
		return
	}
	writeConfirmation(w, c)
}

func (s *Server) handleConfirmSession(w http.ResponseWriter, r *http.Request) {
	c, err := s.reconciler.ConfirmSession(r.Context(), mux.Vars(r)["session"])
	if err != nil {
		s.fail(w, r, "confirm session failed", err)
		return
	}
	writeConfirmation(w, c)
}

func writeConfirmation(w http.ResponseWriter, c *models.Confirmation) {
	resp := confirmationResponse{
		RecordID:  c.RecordID,
		State:     string(c.State),
		Paid:      c.Paid,
		Retryable: c.Retryable,
		Attempts:  c.Attempts,
		Token:     newTokenResponse(c.Token),
	}

	status := http.StatusOK
	switch c.State {
	case models.StateDegraded:
		status = http.StatusAccepted
		resp.Message = "payment succeeded, download preparation delayed"
		w.Header().Set("Retry-After", retryAfterSeconds)
	case models.StateUnconfirmed:
		resp.Message = "payment not completed"
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleDownloadToken(w http.ResponseWriter, r *http.Request) {
	t, err := s.downloads.RequestToken(r.Context(), recordIDFrom(r.Context()), models.ScopeFull, s.downloadTTL)
	if err != nil {
		s.fail(w, r, "download token failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, newTokenResponse(t))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	obj, token, err := s.downloads.ResolveDownload(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.fail(w, r, "download failed", err)
		return
	}
	defer obj.Body.Close()

	disposition := "inline"
	if token.Scope == models.ScopeFull {
		disposition = `attachment; filename="id-photo.jpg"`
	}

	h := w.Header()
	h.Set("Content-Type", obj.ContentType)
	if obj.ContentLength > 0 {
		h.Set("Content-Length", strconv.FormatInt(obj.ContentLength, 10))
	}
	h.Set("Content-Disposition", disposition)
	h.Set("Cache-Control", "private, no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, obj.Body); err != nil {
		s.logger.Warn(r.Context(), "download interrupted", "record_id", token.RecordID, "error", err)
	}
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	u, err := s.downloads.PresignDownload(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.fail(w, r, "presign failed", err)
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	http.Redirect(w, r, u, http.StatusFound)
}
