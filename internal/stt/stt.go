// Package stt proxies audio segments to an external speech-to-text backend.
//
// The relay itself never decodes audio. Clients upload a recorded segment as
// multipart form data; the handler forwards it to the configured backend and
// returns the transcription verbatim. A missing backend disables the
// endpoint entirely.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// FormFieldAudio is the multipart field carrying the audio segment.
const FormFieldAudio = "audio_segment"

const maxUploadBytes = 16 << 20

type Config struct {
	// BackendURL is the transcription service endpoint. Empty disables the
	// handler.
	BackendURL string

	// Timeout bounds the whole proxied exchange.
	Timeout time.Duration

	Logger *slog.Logger
}

// Result is the backend's transcription response, passed through to the
// client.
type Result struct {
	Message string `json:"message"`
	Text    string `json:"text"`
}

type Handler struct {
	backendURL string
	client     *http.Client
	log        *slog.Logger
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{
		backendURL: cfg.BackendURL,
		client:     &http.Client{Timeout: timeout},
		log:        logger,
	}
}

// Enabled reports whether a backend is configured. Disabled handlers are not
// registered at all.
func (h *Handler) Enabled() bool { return h.backendURL != "" }

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	if !h.Enabled() {
		return
	}
	mux.HandleFunc("POST /get-audio", h.handleGetAudio)
}

func (h *Handler) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile(FormFieldAudio)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio_segment field")
		return
	}
	defer file.Close()

	result, err := h.transcribe(r.Context(), file, header.Filename)
	if err != nil {
		h.log.Error("transcription failed", "err", err)
		writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// transcribe re-wraps the uploaded segment as multipart form data and posts
// it to the backend.
func (h *Handler) transcribe(ctx context.Context, audio io.Reader, filename string) (Result, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile(FormFieldAudio, filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, audio); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.backendURL, pr)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("backend returned %d: %s", resp.StatusCode, body)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode backend response: %w", err)
	}
	return result, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
