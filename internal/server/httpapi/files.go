package httpapi

import (
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/server/auth"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
	"github.com/gorilla/mux"
)

type fileDTO struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mimeType"`
	StoragePath string    `json:"storagePath"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type historyDTO struct {
	FileID       string     `json:"fileId"`
	FileName     string     `json:"fileName"`
	FileSize     int64      `json:"fileSize"`
	MimeType     string     `json:"mimeType"`
	Status       string     `json:"status"`
	WebhookURL   string     `json:"webhookUrl"`
	RetryCount   int        `json:"retryCount"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

type webhookDTO struct {
	ID           int64     `json:"id"`
	WebhookURL   string    `json:"webhookUrl"`
	StatusCode   *int      `json:"statusCode,omitempty"`
	ResponseBody *string   `json:"responseBody,omitempty"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	RetryCount   int       `json:"retryCount"`
	Success      bool      `json:"success"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	files, err := s.files.List(r.Context(), user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]fileDTO, 0, len(files))
	for _, f := range files {
		out = append(out, fileDTO{
			ID: f.ID, FileName: f.FileName, Size: f.Size, MimeType: f.MimeType,
			StoragePath: f.StoragePath, CreatedAt: f.CreatedAt, UpdatedAt: f.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	url, err := s.files.DownloadURL(r.Context(), mux.Vars(r)["id"], user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) content(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	f, data, err := s.files.Content(r.Context(), mux.Vars(r)["id"], user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", f.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	if err := s.files.Delete(r.Context(), mux.Vars(r)["id"], user.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	// The name is free again.
	if err := s.queues.Refresh(r.Context(), user.ID); err != nil {
		s.logger.Warn(r.Context(), "refresh stored names failed", "user_id", user.ID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.files.History(r.Context(), user.ID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]historyDTO, 0, len(rows))
	for _, h := range rows {
		out = append(out, toHistoryDTO(h))
	}
	writeJSON(w, http.StatusOK, out)
}

func toHistoryDTO(h *models.UploadHistory) historyDTO {
	return historyDTO{
		FileID: h.FileID, FileName: h.FileName, FileSize: h.FileSize, MimeType: h.MimeType,
		Status: string(h.UploadStatus), WebhookURL: h.WebhookURL, RetryCount: h.RetryCount,
		ErrorMessage: h.ErrorMessage, CreatedAt: h.CreatedAt, CompletedAt: h.CompletedAt,
	}
}

func (s *Server) webhooks(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	rows, err := s.files.WebhookResponses(r.Context(), mux.Vars(r)["id"], user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]webhookDTO, 0, len(rows))
	for _, wr := range rows {
		out = append(out, webhookDTO{
			ID: wr.ID, WebhookURL: wr.WebhookURL, StatusCode: wr.StatusCode, ResponseBody: wr.ResponseBody,
			ErrorMessage: wr.ErrorMessage, RetryCount: wr.RetryCount, Success: wr.Success, CreatedAt: wr.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
