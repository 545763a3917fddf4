package httpapi

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/dmitrijs2005/kbsync/internal/server/auth"
	"github.com/dmitrijs2005/kbsync/internal/server/queue"
	"github.com/dmitrijs2005/kbsync/internal/server/upload"
	"github.com/gorilla/mux"
)

const multipartMemory = 32 << 20

// reasonUnreadable marks a part whose bytes could not be read from the
// request. The other parts are still processed.
const reasonUnreadable upload.Reason = "unreadable"

// openPart is a seam for tests.
var openPart = func(fh *multipart.FileHeader) (multipart.File, error) { return fh.Open() }

type rejection struct {
	FileName string        `json:"fileName"`
	Reason   upload.Reason `json:"reason"`
	Field    string        `json:"field"`
	Message  string        `json:"message"`
}

type enqueueResponse struct {
	Tasks    []queue.Task `json:"tasks"`
	Rejected []rejection  `json:"rejected,omitempty"`
}

func (s *Server) userQueue(w http.ResponseWriter, r *http.Request) (*queue.Queue, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	q, err := s.queues.Get(r.Context(), user)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return q, true
}

// enqueue accepts one or more "file" parts. Each is validated on its own;
// the response is 201 if anything was queued and 422 if everything was
// rejected.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	q, ok := s.userQueue(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxRequestSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, `no "file" parts`)
		return
	}

	resp := enqueueResponse{Tasks: []queue.Task{}}
	for _, fh := range headers {
		f, err := s.readPart(fh)
		if err != nil {
			s.logger.Warn(r.Context(), "multipart part unreadable", "file_name", fh.Filename, "error", err)
			resp.Rejected = append(resp.Rejected, rejection{
				FileName: fh.Filename, Reason: reasonUnreadable, Field: "file", Message: "file could not be read",
			})
			continue
		}
		t, err := q.Enqueue(f)
		if err != nil {
			var ve *upload.ValidationError
			if !errors.As(err, &ve) {
				s.fail(w, r, err)
				return
			}
			resp.Rejected = append(resp.Rejected, rejection{
				FileName: fh.Filename, Reason: ve.Reason, Field: ve.Field, Message: ve.Message,
			})
			continue
		}
		resp.Tasks = append(resp.Tasks, t)
	}

	status := http.StatusCreated
	if len(resp.Tasks) == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// readPart loads a part into memory. Oversized parts are not read; the
// queue's size check rejects them from the header size alone.
func (s *Server) readPart(fh *multipart.FileHeader) (upload.File, error) {
	f := upload.File{
		Name:     fh.Filename,
		Size:     fh.Size,
		MimeType: fh.Header.Get("Content-Type"),
	}
	if s.opts.MaxFileSize > 0 && fh.Size > s.opts.MaxFileSize {
		return f, nil
	}
	src, err := openPart(fh)
	if err != nil {
		return f, fmt.Errorf("open part %s: %w", fh.Filename, err)
	}
	defer src.Close()
	if f.Data, err = io.ReadAll(src); err != nil {
		return f, fmt.Errorf("read part %s: %w", fh.Filename, err)
	}
	return f, nil
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q, ok := s.userQueue(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, q.Snapshot())
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	s.taskAction(w, r, func(q *queue.Queue, id string) (queue.Task, error) { return q.Start(id) })
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	s.taskAction(w, r, func(q *queue.Queue, id string) (queue.Task, error) { return q.Retry(id) })
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	s.taskAction(w, r, func(q *queue.Queue, id string) (queue.Task, error) {
		if err := q.Cancel(id); err != nil {
			return queue.Task{}, err
		}
		return q.Get(id)
	})
}

func (s *Server) taskAction(w http.ResponseWriter, r *http.Request, fn func(q *queue.Queue, id string) (queue.Task, error)) {
	q, ok := s.userQueue(w, r)
	if !ok {
		return
	}
	t, err := fn(q, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) startAll(w http.ResponseWriter, r *http.Request) {
	q, ok := s.userQueue(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, q.StartAll())
}

func (s *Server) removeTask(w http.ResponseWriter, r *http.Request) {
	q, ok := s.userQueue(w, r)
	if !ok {
		return
	}
	if err := q.Remove(mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
