// Package webhook posts uploaded files to the downstream knowledge-base
// webhook as multipart/form-data.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"
)

// maxBodyBytes bounds how much of the response is retained.
const maxBodyBytes = 64 << 10

// Payload is what the webhook receives for one uploaded file.
type Payload struct {
	File        []byte
	FileID      string
	FileName    string
	FileSize    int64
	MimeType    string
	UploadedAt  time.Time
	StoragePath string
	BucketName  string
	UserID      string
	UserEmail   string
	UserRole    string
}

// Outcome is the webhook's answer. JSON is set when Body parses as JSON.
type Outcome struct {
	StatusCode int
	Body       string
	JSON       json.RawMessage
	OK         bool
}

type Notifier interface {
	Notify(ctx context.Context, p Payload) (*Outcome, error)
	URL() string
}

type Client struct {
	url  string
	http *http.Client
}

// NewClient does not follow redirects: a 3xx is reported as a non-OK
// outcome and the multipart body is never replayed to another host.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{url: url, http: &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (c *Client) URL() string {
	return c.url
}

// Notify sends p in a single POST. A response with any status yields an
// Outcome; only transport failures (including ctx expiry) return an error.
func (c *Client) Notify(ctx context.Context, p Payload) (*Outcome, error) {
	body, contentType, err := encode(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}

	out := &Outcome{
		StatusCode: resp.StatusCode,
		Body:       string(raw),
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if json.Valid(raw) {
		out.JSON = json.RawMessage(raw)
	}
	return out, nil
}

func encode(p Payload) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, p.FileName))
	h.Set("Content-Type", p.MimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(p.File); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"fileId", p.FileID},
		{"fileName", p.FileName},
		{"fileSize", strconv.FormatInt(p.FileSize, 10)},
		{"mimeType", p.MimeType},
		{"uploadedAt", p.UploadedAt.UTC().Format(time.RFC3339Nano)},
		{"storagePath", p.StoragePath},
		{"bucketName", p.BucketName},
		{"userId", p.UserID},
		{"userEmail", p.UserEmail},
	}
	if p.UserRole != "" {
		fields = append(fields, [2]string{"userRole", p.UserRole})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
