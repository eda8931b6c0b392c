// Copyright 2024-2026 Aiku AI

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.mau.fi/util/exmime"

	"github.com/aiku/whatsapp-relay/pkg/relay"
)

// multipartOverhead is allowed on top of the file size for the other form
// fields and part headers.
const multipartOverhead = 1 << 20

var errTooLarge = errors.New("file too large")

type multipartUpload struct {
	target  string
	caption string
	media   *relay.MediaPayload
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func (s *Server) tooLargeMessage() string {
	return fmt.Sprintf("File too large (max %dMB)", s.cfg.MaxUploadSize>>20)
}

// readUpload parses a multipart form with the target field, an optional
// caption and a file.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, targetField string) (*multipartUpload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errors.New(s.tooLargeMessage())
		}
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	target := strings.TrimSpace(r.FormValue(targetField))
	file, header, err := r.FormFile("file")
	if target == "" || err != nil {
		return nil, fmt.Errorf("%s & file required", targetField)
	}
	defer file.Close()
	if header.Size > s.cfg.MaxUploadSize {
		return nil, errors.New(s.tooLargeMessage())
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return &multipartUpload{
		target:  target,
		caption: r.FormValue("caption"),
		media:   &relay.MediaPayload{Data: data, MimeType: baseMime(mimeType), FileName: header.Filename},
	}, nil
}

// fetchMedia downloads a media URL, bounded by the upload size limit.
func (s *Server) fetchMedia(ctx context.Context, rawURL string) (*relay.MediaPayload, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: mediaUrl must be an http(s) URL", relay.ErrInvalidTarget)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch media: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadSize {
		return nil, fmt.Errorf("%w: %s", errTooLarge, s.tooLargeMessage())
	}
	if len(data) == 0 {
		return nil, relay.ErrMediaUnavailable
	}
	mimeType := baseMime(resp.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = baseMime(http.DetectContentType(data))
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || !strings.Contains(name, ".") {
		name = uuid.NewString() + exmime.ExtensionFromMimetype(mimeType)
	}
	return &relay.MediaPayload{Data: data, MimeType: mimeType, FileName: name}, nil
}

func baseMime(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.TrimSpace(contentType)
	}
	return mediaType
}
