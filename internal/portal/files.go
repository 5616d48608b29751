package portal

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/noah-isme/gema-portal/internal/dto"
)

var allowedFileTypes = []string{
	"application/pdf",
	"application/zip",
	"application/msword",
	"text/plain",
	"image/png",
	"image/jpeg",
}

// storeFile checks an upload and returns the reference kept on the record:
// a blob URL when a blob store is configured, a data URL otherwise.
func (p *Portal) storeFile(ctx context.Context, file dto.Attachment, limit int) (string, error) {
	if len(file.Data) > limit {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(file.Data), limit)
	}

	mime := mimetype.Detect(file.Data)
	if !isAllowed(mime) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, mime.String())
	}

	if p.blobs == nil {
		base, _, _ := strings.Cut(mime.String(), ";")
		return "data:" + base + ";base64," + base64.StdEncoding.EncodeToString(file.Data), nil
	}

	url, err := p.blobs.Upload(ctx, file.Name, bytes.NewReader(file.Data))
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", file.Name, err)
	}
	return url, nil
}

// storePDF is storeFile restricted to PDF documents.
func (p *Portal) storePDF(ctx context.Context, file dto.Attachment, limit int) (string, error) {
	if len(file.Data) > limit {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(file.Data), limit)
	}
	if mime := mimetype.Detect(file.Data); !mime.Is("application/pdf") {
		return "", fmt.Errorf("%w: %s, expected application/pdf", ErrUnsupportedFile, mime.String())
	}
	return p.storeFile(ctx, file, limit)
}

// absoluteURL prefixes scheme-less links with https.
func absoluteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "http") {
		return raw
	}
	return "https://" + raw
}

// dropFile removes a stored blob. Inline data needs no cleanup.
func (p *Portal) dropFile(ctx context.Context, ref string) {
	if p.blobs == nil || !isRemote(ref) {
		return
	}
	if err := p.blobs.Delete(ctx, ref); err != nil {
		p.logger.Warn().Err(err).Str("file", ref).Msg("failed to delete stored file")
	}
}

// readFile resolves a stored reference back into its bytes.
func (p *Portal) readFile(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
		if !ok {
			return nil, fmt.Errorf("malformed data url")
		}
		if strings.HasSuffix(header, ";base64") {
			return base64.StdEncoding.DecodeString(payload)
		}
		return []byte(payload), nil
	case isRemote(ref):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download file: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, MaxSubmissionBytes+1))
	default:
		return []byte(ref), nil
	}
}

// fileText renders a file for a text-only model. Binary formats are described
// rather than inlined.
func (p *Portal) fileText(ctx context.Context, ref string) (string, error) {
	data, err := p.readFile(ctx, ref)
	if err != nil {
		return "", err
	}

	mime := mimetype.Detect(data)
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return string(data), nil
		}
	}
	return fmt.Sprintf("[%s file, %d bytes, content not extracted]", mime.String(), len(data)), nil
}

func isAllowed(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		for _, allowed := range allowedFileTypes {
			if m.Is(allowed) {
				return true
			}
		}
	}
	return false
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}
