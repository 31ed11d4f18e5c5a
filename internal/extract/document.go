package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
)

// DefaultMaxDocumentBytes caps documents at 20 MiB.
const DefaultMaxDocumentBytes int64 = 20 << 20

// Document is what the document source hands the pipeline.
type Document struct {
	JobID     uuid.UUID
	Ref       string // URL or file path
	Kind      constants.DocumentKind
	SizeBytes int64 // declared size; 0 when unknown
	Hints     map[string]string
}

// Source opens document bytes by reference.
type Source interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// FileSource reads local paths and file:// URLs.
type FileSource struct{}

func (FileSource) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	f, err := os.Open(strings.TrimPrefix(ref, "file://"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NewAppError(common.CodeSourceUnavailable, "document not found: "+ref, common.ErrNotFound)
		}
		return nil, common.NewAppError(common.CodeSourceUnavailable, "open "+ref, err)
	}
	return f, nil
}

// HTTPSource fetches harvested pages and uploaded files over HTTP.
type HTTPSource struct {
	Client *http.Client
	Logger *slog.Logger
}

func (s HTTPSource) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, common.NewAppError(common.CodeInvalidInput, "bad document url", err)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("extract.source.http_error", "ref", ref, "err", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, common.NewAppError(common.CodeSourceUnavailable, "fetch "+ref, err)
	}
	if resp.StatusCode/100 != 2 {
		_ = resp.Body.Close()
		return nil, common.NewAppError(common.CodeSourceUnavailable, fmt.Sprintf("fetch %s: status %d", ref, resp.StatusCode), nil)
	}
	logger.Debug("extract.source.http_ok", "ref", ref, "status", resp.StatusCode, "elapsed_ms", time.Since(start).Milliseconds())
	return resp.Body, nil
}

// Sources routes http(s) references to HTTP and everything else to files.
type Sources struct {
	HTTP Source
	File Source
}

// DefaultSources returns file and HTTP sources with default clients.
func DefaultSources(logger *slog.Logger) Sources {
	return Sources{HTTP: HTTPSource{Logger: logger}, File: FileSource{}}
}

func (s Sources) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if s.HTTP == nil {
			return nil, common.NewAppError(common.CodeSourceUnavailable, "no http source configured", nil)
		}
		return s.HTTP.Open(ctx, ref)
	}
	if s.File == nil {
		return nil, common.NewAppError(common.CodeSourceUnavailable, "no file source configured", nil)
	}
	return s.File.Open(ctx, ref)
}

// BytesSource serves in-memory documents, keyed by reference.
type BytesSource map[string][]byte

func (b BytesSource) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	data, ok := b[ref]
	if !ok {
		return nil, common.NewAppError(common.CodeSourceUnavailable, "document not found: "+ref, common.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// readCapped reads at most max bytes and fails if the document is larger.
func readCapped(r io.Reader, ref string, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, common.NewAppError(common.CodeSourceUnavailable, "read "+ref, err)
	}
	if int64(len(data)) > max {
		return nil, tooLarge(ref, int64(len(data)), max)
	}
	return data, nil
}

func tooLarge(ref string, size, max int64) error {
	return common.NewAppError(common.CodeDocumentTooLarge,
		fmt.Sprintf("%s exceeds the %d byte limit (at least %d bytes)", ref, max, size), common.ErrInvalidInput)
}
