package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/logger"
)

const (
	// DEFAULT_MAX_UPLOAD_SIZE is the largest accepted document
	DEFAULT_MAX_UPLOAD_SIZE = 16 * 1024 * 1024
	// REF_SCHEME prefixes the document references stored on records
	REF_SCHEME = "ipfs://"
)

var (
	// ErrEmpty is returned for a zero byte upload
	ErrEmpty = errors.New("document is empty")
	// ErrTooLarge is returned when an upload exceeds the configured maximum size
	ErrTooLarge = errors.New("document exceeds maximum size")
	// ErrUnsupportedType is returned when the sniffed content type is not allowed
	ErrUnsupportedType = errors.New("unsupported document type")
)

// AllowedMimeTypes lists the document types accepted for upload
var AllowedMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/json",
	"text/csv",
	"text/xml",
	"application/xml",
}

// Document describes a stored document
type Document struct {
	// Ref is the reference recorded on passport records, e.g. ipfs://bafy...
	Ref      string `json:"document_ref"`
	CID      string `json:"cid"`
	SHA256   string `json:"sha256"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Store stores passport documents in content-addressed storage
//
//go:generate mockgen -source=blob.go -destination=../mocks/blob.go -package=mocks -mock_names=Store=MockBlobStore
type Store interface {
	// Put validates and stores a document and returns its reference
	Put(ctx context.Context, filename string, data []byte) (*Document, error)
}

// Config holds the IPFS HTTP API configuration
type Config struct {
	APIURL        string
	APIKey        string
	APISecret     string
	MaxUploadSize int64
}

type ipfsStore struct {
	config     Config
	httpClient adapter.HTTPClient
	json       adapter.JSON
}

// NewIPFSStore creates a store backed by the IPFS HTTP API (/api/v0/add).
// Retries of 429 and 5xx responses are handled by the HTTP client.
func NewIPFSStore(cfg Config, httpClient adapter.HTTPClient, jsonAdapter adapter.JSON) Store {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DEFAULT_MAX_UPLOAD_SIZE
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	return &ipfsStore{
		config:     cfg,
		httpClient: httpClient,
		json:       jsonAdapter,
	}
}

// Validate checks the size of a document and sniffs its content type
func Validate(data []byte, maxSize int64) (*mimetype.MIME, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), maxSize)
	}

	mtype := mimetype.Detect(data)
	for m := mtype; m != nil; m = m.Parent() {
		for _, allowed := range AllowedMimeTypes {
			if m.Is(allowed) {
				return mtype, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mtype.String())
}

// addResponse is the body of a successful /api/v0/add call
type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Put validates and uploads a document
func (s *ipfsStore) Put(ctx context.Context, filename string, data []byte) (*Document, error) {
	mtype, err := Validate(data, s.config.MaxUploadSize)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write multipart form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart form: %w", err)
	}

	headers := map[string]string{
		"Content-Type": writer.FormDataContentType(),
	}
	if s.config.APIKey != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(s.config.APIKey + ":" + s.config.APISecret))
		headers["Authorization"] = "Basic " + credentials
	}

	query := url.Values{}
	query.Set("cid-version", "1")
	query.Set("pin", "true")
	endpoint := s.config.APIURL + "/api/v0/add?" + query.Encode()

	respBody, err := s.httpClient.PostWithHeaders(ctx, endpoint, headers, body.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to upload document: %w", err)
	}

	var resp addResponse
	if err := s.json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse upload response: %w", err)
	}
	if resp.Hash == "" {
		return nil, fmt.Errorf("upload response has no content identifier")
	}

	digest := sha256.Sum256(data)
	doc := &Document{
		Ref:      REF_SCHEME + resp.Hash,
		CID:      resp.Hash,
		SHA256:   hex.EncodeToString(digest[:]),
		MimeType: mtype.String(),
		Size:     int64(len(data)),
	}

	logger.InfoCtx(ctx, "Document stored",
		zap.String("cid", doc.CID),
		zap.String("mimeType", doc.MimeType),
		zap.Int64("size", doc.Size))

	return doc, nil
}
