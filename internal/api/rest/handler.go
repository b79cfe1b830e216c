package rest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/feral-file/passport-ledger/internal/api/auth"
	"github.com/feral-file/passport-ledger/internal/api/middleware"
	"github.com/feral-file/passport-ledger/internal/api/shared/constants"
	"github.com/feral-file/passport-ledger/internal/api/shared/dto"
	apierrors "github.com/feral-file/passport-ledger/internal/api/shared/errors"
	"github.com/feral-file/passport-ledger/internal/blob"
	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/ledger"
	"github.com/feral-file/passport-ledger/internal/logger"
	"github.com/feral-file/passport-ledger/internal/store"
)

const (
	HEALTH_CHECK_TIMEOUT = 2 * time.Second

	// MULTIPART_OVERHEAD is the room left for multipart boundaries and part headers
	MULTIPART_OVERHEAD = 64 << 10
)

// Handler defines the interface for REST API handlers
type Handler interface {
	// Challenge creates a wallet login challenge
	// POST /api/v1/auth/challenge
	Challenge(c *gin.Context)

	// Token exchanges a signed challenge for an access token
	// POST /api/v1/auth/token
	Token(c *gin.Context)

	// UploadDocument stores a passport document and returns its reference
	// POST /api/v1/documents (multipart field "file")
	UploadDocument(c *gin.Context)

	// StoreRecord creates a record owned by the caller
	// POST /api/v1/records
	StoreRecord(c *gin.Context)

	// GetRecord returns a record the caller can view
	// GET /api/v1/records/:id
	GetRecord(c *gin.Context)

	// UpdateRecord replaces the document of a record owned by the caller
	// PUT /api/v1/records/:id
	UpdateRecord(c *gin.Context)

	// DeactivateRecord deactivates a record owned by the caller
	// POST /api/v1/records/:id/deactivate
	DeactivateRecord(c *gin.Context)

	// VerifyOwnership checks whether the candidate (default: caller) owns the active record
	// GET /api/v1/records/:id/ownership?candidate=<identity>
	VerifyOwnership(c *gin.Context)

	// ListOwnerRecords lists the records created by an owner
	// GET /api/v1/owners/:address/records
	ListOwnerRecords(c *gin.Context)

	// GetPermissions returns the effective permissions of a user (default: caller) on a record
	// GET /api/v1/records/:id/permissions?user=<identity>
	GetPermissions(c *gin.Context)

	// GrantRecordAccess grants a level on a record owned by the caller
	// PUT /api/v1/records/:id/access/:grantee
	GrantRecordAccess(c *gin.Context)

	// RevokeRecordAccess revokes a grant on a record owned by the caller
	// DELETE /api/v1/records/:id/access/:grantee
	RevokeRecordAccess(c *gin.Context)

	// GrantDelegation delegates account access from the caller
	// PUT /api/v1/delegations/:delegatee
	GrantDelegation(c *gin.Context)

	// RevokeDelegation revokes the caller's delegation
	// DELETE /api/v1/delegations/:delegatee
	RevokeDelegation(c *gin.Context)

	// GetDelegation returns a delegation and whether it is effective now
	// GET /api/v1/delegations/:grantor/:delegatee
	GetDelegation(c *gin.Context)

	// RequestVerification asks the record owner to verify a record
	// POST /api/v1/records/:id/verifications
	RequestVerification(c *gin.Context)

	// ListRecordVerifications lists the verification requests of a record
	// GET /api/v1/records/:id/verifications
	ListRecordVerifications(c *gin.Context)

	// GetVerificationRequest returns a verification request
	// GET /api/v1/verifications/:id
	GetVerificationRequest(c *gin.Context)

	// ApproveVerification approves a pending request addressed to the caller
	// POST /api/v1/verifications/:id/approve
	ApproveVerification(c *gin.Context)

	// RejectVerification rejects a pending request addressed to the caller
	// POST /api/v1/verifications/:id/reject
	RejectVerification(c *gin.Context)

	// ListJournal pages the event journal, keeping the events the caller may read
	// GET /api/v1/journal?after=<sequence>&limit=<limit>&record_id=<id>
	ListJournal(c *gin.Context)

	// VerifyJournal recomputes the journal hash chain
	// GET /api/v1/journal/verify
	VerifyJournal(c *gin.Context)

	// CreateWebhookClient registers a webhook client (requires API key authentication)
	// POST /api/v1/webhooks/clients
	CreateWebhookClient(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// Config holds the REST handler configuration
type Config struct {
	Debug         bool
	MaxUploadSize int64
}

// handler implements the Handler interface
type handler struct {
	config Config
	ledger *ledger.Ledger
	auth   auth.Service
	blobs  blob.Store
	store  store.Store // nil with the in-memory ledger backend
}

// NewHandler creates a new REST API handler
func NewHandler(cfg Config, l *ledger.Ledger, authService auth.Service, blobs blob.Store, st store.Store) Handler {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = blob.DEFAULT_MAX_UPLOAD_SIZE
	}
	return &handler{
		config: cfg,
		ledger: l,
		auth:   authService,
		blobs:  blobs,
		store:  st,
	}
}

// caller returns the authenticated identity, responding 401 when there is none
func (h *handler) caller(c *gin.Context) (string, bool) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		respondUnauthorized(c, "Caller identity required", "use a wallet token or pass "+middleware.CALLER_ADDRESS_HEADER)
	}
	return caller, ok
}

func (h *handler) recordID(c *gin.Context) (uint64, bool) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		respondBadRequest(c, "Invalid record id", err.Error())
		return 0, false
	}
	return id, true
}

func (h *handler) requestID(c *gin.Context) (uint64, bool) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		respondBadRequest(c, "Invalid verification request id", err.Error())
		return 0, false
	}
	return id, true
}

// Challenge creates a wallet login challenge
func (h *handler) Challenge(c *gin.Context) {
	var req dto.ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err)
		return
	}

	challenge, err := h.auth.Challenge(c.Request.Context(), req.Address)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusCreated, challenge)
}

// Token exchanges a signed challenge for an access token
func (h *handler) Token(c *gin.Context) {
	var req dto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err)
		return
	}

	token, err := h.auth.Token(c.Request.Context(), req.Address, req.Signature)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, token)
}

// UploadDocument stores a passport document and returns its reference
func (h *handler) UploadDocument(c *gin.Context) {
	if _, ok := h.caller(c); !ok {
		return
	}

	// Bound the whole body so oversized uploads are not spooled to disk
	bodyLimit := h.config.MaxUploadSize + MULTIPART_OVERHEAD
	if c.Request.ContentLength > bodyLimit {
		respondBlobError(c, fmt.Errorf("%w: request body %d > %d bytes", blob.ErrTooLarge, c.Request.ContentLength, bodyLimit))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respondBlobError(c, fmt.Errorf("%w: request body exceeds %d bytes", blob.ErrTooLarge, maxBytesErr.Limit))
			return
		}
		respondBadRequest(c, "Missing file", err.Error())
		return
	}
	if fileHeader.Size > h.config.MaxUploadSize {
		respondBlobError(c, fmt.Errorf("%w: %d > %d bytes", blob.ErrTooLarge, fileHeader.Size, h.config.MaxUploadSize))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondInternalError(c, err, "Failed to read file")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, h.config.MaxUploadSize+1))
	if err != nil {
		respondInternalError(c, err, "Failed to read file")
		return
	}

	doc, err := h.blobs.Put(c.Request.Context(), fileHeader.Filename, data)
	if err != nil {
		respondBlobError(c, err)
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// StoreRecord creates a record owned by the caller
func (h *handler) StoreRecord(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req dto.StoreRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err)
		return
	}

	id, err := h.ledger.Store(c.Request.Context(), caller, req.ExternalNumber, req.DocumentRef)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.StoreRecordResponse{ID: id})
}

// GetRecord returns a record the caller can view
func (h *handler) GetRecord(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	record, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}

	canView, err := h.ledger.CanView(c.Request.Context(), id, caller)
	if err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}
	if !canView {
		respondForbidden(c, "Caller cannot view this record")
		return
	}

	c.JSON(http.StatusOK, dto.RecordResponse{Record: record})
}

// UpdateRecord replaces the document of a record owned by the caller
func (h *handler) UpdateRecord(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	var req dto.UpdateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err)
		return
	}

	if err := h.ledger.Update(c.Request.Context(), caller, id, req.DocumentRef); err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}

	h.respondRecord(c, id)
}

// DeactivateRecord deactivates a record owned by the caller
func (h *handler) DeactivateRecord(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	if err := h.ledger.Deactivate(c.Request.Context(), caller, id); err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}

	h.respondRecord(c, id)
}

func (h *handler) respondRecord(c *gin.Context, id uint64) {
	record, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}
	c.JSON(http.StatusOK, dto.RecordResponse{Record: record})
}

// VerifyOwnership checks whether the candidate owns the active record
func (h *handler) VerifyOwnership(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	candidate := domain.NormalizeIdentity(queryOrCaller(c, "candidate", caller))
	isOwner, err := h.ledger.VerifyOwnership(c.Request.Context(), id, candidate)
	if err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}

	c.JSON(http.StatusOK, dto.OwnershipResponse{
		RecordID:  id,
		Candidate: candidate,
		IsOwner:   isOwner,
	})
}

// ListOwnerRecords lists the records created by an owner
func (h *handler) ListOwnerRecords(c *gin.Context) {
	owner := domain.NormalizeIdentity(c.Param("address"))
	if domain.IsZeroIdentity(owner) {
		respondBadRequest(c, "Invalid owner")
		return
	}

	ids, err := h.ledger.ListByOwner(c.Request.Context(), owner)
	if err != nil {
		respondLedgerError(c, err, zap.String("owner", owner))
		return
	}

	c.JSON(http.StatusOK, dto.OwnerRecordsResponse{
		Owner:     owner,
		RecordIDs: ids,
	})
}

// GetPermissions returns the effective permissions of a user on a record
func (h *handler) GetPermissions(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	user := domain.NormalizeIdentity(queryOrCaller(c, "user", caller))

	level, err := h.ledger.GetPassportAccessLevel(ctx, id, user)
	if err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}
	canView, err := h.ledger.CanView(ctx, id, user)
	if err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}
	canEdit, err := h.ledger.CanEdit(ctx, id, user)
	if err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}

	c.JSON(http.StatusOK, dto.PermissionsResponse{
		RecordID:    id,
		User:        user,
		CanView:     canView,
		CanEdit:     canEdit,
		AccessLevel: level,
	})
}

// GrantRecordAccess grants a level on a record owned by the caller
func (h *handler) GrantRecordAccess(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	var req dto.GrantRecordAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Errorf("invalid request body: %w", err))
		return
	}

	grantee := c.Param("grantee")
	if err := h.ledger.GrantRecordAccess(c.Request.Context(), caller, id, grantee, req.Level); err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}

	c.Status(http.StatusNoContent)
}

// RevokeRecordAccess revokes a grant on a record owned by the caller
func (h *handler) RevokeRecordAccess(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	if err := h.ledger.RevokeRecordAccess(c.Request.Context(), caller, id, c.Param("grantee")); err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}

	c.Status(http.StatusNoContent)
}

// GrantDelegation delegates account access from the caller
func (h *handler) GrantDelegation(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var req dto.GrantDelegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err)
		return
	}

	ctx := c.Request.Context()
	delegatee := c.Param("delegatee")
	if err := h.ledger.GrantDelegation(ctx, caller, delegatee, req.Level, req.DurationDays, req.Purpose); err != nil {
		respondLedgerError(c, err)
		return
	}

	h.respondDelegation(c, caller, delegatee)
}

// RevokeDelegation revokes the caller's delegation
func (h *handler) RevokeDelegation(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	if err := h.ledger.RevokeDelegation(c.Request.Context(), caller, c.Param("delegatee")); err != nil {
		respondLedgerError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetDelegation returns a delegation and whether it is effective now
func (h *handler) GetDelegation(c *gin.Context) {
	h.respondDelegation(c, c.Param("grantor"), c.Param("delegatee"))
}

func (h *handler) respondDelegation(c *gin.Context, grantor, delegatee string) {
	ctx := c.Request.Context()

	delegation, err := h.ledger.GetDelegation(ctx, grantor, delegatee)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	hasAccess, err := h.ledger.HasAccess(ctx, grantor, delegatee)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.DelegationResponse{
		Delegation: delegation,
		HasAccess:  hasAccess,
	})
}

// RequestVerification asks the record owner to verify a record
func (h *handler) RequestVerification(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	requestID, err := h.ledger.RequestVerification(c.Request.Context(), caller, id)
	if err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}

	c.JSON(http.StatusCreated, dto.RequestVerificationResponse{RequestID: requestID})
}

// ListRecordVerifications lists the verification requests of a record
func (h *handler) ListRecordVerifications(c *gin.Context) {
	id, ok := h.recordID(c)
	if !ok {
		return
	}

	ids, err := h.ledger.GetPassportVerifications(c.Request.Context(), id)
	if err != nil {
		respondLedgerError(c, err, zap.Uint64("record_id", id))
		return
	}

	c.JSON(http.StatusOK, dto.RecordVerificationsResponse{
		RecordID:   id,
		RequestIDs: ids,
	})
}

// GetVerificationRequest returns a verification request
func (h *handler) GetVerificationRequest(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}
	h.respondVerificationRequest(c, id)
}

// ApproveVerification approves a pending request addressed to the caller
func (h *handler) ApproveVerification(c *gin.Context) {
	h.processVerification(c, h.ledger.ApproveVerification)
}

// RejectVerification rejects a pending request addressed to the caller
func (h *handler) RejectVerification(c *gin.Context) {
	h.processVerification(c, h.ledger.RejectVerification)
}

func (h *handler) processVerification(c *gin.Context, process func(ctx context.Context, owner string, requestID uint64) error) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	if err := process(c.Request.Context(), caller, id); err != nil {
		respondLedgerError(c, err, zap.Uint64("request_id", id))
		return
	}

	h.respondVerificationRequest(c, id)
}

func (h *handler) respondVerificationRequest(c *gin.Context, id uint64) {
	request, err := h.ledger.GetVerificationRequest(c.Request.Context(), id)
	if err != nil {
		respondLedgerError(c, err, zap.Uint64("request_id", id))
		return
	}
	c.JSON(http.StatusOK, dto.NewVerificationRequestResponse(request))
}

// ListJournal pages the event journal
func (h *handler) ListJournal(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	params, err := ParseJournalQuery(c)
	if err != nil {
		respondValidationError(c, err)
		return
	}
	if err := params.Validate(); err != nil {
		respondValidationError(c, err)
		return
	}

	events, err := h.ledger.ListEvents(c.Request.Context(), domain.EventFilter{
		After:    params.After,
		RecordID: params.RecordID,
		Limit:    params.Limit,
	})
	if err != nil {
		respondInternalError(c, err, "Failed to list journal events")
		return
	}

	visible, err := h.visibleEvents(c.Request.Context(), caller, events)
	if err != nil {
		respondInternalError(c, err, "Failed to filter journal events")
		return
	}

	// The cursor follows the scanned page so hidden events never stall paging
	response := dto.JournalResponse{Events: visible}
	if len(events) == params.Limit {
		next := events[len(events)-1].Sequence
		response.NextAfter = &next
	}

	c.JSON(http.StatusOK, response)
}

// visibleEvents keeps the events the caller may read: record events need CanView on the
// record, delegation events are shown to their grantor and delegatee
func (h *handler) visibleEvents(ctx context.Context, caller string, events []domain.LedgerEvent) ([]domain.LedgerEvent, error) {
	visible := make([]domain.LedgerEvent, 0, len(events))
	viewable := make(map[uint64]bool)

	for _, event := range events {
		if event.RecordID == 0 {
			if event.Actor == caller || event.Subject == caller {
				visible = append(visible, event)
			}
			continue
		}

		canView, seen := viewable[event.RecordID]
		if !seen {
			var err error
			canView, err = h.ledger.CanView(ctx, event.RecordID, caller)
			if err != nil {
				return nil, err
			}
			viewable[event.RecordID] = canView
		}
		if canView {
			visible = append(visible, event)
		}
	}
	return visible, nil
}

// VerifyJournal recomputes the journal hash chain
func (h *handler) VerifyJournal(c *gin.Context) {
	report, err := h.ledger.VerifyJournal(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "Failed to verify journal")
		return
	}
	c.JSON(http.StatusOK, report)
}

// CreateWebhookClient registers a webhook client and returns its signing secret once
func (h *handler) CreateWebhookClient(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, apierrors.NewServiceError("Webhooks require the postgres backend"))
		return
	}

	var req dto.CreateWebhookClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := req.Validate(h.config.Debug); err != nil {
		respondValidationError(c, err)
		return
	}

	retryMaxAttempts := constants.DEFAULT_RETRY_MAX_ATTEMPTS
	if req.RetryMaxAttempts != nil {
		retryMaxAttempts = *req.RetryMaxAttempts
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		respondInternalError(c, err, "Failed to generate webhook secret")
		return
	}

	filters, err := json.Marshal(req.EventFilters)
	if err != nil {
		respondInternalError(c, err, "Failed to encode event filters")
		return
	}

	client, err := h.store.CreateWebhookClient(c.Request.Context(), store.CreateWebhookClientInput{
		ClientID:         uuid.NewString(),
		WebhookURL:       req.WebhookURL,
		WebhookSecret:    hex.EncodeToString(secret),
		EventFilters:     datatypes.JSON(filters),
		IsActive:         true,
		RetryMaxAttempts: retryMaxAttempts,
	})
	if err != nil {
		respondInternalError(c, err, "Failed to create webhook client")
		return
	}

	c.JSON(http.StatusCreated, dto.CreateWebhookClientResponse{
		ClientID:         client.ClientID,
		WebhookURL:       client.WebhookURL,
		WebhookSecret:    client.WebhookSecret,
		EventFilters:     req.EventFilters,
		IsActive:         client.IsActive,
		RetryMaxAttempts: client.RetryMaxAttempts,
		CreatedAt:        client.CreatedAt,
		UpdatedAt:        client.UpdatedAt,
	})
}

// HealthCheck returns the health status of the API and its database
func (h *handler) HealthCheck(c *gin.Context) {
	response := dto.HealthResponse{
		Status:  "ok",
		Service: "passport-ledger-api",
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), HEALTH_CHECK_TIMEOUT)
		defer cancel()

		if err := h.store.Ping(ctx); err != nil {
			logger.WarnCtx(c.Request.Context(), "Health check failed", zap.Error(err))
			response.Status = "unavailable"
			response.Database = "unavailable"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
		response.Database = "ok"
	}

	c.JSON(http.StatusOK, response)
}
