package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/ledger"
	"github.com/feral-file/passport-ledger/internal/store/schema"
)

const (
	// COUNTER_LEDGER is the counter row every unit of work locks
	COUNTER_LEDGER                = "ledger"
	COUNTER_RECORDS               = "records"
	COUNTER_VERIFICATION_REQUESTS = "verification_requests"

	// MAX_ERROR_MESSAGE_LENGTH bounds the error message kept on a webhook delivery
	MAX_ERROR_MESSAGE_LENGTH = 1024
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// It accesses the underlying *sql.DB and sets the pool configuration.
// If any of the pool settings are 0 or empty, reasonable defaults are used:
//   - MaxOpenConns: 20 (if 0)
//   - MaxIdleConns: 5 (if 0)
//   - ConnMaxLifetime: 5 minutes (if 0)
//   - ConnMaxIdleTime: 10 minutes (if 0)
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
//
// Notes:
//   - database/sql treats MaxOpenConns=0 as "unlimited"
//   - database/sql treats MaxIdleConns=0 as "no idle connections"
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// Ping checks the database connection
func (s *pgStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// =============================================================================
// Units of work
// =============================================================================

// Atomic runs fn in a transaction that holds the ledger counter row lock,
// so units of work are applied one at a time across every API replica
func (s *pgStore) Atomic(ctx context.Context, fn func(ctx context.Context, st ledger.State) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockLedger(tx); err != nil {
			return err
		}
		return fn(ctx, &pgStore{db: tx})
	})
}

func lockLedger(tx *gorm.DB) error {
	// The row is seeded by the schema; the insert covers databases created by AutoMigrate
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&schema.LedgerCounter{Name: COUNTER_LEDGER}).Error; err != nil {
		return fmt.Errorf("failed to ensure ledger lock row: %w", err)
	}

	var counter schema.LedgerCounter
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", COUNTER_LEDGER).
		First(&counter).Error; err != nil {
		return fmt.Errorf("failed to lock ledger: %w", err)
	}
	return nil
}

// nextCounterValue increments a named counter and returns the new value.
// Inside a transaction the increment is rolled back with it, so ids never have gaps.
func (s *pgStore) nextCounterValue(ctx context.Context, name string) (uint64, error) {
	var value uint64
	err := s.db.WithContext(ctx).Raw(`
		INSERT INTO ledger_counters (name, value) VALUES (?, 1)
		ON CONFLICT (name) DO UPDATE SET value = ledger_counters.value + 1
		RETURNING value`, name).Scan(&value).Error
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return value, nil
}

// =============================================================================
// Records
// =============================================================================

// NextRecordID reserves the next sequential record id
func (s *pgStore) NextRecordID(ctx context.Context) (uint64, error) {
	return s.nextCounterValue(ctx, COUNTER_RECORDS)
}

// CreateRecord inserts a new record
func (s *pgStore) CreateRecord(ctx context.Context, record *domain.Record) error {
	row := schema.Record{
		ID:             record.ID,
		ExternalNumber: record.ExternalNumber,
		DocumentRef:    record.DocumentRef,
		Owner:          record.Owner,
		Active:         record.Active,
		CreatedAt:      record.CreatedAt,
		LastUpdatedAt:  record.LastUpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// UpdateRecord overwrites the mutable fields of a record
func (s *pgStore) UpdateRecord(ctx context.Context, record *domain.Record) error {
	result := s.db.WithContext(ctx).
		Model(&schema.Record{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"document_ref":    record.DocumentRef,
			"active":          record.Active,
			"last_updated_at": record.LastUpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetRecord retrieves a record by id
func (s *pgStore) GetRecord(ctx context.Context, id uint64) (*domain.Record, error) {
	var row schema.Record
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return toDomainRecord(row), nil
}

// ListRecordIDsByOwner returns the ids created by an owner in insertion order
func (s *pgStore) ListRecordIDsByOwner(ctx context.Context, owner string) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).
		Model(&schema.Record{}).
		Where("owner = ?", owner).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list records by owner: %w", err)
	}
	return ids, nil
}

func toDomainRecord(row schema.Record) *domain.Record {
	return &domain.Record{
		ID:             row.ID,
		ExternalNumber: row.ExternalNumber,
		DocumentRef:    row.DocumentRef,
		Owner:          row.Owner,
		Active:         row.Active,
		CreatedAt:      row.CreatedAt.UTC(),
		LastUpdatedAt:  row.LastUpdatedAt.UTC(),
	}
}

// =============================================================================
// Delegations and record access grants
// =============================================================================

// SaveDelegation inserts or overwrites the delegation of a (grantor, delegatee) pair
func (s *pgStore) SaveDelegation(ctx context.Context, delegation *domain.Delegation) error {
	row := schema.Delegation{
		Grantor:   delegation.Grantor,
		Delegatee: delegation.Delegatee,
		Level:     uint8(delegation.Level),
		Purpose:   delegation.Purpose,
		Active:    delegation.Active,
		GrantedAt: delegation.GrantedAt,
		Expiry:    delegation.Expiry,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "grantor"}, {Name: "delegatee"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save delegation: %w", err)
	}
	return nil
}

// GetDelegation retrieves the delegation of a (grantor, delegatee) pair
func (s *pgStore) GetDelegation(ctx context.Context, grantor, delegatee string) (*domain.Delegation, error) {
	var row schema.Delegation
	err := s.db.WithContext(ctx).
		Where("grantor = ? AND delegatee = ?", grantor, delegatee).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get delegation: %w", err)
	}
	return toDomainDelegation(row), nil
}

// ListDelegationsExpiringAfter returns active delegations whose expiry lies in (cursor, until]
func (s *pgStore) ListDelegationsExpiringAfter(ctx context.Context, cursor DelegationExpiryCursor, until time.Time, limit int) ([]domain.Delegation, error) {
	var rows []schema.Delegation
	err := s.db.WithContext(ctx).
		Where("active AND level > 0").
		Where("(expiry, grantor, delegatee) > (?, ?, ?)", cursor.Expiry, cursor.Grantor, cursor.Delegatee).
		Where("expiry <= ?", until).
		Order("expiry ASC, grantor ASC, delegatee ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring delegations: %w", err)
	}

	delegations := make([]domain.Delegation, 0, len(rows))
	for _, row := range rows {
		delegations = append(delegations, *toDomainDelegation(row))
	}
	return delegations, nil
}

func toDomainDelegation(row schema.Delegation) *domain.Delegation {
	return &domain.Delegation{
		Grantor:   row.Grantor,
		Delegatee: row.Delegatee,
		Level:     domain.AccessLevel(row.Level),
		Purpose:   row.Purpose,
		Active:    row.Active,
		GrantedAt: row.GrantedAt.UTC(),
		Expiry:    row.Expiry.UTC(),
	}
}

// SaveRecordAccessGrant inserts or overwrites the grant of a (record, grantee) pair
func (s *pgStore) SaveRecordAccessGrant(ctx context.Context, grant *domain.RecordAccessGrant) error {
	row := schema.RecordAccessGrant{
		RecordID:  grant.RecordID,
		Grantee:   grant.Grantee,
		Level:     uint8(grant.Level),
		UpdatedAt: grant.UpdatedAt,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_id"}, {Name: "grantee"}},
		DoUpdates: clause.AssignmentColumns([]string{"level", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save record access grant: %w", err)
	}
	return nil
}

// GetRecordAccessGrant retrieves the grant of a (record, grantee) pair
func (s *pgStore) GetRecordAccessGrant(ctx context.Context, recordID uint64, grantee string) (*domain.RecordAccessGrant, error) {
	var row schema.RecordAccessGrant
	err := s.db.WithContext(ctx).
		Where("record_id = ? AND grantee = ?", recordID, grantee).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record access grant: %w", err)
	}
	return &domain.RecordAccessGrant{
		RecordID:  row.RecordID,
		Grantee:   row.Grantee,
		Level:     domain.AccessLevel(row.Level),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

// =============================================================================
// Verification requests
// =============================================================================

// NextVerificationRequestID reserves the next sequential verification request id
func (s *pgStore) NextVerificationRequestID(ctx context.Context) (uint64, error) {
	return s.nextCounterValue(ctx, COUNTER_VERIFICATION_REQUESTS)
}

// CreateVerificationRequest inserts a verification request
func (s *pgStore) CreateVerificationRequest(ctx context.Context, request *domain.VerificationRequest) error {
	row := schema.VerificationRequest{
		ID:        request.ID,
		RecordID:  request.RecordID,
		Requester: request.Requester,
		Owner:     request.Owner,
		Approved:  request.Approved,
		Processed: request.Processed,
		CreatedAt: request.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create verification request: %w", err)
	}
	return nil
}

// UpdateVerificationRequest overwrites the processed and approved flags of a request
func (s *pgStore) UpdateVerificationRequest(ctx context.Context, request *domain.VerificationRequest) error {
	result := s.db.WithContext(ctx).
		Model(&schema.VerificationRequest{}).
		Where("id = ?", request.ID).
		Updates(map[string]interface{}{
			"approved":  request.Approved,
			"processed": request.Processed,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update verification request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetVerificationRequest retrieves a verification request by id
func (s *pgStore) GetVerificationRequest(ctx context.Context, id uint64) (*domain.VerificationRequest, error) {
	var row schema.VerificationRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get verification request: %w", err)
	}
	return &domain.VerificationRequest{
		ID:        row.ID,
		RecordID:  row.RecordID,
		Requester: row.Requester,
		Owner:     row.Owner,
		Approved:  row.Approved,
		Processed: row.Processed,
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}

// ListVerificationRequestIDs returns the request ids of a record in creation order
func (s *pgStore) ListVerificationRequestIDs(ctx context.Context, recordID uint64) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).
		Model(&schema.VerificationRequest{}).
		Where("record_id = ?", recordID).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list verification requests: %w", err)
	}
	return ids, nil
}

// =============================================================================
// Event journal
// =============================================================================

// LastEvent returns the journal head, nil when the journal is empty
func (s *pgStore) LastEvent(ctx context.Context) (*domain.LedgerEvent, error) {
	var rows []schema.LedgerEvent
	err := s.db.WithContext(ctx).Order("sequence DESC").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get journal head: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toDomainEvent(rows[0])
}

// AppendEvent appends a sealed event to the journal
func (s *pgStore) AppendEvent(ctx context.Context, event *domain.LedgerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	row := schema.LedgerEvent{
		Sequence:   event.Sequence,
		EventType:  string(event.Type),
		Actor:      event.Actor,
		Payload:    payload,
		OccurredAt: event.OccurredAt,
		PrevHash:   event.PrevHash,
		Hash:       event.Hash,
	}
	if event.RecordID != 0 {
		recordID := event.RecordID
		row.RecordID = &recordID
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns journal entries after the filter cursor in sequence order
func (s *pgStore) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.LedgerEvent, error) {
	query := s.db.WithContext(ctx).
		Where("sequence > ?", filter.After).
		Order("sequence ASC")
	if filter.RecordID != nil {
		query = query.Where("record_id = ?", *filter.RecordID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []schema.LedgerEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]domain.LedgerEvent, 0, len(rows))
	for _, row := range rows {
		event, err := toDomainEvent(row)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, nil
}

func toDomainEvent(row schema.LedgerEvent) (*domain.LedgerEvent, error) {
	var event domain.LedgerEvent
	if err := json.Unmarshal(row.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event %d: %w", row.Sequence, err)
	}
	event.Sequence = row.Sequence
	event.PrevHash = row.PrevHash
	event.Hash = row.Hash
	return &event, nil
}

// =============================================================================
// Key-value store
// =============================================================================

// SetKeyValue sets a key-value pair in the key-value store
func (s *pgStore) SetKeyValue(ctx context.Context, key string, value string) error {
	kv := schema.KeyValueStore{
		Key:   key,
		Value: value,
	}

	err := s.db.WithContext(ctx).Save(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set key-value: %w", err)
	}

	return nil
}

// GetKeyValue retrieves a value by key from the key-value store
func (s *pgStore) GetKeyValue(ctx context.Context, key string) (string, error) {
	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get key-value: %w", err)
	}

	return kv.Value, nil
}

// ConsumeKeyValue deletes a key and returns the value it held
func (s *pgStore) ConsumeKeyValue(ctx context.Context, key string) (string, error) {
	var kvs []schema.KeyValueStore
	err := s.db.WithContext(ctx).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "value"}}}).
		Where("key = ?", key).
		Delete(&kvs).Error
	if err != nil {
		return "", fmt.Errorf("failed to consume key-value: %w", err)
	}
	if len(kvs) == 0 {
		return "", nil
	}

	return kvs[0].Value, nil
}

// =============================================================================
// Webhooks
// =============================================================================

// GetActiveWebhookClientsByEventType retrieves active webhook clients that match the given event type
func (s *pgStore) GetActiveWebhookClientsByEventType(ctx context.Context, eventType string) ([]*schema.WebhookClient, error) {
	filter, err := json.Marshal([]string{eventType})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event filter: %w", err)
	}

	var clients []*schema.WebhookClient

	// Using JSONB containment operator @> to check if the array contains the value or the wildcard
	err = s.db.WithContext(ctx).
		Where("is_active").
		Where("event_filters @> ?::jsonb OR event_filters @> ?::jsonb", string(filter), `["*"]`).
		Order("id ASC").
		Find(&clients).Error

	if err != nil {
		return nil, fmt.Errorf("failed to get webhook clients by event type: %w", err)
	}

	return clients, nil
}

// GetWebhookClientByID retrieves a webhook client by client ID
func (s *pgStore) GetWebhookClientByID(ctx context.Context, clientID string) (*schema.WebhookClient, error) {
	var client schema.WebhookClient
	err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&client).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get webhook client: %w", err)
	}
	return &client, nil
}

// CreateWebhookClient creates a new webhook client
func (s *pgStore) CreateWebhookClient(ctx context.Context, input CreateWebhookClientInput) (*schema.WebhookClient, error) {
	now := time.Now()
	client := &schema.WebhookClient{
		ClientID:         input.ClientID,
		WebhookURL:       input.WebhookURL,
		WebhookSecret:    input.WebhookSecret,
		EventFilters:     input.EventFilters,
		IsActive:         input.IsActive,
		RetryMaxAttempts: input.RetryMaxAttempts,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.db.WithContext(ctx).Create(client).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook client: %w", err)
	}
	return client, nil
}

// CreateWebhookDelivery creates a new webhook delivery record
func (s *pgStore) CreateWebhookDelivery(ctx context.Context, delivery *schema.WebhookDelivery) error {
	err := s.db.WithContext(ctx).Create(delivery).Error
	if err != nil {
		return fmt.Errorf("failed to create webhook delivery: %w", err)
	}
	return nil
}

// UpdateWebhookDeliveryStatus updates the status and result of a webhook delivery
func (s *pgStore) UpdateWebhookDeliveryStatus(ctx context.Context, deliveryID uint64, status schema.WebhookDeliveryStatus, attempts int, responseStatus *int, responseBody, errorMessage string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"delivery_status": status,
		"attempts":        attempts,
		"response_body":   responseBody,
		"last_attempt_at": now,
		"updated_at":      now,
	}

	if responseStatus != nil {
		updates["response_status"] = *responseStatus
	}
	if errorMessage != "" {
		if len(errorMessage) > MAX_ERROR_MESSAGE_LENGTH {
			errorMessage = errorMessage[:MAX_ERROR_MESSAGE_LENGTH]
		}
		updates["error_message"] = errorMessage
	}

	err := s.db.WithContext(ctx).
		Model(&schema.WebhookDelivery{}).
		Where("id = ?", deliveryID).
		Updates(updates).Error

	if err != nil {
		return fmt.Errorf("failed to update webhook delivery status: %w", err)
	}

	return nil
}
