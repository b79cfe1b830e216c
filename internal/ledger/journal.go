package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/domain"
)

const (
	DEFAULT_EVENT_PAGE_SIZE = 100
	MAX_EVENT_PAGE_SIZE     = 1000
)

// ChainReport is the result of a journal verification
type ChainReport struct {
	Valid        bool   `json:"valid"`
	EventCount   uint64 `json:"event_count"`
	HeadHash     string `json:"head_hash,omitempty"`
	BrokenAt     uint64 `json:"broken_at,omitempty"`
	BrokenReason string `json:"broken_reason,omitempty"`
}

// hashEvent computes hex(sha256(prevHash || JCS(payload)))
func hashEvent(jcs adapter.JCS, prevHash string, event domain.LedgerEvent) (string, error) {
	raw, err := json.Marshal(event.Payload())
	if err != nil {
		return "", fmt.Errorf("failed to marshal event payload: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize event payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sealEvent assigns the journal position and chain hashes of an event
func sealEvent(jcs adapter.JCS, prev *domain.LedgerEvent, event *domain.LedgerEvent) error {
	event.Sequence = 1
	event.PrevHash = ""
	if prev != nil {
		event.Sequence = prev.Sequence + 1
		event.PrevHash = prev.Hash
	}

	hash, err := hashEvent(jcs, event.PrevHash, *event)
	if err != nil {
		return err
	}
	event.Hash = hash
	return nil
}

// Journal reads and verifies the append-only event journal
type Journal struct {
	backend Backend
	jcs     adapter.JCS
}

// NewJournal creates a journal reader
func NewJournal(host Host) *Journal {
	return &Journal{backend: host.Backend, jcs: host.JCS}
}

// ListEvents returns a page of events after the filter cursor
func (j *Journal) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.LedgerEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = DEFAULT_EVENT_PAGE_SIZE
	}
	if filter.Limit > MAX_EVENT_PAGE_SIZE {
		filter.Limit = MAX_EVENT_PAGE_SIZE
	}
	return j.backend.ListEvents(ctx, filter)
}

// Verify walks the whole journal and recomputes the hash chain
func (j *Journal) Verify(ctx context.Context) (*ChainReport, error) {
	report := &ChainReport{Valid: true}

	var prevHash string
	var after uint64
	for {
		events, err := j.backend.ListEvents(ctx, domain.EventFilter{After: after, Limit: MAX_EVENT_PAGE_SIZE})
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
		if len(events) == 0 {
			return report, nil
		}

		for _, event := range events {
			expectedSequence := report.EventCount + 1
			switch {
			case event.Sequence != expectedSequence:
				return broken(report, event.Sequence, fmt.Sprintf("expected sequence %d", expectedSequence)), nil
			case event.PrevHash != prevHash:
				return broken(report, event.Sequence, "previous hash mismatch"), nil
			}

			hash, err := hashEvent(j.jcs, prevHash, event)
			if err != nil {
				return nil, err
			}
			if hash != event.Hash {
				return broken(report, event.Sequence, "hash mismatch"), nil
			}

			prevHash = event.Hash
			report.EventCount++
			report.HeadHash = event.Hash
			after = event.Sequence
		}
	}
}

func broken(report *ChainReport, sequence uint64, reason string) *ChainReport {
	report.Valid = false
	report.BrokenAt = sequence
	report.BrokenReason = reason
	return report
}
