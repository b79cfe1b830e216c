package ledger

import (
	"context"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/domain"
)

// Ledger composes the record store, access control, verification workflow and journal
// over one host. All components share the same backend, clock and dispatcher.
type Ledger struct {
	*RecordStore
	*AccessControl
	*VerificationWorkflow

	journal    *Journal
	dispatcher *Dispatcher
}

// Options configures a Ledger
type Options struct {
	Backend Backend
	Clock   adapter.Clock
	JCS     adapter.JCS
}

// New creates a ledger. A nil clock or jcs falls back to the real implementations.
func New(opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = adapter.NewClock()
	}
	if opts.JCS == nil {
		opts.JCS = adapter.NewJCS()
	}

	host := Host{
		Backend:    opts.Backend,
		Clock:      opts.Clock,
		JCS:        opts.JCS,
		Dispatcher: NewDispatcher(),
	}

	return &Ledger{
		RecordStore:          NewRecordStore(host),
		AccessControl:        NewAccessControl(host),
		VerificationWorkflow: NewVerificationWorkflow(host),
		journal:              NewJournal(host),
		dispatcher:           host.Dispatcher,
	}
}

// Subscribe registers a subscriber for every committed event
func (l *Ledger) Subscribe(name string, subscriber Subscriber) {
	l.dispatcher.Subscribe(name, subscriber)
}

// ListEvents returns a page of the event journal
func (l *Ledger) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.LedgerEvent, error) {
	return l.journal.ListEvents(ctx, filter)
}

// VerifyJournal recomputes the journal hash chain
func (l *Ledger) VerifyJournal(ctx context.Context) (*ChainReport, error) {
	return l.journal.Verify(ctx)
}
