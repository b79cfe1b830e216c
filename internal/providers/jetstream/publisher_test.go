package jetstream_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/logger"
	"github.com/feral-file/passport-ledger/internal/messaging"
	mockspkg "github.com/feral-file/passport-ledger/internal/mocks"
	jetstreampkg "github.com/feral-file/passport-ledger/internal/providers/jetstream"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

type testPublisherMocks struct {
	ctrl      *gomock.Controller
	natsJS    *mockspkg.MockNatsJetStream
	natsConn  *mockspkg.MockNatsConn
	jetStream *mockspkg.MockJetStream
	json      *mockspkg.MockJSON
}

func setupTestPublisher(t *testing.T) *testPublisherMocks {
	ctrl := gomock.NewController(t)
	return &testPublisherMocks{
		ctrl:      ctrl,
		natsJS:    mockspkg.NewMockNatsJetStream(ctrl),
		natsConn:  mockspkg.NewMockNatsConn(ctrl),
		jetStream: mockspkg.NewMockJetStream(ctrl),
		json:      mockspkg.NewMockJSON(ctrl),
	}
}

func testConfig() jetstreampkg.Config {
	return jetstreampkg.Config{
		URL:               "nats://localhost:4222",
		StreamName:        "LEDGER_EVENTS",
		SubjectPrefix:     "ledger.events",
		MaxReconnects:     10,
		ReconnectWait:     time.Second,
		ConnectionName:    "test-publisher",
		PublishMaxElapsed: 300 * time.Millisecond,
	}
}

func sampleEvent() domain.LedgerEvent {
	return domain.LedgerEvent{
		Sequence:   1,
		Type:       domain.EventTypeRecordStored,
		RecordID:   1,
		Actor:      "0x1111111111111111111111111111111111111111",
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Hash:       "abc123",
	}
}

func (m *testPublisherMocks) newPublisher(t *testing.T, cfg jetstreampkg.Config) messaging.Publisher {
	m.natsJS.
		EXPECT().
		Connect(cfg.URL, gomock.Any()).
		Return(m.natsConn, m.jetStream, nil)
	m.jetStream.
		EXPECT().
		CreateOrUpdateStream(gomock.Any(), jetstream.StreamConfig{
			Name:       cfg.StreamName,
			Subjects:   []string{"ledger.events.>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			Duplicates: jetstreampkg.DEFAULT_DUPLICATE_WINDOW,
		}).
		Return(nil)

	p, err := jetstreampkg.NewPublisher(context.Background(), cfg, m.natsJS, m.json)
	require.NoError(t, err)
	return p
}

func TestNewPublisher_ConnectError(t *testing.T) {
	mocks := setupTestPublisher(t)

	mocks.natsJS.
		EXPECT().
		Connect(gomock.Any(), gomock.Any()).
		Return(nil, nil, assert.AnError)

	p, err := jetstreampkg.NewPublisher(context.Background(), testConfig(), mocks.natsJS, mocks.json)
	assert.Error(t, err)
	assert.Nil(t, p)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}

func TestNewPublisher_StreamError(t *testing.T) {
	mocks := setupTestPublisher(t)

	mocks.natsJS.
		EXPECT().
		Connect(gomock.Any(), gomock.Any()).
		Return(mocks.natsConn, mocks.jetStream, nil)
	mocks.jetStream.
		EXPECT().
		CreateOrUpdateStream(gomock.Any(), gomock.Any()).
		Return(assert.AnError)
	mocks.natsConn.EXPECT().Close()

	p, err := jetstreampkg.NewPublisher(context.Background(), testConfig(), mocks.natsJS, mocks.json)
	assert.Error(t, err)
	assert.Nil(t, p)
	assert.Contains(t, err.Error(), "LEDGER_EVENTS")
}

func TestPublisher_PublishEvent(t *testing.T) {
	mocks := setupTestPublisher(t)
	p := mocks.newPublisher(t, testConfig())

	event := sampleEvent()
	data := []byte(`{"sequence":1}`)

	mocks.json.EXPECT().Marshal(event).Return(data, nil)
	mocks.jetStream.
		EXPECT().
		Publish(gomock.Any(), "ledger.events.record.stored", data, gomock.Any()).
		Return(&jetstream.PubAck{Stream: "LEDGER_EVENTS", Sequence: 1}, nil)

	assert.NoError(t, p.PublishEvent(context.Background(), event))
}

func TestPublisher_PublishEventRetriesTransientFailure(t *testing.T) {
	mocks := setupTestPublisher(t)
	p := mocks.newPublisher(t, testConfig())

	event := sampleEvent()
	event.Type = domain.EventTypeVerificationApproved
	data := []byte(`{"sequence":1}`)

	mocks.json.EXPECT().Marshal(event).Return(data, nil)
	gomock.InOrder(
		mocks.jetStream.
			EXPECT().
			Publish(gomock.Any(), "ledger.events.verification.approved", data, gomock.Any()).
			Return(nil, errors.New("nats: timeout")),
		mocks.jetStream.
			EXPECT().
			Publish(gomock.Any(), "ledger.events.verification.approved", data, gomock.Any()).
			Return(&jetstream.PubAck{Stream: "LEDGER_EVENTS", Sequence: 1}, nil),
	)

	assert.NoError(t, p.PublishEvent(context.Background(), event))
}

func TestPublisher_OnEventDoesNotWaitForNATS(t *testing.T) {
	mocks := setupTestPublisher(t)
	p := mocks.newPublisher(t, testConfig())

	event := sampleEvent()
	data := []byte(`{"sequence":1}`)
	release := make(chan struct{})
	published := make(chan struct{})

	mocks.json.EXPECT().Marshal(event).Return(data, nil)
	mocks.jetStream.
		EXPECT().
		Publish(gomock.Any(), "ledger.events.record.stored", data, gomock.Any()).
		DoAndReturn(func(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
			<-release
			close(published)
			return &jetstream.PubAck{Stream: "LEDGER_EVENTS", Sequence: 1}, nil
		})

	// A canceled request context must not abort the background publish
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.OnEvent(ctx, event))
	cancel()

	select {
	case <-published:
		t.Fatal("publish finished before it was released")
	default:
	}
	close(release)

	mocks.natsConn.EXPECT().Close()
	p.Close()

	select {
	case <-published:
	default:
		t.Fatal("Close returned before the queued publish finished")
	}
}

func TestPublisher_OnEventAfterClose(t *testing.T) {
	mocks := setupTestPublisher(t)
	p := mocks.newPublisher(t, testConfig())

	mocks.natsConn.EXPECT().Close()
	p.Close()

	err := p.OnEvent(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, jetstreampkg.ErrPublishRejected)
}

func TestPublisher_PublishEventGivesUp(t *testing.T) {
	mocks := setupTestPublisher(t)
	p := mocks.newPublisher(t, testConfig())

	event := sampleEvent()
	mocks.json.EXPECT().Marshal(event).Return([]byte(`{}`), nil)
	mocks.jetStream.
		EXPECT().
		Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, assert.AnError).
		MinTimes(1)

	err := p.PublishEvent(context.Background(), event)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish event")
}

func TestPublisher_MarshalError(t *testing.T) {
	mocks := setupTestPublisher(t)
	p := mocks.newPublisher(t, testConfig())

	mocks.json.EXPECT().Marshal(gomock.Any()).Return(nil, assert.AnError)

	err := p.PublishEvent(context.Background(), sampleEvent())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal event")
}

func TestPublisher_Close(t *testing.T) {
	mocks := setupTestPublisher(t)
	p := mocks.newPublisher(t, testConfig())

	mocks.natsConn.EXPECT().Close()
	p.Close()
}
