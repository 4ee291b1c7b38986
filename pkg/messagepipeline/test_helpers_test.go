package messagepipeline_test

import (
	"context"
	"sync"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-ossflow/pkg/messagepipeline"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// newTestPubsub starts an in-process Pub/Sub server and returns a client connected to it.
func newTestPubsub(t *testing.T, projectID string) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

// --- MockMessageConsumer ---

// MockMessageConsumer simulates a message source.
type MockMessageConsumer struct {
	msgChan    chan messagepipeline.Message
	doneChan   chan struct{}
	stopOnce   sync.Once
	startErr   error
	stopErr    error
	mu         sync.Mutex
	startCount int
	stopCount  int
}

func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		msgChan:  make(chan messagepipeline.Message, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Messages() <-chan messagepipeline.Message { return m.msgChan }

func (m *MockMessageConsumer) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return m.startErr
}

func (m *MockMessageConsumer) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopCount++
		m.mu.Unlock()
		close(m.msgChan)
		close(m.doneChan)
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopErr
}

func (m *MockMessageConsumer) Done() <-chan struct{} { return m.doneChan }

// Push injects a message as if it had been received.
func (m *MockMessageConsumer) Push(msg messagepipeline.Message) { m.msgChan <- msg }

func (m *MockMessageConsumer) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *MockMessageConsumer) SetStopError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopErr = err
}

func (m *MockMessageConsumer) Counts() (start, stop int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount, m.stopCount
}

// --- MockMessageProcessor ---

// MockMessageProcessor records every item it receives and optionally Acks it.
type MockMessageProcessor[T any] struct {
	inputChan    chan *messagepipeline.ProcessableItem[T]
	received     []*messagepipeline.ProcessableItem[T]
	ackOnProcess bool
	mu           sync.Mutex
	wg           sync.WaitGroup
	startCount   int
	stopCount    int
}

func NewMockMessageProcessor[T any](bufferSize int, ackOnProcess bool) *MockMessageProcessor[T] {
	return &MockMessageProcessor[T]{
		inputChan:    make(chan *messagepipeline.ProcessableItem[T], bufferSize),
		ackOnProcess: ackOnProcess,
	}
}

func (m *MockMessageProcessor[T]) Input() chan<- *messagepipeline.ProcessableItem[T] {
	return m.inputChan
}

func (m *MockMessageProcessor[T]) Start(_ context.Context) {
	m.mu.Lock()
	m.startCount++
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for item := range m.inputChan {
			m.mu.Lock()
			m.received = append(m.received, item)
			m.mu.Unlock()
			if m.ackOnProcess && item.Original.Ack != nil {
				item.Original.Ack()
			}
		}
	}()
}

func (m *MockMessageProcessor[T]) Stop(_ context.Context) error {
	m.mu.Lock()
	m.stopCount++
	m.mu.Unlock()
	close(m.inputChan)
	m.wg.Wait()
	return nil
}

func (m *MockMessageProcessor[T]) Received() []*messagepipeline.ProcessableItem[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*messagepipeline.ProcessableItem[T], len(m.received))
	copy(out, m.received)
	return out
}

func (m *MockMessageProcessor[T]) Counts() (start, stop int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount, m.stopCount
}
