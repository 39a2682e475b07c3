package llm

import (
	"context"
	"sync"
)

// MockCompleter is a configurable mock for testing LLM functionality.
// Set the function fields to control behavior in tests.
type MockCompleter struct {
	// CompleteFunc is called when Complete is invoked.
	// If nil, Response and Err are returned.
	CompleteFunc func(ctx context.Context, req *CompletionRequest) (string, error)

	// StreamChunks are emitted in order by Stream, followed by StreamErr as an
	// error event if set, otherwise a done event.
	StreamChunks []string
	StreamErr    error

	// StartErr is returned by Stream before any event.
	StartErr error

	Response string
	Err      error
	Model    string

	mu       sync.Mutex
	requests []*CompletionRequest
}

// NewMockCompleter creates a mock returning response from Complete.
func NewMockCompleter(response string) *MockCompleter {
	return &MockCompleter{Response: response, Model: "mock-model"}
}

// Complete implements LLMClient.
func (m *MockCompleter) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	m.track(req)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return m.Response, m.Err
}

// Stream implements LLMClient.
func (m *MockCompleter) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamEvent, error) {
	m.track(req)
	if m.StartErr != nil {
		return nil, m.StartErr
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		for _, chunk := range m.StreamChunks {
			if !emit(ctx, events, StreamEvent{Type: StreamEventText, Content: chunk}) {
				return
			}
		}
		if m.StreamErr != nil {
			emit(ctx, events, StreamEvent{Type: StreamEventError, Err: m.StreamErr})
			return
		}
		emit(ctx, events, StreamEvent{Type: StreamEventDone})
	}()
	return events, nil
}

// GetModel implements LLMClient.
func (m *MockCompleter) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// GetEndpoint implements LLMClient.
func (m *MockCompleter) GetEndpoint() string {
	return "http://mock-endpoint"
}

func (m *MockCompleter) track(req *CompletionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

// Requests returns the requests received so far.
func (m *MockCompleter) Requests() []*CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*CompletionRequest(nil), m.requests...)
}

// Calls returns the number of Complete and Stream calls.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Ensure MockCompleter implements LLMClient at compile time.
var _ LLMClient = (*MockCompleter)(nil)

// MockClientFactory hands out fixed clients per purpose.
type MockClientFactory struct {
	// Clients maps purposes to clients. Default is used for missing purposes.
	Clients map[Purpose]LLMClient
	Default LLMClient

	// Err, if set, is returned from ForUser.
	Err error

	SystemInstruction string
	Temperature       float64
}

// NewMockClientFactory creates a factory returning client for every purpose.
func NewMockClientFactory(client LLMClient) *MockClientFactory {
	return &MockClientFactory{Default: client, Clients: map[Purpose]LLMClient{}}
}

// ForUser implements LLMClientFactory.
func (f *MockClientFactory) ForUser(_ context.Context, _ string, purpose Purpose) (*Binding, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	client := f.Default
	if c, ok := f.Clients[purpose]; ok {
		client = c
	}
	return &Binding{
		Client:            client,
		Temperature:       f.Temperature,
		SystemInstruction: f.SystemInstruction,
	}, nil
}

// Ensure MockClientFactory implements LLMClientFactory at compile time.
var _ LLMClientFactory = (*MockClientFactory)(nil)
