package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/blob"
)

type recordingFlightServer struct {
	flight.BaseFlightServer

	mu       sync.Mutex
	paths    []string
	received []map[string][]float32
}

func (s *recordingFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	var path string
	if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
		path = desc.Path[0]
	}
	for reader.Next() {
		values, err := DecodeValues(reader.Record())
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.paths = append(s.paths, path)
		s.received = append(s.received, values)
		s.mu.Unlock()
	}
	return reader.Err()
}

func startFlightServer(t *testing.T, svc flight.FlightServer) string {
	t.Helper()
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(svc)
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return server.Addr().String()
}

func TestFlightClient_DoPut(t *testing.T) {
	svc := &recordingFlightServer{}
	addr := startFlightServer(t, svc)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	builder := NewRecordBatchBuilder(memory.NewGoAllocator())
	rb, err := builder.BuildRecordBatch(map[string]*blob.Blob{
		"out": newBlob(t, []float32{1, 2, 3}, 3),
	})
	require.NoError(t, err)
	defer rb.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.DoPut(ctx, "quiver-test", rb))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.received, 1)
	assert.Equal(t, "quiver-test", svc.paths[0])
	assert.Equal(t, []float32{1, 2, 3}, svc.received[0]["out"])
}

type mockPutter struct {
	mock.Mock
}

func (m *mockPutter) DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error {
	args := m.Called(ctx, dataset, record)
	return args.Error(0)
}

func (m *mockPutter) Close() error {
	return m.Called().Error(0)
}

func testRecord(t *testing.T) arrow.RecordBatch {
	t.Helper()
	rb, err := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(map[string]*blob.Blob{
		"out": newBlob(t, []float32{1}, 1),
	})
	require.NoError(t, err)
	t.Cleanup(rb.Release)
	return rb
}

func TestForwarder(t *testing.T) {
	ctx := context.Background()
	rec := testRecord(t)

	t.Run("Success", func(t *testing.T) {
		mp := &mockPutter{}
		mp.On("DoPut", mock.Anything, "ds", rec).Return(nil).Once()

		f := NewForwarder(mp, NewCircuitBreaker(1, time.Minute), "ds")
		assert.NoError(t, f.Forward(ctx, rec))
		assert.Equal(t, "ds", f.Dataset())
		mp.AssertExpectations(t)
	})

	t.Run("Nil record", func(t *testing.T) {
		mp := &mockPutter{}
		f := NewForwarder(mp, nil, "ds")
		assert.NoError(t, f.Forward(ctx, nil))
		mp.AssertNotCalled(t, "DoPut", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Open breaker skips sends", func(t *testing.T) {
		boom := errors.New("unavailable")
		mp := &mockPutter{}
		mp.On("DoPut", mock.Anything, "ds", rec).Return(boom).Once()

		f := NewForwarder(mp, NewCircuitBreaker(1, time.Minute), "ds")
		assert.ErrorIs(t, f.Forward(ctx, rec), boom)
		assert.ErrorIs(t, f.Forward(ctx, rec), ErrCircuitOpen)
		mp.AssertNumberOfCalls(t, "DoPut", 1)
	})

	t.Run("Close", func(t *testing.T) {
		mp := &mockPutter{}
		mp.On("Close").Return(nil).Once()
		assert.NoError(t, NewForwarder(mp, nil, "ds").Close())
		mp.AssertExpectations(t)
	})
}
