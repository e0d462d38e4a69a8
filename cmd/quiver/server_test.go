package main

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/layer"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunBatch(ctx context.Context, batch []graph.Sample) ([]graph.Sample, error) {
	args := m.Called(ctx, batch)
	out, _ := args.Get(0).([]graph.Sample)
	return out, args.Error(1)
}

type mockFlightClient struct {
	mock.Mock
}

func (m *mockFlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	args := m.Called(ctx, datasetName, record)
	return args.Error(0)
}

func (m *mockFlightClient) Close() error {
	return nil
}

func TestServer_Forward(t *testing.T) {
	in := graph.Sample{"data": {1, 2, 3}}
	out := graph.Sample{"prob": {0.25, 0.75}}

	t.Run("CBOR with forwarding", func(t *testing.T) {
		mr := &mockRunner{}
		mr.On("RunBatch", mock.Anything, []graph.Sample{in}).Return([]graph.Sample{out}, nil).Once()
		mfc := &mockFlightClient{}
		mfc.On("DoPut", mock.Anything, "test-dataset", mock.Anything).Return(nil).Once()

		srv := NewServer(mr, client.NewForwarder(mfc, nil, "test-dataset"), 4)

		data, err := cbor.Marshal(in)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/forward", bytes.NewReader(data))
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, contentTypeCBOR, rr.Header().Get("Content-Type"))
		var got graph.Sample
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, out, got)
		mr.AssertExpectations(t)
		mfc.AssertExpectations(t)
	})

	t.Run("Msgpack", func(t *testing.T) {
		mr := &mockRunner{}
		mr.On("RunBatch", mock.Anything, []graph.Sample{in}).Return([]graph.Sample{out}, nil).Once()
		srv := NewServer(mr, nil, 4)

		data, err := msgpack.Marshal(in)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/forward", bytes.NewReader(data))
		req.Header.Set("Content-Type", contentTypeMsgpack)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, contentTypeMsgpack, rr.Header().Get("Content-Type"))
		var got graph.Sample
		require.NoError(t, msgpack.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, out, got)
	})

	t.Run("Bad body", func(t *testing.T) {
		srv := NewServer(&mockRunner{}, nil, 4)
		req := httptest.NewRequest(http.MethodPost, "/forward", bytes.NewReader([]byte{0xff, 0x00}))
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Wrong method", func(t *testing.T) {
		srv := NewServer(&mockRunner{}, nil, 4)
		req := httptest.NewRequest(http.MethodGet, "/forward", nil)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("Run error", func(t *testing.T) {
		mr := &mockRunner{}
		mr.On("RunBatch", mock.Anything, mock.Anything).Return(nil, errors.New("unknown input \"x\"")).Once()
		srv := NewServer(mr, nil, 4)

		data, _ := cbor.Marshal(graph.Sample{"x": {1}})
		req := httptest.NewRequest(http.MethodPost, "/forward", bytes.NewReader(data))
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
}

func TestServer_ForwardArrow(t *testing.T) {
	mr := &mockRunner{}
	batch := []graph.Sample{{"data": {1, 2}}, {"data": {3, 4}}}
	mr.On("RunBatch", mock.Anything, batch).
		Return([]graph.Sample{{"out": {2, 4}}, {"out": {6, 8}}}, nil).Once()
	srv := NewServer(mr, nil, 1)

	builder := client.NewRecordBatchBuilder(memory.NewGoAllocator())
	var body bytes.Buffer
	w := ipc.NewWriter(&body, ipc.WithSchema(client.Schema))
	for _, s := range batch {
		rec := builder.BuildValuesRecord(s)
		require.NoError(t, w.Write(rec))
		rec.Release()
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/forward/arrow", &body)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, contentTypeArrow, rr.Header().Get("Content-Type"))

	reader, err := ipc.NewReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer reader.Release()

	var got []map[string][]float32
	for reader.Next() {
		values, err := client.DecodeValues(reader.Record())
		require.NoError(t, err)
		got = append(got, values)
	}
	require.NoError(t, reader.Err())
	assert.Equal(t, []map[string][]float32{{"out": {2, 4}}, {"out": {6, 8}}}, got)
	mr.AssertExpectations(t)
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(&mockRunner{}, nil, 1)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.handleHealth(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestFlightServer_DoPut(t *testing.T) {
	mr := &mockRunner{}
	in := graph.Sample{"data": {1, 2, 3}}
	mr.On("RunBatch", mock.Anything, []graph.Sample{in}).Return([]graph.Sample{{"out": {1}}}, nil).Once()

	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(NewQuiverFlightServer(mr, nil))
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	defer server.Shutdown()

	fc, err := client.NewFlightClient(server.Addr().String())
	require.NoError(t, err)
	defer fc.Close()

	rec := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildValuesRecord(in)
	defer rec.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fc.DoPut(ctx, "inputs", rec))
	mr.AssertExpectations(t)
}

const tanhNet = `
name: act
precision: fp32
inputs:
  - name: data
    shape: [1, 4]
layers:
  - name: act
    type: TanH
    bottom: [data]
    top: [out]
`

func TestRunBatchWritesArrow(t *testing.T) {
	param, err := graph.ParseNetParameter([]byte(tanhNet))
	require.NoError(t, err)

	ctx := context.Background()
	net, err := graph.NewNet(ctx, param, layer.Env{Backend: device.NewCPUBackend()})
	require.NoError(t, err)
	defer net.Close()

	var out bytes.Buffer
	require.NoError(t, runBatch(ctx, net, nil, &out))

	reader, err := ipc.NewReader(&out)
	require.NoError(t, err)
	defer reader.Release()
	require.True(t, reader.Next())

	values, err := client.DecodeValues(reader.Record())
	require.NoError(t, err)
	require.Len(t, values["out"], 4)
	for i, v := range values["out"] {
		assert.InDelta(t, math.Tanh(float64(i)/10), float64(v), 1e-6)
	}
}
