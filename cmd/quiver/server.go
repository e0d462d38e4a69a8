package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/graph"
)

const (
	contentTypeCBOR    = "application/cbor"
	contentTypeMsgpack = "application/msgpack"
	contentTypeArrow   = "application/vnd.apache.arrow.stream"
)

var (
	samplesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_samples_processed_total",
		Help: "The total number of samples run through the net",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_request_duration_seconds",
		Help:    "Time spent processing forward requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

var tracer = otel.Tracer("quiver-server")

// Runner runs samples through a pool of nets.
type Runner interface {
	RunBatch(ctx context.Context, batch []graph.Sample) ([]graph.Sample, error)
}

type Server struct {
	runner    Runner
	forwarder *client.Forwarder
	builder   *client.RecordBatchBuilder
	alloc     memory.Allocator
	sem       *semaphore.Weighted
	maxWeight int64
}

func NewServer(runner Runner, forwarder *client.Forwarder, maxConcurrent int) *Server {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	alloc := memory.NewGoAllocator()
	return &Server{
		runner:    runner,
		forwarder: forwarder,
		builder:   client.NewRecordBatchBuilder(alloc),
		alloc:     alloc,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		maxWeight: int64(maxConcurrent),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/forward", s.handleForward)
	mux.HandleFunc("/forward/arrow", s.handleForwardArrow)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func startServer(addr string, runner Runner, forwarder *client.Forwarder, maxConcurrent int) error {
	srv := NewServer(runner, forwarder, maxConcurrent)

	log.Info().Str("addr", addr).Int("max_concurrent", maxConcurrent).Msg("Starting Quiver Server")
	return http.ListenAndServe(addr, srv.Handler())
}

type codec struct {
	contentType string
	unmarshal   func([]byte, interface{}) error
	marshal     func(interface{}) ([]byte, error)
}

var (
	cborCodec    = codec{contentTypeCBOR, cbor.Unmarshal, cbor.Marshal}
	msgpackCodec = codec{contentTypeMsgpack, msgpack.Unmarshal, msgpack.Marshal}
)

func codecFor(r *http.Request) codec {
	if strings.HasPrefix(r.Header.Get("Content-Type"), contentTypeMsgpack) {
		return msgpackCodec
	}
	return cborCodec
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleForward")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("forward").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := codecFor(r)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("Bad Request: %v", err), http.StatusBadRequest)
		return
	}
	var sample graph.Sample
	if err := c.unmarshal(body, &sample); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (decode): %v", err), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("inputs", len(sample)))

	out, err := s.run(ctx, []graph.Sample{sample})
	if err != nil {
		span.RecordError(err)
		writeRunError(w, err)
		return
	}

	resp, err := c.marshal(out[0])
	if err != nil {
		http.Error(w, fmt.Sprintf("Encode failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", c.contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// handleForwardArrow runs each record of an Arrow IPC stream as one sample
// and answers with an IPC stream holding one output record per input
// record.
func (s *Server) handleForwardArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleForwardArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues("forward_arrow").Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	var batch []graph.Sample
	for reader.Next() {
		values, err := client.DecodeValues(reader.Record())
		if err != nil {
			http.Error(w, fmt.Sprintf("Bad record: %v", err), http.StatusBadRequest)
			return
		}
		batch = append(batch, values)
	}
	if err := reader.Err(); err != nil {
		log.Error().Err(err).Msg("Error reading Arrow stream")
		http.Error(w, "Stream error", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("sample_count", len(batch)))

	results, err := s.run(ctx, batch)
	if err != nil {
		span.RecordError(err)
		writeRunError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeArrow)
	writer := ipc.NewWriter(w, ipc.WithSchema(client.Schema), ipc.WithAllocator(s.alloc))
	for _, res := range results {
		rec := s.builder.BuildValuesRecord(res)
		if rec == nil {
			continue
		}
		err := writer.Write(rec)
		rec.Release()
		if err != nil {
			log.Error().Err(err).Msg("Failed to write Arrow response")
			break
		}
	}
	if err := writer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close Arrow response")
	}
}

// run admits the batch, runs it and forwards the outputs when a forwarder
// is configured. Forwarding errors are logged, not returned.
func (s *Server) run(ctx context.Context, batch []graph.Sample) ([]graph.Sample, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	weight := int64(len(batch))
	if weight > s.maxWeight {
		weight = s.maxWeight
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		return nil, errBusy
	}
	defer s.sem.Release(weight)

	results, err := s.runner.RunBatch(ctx, batch)
	if err != nil {
		return nil, err
	}
	samplesProcessed.Add(float64(len(batch)))

	if s.forwarder != nil {
		for _, res := range results {
			rec := s.builder.BuildValuesRecord(res)
			if rec == nil {
				continue
			}
			if err := s.forwarder.Forward(ctx, rec); err != nil && !errors.Is(err, client.ErrCircuitOpen) {
				log.Error().Err(err).Msg("Error forwarding outputs")
			}
			rec.Release()
		}
	}
	return results, nil
}

var errBusy = errors.New("server busy")

func writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBusy) {
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, fmt.Sprintf("Forward failed: %v", err), http.StatusUnprocessableEntity)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
