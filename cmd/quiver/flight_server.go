package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/graph"
)

// QuiverFlightServer runs records received over DoPut through the net.
// Each record is one sample in the client.Schema layout.
type QuiverFlightServer struct {
	flight.BaseFlightServer
	runner    Runner
	forwarder *client.Forwarder
	builder   *client.RecordBatchBuilder
	alloc     memory.Allocator
}

func NewQuiverFlightServer(runner Runner, forwarder *client.Forwarder) *QuiverFlightServer {
	alloc := memory.NewGoAllocator()
	return &QuiverFlightServer{
		runner:    runner,
		forwarder: forwarder,
		builder:   client.NewRecordBatchBuilder(alloc),
		alloc:     alloc,
	}
}

func (s *QuiverFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	return fmt.Errorf("DoExchange not implemented")
}

func (s *QuiverFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	ctx := stream.Context()

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	for reader.Next() {
		rec := reader.Record()
		sample, err := client.DecodeValues(rec)
		if err != nil {
			return err
		}
		log.Debug().Int64("rows", rec.NumRows()).Msg("DoPut received sample")

		if err := s.process(ctx, sample); err != nil {
			return err
		}
	}
	return reader.Err()
}

func (s *QuiverFlightServer) process(ctx context.Context, sample graph.Sample) error {
	results, err := s.runner.RunBatch(ctx, []graph.Sample{sample})
	if err != nil {
		return err
	}
	samplesProcessed.Inc()

	if s.forwarder == nil {
		return nil
	}
	rec := s.builder.BuildValuesRecord(results[0])
	if rec == nil {
		return nil
	}
	defer rec.Release()
	if err := s.forwarder.Forward(ctx, rec); err != nil && !errors.Is(err, client.ErrCircuitOpen) {
		log.Error().Err(err).Msg("Error forwarding outputs")
	}
	return nil
}

func StartFlightServer(addr string, runner Runner, forwarder *client.Forwarder) error {
	server := flight.NewFlightServer()
	server.RegisterFlightService(NewQuiverFlightServer(runner, forwarder))

	if err := server.Init(addr); err != nil {
		return fmt.Errorf("init Flight server: %w", err)
	}

	log.Info().Str("addr", addr).Msg("Starting Quiver Flight Server")
	return server.Serve()
}
