package client

import (
	"context"
	"errors"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned by Forward while the breaker rejects sends.
var ErrCircuitOpen = errors.New("forwarding suspended: circuit open")

// Putter is the subset of FlightClient used by Forwarder.
type Putter interface {
	DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error
	Close() error
}

// Forwarder sends records to one dataset through a circuit breaker.
type Forwarder struct {
	putter  Putter
	breaker *CircuitBreaker
	dataset string
}

// NewForwarder wraps putter. A nil breaker means every send is attempted.
func NewForwarder(putter Putter, breaker *CircuitBreaker, dataset string) *Forwarder {
	return &Forwarder{putter: putter, breaker: breaker, dataset: dataset}
}

// Dataset returns the destination dataset name.
func (f *Forwarder) Dataset() string { return f.dataset }

// Forward sends record unless the breaker is open. Nil records are ignored.
func (f *Forwarder) Forward(ctx context.Context, record arrow.RecordBatch) error {
	if record == nil {
		return nil
	}
	if f.breaker != nil && !f.breaker.Allow() {
		recordsSkipped.Inc()
		return ErrCircuitOpen
	}

	if err := f.putter.DoPut(ctx, f.dataset, record); err != nil {
		forwardErrors.Inc()
		if f.breaker != nil {
			f.breaker.Failure()
			if f.breaker.State() == StateOpen {
				log.Warn().Err(err).Str("dataset", f.dataset).Msg("Flight forwarding suspended")
			}
		}
		return err
	}

	recordsForwarded.Inc()
	if f.breaker != nil {
		f.breaker.Success()
	}
	return nil
}

// Close closes the underlying client.
func (f *Forwarder) Close() error {
	return f.putter.Close()
}
