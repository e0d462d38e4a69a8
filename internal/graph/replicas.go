package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-quiver/internal/blob"
	"github.com/23skdu/longbow-quiver/internal/layer"
)

// Replicas is a pool of nets built from one definition, one per worker.
// Layers reporting ShareInParallel are created once and shared by every
// replica; all other layers are per replica.
type Replicas struct {
	nets []*Net
	free chan *Net
}

// NewReplicas builds n nets. The first net creates every layer; later nets
// borrow its shareable layers.
func NewReplicas(ctx context.Context, param *NetParameter, env layer.Env, n int) (*Replicas, error) {
	if n < 1 {
		return nil, fmt.Errorf("replicas: need at least one, got %d", n)
	}

	first, err := NewNet(ctx, param, env)
	if err != nil {
		return nil, err
	}
	r := &Replicas{nets: []*Net{first}, free: make(chan *Net, n)}

	shared := make([]layer.Layer, len(first.layers))
	numShared := 0
	for i, l := range first.layers {
		if l.ShareInParallel() {
			shared[i] = l
			numShared++
		}
	}

	for i := 1; i < n; i++ {
		net, err := newNet(ctx, param, env, shared)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("replica %d: %w", i, err)
		}
		r.nets = append(r.nets, net)
	}
	for _, net := range r.nets {
		r.free <- net
	}

	log.Info().
		Str("net", param.Name).
		Int("replicas", n).
		Int("shared_layers", numShared).
		Msg("Replicas ready")
	return r, nil
}

// Size returns the number of replicas.
func (r *Replicas) Size() int { return len(r.nets) }

// Nets returns every replica, for setup such as loading parameters.
func (r *Replicas) Nets() []*Net { return append([]*Net(nil), r.nets...) }

// Acquire takes a free replica, blocking until one is available or ctx is
// done.
func (r *Replicas) Acquire(ctx context.Context) (*Net, error) {
	start := time.Now()
	select {
	case net := <-r.free:
		replicaWaitSeconds.Observe(time.Since(start).Seconds())
		replicasBusy.Inc()
		return net, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a replica taken by Acquire.
func (r *Replicas) Release(net *Net) {
	replicasBusy.Dec()
	r.free <- net
}

// LoadParams loads the same parameter file into every replica.
func (r *Replicas) LoadParams(path string) error {
	for i, net := range r.nets {
		if err := net.LoadParams(path); err != nil {
			return fmt.Errorf("replica %d: %w", i, err)
		}
	}
	return nil
}

// Sample maps blob names to values.
type Sample map[string][]float32

// RunBatch runs a forward pass per sample, spreading samples across the
// replicas on separate goroutines. Results hold every net output, in input
// order.
func (r *Replicas) RunBatch(ctx context.Context, batch []Sample) ([]Sample, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	results := make([]Sample, len(batch))

	workers := len(r.nets)
	perWorker := (len(batch) + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := w * perWorker
		if start >= len(batch) {
			break
		}
		end := start + perWorker
		if end > len(batch) {
			end = len(batch)
		}

		g.Go(func() error {
			net, err := r.Acquire(ctx)
			if err != nil {
				return err
			}
			defer r.Release(net)

			for i := start; i < end; i++ {
				out, err := net.Run(ctx, batch[i])
				if err != nil {
					return fmt.Errorf("sample %d: %w", i, err)
				}
				results[i] = out
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Run sets the inputs named in sample, runs a forward pass and returns a
// copy of every output.
func (n *Net) Run(ctx context.Context, sample Sample) (Sample, error) {
	for name, values := range sample {
		if err := n.SetInput(name, values); err != nil {
			return nil, err
		}
	}
	if err := n.Forward(ctx); err != nil {
		return nil, err
	}
	return copyValues(n.Outputs()), nil
}

func copyValues(blobs map[string]*blob.Blob) Sample {
	out := make(Sample, len(blobs))
	for name, b := range blobs {
		out[name] = append([]float32(nil), b.Data()...)
	}
	return out
}

// Close closes every replica. Shared layers are closed once, by the net
// that created them. Replicas still acquired are closed too; callers must
// stop using them first.
func (r *Replicas) Close() {
	for _, net := range r.nets {
		net.Close()
	}
	r.nets = nil
}
