package layer

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/23skdu/longbow-quiver/internal/blob"
)

// fill initializes b according to f. fanIn and fanOut size the xavier range.
func fill(b *blob.Blob, f Filler, fanIn, fanOut int) error {
	switch f.Type {
	case "", "constant":
		b.Fill(f.Value)
	case "xavier":
		xavierInit(b, fanIn, fanOut)
	default:
		return fmt.Errorf("unknown filler type %q", f.Type)
	}
	return nil
}

// xavierInit draws uniformly from ±sqrt(6 / (fanIn + fanOut)).
func xavierInit(b *blob.Blob, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))

	data := make([]float32, b.Count())
	for i := range data {
		data[i] = float32((rand.Float64()*2 - 1) * limit)
	}
	// Count always matches, SetData only fails on size.
	_ = b.SetData(data)
}
