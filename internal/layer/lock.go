package layer

import (
	"sync"

	"github.com/23skdu/longbow-quiver/internal/blob"
)

// Every Script layer of a precision shares one exclusive lock, so no two
// lifecycle calls on Script layers of that precision ever overlap.
var bridgeLocks = map[blob.Precision]*sync.Mutex{
	blob.FP32: {},
	blob.FP16: {},
}

func bridgeLock(p blob.Precision) *sync.Mutex {
	mu, ok := bridgeLocks[p]
	if !ok {
		panic("layer: no bridge lock for precision " + p.String())
	}
	return mu
}
