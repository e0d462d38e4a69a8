//go:build cgo

package main

// Registers the system BLAS (OpenBLAS, Accelerate) behind gonum's blas32
// so CPU tensor products go through cgo.

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas32.Use(netlib.Implementation{})
	log.Debug().Msg("CGO BLAS enabled (netlib)")
}
