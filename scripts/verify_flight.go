//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/client"
)

// Sends one sample to a running `quiver -flight` server. Usage:
//
//	go run scripts/verify_flight.go localhost:9090 data 6
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr, input, count := "localhost:9090", "data", 6
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}
	if len(os.Args) > 2 {
		input = os.Args[2]
	}
	if len(os.Args) > 3 {
		if _, err := fmt.Sscanf(os.Args[3], "%d", &count); err != nil {
			log.Fatal().Err(err).Msg("Invalid value count")
		}
	}

	log.Info().Str("addr", addr).Msg("Connecting to Quiver Flight Server")

	var c *client.FlightClient
	var err error
	for i := 0; i < 10; i++ {
		c, err = client.NewFlightClient(addr)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Connection failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect after retries")
	}
	defer c.Close()

	values := make([]float32, count)
	for i := range values {
		values[i] = float32(i) / 10
	}
	rec := client.NewRecordBatchBuilder(memory.NewGoAllocator()).
		BuildValuesRecord(map[string][]float32{input: values})
	defer rec.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := c.DoPut(ctx, "verify", rec); err != nil {
		log.Fatal().Err(err).Msg("DoPut failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Sample accepted")

	fmt.Println("VERIFICATION PASSED")
}
