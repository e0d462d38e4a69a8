package main

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/layer"
	"github.com/23skdu/longbow-quiver/internal/script"
)

var (
	netPath       = flag.String("net", "net.yaml", "Path to the YAML net definition")
	weightsPath   = flag.String("weights", "", "Path to a parameter file to load (optional)")
	scriptPath    = flag.String("script-path", ".", "Directory searched for Lua layer modules")
	iterations    = flag.Int("iterations", 1, "Number of passes in batch mode")
	backward      = flag.Bool("backward", false, "Run a backward pass after each forward pass")
	numReplicas   = flag.Int("replicas", 1, "Number of net replicas serving requests")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	serverAddr    = flag.String("server", "", "Flight server receiving outputs (e.g. localhost:3000)")
	datasetName   = flag.String("dataset", "quiver_outputs", "Target dataset name on server")
	maxConcurrent = flag.Int("max-concurrent", 64, "Maximum number of samples processed at once")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	logLevel      = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer func() {
			_ = shutdown(context.Background())
		}()
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx := context.Background()

	param, err := graph.LoadNetParameter(*netPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load net definition")
	}
	precision, err := param.PrecisionValue()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid precision")
	}

	interp := script.Init(script.WithSearchPath(*scriptPath), script.WithLogger(log.Logger))
	env := layer.Env{
		Backend:   device.NewCPUBackend(),
		Interp:    interp,
		Precision: precision,
	}

	replicas, err := graph.NewReplicas(ctx, param, env, *numReplicas)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build net")
	}
	defer replicas.Close()

	if *weightsPath != "" {
		if err := replicas.LoadParams(*weightsPath); err != nil {
			log.Fatal().Err(err).Msg("Failed to load parameters")
		}
	}

	var forwarder *client.Forwarder
	if *serverAddr != "" {
		fc, err := client.NewFlightClient(*serverAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		forwarder = client.NewForwarder(fc, client.NewCircuitBreaker(5, 30*time.Second), *datasetName)
		defer func() {
			if err := forwarder.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		log.Info().Str("addr", *serverAddr).Str("dataset", *datasetName).Msg("Forwarding outputs to Flight server")
	}

	if *listenAddr != "" || *flightAddr != "" {
		errc := make(chan error, 2)
		if *listenAddr != "" {
			go func() { errc <- startServer(*listenAddr, replicas, forwarder, *maxConcurrent) }()
		}
		if *flightAddr != "" {
			go func() { errc <- StartFlightServer(*flightAddr, replicas, forwarder) }()
		}
		if err := <-errc; err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
		return
	}

	if err := runBatch(ctx, replicas.Nets()[0], forwarder, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Batch run failed")
	}
}

// runBatch fills the inputs with a deterministic ramp, runs the configured
// passes and emits the outputs of the last one.
func runBatch(ctx context.Context, net *graph.Net, forwarder *client.Forwarder, out io.Writer) error {
	for name, b := range net.Inputs() {
		values := make([]float32, b.Count())
		for i := range values {
			values[i] = float32(i%10) / 10
		}
		if err := net.SetInput(name, values); err != nil {
			return err
		}
	}

	start := time.Now()
	for i := 0; i < *iterations; i++ {
		iterStart := time.Now()
		if err := net.Forward(ctx); err != nil {
			return err
		}
		if *backward {
			net.ClearParamDiffs()
			if err := net.Backward(ctx); err != nil {
				return err
			}
		}
		log.Debug().Int("iter", i).Dur("elapsed", time.Since(iterStart)).Msg("Pass complete")
	}
	elapsed := time.Since(start)
	log.Info().
		Str("net", net.Name()).
		Int("iterations", *iterations).
		Bool("backward", *backward).
		Dur("elapsed", elapsed).
		Msg("Batch run complete")

	rec, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(net.Outputs())
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	defer rec.Release()

	if forwarder != nil {
		ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		if err := forwarder.Forward(ctx, rec); err != nil {
			return err
		}
		log.Info().Int64("blobs", rec.NumRows()).Str("dataset", forwarder.Dataset()).Msg("Sent outputs to Flight server")
		return nil
	}
	return writeArrowStream(out, rec)
}

func writeArrowStream(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("quiver"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
