//go:build ignore

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/blob"
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/23skdu/longbow-quiver/internal/graph"
	"github.com/23skdu/longbow-quiver/internal/layer"
	"github.com/23skdu/longbow-quiver/internal/script"
	"github.com/23skdu/longbow-quiver/internal/simd"
)

// ParamDump summarizes one parameter blob for comparing parameter files.
type ParamDump struct {
	Name     string    `json:"name"`
	Shape    []int     `json:"shape"`
	FirstFew []float32 `json:"first_few"`
	LastFew  []float32 `json:"last_few"`
	Sum      float32   `json:"sum"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	netPath := flag.String("net", "net.yaml", "Path to the YAML net definition")
	weightsPath := flag.String("weights", "", "Parameter file to load before dumping")
	scriptPath := flag.String("script-path", ".", "Directory searched for Lua layer modules")
	flag.Parse()

	param, err := graph.LoadNetParameter(*netPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load net definition")
	}
	precision, err := param.PrecisionValue()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid precision")
	}

	env := layer.Env{
		Backend:   device.NewCPUBackend(),
		Interp:    script.Init(script.WithSearchPath(*scriptPath)),
		Precision: precision,
	}
	net, err := graph.NewNet(context.Background(), param, env)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build net")
	}
	defer net.Close()

	if *weightsPath != "" {
		if err := net.LoadParams(*weightsPath); err != nil {
			log.Fatal().Err(err).Msg("Failed to load parameters")
		}
	}

	var dumps []ParamDump
	for i, l := range net.Layers() {
		name := net.LayerParameters()[i].Name
		for j, p := range l.Params() {
			dumps = append(dumps, summarize(fmt.Sprintf("%s.%d", name, j), p))
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dumps); err != nil {
		log.Fatal().Err(err).Msg("Failed to write dump")
	}
}

func summarize(name string, b *blob.Blob) ParamDump {
	data := b.Data()
	d := ParamDump{Name: name, Shape: b.Shape()}
	if len(data) == 0 {
		return d
	}
	n := 5
	if len(data) < n {
		n = len(data)
	}
	d.FirstFew = data[:n]
	d.LastFew = data[len(data)-n:]
	d.Sum = simd.Sum(data)
	return d
}
