// Tetherd - the host-side bridge daemon. Connects out to an orchestrator,
// executes script fragments inside the editor host, and answers
// introspection queries. Runs against the in-memory demo host.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/voxleap/tether/bridge"
	"github.com/voxleap/tether/config"
	"github.com/voxleap/tether/engine"
	"github.com/voxleap/tether/host/memhost"
	"github.com/voxleap/tether/protocol"
	"github.com/voxleap/tether/scanner"
	"github.com/voxleap/tether/transport"
)

func main() {
	urlFlag := flag.String("url", "", "Orchestrator endpoint (overrides tether.toml)")
	rootFlag := flag.String("root", "", "Project root directory (overrides tether.toml)")
	codecFlag := flag.String("codec", "", "Wire codec: json or cbor (overrides tether.toml)")
	verbosity := flag.Int("v", 1, "Log verbosity (0=quiet, 2=debug)")
	seed := flag.Bool("seed", false, "Seed the demo project layout under the project root")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tetherd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Connects the demo editor host to an orchestrator and serves\n")
		fmt.Fprintf(os.Stderr, "commands and queries over one persistent connection.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tetherd                              # tether.toml settings\n")
		fmt.Fprintf(os.Stderr, "  tetherd -url ws://localhost:9001/ws  # explicit endpoint\n")
		fmt.Fprintf(os.Stderr, "  tetherd -root ./demo -seed           # seeded demo project\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)
	log := commonlog.GetLogger("tether")

	cfg, err := config.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *urlFlag != "" {
		cfg.Server.URL = *urlFlag
	}
	if *rootFlag != "" {
		cfg.Project.Root = *rootFlag
	}
	if *codecFlag != "" {
		cfg.Server.Codec = *codecFlag
	}
	if cfg.Project.Root == "" {
		cfg.Project.Root, err = os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	codec, err := protocol.NewCodec(cfg.Server.Codec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	h := memhost.New(cfg.Project.Root)
	if *seed {
		if err := h.SeedProject(); err != nil {
			fmt.Fprintf(os.Stderr, "Error seeding project: %v\n", err)
			os.Exit(1)
		}
	}

	client := transport.NewClient(transport.Config{
		URL:              cfg.Server.URL,
		Codec:            codec,
		InitialBackoff:   cfg.Transport.InitialBackoff(),
		MaxBackoff:       cfg.Transport.MaxBackoff(),
		FailureThreshold: cfg.Transport.FailureThreshold,
		FailureWindow:    cfg.Transport.FailureWindow(),
		Cooldown:         cfg.Transport.Cooldown(),
	})

	queue := bridge.NewQueue()
	runner := engine.NewRunner(h)
	scan := scanner.New(h)
	dispatcher := bridge.NewDispatcher(codec, queue, runner, scan, client)
	forwarder := bridge.NewLogForwarder(h, client, "tetherd")

	client.OnMessage(dispatcher.OnEnvelope)
	client.OnDisconnect(dispatcher.OnDisconnect)
	client.Start()

	log.Infof("tetherd connecting to %s (project %s, codec %s)",
		cfg.Server.URL, cfg.Project.Root, codec.Name())

	// The daemon's run loop stands in for the editor's update tick: one
	// queued action per tick, nothing more.
	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			queue.DrainOne()
		case sig := <-sigs:
			log.Noticef("received %s, shutting down", sig)
			forwarder.Stop()
			dispatcher.Stop()
			_ = client.Close()
			return
		}
	}
}
