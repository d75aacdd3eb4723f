// Command pilatusd wires the recipe service, actor system, and device
// spawner into a single running engine. It registers a small set of
// built-in device handlers for demonstration purposes; a real deployment
// replaces registerBuiltinHandlers with its own protocol-specific handlers
// and links them into this same main, the way a Synse plugin links its
// device handlers into sdk.NewPlugin.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pilatus-run/pilatus/actor"
	"github.com/pilatus-run/pilatus/config"
	"github.com/pilatus-run/pilatus/device"
	"github.com/pilatus-run/pilatus/logging"
	"github.com/pilatus-run/pilatus/recipe"
	"github.com/pilatus-run/pilatus/runner"
)

var (
	flagDebug     bool
	flagVersion   bool
	flagDryRun    bool
	flagConfigDir string
)

const version = "0.1.0"

func init() {
	flag.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	flag.BoolVar(&flagVersion, "version", false, "print version information and exit")
	flag.BoolVar(&flagDryRun, "dry-run", false, "load configuration and validate handlers, then exit")
	flag.StringVar(&flagConfigDir, "config", ".", "directory containing engine.yaml")
}

func main() {
	flag.Parse()

	if flagVersion {
		fmt.Println("pilatusd", version)
		return
	}

	logging.SetDebug(flagDebug)
	log := logging.Get("pilatusd")

	settings, err := config.LoadEngineSettings(flagConfigDir)
	if err != nil {
		log.WithError(err).Fatal("failed to load engine settings")
	}

	registry := device.NewRegistry()
	registerBuiltinHandlers(registry)

	if flagDryRun {
		log.Info("dry-run successful")
		return
	}

	if err := os.MkdirAll(settings.Root, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create recipe root")
	}

	svc, err := recipe.NewService(settings.Root, registry)
	if err != nil {
		log.WithError(err).Fatal("failed to open recipe service")
	}

	system := actor.NewSystem()
	spawner := device.NewSpawner(system, registry, settings.MailboxCapacity)
	svc.AttachNotifier(device.NewNotifier(system))

	r := runner.New(svc, spawner, system)

	ctx, cancel := context.WithCancel(context.Background())
	go waitForSignal(cancel)

	log.WithField("root", settings.Root).Info("starting engine")
	if err := r.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("engine exited with error")
	}
	log.Info("engine stopped")
}

func waitForSignal(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logging.Get("pilatusd").Info("received shutdown signal")
	cancel()
}

// registerBuiltinHandlers registers a "random" device type whose reads
// return a pseudo-random value and whose writes are logged, mirroring the
// style of the examples/simple_plugin reference handler without retaining
// its broken relative imports.
func registerBuiltinHandlers(registry *device.Registry) {
	registry.MustRegister(&device.Handler{
		DeviceType: "random",
		Validate: func(ctx context.Context, params recipe.ParamsWithoutVariables) error {
			return nil
		},
		Handlers: func(dctx device.Context) actor.HandlerTable {
			log := logging.Get("random device").WithField("device_id", dctx.DeviceID.String())
			return actor.HandlerTable{
				"read": actor.Handler{Plain: func(ctx context.Context, body interface{}) (interface{}, error) {
					value := strconv.Itoa(rand.Int())
					return map[string]interface{}{
						"reading":   value,
						"timestamp": time.Now().UTC().Format(time.RFC3339),
					}, nil
				}},
				"write": actor.Handler{Plain: func(ctx context.Context, body interface{}) (interface{}, error) {
					log.WithField("data", body).Info("write")
					return nil, nil
				}},
				actor.MessageTypeName[device.UpdateParamsMessage](): actor.Handler{Plain: func(ctx context.Context, body interface{}) (interface{}, error) {
					return nil, nil
				}},
			}
		},
	})
}
