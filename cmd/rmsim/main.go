// Command rmsim runs an in-process resource manager that answers TM-SDN
// resource requests, for labs and integration tests.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/signalsfoundry/icn-bootstrap/internal/logging"
	"github.com/signalsfoundry/icn-bootstrap/internal/resourcemanager"
	"github.com/signalsfoundry/icn-bootstrap/timectrl"
)

func main() {
	listenAddr := flag.String("listen", ":12345", "TCP address the resource manager listens on")
	report := flag.Duration("report", 30*time.Second, "Interval between allocation summaries; 0 disables them")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Error(ctx, "failed to listen", logging.String("addr", *listenAddr), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, lis, *report, log); err != nil {
		log.Error(ctx, "resource manager exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, lis net.Listener, report time.Duration, log logging.Logger) error {
	srv := resourcemanager.NewServer(nil, log)

	ticks := timectrl.NewTickSource(clock.NewClock(), report)
	ticks.AddListener(func(time.Time) {
		log.Info(ctx, "allocation summary", logging.Int("lid_positions_in_use", srv.Allocator().Allocated()))
	})
	go func() {
		for range ticks.Start(ctx) {
		}
	}()

	log.Info(ctx, "resource manager listening", logging.String("addr", lis.Addr().String()))
	return srv.Serve(ctx, lis)
}
