package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nci/geoserve/utils"
	"github.com/nci/geoserve/worker/wpsservice"
	"github.com/nci/geoserve/wps"
	"github.com/nci/geoserve/wps/process"
	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"
)

func main() {
	cmd := &cli.Command{
		Name:  "geoserve-grpc-server",
		Usage: "WPS worker node executing processes over gRPC",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 6000, Usage: "gRPC server listening port."},
			&cli.IntFlag{Name: "pool", Aliases: []string{"n"}, Value: 8, Usage: "Maximum number of requests handled concurrently."},
			&cli.StringFlag{Name: "conf_dir", Value: utils.EtcDir, Usage: "Server config directory."},
			&cli.BoolFlag{Name: "debug", Usage: "verbose logging"},
		},
		Action: serve,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	config, err := utils.LoadConfig(cmd.String("conf_dir"))
	if err != nil {
		return fmt.Errorf("Error in loading config files: %v", err)
	}

	reg := wps.NewRegistry()
	process.RegisterAll(reg, process.Deps{MaxFeatures: config.WPS.MaxFeatures})
	manager := wps.NewExecutionManager(reg, config.WPS, nil, nil)
	manager.Verbose = cmd.Bool("debug")
	pool := wpsservice.CreateProcessPool(int(cmd.Int("pool")), manager, cmd.Bool("debug"))

	s := grpc.NewServer()
	wpsservice.RegisterProcessorServer(s, &wpsservice.Server{Pool: pool})

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cmd.Int("port")))
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-signals
		log.Printf("received %v, stopping", sig)
		s.GracefulStop()
	}()

	log.Printf("WPS worker listening on %s with %d processes", lis.Addr(), len(reg.List()))
	if err := s.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %v", err)
	}
	pool.DeleteProcessPool()
	return nil
}
