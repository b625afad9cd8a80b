package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ppiankov/ledgerwatch/internal/httpapi"
	"github.com/ppiankov/ledgerwatch/internal/logging"
	"github.com/ppiankov/ledgerwatch/internal/server"
)

const shutdownTimeout = 30 * time.Second

var (
	serveListen string
	serveGRPC   string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveGRPC, "grpc", "", "gRPC listen address (overrides config; \"off\" disables)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC transaction API",
	Long: "Serves POST /v1/transactions over HTTP and ledgerwatch.v1.LedgerService over gRPC.\n" +
		"Policy and denylist files are hot-reloaded on change.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.Logger.Error("shutdown incomplete", zap.Error(err))
		}
		_ = a.Logger.Sync()
	}()

	httpAddr := a.Config.Listen
	if serveListen != "" {
		httpAddr = serveListen
	}
	grpcAddr := a.Config.GRPCListen
	if serveGRPC != "" {
		grpcAddr = serveGRPC
	}

	api := httpapi.New(a)
	var rpc *server.Server
	if grpcAddr != "off" && grpcAddr != "" {
		rpc = server.New(a)
	}

	reloader, err := server.NewReloader(a, a.Logger.Named(logging.Ops), a.Config.PolicyPath, a.Config.DenylistPath)
	if err != nil {
		a.Logger.Warn("hot-reload disabled", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	if reloader != nil {
		g.Go(func() error { return reloader.Run(gctx) })
	}
	g.Go(func() error {
		if err := api.Listen(httpAddr); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if rpc != nil {
		g.Go(func() error {
			if err := rpc.Serve(grpcAddr); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if rpc != nil {
			rpc.GracefulStop()
		}
		return api.Shutdown(shutdownCtx)
	})

	a.Logger.Info("ledgerwatch serving",
		zap.String("http", httpAddr),
		zap.String("grpc", grpcAddr),
		zap.Strings("networks", a.Config.NetworkNames()),
		zap.String("policy_hash", a.Pipeline.Policy()),
	)
	return g.Wait()
}
