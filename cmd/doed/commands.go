package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/GoSim-25-26J-441/doe-core/internal/campaign"
	"github.com/GoSim-25-26J-441/doe-core/internal/doed"
	"github.com/GoSim-25-26J-441/doe-core/internal/metrics"
	"github.com/GoSim-25-26J-441/doe-core/pkg/config"
	"github.com/GoSim-25-26J-441/doe-core/pkg/logger"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

func buildServeCmd() *cobra.Command {
	var (
		httpAddr  string
		grpcAddr  string
		logLevel  string
		storeFlag string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the campaign daemon (HTTP and gRPC)",
		Example: `  doed serve
  doed serve --store sqlite:/var/lib/doe/campaigns.db --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), httpAddr, grpcAddr, logLevel, storeFlag)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", ":50051", "gRPC listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&storeFlag, "store", "memory", "campaign store: memory or sqlite:<path>")
	return cmd
}

func runServe(parent context.Context, httpAddr, grpcAddr, logLevel, storeFlag string) error {
	if parent == nil {
		parent = context.Background()
	}
	logger.SetDefault(logger.NewText(logLevel, os.Stdout))

	sc, err := doed.ParseStoreFlag(storeFlag)
	if err != nil {
		return err
	}
	st, err := doed.OpenStore(sc)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := doed.NewManager(st, metrics.Default())
	defer manager.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	doed.RegisterDesignServiceServer(grpcServer, doed.NewDesignGRPCServer(manager))

	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen for gRPC on %s: %w", grpcAddr, err)
	}

	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           doed.NewHTTPServer(manager, nil).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("gRPC server listening", "addr", grpcAddr)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "error", err)
			stop()
		}
	}()

	go func() {
		logger.Info("HTTP server listening", "addr", httpAddr, "store", sc.Driver)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	return nil
}

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a campaign offline against the configured truth model",
		Long: `Run a whole campaign in-process. Experiments are answered by the catalog
simulator of the model named in the truth section, at its parameters plus
seeded Gaussian noise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOffline(cmd.Context(), configPath, asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "campaign configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the final campaign snapshot as JSON")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runOffline(parent context.Context, configPath string, asJSON bool, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger.SetDefault(logger.NewText(cfg.LogLevel, os.Stderr))

	runner, err := doed.NewTruthRunner(cfg)
	if err != nil {
		return err
	}
	st, err := doed.OpenStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	raw, err := config.MarshalConfigYAML(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := doed.NewCampaign(ctx, "", cfg, runner, nil,
		campaign.WithStore(st),
		campaign.WithConfigText(string(raw)))
	if err != nil {
		return err
	}
	runErr := c.Run(ctx)

	snap := c.Snapshot()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}
	} else {
		printSummary(out, snap)
	}
	return runErr
}

func printSummary(out io.Writer, snap campaign.Snapshot) {
	fmt.Fprintf(out, "campaign %s: %s after %d experiments\n", snap.ID, snap.State, snap.Round)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUND\tDESIGN\tOUTPUT")
	for _, o := range snap.Data.Observations {
		fmt.Fprintf(tw, "%d\t%v\t%v\n", o.Round, []float64(o.Design), o.Output)
	}
	_ = tw.Flush()
	for i, id := range snap.ModelIDs {
		if i < len(snap.Probabilities) {
			fmt.Fprintf(out, "P(%s) = %.4f\n", id, snap.Probabilities[i])
		}
	}
}

func buildScoreCmd() *cobra.Command {
	var (
		configPath string
		designs    []string
	)
	cmd := &cobra.Command{
		Use:     "score",
		Short:   "Evaluate the discrimination criterion at given designs",
		Example: `  doed score --config campaign.yaml --design 0.5,1 --design 0.9,0.2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), configPath, designs, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "campaign configuration file")
	cmd.Flags().StringArrayVar(&designs, "design", nil, "comma separated design point (repeatable)")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("design")
	return cmd
}

func runScore(ctx context.Context, configPath string, raw []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger.SetDefault(logger.NewText(cfg.LogLevel, os.Stderr))

	designs := make([]models.DesignPoint, len(raw))
	for i, r := range raw {
		v, err := utils.ParseFloats(r)
		if err != nil {
			return fmt.Errorf("design %d: %w", i, err)
		}
		designs[i] = v
	}
	scores, err := doed.ScoreDesigns(ctx, cfg, designs, nil)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DESIGN\tSCORE")
	for i, d := range designs {
		fmt.Fprintf(tw, "%v\t%.6g\n", []float64(d), scores[i])
	}
	return tw.Flush()
}
