package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nmxmxh/sporemesh/internal/cli/ui"
	"github.com/nmxmxh/sporemesh/internal/metrics"
	"github.com/nmxmxh/sporemesh/internal/node"
	"github.com/nmxmxh/sporemesh/pkg/auction"
	"github.com/nmxmxh/sporemesh/pkg/auth"
	"github.com/nmxmxh/sporemesh/pkg/executor"
	"github.com/nmxmxh/sporemesh/pkg/metabolism"
	"github.com/nmxmxh/sporemesh/pkg/state"
	"github.com/nmxmxh/sporemesh/pkg/storage"
	"github.com/nmxmxh/sporemesh/pkg/transport"
	"github.com/nmxmxh/sporemesh/pkg/wire"
)

func runCmd() *cobra.Command {
	var identityPath string
	var storagePath string
	var listenAddr string
	var metricsAddr string
	var mainsPowered bool
	var computeUnits uint32
	var bidPolicy string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a mesh node in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			id, err := auth.LoadOrCreateIdentity(identityPath)
			if err != nil {
				return fmt.Errorf("load or create identity: %w", err)
			}

			tr, err := transport.NewLibP2PTransport(ctx, id, listenAddr)
			if err != nil {
				return fmt.Errorf("start transport: %w", err)
			}

			var log *storage.Log
			if storagePath != "" {
				log, err = storage.Open(storagePath)
				if err != nil {
					return fmt.Errorf("open storage: %w", err)
				}
			}

			metab := metabolism.NewBattery(3.7, 3000, mainsPowered)
			doc := state.NewDocument()

			n := node.New(wire.PeerID(id.PeerID.String()), node.DefaultConfig(), metab, tr, executor.NewSandboxExecutor(), doc, log, slog.Default())

			var policy auction.Policy
			switch bidPolicy {
			case "emergent":
				policy = auction.NewEmergent(auth.NewDelegationValidator(false))
			default:
				policy = auction.NewQuorumSensing()
			}
			n.SetBidder(auction.NewBidder(wire.PeerID(id.PeerID.String()), metab, []wire.Capability{wire.ComputeCapability(computeUnits)}, policy))

			reg := prometheus.NewRegistry()
			n.SetMetrics(metrics.NewMeshGauges(reg), metrics.NewEnergyGauge(reg))

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler(reg))
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						slog.Error("metrics server", "error", err)
					}
				}()
				go func() {
					<-ctx.Done()
					_ = srv.Close()
				}()
			}

			fmt.Print(ui.KeyValues("",
				ui.KV("peer id", ui.Accent(id.PeerID.String())),
				ui.KV("listen", listenAddr),
				ui.KV("metrics", metricsAddr),
			))

			n.Run(ctx)
			n.Stop()
			if log != nil {
				_ = log.Close()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&identityPath, "identity", "./sporenode.key", "path to the node's persisted identity")
	cmd.Flags().StringVar(&storagePath, "storage", "", "path to the node's sqlite message log (disabled if empty)")
	cmd.Flags().StringVar(&listenAddr, "listen", "/ip4/0.0.0.0/tcp/0", "libp2p listen multiaddr")
	cmd.Flags().StringVar(&metricsAddr, "metrics", ":9090", "address to serve /metrics on (disabled if empty)")
	cmd.Flags().BoolVar(&mainsPowered, "mains", false, "treat this node as mains-powered (full energy always)")
	cmd.Flags().Uint32Var(&computeUnits, "compute-units", 100, "compute capability this node offers for auctioned tasks")
	cmd.Flags().StringVar(&bidPolicy, "bid-policy", "quorum", "task bidding policy: quorum or emergent")
	return cmd
}
