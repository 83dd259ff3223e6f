package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/janteras/d-loop-sub002/pkg/api"
	"github.com/janteras/d-loop-sub002/pkg/config"
	"github.com/janteras/d-loop-sub002/pkg/events"
	"github.com/janteras/d-loop-sub002/pkg/fees"
	"github.com/janteras/d-loop-sub002/pkg/governance"
	"github.com/janteras/d-loop-sub002/pkg/governance/executor"
	"github.com/janteras/d-loop-sub002/pkg/governance/store"
	"github.com/janteras/d-loop-sub002/pkg/nodes"
	"github.com/janteras/d-loop-sub002/pkg/pricefeed"
	"github.com/janteras/d-loop-sub002/pkg/rewards"
	"github.com/janteras/d-loop-sub002/pkg/roles"
	"github.com/janteras/d-loop-sub002/pkg/token"
	"github.com/janteras/d-loop-sub002/pkg/treasury"
)

// ValueToken and RewardToken name the two ledgers held in custody
const (
	ValueToken  = "dloop"
	RewardToken = "dloop-reward"
)

func main() {
	root := &cobra.Command{
		Use:   "dloopd",
		Short: "Governance, reward and fee engine daemon",
	}
	root.AddCommand(serveCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.APIPort = port
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().IntVar(&port, "port", 8080, "API listen port")
	return cmd
}

func serve(cfg *config.Config) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	recorder := events.NewRecorder(log)
	registry := roles.NewRegistry(cfg.GenesisAdmin, recorder)

	// the executor identity dispatches approved proposal actions, so it
	// holds the roles those actions require
	for _, role := range []roles.Role{roles.RoleAdmin, roles.RoleTreasurer, roles.RoleDistributor} {
		if err := registry.Grant(role, cfg.ExecutorAddress, cfg.GenesisAdmin); err != nil {
			return err
		}
	}

	valueLedger := token.NewSystem()
	rewardLedger := token.NewSystem()

	// genesis allocation: without minted supply every proposal would miss
	// quorum and the reward pool could not pay out
	for identity, amount := range cfg.Genesis.Balances {
		valueLedger.Mint(identity, amount)
	}
	rewardLedger.Mint(cfg.RewardPool, cfg.Genesis.RewardPoolBalance)

	nodeManager := nodes.NewManager(cfg.Nodes.MinStake, cfg.Nodes.PrivilegedReputation)
	feed := pricefeed.NewStatic()

	custody := treasury.New(cfg.TreasuryAddress, registry, recorder, log)
	custody.RegisterLedger(ValueToken, valueLedger)
	custody.RegisterLedger(RewardToken, rewardLedger)

	feeCalc, err := fees.NewCalculator(map[fees.OperationKind]uint64{
		fees.OpInvest:        cfg.Fees.InvestBps,
		fees.OpDivest:        cfg.Fees.DivestBps,
		fees.OpEmergencyExit: cfg.Fees.EmergencyExitBps,
	}, registry, recorder)
	if err != nil {
		return err
	}
	feeProc, err := fees.NewProcessor(feeCalc, registry, recorder, log,
		cfg.TreasuryAddress, cfg.RewardPool, cfg.Fees.TreasuryShareBps, cfg.Fees.RewardShareBps)
	if err != nil {
		return err
	}

	distributor, err := rewards.NewDistributor(registry, nodeManager, rewardLedger, recorder, log,
		cfg.RewardPool, cfg.Rewards.Cooldown(), rewards.Config{
			BaseReward:              cfg.Rewards.BaseReward,
			ParticipationBonusBps:   cfg.Rewards.ParticipationBonusBps,
			QualityMultiplierBps:    cfg.Rewards.QualityMultiplierBps,
			PrivilegedMultiplierBps: cfg.Rewards.PrivilegedMultiplierBps,
			RewardCap:               cfg.Rewards.RewardCap,
		})
	if err != nil {
		return err
	}

	params := governance.NewParams(
		cfg.Governance.VotingPeriod(),
		cfg.Governance.QuorumBps,
		cfg.Governance.ExecutionDelay(),
		cfg.Governance.ExecutionWindow(),
	)
	dispatcher := executor.New(nodeManager, custody, feeCalc, distributor, params, feed,
		cfg.Pricefeed.MaxQuoteAge(), cfg.ExecutorAddress, log)
	gov := governance.NewService(store.NewMemoryStore(), registry, valueLedger,
		dispatcher, recorder, params, log)

	server := api.NewServer(gov, distributor, feeCalc, feeProc, custody, registry,
		nodeManager, feed, valueLedger, recorder, cfg.APIPort, log)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		return server.Stop()
	}
}
