package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/bbspoints/config"
	"github.com/cppla/bbspoints/models"
	"github.com/cppla/bbspoints/mq"
	"github.com/cppla/bbspoints/routes"
	"github.com/cppla/bbspoints/services"
	"github.com/cppla/bbspoints/stores"
	"github.com/cppla/bbspoints/utils"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the JSON config file")
	role := flag.String("role", "", "process role: likes, points or all (overrides config)")
	rebuild := flag.Bool("rebuild-board", false, "rebuild the leaderboard from the ledger and exit")
	flag.Parse()

	if err := run(*configPath, *role, *rebuild); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, role string, rebuild bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if role != "" {
		cfg.Role = role
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	// Initialize logger early
	logger, err := utils.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	rc, err := utils.NewRedis(cfg)
	if err != nil {
		return err
	}
	defer rc.Close()

	runsPoints := cfg.Role == config.RolePoints || cfg.Role == config.RoleAll
	runsLikes := cfg.Role == config.RoleLikes || cfg.Role == config.RoleAll

	var db *gorm.DB
	if runsPoints || rebuild {
		db, err = config.OpenDatabase(cfg, &models.LedgerEntry{}, &models.EntityLikeCount{})
		if err != nil {
			return err
		}
		defer func() { _ = config.CloseDatabase(db) }()
	}

	ledger := stores.NewLedgerStore(db)
	board := stores.NewLeaderboardStore(rc)
	audit := services.NewAuditService(ledger, board, logger)

	if rebuild {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		n, err := audit.Rebuild(ctx)
		if err != nil {
			return fmt.Errorf("rebuild leaderboard: %w", err)
		}
		logger.Info("rebuild finished", zap.Int("users", n))
		return nil
	}

	session := mq.NewSession(mq.Config{
		URL:      cfg.RabbitMQURL,
		Exchange: cfg.ExchangeName,
		Prefetch: cfg.ConsumerPrefetch,
		Name:     "bbspoints-" + cfg.Role,
		Declare:  mq.Bindings(),
		Policy: mq.ReconnectPolicy{
			InitialBackoff: cfg.ReconnectInitial,
			MaxBackoff:     cfg.ReconnectMax,
			Multiplier:     2,
			Jitter:         0.2,
			MaxRetries:     cfg.ReconnectMaxTries,
			Cooldown:       cfg.ReconnectCooldown,
		},
	}, logger)

	deps := routes.Deps{
		Config:      cfg,
		Logger:      logger,
		Revocations: utils.NewTokenRevocations(rc),
	}
	if runsLikes {
		deps.Likes = services.NewLikeService(stores.NewEngagementStore(rc), session, cfg.LikeRewardPoints, logger)
		if db != nil {
			deps.Likes.UseDurableCounts(stores.NewLikeCountStore(db))
		}
	}
	if runsPoints {
		dedup := stores.NewDedupStore(rc, cfg.DedupTTL)
		points := services.NewPointsConsumer(ledger, board, dedup, logger)
		counts := services.NewCountMaterializer(stores.NewLikeCountStore(db), dedup, logger)
		session.Subscribe(points.Binding(), points)
		session.Subscribe(counts.Binding(), counts)

		rewards := services.CheckinRewards{Base: cfg.CheckinBasePoints, Milestones: cfg.CheckinMilestones}
		deps.Checkins = services.NewCheckinService(stores.NewCheckinStore(rc), session, rewards, cfg.Location(), logger)
		deps.Board = services.NewBoardService(board, ledger)

		if cfg.AuditSchedule != "" {
			if err := audit.Start(cfg.AuditSchedule); err != nil {
				return err
			}
		}
	}

	go func() {
		if err := session.Run(context.Background()); err != nil {
			logger.Error("broker session stopped", zap.Error(err))
		}
	}()

	srv := utils.NewServer(":"+cfg.AppPort, routes.SetupRouter(deps), logger)
	srv.OnClose(session.Close)
	srv.OnClose(audit.Stop)

	logger.Info("starting server", zap.String("port", cfg.AppPort), zap.String("role", cfg.Role))
	return srv.Run(context.Background())
}
