package agentcli

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/booth-checkin/internal/repository"
	"github.com/noah-isme/booth-checkin/internal/scanner"
	"github.com/noah-isme/booth-checkin/pkg/database"
	appErrors "github.com/noah-isme/booth-checkin/pkg/errors"
)

// runtime is one opened agent: the local store and the wired components.
type runtime struct {
	db      *sqlx.DB
	agent   *scanner.Agent
	monitor *scanner.ConnectivityMonitor
}

func openRuntime(ctx context.Context, opts *RootOptions) (*runtime, error) {
	cfg := opts.config.Agent
	log := opts.logger

	db, err := database.NewSQLite(ctx, cfg.QueuePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrQueueCorruption.Code, appErrors.ErrQueueCorruption.Status,
			fmt.Sprintf("local scan queue %s is unreadable", cfg.QueuePath))
	}
	store := repository.NewScanQueueRepository(db)

	client := scanner.NewVisitClient(scanner.ClientConfig{
		BaseURL:   cfg.ServerURL,
		APIPrefix: opts.config.APIPrefix,
		Token:     cfg.APIToken,
		DeviceID:  cfg.DeviceID,
		Timeout:   cfg.RequestTimeout,
	}, nil, log)

	cache := scanner.NewIdentifierCache(client, store, log)
	queue := scanner.NewScanQueue(store, log)
	coordinator := scanner.NewSyncCoordinator(queue, client, scanner.SyncConfig{
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.BackoffBase,
		BackoffMax:     cfg.BackoffMax,
		RequestTimeout: cfg.RequestTimeout,
		Concurrency:    cfg.Concurrency,
		StaleAfter:     cfg.StaleAfter,
	}, log)
	monitor := scanner.NewConnectivityMonitor(client, scanner.MonitorConfig{
		ProbeInterval: cfg.ProbeInterval,
		SyncInterval:  cfg.SyncInterval,
		ProbeTimeout:  cfg.RequestTimeout,
	}, log)
	agent := scanner.NewAgent(cache, queue, coordinator, monitor, client, scanner.AgentConfig{
		BoothNumber:    cfg.BoothNumber,
		RequestTimeout: cfg.RequestTimeout,
		StaleAfter:     cfg.StaleAfter,
		PruneAfter:     cfg.PruneAfter,
	}, log)

	if err := agent.Start(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &runtime{db: db, agent: agent, monitor: monitor}, nil
}

func (r *runtime) Close() error {
	return r.db.Close()
}
