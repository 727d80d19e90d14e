package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/agentconsole/internal/agentapi"
	"github.com/agentconsole/internal/config"
	"github.com/agentconsole/internal/logging"
	"github.com/agentconsole/internal/statusstore"
)

// appEnv bundles what every command needs: parsed config, the API client,
// and the persisted status backend.
type appEnv struct {
	cfg     *config.Config
	client  *agentapi.Client
	storage *statusstore.FileStorage
}

func setupEnv(c *cli.Context) (*appEnv, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Setup(cfg.Log.Level)

	storage, err := statusstore.NewFileStorage(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open status storage: %w", err)
	}

	return &appEnv{
		cfg:     cfg,
		client:  agentapi.NewClient(cfg.Server.BaseURL),
		storage: storage,
	}, nil
}
