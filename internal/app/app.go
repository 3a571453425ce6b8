// Package app wires configuration, arena data, and the transport stack
// into a running server process.
package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"breach-and-hold/server"
	"breach-and-hold/server/internal/config"
	"breach-and-hold/server/internal/data"
	servernet "breach-and-hold/server/internal/net"
	"breach-and-hold/server/internal/scripting"
)

const shutdownTimeout = 5 * time.Second

// Run boots the server and blocks until ctx is cancelled or the listener
// fails. Configuration comes from the TOML file named by BREACH_CONFIG;
// an empty or missing path falls back to built-in defaults.
func Run(ctx context.Context) error {
	cfg, err := config.LoadOrDefault(os.Getenv("BREACH_CONFIG"))
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	defer logger.Sync()

	materials, err := loadMaterials(cfg, logger)
	if err != nil {
		return err
	}
	arena, err := loadArena(cfg, materials, logger)
	if err != nil {
		return err
	}

	tuning, err := scripting.NewEngine(cfg.Scripts.Dir, logger.Named("scripting"))
	if err != nil {
		return errors.Wrap(err, "load tuning scripts")
	}
	defer tuning.Close()

	hub, err := server.NewHub(server.HubConfig{
		Config:    cfg,
		Arena:     arena,
		Materials: materials,
		Tuning:    tuning,
		Logger:    logger,
	})
	if err != nil {
		return errors.Wrap(err, "build hub")
	}

	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	defer close(stop)

	enablePprof := cfg.Server.EnablePprof
	if raw := os.Getenv("ENABLE_PPROF"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			enablePprof = value
		} else {
			logger.Warn("invalid ENABLE_PPROF value", zap.String("raw", raw))
		}
	}

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		ClientDir:   resolveClientDir(logger),
		EnablePprof: enablePprof,
		Logger:      logger.Named("http"),
	})

	srv := &http.Server{Addr: cfg.Server.BindAddress, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	logger.Info("server listening",
		zap.String("name", cfg.Server.Name),
		zap.String("addr", srv.Addr))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown http server")
		}
		return nil
	case err := <-errCh:
		return errors.Wrap(err, "serve http")
	}
}

// resolveClientDir locates the static client bundle. CLIENT_DIR wins when
// set; otherwise the working directory and the executable's directory are
// probed for a client/ folder. An empty result disables static serving.
func resolveClientDir(logger *zap.Logger) string {
	if dir := os.Getenv("CLIENT_DIR"); dir != "" {
		return dir
	}

	bases := make([]string, 0, 2)
	if cwd, err := os.Getwd(); err == nil {
		bases = append(bases, cwd)
	}
	if exePath, err := os.Executable(); err == nil {
		bases = append(bases, filepath.Dir(exePath))
	}

	for _, base := range bases {
		for _, candidate := range []string{
			filepath.Join(base, "client"),
			filepath.Join(base, "..", "client"),
		} {
			info, err := os.Stat(candidate)
			if err != nil || !info.IsDir() {
				continue
			}
			abs, err := filepath.Abs(candidate)
			if err != nil {
				continue
			}
			return abs
		}
	}

	logger.Debug("no client assets directory found")
	return ""
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "parse log level %q", cfg.Level)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func loadMaterials(cfg *config.Config, logger *zap.Logger) (*data.MaterialTable, error) {
	if cfg.Arena.MaterialsPath == "" {
		return data.DefaultMaterialTable(), nil
	}
	materials, err := data.LoadMaterialTable(cfg.Arena.MaterialsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "load materials %s", cfg.Arena.MaterialsPath)
	}
	logger.Info("materials loaded",
		zap.String("path", cfg.Arena.MaterialsPath),
		zap.Strings("names", materials.Names()))
	return materials, nil
}

func loadArena(cfg *config.Config, materials *data.MaterialTable, logger *zap.Logger) (*data.Arena, error) {
	if cfg.Arena.Path == "" {
		arena := data.GenerateArena(cfg.Arena.Width, cfg.Arena.Height, cfg.Arena.WallCount, cfg.Arena.Seed, materials)
		logger.Info("arena generated",
			zap.String("seed", cfg.Arena.Seed),
			zap.Int("walls", len(arena.Walls)))
		return arena, nil
	}
	arena, err := data.LoadArena(cfg.Arena.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "load arena %s", cfg.Arena.Path)
	}
	logger.Info("arena loaded",
		zap.String("path", cfg.Arena.Path),
		zap.Int("walls", len(arena.Walls)))
	return arena, nil
}
