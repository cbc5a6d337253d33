package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kebairia/backchain/internal/catalog"
	"github.com/kebairia/backchain/internal/config"
	"github.com/kebairia/backchain/internal/logger"
	"github.com/kebairia/backchain/internal/tool"
	"github.com/kebairia/backchain/internal/vault"
)

// Service wires config, credentials, runners, and the controller together.
// It is the process-level entry point the CLI talks to.
type Service struct {
	cfg   *config.Config
	store *catalog.Store
	ctrl  *Controller
	vault *vault.Client
	log   logger.Logger
}

// NewService loads the YAML config at configPath and builds the full stack.
// Vault is only dialed when an address is configured; without it the native
// tools fall back to their own credential discovery.
func NewService(ctx context.Context, configPath string) (*Service, error) {
	var cfg config.Config
	if err := cfg.Load(configPath); err != nil {
		return nil, err
	}
	log := logger.Global()

	var vaultClient *vault.Client
	if cfg.Vault.Address != "" {
		var err error
		vaultClient, err = vault.NewClient(ctx,
			vault.WithAddress(cfg.Vault.Address),
			vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.ApproleName),
		)
		if err != nil {
			return nil, fmt.Errorf("vault client init: %w", err)
		}
	}

	store := catalog.NewStore(cfg.Catalog.Directory)
	ctrl := NewController(store, log, Options{
		ChainPolicy:      catalog.ChainPolicy(cfg.Backup.ChainPolicy),
		MaxDifferentials: cfg.Backup.MaxDifferentials,
		Timeout:          cfg.Backup.Timeout,
		Compress:         cfg.Backup.Compress,
	})

	return &Service{
		cfg:   &cfg,
		store: store,
		ctrl:  ctrl,
		vault: vaultClient,
		log:   log,
	}, nil
}

// Store exposes the manifest store for read-side consumers.
func (s *Service) Store() *catalog.Store { return s.store }

// Controller exposes the lifecycle controller.
func (s *Service) Controller() *Controller { return s.ctrl }

// findInstance locates the configured instance for a logical database.
func (s *Service) findInstance(database string) (engine string, group config.DBGroupConfig, inst config.DBInstance, err error) {
	for _, candidate := range s.cfg.Postgres.Instances {
		if candidate.Database == database || candidate.Name == database {
			return tool.EnginePostgres, s.cfg.Postgres, candidate, nil
		}
	}
	for _, candidate := range s.cfg.MySQL.Instances {
		if candidate.Database == database || candidate.Name == database {
			return tool.EngineMySQL, s.cfg.MySQL, candidate, nil
		}
	}
	return "", config.DBGroupConfig{}, config.DBInstance{},
		fmt.Errorf("database %q is not configured", database)
}

// credentials resolves username/password for an instance, via Vault dynamic
// credentials when configured.
func (s *Service) credentials(ctx context.Context, group config.DBGroupConfig, inst config.DBInstance) (string, string, error) {
	if s.vault == nil || inst.RoleName == "" {
		return "", "", nil
	}
	rolePath := filepath.Join(group.Vault.RoleBase, inst.RoleName)
	creds, err := s.vault.GetDynamicCredentials(ctx, rolePath)
	if err != nil {
		return "", "", fmt.Errorf("vault read: %w", err)
	}
	return creds.Username, creds.Password, nil
}

// endpoint resolves host and port for an instance. When the group configures
// a Vault KV base, connection settings stored there are consulted; a KV read
// failure logs a warning and falls back to the YAML values.
func (s *Service) endpoint(ctx context.Context, group config.DBGroupConfig, inst config.DBInstance) (string, string) {
	var kv vault.StaticCredentials
	if s.vault != nil && group.Vault.KVBase != "" {
		settings, err := s.vault.GetStaticCredentials(ctx, filepath.Join(group.Vault.KVBase, inst.Name))
		if err != nil {
			s.log.Warn("vault connection settings unavailable",
				"instance", inst.Name,
				"error", err.Error(),
			)
		} else {
			kv = settings
		}
	}
	return resolveEndpoint(group, inst, kv)
}

// resolveEndpoint merges connection settings: instance values win over Vault
// KV values, which win over group defaults.
func resolveEndpoint(group config.DBGroupConfig, inst config.DBInstance, kv vault.StaticCredentials) (string, string) {
	host, port := group.Host, group.Port
	if kv.Host != "" {
		host = kv.Host
	}
	if kv.Port != "" {
		port = kv.Port
	}
	if inst.Host != "" {
		host = inst.Host
	}
	if inst.Port != "" {
		port = inst.Port
	}
	return host, port
}

// target computes where an artifact lands:
// <output_directory>/<engine>/<database>/<backup id><ext>.
func (s *Service) target(engine, database, id, ext string) string {
	return filepath.Join(s.cfg.Backup.OutputDirectory, engine, database, id+ext)
}

func dumpExt(engine, method string) string {
	if engine == tool.EngineMySQL {
		return ".sql"
	}
	switch method {
	case "plain":
		return ".sql"
	case "directory":
		return ""
	default:
		return ".dump"
	}
}

// dumpRunner builds the logical-dump runner for an instance.
func (s *Service) dumpRunner(ctx context.Context, engine string, group config.DBGroupConfig, inst config.DBInstance) (tool.Runner, string, error) {
	user, pass, err := s.credentials(ctx, group, inst)
	if err != nil {
		return nil, "", err
	}
	host, port := s.endpoint(ctx, group, inst)
	method := inst.Method
	if method == "" {
		method = group.Method
	}

	switch engine {
	case tool.EnginePostgres:
		runner := tool.NewPgDump(
			tool.WithPgHost(host),
			tool.WithPgPort(port),
			tool.WithPgCredentials(user, pass),
			tool.WithPgDatabase(inst.Database),
			tool.WithPgMethod(method),
		)
		return runner, dumpExt(engine, runner.Method), nil
	case tool.EngineMySQL:
		runner := &tool.MysqlDump{
			Host:     host,
			Port:     port,
			Username: user,
			Password: pass,
			Database: inst.Database,
			Logger:   s.log,
		}
		return runner, dumpExt(engine, method), nil
	}
	return nil, "", fmt.Errorf("unsupported engine %q", engine)
}

// physicalRunner builds the physical-backup runner for an instance:
// pg_basebackup for postgres, xtrabackup in full mode for MySQL.
func (s *Service) physicalRunner(ctx context.Context, engine string, group config.DBGroupConfig, inst config.DBInstance) (tool.Runner, error) {
	user, pass, err := s.credentials(ctx, group, inst)
	if err != nil {
		return nil, err
	}
	host, port := s.endpoint(ctx, group, inst)
	switch engine {
	case tool.EnginePostgres:
		return &tool.PgBaseBackup{
			Host:     host,
			Port:     port,
			Username: user,
			Password: pass,
			Logger:   s.log,
		}, nil
	case tool.EngineMySQL:
		return &tool.Xtrabackup{
			Host:     host,
			Port:     port,
			Username: user,
			Password: pass,
			Logger:   s.log,
		}, nil
	}
	return nil, fmt.Errorf("unsupported engine %q", engine)
}

// BackupFullPhysical runs a physical full backup, producing the directory
// artifact that WAL archives extend.
func (s *Service) BackupFullPhysical(ctx context.Context, database string) (*catalog.BackupRecord, error) {
	engine, group, inst, err := s.findInstance(database)
	if err != nil {
		return nil, err
	}
	runner, err := s.physicalRunner(ctx, engine, group, inst)
	if err != nil {
		return nil, err
	}
	h, err := s.ctrl.BeginFull(ctx, database, BeginOptions{})
	if err != nil {
		return nil, err
	}
	h.SetTarget(s.target(engine, database, h.ID(), ""))
	return h.Run(ctx, runner)
}

// BackupFull runs a full logical backup for one configured database.
func (s *Service) BackupFull(ctx context.Context, database string) (*catalog.BackupRecord, error) {
	engine, group, inst, err := s.findInstance(database)
	if err != nil {
		return nil, err
	}
	runner, ext, err := s.dumpRunner(ctx, engine, group, inst)
	if err != nil {
		return nil, err
	}
	h, err := s.ctrl.BeginFull(ctx, database, BeginOptions{})
	if err != nil {
		return nil, err
	}
	h.SetTarget(s.target(engine, database, h.ID(), ext))
	return h.Run(ctx, runner)
}

// BackupPartial runs a table-level backup.
func (s *Service) BackupPartial(ctx context.Context, database string, tables []string) (*catalog.BackupRecord, error) {
	engine, group, inst, err := s.findInstance(database)
	if err != nil {
		return nil, err
	}
	runner, ext, err := s.dumpRunner(ctx, engine, group, inst)
	if err != nil {
		return nil, err
	}
	h, err := s.ctrl.BeginPartial(ctx, database, BeginOptions{Tables: tables})
	if err != nil {
		return nil, err
	}
	h.SetTarget(s.target(engine, database, h.ID(), ext))
	return h.Run(ctx, runner)
}

// BackupDifferential runs a differential against the selected basis. MySQL
// instances use xtrabackup's incremental mode against the basis artifact;
// PostgreSQL instances dump logically while the catalog tracks lineage.
func (s *Service) BackupDifferential(ctx context.Context, database string) (*catalog.BackupRecord, error) {
	engine, group, inst, err := s.findInstance(database)
	if err != nil {
		return nil, err
	}
	h, err := s.ctrl.BeginDifferential(ctx, database, BeginOptions{})
	if err != nil {
		return nil, err
	}

	var runner tool.Runner
	var ext string
	if engine == tool.EngineMySQL {
		user, pass, credErr := s.credentials(ctx, group, inst)
		if credErr != nil {
			s.ctrl.Fail(h, credErr.Error())
			return h.Record(), credErr
		}
		basis, getErr := s.store.Get(h.Record().BasisID)
		if getErr != nil {
			s.ctrl.Fail(h, getErr.Error())
			return h.Record(), getErr
		}
		host, port := s.endpoint(ctx, group, inst)
		runner = &tool.Xtrabackup{
			Host:               host,
			Port:               port,
			Username:           user,
			Password:           pass,
			IncrementalBasedir: basis.Location,
			Logger:             s.log,
		}
	} else {
		runner, ext, err = s.dumpRunner(ctx, engine, group, inst)
		if err != nil {
			s.ctrl.Fail(h, err.Error())
			return h.Record(), err
		}
	}
	h.SetTarget(s.target(engine, database, h.ID(), ext))
	return h.Run(ctx, runner)
}

// BackupWalArchive streams WAL segments under a completed full backup until
// ctx is cancelled.
func (s *Service) BackupWalArchive(ctx context.Context, database, baseBackupID string) (*catalog.BackupRecord, error) {
	engine, group, inst, err := s.findInstance(database)
	if err != nil {
		return nil, err
	}
	if engine != tool.EnginePostgres {
		return nil, fmt.Errorf("WAL archiving is only supported for postgres, %s is %s", database, engine)
	}
	user, pass, err := s.credentials(ctx, group, inst)
	if err != nil {
		return nil, err
	}
	h, err := s.ctrl.BeginWalArchive(ctx, database, baseBackupID, BeginOptions{})
	if err != nil {
		return nil, err
	}
	host, port := s.endpoint(ctx, group, inst)
	runner := &tool.PgReceiveWal{
		Host:     host,
		Port:     port,
		Username: user,
		Password: pass,
		Logger:   s.log,
	}
	h.SetTarget(s.target(engine, database, h.ID(), ""))
	return h.Run(ctx, runner)
}

// Query loads the catalog and builds the read-only view, with live handles
// excluded from interruption flagging. Corruption is logged and surfaced in
// the returned error while everything readable stays queryable.
func (s *Service) Query() (*catalog.Query, error) {
	snap, err := s.store.Load()
	if err != nil {
		s.log.Warn("catalog loaded with errors", "error", err.Error())
	}
	return catalog.NewQuery(snap, catalog.WithActiveHandles(s.ctrl.ActiveIDs())), err
}
