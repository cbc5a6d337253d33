package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kebairia/backchain/internal/logger"
)

const EnginePostgres = "postgres"

// PgDumpOption overrides default settings on a PgDump runner.
type PgDumpOption func(*PgDump)

// PgDump drives `pg_dump` for full and partial logical backups.
type PgDump struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Method   string // "custom", "plain", "directory"
	Logger   logger.Logger
}

// NewPgDump returns a pg_dump runner with overrides applied.
func NewPgDump(opts ...PgDumpOption) *PgDump {
	p := &PgDump{
		Host:   "localhost",
		Port:   "5432",
		Method: "custom",
		Logger: logger.Global(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithPgHost overrides the host.
func WithPgHost(host string) PgDumpOption {
	return func(p *PgDump) {
		if host != "" {
			p.Host = host
		}
	}
}

// WithPgPort overrides the port.
func WithPgPort(port string) PgDumpOption {
	return func(p *PgDump) {
		if port != "" {
			p.Port = port
		}
	}
}

// WithPgCredentials sets username and password.
func WithPgCredentials(user, pass string) PgDumpOption {
	return func(p *PgDump) {
		if user != "" {
			p.Username = user
		}
		if pass != "" {
			p.Password = pass
		}
	}
}

// WithPgDatabase overrides the database name.
func WithPgDatabase(db string) PgDumpOption {
	return func(p *PgDump) {
		if db != "" {
			p.Database = db
		}
	}
}

// WithPgMethod overrides the output format (custom/plain/directory).
func WithPgMethod(method string) PgDumpOption {
	return func(p *PgDump) {
		if method != "" {
			p.Method = method
		}
	}
}

func (p *PgDump) Name() string { return "pg_dump" }

// Run executes pg_dump toward req.Target. Table restrictions and passthrough
// args come from the request.
func (p *PgDump) Run(ctx context.Context, req Request) (Result, error) {
	if req.Target == "" {
		return Result{ExitCode: -1}, fmt.Errorf("%w: pg_dump requires a target path", ErrToolFailure)
	}
	if err := os.MkdirAll(filepath.Dir(req.Target), 0o755); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("mkdir %q: %w", filepath.Dir(req.Target), err)
	}

	database := req.Database
	if database == "" {
		database = p.Database
	}
	args := []string{
		"-h", p.Host,
		"-p", p.Port,
		"-U", p.Username,
		"-d", database,
		"-F", p.Method,
		"-f", req.Target,
	}
	for _, table := range req.Tables {
		args = append(args, "-t", table)
	}
	args = append(args, req.Args...)

	p.Logger.Info("pg_dump started",
		"database", database,
		"method", p.Method,
		"target", req.Target,
	)

	res, err := execTool(ctx, "pg_dump", args, []string{"PGPASSWORD=" + p.Password})
	res.ArtifactPath = req.Target
	if err != nil {
		return res, err
	}
	if res.ExitCode == 0 {
		if size, sizeErr := artifactSize(req.Target); sizeErr == nil {
			res.BytesWritten = size
		}
		p.Logger.Info("pg_dump completed",
			"database", database,
			"target", req.Target,
			"duration", res.Elapsed.String(),
		)
	}
	return res, nil
}

// PgBaseBackup drives `pg_basebackup` for physical full backups, the base
// that WAL archives extend.
type PgBaseBackup struct {
	Host     string
	Port     string
	Username string
	Password string
	Logger   logger.Logger
}

func (p *PgBaseBackup) Name() string { return "pg_basebackup" }

func (p *PgBaseBackup) Run(ctx context.Context, req Request) (Result, error) {
	if req.Target == "" {
		return Result{ExitCode: -1}, fmt.Errorf("%w: pg_basebackup requires a target directory", ErrToolFailure)
	}
	args := []string{
		"-h", p.Host,
		"-p", p.Port,
		"-U", p.Username,
		"-D", req.Target,
		"-F", "tar",
		"-X", "stream",
	}
	args = append(args, req.Args...)

	p.Logger.Info("pg_basebackup started", "target", req.Target)
	res, err := execTool(ctx, "pg_basebackup", args, []string{"PGPASSWORD=" + p.Password})
	res.ArtifactPath = req.Target
	if err != nil {
		return res, err
	}
	if res.ExitCode == 0 {
		if size, sizeErr := artifactSize(req.Target); sizeErr == nil {
			res.BytesWritten = size
		}
	}
	return res, nil
}

// PgReceiveWal drives `pg_receivewal` to stream WAL segments into an archive
// directory. It runs until the context is cancelled; segments received up to
// that point form the artifact.
type PgReceiveWal struct {
	Host     string
	Port     string
	Username string
	Password string
	Logger   logger.Logger
}

func (p *PgReceiveWal) Name() string { return "pg_receivewal" }

func (p *PgReceiveWal) Run(ctx context.Context, req Request) (Result, error) {
	if req.Target == "" {
		return Result{ExitCode: -1}, fmt.Errorf("%w: pg_receivewal requires an archive directory", ErrToolFailure)
	}
	if err := os.MkdirAll(req.Target, 0o755); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("mkdir %q: %w", req.Target, err)
	}
	args := []string{
		"-h", p.Host,
		"-p", p.Port,
		"-U", p.Username,
		"-D", req.Target,
		"--no-loop",
	}
	args = append(args, req.Args...)

	p.Logger.Info("pg_receivewal started", "archive", req.Target)
	res, err := execTool(ctx, "pg_receivewal", args, []string{"PGPASSWORD=" + p.Password})
	res.ArtifactPath = req.Target
	if err != nil {
		return res, err
	}
	if size, sizeErr := artifactSize(req.Target); sizeErr == nil {
		res.BytesWritten = size
	}
	return res, nil
}
