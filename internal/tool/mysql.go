package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kebairia/backchain/internal/logger"
)

const EngineMySQL = "mysql"

// MysqlDump drives `mysqldump` for full and partial logical backups.
type MysqlDump struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Logger   logger.Logger
}

func (m *MysqlDump) Name() string { return "mysqldump" }

func (m *MysqlDump) Run(ctx context.Context, req Request) (Result, error) {
	if req.Target == "" {
		return Result{ExitCode: -1}, fmt.Errorf("%w: mysqldump requires a target path", ErrToolFailure)
	}
	if err := os.MkdirAll(filepath.Dir(req.Target), 0o755); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("mkdir %q: %w", filepath.Dir(req.Target), err)
	}

	database := req.Database
	if database == "" {
		database = m.Database
	}
	args := []string{
		"-h", m.Host,
		"-P", m.Port,
		"-u", m.Username,
		"--single-transaction",
		"--result-file=" + req.Target,
		database,
	}
	// mysqldump takes table names positionally after the database.
	args = append(args, req.Tables...)
	args = append(args, req.Args...)

	m.Logger.Info("mysqldump started",
		"database", database,
		"target", req.Target,
	)

	res, err := execTool(ctx, "mysqldump", args, []string{"MYSQL_PWD=" + m.Password})
	res.ArtifactPath = req.Target
	if err != nil {
		return res, err
	}
	if res.ExitCode == 0 {
		if size, sizeErr := artifactSize(req.Target); sizeErr == nil {
			res.BytesWritten = size
		}
		m.Logger.Info("mysqldump completed",
			"database", database,
			"target", req.Target,
			"duration", res.Elapsed.String(),
		)
	}
	return res, nil
}

// Xtrabackup drives `xtrabackup` for physical MySQL backups, full or
// incremental against a prior target directory.
type Xtrabackup struct {
	Host     string
	Port     string
	Username string
	Password string
	// IncrementalBasedir points at the prior backup for incremental runs;
	// empty for a full physical backup.
	IncrementalBasedir string
	Logger             logger.Logger
}

func (x *Xtrabackup) Name() string { return "xtrabackup" }

func (x *Xtrabackup) Run(ctx context.Context, req Request) (Result, error) {
	if req.Target == "" {
		return Result{ExitCode: -1}, fmt.Errorf("%w: xtrabackup requires a target directory", ErrToolFailure)
	}
	args := []string{
		"--backup",
		"--host=" + x.Host,
		"--port=" + x.Port,
		"--user=" + x.Username,
		"--target-dir=" + req.Target,
	}
	if x.IncrementalBasedir != "" {
		args = append(args, "--incremental-basedir="+x.IncrementalBasedir)
	}
	args = append(args, req.Args...)

	x.Logger.Info("xtrabackup started",
		"target", req.Target,
		"incremental", x.IncrementalBasedir != "",
	)

	res, err := execTool(ctx, "xtrabackup", args, []string{"MYSQL_PWD=" + x.Password})
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
