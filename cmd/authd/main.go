// Command authd runs the authentication service and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	identity "github.com/actionjacksonthegoat-debug/SeventySix-sub005"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/stores"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/mailqueue"
)

type app struct {
	configFile string
	settings   *settings
	log        *zap.Logger
	stdout     io.Writer
	closers    []io.Closer
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "authd:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	a := &app{stdout: out}
	defer a.close()

	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	return cmd.Execute()
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authd",
		Short:         "Password, MFA and refresh-session authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newUserAddCmd(a),
		newPurgeCmd(a),
		newReportCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	s, err := loadSettings(a.configFile)
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(s)
	if err != nil {
		return err
	}
	a.settings = s
	a.log = logger
	a.closers = append(a.closers, closer)
	return nil
}

func (a *app) close() {
	if a.log != nil {
		_ = a.log.Sync()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

func (a *app) openDB(ctx context.Context) (*sqlx.DB, error) {
	driver := strings.ToLower(a.settings.DBDriver)
	if driver == "postgresql" {
		driver = "postgres"
	}
	db, err := stores.Open(ctx, driver, a.settings.DBDSN, stores.PoolConfig{
		MaxOpenConns: a.settings.DBPool,
		MaxIdleConns: a.settings.DBPool / 2,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db)
	return db, nil
}

// openEngine connects every backend and builds the engine. Redis is
// optional; without it the login throttles and PoW are unavailable and
// mail codes are only logged.
func (a *app) openEngine(ctx context.Context, db *sqlx.DB) (*identity.Engine, error) {
	audit, closer := newAuditSink(a.settings, a.log)
	a.closers = append(a.closers, closer)

	warn := a.log.Sugar().Warnf
	b := identity.New().
		WithConfig(a.settings.Engine).
		WithDB(db).
		WithAuditSink(audit).
		WithLogger(warn)

	if a.settings.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.settings.RedisAddr,
			Password: a.settings.RedisPassword,
			DB:       a.settings.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, rdb)
		b = b.WithRedis(rdb).WithEmailQueue(mailqueue.NewRedisQueue(rdb, a.settings.MailQueueKey))
	} else {
		a.log.Warn("redis not configured; throttles disabled and mail codes go to the log")
		b = b.WithEmailQueue(logQueue{log: a.log.Named("mail")})
	}

	e, err := b.Build()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closerFunc(e.Close))
	return e, nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// logQueue stands in for the outbox in single-node development setups.
type logQueue struct {
	log *zap.Logger
}

func (q logQueue) Enqueue(_ context.Context, msgType, recipient string, userID int64, data map[string]string) (string, error) {
	q.log.Info("mail",
		zap.String("type", msgType),
		zap.String("recipient", recipient),
		zap.Int64("user_id", userID),
		zap.Any("data", data),
	)
	return "", nil
}
