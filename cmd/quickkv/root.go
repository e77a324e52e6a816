package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/neogan74/quickkv/internal/codec"
	"github.com/neogan74/quickkv/internal/config"
	"github.com/neogan74/quickkv/internal/database"
	"github.com/neogan74/quickkv/internal/logger"
	"github.com/neogan74/quickkv/internal/metrics"
	"github.com/neogan74/quickkv/internal/telemetry"
)

// Version is the quickkv release
const Version = "1.0.0"

var errNotFound = errors.New("key not found")

// cli carries the state shared by every command of one invocation
type cli struct {
	v   *viper.Viper
	cfg *config.Config
	log logger.Logger
}

// flagBindings maps command line flags to configuration keys
var flagBindings = map[string]string{
	"driver":       "storage.driver",
	"data-dir":     "storage.data_dir",
	"backup-dir":   "storage.backup_dir",
	"secret":       "storage.secret",
	"dsn":          "storage.dsn",
	"database":     "storage.database",
	"value-secret": "collection.value_secret",
	"ttl":          "collection.default_ttl",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "quickkv",
		Short: "Key-value collections over pluggable storage",
		Long: fmt.Sprintf(`quickkv (v%s)

Stores typed values in named tables with optional expiry. Tables live in
memory, in encrypted files, or in embedded and networked databases.
Every flag can also be set through a QUICKKV_* environment variable.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}

	flags := root.PersistentFlags()
	flags.String("driver", "", "storage driver (memory, cache, file, yaml, badger, bolt, sqlite, postgres, mysql, mongodb, cassandra)")
	flags.String("data-dir", "", "directory for file based drivers")
	flags.String("backup-dir", "", "directory for encrypted file backups")
	flags.String("secret", "", "encryption secret for the file driver")
	flags.String("dsn", "", "connection string for networked drivers")
	flags.String("database", "", "mongodb database or cassandra keyspace")
	flags.String("value-secret", "", "encrypt individual values with this secret")
	flags.Duration("ttl", 0, "expire written entries after this duration")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")

	for name, key := range flagBindings {
		_ = c.v.BindPFlag(key, flags.Lookup(name))
	}

	root.AddCommand(
		c.getCmd(),
		c.setCmd(),
		c.deleteCmd(),
		c.clearCmd(),
		c.hasCmd(),
		c.allCmd(),
		c.keysCmd(),
		c.pushCmd(),
		c.unshiftCmd(),
		c.shiftCmd(),
		c.updateCmd(),
		c.incrCmd(),
		c.decrCmd(),
		c.ttlCmd(),
		c.restoreCmd(),
		versionCmd(),
	)
	return root
}

// setup loads configuration and the logger before any command runs
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	logger.SetDefault(c.log)

	metrics.BuildInfo.WithLabelValues(Version, runtime.Version()).Set(1)
	return nil
}

// withDB opens a database for the duration of fn
func (c *cli) withDB(ctx context.Context, fn func(*database.Database) error) (err error) {
	tp, err := telemetry.InitTracing(ctx, c.cfg.TracingOptions())
	if err != nil {
		return err
	}
	defer func() {
		if serr := tp.Shutdown(context.WithoutCancel(ctx)); serr != nil {
			c.log.Warn("Failed to flush traces", logger.Error(serr))
		}
	}()

	db, err := database.Open(ctx, database.Options{
		Backend:    c.cfg.Backend(),
		Collection: c.cfg.CollectionOptions(),
		Logger:     c.log,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
		_ = c.log.Sync()
	}()

	return fn(db)
}

// parseValue reads a command line value as JSON, falling back to the raw text
func (c *cli) parseValue(arg string) any {
	return codec.Parse(arg, arg, codec.ParseOptions{
		AllowBigInt:         !c.cfg.Collection.DisallowBigInt,
		AllowUnsafeIntegers: c.cfg.Collection.AllowUnsafeIntegers,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of quickkv",
		// Skips configuration loading
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "quickkv v%s\n", Version)
		},
	}
}
