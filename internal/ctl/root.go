// Package ctl is the opsdeskctl command tree: account and role
// administration run directly against the desk's MongoDB.
package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dalemusser/opsdesk/internal/app/store/identities"
	"github.com/dalemusser/opsdesk/internal/app/system/accounts"
	"github.com/dalemusser/opsdesk/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Accounts is the administration surface the commands drive.
// *accounts.Service satisfies it.
type Accounts interface {
	Create(ctx context.Context, in accounts.NewUser) (accounts.Created, error)
	Disable(ctx context.Context, email string) (int64, error)
	Enable(ctx context.Context, email string) error
	Assign(ctx context.Context, email, role string) error
	Unassign(ctx context.Context, email, role string) error
	RolesOf(ctx context.Context, email string) ([]string, error)
	Roles(ctx context.Context) ([]models.Role, error)
	SeedRoles(ctx context.Context) error
}

// Connector opens the account service. The returned func releases it.
type Connector func(ctx context.Context, uri, database string, logger *zap.Logger) (Accounts, func(), error)

// env is what every subcommand runs with once the root has connected.
type env struct {
	connect Connector
	logger  *zap.Logger

	uri      string
	database string
	timeout  time.Duration

	svc     Accounts
	release func()
}

// NewRootCmd builds the command tree. connect is nil for the real Mongo
// connection.
func NewRootCmd(connect Connector, logger *zap.Logger) *cobra.Command {
	if connect == nil {
		connect = ConnectMongo
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &env{connect: connect, logger: logger}

	defaultURI := os.Getenv("OPSDESK_MONGO_URI")
	if defaultURI == "" {
		defaultURI = "mongodb://localhost:27017/?replicaSet=rs0"
	}
	defaultDB := os.Getenv("OPSDESK_MONGO_DATABASE")
	if defaultDB == "" {
		defaultDB = "opsdesk"
	}

	root := &cobra.Command{
		Use:           "opsdeskctl",
		Short:         "Administer OpsDesk accounts and roles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if offline(cmd) {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), e.timeout)
			defer cancel()
			svc, release, err := e.connect(ctx, e.uri, e.database, e.logger)
			if err != nil {
				return err
			}
			e.svc, e.release = svc, release
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.release != nil {
				e.release()
				e.release = nil
			}
		},
	}
	root.PersistentFlags().StringVar(&e.uri, "mongo-uri", defaultURI, "MongoDB connection URI (env OPSDESK_MONGO_URI)")
	root.PersistentFlags().StringVar(&e.database, "db", defaultDB, "MongoDB database name (env OPSDESK_MONGO_DATABASE)")
	root.PersistentFlags().DurationVar(&e.timeout, "timeout", 15*time.Second, "Deadline for each command")

	root.AddCommand(newUsersCmd(e), newRolesCmd(e))
	return root
}

// Execute runs the command tree with ctx and the process arguments.
func Execute(ctx context.Context, logger *zap.Logger) error {
	return NewRootCmd(nil, logger).ExecuteContext(ctx)
}

// offline reports whether cmd runs without a database, such as help and
// shell completion.
func offline(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return true
		}
	}
	return false
}

// ctx bounds a subcommand by the --timeout flag.
func (e *env) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), e.timeout)
}

// ConnectMongo dials MongoDB and returns an account service whose
// Disable also revokes the user's sign-in tokens.
func ConnectMongo(ctx context.Context, uri, database string, logger *zap.Logger) (Accounts, func(), error) {
	if err := wafflemongo.ValidateURI(uri); err != nil {
		return nil, nil, fmt.Errorf("invalid --mongo-uri: %w", err)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName("opsdeskctl"))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(database)
	logger.Debug("connected", zap.String("database", database))

	// Token TTL is irrelevant here; the service is only used to revoke.
	tokens := identities.NewService(db, time.Hour, nil, logger)
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}
	return accounts.New(db, tokens, logger), release, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
