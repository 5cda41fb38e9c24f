// Package cmd provides the topologyctl commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/logging"
	"github.com/meni432/hello-cdk-aws-lab/internal/lookup"
	"github.com/meni432/hello-cdk-aws-lab/internal/manifest"
	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

var (
	// Version information (set at build time via ldflags)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Lookup modes.
const (
	LookupStatic = "static"
	LookupAWS    = "aws"
	LookupAuto   = "auto"
)

// Exit codes returned by ExitCode.
const (
	ExitError      = 1
	ExitValidation = 2
	ExitNotFound   = 3
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	logLevel  string
	logFormat string
	lookup    string
	region    string
	vars      []string
	vpcID     string
	keyPair   string
	roleARN   string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "topologyctl",
		Short: "topologyctl - validate and plan web topologies",
		Long: `topologyctl compiles a topology file (YAML or HCL) into a resource graph.

The graph describes:
  - Compute groups behind an application load balancer
  - Target-tracking scaling policies
  - Versioned buckets that notify topics

Networks and roles are looked up, never created. Use "static" lookups
to resolve from the subnets listed in the file, or "aws" to ask the
account.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", getEnv("TOPOLOGY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", getEnv("TOPOLOGY_LOG_FORMAT", "console"),
		"Log format (json, console)")
	flags.StringVar(&opts.lookup, "lookup", getEnv("TOPOLOGY_LOOKUP", LookupAuto),
		"Lookup mode (static, aws, auto)")
	flags.StringVar(&opts.region, "region", getEnv("TOPOLOGY_REGION", ""),
		"AWS region for lookups and uploads (default from the AWS config chain)")
	flags.StringArrayVar(&opts.vars, "var", nil,
		"Set an HCL variable (key=value, repeatable)")
	flags.StringVar(&opts.vpcID, "vpc-id", getEnv("TOPOLOGY_VPC_ID", ""),
		"Override the network ID of the file")
	flags.StringVar(&opts.keyPair, "key-pair", getEnv("TOPOLOGY_KEY_PAIR", ""),
		"Override the key pair of every compute group")
	flags.StringVar(&opts.roleARN, "role-arn", getEnv("TOPOLOGY_ROLE_ARN", ""),
		"Override the role ARN of the file")

	rootCmd.AddCommand(
		newValidateCmd(opts),
		newPlanCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, topology.ErrValidation):
		return ExitValidation
	case errors.Is(err, topology.ErrNotFound):
		return ExitNotFound
	}
	return ExitError
}

// getEnv retrieves an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (o *globalOptions) newLogger() (*zap.Logger, error) {
	cfg := logging.DefaultConfig()
	cfg.Level = o.logLevel
	cfg.Format = logging.Format(o.logFormat)
	return logging.NewLogger(cfg)
}

// resolver answers both lookups of a build.
type resolver interface {
	topology.NetworkResolver
	topology.IdentityResolver
}

func (o *globalOptions) resolver(ctx context.Context, f *manifest.File, logger *zap.Logger) (resolver, error) {
	network, listed, err := f.StaticNetwork()
	if err != nil {
		return nil, err
	}

	mode := strings.ToLower(o.lookup)
	if mode == LookupAuto {
		mode = LookupAWS
		if listed {
			mode = LookupStatic
		}
	}

	switch mode {
	case LookupStatic:
		if !listed {
			return nil, fmt.Errorf("static lookup needs the subnets of %s listed in the file", f.Network.ID)
		}
		return lookup.NewStatic(network), nil
	case LookupAWS:
		aws, err := lookup.NewAWS(ctx, o.region, logger)
		if err != nil {
			return nil, err
		}
		return aws, nil
	}
	return nil, fmt.Errorf("unknown lookup mode %q (want static, aws or auto)", o.lookup)
}

// compile loads the topology file and builds its graph.
func (o *globalOptions) compile(ctx context.Context, path string, logger *zap.Logger) (*topology.Graph, error) {
	vars, err := manifest.ParseVars(o.vars)
	if err != nil {
		return nil, err
	}
	f, err := manifest.Load(path, vars)
	if err != nil {
		return nil, err
	}
	f = manifest.Overrides{VPCID: o.vpcID, KeyPair: o.keyPair, RoleARN: o.roleARN}.Apply(f)

	r, err := o.resolver(ctx, f, logger)
	if err != nil {
		return nil, err
	}
	b := topology.NewBuilder(
		topology.WithNetworkResolver(r),
		topology.WithIdentityResolver(r),
		topology.WithLogger(logger),
	)

	ctx = logging.WithLogger(ctx, logger.With(zap.String("file", path)))
	return manifest.Compile(ctx, f, b)
}
