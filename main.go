package main

import (
	"context"
	"fmt"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/logging"
	"github.com/meni432/hello-cdk-aws-lab/internal/lookup"
	"github.com/meni432/hello-cdk-aws-lab/internal/manifest"
	"github.com/meni432/hello-cdk-aws-lab/internal/pulumistack"
	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

const projectName = "hello-cdk-aws-lab"

func main() {
	pulumi.Run(program)
}

func program(ctx *pulumi.Context) error {
	// Get configuration values
	projectCfg := config.New(ctx, projectName)
	topologyFile := projectCfg.Require("topologyFile")
	overrides := manifest.Overrides{
		VPCID:   projectCfg.Get("vpcId"),
		KeyPair: projectCfg.Get("keyPair"),
		RoleARN: projectCfg.Get("roleArn"),
	}
	vars := map[string]string{}
	if err := projectCfg.GetObject("vars", &vars); err != nil {
		return fmt.Errorf("invalid vars config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = projectCfg.Get("logLevel")
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.String("stack", ctx.Stack()), zap.String("file", topologyFile))

	// 1. Load the topology description
	f, err := manifest.Load(topologyFile, vars)
	if err != nil {
		return err
	}
	f = overrides.Apply(f)

	// 2. Build the graph against the existing network and role
	r, err := newResolver(ctx, f, logger)
	if err != nil {
		return err
	}
	b := topology.NewBuilder(
		topology.WithNetworkResolver(r),
		topology.WithIdentityResolver(r),
		topology.WithLogger(logger),
	)
	buildCtx := logging.WithLogger(context.Background(), logger)
	g, err := manifest.Compile(buildCtx, f, b)
	if err != nil {
		return err
	}

	// 3. Register the resources and export the outputs
	applier := pulumistack.New(ctx, pulumistack.WithLogger(logger))
	return applier.Apply(buildCtx, g)
}

type resolver interface {
	topology.NetworkResolver
	topology.IdentityResolver
}

// newResolver resolves from the subnets listed in the file when there are
// any, otherwise through the provider's data sources.
func newResolver(ctx *pulumi.Context, f *manifest.File, logger *zap.Logger) (resolver, error) {
	network, listed, err := f.StaticNetwork()
	if err != nil {
		return nil, err
	}
	if listed {
		return lookup.NewStatic(network), nil
	}
	return pulumistack.NewResolver(ctx, logger), nil
}
