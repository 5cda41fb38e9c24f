package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/plan"
	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

type planOptions struct {
	file    string
	format  string
	out     string
	publish string
}

func newPlanCmd(opts *globalOptions) *cobra.Command {
	po := &planOptions{}

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Render the plan document of a topology file",
		Long: `Compile a topology file and write its plan document.

The document lists every resource with its properties, the edges
between them, the outputs and the graph fingerprint. It is written
to stdout unless --out or --publish is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts, po)
		},
	}

	flags := planCmd.Flags()
	flags.StringVarP(&po.file, "file", "f", "", "Path to the topology file (.yaml, .yml or .hcl)")
	flags.StringVarP(&po.format, "output", "o", "yaml", "Plan format (yaml, json)")
	flags.StringVar(&po.out, "out", "", "Write the plan to this path")
	flags.StringVar(&po.publish, "publish", "", "Upload the plan to s3://bucket/key")
	_ = planCmd.MarkFlagRequired("file")
	planCmd.MarkFlagsMutuallyExclusive("out", "publish")
	return planCmd
}

func runPlan(cmd *cobra.Command, opts *globalOptions, po *planOptions) error {
	format, err := plan.ParseFormat(po.format)
	if err != nil {
		return err
	}

	logger, err := opts.newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	g, err := opts.compile(ctx, po.file, logger)
	if err != nil {
		return err
	}

	applier, closer, err := po.applier(ctx, cmd, format, opts.region, logger)
	if err != nil {
		return err
	}
	if err := applyAndClose(ctx, applier, g, closer); err != nil {
		return err
	}
	logger.Debug("plan written", zap.String("fingerprint", g.Fingerprint()))
	return nil
}

// applyAndClose applies the graph, then closes the destination. A close
// error fails the command.
func applyAndClose(ctx context.Context, a topology.Applier, g *topology.Graph, c io.Closer) error {
	if err := a.Apply(ctx, g); err != nil {
		_ = c.Close()
		return err
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("close plan output: %w", err)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// applier picks where the plan goes.
func (po *planOptions) applier(ctx context.Context, cmd *cobra.Command, format plan.Format, region string, logger *zap.Logger) (topology.Applier, io.Closer, error) {
	noop := nopCloser{}

	switch {
	case po.publish != "":
		bucket, key, err := plan.ParseS3URI(po.publish)
		if err != nil {
			return nil, noop, err
		}
		var loadOpts []func(*config.LoadOptions) error
		if region != "" {
			loadOpts = append(loadOpts, config.WithRegion(region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, noop, fmt.Errorf("load AWS config: %w", err)
		}
		return &plan.S3Publisher{
			Client: s3.NewFromConfig(cfg),
			Bucket: bucket,
			Key:    key,
			Format: format,
			Logger: logger,
		}, noop, nil

	case po.out != "":
		f, err := os.Create(po.out)
		if err != nil {
			return nil, noop, fmt.Errorf("create plan file: %w", err)
		}
		return &plan.Writer{W: f, Format: format}, f, nil
	}

	return &plan.Writer{W: cmd.OutOrStdout(), Format: format}, noop, nil
}
