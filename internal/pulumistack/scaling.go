package pulumistack

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/autoscaling"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

var predefinedMetrics = map[topology.Metric]string{
	topology.MetricRequestCountPerTarget: "ALBRequestCountPerTarget",
	topology.MetricCPUUtilization:        "ASGAverageCPUUtilization",
	topology.MetricNetworkIn:             "ASGAverageNetworkIn",
	topology.MetricNetworkOut:            "ASGAverageNetworkOut",
}

// createScalingPolicy attaches a target-tracking policy to the compute
// group's autoscaling group. Request-count policies are labelled with the
// load balancer and target group the group is registered with.
func (a *Applier) createScalingPolicy(g *topology.Graph, p topology.ScalingPolicy, res *Resources) error {
	cgRes, ok := res.ComputeGroups[p.ComputeGroup]
	if !ok {
		return missing(topology.KindComputeGroup, p.ComputeGroup)
	}
	metricType, ok := predefinedMetrics[p.Metric]
	if !ok {
		return fmt.Errorf("pulumistack: unsupported metric %q", p.Metric)
	}

	spec := &autoscaling.PolicyTargetTrackingConfigurationPredefinedMetricSpecificationArgs{
		PredefinedMetricType: pulumi.String(metricType),
	}
	if p.Metric == topology.MetricRequestCountPerTarget {
		targets := g.TargetsOf(p.ComputeGroup)
		if len(targets) != 1 {
			return fmt.Errorf("pulumistack: %s needs exactly one target rule for %s, found %d", p.ID, p.ComputeGroup, len(targets))
		}
		lbRes, tg, err := targetGroupOf(g, res, targets[0])
		if err != nil {
			return err
		}
		spec.ResourceLabel = pulumi.Sprintf("%s/%s", lbRes.LoadBalancer.ArnSuffix, tg.ArnSuffix)
	}

	// Create target tracking policy
	_, err := autoscaling.NewPolicy(a.ctx, resourceName(p.ID), &autoscaling.PolicyArgs{
		AutoscalingGroupName: cgRes.Group.Name,
		PolicyType:           pulumi.String("TargetTrackingScaling"),
		TargetTrackingConfiguration: &autoscaling.PolicyTargetTrackingConfigurationArgs{
			PredefinedMetricSpecification: spec,
			TargetValue:                   pulumi.Float64(p.Target),
		},
	})
	if err != nil {
		return err
	}

	a.log.Debug("registered scaling policy",
		zap.String("id", p.ID),
		zap.String("metric", metricType),
		zap.Float64("target", p.Target))
	return nil
}
