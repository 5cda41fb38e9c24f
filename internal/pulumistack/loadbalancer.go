package pulumistack

import (
	"strconv"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// LoadBalancerResources holds an application load balancer and everything
// attached to it.
type LoadBalancerResources struct {
	SecurityGroup *ec2.SecurityGroup
	LoadBalancer  *lb.LoadBalancer
	Listeners     map[string]*lb.Listener
	TargetGroups  map[string]*lb.TargetGroup
}

// createLoadBalancerResources creates the load balancer, one target group
// per target rule and one listener per bound port.
func (a *Applier) createLoadBalancerResources(g *topology.Graph, alb topology.LoadBalancer) (*LoadBalancerResources, error) {
	n, err := network(g, alb.Network)
	if err != nil {
		return nil, err
	}

	// Create load balancer security group, open on every listener port
	ingress := ec2.SecurityGroupIngressArray{}
	for _, l := range alb.Listeners {
		ingress = append(ingress, &ec2.SecurityGroupIngressArgs{
			Protocol:    pulumi.String("tcp"),
			FromPort:    pulumi.Int(l.Port),
			ToPort:      pulumi.Int(l.Port),
			CidrBlocks:  pulumi.StringArray{pulumi.String(ingressSource(n, alb.Public))},
			Description: pulumi.String("Allow " + string(l.Protocol) + " on " + strconv.Itoa(l.Port)),
		})
	}
	sg, err := ec2.NewSecurityGroup(a.ctx, resourceName(alb.ID, "sg"), &ec2.SecurityGroupArgs{
		VpcId:       pulumi.String(n.ID),
		Description: pulumi.String("Security group for load balancer " + alb.ID),
		Ingress:     ingress,
		Egress: ec2.SecurityGroupEgressArray{
			&ec2.SecurityGroupEgressArgs{
				Protocol:    pulumi.String("-1"),
				FromPort:    pulumi.Int(0),
				ToPort:      pulumi.Int(0),
				CidrBlocks:  pulumi.StringArray{pulumi.String("0.0.0.0/0")},
				Description: pulumi.String("Allow all outbound traffic"),
			},
		},
		Tags: a.tags(alb.ID),
	})
	if err != nil {
		return nil, err
	}

	// Create application load balancer
	loadBalancer, err := lb.NewLoadBalancer(a.ctx, resourceName(alb.ID), &lb.LoadBalancerArgs{
		Internal:         pulumi.Bool(!alb.Public),
		LoadBalancerType: pulumi.String("application"),
		SecurityGroups:   pulumi.StringArray{sg.ID()},
		Subnets:          loadBalancerSubnets(n, alb.Public),
		Tags:             a.tags(alb.ID),
	})
	if err != nil {
		return nil, err
	}

	res := &LoadBalancerResources{
		SecurityGroup: sg,
		LoadBalancer:  loadBalancer,
		Listeners:     make(map[string]*lb.Listener),
		TargetGroups:  make(map[string]*lb.TargetGroup),
	}

	for _, l := range alb.Listeners {
		actions := lb.ListenerDefaultActionArray{}
		for _, t := range l.Targets {
			// Create target group for the routed compute group
			tg, err := lb.NewTargetGroup(a.ctx, resourceName(t.ID, "tg"), &lb.TargetGroupArgs{
				Port:       pulumi.Int(t.Port),
				Protocol:   pulumi.String(string(t.Protocol)),
				TargetType: pulumi.String("instance"),
				VpcId:      pulumi.String(n.ID),
				HealthCheck: &lb.TargetGroupHealthCheckArgs{
					Path:     pulumi.String(t.HealthCheckPath),
					Protocol: pulumi.String(string(t.Protocol)),
				},
				Tags: a.tags(t.ID),
			})
			if err != nil {
				return nil, err
			}
			res.TargetGroups[t.ID] = tg
			actions = append(actions, &lb.ListenerDefaultActionArgs{
				Type:           pulumi.String("forward"),
				TargetGroupArn: tg.Arn,
			})
		}
		if len(actions) == 0 {
			actions = append(actions, &lb.ListenerDefaultActionArgs{
				Type: pulumi.String("fixed-response"),
				FixedResponse: &lb.ListenerDefaultActionFixedResponseArgs{
					ContentType: pulumi.String("text/plain"),
					StatusCode:  pulumi.String("404"),
				},
			})
		}

		args := &lb.ListenerArgs{
			LoadBalancerArn: loadBalancer.Arn,
			Port:            pulumi.Int(l.Port),
			Protocol:        pulumi.String(string(l.Protocol)),
			DefaultActions:  actions,
			Tags:            a.tags(l.ID),
		}
		if l.CertificateARN != "" {
			args.CertificateArn = pulumi.String(l.CertificateARN)
		}

		// Create listener
		listener, err := lb.NewListener(a.ctx, resourceName(l.ID), args)
		if err != nil {
			return nil, err
		}
		res.Listeners[l.ID] = listener
	}

	a.log.Debug("registered load balancer", zap.String("id", alb.ID), zap.Int("listeners", len(res.Listeners)))
	return res, nil
}
