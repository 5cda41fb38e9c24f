package pulumistack

import (
	"encoding/base64"
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/autoscaling"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/lb"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// ComputeResources holds the autoscaling group of a compute group and its
// launch configuration.
type ComputeResources struct {
	SecurityGroup  *ec2.SecurityGroup
	LaunchTemplate *ec2.LaunchTemplate
	Group          *autoscaling.Group
}

var amiNameRegex = map[string]map[string]string{
	topology.ImageFamilyAL2023: {
		topology.ArchX86_64: "^al2023-ami-2023.*-x86_64$",
		topology.ArchARM64:  "^al2023-ami-2023.*-arm64$",
	},
	topology.ImageFamilyAL2: {
		topology.ArchX86_64: "^amzn2-ami-hvm-.*-x86_64-gp2$",
		topology.ArchARM64:  "^amzn2-ami-hvm-.*-arm64-gp2$",
	},
}

// lookupImage returns the AMI ID for an image selection. Families resolve to
// the most recent Amazon-owned image.
func (a *Applier) lookupImage(img topology.Image) (string, error) {
	if img.ID != "" {
		return img.ID, nil
	}
	regex, ok := amiNameRegex[img.Family][img.Architecture]
	if !ok {
		return "", fmt.Errorf("pulumistack: no AMI name pattern for %s/%s", img.Family, img.Architecture)
	}

	// Get the latest Amazon Linux AMI
	ami, err := ec2.LookupAmi(a.ctx, &ec2.LookupAmiArgs{
		Owners:     []string{"amazon"},
		MostRecent: pulumi.BoolRef(true),
		NameRegex:  pulumi.StringRef(regex),
		Filters: []ec2.GetAmiFilter{
			{
				Name:   "root-device-type",
				Values: []string{"ebs"},
			},
			{
				Name:   "virtualization-type",
				Values: []string{"hvm"},
			},
		},
	})
	if err != nil {
		return "", err
	}
	return ami.Id, nil
}

// createComputeResources creates the instance security group, launch
// template and autoscaling group of a compute group. The group joins the
// target groups of every rule routing to it.
func (a *Applier) createComputeResources(g *topology.Graph, cg topology.ComputeGroup, res *Resources) (*ComputeResources, error) {
	n, err := network(g, cg.Network)
	if err != nil {
		return nil, err
	}

	imageID, err := a.lookupImage(cg.Image)
	if err != nil {
		return nil, err
	}

	// Allow traffic from the load balancers on the target ports
	ingress := ec2.SecurityGroupIngressArray{}
	targetGroupArns := pulumi.StringArray{}
	for _, t := range g.TargetsOf(cg.ID) {
		lbRes, tg, err := targetGroupOf(g, res, t)
		if err != nil {
			return nil, err
		}
		targetGroupArns = append(targetGroupArns, tg.Arn)
		ingress = append(ingress, &ec2.SecurityGroupIngressArgs{
			Protocol:       pulumi.String("tcp"),
			FromPort:       pulumi.Int(t.Port),
			ToPort:         pulumi.Int(t.Port),
			SecurityGroups: pulumi.StringArray{lbRes.SecurityGroup.ID()},
			Description:    pulumi.String("Allow traffic from " + t.Listener),
		})
	}

	// Create instance security group
	sg, err := ec2.NewSecurityGroup(a.ctx, resourceName(cg.ID, "sg"), &ec2.SecurityGroupArgs{
		VpcId:       pulumi.String(n.ID),
		Description: pulumi.String("Security group for compute group " + cg.ID),
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
		Tags: a.tags(cg.ID),
	})
	if err != nil {
		return nil, err
	}

	ltArgs := &ec2.LaunchTemplateArgs{
		ImageId:             pulumi.String(imageID),
		InstanceType:        pulumi.String(cg.Shape),
		UserData:            pulumi.String(base64.StdEncoding.EncodeToString([]byte(cg.BootScript.Render()))),
		VpcSecurityGroupIds: pulumi.StringArray{sg.ID()},
		Tags:                a.tags(cg.ID),
	}
	if cg.KeyPair != "" {
		ltArgs.KeyName = pulumi.String(cg.KeyPair)
	}
	if cg.Identity != "" {
		profile, ok := res.Identity.InstanceProfiles[cg.Identity]
		if !ok {
			return nil, missing(topology.KindIdentity, cg.Identity)
		}
		ltArgs.IamInstanceProfile = &ec2.LaunchTemplateIamInstanceProfileArgs{
			Arn: profile.Arn,
		}
	}

	// Create launch template
	lt, err := ec2.NewLaunchTemplate(a.ctx, resourceName(cg.ID, "lt"), ltArgs)
	if err != nil {
		return nil, err
	}

	groupArgs := &autoscaling.GroupArgs{
		MinSize:            pulumi.Int(cg.Capacity.Min),
		MaxSize:            pulumi.Int(cg.Capacity.Max),
		VpcZoneIdentifiers: subnetIDs(n, cg.Placement),
		TargetGroupArns:    targetGroupArns,
		LaunchTemplate: &autoscaling.GroupLaunchTemplateArgs{
			Id:      lt.ID(),
			Version: pulumi.String("$Latest"),
		},
		Tags: autoscaling.GroupTagArray{
			&autoscaling.GroupTagArgs{
				Key:               pulumi.String("Name"),
				Value:             pulumi.String(resourceName(a.stack, cg.ID)),
				PropagateAtLaunch: pulumi.Bool(true),
			},
		},
	}
	if cg.Capacity.Desired != nil {
		groupArgs.DesiredCapacity = pulumi.Int(*cg.Capacity.Desired)
	}

	// Create autoscaling group
	group, err := autoscaling.NewGroup(a.ctx, resourceName(cg.ID), groupArgs)
	if err != nil {
		return nil, err
	}

	a.log.Debug("registered compute group",
		zap.String("id", cg.ID),
		zap.String("image", imageID),
		zap.Int("target_groups", len(targetGroupArns)))
	return &ComputeResources{
		SecurityGroup:  sg,
		LaunchTemplate: lt,
		Group:          group,
	}, nil
}

func targetGroupOf(g *topology.Graph, res *Resources, t topology.TargetRule) (*LoadBalancerResources, *lb.TargetGroup, error) {
	for _, alb := range g.LoadBalancers {
		lbRes, ok := res.LoadBalancers[alb.ID]
		if !ok {
			continue
		}
		if tg, ok := lbRes.TargetGroups[t.ID]; ok {
			return lbRes, tg, nil
		}
	}
	return nil, nil, missing(topology.KindTargetRule, t.ID)
}
