package launcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

type taskRunner interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
}

// ECSOptions configures the Fargate launch backend.
type ECSOptions struct {
	Region         string
	AccessKey      string
	SecretKey      string
	Cluster        string
	TaskDefinition string
	ContainerName  string
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool
}

// ECS launches build workers as one-off Fargate tasks.
type ECS struct {
	api  taskRunner
	opts ECSOptions
}

// NewECS builds an ECS client from static credentials or the default AWS credential chain.
func NewECS(ctx context.Context, opts ECSOptions) (*ECS, error) {
	if strings.TrimSpace(opts.Cluster) == "" || strings.TrimSpace(opts.TaskDefinition) == "" {
		return nil, errors.New("ecs cluster and task definition are required")
	}
	if strings.TrimSpace(opts.ContainerName) == "" {
		return nil, errors.New("ecs container name is required")
	}
	if len(opts.Subnets) == 0 {
		return nil, errors.New("at least one subnet is required")
	}
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &ECS{api: ecs.NewFromConfig(cfg), opts: opts}, nil
}

// Launch runs one task with the job injected as container environment overrides.
func (e *ECS) Launch(ctx context.Context, job Job) (Launched, error) {
	if e == nil || e.api == nil {
		return Launched{}, &LaunchError{Reason: "ecs client not initialized"}
	}
	assign := ecstypes.AssignPublicIpDisabled
	if e.opts.AssignPublicIP {
		assign = ecstypes.AssignPublicIpEnabled
	}
	input := &ecs.RunTaskInput{
		Cluster:        aws.String(e.opts.Cluster),
		TaskDefinition: aws.String(e.opts.TaskDefinition),
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          aws.Int32(1),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				AssignPublicIp: assign,
				Subnets:        e.opts.Subnets,
				SecurityGroups: e.opts.SecurityGroups,
			},
		},
		Overrides: &ecstypes.TaskOverride{
			ContainerOverrides: []ecstypes.ContainerOverride{{
				Name: aws.String(e.opts.ContainerName),
				Environment: []ecstypes.KeyValuePair{
					{Name: aws.String(EnvRepositoryURL), Value: aws.String(job.SourceURL)},
					{Name: aws.String(EnvDeploymentID), Value: aws.String(job.DeploymentID)},
				},
			}},
		},
		StartedBy: aws.String(truncate("edgeship-"+job.DeploymentID, 128)),
	}
	out, err := e.api.RunTask(ctx, input)
	if err != nil {
		return Launched{}, &LaunchError{Reason: "ecs run task", Err: err}
	}
	if len(out.Failures) > 0 {
		f := out.Failures[0]
		return Launched{}, &LaunchError{Reason: fmt.Sprintf("ecs run task: %s %s", aws.ToString(f.Reason), aws.ToString(f.Detail))}
	}
	if len(out.Tasks) == 0 {
		return Launched{}, &LaunchError{Reason: "ecs run task returned no task"}
	}
	return Launched{ID: aws.ToString(out.Tasks[0].TaskArn)}, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
