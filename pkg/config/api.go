package config

import "time"

// APIConfig holds runtime configuration for the API service (orchestrator and log relay).
type APIConfig struct {
	Environment       string
	LogLevel          string
	Addr              string
	RelayAddr         string
	BusURL            string
	PublicURLTemplate string
	LaunchBackend     string
	LaunchTimeout     time.Duration
	DockerHost        string
	BuilderImage      string
	BuilderNetwork    string
	BuilderEnv        []string
	AWSRegion         string
	AWSAccessKey      string
	AWSSecretKey      string
	ECSCluster        string
	ECSTaskDefinition string
	ECSContainerName  string
	ECSSubnets        []string
	ECSSecurityGroups []string
	ECSAssignPublicIP bool
	DispatchQuota     int
	BuildLockWindow   time.Duration
	LimiterRedisAddr  string
	LimiterRedisPass  string
	LimiterRedisDB    int
	RelayHeartbeat    time.Duration
	RelaySendBuffer   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:       GetString("APP_ENV", "development"),
		LogLevel:          GetString("LOG_LEVEL", "info"),
		Addr:              GetString("API_ADDR", ":9000"),
		RelayAddr:         GetString("RELAY_ADDR", ":9002"),
		BusURL:            GetString("BUS_URL", GetString("REDIS_URL", "redis://localhost:6379/0")),
		PublicURLTemplate: GetString("PUBLIC_URL_TEMPLATE", "http://%s.localhost:8000"),
		LaunchBackend:     GetString("LAUNCH_BACKEND", "docker"),
		LaunchTimeout:     time.Duration(GetInt("LAUNCH_TIMEOUT_SECONDS", 30)) * time.Second,
		DockerHost:        GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		BuilderImage:      GetString("BUILDER_IMAGE", "edgeship-builder:latest"),
		BuilderNetwork:    GetString("BUILDER_NETWORK", ""),
		BuilderEnv:        GetList("BUILDER_PASSTHROUGH_ENV", []string{"BUS_URL", "S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY"}),
		AWSRegion:         GetString("AWS_REGION", "us-east-1"),
		AWSAccessKey:      GetString("AWS_ACCESS_KEY", ""),
		AWSSecretKey:      GetString("AWS_SECRET_KEY", ""),
		ECSCluster:        GetString("AWS_CLUSTER_ARN", ""),
		ECSTaskDefinition: GetString("AWS_TASK_ARN", ""),
		ECSContainerName:  GetString("BUILDER_CONTAINER_NAME", "deployer-build-image"),
		ECSSubnets:        GetList("SUBNET_IDS", GetList("SUBNET_ID", nil)),
		ECSSecurityGroups: GetList("SECURITY_GROUP_IDS", GetList("SECURITY_GROUP_ID", nil)),
		ECSAssignPublicIP: GetBool("ECS_ASSIGN_PUBLIC_IP", true),
		DispatchQuota:     GetInt("DISPATCH_RATE_LIMIT", 30),
		BuildLockWindow:   time.Duration(GetInt("BUILD_LOCK_SECONDS", 1800)) * time.Second,
		LimiterRedisAddr:  GetString("LIMITER_REDIS_ADDR", GetString("RATE_LIMIT_REDIS_ADDR", "")),
		LimiterRedisPass:  GetString("LIMITER_REDIS_PASSWORD", GetString("RATE_LIMIT_REDIS_PASSWORD", "")),
		LimiterRedisDB:    GetInt("LIMITER_REDIS_DB", GetInt("RATE_LIMIT_REDIS_DB", 0)),
		RelayHeartbeat:    time.Duration(GetInt("RELAY_HEARTBEAT_SECONDS", 15)) * time.Second,
		RelaySendBuffer:   GetInt("RELAY_SEND_BUFFER", 256),
	}
}
