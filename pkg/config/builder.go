package config

import "time"

// BuilderConfig holds runtime configuration for the build worker. The repository URL and
// deployment identifier arrive through the environment injected at launch.
type BuilderConfig struct {
	Environment       string
	LogLevel          string
	RepositoryURL     string
	DeploymentID      string
	BusURL            string
	Workdir           string
	BuildCommand      string
	OutputDir         string
	GitTimeout        time.Duration
	PublishTimeout    time.Duration
	UploadConcurrency int
	KeepWorkspace     bool
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	S3ForcePathStyle  bool
}

// LoadBuilderConfig constructs a BuilderConfig from environment variables.
func LoadBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Environment:       GetString("APP_ENV", "development"),
		LogLevel:          GetString("LOG_LEVEL", "info"),
		RepositoryURL:     GetString("GIT_REPOSITORY_URL", ""),
		DeploymentID:      GetString("PROJECT_ID", ""),
		BusURL:            GetString("BUS_URL", GetString("REDIS_URL", "redis://localhost:6379/0")),
		Workdir:           GetString("BUILDER_WORKDIR", "/home/app"),
		BuildCommand:      GetString("BUILD_COMMAND", "npm install && npm run build"),
		OutputDir:         GetString("BUILD_OUTPUT_DIR", "dist"),
		GitTimeout:        time.Duration(GetInt("GIT_TIMEOUT_SECONDS", 120)) * time.Second,
		PublishTimeout:    time.Duration(GetInt("PUBLISH_TIMEOUT_SECONDS", 5)) * time.Second,
		UploadConcurrency: GetInt("UPLOAD_CONCURRENCY", 1),
		KeepWorkspace:     GetBool("BUILDER_KEEP_WORKSPACE", false),
		S3Bucket:          GetString("S3_BUCKET", "deployer-vercel-clone"),
		S3Region:          GetString("S3_REGION", GetString("REGION_NAME", "us-east-1")),
		S3Endpoint:        GetString("S3_ENDPOINT", ""),
		S3AccessKey:       GetString("S3_ACCESS_KEY", GetString("ACCESS_KEY_ID", "")),
		S3SecretKey:       GetString("S3_SECRET_KEY", GetString("SECRET_ACCESS_KEY", "")),
		S3ForcePathStyle:  GetBool("S3_FORCE_PATH_STYLE", false),
	}
}
