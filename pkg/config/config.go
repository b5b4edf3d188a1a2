package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for a vodpipeline stage.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Kafka    KafkaConfig
	Storage  StorageConfig
	AWS      AWSConfig
	Pipeline PipelineConfig
	Tracing  TracingConfig
	Metrics  MetricsConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"vodpipeline"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxBodyBytes int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	GroupID          string        `env:"KAFKA_GROUP_ID" envDefault:"vodpipeline"`
	UploadsTopic     string        `env:"KAFKA_UPLOADS_TOPIC" envDefault:"vodpipeline.uploads"`
	JobStatusTopic   string        `env:"KAFKA_JOB_STATUS_TOPIC" envDefault:"vodpipeline.transcoder.status"`
	ManifestsTopic   string        `env:"KAFKA_MANIFESTS_TOPIC" envDefault:"vodpipeline.manifests"`
	FailuresTopic    string        `env:"KAFKA_FAILURES_TOPIC"`
	MinBytes         int           `env:"KAFKA_MIN_BYTES" envDefault:"1"`
	MaxBytes         int           `env:"KAFKA_MAX_BYTES" envDefault:"10485760"`
	MaxWait          time.Duration `env:"KAFKA_MAX_WAIT" envDefault:"1s"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

type StorageConfig struct {
	Provider  string `env:"STORAGE_PROVIDER" envDefault:"s3"`
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:"s3.amazonaws.com"`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"STORAGE_ACCESS_KEY"`
	SecretKey string `env:"STORAGE_SECRET_KEY"`
	UseSSL    bool   `env:"STORAGE_USE_SSL" envDefault:"true"`
}

// AWSConfig configures the AWS SDK clients used for S3 Select, Elastic
// Transcoder and S3 Control. Credentials come from the default chain.
type AWSConfig struct {
	Region     string `env:"AWS_REGION" envDefault:"us-east-1"`
	S3Endpoint string `env:"AWS_S3_ENDPOINT"`
}

// PipelineConfig holds the keys the three stages read. Each stage validates
// only the subset it needs.
type PipelineConfig struct {
	InputBucket          string        `env:"INPUT_BUCKET"`
	FileListsPrefix      string        `env:"FILE_LISTS_PREFIX"`
	TranscoderPipelineID string        `env:"ELASTIC_TRANSCODER_PIPELINE_ID"`
	TranscodedPrefix     string        `env:"TRANSCODED_VIDEOS_PREFIX"`
	AccountID            string        `env:"ACCOUNT_ID"`
	ManifestPrefix       string        `env:"MANIFEST_PREFIX"`
	OutputBucket         string        `env:"OUTPUT_BUCKET"`
	RoleARN              string        `env:"IAM_ROLE_ARN"`
	ListPageSize         int           `env:"LIST_PAGE_SIZE" envDefault:"1000"`
	ListMaxPages         int           `env:"LIST_MAX_PAGES" envDefault:"10000"`
	TokenMode            string        `env:"BATCH_TOKEN_MODE" envDefault:"random"`
	FailurePolicy        string        `env:"FAILURE_POLICY" envDefault:"isolate"`
	HandlerTimeout       time.Duration `env:"HANDLER_TIMEOUT" envDefault:"5m"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=vodpipeline"`
}

type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR" envDefault:":9102"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
