// Package config 负责加载和校验应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"docvault-go/pkg/crypto"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 进程启动时构造一次，之后以指针形式显式传给各个组件。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Crypto        CryptoConfig        `mapstructure:"crypto"`
	ClamAV        ClamAVConfig        `mapstructure:"clamav"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Extraction    ExtractionConfig    `mapstructure:"extraction"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port           string `mapstructure:"port"`
	Mode           string `mapstructure:"mode"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig 存储 PostgreSQL（含 pgvector 扩展）的配置。
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 校验相关的配置。令牌由外部认证服务签发。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// CryptoConfig 存储系统主密钥（base64 编码的 32 字节）。
type CryptoConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

// ClamAVConfig 存储 clamd 守护进程的连接配置。
type ClamAVConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Address   string        `mapstructure:"address"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ChunkSize int           `mapstructure:"chunk_size"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ExtractionConfig 存储外部进程类提取器的配置。
type ExtractionConfig struct {
	CalibrePath   string        `mapstructure:"calibre_path"`
	TesseractPath string        `mapstructure:"tesseract_path"`
	OCRLanguages  []string      `mapstructure:"ocr_languages"`
	TempDir       string        `mapstructure:"temp_dir"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// ChunkingConfig 以字符（rune）为单位。
type ChunkingConfig struct {
	WindowSize int `mapstructure:"window_size"`
	Overlap    int `mapstructure:"overlap"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Dimensions        int           `mapstructure:"dimensions"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置提示词规则与无检索结果时的固定回答。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	NoResultText string `mapstructure:"no_result_text"`
}

// PipelineConfig 存储摄取流水线的重试与并发控制参数。
type PipelineConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	EmbedBatchSize   int           `mapstructure:"embed_batch_size"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	MaxDeliveries    int           `mapstructure:"max_deliveries"`
	BusyRequeueDelay time.Duration `mapstructure:"busy_requeue_delay"`
}

// RetrievalConfig 存储检索相关的配置。
type RetrievalConfig struct {
	TopK    int    `mapstructure:"top_k"`
	Backend string `mapstructure:"backend"`
	// CandidateFactor 仅对 elasticsearch 后端生效：先取 TopK*CandidateFactor 个候选再做资格复核。
	CandidateFactor int `mapstructure:"candidate_factor"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

const (
	BackendPgvector      = "pgvector"
	BackendElasticsearch = "elasticsearch"
)

// Load 从指定路径读取 YAML 文件并解析到 Config 中。
// 环境变量（前缀 DOCVAULT_，"." 替换为 "_"）优先于文件中的值；若存在 .env 文件则先加载它。
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("加载 .env 文件失败: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DOCVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_bytes", 100<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")
	v.SetDefault("database.postgres.dsn", "host=localhost user=dvu password=secret dbname=digital_vault_db port=5432 sslmode=disable")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "document-ingestion")
	v.SetDefault("kafka.group_id", "docvault-ingestion-workers")
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "docvault")
	v.SetDefault("crypto.master_key", "")
	v.SetDefault("clamav.enabled", true)
	v.SetDefault("clamav.address", "clamav:3310")
	v.SetDefault("clamav.timeout", "2m")
	v.SetDefault("clamav.chunk_size", 64*1024)
	v.SetDefault("tika.server_url", "http://tika:9998")
	v.SetDefault("tika.timeout", "2m")
	v.SetDefault("extraction.calibre_path", "ebook-convert")
	v.SetDefault("extraction.tesseract_path", "tesseract")
	v.SetDefault("extraction.ocr_languages", []string{"spa", "eng"})
	v.SetDefault("extraction.temp_dir", "")
	v.SetDefault("extraction.timeout", "5m")
	v.SetDefault("chunking.window_size", 1000)
	v.SetDefault("chunking.overlap", 100)
	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "http://ollama:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.timeout", "10m")
	v.SetDefault("embedding.requests_per_second", 0)
	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "http://ollama:11434")
	v.SetDefault("llm.model", "phi3:3.8b-mini-4k-instruct-q4_K_M")
	v.SetDefault("llm.timeout", "10m")
	v.SetDefault("llm.prompt.rules", "")
	v.SetDefault("llm.prompt.no_result_text", "")
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.retry_delay", "60s")
	v.SetDefault("pipeline.embed_batch_size", 16)
	v.SetDefault("pipeline.lock_ttl", "30m")
	v.SetDefault("pipeline.max_deliveries", 5)
	v.SetDefault("pipeline.busy_requeue_delay", "30s")
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.backend", BackendPgvector)
	v.SetDefault("retrieval.candidate_factor", 10)
	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_name", "docvault_chunks")
}

// Validate 检查启动期必须满足的配置约束，任何一项不满足都应当让进程直接退出，
// 而不是推迟到某个任务执行时才失败。
func (c *Config) Validate() error {
	var errs []error
	if c.Crypto.MasterKey == "" {
		errs = append(errs, errors.New("crypto.master_key 未配置"))
	} else if _, err := crypto.ParseMasterKey(c.Crypto.MasterKey); err != nil {
		errs = append(errs, fmt.Errorf("crypto.master_key 无效: %w", err))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions 必须大于 0, 当前为 %d", c.Embedding.Dimensions))
	}
	if c.Chunking.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("chunking.window_size 必须大于 0, 当前为 %d", c.Chunking.WindowSize))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.WindowSize {
		errs = append(errs, fmt.Errorf("chunking.overlap 必须满足 0 <= overlap < window_size, 当前为 %d", c.Chunking.Overlap))
	}
	if c.Pipeline.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_retries 不能为负数, 当前为 %d", c.Pipeline.MaxRetries))
	}
	if c.Pipeline.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.embed_batch_size 必须大于 0, 当前为 %d", c.Pipeline.EmbedBatchSize))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k 必须大于 0, 当前为 %d", c.Retrieval.TopK))
	}
	switch c.Retrieval.Backend {
	case BackendPgvector, BackendElasticsearch:
	default:
		errs = append(errs, fmt.Errorf("未知的 retrieval.backend: %q", c.Retrieval.Backend))
	}
	return errors.Join(errs...)
}
