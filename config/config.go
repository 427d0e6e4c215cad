package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// EmbeddingConfig Azure OpenAI embedding 接口配置
type EmbeddingConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIKey     string `yaml:"api_key"`
	APIVersion string `yaml:"api_version"`
}

// GraphConfig Microsoft Graph / 认证配置
type GraphConfig struct {
	TenantID          string `yaml:"tenant_id"`
	ClientID          string `yaml:"client_id"`
	ClientSecret      string `yaml:"client_secret"`
	Mailbox           string `yaml:"mailbox"`            // the monitored mailbox address (also the loop-guard identity)
	NotifyAddress     string `yaml:"notify_address"`     // internal mailbox receiving priority notifications
	ProcessedFolderID string `yaml:"processed_folder_id"` // optional; replied messages are moved here
}

// TriageConfig 分诊策略配置
type TriageConfig struct {
	SimilarityThreshold   float64 `yaml:"similarity_threshold"`
	FallbackTemplateLabel string  `yaml:"fallback_template_label"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	WebhookSecret         string  `yaml:"webhook_secret"`
}

type Config struct {
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	MQ        MQConfig        `yaml:"mq"`
	Server    ServerConfig    `yaml:"server"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Graph     GraphConfig     `yaml:"graph"`
	Triage    TriageConfig    `yaml:"triage"`
}

func Load() *Config {
	f, err := os.Open("config.yaml")
	if err != nil {
		log.Fatalf("failed to open config.yaml: %v", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config.yaml: %v", err)
	}

	// 环境变量覆盖（生产环境使用）
	overrideFromEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Triage.SimilarityThreshold == 0 {
		cfg.Triage.SimilarityThreshold = 0.25
	}
	if cfg.Triage.FallbackTemplateLabel == "" {
		cfg.Triage.FallbackTemplateLabel = "General Customer Inquiry Acknowledgment"
	}
	if cfg.Triage.RequestTimeoutSeconds == 0 {
		cfg.Triage.RequestTimeoutSeconds = 30
	}
	if cfg.Embedding.APIVersion == "" {
		cfg.Embedding.APIVersion = "2024-10-21"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
}

// Validate reports configuration the triage pipeline cannot run without.
func (cfg *Config) Validate() error {
	if cfg.Graph.Mailbox == "" {
		return fmt.Errorf("graph.mailbox (mailbox identity) is required")
	}
	if cfg.Graph.TenantID == "" || cfg.Graph.ClientID == "" || cfg.Graph.ClientSecret == "" {
		return fmt.Errorf("graph tenant_id/client_id/client_secret are required")
	}
	if cfg.Embedding.Endpoint == "" || cfg.Embedding.Deployment == "" {
		return fmt.Errorf("embedding endpoint and deployment are required")
	}
	return nil
}

func overrideFromEnv(cfg *Config) {
	// DB配置
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	// Redis配置
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	// MQ配置
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	// Server配置
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}

	// Embedding配置
	if endpoint := os.Getenv("OPENAI_ENDPOINT"); endpoint != "" {
		cfg.Embedding.Endpoint = endpoint
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
	if deployment := os.Getenv("AZURE_OPENAI_DEPLOYMENT"); deployment != "" {
		cfg.Embedding.Deployment = deployment
	}

	// Graph配置
	if tenant := os.Getenv("TENANT_ID"); tenant != "" {
		cfg.Graph.TenantID = tenant
	}
	if id := os.Getenv("APPLICATION_ID"); id != "" {
		cfg.Graph.ClientID = id
	}
	if secret := os.Getenv("CLIENT_SECRET"); secret != "" {
		cfg.Graph.ClientSecret = secret
	}
	if mailbox := os.Getenv("TRIAGE_MAILBOX"); mailbox != "" {
		cfg.Graph.Mailbox = mailbox
	}
	if notify := os.Getenv("TRIAGE_NOTIFY_ADDRESS"); notify != "" {
		cfg.Graph.NotifyAddress = notify
	}

	// Webhook secret
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		cfg.Triage.WebhookSecret = secret
	}
}
