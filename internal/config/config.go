// Package config loads the chat server configuration from the environment.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultBillingEndpoint = "https://sdp-sandbox-billing.cluster01.viind.io/graphql"
	DefaultModel           = "gpt-4o"
	DefaultSystemPrompt    = "You are a helpful and funny assistant who works for Viind. You always answer in Bavarian."
)

// ErrMissingAPIKey is returned by Validate when no completion API key is configured.
var ErrMissingAPIKey = errors.New("OpenAI API key is required: set OPENAI_API_KEY")

// Config holds the server configuration.
type Config struct {
	// Server settings
	Port      int
	StaticDir string

	// Completion API
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	CompletionTimeout time.Duration

	// Billing API
	BillingEndpoint string
	BillingToken    string
	BillingTimeout  time.Duration

	// Identities forwarded to the billing API
	CustomerID   string
	SenderID     string
	InputChannel string

	SystemPrompt   string
	SessionIdleTTL time.Duration

	DatabasePath string

	// Logging and tracing
	LogLevel  string
	LogFile   string
	TraceFile string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 3000)
	v.SetDefault("static_dir", "web")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("openai_model", DefaultModel)
	v.SetDefault("completion_timeout", 2*time.Minute)
	v.SetDefault("billing_api_endpoint", DefaultBillingEndpoint)
	v.SetDefault("billing_api_bearer_token", "")
	v.SetDefault("billing_timeout", 10*time.Second)
	v.SetDefault("customer_id", "default-customer")
	v.SetDefault("sender_id", "web-user-1")
	v.SetDefault("input_channel", "web")
	v.SetDefault("system_prompt", DefaultSystemPrompt)
	v.SetDefault("session_idle_ttl", time.Duration(0))
	v.SetDefault("database_path", "chat-usage.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("trace_file", "")
}

// Load reads the configuration from v, falling back to environment variables
// and the defaults registered by SetDefaults.
func Load(v *viper.Viper) *Config {
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return &Config{
		Port:              v.GetInt("port"),
		StaticDir:         v.GetString("static_dir"),
		OpenAIAPIKey:      v.GetString("openai_api_key"),
		OpenAIBaseURL:     v.GetString("openai_base_url"),
		OpenAIModel:       v.GetString("openai_model"),
		CompletionTimeout: v.GetDuration("completion_timeout"),
		BillingEndpoint:   v.GetString("billing_api_endpoint"),
		BillingToken:      v.GetString("billing_api_bearer_token"),
		BillingTimeout:    v.GetDuration("billing_timeout"),
		CustomerID:        v.GetString("customer_id"),
		SenderID:          v.GetString("sender_id"),
		InputChannel:      v.GetString("input_channel"),
		SystemPrompt:      v.GetString("system_prompt"),
		SessionIdleTTL:    v.GetDuration("session_idle_ttl"),
		DatabasePath:      v.GetString("database_path"),
		LogLevel:          v.GetString("log_level"),
		LogFile:           v.GetString("log_file"),
		TraceFile:         v.GetString("trace_file"),
	}
}

// Validate checks the hard startup preconditions.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Warnings lists configuration problems that do not prevent startup.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.BillingToken == "" {
		warnings = append(warnings, "BILLING_API_BEARER_TOKEN not set, credit checks will fail closed")
	}
	return warnings
}
