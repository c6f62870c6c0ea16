package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/NomadCrew/nomad-crew-proximity/config"
	"gopkg.in/yaml.v3"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("ERROR: %s environment variable is not set in your .env file. Please set it and try again", key)
	}
	return value, nil
}

func main() {
	cfg, err := config.DefaultConfig()
	if err != nil {
		fmt.Printf("Error building defaults: %v\n", err)
		os.Exit(1)
	}

	cfg.Server.Environment = config.Environment(getEnvOrDefault("SERVER_ENVIRONMENT", string(cfg.Server.Environment)))
	cfg.Server.Port = getEnvOrDefault("PORT", cfg.Server.Port)
	cfg.Server.AllowedOrigins = strings.Split(getEnvOrDefault("ALLOWED_ORIGINS", "*"), ",")

	cfg.Sharing.Backend = getEnvOrDefault("SHARING_BACKEND", cfg.Sharing.Backend)
	cfg.Sharing.UserID = os.Getenv("SHARING_USER_ID")
	cfg.Sharing.FestivalID = os.Getenv("FESTIVAL_ID")

	// Secrets are only required for the selected backend.
	switch cfg.Sharing.Backend {
	case config.BackendSupabase:
		for key, dest := range map[string]*string{
			"SUPABASE_URL":      &cfg.Supabase.URL,
			"SUPABASE_ANON_KEY": &cfg.Supabase.AnonKey,
		} {
			value, err := requireEnv(key)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			*dest = value
		}
		cfg.Supabase.AccessToken = os.Getenv("SUPABASE_ACCESS_TOKEN")
		cfg.Supabase.JWTSecret = os.Getenv("SUPABASE_JWT_SECRET")
	case config.BackendPostgres:
		cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
		cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
		cfg.Database.Name = getEnvOrDefault("DB_NAME", cfg.Database.Name)
		cfg.Database.SSLMode = getEnvOrDefault("DB_SSL_MODE", cfg.Database.SSLMode)
		dbPass, err := requireEnv("DB_PASSWORD")
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		cfg.Database.Password = dbPass
	default:
		fmt.Printf("Error: unknown sharing backend %q\n", cfg.Sharing.Backend)
		os.Exit(1)
	}

	cfg.Capture.Store = getEnvOrDefault("CAPTURE_STORE", cfg.Capture.Store)
	if cfg.Capture.Store == config.StoreRedis {
		cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
		cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}

	cfg.Notification.APIUrl = os.Getenv("NOTIFICATION_API_URL")
	cfg.Notification.APIKey = os.Getenv("NOTIFICATION_API_KEY")
	cfg.Notification.Enabled = cfg.Notification.APIUrl != "" && cfg.Notification.APIKey != ""

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Printf("Error marshaling YAML: %v\n", err)
		os.Exit(1)
	}

	env := "development"
	if len(os.Args) > 1 {
		env = os.Args[1]
	}

	if err := os.MkdirAll("config", 0755); err != nil {
		fmt.Printf("Error creating config directory: %v\n", err)
		os.Exit(1)
	}

	filename := fmt.Sprintf("config/config.%s.yaml", env)
	if err := os.WriteFile(filename, yamlData, 0600); err != nil {
		fmt.Printf("Error writing config file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully generated %s (load it with CONFIG_FILE=%s)\n", filename, filename)
}
