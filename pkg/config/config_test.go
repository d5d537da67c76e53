package config

import (
	"testing"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	config := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "pharmstock_app",
		Password: "secret",
		Database: "pharmstock",
		SSLMode:  "require",
	}

	want := "host=db.internal port=5432 user=pharmstock_app password=secret dbname=pharmstock sslmode=require"
	if got := config.DSN(); got != want {
		t.Errorf("DSN() = %v, want %v", got, want)
	}
}

func TestDatabaseConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      DatabaseConfig
		environment string
		wantErr     bool
	}{
		{
			name:        "development allows localhost defaults",
			config:      DatabaseConfig{Host: "localhost"},
			environment: EnvDevelopment,
			wantErr:     false,
		},
		{
			name:        "production rejects empty host",
			config:      DatabaseConfig{Host: ""},
			environment: EnvProduction,
			wantErr:     true,
		},
		{
			name:        "production rejects localhost",
			config:      DatabaseConfig{Host: "localhost"},
			environment: EnvProduction,
			wantErr:     true,
		},
		{
			name:        "staging rejects localhost",
			config:      DatabaseConfig{Host: "localhost"},
			environment: EnvStaging,
			wantErr:     true,
		},
		{
			name:        "production accepts real host",
			config:      DatabaseConfig{Host: "db.internal"},
			environment: EnvProduction,
			wantErr:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate(tt.environment)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
