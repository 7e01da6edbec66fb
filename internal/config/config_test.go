package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8000")
	}
	if cfg.JWTIssuer != "homestack-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "homestack-auth")
	}
	if cfg.JWTAudience != "homestack-api" {
		t.Errorf("JWTAudience = %q, want %q", cfg.JWTAudience, "homestack-api")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.PasswordMinLength != 8 {
		t.Errorf("PasswordMinLength = %d, want 8", cfg.PasswordMinLength)
	}
	if cfg.RuntimeDriver != RuntimeDriverAPI {
		t.Errorf("RuntimeDriver = %q, want %q", cfg.RuntimeDriver, RuntimeDriverAPI)
	}
	if cfg.PortRangeStart != 8200 || cfg.PortRangeEnd != 8300 {
		t.Errorf("port range = %d..%d, want 8200..8300", cfg.PortRangeStart, cfg.PortRangeEnd)
	}
	if cfg.HATimezone != "Europe/Budapest" {
		t.Errorf("HATimezone = %q, want Europe/Budapest", cfg.HATimezone)
	}
	if cfg.HACPULimit != 0.5 {
		t.Errorf("HACPULimit = %v, want 0.5", cfg.HACPULimit)
	}
	if cfg.ContextWindow != 10 {
		t.Errorf("ContextWindow = %d, want 10", cfg.ContextWindow)
	}
	if cfg.ConfidenceThreshold != 0.5 {
		t.Errorf("ConfidenceThreshold = %v, want 0.5", cfg.ConfidenceThreshold)
	}
	if cfg.ActionDriver != ActionDriverNoop {
		t.Errorf("ActionDriver = %q, want %q", cfg.ActionDriver, ActionDriverNoop)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("BCRYPT_COST", "14")
	os.Setenv("RUNTIME_DRIVER", " CLI ")
	os.Setenv("PORT_RANGE_START", "9000")
	os.Setenv("PORT_RANGE_END", "9002")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.BcryptCost != 14 {
		t.Errorf("BcryptCost = %d, want 14", cfg.BcryptCost)
	}
	if cfg.RuntimeDriver != RuntimeDriverCLI {
		t.Errorf("RuntimeDriver = %q, want %q", cfg.RuntimeDriver, RuntimeDriverCLI)
	}
	if cfg.PortRangeStart != 9000 || cfg.PortRangeEnd != 9002 {
		t.Errorf("port range = %d..%d, want 9000..9002", cfg.PortRangeStart, cfg.PortRangeEnd)
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  int
		err   bool
	}{
		{"valid min", "4", 4, false},
		{"valid max", "31", 31, false},
		{"valid middle", "12", 12, false},
		{"too low", "3", 0, true},
		{"too high", "32", 0, true},
		{"zero", "0", 12, false}, // Should default to 12
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("BCRYPT_COST", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BcryptCost != tc.want {
				t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, tc.want)
			}
		})
	}
}

func TestLoad_InvalidSettings(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"empty port range", map[string]string{"PORT_RANGE_START": "8300", "PORT_RANGE_END": "8300"}},
		{"inverted port range", map[string]string{"PORT_RANGE_START": "8300", "PORT_RANGE_END": "8200"}},
		{"port out of range", map[string]string{"PORT_RANGE_START": "65000", "PORT_RANGE_END": "70000"}},
		{"unknown runtime driver", map[string]string{"RUNTIME_DRIVER": "podman"}},
		{"mock runtime in production", map[string]string{"RUNTIME_DRIVER": "mock", "APP_ENV": "production"}},
		{"unknown action driver", map[string]string{"ACTION_DRIVER": "zigbee"}},
		{"zero context window", map[string]string{"CONTEXT_WINDOW": "-1"}},
		{"threshold above one", map[string]string{"CONFIDENCE_THRESHOLD": "1.5"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			cfg, err := Load()
			if err == nil {
				t.Fatal("Load should return error")
			}
			if cfg != nil {
				t.Error("Load should return nil config on error")
			}
		})
	}
}

func TestLoad_MockRuntimeOutsideProduction(t *testing.T) {
	os.Clearenv()
	os.Setenv("RUNTIME_DRIVER", "mock")
	os.Setenv("APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RuntimeDriver != RuntimeDriverMock {
		t.Errorf("RuntimeDriver = %q, want mock", cfg.RuntimeDriver)
	}
}

func TestDurationHelpers(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
		get   func(*Config) time.Duration
		want  time.Duration
	}{
		{"access valid", "JWT_ACCESS_TTL", "30m", (*Config).AccessTTL, 30 * time.Minute},
		{"access invalid", "JWT_ACCESS_TTL", "invalid", (*Config).AccessTTL, 60 * time.Minute},
		{"access zero", "JWT_ACCESS_TTL", "0", (*Config).AccessTTL, 60 * time.Minute},
		{"access negative", "JWT_ACCESS_TTL", "-5m", (*Config).AccessTTL, 60 * time.Minute},
		{"refresh valid", "JWT_REFRESH_TTL", "336h", (*Config).RefreshTTL, 14 * 24 * time.Hour},
		{"refresh invalid", "JWT_REFRESH_TTL", "invalid", (*Config).RefreshTTL, 168 * time.Hour},
		{"kv timeout", "KV_TIMEOUT", "100ms", (*Config).KVOpTimeout, 100 * time.Millisecond},
		{"session ttl fallback", "SESSION_TTL", "-1s", (*Config).SessionContextTTL, 30 * time.Minute},
		{"nlu timeout", "NLU_TIMEOUT", "2s", (*Config).NLURequestTimeout, 2 * time.Second},
		{"create timeout", "RUNTIME_CREATE_TIMEOUT", "45s", (*Config).CreateTimeout, 45 * time.Second},
		{"start timeout fallback", "RUNTIME_START_TIMEOUT", "soon", (*Config).StartTimeout, 15 * time.Second},
		{"stop grace", "RUNTIME_STOP_GRACE", "3s", (*Config).StopGrace, 3 * time.Second},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tc.key, tc.value)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got := tc.get(cfg); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTelemetryKafkaBrokersList(t *testing.T) {
	var nilCfg *Config
	if got := nilCfg.TelemetryKafkaBrokersList(); got != nil {
		t.Errorf("nil config: got %v, want nil", got)
	}
	cfg := &Config{TelemetryKafkaBrokers: " a:9092, ,b:9092 "}
	want := []string{"a:9092", "b:9092"}
	if got := cfg.TelemetryKafkaBrokersList(); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
