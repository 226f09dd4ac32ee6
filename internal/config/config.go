package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrConfiguration marks start-up problems the service cannot run without.
var ErrConfiguration = errors.New("configuration error")

const gib = 1024 * 1024 * 1024

type Config struct {
	Port        int
	StatusToken string

	CameraAddress  string
	CameraUsername string
	CameraPassword string
	CameraWidth    int
	CameraHeight   int
	CameraFPS      float64 // RTSP streams misreport fps, so it is configured instead of probed

	FeedPlate        int
	PetlibroEmail    string
	PetlibroPassword string
	PetlibroRegion   string
	PetlibroTimezone string
	SettleDelay      time.Duration

	RecordingsDirectory string
	HourlySizeLimit     int64 // bytes
	OriginalSizeLimit   int64 // bytes

	TorchEnabled bool

	DatabasePath string
	LogDirectory string
	Debug        bool
}

// loadEnvFile copies name into the environment without overriding variables
// already set. A missing file is not an error.
func loadEnvFile(name string) error {
	err := godotenv.Load(name)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", name, err)
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	if err := loadEnvFile(".env"); err != nil {
		log.Printf("⚠️  %v, using the process environment only", err)
	}

	return &Config{
		Port:        getEnvAsInt("PORT", 8080),
		StatusToken: getEnv("STATUS_TOKEN", ""),

		CameraAddress:  getEnv("CAMERA_ADDRESS", "192.168.0.91:8080"),
		CameraUsername: getEnv("CAMERA_USERNAME", ""),
		CameraPassword: getEnv("CAMERA_PASSWORD", ""),
		CameraWidth:    getEnvAsInt("CAMERA_WIDTH", 1920),
		CameraHeight:   getEnvAsInt("CAMERA_HEIGHT", 1080),
		CameraFPS:      getEnvAsFloat("CAMERA_FPS", 30),

		FeedPlate:        getEnvAsInt("FEED_PLATE", 1),
		PetlibroEmail:    getEnv("PETLIBRO_EMAIL", ""),
		PetlibroPassword: getEnv("PETLIBRO_PASSWORD", ""),
		PetlibroRegion:   getEnv("PETLIBRO_REGION", "US"),
		PetlibroTimezone: getEnv("PETLIBRO_TIMEZONE", "America/New_York"),
		SettleDelay:      getEnvAsDuration("SETTLE_DELAY", 3*time.Second),

		RecordingsDirectory: getEnv("RECORDINGS_DIR", filepath.Join(".", "recordings")),
		HourlySizeLimit:     getEnvAsInt64("HOURLY_SIZE_LIMIT", 20*gib),   // ~0.5GB per hour
		OriginalSizeLimit:   getEnvAsInt64("ORIGINAL_SIZE_LIMIT", 20*gib), // event clips

		TorchEnabled: getEnvAsBool("TORCH_ENABLED", true),

		DatabasePath: getEnv("DB_PATH", filepath.Join(".", "data", "feeder.db")),
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		Debug:        os.Getenv("DEBUG") != "",
	}
}

// Validate reports missing credentials and nonsensical values.
func (c *Config) Validate() error {
	var missing []string
	if c.CameraUsername == "" {
		missing = append(missing, "CAMERA_USERNAME")
	}
	if c.CameraPassword == "" {
		missing = append(missing, "CAMERA_PASSWORD")
	}
	if c.PetlibroEmail == "" {
		missing = append(missing, "PETLIBRO_EMAIL")
	}
	if c.PetlibroPassword == "" {
		missing = append(missing, "PETLIBRO_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	if c.CameraFPS <= 0 || c.CameraFPS > 120 {
		return fmt.Errorf("%w: CAMERA_FPS must be in (0, 120], got %v", ErrConfiguration, c.CameraFPS)
	}
	if c.CameraWidth <= 0 || c.CameraHeight <= 0 {
		return fmt.Errorf("%w: invalid camera resolution %dx%d", ErrConfiguration, c.CameraWidth, c.CameraHeight)
	}
	if c.FeedPlate < 1 {
		return fmt.Errorf("%w: FEED_PLATE must be >= 1, got %d", ErrConfiguration, c.FeedPlate)
	}
	return nil
}

// CameraBaseURL is the HTTP control endpoint of the camera.
func (c *Config) CameraBaseURL() string {
	return "http://" + c.CameraAddress
}

// StreamURL is the RTSP address of the camera's h264 stream, credentials included.
func (c *Config) StreamURL() string {
	return fmt.Sprintf("rtsp://%s:%s@%s/h264_ulaw.sdp", c.CameraUsername, c.CameraPassword, c.CameraAddress)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
