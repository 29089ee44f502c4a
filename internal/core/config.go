package core

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/guestbook/internal/backend/imageprocessing"
	"github.com/jo-hoe/guestbook/internal/common"
	"github.com/jo-hoe/guestbook/internal/defense"
)

// SecretKeyEnv overrides security.secretKey so the secret can stay out of the file.
const SecretKeyEnv = "GUESTBOOK_SECRET_KEY"

type Database struct {
	Type             string `yaml:"type" validate:"required,oneof=sqlite postgres"`
	ConnectionString string `yaml:"connectionString" validate:"required"`
}

type Upload struct {
	Dir string `yaml:"dir" validate:"required"`
	// MaxRequestBytes caps the whole request body, form fields included.
	MaxRequestBytes            int64                           `yaml:"maxRequestBytes" validate:"gt=0"`
	MinFileBytes               int64                           `yaml:"minFileBytes" validate:"gte=0"`
	MaxFileBytes               int64                           `yaml:"maxFileBytes" validate:"gt=0"`
	MaxPixels                  int64                           `yaml:"maxPixels" validate:"gt=0"`
	MaxAspectRatio             float64                         `yaml:"maxAspectRatio" validate:"gte=1"`
	JPEGQuality                int                             `yaml:"jpegQuality" validate:"min=1,max=100"`
	NullRunThreshold           int                             `yaml:"nullRunThreshold" validate:"gte=0"`
	VerifyTimeout              time.Duration                   `yaml:"verifyTimeout" validate:"gt=0"`
	MaxConcurrentVerifications int                             `yaml:"maxConcurrentVerifications" validate:"gte=1"`
	Commands                   []imageprocessing.CommandConfig `yaml:"commands"`
}

type RateLimit struct {
	// Storage is "memory://" or a redis:// URL.
	Storage string `yaml:"storage" validate:"required"`
	Write   string `yaml:"write" validate:"required"`
	Read    string `yaml:"read" validate:"required"`
	// Uploads is counted apart from Read: one page view fetches every
	// listed image.
	Uploads string `yaml:"uploads" validate:"required"`
}

type Security struct {
	SecretKey              string            `yaml:"secretKey"`
	CSRFValidity           time.Duration     `yaml:"csrfValidity" validate:"gt=0"`
	TrustProxy             bool              `yaml:"trustProxy"`
	SuspiciousHeaders      []string          `yaml:"suspiciousHeaders"`
	SuspiciousHeaderPolicy string            `yaml:"suspiciousHeaderPolicy" validate:"oneof=log block"`
	ContentSecurityPolicy  string            `yaml:"contentSecurityPolicy"`
	ReferrerPolicy         string            `yaml:"referrerPolicy"`
	HSTSMaxAge             int               `yaml:"hstsMaxAge" validate:"gte=0"`
	ExtraHeaders           map[string]string `yaml:"extraHeaders"`
}

type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type ServiceConfig struct {
	Port             int       `yaml:"port" validate:"min=0,max=65535"`
	MaxCommentLength int       `yaml:"maxCommentLength" validate:"gt=0"`
	ListLimit        int       `yaml:"listLimit" validate:"gt=0"`
	Database         Database  `yaml:"database"`
	Upload           Upload    `yaml:"upload"`
	RateLimit        RateLimit `yaml:"rateLimit"`
	Security         Security  `yaml:"security"`
	Logging          Logging   `yaml:"logging"`
}

// DefaultConfig returns the configuration used for every key a file leaves out.
func DefaultConfig() *ServiceConfig {
	headers := defense.DefaultHeaderConfig()
	limits := imageprocessing.DefaultLimits()
	return &ServiceConfig{
		Port:             8080,
		MaxCommentLength: 10000,
		ListLimit:        100,
		Database: Database{
			Type:             "sqlite",
			ConnectionString: "guestbook.db",
		},
		Upload: Upload{
			Dir:                        "uploads",
			MaxRequestBytes:            limits.MaxFileBytes + 1<<20,
			MinFileBytes:               100,
			MaxFileBytes:               limits.MaxFileBytes,
			MaxPixels:                  limits.MaxPixels,
			MaxAspectRatio:             limits.MaxAspectRatio,
			JPEGQuality:                limits.JPEGQuality,
			NullRunThreshold:           256,
			VerifyTimeout:              5 * time.Second,
			MaxConcurrentVerifications: 4,
			Commands:                   imageprocessing.DefaultCommandConfigs(),
		},
		RateLimit: RateLimit{
			Storage: "memory://",
			Write:   "10/minute;100/hour",
			Read:    "100/minute;1000/hour",
			Uploads: "100/minute;1000/hour",
		},
		Security: Security{
			CSRFValidity:           time.Hour,
			SuspiciousHeaders:      defense.DefaultSuspiciousHeaders(),
			SuspiciousHeaderPolicy: string(defense.SuspiciousLog),
			ContentSecurityPolicy:  headers.ContentSecurityPolicy,
			ReferrerPolicy:         headers.ReferrerPolicy,
			HSTSMaxAge:             headers.HSTSMaxAge,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from the specified YAML file on top of the defaults
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if secret := os.Getenv(SecretKeyEnv); secret != "" {
		config.Security.SecretKey = secret
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}
	return config, nil
}

// Validate checks struct constraints and everything the tags cannot express.
func (c *ServiceConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid fields %s: %w", strings.Join(common.FailedFields(err), ", "), err)
	}
	if c.Upload.MinFileBytes > c.Upload.MaxFileBytes {
		return fmt.Errorf("upload.minFileBytes %d exceeds upload.maxFileBytes %d", c.Upload.MinFileBytes, c.Upload.MaxFileBytes)
	}
	if c.Upload.MaxRequestBytes < c.Upload.MaxFileBytes {
		return fmt.Errorf("upload.maxRequestBytes %d is smaller than upload.maxFileBytes %d", c.Upload.MaxRequestBytes, c.Upload.MaxFileBytes)
	}
	if err := validateCommands(c.Upload.Commands); err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	if _, err := defense.ParseLimits(c.RateLimit.Write); err != nil {
		return fmt.Errorf("rateLimit.write: %w", err)
	}
	if _, err := defense.ParseLimits(c.RateLimit.Read); err != nil {
		return fmt.Errorf("rateLimit.read: %w", err)
	}
	if _, err := defense.ParseLimits(c.RateLimit.Uploads); err != nil {
		return fmt.Errorf("rateLimit.uploads: %w", err)
	}
	if c.Security.SecretKey != "" && len(c.Security.SecretKey) < 16 {
		return errors.New("security.secretKey must be at least 16 characters")
	}
	return nil
}

// validateCommands ensures all command configurations name a registered, unique command
func validateCommands(commands []imageprocessing.CommandConfig) error {
	seenNames := make(map[string]bool)

	for i, cmd := range commands {
		// Validate name is not empty
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}
		if !imageprocessing.DefaultRegistry.IsRegistered(cmd.Name) {
			return fmt.Errorf("unknown command at index %d: %s", i, cmd.Name)
		}

		// Validate name is unique
		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true
	}

	return nil
}

// SnifferLimits maps the upload section onto the image sniffer's limits.
func (u Upload) SnifferLimits() imageprocessing.Limits {
	return imageprocessing.Limits{
		MaxFileBytes:   u.MaxFileBytes,
		MaxPixels:      u.MaxPixels,
		MaxAspectRatio: u.MaxAspectRatio,
		JPEGQuality:    u.JPEGQuality,
	}
}
