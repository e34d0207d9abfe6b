// Package config loads the smmpublish configuration from defaults, an
// optional YAML file and SMM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when no --config path is given.
const DefaultConfigFile = "smmpublish.yaml"

const envPrefix = "SMM"

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return v, nil
}

// Graph configures the Graph API used by Instagram and Facebook.
type Graph struct {
	BaseURL string `yaml:"base_url"`
	Version string `yaml:"version"`
}

// TikTok configures the content posting API. PreferredPrivacy is opt-in;
// when empty the first level the creator offers is used.
type TikTok struct {
	BaseURL          string   `yaml:"base_url"`
	PreferredPrivacy []string `yaml:"preferred_privacy"`
}

// HTTP bounds outbound calls and media downloads.
type HTTP struct {
	RequestTimeout Duration `yaml:"request_timeout"`
	UploadTimeout  Duration `yaml:"upload_timeout"`
	FetchTimeout   Duration `yaml:"fetch_timeout"`
	FetchRetries   int      `yaml:"fetch_retries"`
	MaxMediaBytes  int64    `yaml:"max_media_bytes"`
}

// Instagram tunes story publish retries.
type Instagram struct {
	StoryRetries    int      `yaml:"story_retries"`
	StoryRetryDelay Duration `yaml:"story_retry_delay"`
}

// Carousel tunes item fan-out.
type Carousel struct {
	Concurrency int `yaml:"concurrency"`
}

// Storage configures the intermediate object store. An empty bucket
// disables it.
type Storage struct {
	Bucket        string   `yaml:"bucket"`
	Region        string   `yaml:"region"`
	Endpoint      string   `yaml:"endpoint"`
	Prefix        string   `yaml:"prefix"`
	PublicBaseURL string   `yaml:"public_base_url"`
	PresignTTL    Duration `yaml:"presign_ttl"`
	UsePathStyle  bool     `yaml:"use_path_style"`
}

// Enabled reports whether a bucket was configured.
func (s Storage) Enabled() bool { return strings.TrimSpace(s.Bucket) != "" }

// Renderer locates ffmpeg and the caption font.
type Renderer struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	FontFile   string `yaml:"font_file"`
}

// Server configures the HTTP surface.
type Server struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Config is the full configuration.
type Config struct {
	Graph     Graph     `yaml:"graph"`
	TikTok    TikTok    `yaml:"tiktok"`
	HTTP      HTTP      `yaml:"http"`
	Instagram Instagram `yaml:"instagram"`
	Carousel  Carousel  `yaml:"carousel"`
	Storage   Storage   `yaml:"storage"`
	Renderer  Renderer  `yaml:"renderer"`
	Server    Server    `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Graph: Graph{
			BaseURL: "https://graph.facebook.com",
			Version: "v21.0",
		},
		TikTok: TikTok{
			BaseURL: "https://open.tiktokapis.com",
		},
		HTTP: HTTP{
			RequestTimeout: Duration(30 * time.Second),
			UploadTimeout:  Duration(5 * time.Minute),
			FetchTimeout:   Duration(2 * time.Minute),
			FetchRetries:   2,
			MaxMediaBytes:  512 << 20,
		},
		Instagram: Instagram{
			StoryRetries:    3,
			StoryRetryDelay: Duration(5 * time.Second),
		},
		Carousel: Carousel{Concurrency: 3},
		Storage: Storage{
			Prefix:     "tmp/stories",
			PresignTTL: Duration(time.Hour),
		},
		Renderer: Renderer{FFmpegPath: "ffmpeg"},
		Server: Server{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path and
// SMM_* environment variables. Keys map to variables by upper-casing and
// replacing dots with underscores, e.g. SMM_HTTP_FETCH_RETRIES. A missing file
// is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := seedDefaults(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg,
		func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" },
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(durationHook, listHook)),
	)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seedDefaults registers every key with viper; AutomaticEnv only applies to
// known keys.
func seedDefaults(v *viper.Viper) error {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decoding defaults: %w", err)
	}
	for k, val := range tree {
		v.SetDefault(k, val)
	}
	return nil
}

var (
	durationType = reflect.TypeOf(Duration(0))
	listType     = reflect.TypeOf([]string(nil))
)

// durationHook decodes "1m30s" strings and bare numbers (seconds).
func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		d, err := parseDuration(reflect.ValueOf(data).String())
		return Duration(d), err
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Duration(time.Duration(reflect.ValueOf(data).Int()) * time.Second), nil
	case reflect.Float32, reflect.Float64:
		return Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	}
	return data, nil
}

// listHook splits comma-separated environment values into lists.
func listHook(from, to reflect.Type, data any) (any, error) {
	if to != listType || from.Kind() != reflect.String {
		return data, nil
	}
	var out []string
	for _, item := range strings.Split(reflect.ValueOf(data).String(), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var problems []string
	if c.Carousel.Concurrency < 1 {
		problems = append(problems, "carousel.concurrency must be at least 1")
	}
	if c.HTTP.FetchRetries < 0 {
		problems = append(problems, "http.fetch_retries must not be negative")
	}
	if c.HTTP.MaxMediaBytes <= 0 {
		problems = append(problems, "http.max_media_bytes must be positive")
	}
	if c.Instagram.StoryRetryDelay < 0 {
		problems = append(problems, "instagram.story_retry_delay must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
