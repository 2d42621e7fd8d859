// Package config handles application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const scratchDirName = "downloadflow"

// Config holds the application configuration.
type Config struct {
	HTTP       HTTP
	App        App
	Job        Job
	Dir        Dir
	Storage    Storage
	Tools      Tools
	Info       Info
	DepManager DepManager
	Proxy      Proxy
}

// App holds application-wide configuration.
type App struct {
	LogLevel  string `env:"DOWNLOADFLOW_APP_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"DOWNLOADFLOW_APP_LOG_FORMAT" envDefault:"json"` // json or text
}

// Job holds download processing configuration.
type Job struct {
	Workers   int           `env:"DOWNLOADFLOW_JOB_WORKERS"    envDefault:"2"`
	Timeout   time.Duration `env:"DOWNLOADFLOW_JOB_TIMEOUT"    envDefault:"30m"`
	QueueSize int           `env:"DOWNLOADFLOW_JOB_QUEUE_SIZE" envDefault:"100"`
	// ProgressCeiling caps the reported progress until the download completes.
	// Merging and post-processing happen after the extractor prints 100%.
	ProgressCeiling float64 `env:"DOWNLOADFLOW_JOB_PROGRESS_CEILING" envDefault:"95"`
}

// Storage holds record and scratch file lifetime configuration.
type Storage struct {
	TTL             time.Duration `env:"DOWNLOADFLOW_STORAGE_TTL"              envDefault:"1h"`
	CleanupInterval time.Duration `env:"DOWNLOADFLOW_STORAGE_CLEANUP_INTERVAL" envDefault:"10m"`
	// ArtifactDelay is how long a delivered Mode A artifact stays on disk.
	ArtifactDelay time.Duration `env:"DOWNLOADFLOW_STORAGE_ARTIFACT_DELAY" envDefault:"60s"`
	// ScratchDelay is how long a streamed result left in scratch stays on disk.
	ScratchDelay time.Duration `env:"DOWNLOADFLOW_STORAGE_SCRATCH_DELAY" envDefault:"5m"`
	// BatchDelay is how long a delivered batch archive stays on disk.
	BatchDelay time.Duration `env:"DOWNLOADFLOW_STORAGE_BATCH_DELAY" envDefault:"60s"`
	// ScratchMaxAge is the age after which orphaned scratch files are swept.
	ScratchMaxAge time.Duration `env:"DOWNLOADFLOW_STORAGE_SCRATCH_MAX_AGE" envDefault:"24h"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port            string        `env:"DOWNLOADFLOW_HTTP_PORT"             envDefault:":3000"`
	HandlerTimeout  time.Duration `env:"DOWNLOADFLOW_HTTP_HANDLER_TIMEOUT"  envDefault:"20s"`
	ShutdownTimeout time.Duration `env:"DOWNLOADFLOW_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	AllowedOrigins []string `env:"DOWNLOADFLOW_HTTP_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	// RateLimitRPM applies per client IP to the endpoints that spawn the extractor.
	RateLimitRPM   int `env:"DOWNLOADFLOW_HTTP_RATE_LIMIT_RPM"   envDefault:"60"`
	RateLimitBurst int `env:"DOWNLOADFLOW_HTTP_RATE_LIMIT_BURST" envDefault:"10"`
}

// Dir holds directory paths for scratch files, the static UI, cache, and cookie file.
type Dir struct {
	Scratch string `env:"DOWNLOADFLOW_DIR_SCRATCH"  envDefault:""` // defaults to <os temp>/downloadflow
	AppPath string `env:"DOWNLOADFLOW_DIR_APP_PATH" envDefault:""` // static UI is served from <AppPath>/public
	Cache   string `env:"DOWNLOADFLOW_DIR_CACHE"    envDefault:""` // yt-dlp cache (meta, sigs)

	// see: https://github.com/yt-dlp/yt-dlp/wiki/FAQ#how-do-i-pass-cookies-to-yt-dlp
	CookieFile string `env:"DOWNLOADFLOW_DIR_COOKIE_FILE" envDefault:""`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error

	if c.Scratch == "" {
		c.Scratch = filepath.Join(os.TempDir(), scratchDirName)
	}

	if c.Scratch, err = filepath.Abs(c.Scratch); err != nil {
		return fmt.Errorf("scratch: %w", err)
	}

	if c.AppPath != "" {
		if c.AppPath, err = filepath.Abs(c.AppPath); err != nil {
			return fmt.Errorf("app path: %w", err)
		}
	}

	if c.Cache != "" {
		if c.Cache, err = filepath.Abs(c.Cache); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}

	if c.CookieFile != "" {
		if c.CookieFile, err = filepath.Abs(c.CookieFile); err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
	}

	return nil
}

// Tools holds overrides and invocation settings for the extractor and muxer.
type Tools struct {
	// ExtractorPath overrides yt-dlp discovery when the file exists.
	ExtractorPath string `env:"DOWNLOADFLOW_TOOLS_YTDLP_PATH" envDefault:""`
	// MuxerDir overrides ffmpeg discovery when the directory exists.
	MuxerDir string `env:"DOWNLOADFLOW_TOOLS_FFMPEG_DIR" envDefault:""`

	UserAgent           string `env:"DOWNLOADFLOW_TOOLS_USER_AGENT"           envDefault:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"` //nolint:lll
	ConcurrentFragments int    `env:"DOWNLOADFLOW_TOOLS_CONCURRENT_FRAGMENTS" envDefault:"8"`
}

// Info holds metadata lookup configuration.
type Info struct {
	Timeout      time.Duration `env:"DOWNLOADFLOW_INFO_TIMEOUT"       envDefault:"60s"`
	CacheTTL     time.Duration `env:"DOWNLOADFLOW_INFO_CACHE_TTL"     envDefault:"1h"`
	CacheCleanup time.Duration `env:"DOWNLOADFLOW_INFO_CACHE_CLEANUP" envDefault:"10m"`
}

// New loads configuration from an optional .env file and environment variables.
func New() (*Config, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	err = env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	cfg.Proxy.parseList()

	return cfg, nil
}

// DepManager holds managed binary configuration.
type DepManager struct {
	// BinsDir is the directory searched first for managed binaries and used for installs.
	BinsDir string `env:"DOWNLOADFLOW_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// AutoInstall downloads missing binaries into BinsDir on start.
	AutoInstall bool `env:"DOWNLOADFLOW_DEPMANAGER_AUTO_INSTALL" envDefault:"false"`

	// yt-dlp binary URLs per platform.
	YTdlpLinuxARM64 string `env:"DOWNLOADFLOW_DEPMANAGER_YTDLP_LINUX_ARM64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux_aarch64"` //nolint:lll
	YTdlpLinuxAMD64 string `env:"DOWNLOADFLOW_DEPMANAGER_YTDLP_LINUX_AMD64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux"`         //nolint:lll
	YTdlpDarwin     string `env:"DOWNLOADFLOW_DEPMANAGER_YTDLP_DARWIN"      envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_macos"`         //nolint:lll
	YTdlpWindows    string `env:"DOWNLOADFLOW_DEPMANAGER_YTDLP_WINDOWS"     envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp.exe"`           //nolint:lll

	// ffmpeg archive URLs per platform.
	FFmpegLinuxARM64 string `env:"DOWNLOADFLOW_DEPMANAGER_FFMPEG_LINUX_ARM64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64 string `env:"DOWNLOADFLOW_DEPMANAGER_FFMPEG_LINUX_AMD64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll
	FFmpegWindows    string `env:"DOWNLOADFLOW_DEPMANAGER_FFMPEG_WINDOWS"     envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-win64-gpl.zip"`        //nolint:lll
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// Proxy holds proxy configuration for extractor invocations.
type Proxy struct {
	// List is a comma-separated list of proxy URLs in socks5h format
	List string `env:"DOWNLOADFLOW_PROXY_LIST" envDefault:""`
	// HealthCheckInterval is how often to check proxy health
	HealthCheckInterval time.Duration `env:"DOWNLOADFLOW_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"DOWNLOADFLOW_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the maximum number of failures before a proxy is temporarily removed
	MaxFailures int `env:"DOWNLOADFLOW_PROXY_MAX_FAILURES" envDefault:"3"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

// parseList parses the comma-separated proxy list.
func (p *Proxy) parseList() {
	if p.List == "" {
		return
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}
