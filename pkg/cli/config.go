package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/m-mizutani/deepspace/pkg/adapter"
	"github.com/m-mizutani/deepspace/pkg/repository"
	"github.com/m-mizutani/deepspace/pkg/usecase/classify"
	"github.com/m-mizutani/deepspace/pkg/usecase/history"
	"github.com/m-mizutani/deepspace/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"
)

// config holds configuration values
type config struct {
	configPath string

	// Classification endpoint
	endpoint string

	// Storage for images and the history file
	storage string
	dataDir string
	bucket  string
	prefix  string

	// History repository
	historyBackend string
	project        string
	database       string
	credentials    string

	// Camera
	cameraDevice  string
	cameraCommand []string

	// Logging
	logLevel  string
	logFormat string
	logOutput string
	noColor   bool
}

// fileConfig is the layout of the YAML config file
type fileConfig struct {
	Endpoint string `yaml:"endpoint"`
	Storage  struct {
		Type    string `yaml:"type"`
		DataDir string `yaml:"data_dir"`
		Bucket  string `yaml:"bucket"`
		Prefix  string `yaml:"prefix"`
	} `yaml:"storage"`
	History struct {
		Backend     string `yaml:"backend"`
		Project     string `yaml:"project"`
		Database    string `yaml:"database"`
		Credentials string `yaml:"credentials"`
	} `yaml:"history"`
	Camera struct {
		Device  string   `yaml:"device"`
		Command []string `yaml:"command"`
	} `yaml:"camera"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deepspace"
	}
	return filepath.Join(home, ".deepspace")
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Path to YAML config file",
			Sources:     cli.EnvVars("DEEPSPACE_CONFIG"),
			Destination: &cfg.configPath,
		},
		&cli.StringFlag{
			Name:        "endpoint",
			Aliases:     []string{"e"},
			Usage:       "Base URL of the classification service",
			Value:       adapter.DefaultEndpoint,
			Sources:     cli.EnvVars("DEEPSPACE_ENDPOINT"),
			Destination: &cfg.endpoint,
		},
		&cli.StringFlag{
			Name:        "storage",
			Usage:       "Where images and the history file are kept (file, gcs)",
			Value:       "file",
			Sources:     cli.EnvVars("DEEPSPACE_STORAGE"),
			Destination: &cfg.storage,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Local directory for the file storage",
			Value:       defaultDataDir(),
			Sources:     cli.EnvVars("DEEPSPACE_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for the gcs storage",
			Sources:     cli.EnvVars("DEEPSPACE_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object name prefix in the Cloud Storage bucket",
			Value:       "deepspace",
			Sources:     cli.EnvVars("DEEPSPACE_PREFIX"),
			Destination: &cfg.prefix,
		},
		&cli.StringFlag{
			Name:        "history-backend",
			Usage:       "History repository (storage, firestore, memory)",
			Value:       "storage",
			Sources:     cli.EnvVars("DEEPSPACE_HISTORY_BACKEND"),
			Destination: &cfg.historyBackend,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "credentials",
			Usage:       "Google Cloud credentials JSON file",
			Sources:     cli.EnvVars("GOOGLE_APPLICATION_CREDENTIALS"),
			Destination: &cfg.credentials,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("DEEPSPACE_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("DEEPSPACE_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "log-output",
			Usage:       "Diagnostic log file (default <data-dir>/deepspace.log, - for stderr)",
			Sources:     cli.EnvVars("DEEPSPACE_LOG_OUTPUT"),
			Destination: &cfg.logOutput,
		},
		&cli.BoolFlag{
			Name:        "no-color",
			Usage:       "Disable colored output",
			Sources:     cli.EnvVars("DEEPSPACE_NO_COLOR"),
			Destination: &cfg.noColor,
		},
	}
}

// cameraFlags returns flags for the capture device
func cameraFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "camera-device",
			Usage:       "Video capture device",
			Value:       adapter.DefaultCameraDevice,
			Sources:     cli.EnvVars("DEEPSPACE_CAMERA_DEVICE"),
			Destination: &cfg.cameraDevice,
		},
		&cli.StringSliceFlag{
			Name:        "camera-command",
			Usage:       "Capture command writing MJPEG to stdout, {device} is replaced with the device path",
			Sources:     cli.EnvVars("DEEPSPACE_CAMERA_COMMAND"),
			Destination: &cfg.cameraCommand,
		},
	}
}

// load applies the config file. Values given by flag or environment win.
func (cfg *config) load(c *cli.Command) error {
	if cfg.configPath == "" {
		return nil
	}

	data, err := os.ReadFile(cfg.configPath)
	if err != nil {
		return goerr.Wrap(err, "failed to read config file", goerr.V("path", cfg.configPath))
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return goerr.Wrap(err, "failed to parse config file", goerr.V("path", cfg.configPath))
	}

	set := func(name string, dst *string, value string) {
		if value != "" && !c.IsSet(name) {
			*dst = value
		}
	}
	set("endpoint", &cfg.endpoint, fc.Endpoint)
	set("storage", &cfg.storage, fc.Storage.Type)
	set("data-dir", &cfg.dataDir, fc.Storage.DataDir)
	set("bucket", &cfg.bucket, fc.Storage.Bucket)
	set("prefix", &cfg.prefix, fc.Storage.Prefix)
	set("history-backend", &cfg.historyBackend, fc.History.Backend)
	set("project", &cfg.project, fc.History.Project)
	set("database", &cfg.database, fc.History.Database)
	set("credentials", &cfg.credentials, fc.History.Credentials)
	set("camera-device", &cfg.cameraDevice, fc.Camera.Device)
	set("log-level", &cfg.logLevel, fc.Log.Level)
	set("log-format", &cfg.logFormat, fc.Log.Format)
	set("log-output", &cfg.logOutput, fc.Log.Output)
	if len(fc.Camera.Command) > 0 && !c.IsSet("camera-command") {
		cfg.cameraCommand = fc.Camera.Command
	}

	return nil
}

// defaultLogFile is created under the data directory when no log output is
// given, so diagnostics stay out of the rendered conversation
const defaultLogFile = "deepspace.log"

// setup loads the config file and attaches the logger to ctx. The returned
// function releases the log file, if any.
func (cfg *config) setup(ctx context.Context, c *cli.Command) (context.Context, func(), error) {
	if err := cfg.load(c); err != nil {
		return ctx, func() {}, err
	}

	format, err := logging.ParseFormat(cfg.logFormat)
	if err != nil {
		return ctx, func() {}, err
	}

	var (
		w       io.Writer = c.Root().ErrWriter
		cleanup           = func() {}
	)
	if w == nil {
		w = os.Stderr
	}
	logOutput := cfg.logOutput
	if logOutput == "" {
		logOutput = filepath.Join(cfg.dataDir, defaultLogFile)
	}
	if logOutput != "-" {
		if err := os.MkdirAll(filepath.Dir(logOutput), 0700); err != nil {
			return ctx, cleanup, goerr.Wrap(err, "failed to create log directory", goerr.V("path", logOutput))
		}
		f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return ctx, cleanup, goerr.Wrap(err, "failed to open log file", goerr.V("path", logOutput))
		}
		w = f
		cleanup = func() { _ = f.Close() }
	}

	logger := logging.New(cfg.logLevel, w, logging.WithFormat(format))
	logging.SetDefault(logger)
	logger.Debug("configuration loaded",
		slog.String("endpoint", cfg.endpoint),
		slog.String("storage", cfg.storage),
		slog.String("history_backend", cfg.historyBackend),
	)

	return logging.With(ctx, logger), cleanup, nil
}

func (cfg *config) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if cfg.credentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.credentials))
	}
	return opts
}

// newStorage creates the Storage for images and the history file
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	switch cfg.storage {
	case "file", "":
		storage, err := adapter.NewFileStorage(cfg.dataDir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create file storage")
		}
		return storage, nil

	case "gcs":
		if cfg.bucket == "" {
			return nil, goerr.New("bucket is required for gcs storage")
		}
		storage, err := adapter.NewCloudStorage(ctx, cfg.bucket, cfg.prefix, cfg.clientOptions()...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create cloud storage")
		}
		return storage, nil

	default:
		return nil, goerr.New("unknown storage type", goerr.V("storage", cfg.storage))
	}
}

// newRepository creates the history repository
func (cfg *config) newRepository(ctx context.Context, storage adapter.Storage) (repository.Repository, error) {
	switch cfg.historyBackend {
	case "storage", "":
		return repository.NewStorage(storage, ""), nil

	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required for firestore history")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required for firestore history")
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database, cfg.clientOptions())
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, nil

	case "memory":
		return repository.NewMemory(), nil

	default:
		return nil, goerr.New("unknown history backend", goerr.V("backend", cfg.historyBackend))
	}
}

// newClassifier creates the classification endpoint client
func (cfg *config) newClassifier() adapter.Classifier {
	return adapter.NewClassifier(cfg.endpoint)
}

// newCamera creates the capture device adapter
func (cfg *config) newCamera() adapter.Camera {
	return adapter.NewCamera(cfg.cameraDevice, adapter.WithCameraCommand(cfg.cameraCommand))
}

// deps bundles the log and controller built from config
type deps struct {
	storage adapter.Storage
	log     *history.Log
	uc      *classify.UseCase
	closers []io.Closer
}

// Close releases the cloud clients behind storage and repository. It is
// safe to call more than once.
func (d *deps) Close(ctx context.Context) {
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			logging.From(ctx).Warn("failed to close client", "error", err)
		}
	}
	d.closers = nil
}

// newDeps wires storage, repository, log and controller
func (cfg *config) newDeps(ctx context.Context) (*deps, error) {
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		return nil, err
	}

	d := &deps{storage: storage}
	if c, ok := storage.(io.Closer); ok {
		d.closers = append(d.closers, c)
	}

	repo, err := cfg.newRepository(ctx, storage)
	if err != nil {
		d.Close(ctx)
		return nil, err
	}
	if c, ok := repo.(io.Closer); ok {
		d.closers = append(d.closers, c)
	}

	d.log = history.New(ctx, repo, history.WithClearHook(classify.PurgeImages(storage)))
	d.uc = classify.New(d.log, cfg.newClassifier(), storage)
	return d, nil
}
