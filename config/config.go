package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendOpenCV      = "opencv"
	BackendOnnxRuntime = "onnxruntime"

	envPrefix = "FOODDET_"
)

// DefaultClasses is the fruit table the production model was trained on.
var DefaultClasses = []string{
	"Apple", "Orange", "Banana", "Grape", "Strawberry",
	"Peach", "Pear", "Kiwi", "Pineapple", "Mango",
}

type ModelConfig struct {
	ProductionPath string  `yaml:"productionPath"`
	GenericModel   string  `yaml:"genericModel"`
	RunsRoot       string  `yaml:"runsRoot"`
	RunPrefix      string  `yaml:"runPrefix"`
	WeightsDir     string  `yaml:"weightsDir"`
	BestWeights    string  `yaml:"bestWeights"`
	LastWeights    string  `yaml:"lastWeights"`
	InputSize      int     `yaml:"inputSize"`
	Confidence     float32 `yaml:"confidence"`
	Iou            float32 `yaml:"iou"`
}

type Config struct {
	HTTPPort         int         `yaml:"httpPort"`
	RPCPort          int         `yaml:"rpcPort"`
	MetricsPort      int         `yaml:"metricsPort"`
	WorkersNum       int         `yaml:"workersNum"`
	InferenceBackend string      `yaml:"inferenceBackend"`
	OnnxRuntimeLib   string      `yaml:"onnxRuntimeLib"`
	LogMode          string      `yaml:"logMode"`
	Model            ModelConfig `yaml:"model"`
	Classes          []string    `yaml:"classes"`
	UploadDir        string      `yaml:"uploadDir"`
	AnnotatedDir     string      `yaml:"annotatedDir"`
	HistoryDB        string      `yaml:"historyDB"`
	UseRegServer     bool        `yaml:"useRegServer"`
	RegServerHost    string      `yaml:"regServerHost"`
	RegServerPort    int         `yaml:"regServerPort"`

	// Warnings collects non-fatal corrections made while loading.
	Warnings []string `yaml:"-"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		HTTPPort:         5000,
		RPCPort:          50051,
		MetricsPort:      9090,
		WorkersNum:       1,
		InferenceBackend: BackendOpenCV,
		OnnxRuntimeLib:   "./third_party/onnxruntime.so",
		LogMode:          "production",
		Model: ModelConfig{
			ProductionPath: "models/best.onnx",
			GenericModel:   "models/yolov8n.onnx",
			RunsRoot:       "runs/detect",
			RunPrefix:      "fruit-detection",
			WeightsDir:     "weights",
			BestWeights:    "best.onnx",
			LastWeights:    "last.onnx",
			InputSize:      640,
			Confidence:     0.25,
			Iou:            0.45,
		},
		Classes:       append([]string(nil), DefaultClasses...),
		UploadDir:     "uploads",
		AnnotatedDir:  "annotated",
		HistoryDB:     "history.db",
		RegServerHost: "127.0.0.1",
		RegServerPort: 8000,
	}
}

// Load reads path (a missing file means defaults), then an optional .env
// file, then FOODDET_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("config file %s not found, using defaults", path))
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envInt("HTTP_PORT", &c.HTTPPort)
	envInt("RPC_PORT", &c.RPCPort)
	envInt("METRICS_PORT", &c.MetricsPort)
	envInt("WORKERS", &c.WorkersNum)
	envString("BACKEND", &c.InferenceBackend)
	envString("ORT_LIB", &c.OnnxRuntimeLib)
	envString("LOG_MODE", &c.LogMode)
	envString("MODEL_PATH", &c.Model.ProductionPath)
	envString("GENERIC_MODEL", &c.Model.GenericModel)
	envString("RUNS_ROOT", &c.Model.RunsRoot)
	envString("UPLOAD_DIR", &c.UploadDir)
	envString("ANNOTATED_DIR", &c.AnnotatedDir)
	envString("HISTORY_DB", &c.HistoryDB)
	if v := os.Getenv(envPrefix + "CLASSES"); v != "" {
		c.Classes = strings.Split(v, ",")
	}
}

func (c *Config) normalize() {
	d := Default()
	if c.WorkersNum <= 0 {
		c.Warnings = append(c.Warnings, "invalid workersNum, defaulting to 1")
		c.WorkersNum = 1
	} else if n := runtime.NumCPU(); c.WorkersNum > n {
		c.Warnings = append(c.Warnings, fmt.Sprintf("workersNum %d exceeds CPU cores %d", c.WorkersNum, n))
	}
	c.InferenceBackend = strings.ToLower(strings.TrimSpace(c.InferenceBackend))
	if c.InferenceBackend != BackendOpenCV && c.InferenceBackend != BackendOnnxRuntime {
		c.Warnings = append(c.Warnings, fmt.Sprintf("unknown inferenceBackend %q, defaulting to %s", c.InferenceBackend, BackendOpenCV))
		c.InferenceBackend = BackendOpenCV
	}
	if c.Model.InputSize <= 0 {
		c.Model.InputSize = d.Model.InputSize
	}
	if c.Model.Confidence <= 0 || c.Model.Confidence > 1 {
		c.Model.Confidence = d.Model.Confidence
	}
	if c.Model.Iou <= 0 || c.Model.Iou > 1 {
		c.Model.Iou = d.Model.Iou
	}
	if c.Model.RunPrefix == "" {
		c.Model.RunPrefix = d.Model.RunPrefix
	}
	if c.Model.WeightsDir == "" {
		c.Model.WeightsDir = d.Model.WeightsDir
	}
	if c.Model.BestWeights == "" {
		c.Model.BestWeights = d.Model.BestWeights
	}
	if c.Model.LastWeights == "" {
		c.Model.LastWeights = d.Model.LastWeights
	}
	if len(c.Classes) == 0 {
		c.Classes = d.Classes
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
