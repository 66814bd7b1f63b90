package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir    string `json:"data_dir"`
	MailboxDir string `json:"mailbox_dir"`
	ArchiveDir string `json:"archive_dir"`
	LogLevel   string `json:"log_level"`

	PollIntervalMS  int `json:"poll_interval_ms"`
	FlushThreshold  int `json:"flush_threshold"`
	FlushDebounceMS int `json:"flush_debounce_ms"`

	Overflow struct {
		MaxRetries int `json:"max_retries"`
		BackoffMS  int `json:"backoff_ms"`
	} `json:"overflow"`

	Engine struct {
		Binary           string   `json:"binary"`
		Model            string   `json:"model"`
		WorkingDir       string   `json:"working_dir"`
		SkillTool        string   `json:"skill_tool"`
		SystemPrompt     string   `json:"system_prompt"`
		AllowedTools     []string `json:"allowed_tools"`
		DisallowedTools  []string `json:"disallowed_tools"`
		MemoryFlushTools []string `json:"memory_flush_tools"`
		StrictNesting    bool     `json:"strict_nesting"`
	} `json:"engine"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.DataDir = filepath.Join(os.Getenv("HOME"), ".clawdriver")
	cfg.LogLevel = "info"
	cfg.PollIntervalMS = 500
	cfg.FlushThreshold = 200
	cfg.FlushDebounceMS = 100
	cfg.Overflow.MaxRetries = 3
	cfg.Overflow.BackoffMS = 3000
	cfg.Engine.Binary = "claude"
	cfg.Engine.SkillTool = "Skill"
	cfg.Engine.MemoryFlushTools = []string{"Read", "Write", "Edit"}

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.MailboxDir == "" {
		cfg.MailboxDir = filepath.Join(cfg.DataDir, "mailbox")
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = filepath.Join(cfg.DataDir, "archive")
	}

	// Override from env (highest precedence)
	if dir := os.Getenv("CLAWDRIVER_MAILBOX_DIR"); dir != "" {
		cfg.MailboxDir = dir
	}
	if dir := os.Getenv("CLAWDRIVER_ARCHIVE_DIR"); dir != "" {
		cfg.ArchiveDir = dir
	}
	if binary := os.Getenv("CLAWDRIVER_ENGINE_BINARY"); binary != "" {
		cfg.Engine.Binary = binary
	}
	if level := os.Getenv("CLAWDRIVER_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	// Non-positive intervals would panic time.NewTicker; clamp back to
	// defaults rather than crash on a hand-edited config.
	if cfg.PollIntervalMS <= 0 {
		cfg.PollIntervalMS = 500
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 200
	}
	if cfg.FlushDebounceMS <= 0 {
		cfg.FlushDebounceMS = 100
	}
	if cfg.Overflow.MaxRetries <= 0 {
		cfg.Overflow.MaxRetries = 3
	}
	if cfg.Overflow.BackoffMS < 0 {
		cfg.Overflow.BackoffMS = 3000
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
