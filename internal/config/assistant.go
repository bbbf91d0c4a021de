package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AssistantConfig carries the tunables of the chat pipeline. It is hot
// reloadable; readers must call Get on every use instead of caching it.
type AssistantConfig struct {
	Intent    IntentConfig    `mapstructure:"intent"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Write     WriteConfig     `mapstructure:"write"`
	Lock      LockConfig      `mapstructure:"lock"`
	Session   SessionConfig   `mapstructure:"session"`
}

type IntentConfig struct {
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	HistoryWindow       int           `mapstructure:"history_window"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

type RetrievalConfig struct {
	MinSimilarity   float64       `mapstructure:"min_similarity"`
	TopK            int           `mapstructure:"top_k"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	AmbiguityMargin float64       `mapstructure:"ambiguity_margin"`
}

type DispatchConfig struct {
	MaxListedProducts int `mapstructure:"max_listed_products"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type WriteConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

type LockConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Wait time.Duration `mapstructure:"wait"`
}

type SessionConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

func DefaultAssistantConfig() AssistantConfig {
	return AssistantConfig{
		Intent: IntentConfig{
			ConfidenceThreshold: 0.6,
			HistoryWindow:       6,
			Timeout:             10 * time.Second,
		},
		Retrieval: RetrievalConfig{
			MinSimilarity:   0.7,
			TopK:            5,
			Timeout:         5 * time.Second,
			CacheTTL:        30 * time.Second,
			AmbiguityMargin: 0.03,
		},
		Dispatch: DispatchConfig{MaxListedProducts: 3},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Write: WriteConfig{MaxAttempts: 2},
		Lock: LockConfig{
			TTL:  10 * time.Second,
			Wait: 3 * time.Second,
		},
		Session: SessionConfig{IdleTimeout: 2 * time.Hour},
	}
}

type AssistantConfigHolder struct {
	current atomic.Value // holds AssistantConfig
}

// NewStaticAssistantConfigHolder returns a holder that never reloads.
func NewStaticAssistantConfigHolder(cfg AssistantConfig) *AssistantConfigHolder {
	holder := &AssistantConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewAssistantConfigHolder(log *zap.Logger) (*AssistantConfigHolder, error) {
	log = log.Named("config.assistant")
	v := viper.New()

	v.SetConfigName("assistant")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/shopassist")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SHOPASSIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setAssistantDefaults(v, DefaultAssistantConfig())

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg AssistantConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := ValidateAssistantConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticAssistantConfigHolder(cfg)
	if !fileLoaded {
		log.Info("assistant config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AssistantConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := ValidateAssistantConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *AssistantConfigHolder) Get() AssistantConfig {
	if h == nil {
		return DefaultAssistantConfig()
	}
	return h.current.Load().(AssistantConfig)
}

// Set replaces the current config after validation.
func (h *AssistantConfigHolder) Set(cfg AssistantConfig) error {
	if err := ValidateAssistantConfig(cfg); err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

func setAssistantDefaults(v *viper.Viper, d AssistantConfig) {
	v.SetDefault("intent.confidence_threshold", d.Intent.ConfidenceThreshold)
	v.SetDefault("intent.history_window", d.Intent.HistoryWindow)
	v.SetDefault("intent.timeout", d.Intent.Timeout)
	v.SetDefault("retrieval.min_similarity", d.Retrieval.MinSimilarity)
	v.SetDefault("retrieval.top_k", d.Retrieval.TopK)
	v.SetDefault("retrieval.timeout", d.Retrieval.Timeout)
	v.SetDefault("retrieval.cache_ttl", d.Retrieval.CacheTTL)
	v.SetDefault("retrieval.ambiguity_margin", d.Retrieval.AmbiguityMargin)
	v.SetDefault("dispatch.max_listed_products", d.Dispatch.MaxListedProducts)
	v.SetDefault("breaker.failure_threshold", d.Breaker.FailureThreshold)
	v.SetDefault("breaker.cooldown", d.Breaker.Cooldown)
	v.SetDefault("write.max_attempts", d.Write.MaxAttempts)
	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("lock.wait", d.Lock.Wait)
	v.SetDefault("session.idle_timeout", d.Session.IdleTimeout)
}

func ValidateAssistantConfig(cfg AssistantConfig) error {
	var errs []error
	if cfg.Intent.ConfidenceThreshold < 0 || cfg.Intent.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("intent.confidence_threshold must be within [0,1], got %v", cfg.Intent.ConfidenceThreshold))
	}
	if cfg.Intent.HistoryWindow < 0 {
		errs = append(errs, errors.New("intent.history_window cannot be negative"))
	}
	if cfg.Intent.Timeout <= 0 {
		errs = append(errs, errors.New("intent.timeout must be positive"))
	}
	if cfg.Retrieval.MinSimilarity < -1 || cfg.Retrieval.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("retrieval.min_similarity must be within [-1,1], got %v", cfg.Retrieval.MinSimilarity))
	}
	if cfg.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("retrieval.top_k must be positive"))
	}
	if cfg.Retrieval.Timeout <= 0 {
		errs = append(errs, errors.New("retrieval.timeout must be positive"))
	}
	if cfg.Retrieval.CacheTTL < 0 {
		errs = append(errs, errors.New("retrieval.cache_ttl cannot be negative"))
	}
	if cfg.Retrieval.AmbiguityMargin < 0 {
		errs = append(errs, errors.New("retrieval.ambiguity_margin cannot be negative"))
	}
	if cfg.Dispatch.MaxListedProducts <= 0 {
		errs = append(errs, errors.New("dispatch.max_listed_products must be positive"))
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		errs = append(errs, errors.New("breaker.failure_threshold must be positive"))
	}
	if cfg.Breaker.Cooldown <= 0 {
		errs = append(errs, errors.New("breaker.cooldown must be positive"))
	}
	if cfg.Write.MaxAttempts < 1 || cfg.Write.MaxAttempts > 2 {
		errs = append(errs, errors.New("write.max_attempts must be 1 or 2"))
	}
	if cfg.Lock.TTL <= 0 || cfg.Lock.Wait <= 0 {
		errs = append(errs, errors.New("lock.ttl and lock.wait must be positive"))
	}
	if cfg.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session.idle_timeout must be positive"))
	}
	return errors.Join(errs...)
}
