package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"` // empty serves /metrics on the main listener only
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Storage     StorageConfig     `yaml:"storage"`
	Journal     JournalConfig     `yaml:"journal"`
	STT         STTConfig         `yaml:"stt"`
	Audio       AudioConfig       `yaml:"audio"`
	Session     SessionConfig     `yaml:"session"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Notify      NotifyConfig      `yaml:"notify"`
	Entitlement EntitlementConfig `yaml:"entitlement"`
	Export      ExportConfig      `yaml:"export"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	RequestTimeout int      `yaml:"request_timeout_ms"`
}

// StorageConfig selects the key-value backend holding history and preferences.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, badger, memory
	Path   string `yaml:"path"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type STTConfig struct {
	Mode           string   `yaml:"mode"` // mock, exec, bus
	Command        string   `yaml:"command"`
	ModelPath      string   `yaml:"model_path"`
	Locale         string   `yaml:"locale"`
	Locales        []string `yaml:"locales"`
	SampleRate     int      `yaml:"sample_rate"`
	Channels       int      `yaml:"channels"`
	PartialEveryMS int      `yaml:"partial_every_ms"`
	PublishInterim bool     `yaml:"publish_interim"`
	TimeoutMS      int      `yaml:"timeout_ms"`
}

type AudioConfig struct {
	Source          string `yaml:"source"` // bus, wav
	Device          string `yaml:"device"`
	WavPath         string `yaml:"wav_path"`
	Realtime        bool   `yaml:"realtime"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
	RecordingsDir   string `yaml:"recordings_dir"`
}

type SessionConfig struct {
	RestartAfterMS int    `yaml:"restart_after_ms"`
	SettleDelayMS  int    `yaml:"settle_delay_ms"`
	StopGraceMS    int    `yaml:"stop_grace_ms"`
	DefaultSpeaker string `yaml:"default_speaker"`
	TitleLayout    string `yaml:"title_layout"`
}

// PermissionsConfig holds the platform grant for each capability: granted, denied or undetermined.
type PermissionsConfig struct {
	Microphone    string `yaml:"microphone"`
	Recognition   string `yaml:"recognition"`
	Notifications string `yaml:"notifications"`
}

type NotifyConfig struct {
	Desktop bool   `yaml:"desktop"`
	Bus     bool   `yaml:"bus"`
	Subject string `yaml:"subject"`
}

type EntitlementConfig struct {
	Subscribed    bool   `yaml:"subscribed"`
	Subject       string `yaml:"subject"`
	GatePDFExport bool   `yaml:"gate_pdf_export"`
}

type ExportConfig struct {
	PageSize string  `yaml:"page_size"`
	MarginMM float64 `yaml:"margin_mm"`
	FontSize float64 `yaml:"font_size"`
	Dir      string  `yaml:"dir"`
	// FontPath names a TrueType font used for PDF text instead of the
	// bundled DejaVu Sans, e.g. one with CJK coverage.
	FontPath string `yaml:"font_path"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-scribe",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			RequestTimeout: 5000,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./data/scribe.db",
		},
		Journal: JournalConfig{
			Path:          "./data/scribe-journal.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		STT: STTConfig{
			Mode:           "mock",
			Locale:         "en-US",
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
			PublishInterim: true,
			TimeoutMS:      45000,
		},
		Audio: AudioConfig{
			Source:          "bus",
			Device:          "default",
			Realtime:        true,
			FrameDurationMS: 20,
			RecordingsDir:   "./data/recordings",
		},
		Session: SessionConfig{
			RestartAfterMS: 55000,
			SettleDelayMS:  300,
			StopGraceMS:    1000,
			DefaultSpeaker: "Speaker 1",
			TitleLayout:    "Jan 2, 2006 at 3:04 PM",
		},
		Permissions: PermissionsConfig{
			Microphone:    "granted",
			Recognition:   "granted",
			Notifications: "granted",
		},
		Notify: NotifyConfig{
			Desktop: false,
			Bus:     true,
			Subject: "scribe.notify",
		},
		Entitlement: EntitlementConfig{
			Subscribed:    false,
			Subject:       "billing.entitlement.updated",
			GatePDFExport: false,
		},
		Export: ExportConfig{
			PageSize: "A4",
			MarginMM: 20,
			FontSize: 12,
			Dir:      "./data/exports",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SCRIBE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SCRIBE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.RequestTimeout, "SCRIBE_BUS_REQUEST_TIMEOUT_MS")
	overrideString(&cfg.Storage.Driver, "SCRIBE_STORAGE_DRIVER")
	overrideString(&cfg.Storage.Path, "SCRIBE_STORAGE_PATH")
	overrideString(&cfg.Journal.Path, "SCRIBE_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "SCRIBE_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "SCRIBE_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "SCRIBE_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "SCRIBE_JOURNAL_VACUUM_ON_START")
	overrideString(&cfg.STT.Mode, "SCRIBE_STT_MODE")
	overrideString(&cfg.STT.Command, "SCRIBE_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "SCRIBE_STT_MODEL_PATH")
	overrideString(&cfg.STT.Locale, "SCRIBE_STT_LOCALE")
	overrideStringSlice(&cfg.STT.Locales, "SCRIBE_STT_LOCALES")
	overrideInt(&cfg.STT.SampleRate, "SCRIBE_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "SCRIBE_STT_CHANNELS")
	overrideInt(&cfg.STT.PartialEveryMS, "SCRIBE_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.PublishInterim, "SCRIBE_STT_PUBLISH_INTERIM")
	overrideInt(&cfg.STT.TimeoutMS, "SCRIBE_STT_TIMEOUT_MS")
	overrideString(&cfg.Audio.Source, "SCRIBE_AUDIO_SOURCE")
	overrideString(&cfg.Audio.Device, "SCRIBE_AUDIO_DEVICE")
	overrideString(&cfg.Audio.WavPath, "SCRIBE_AUDIO_WAV_PATH")
	overrideBool(&cfg.Audio.Realtime, "SCRIBE_AUDIO_REALTIME")
	overrideInt(&cfg.Audio.FrameDurationMS, "SCRIBE_AUDIO_FRAME_DURATION_MS")
	overrideString(&cfg.Audio.RecordingsDir, "SCRIBE_AUDIO_RECORDINGS_DIR")
	overrideInt(&cfg.Session.RestartAfterMS, "SCRIBE_SESSION_RESTART_AFTER_MS")
	overrideInt(&cfg.Session.SettleDelayMS, "SCRIBE_SESSION_SETTLE_DELAY_MS")
	overrideInt(&cfg.Session.StopGraceMS, "SCRIBE_SESSION_STOP_GRACE_MS")
	overrideString(&cfg.Session.DefaultSpeaker, "SCRIBE_SESSION_DEFAULT_SPEAKER")
	overrideString(&cfg.Session.TitleLayout, "SCRIBE_SESSION_TITLE_LAYOUT")
	overrideString(&cfg.Permissions.Microphone, "SCRIBE_PERMISSIONS_MICROPHONE")
	overrideString(&cfg.Permissions.Recognition, "SCRIBE_PERMISSIONS_RECOGNITION")
	overrideString(&cfg.Permissions.Notifications, "SCRIBE_PERMISSIONS_NOTIFICATIONS")
	overrideBool(&cfg.Notify.Desktop, "SCRIBE_NOTIFY_DESKTOP")
	overrideBool(&cfg.Notify.Bus, "SCRIBE_NOTIFY_BUS")
	overrideString(&cfg.Notify.Subject, "SCRIBE_NOTIFY_SUBJECT")
	overrideBool(&cfg.Entitlement.Subscribed, "SCRIBE_ENTITLEMENT_SUBSCRIBED")
	overrideString(&cfg.Entitlement.Subject, "SCRIBE_ENTITLEMENT_SUBJECT")
	overrideBool(&cfg.Entitlement.GatePDFExport, "SCRIBE_ENTITLEMENT_GATE_PDF_EXPORT")
	overrideString(&cfg.Export.PageSize, "SCRIBE_EXPORT_PAGE_SIZE")
	overrideFloat(&cfg.Export.MarginMM, "SCRIBE_EXPORT_MARGIN_MM")
	overrideFloat(&cfg.Export.FontSize, "SCRIBE_EXPORT_FONT_SIZE")
	overrideString(&cfg.Export.Dir, "SCRIBE_EXPORT_DIR")
	overrideString(&cfg.Export.FontPath, "SCRIBE_EXPORT_FONT_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Bus.RequestTimeout <= 0 {
		return errors.New("bus.request_timeout_ms must be positive")
	}
	switch cfg.Storage.Driver {
	case "sqlite", "badger":
		if cfg.Storage.Path == "" {
			return errors.New("storage.path must not be empty for sqlite|badger")
		}
	case "memory":
	default:
		return errors.New("storage.driver must be one of sqlite|badger|memory")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty")
		}
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	switch cfg.STT.Mode {
	case "mock", "bus":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|bus")
	}
	if cfg.STT.Locale == "" {
		return errors.New("stt.locale must not be empty")
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if cfg.STT.Channels <= 0 {
		return errors.New("stt.channels must be positive")
	}
	switch cfg.Audio.Source {
	case "bus":
	case "wav":
		if cfg.Audio.WavPath == "" {
			return errors.New("audio.wav_path must be set when source=wav")
		}
	default:
		return errors.New("audio.source must be one of bus|wav")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	if cfg.Session.RestartAfterMS <= 0 {
		return errors.New("session.restart_after_ms must be positive")
	}
	if cfg.Session.SettleDelayMS < 0 || cfg.Session.StopGraceMS < 0 {
		return errors.New("session.settle_delay_ms and session.stop_grace_ms must be >= 0")
	}
	if strings.TrimSpace(cfg.Session.DefaultSpeaker) == "" {
		return errors.New("session.default_speaker must not be empty")
	}
	if cfg.Session.TitleLayout == "" {
		return errors.New("session.title_layout must not be empty")
	}
	for name, value := range map[string]string{
		"permissions.microphone":    cfg.Permissions.Microphone,
		"permissions.recognition":   cfg.Permissions.Recognition,
		"permissions.notifications": cfg.Permissions.Notifications,
	} {
		switch value {
		case "granted", "denied", "undetermined":
		default:
			return fmt.Errorf("%s must be one of granted|denied|undetermined", name)
		}
	}
	if cfg.Notify.Bus && cfg.Notify.Subject == "" {
		return errors.New("notify.subject must be set when notify.bus is enabled")
	}
	if cfg.Entitlement.Subject == "" {
		return errors.New("entitlement.subject must not be empty")
	}
	switch strings.ToUpper(cfg.Export.PageSize) {
	case "A4", "A5", "LETTER", "LEGAL":
	default:
		return errors.New("export.page_size must be one of A4|A5|Letter|Legal")
	}
	if cfg.Export.MarginMM < 0 || cfg.Export.FontSize <= 0 {
		return errors.New("export.margin_mm must be >= 0 and export.font_size positive")
	}
	return nil
}
