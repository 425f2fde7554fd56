package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format is the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config is read from the environment.
type Config struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT"` // empty selects by environment
}

// Option configures New.
type Option func(*options)

type options struct {
	output     io.Writer
	attrs      []slog.Attr
	extractors []ContextExtractor
}

// WithOutput redirects records to w. Nil writers are ignored.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.output = w
		}
	}
}

// WithAttr adds static attributes to every record.
func WithAttr(attrs ...slog.Attr) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, attrs...)
	}
}

// WithContextExtractors adds extractors on top of the defaults.
func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(o *options) {
		for _, ex := range extractors {
			if ex != nil {
				o.extractors = append(o.extractors, ex)
			}
		}
	}
}

// New creates a logger for service running in env.
// Production and staging log JSON at the configured level, anything else
// logs text at debug unless a level is set explicitly.
func New(service, env string, cfg Config, opts ...Option) (*slog.Logger, error) {
	o := &options{output: os.Stdout, extractors: DefaultExtractors()}
	for _, opt := range opts {
		opt(o)
	}

	production := env == "production" || env == "prod" || env == "staging" || env == "stage"

	format := Format(strings.ToLower(cfg.Format))
	switch format {
	case FormatJSON, FormatText:
	case "":
		format = FormatText
		if production {
			format = FormatJSON
		}
	default:
		return nil, fmt.Errorf("logger: invalid format %q", cfg.Format)
	}

	level := slog.LevelDebug
	if production || cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == FormatJSON {
		h = slog.NewJSONHandler(o.output, handlerOpts)
	} else {
		h = slog.NewTextHandler(o.output, handlerOpts)
	}

	attrs := append([]slog.Attr{
		slog.String("service", service),
		slog.String("env", env),
	}, o.attrs...)
	h = h.WithAttrs(attrs)

	return slog.New(newContextHandler(h, o.extractors...)), nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
