package logging

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the platform log levels.
type Level int

const (
	LevelError Level = 1
	LevelWarn  Level = 2
	LevelInfo  Level = 3
	LevelDebug Level = 4
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// HandlerType identifies how log records leave the process.
type HandlerType int

const (
	HandlerCallback HandlerType = iota + 1
	HandlerFilePointer
	HandlerFileDescriptor
)

// Handler receives every log record of a client.
type Handler func(level Level, message string)

// ParseLevel maps error, warn, info and debug to zap levels. Unknown or empty
// names map to info.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(name) {
	case "error":
		return zapcore.ErrorLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "debug":
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

func fromZap(l zapcore.Level) Level {
	switch {
	case l >= zapcore.ErrorLevel:
		return LevelError
	case l == zapcore.WarnLevel:
		return LevelWarn
	case l == zapcore.InfoLevel:
		return LevelInfo
	}
	return LevelDebug
}

// New builds a development style console logger at the named level.
func New(level string) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// NewToWriter writes JSON records to w, e.g. an opened log file.
func NewToWriter(w io.Writer, level string) *zap.SugaredLogger {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), ParseLevel(level))
	return zap.New(core).Sugar()
}

// NewFromHandler forwards every record to h. Fields are appended to the
// message as key=value pairs.
func NewFromHandler(h Handler, level string) *zap.SugaredLogger {
	return zap.New(&handlerCore{
		LevelEnabler: ParseLevel(level),
		handler:      h,
	}).Sugar()
}

// Nop is used when a client is created without a logger.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

type handlerCore struct {
	zapcore.LevelEnabler
	handler Handler
	fields  []zapcore.Field
}

func (c *handlerCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &clone
}

func (c *handlerCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *handlerCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	var b strings.Builder
	b.WriteString(entry.Message)
	for _, k := range sortedKeys(enc.Fields) {
		fmt.Fprintf(&b, " %s=%v", k, enc.Fields[k])
	}
	c.handler(fromZap(entry.Level), b.String())
	return nil
}

func (c *handlerCore) Sync() error { return nil }
