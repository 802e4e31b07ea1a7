package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerInstance *zap.Logger
	mu             sync.Mutex
)

// newConfig returns the structured JSON logger config used in production
func newConfig() zap.Config {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.Sampling = nil
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"
	return config
}

// Init builds the shared logger at the given level ("debug", "info", ...)
// and installs it as the zap global.
func Init(level string) (*zap.Logger, error) {
	config := newConfig()

	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	config.Level = atomicLevel

	logger, err := config.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, err
	}

	mu.Lock()
	loggerInstance = logger
	mu.Unlock()
	zap.ReplaceGlobals(logger)

	return logger, nil
}

func GetInstance() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if loggerInstance == nil {
		logger, err := newConfig().Build()
		if err != nil {
			panic("Failed to initialize logger: " + err.Error())
		}
		loggerInstance = logger
	}
	return loggerInstance
}
