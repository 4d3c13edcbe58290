package logger

import (
	"os"
	"time"

	"referral-service/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig настройки ротации файла логов
type RotationConfig struct {
	Filename   string // путь к файлу логов
	MaxSize    int    // максимальный размер файла, МБ
	MaxBackups int    // количество старых файлов
	MaxAge     int    // срок хранения, дней
	Compress   bool
}

// New создает логгер приложения: консоль плюс файл с ротацией
func New(cfg config.AppConfig) *zap.Logger {
	rotation := RotationConfig{
		Filename:   cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	return NewWithRotation(cfg, rotation)
}

// NewWithRotation создает логгер с заданными настройками ротации.
// Пустой Filename отключает запись в файл.
func NewWithRotation(cfg config.AppConfig, rotation RotationConfig) *zap.Logger {
	level := cfg.GetLogLevel()

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05"))
	}
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "message"

	var consoleEncoder zapcore.Encoder
	if cfg.IsDevelopment() {
		devConfig := encoderConfig
		devConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(devConfig)
	} else {
		consoleEncoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level),
	}

	if rotation.Filename != "" {
		writer := &lumberjack.Logger{
			Filename:   rotation.Filename,
			MaxSize:    rotation.MaxSize,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     rotation.MaxAge,
			Compress:   rotation.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(writer), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}
