package log

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ColdToo/Cold2Raft/config"
	"github.com/ColdToo/Cold2Raft/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

func init() {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	setLogger(l)
}

func setLogger(l *zap.Logger) {
	log = l
	sugar = l.Sugar()
}

// InitLog replaces the bootstrap console logger with level split cores
// writing to rotated files under cfg.Director.
func InitLog(cfg *config.ZapConfig) {
	if ok := utils.PathExist(cfg.Director); !ok { // 判断是否有Director文件夹
		fmt.Printf("create %v directory\n", cfg.Director)
		_ = os.MkdirAll(cfg.Director, os.ModePerm)
	}

	l := zap.New(zapcore.NewTee(GetZapCores(cfg)...))
	if cfg.ShowLine {
		l = l.WithOptions(zap.AddCaller())
	}
	setLogger(l)
}

func Sync() error {
	return log.Sync()
}

func Debug(msg string) *Fields {
	return newFields(zapcore.DebugLevel, msg)
}

func Info(msg string) *Fields {
	return newFields(zapcore.InfoLevel, msg)
}

func Warn(msg string) *Fields {
	return newFields(zapcore.WarnLevel, msg)
}

func Error(msg string) *Fields {
	return newFields(zapcore.ErrorLevel, msg)
}

func Panic(msg string) *Fields {
	return newFields(zapcore.PanicLevel, msg)
}

func Fatal(msg string) *Fields {
	return newFields(zapcore.FatalLevel, msg)
}

func Debugf(msg string, param ...any) {
	sugar.Debugf(msg, param...)
}

func Infof(msg string, param ...any) {
	sugar.Infof(msg, param...)
}

func Warnf(msg string, param ...any) {
	sugar.Warnf(msg, param...)
}

func Errorf(msg string, param ...any) {
	sugar.Errorf(msg, param...)
}

func Panicf(msg string, param ...any) {
	sugar.Panicf(msg, param...)
}

type Fields struct {
	level  zapcore.Level
	zap    *zap.Logger
	msg    string
	fields []zapcore.Field
	skip   bool
}

func newFields(level zapcore.Level, msg string) *Fields {
	// panic and fatal must reach zap even when the core filters them out
	skip := level < zapcore.DPanicLevel && !log.Core().Enabled(level)
	return &Fields{level: level, zap: log, msg: msg, skip: skip}
}

func (f *Fields) Str(key string, val string) *Fields {
	if f.skip {
		return f
	}
	f.fields = append(f.fields, zap.String(key, val))
	return f
}

func (f *Fields) Strs(key string, val []string) *Fields {
	if f.skip {
		return f
	}
	f.fields = append(f.fields, zap.Strings(key, val))
	return f
}

func (f *Fields) Int(key string, val int) *Fields {
	if f.skip {
		return f
	}
	f.fields = append(f.fields, zap.Int(key, val))
	return f
}

func (f *Fields) U64(key string, val uint64) *Fields {
	if f.skip {
		return f
	}
	f.fields = append(f.fields, zap.Uint64(key, val))
	return f
}

func (f *Fields) Err(key string, err error) *Fields {
	if err == nil || f.skip {
		return f
	}
	f.fields = append(f.fields, zap.NamedError(key, err))
	return f
}

func (f *Fields) Bool(key string, val bool) *Fields {
	if f.skip {
		return f
	}
	f.fields = append(f.fields, zap.Bool(key, val))
	return f
}

func (f *Fields) Record() {
	if f.skip {
		return
	}
	switch f.level {
	case zapcore.DebugLevel:
		f.zap.Debug(f.msg, f.fields...)
	case zapcore.InfoLevel:
		f.zap.Info(f.msg, f.fields...)
	case zapcore.WarnLevel:
		f.zap.Warn(f.msg, f.fields...)
	case zapcore.ErrorLevel:
		f.zap.Error(f.msg, f.fields...)
	case zapcore.PanicLevel:
		f.zap.Panic(f.msg, f.fields...)
	case zapcore.FatalLevel:
		f.zap.Fatal(f.msg, f.fields...)
	}
}

// ZapEncodeLevel 根据 EncodeLevel 返回 zapcore.LevelEncoder
func ZapEncodeLevel(cfg *config.ZapConfig) zapcore.LevelEncoder {
	switch {
	case cfg.EncodeLevel == "LowercaseLevelEncoder": // 小写编码器(默认)
		return zapcore.LowercaseLevelEncoder
	case cfg.EncodeLevel == "LowercaseColorLevelEncoder": // 小写编码器带颜色
		return zapcore.LowercaseColorLevelEncoder
	case cfg.EncodeLevel == "CapitalLevelEncoder": // 大写编码器
		return zapcore.CapitalLevelEncoder
	case cfg.EncodeLevel == "CapitalColorLevelEncoder": // 大写编码器带颜色
		return zapcore.CapitalColorLevelEncoder
	default:
		return zapcore.LowercaseLevelEncoder
	}
}

// TransportLevel 根据字符串转化为 zapcore.Level
func TransportLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "dpanic":
		return zapcore.DPanicLevel
	case "panic":
		return zapcore.PanicLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.DebugLevel
	}
}

// GetEncoder 获取 zapcore.Encoder
func GetEncoder(cfg *config.ZapConfig) zapcore.Encoder {
	if cfg.Format == "json" {
		return zapcore.NewJSONEncoder(GetEncoderConfig(cfg))
	}
	return zapcore.NewConsoleEncoder(GetEncoderConfig(cfg))
}

// GetEncoderConfig 获取zapcore.EncoderConfig
func GetEncoderConfig(cfg *config.ZapConfig) zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  cfg.StacktraceKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    ZapEncodeLevel(cfg),
		EncodeTime:     customTimeEncoder(cfg.Prefix),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.FullCallerEncoder,
	}
}

// GetEncoderCore 获取Encoder的 zapcore.Core
func GetEncoderCore(cfg *config.ZapConfig, l zapcore.Level, level zap.LevelEnablerFunc) zapcore.Core {
	writer, err := FileRotatelogs.GetWriteSyncer(l.String(), cfg) // 使用file-rotatelogs进行日志分割
	if err != nil {
		fmt.Printf("Get Write Syncer Failed err:%v", err.Error())
		return zapcore.NewNopCore()
	}

	return zapcore.NewCore(GetEncoder(cfg), writer, level)
}

// customTimeEncoder 自定义日志输出时间格式
func customTimeEncoder(prefix string) zapcore.TimeEncoder {
	return func(t time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(prefix + t.Format("2006/01/02 - 15:04:05.000"))
	}
}

// GetZapCores 根据配置文件的Level获取 []zapcore.Core
func GetZapCores(cfg *config.ZapConfig) []zapcore.Core {
	cores := make([]zapcore.Core, 0, 7)
	for level := TransportLevel(cfg.Level); level <= zapcore.FatalLevel; level++ {
		cores = append(cores, GetEncoderCore(cfg, level, GetLevelPriority(level)))
	}
	return cores
}

// GetLevelPriority 根据 zapcore.Level 获取 zap.LevelEnablerFunc
func GetLevelPriority(level zapcore.Level) zap.LevelEnablerFunc {
	return func(l zapcore.Level) bool {
		return l == level
	}
}
