package logging

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
)

// Identifier tags every record sent to the systemd journal.
const Identifier = "dmacap"

// Logger is a duck-typed interface satisfied by *slog.Logger.
// Use this interface instead of *slog.Logger to decouple from the concrete type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleHandlers  = make(map[string]*swapHandler)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    Config
	globalLevelVar  = &slog.LevelVar{} // default level
	isInitialized   bool
	mutex           sync.RWMutex
)

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// Initialize sets up the logging system.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true

	globalLevel := levelOrInfo(config.Level)
	globalLevelVar.Set(globalLevel)

	// Loggers handed out before Initialize were built with the text format.
	// Swap their handlers in place so cached *slog.Logger values follow.
	for module, sh := range moduleHandlers {
		levelVar := moduleLevelVars[module]
		levelVar.Set(moduleLevel(config, module, globalLevel))
		sh.swap(moduleHandler(config.Format, module, levelVar))
	}

	handler := createHandler(config.Format, globalLevelVar)
	slog.SetDefault(slog.New(handler))
}

// Reconfigure applies new levels to the global logger and every module
// logger without rebuilding handlers. The output format is fixed at
// Initialize. Existing *slog.Logger values see the change immediately.
func Reconfigure(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig.Level = config.Level
	globalConfig.Modules = config.Modules

	globalLevel := levelOrInfo(config.Level)
	globalLevelVar.Set(globalLevel)
	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(config, module, globalLevel))
	}
}

// SetModuleLevel changes the level of a single module at runtime.
func SetModuleLevel(module, level string) error {
	parsed := parseLevel(level)
	if parsed == nil {
		return fmt.Errorf("invalid log level %q", level)
	}

	GetLogger(module)

	mutex.Lock()
	defer mutex.Unlock()
	moduleLevelVars[module].Set(*parsed)
	if globalConfig.Modules == nil {
		globalConfig.Modules = make(map[string]string)
	}
	globalConfig.Modules[module] = level
	return nil
}

// ModuleLevel returns the current level of a module logger.
func ModuleLevel(module string) slog.Level {
	GetLogger(module)

	mutex.RLock()
	defer mutex.RUnlock()
	return moduleLevelVars[module].Level()
}

// Modules returns the names of all module loggers created so far, sorted.
func Modules() []string {
	mutex.RLock()
	defer mutex.RUnlock()
	names := make([]string, 0, len(moduleLevelVars))
	for module := range moduleLevelVars {
		names = append(names, module)
	}
	slices.Sort(names)
	return names
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	if logger, exists := moduleLoggers[module]; exists {
		mutex.RUnlock()
		return logger
	}
	mutex.RUnlock()

	mutex.Lock()
	defer mutex.Unlock()

	// Double-check in case another goroutine created it
	if logger, exists := moduleLoggers[module]; exists {
		return logger
	}

	// Create a LevelVar for this module so level can be changed at runtime
	levelVar := &slog.LevelVar{}

	format := "text"
	level := slog.LevelInfo
	if isInitialized {
		format = globalConfig.Format
		level = moduleLevel(globalConfig, module, levelOrInfo(globalConfig.Level))
	}
	levelVar.Set(level)

	sh := newSwapHandler(moduleHandler(format, module, levelVar))
	logger := slog.New(sh)
	moduleLoggers[module] = logger
	moduleHandlers[module] = sh
	moduleLevelVars[module] = levelVar
	return logger
}

func moduleHandler(format, module string, level slog.Leveler) slog.Handler {
	return createHandler(format, level).WithAttrs([]slog.Attr{slog.String("module", module)})
}

// moduleLevel resolves the level of module: its override if valid, else
// the global level.
func moduleLevel(config Config, module string, global slog.Level) slog.Level {
	if levelStr, exists := config.Modules[module]; exists {
		if parsed := parseLevel(levelStr); parsed != nil {
			return *parsed
		}
	}
	return global
}

func levelOrInfo(level string) slog.Level {
	if parsed := parseLevel(level); parsed != nil {
		return *parsed
	}
	return slog.LevelInfo
}

// createHandler creates a slog handler with the specified format and level.
// Logs to stdout and to the journal when available.
// Level can be slog.Level or *slog.LevelVar for dynamic level changes.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdoutHandler slog.Handler
	if format == "json" {
		stdoutHandler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdoutHandler = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if isStdoutAvailable() {
		handlers = append(handlers, stdoutHandler)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(Identifier, level))
	}

	switch len(handlers) {
	case 0:
		return stdoutHandler // Fallback
	case 1:
		return handlers[0]
	default:
		return NewMultiHandler(handlers...)
	}
}

// isStdoutAvailable checks if stdout is connected to a terminal, pipe, socket, or file.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	// Available if terminal, pipe, socket, or regular file (not /dev/null which is ModeDevice)
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) *slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		l := slog.LevelDebug
		return &l
	case "info":
		l := slog.LevelInfo
		return &l
	case "warn", "warning":
		l := slog.LevelWarn
		return &l
	case "error":
		l := slog.LevelError
		return &l
	default:
		return nil
	}
}
