// Package log provides module-scoped logging on top of logrus. Debug
// output can be switched on per module so tracing one subsystem does
// not drown the log in the others.
package log

import (
	"gopkg.in/Sirupsen/logrus.v0"
)

// Fields is a set of structured log fields.
type Fields logrus.Fields

// Level mirrors the logrus severity levels.
type Level = logrus.Level

// Severity levels.
const (
	PanicLevel = logrus.PanicLevel
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
)

// Module tags log output with the subsystem that produced it.
type Module uint

// ModuleMask selects a set of modules.
type ModuleMask uint64

// ModuleMaskAll selects every module.
const ModuleMaskAll ModuleMask = 0xFFFFFFFFFFFFFFFF

// Standard modules.
const (
	ModWave Module = iota + 1
	ModQueue
	ModEvent
	ModCache
	ModDispatch
	ModLoader

	endStandardMods
)

var modNames = []string{
	"<error>", "wave", "queue", "event", "cache", "dispatch", "loader",
}

var modDebugMask ModuleMask

func init() {
	if len(modNames) != int(endStandardMods) {
		panic("modNames out of sync with module constants")
	}
}

// ModuleByName returns the module with the given name.
func ModuleByName(name string) (Module, bool) {
	for idx, s := range modNames {
		if s == name {
			return Module(idx), true
		}
	}
	return Module(0xFFFFFFFF), false
}

// EnableDebugModules turns on debug output for the selected modules.
func EnableDebugModules(mask ModuleMask) {
	modDebugMask |= mask
}

// DisableDebugModules turns off debug output for the selected modules.
func DisableDebugModules(mask ModuleMask) {
	modDebugMask &^= mask
}

// Mask returns the mask bit of the module.
func (mod Module) Mask() ModuleMask {
	return 1 << ModuleMask(mod)
}

// Enabled reports whether the module logs at the given level. Warnings
// and above always log; info and debug only for enabled modules.
func (mod Module) Enabled(level Level) bool {
	return level <= WarnLevel || modDebugMask&mod.Mask() != 0
}

// Entry is a log entry bound to a module, with optional fields.
type Entry struct {
	mod    Module
	fields Fields
}

func (entry Entry) log() *logrus.Entry {
	e := logrus.StandardLogger().WithField("_mod", modNames[entry.mod])
	if entry.fields != nil {
		e = e.WithFields(logrus.Fields(entry.fields))
	}
	return e
}

// WithFields adds fields to the entry.
func (entry Entry) WithFields(fields Fields) Entry {
	merged := make(Fields, len(entry.fields)+len(fields))
	for k, v := range entry.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	entry.fields = merged
	return entry
}

// WithField adds a single field to the entry.
func (entry Entry) WithField(key string, value any) Entry {
	return entry.WithFields(Fields{key: value})
}

func (entry Entry) Debugf(format string, args ...any) {
	if entry.mod.Enabled(DebugLevel) {
		entry.log().Debugf(format, args...)
	}
}

func (entry Entry) Infof(format string, args ...any) {
	if entry.mod.Enabled(InfoLevel) {
		entry.log().Infof(format, args...)
	}
}

func (entry Entry) Warnf(format string, args ...any) {
	if entry.mod.Enabled(WarnLevel) {
		entry.log().Warnf(format, args...)
	}
}

func (entry Entry) Errorf(format string, args ...any) {
	if entry.mod.Enabled(ErrorLevel) {
		entry.log().Errorf(format, args...)
	}
}

func (entry Entry) Fatalf(format string, args ...any) {
	if entry.mod.Enabled(FatalLevel) {
		entry.log().Fatalf(format, args...)
	}
}

// Module-level shorthands.

// WithFields starts an entry on the module with the given fields.
func (mod Module) WithFields(fields Fields) Entry {
	return Entry{mod: mod}.WithFields(fields)
}

// WithField starts an entry on the module with a single field.
func (mod Module) WithField(key string, value any) Entry {
	return Entry{mod: mod}.WithField(key, value)
}

func (mod Module) Debugf(format string, args ...any) {
	Entry{mod: mod}.Debugf(format, args...)
}

func (mod Module) Infof(format string, args ...any) {
	Entry{mod: mod}.Infof(format, args...)
}

func (mod Module) Warnf(format string, args ...any) {
	Entry{mod: mod}.Warnf(format, args...)
}

func (mod Module) Errorf(format string, args ...any) {
	Entry{mod: mod}.Errorf(format, args...)
}

func (mod Module) Fatalf(format string, args ...any) {
	Entry{mod: mod}.Fatalf(format, args...)
}

// SetLevel sets the global minimum severity.
func SetLevel(level Level) {
	logrus.SetLevel(level)
}
