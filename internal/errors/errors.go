// Package errors provides centralized error handling with optional telemetry integration
package errors

import (
	"cmp"
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

// CategorizedError is an interface for errors that can specify their own category
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryConnection      ErrorCategory = "connection"       // shared region absent or engine not running
	CategoryVersionMismatch ErrorCategory = "version-mismatch" // shared region size differs
	CategoryAudioBuffer     ErrorCategory = "audio-buffer"
	CategoryCommandQueue    ErrorCategory = "command-queue"
	CategoryMediaBackend    ErrorCategory = "media-backend"
	CategoryLiveness        ErrorCategory = "liveness"
	CategoryValidation      ErrorCategory = "validation"
	CategoryConfiguration   ErrorCategory = "configuration"
	CategoryProcess         ErrorCategory = "process"
	CategoryFileIO          ErrorCategory = "file-io"
	CategoryFileParsing     ErrorCategory = "file-parsing"
	CategoryAudioDevice     ErrorCategory = "audio-device"
	CategoryHTTP            ErrorCategory = "http-request"
	CategoryState           ErrorCategory = "state"
	CategorySystem          ErrorCategory = "system-resource"
	CategoryNotFound        ErrorCategory = "not-found"
	CategoryTimeout         ErrorCategory = "timeout"
	CategoryGeneric         ErrorCategory = "generic"
)

// Priority constants for error prioritization
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

const selfPackage = "github.com/tphakala/deckbridge/internal/errors"

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error          // Original error
	component string         // Component where error occurred
	Category  ErrorCategory  // Error category for better grouping
	Priority  string         // Explicit priority override (optional)
	Context   map[string]any // Additional context data
	Timestamp time.Time      // When the error occurred
	reported  bool           // Whether telemetry has been sent
	mu        sync.RWMutex
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	if ee.Err == nil {
		return string(ee.Category)
	}
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError only when both the category and the
// wrapped cause agree, so two unrelated failures in the same category are
// not confused with each other.
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category && Is(ee.Err, ee2.Err)
	}
	return false
}

// GetComponent returns the component the error was raised in.
func (ee *EnhancedError) GetComponent() string {
	return ee.component
}

// GetCategory returns the error category
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetPriority returns the explicit priority if set, empty string otherwise
func (ee *EnhancedError) GetPriority() string {
	return ee.Priority
}

// GetContext returns a copy of the error context
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()

	if ee.Context == nil {
		return nil
	}

	contextCopy := make(map[string]any, len(ee.Context))
	maps.Copy(contextCopy, ee.Context)
	return contextCopy
}

// MarkReported marks this error as reported to telemetry
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns whether this error has been reported
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New creates a new error with enhanced context
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error with enhanced context
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name (auto-detected if not set)
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets the explicit priority override for the error.
// Unknown values fall back to medium.
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	case "":
	default:
		eb.priority = PriorityMedium
	}
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// FileContext adds file-specific context. The path itself is not recorded,
// only its shape and extension.
func (eb *ErrorBuilder) FileContext(filePath string, fileSize int64) *ErrorBuilder {
	if filePath != "" {
		eb.Context("file_type", categorizeFilePath(filePath))
		eb.Context("file_extension", getFileExtension(filePath))
	}
	if fileSize > 0 {
		eb.Context("file_size_category", categorizeFileSize(fileSize))
	}
	return eb
}

// RegionContext records the shared region geometry an error relates to.
func (eb *ErrorBuilder) RegionContext(role string, expected, actual int64) *ErrorBuilder {
	eb.Context("region_role", role)
	eb.Context("expected_size", expected)
	if actual >= 0 {
		eb.Context("actual_size", actual)
	}
	return eb
}

// Timing adds performance timing context
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	eb.Context("operation", operation)
	eb.Context("duration_ms", duration.Milliseconds())
	return eb
}

// Build creates the EnhancedError. Component and category detection and
// telemetry reporting only run while a reporter is active.
func (eb *ErrorBuilder) Build() *EnhancedError {
	reporting := hasActiveReporting.Load()
	if reporting {
		if eb.component == "" {
			eb.component = detectComponent()
		}
		if eb.category == "" {
			eb.category = detectCategory(eb.err, eb.component)
		}
	}

	ee := &EnhancedError{
		Err:       eb.err,
		component: cmp.Or(eb.component, ComponentUnknown),
		Category:  cmp.Or(eb.category, CategoryGeneric),
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
	if reporting {
		reportToTelemetry(ee)
	}
	return ee
}

// hasActiveReporting is true while a telemetry reporter is installed and enabled.
var hasActiveReporting atomic.Bool

// componentPatterns maps package path fragments to component names. More
// specific fragments come first.
var componentPatterns = []struct{ fragment, component string }{
	{"internal/media/gstreamer", "media.gstreamer"},
	{"observability/metrics", "metrics"},
	{"internal/shm", "shm"},
	{"internal/command", "command"},
	{"internal/engine", "engine"},
	{"internal/media", "media"},
	{"internal/dsp", "dsp"},
	{"internal/client", "client"},
	{"internal/hostaudio", "hostaudio"},
	{"internal/controlapi", "controlapi"},
	{"internal/console", "console"},
	{"internal/conf", "configuration"},
	{"internal/telemetry", "telemetry"},
}

// detectComponent returns the component of the nearest caller outside
// this package.
func detectComponent() string {
	var pcs [32]uintptr
	frames := runtime.CallersFrames(pcs[:runtime.Callers(3, pcs[:])])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !strings.HasPrefix(frame.Function, selfPackage+".") {
			if c := lookupComponent(frame.Function); c != ComponentUnknown {
				return c
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// lookupComponent resolves a fully qualified function name to a component.
// Packages outside the table fall back to their last path element.
func lookupComponent(funcName string) string {
	for _, p := range componentPatterns {
		if strings.Contains(funcName, p.fragment+".") {
			return p.component
		}
	}
	pkg := funcName[strings.LastIndex(funcName, "/")+1:]
	if dot := strings.IndexByte(pkg, '.'); dot > 0 {
		return pkg[:dot]
	}
	return ComponentUnknown
}

// detectCategory guesses a category from the error chain, its message and component
func detectCategory(err error, component string) ErrorCategory {
	if err == nil {
		return CategoryGeneric
	}

	var catErr CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr.ErrorCategory()
	}

	var enhErr *EnhancedError
	if stderrors.As(err, &enhErr) && enhErr.Category != "" {
		return enhErr.Category
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "mismatch"):
		return CategoryVersionMismatch
	case strings.Contains(msg, "heartbeat"):
		return CategoryLiveness
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return CategoryTimeout
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "validation"):
		return CategoryValidation
	case strings.Contains(msg, "file"), strings.Contains(msg, "open"), strings.Contains(msg, "read"):
		return CategoryFileIO
	}

	switch component {
	case "shm":
		return CategoryConnection
	case "engine", "media", "media.gstreamer":
		return CategoryMediaBackend
	case "hostaudio":
		return CategoryAudioDevice
	case "client":
		return CategoryProcess
	case "controlapi":
		return CategoryHTTP
	case "configuration":
		return CategoryConfiguration
	}

	return CategoryGeneric
}

// categorizeFilePath anonymizes file paths while preserving useful structure info
func categorizeFilePath(path string) string {
	if strings.ContainsAny(path, `/\`) {
		return "absolute-path"
	}
	return "relative-path"
}

// getFileExtension extracts file extension for categorization
func getFileExtension(path string) string {
	if lastDot := strings.LastIndex(path, "."); lastDot > 0 && lastDot < len(path)-1 {
		return strings.ToLower(path[lastDot+1:])
	}
	return "none"
}

// categorizeFileSize groups file sizes into categories
func categorizeFileSize(size int64) string {
	switch {
	case size < 1024:
		return "tiny"
	case size < 1024*1024:
		return "small"
	case size < 10*1024*1024:
		return "medium"
	case size < 100*1024*1024:
		return "large"
	default:
		return "very-large"
	}
}

// FileError creates a file I/O error with appropriate context
func FileError(err error, filePath string, fileSize int64) *EnhancedError {
	return New(err).
		Category(CategoryFileIO).
		FileContext(filePath, fileSize).
		Build()
}

// Standard library passthrough functions so this package can replace "errors".

// NewStd creates a new standard error
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks if an error is an EnhancedError with the specified category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhancedErr *EnhancedError
	return As(err, &enhancedErr) && enhancedErr.Category == category
}
