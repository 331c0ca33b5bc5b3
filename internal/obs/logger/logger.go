// Package logger is a thin package-level wrapper around zap, in the style
// the rest of this codebase expects: call Init once at startup, then use
// the package functions from anywhere without threading a logger value
// through every call site.
package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"github.com/nimbusevents/eventcenter/internal/obs/errortracking"
	"go.uber.org/zap"
)

var Logger *zap.SugaredLogger
var errorTracker errortracking.Provider

func Init(dev bool) {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		UpdateLogger(&cfg)
	} else {
		cfg := zap.NewProductionConfig()
		UpdateLogger(&cfg)
	}
}

func UpdateLoggerPath(path string, dev bool) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{path}
	UpdateLogger(&cfg)
}

func UpdateLogger(cfg *zap.Config) {
	defaultConfig := zap.NewProductionConfig()
	defaultConfig.OutputPaths = []string{"eventcenter.log"}
	if cfg == nil {
		cfg = &defaultConfig
	}

	built, err := cfg.Build()
	if err != nil {
		log.Print(err)
		return
	}

	Logger = built.Sugar()
	Info("logger initialized")
}

// InitErrorTracking wires a Provider into Warn/Error/CatchPanic.
func InitErrorTracking(provider errortracking.Provider) {
	errorTracker = provider
	if errorTracker != nil {
		Info("error tracking initialized")
	}
}

func GetErrorTracker() errortracking.Provider { return errorTracker }

func CloseErrorTracking() error {
	if errorTracker != nil {
		errorTracker.Flush(5)
		return errorTracker.Close()
	}
	return nil
}

func Info(template string, args ...interface{}) {
	if Logger == nil {
		log.Printf(template, args...)
		return
	}
	Logger.Infow(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

func Warn(template string, args ...interface{}) {
	message := fmt.Sprintf(template, args...)
	if Logger == nil {
		log.Printf("%s", message)
	} else {
		Logger.Warnw(message, "process_id", os.Getpid())
	}

	if errorTracker != nil {
		errorTracker.CaptureMessage(context.Background(), message, errortracking.SeverityWarning, map[string]interface{}{
			"process_id": os.Getpid(),
		})
	}
}

func Error(template string, args ...interface{}) {
	message := fmt.Sprintf(template, args...)
	if Logger == nil {
		log.Printf("%s", message)
	} else {
		Logger.Errorw(message, "process_id", os.Getpid())
	}

	if errorTracker != nil {
		errorTracker.CaptureMessage(context.Background(), message, errortracking.SeverityError, map[string]interface{}{
			"process_id": os.Getpid(),
		})
	}
}

func Debug(template string, args ...interface{}) {
	if Logger == nil {
		log.Printf(template, args...)
		return
	}
	Logger.Debugw(fmt.Sprintf(template, args...), "process_id", os.Getpid())
}

// CatchPanicCallback recovers from a panic in a deferred call, logs it, and
// invokes cb (if non-nil) with the recovered value.
func CatchPanicCallback(location string, cb func(err any)) {
	if err := recover(); err != nil {
		stack := debug.Stack()

		if Logger != nil {
			Error("panic in %s: %v", location, err)
		} else {
			fmt.Printf("%s: PANIC -> %+v\n", location, err)
			debug.PrintStack()
		}

		if errorTracker != nil {
			errorTracker.CapturePanic(context.Background(), err, stack, map[string]interface{}{
				"location":   location,
				"process_id": os.Getpid(),
			})
		}

		if cb != nil {
			cb(err)
		}
	}
}

func CatchPanic(location string) {
	CatchPanicCallback(location, nil)
}

// HandlePanic logs a recovered panic and returns it as an error. Call it
// with the result of recover() from a deferred function:
//
//	defer func() {
//	    if r := recover(); r != nil {
//	        err = logger.HandlePanic("MethodName", r)
//	    }
//	}()
func HandlePanic(methodName string, recovered any) error {
	stack := debug.Stack()
	Error("panic in %s: %v\n%s", methodName, recovered, string(stack))

	if errorTracker != nil {
		errorTracker.CapturePanic(context.Background(), recovered, stack, map[string]interface{}{
			"method":     methodName,
			"process_id": os.Getpid(),
		})
	}

	return fmt.Errorf("panic in %s: %v", methodName, recovered)
}
