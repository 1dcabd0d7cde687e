package transport

import (
	"fmt"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/sdk/logging"
)

// paho keeps its loggers in package variables, so the last client to install
// a trace configuration wins.
var traceMu sync.Mutex

type pahoLogger struct {
	level logging.Level
	sink  func(level logging.Level, message string)
}

func (l pahoLogger) Println(v ...interface{}) {
	l.sink(l.level, strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.sink(l.level, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func installTrace(level string, handler logging.Handler, log *zap.SugaredLogger) {
	if level == "" {
		return
	}

	sink := handler
	if sink == nil {
		sink = func(l logging.Level, msg string) {
			switch l {
			case logging.LevelError:
				log.Errorw(msg, "source", "mqtt")
			case logging.LevelWarn:
				log.Warnw(msg, "source", "mqtt")
			default:
				log.Debugw(msg, "source", "mqtt")
			}
		}
	}

	traceMu.Lock()
	defer traceMu.Unlock()

	mqtt.ERROR = pahoLogger{logging.LevelError, sink}
	mqtt.CRITICAL = pahoLogger{logging.LevelError, sink}
	if level == "error" {
		return
	}
	mqtt.WARN = pahoLogger{logging.LevelWarn, sink}
	if level == "debug" {
		mqtt.DEBUG = pahoLogger{logging.LevelDebug, sink}
	}
}
