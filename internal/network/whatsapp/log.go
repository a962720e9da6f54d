package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	logx "bioscout/pkg/logx"
)

// waLogger routes whatsmeow's printf-style logging into logx.
type waLogger struct {
	log logx.Logger
}

func newWALogger(log logx.Logger) waLog.Logger { return waLogger{log: log} }

func (l waLogger) Debugf(msg string, args ...interface{}) { l.log.Debug(fmt.Sprintf(msg, args...)) }
func (l waLogger) Infof(msg string, args ...interface{})  { l.log.Info(fmt.Sprintf(msg, args...)) }
func (l waLogger) Warnf(msg string, args ...interface{})  { l.log.Warn(fmt.Sprintf(msg, args...)) }
func (l waLogger) Errorf(msg string, args ...interface{}) { l.log.Error(fmt.Sprintf(msg, args...)) }

func (l waLogger) Sub(module string) waLog.Logger {
	return waLogger{log: l.log.With(logx.String("wa_module", module))}
}
