package transport

import (
	"go.uber.org/zap"

	"github.com/margo/wiotp-client/sdk/logging"
)

func nopLogger() *zap.SugaredLogger {
	return logging.Nop()
}
