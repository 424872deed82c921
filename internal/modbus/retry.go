package modbus

import (
	"time"

	"go.uber.org/zap"
)

// Retry runs op up to retries times, waiting delay between attempts.
// Only transport failures are retried; any other error is returned to
// the caller on the first attempt. After exhausting the attempts the
// final transport failure is returned.
func Retry(op func() error, retries int, delay time.Duration, log *zap.Logger) error {
	if retries < 1 {
		retries = 1
	}
	var last error
	for attempt := 1; attempt <= retries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsModbus(err) {
			return err
		}
		last = err
		log.Debug("modbus operation failed",
			zap.Int("attempt", attempt),
			zap.Int("retries", retries),
			zap.Error(err))
		if attempt < retries {
			time.Sleep(delay)
		}
	}
	return last
}
