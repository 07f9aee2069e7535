//go:build !linux

package board

import (
	"errors"
	"log/slog"
)

func openDevice(DeviceConfig, *slog.Logger) (Board, error) {
	return nil, errors.New("the linux board backend is only available on linux")
}
