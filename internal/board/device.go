package board

import "errors"

// DeviceConfig selects the Linux backend: sample frames from a character
// device or FIFO, power through a GPIO pin with hardware PWM.
type DeviceConfig struct {
	SamplePath string `yaml:"sample_path"`
	PWMPin     string `yaml:"pwm_pin"`
	PWMHz      uint32 `yaml:"pwm_hz"`
}

func (c DeviceConfig) Validate() error {
	if c.SamplePath == "" {
		return errors.New("board.device.sample_path must be set")
	}
	if c.PWMPin == "" {
		return errors.New("board.device.pwm_pin must be set")
	}
	if c.PWMHz == 0 {
		return errors.New("board.device.pwm_hz must be > 0")
	}
	return nil
}
