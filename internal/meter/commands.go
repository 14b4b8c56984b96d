package meter

import (
	"errors"
	"fmt"
	"strings"
)

// The meter accepts ASCII command strings over its write characteristic.
// Every command starts with '#' and is right-padded with '*' to exactly 18
// bytes before transmission.
const (
	commandLength = 18
	commandFiller = "*"
)

// ErrInvalidCommand marks commands rejected locally before transmission
// (wrong length, out-of-range argument).
var ErrInvalidCommand = errors.New("meter: invalid command")

// Opcodes, one prefix per device mode.
const (
	opOff         = "#0"
	opTimeDisplay = "#1" // + display mode digit 0..2
	opGyro        = "#2"
	opWorldline   = "#3" // + worldline slot 0..7 + 8 display chars
	opRandom      = "#4" // + flashing flag 0|1
	opClockFormat = "#5" // + 0 for 12-hour, 1 for 24-hour
	opSyncTime    = "#6" // + wall clock as YYYYMMDDHHMMSS
)

// encodeCommand pads text to the fixed command width.
func encodeCommand(text string) ([]byte, error) {
	if len(text) > commandLength {
		return nil, fmt.Errorf("%w: %q is %d bytes, max %d", ErrInvalidCommand, text, len(text), commandLength)
	}
	return []byte(text + strings.Repeat(commandFiller, commandLength-len(text))), nil
}

func flagDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// SendRawCommand pads text to the command width and writes it to the meter.
func (c *Coordinator) SendRawCommand(text string) error {
	cmd, err := encodeCommand(text)
	if err != nil {
		c.logger.Error("command rejected", "error", err)
		return err
	}
	return c.Write(cmd)
}

// TurnOff blanks the tubes. The opcode is fixed regardless of the mode the
// meter was in.
func (c *Coordinator) TurnOff() error {
	return c.SendRawCommand(opOff)
}

// SetWorldlineMode shows one of the eight stored divergence numbers. text is
// the exact 8 characters to display (digits, '.' and blanks).
func (c *Coordinator) SetWorldlineMode(index int, text string) error {
	if index < 0 || index > 7 {
		err := fmt.Errorf("%w: worldline index %d out of range 0..7", ErrInvalidCommand, index)
		c.logger.Error("command rejected", "error", err)
		return err
	}
	if len(text) != 8 {
		err := fmt.Errorf("%w: worldline text %q must be exactly 8 characters", ErrInvalidCommand, text)
		c.logger.Error("command rejected", "error", err)
		return err
	}
	return c.SendRawCommand(fmt.Sprintf("%s%d%s", opWorldline, index, text))
}

// SetTimeDisplayMode switches the clock face; mode is 0, 1 or 2.
func (c *Coordinator) SetTimeDisplayMode(mode int) error {
	if mode < 0 || mode > 2 {
		err := fmt.Errorf("%w: time display mode %d out of range 0..2", ErrInvalidCommand, mode)
		c.logger.Error("command rejected", "error", err)
		return err
	}
	return c.SendRawCommand(fmt.Sprintf("%s%d", opTimeDisplay, mode))
}

// SetGyroMode puts the meter in tilt-reactive mode.
func (c *Coordinator) SetGyroMode() error {
	return c.SendRawCommand(opGyro)
}

// SetRandomMode cycles random worldlines, optionally flashing the digits.
func (c *Coordinator) SetRandomMode(flashing bool) error {
	return c.SendRawCommand(opRandom + flagDigit(flashing))
}

// SetClockFormat selects 12- or 24-hour time display.
func (c *Coordinator) SetClockFormat(use24Hour bool) error {
	return c.SendRawCommand(opClockFormat + flagDigit(use24Hour))
}

// SyncTime pushes the current wall-clock time to the meter.
func (c *Coordinator) SyncTime() error {
	return c.SendRawCommand(opSyncTime + c.now().Format("20060102150405"))
}
