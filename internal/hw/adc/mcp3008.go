package adc

import (
	"fmt"

	"github.com/einoj/muskrat/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// MCP3008 is an 8-channel 10-bit SPI converter on the Raspberry Pi SPI0 bus.
//
// Single-ended conversion frame (3 bytes, MSB first):
//
//	tx: 0000_0001  1ccc_0000  xxxx_xxxx   (start bit, SGL=1, channel ccc)
//	rx: xxxx_xxxx  xxxx_x0bb  bbbb_bbbb   (null bit, 10 result bits)
type MCP3008 struct {
	channels int
}

// NewMCP3008 claims SPI0 through go-rpio. rpio.Open must have been called
// (the GPIO driver does this).
func NewMCP3008(cfg Config) (*MCP3008, error) {
	debug.Info("Initializing MCP3008 on SPI0 CE%d at %d Hz", cfg.ChipSelect, cfg.SPISpeedHz)

	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		return nil, fmt.Errorf("begin SPI0: %w", err)
	}
	rpio.SpiSpeed(cfg.SPISpeedHz)
	rpio.SpiChipSelect(uint8(cfg.ChipSelect))

	channels := cfg.Channels
	if channels <= 0 || channels > 8 {
		channels = 8
	}
	return &MCP3008{channels: channels}, nil
}

// Read performs one blocking conversion.
func (m *MCP3008) Read(channel int) (uint16, error) {
	if channel < 0 || channel >= m.channels {
		return 0, fmt.Errorf("adc channel %d out of range 0-%d", channel, m.channels-1)
	}
	frame := []byte{0x01, byte(0x80 | channel<<4), 0x00}
	rpio.SpiExchange(frame)
	v := decodeFrame(frame)
	debug.ADC(channel, v)
	return v, nil
}

func decodeFrame(rx []byte) uint16 {
	return uint16(rx[1]&0x03)<<8 | uint16(rx[2])
}

func (m *MCP3008) Close() error {
	debug.Trace("ADC Close (MCP3008)")
	rpio.SpiEnd(rpio.Spi0)
	return nil
}
