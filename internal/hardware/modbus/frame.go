package modbus

import (
	"encoding/binary"
	"fmt"
)

// Frame is a Modbus/TCP ADU: MBAP header (7 bytes), function code, data.
type Frame struct {
	TransactionID uint16
	ProtocolID    uint16 // always 0 for Modbus
	Length        uint16 // bytes following the length field
	UnitID        uint8
	FunctionCode  uint8
	Data          []byte
}

const (
	FuncCodeReadCoils       = 0x01
	FuncCodeWriteSingleCoil = 0x05

	exceptionFlag = 0x80
	headerLen     = 7
	maxFrameLen   = 260

	coilOn  = 0xFF00
	coilOff = 0x0000
)

func (f *Frame) Encode() []byte {
	// unit id + function code + data
	f.Length = uint16(len(f.Data) + 2)

	frame := make([]byte, headerLen+1+len(f.Data))
	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID
	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < headerLen+1 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &Frame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}
	if len(data) > headerLen+1 {
		frame.Data = data[headerLen+1:]
	}

	return frame, nil
}

// Err returns the Modbus exception carried by a response, if any.
func (f *Frame) Err() error {
	if f.FunctionCode&exceptionFlag == 0 {
		return nil
	}
	code := byte(0)
	if len(f.Data) > 0 {
		code = f.Data[0]
	}
	return &ExceptionError{Function: f.FunctionCode &^ exceptionFlag, Code: code}
}

type ExceptionError struct {
	Function uint8
	Code     uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X on function 0x%02X", e.Code, e.Function)
}

func addrValueRequest(unitID uint8, fc uint8, addr, value uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], value)

	return &Frame{UnitID: unitID, FunctionCode: fc, Data: data}
}

func WriteSingleCoilRequest(unitID uint8, addr uint16, on bool) *Frame {
	value := uint16(coilOff)
	if on {
		value = coilOn
	}
	return addrValueRequest(unitID, FuncCodeWriteSingleCoil, addr, value)
}

func ReadCoilsRequest(unitID uint8, startAddr, quantity uint16) *Frame {
	return addrValueRequest(unitID, FuncCodeReadCoils, startAddr, quantity)
}

// ParseCoilResponse unpacks a read-coils response into quantity booleans.
func (f *Frame) ParseCoilResponse(quantity uint16) ([]bool, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}
	byteCount := int(f.Data[0])
	if len(f.Data) < byteCount+1 || byteCount*8 < int(quantity) {
		return nil, fmt.Errorf("incomplete response data")
	}

	coils := make([]bool, quantity)
	for i := range coils {
		coils[i] = f.Data[1+i/8]&(1<<(i%8)) != 0
	}
	return coils, nil
}
