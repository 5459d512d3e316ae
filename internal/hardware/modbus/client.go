// Package modbus drives digital lines of a Modbus/TCP coupler.
package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

type Client struct {
	address       string
	conn          net.Conn
	mu            sync.Mutex
	transactionID uint16
	timeout       time.Duration
}

func NewClient(address string, timeout time.Duration) *Client {
	return &Client{
		address: address,
		timeout: timeout,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.conn = conn
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SendFrame sends request and waits for the matching response. A broken
// connection is dropped so the next Connect redials.
func (c *Client) SendFrame(ctx context.Context, request *Frame) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	c.transactionID++
	request.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(request.Encode()); err != nil {
		c.drop()
		return nil, fmt.Errorf("write failed: %w", err)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		c.drop()
		return nil, fmt.Errorf("read failed: %w", err)
	}
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || headerLen-1+length > maxFrameLen {
		c.drop()
		return nil, fmt.Errorf("invalid frame length %d", length)
	}
	// length counts the unit id, which is already in the header
	body := make([]byte, length-1)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		c.drop()
		return nil, fmt.Errorf("read failed: %w", err)
	}

	response, err := DecodeFrame(append(header, body...))
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	if response.TransactionID != request.TransactionID {
		return nil, fmt.Errorf("transaction ID mismatch: expected %d, got %d",
			request.TransactionID, response.TransactionID)
	}
	if err := response.Err(); err != nil {
		return nil, err
	}

	return response, nil
}

func (c *Client) drop() {
	c.conn.Close()
	c.conn = nil
}

func (c *Client) WriteSingleCoil(ctx context.Context, unitID uint8, addr uint16, on bool) error {
	_, err := c.SendFrame(ctx, WriteSingleCoilRequest(unitID, addr, on))
	return err
}

func (c *Client) ReadCoils(ctx context.Context, unitID uint8, startAddr, quantity uint16) ([]bool, error) {
	response, err := c.SendFrame(ctx, ReadCoilsRequest(unitID, startAddr, quantity))
	if err != nil {
		return nil, err
	}
	return response.ParseCoilResponse(quantity)
}
