package websocket

import (
	"time"

	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
)

// FrameInfo is the live preview sent to clients. Pixels are not shipped.
type FrameInfo struct {
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Min       uint16    `json:"min"`
	Max       uint16    `json:"max"`
	Mean      float64   `json:"mean"`
	Timestamp time.Time `json:"timestamp"`
}

func NewFrameInfo(f hardware.Frame) FrameInfo {
	info := FrameInfo{Width: f.Width, Height: f.Height, Timestamp: f.Timestamp}
	if len(f.Pixels) == 0 {
		return info
	}

	info.Min = f.Pixels[0]
	var sum uint64
	for _, p := range f.Pixels {
		info.Min = min(info.Min, p)
		info.Max = max(info.Max, p)
		sum += uint64(p)
	}
	info.Mean = float64(sum) / float64(len(f.Pixels))
	return info
}

// ShowFrame makes the hub the controller's live display. It never blocks.
func (h *Hub) ShowFrame(f hardware.Frame) {
	if h.GetClientCount() == 0 {
		return
	}
	h.Broadcast(NewMessage(MessageTypeFrame, NewFrameInfo(f)))
}
