package machine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
)

// live streams frames to the display until stopped.
func (c *Controller) live(ctx context.Context, cmd dispatch.Command) {
	c.setState(StateLive)
	c.ack(cmd, "")
	defer c.setState(StateIdle)

	for {
		if c.drainLive(ctx) {
			return
		}

		// pace captures to the display rate
		r := c.limiter.Reserve()
		if d := r.Delay(); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-c.commands.Ready():
				timer.Stop()
				r.Cancel()
				continue
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}

		frame, err := c.rig.Camera.CapturePlane(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fault(cmd, err)
			return
		}
		if slot := c.display.Load(); slot != nil {
			slot.d.ShowFrame(frame)
		}
	}
}

// drainLive handles queued commands while live. It reports whether live mode
// should end.
func (c *Controller) drainLive(ctx context.Context) bool {
	for {
		cmd, ok := c.commands.TryReceive()
		if !ok {
			return ctx.Err() != nil
		}

		switch cmd.Kind {
		case dispatch.CmdStop:
			c.ack(cmd, "")
			return true
		case dispatch.CmdGoLive:
			c.ack(cmd, "already live")
		case dispatch.CmdChangeRequest:
			next, err := c.applyChanges(ctx, cmd)
			if err != nil {
				c.fault(cmd, err)
			}
			c.ack(cmd, "")
			if next == StateIdle {
				return true
			}
		default:
			c.reject(cmd, "microscope is live")
		}
	}
}

// move executes one stage motion. Stop halts the stage; further moves are
// rejected until the motion completes.
func (c *Controller) move(ctx context.Context, cmd dispatch.Command) {
	c.setState(StateMoving)
	defer c.setState(StateIdle)

	moveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var offset float64
	if !cmd.StageFrame {
		offset = c.offsets[cmd.Axis]
	}

	done := make(chan error, 1)
	go func() {
		if cmd.Kind == dispatch.CmdMoveAbsolute {
			done <- c.rig.Stage.MoveAbsolute(moveCtx, cmd.Axis, cmd.Value+offset)
		} else {
			done <- c.rig.Stage.MoveRelative(moveCtx, cmd.Axis, cmd.Value)
		}
	}()

	for {
		select {
		case err := <-done:
			c.syncPosition(cmd.Axis)
			switch {
			case err == nil:
				c.ack(cmd, "")
			case errors.Is(err, hardware.ErrHalted):
				c.ack(cmd, "halted")
			default:
				c.fault(cmd, err)
				c.ack(cmd, "failed")
			}
			return

		case <-c.commands.Ready():
			c.drainMoving(ctx, cmd)

		case <-ctx.Done():
			cancel()
			<-done
			c.syncPosition(cmd.Axis)
			return
		}
	}
}

func (c *Controller) drainMoving(ctx context.Context, moving dispatch.Command) {
	for {
		cmd, ok := c.commands.TryReceive()
		if !ok {
			return
		}

		switch cmd.Kind {
		case dispatch.CmdStop:
			c.halt(moving)
			c.ack(cmd, "")
		case dispatch.CmdChangeRequest:
			next, err := c.applyChanges(ctx, cmd)
			if err != nil {
				c.fault(cmd, err)
			}
			if next == StateIdle {
				c.halt(moving)
			}
			c.ack(cmd, "")
		default:
			c.reject(cmd, "stage is moving")
		}
	}
}

func (c *Controller) halt(cmd dispatch.Command) {
	if err := c.rig.Stage.Halt(); err != nil {
		c.fault(cmd, err)
		return
	}
	c.logger.Info("Motion halted", zap.String("axis", string(cmd.Axis)))
}
