package machine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/acquisition"
	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
)

var errCancelled = errors.New("run cancelled")

// runState is the bookkeeping of one acquisition run.
type runState struct {
	id      uuid.UUID
	cmd     dispatch.Command
	entries []acquisition.Entry
	total   int
	counter int
	stop    bool
	// err is a hardware failure seen at a checkpoint
	err error
}

func (c *Controller) validateRun(entries []acquisition.Entry) error {
	if len(entries) == 0 {
		return acquisition.ErrEmptyList
	}
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		for key, v := range e.Optics() {
			if err := c.model.Validate(key, v); err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
		}
	}
	return nil
}

// run executes the acquisition list carried by cmd.
func (c *Controller) run(ctx context.Context, cmd dispatch.Command) {
	if err := c.validateRun(cmd.List); err != nil {
		c.reject(cmd, err.Error())
		return
	}

	rs := &runState{
		id:      uuid.New(),
		cmd:     cmd,
		entries: cmd.List,
	}
	for _, e := range rs.entries {
		rs.total += e.ImageCount()
	}

	c.setRunID(rs.id)
	c.setState(StateRunning)
	c.logger.Info("Acquisition run started",
		zap.String("run_id", rs.id.String()),
		zap.Int("entries", len(rs.entries)),
		zap.Int("total_images", rs.total))

	started := dispatch.NewEvent(dispatch.EvtRunStarted)
	started.RunID = rs.id
	started.CommandID = cmd.ID
	started.Progress = &dispatch.Progress{TotalAcqs: len(rs.entries), TotalImageCount: rs.total}
	c.emit(started)

	err := c.sequence(ctx, rs)

	result := &dispatch.RunResult{
		RunID:          rs.id,
		CommandID:      cmd.ID,
		ImagesAcquired: rs.counter,
	}
	kind := dispatch.EvtRunFinished
	switch {
	case err == nil:
		result.Reason = dispatch.RunCompleted
	case errors.Is(err, errCancelled), ctx.Err() != nil:
		result.Reason = dispatch.RunCancelled
	default:
		kind = dispatch.EvtRunAborted
		result.Reason = dispatch.RunAborted
		result.Error = err.Error()
		c.logger.Error("Acquisition run aborted: hardware error",
			zap.String("run_id", rs.id.String()),
			zap.Error(err))
	}

	c.setState(StateIdle)
	c.setRunID(uuid.Nil)
	c.logger.Info("Acquisition run finished",
		zap.String("run_id", rs.id.String()),
		zap.String("reason", string(result.Reason)),
		zap.Int("images", rs.counter))

	ev := dispatch.NewEvent(kind)
	ev.RunID = rs.id
	ev.CommandID = cmd.ID
	ev.Run = result
	ev.Reason = string(result.Reason)
	c.emit(ev)
}

func (c *Controller) sequence(ctx context.Context, rs *runState) error {
	for i, entry := range rs.entries {
		if err := c.checkpoint(ctx, rs); err != nil {
			return err
		}

		if err := c.configure(ctx, entry); err != nil {
			return err
		}
		if err := c.moveTo(ctx, entry.StartPoint()); err != nil {
			return err
		}

		if err := c.acquireEntry(ctx, rs, i, entry); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) acquireEntry(ctx context.Context, rs *runState, index int, entry acquisition.Entry) error {
	if c.writer != nil {
		if err := c.writer.Prepare(entry); err != nil {
			return err
		}
	}

	images := entry.ImageCount()
	inc := entry.ZIncrement()

	for p := 0; p < images; p++ {
		if err := c.checkpoint(ctx, rs); err != nil {
			if errors.Is(err, errCancelled) {
				// keep the planes taken so far
				c.endSeries()
			} else {
				c.discardSeries()
			}
			return err
		}

		frame, err := c.rig.Camera.CapturePlane(ctx)
		if err != nil {
			c.discardSeries()
			return err
		}
		if c.writer != nil {
			if err := c.writer.Add(frame); err != nil {
				c.discardSeries()
				return err
			}
		}
		c.show(frame)

		if err := c.rig.Stage.MoveRelative(ctx, hardware.AxisZ, inc); err != nil {
			c.discardSeries()
			return err
		}
		c.syncPosition(hardware.AxisZ)

		ev := dispatch.NewEvent(dispatch.EvtProgress)
		ev.RunID = rs.id
		ev.CommandID = rs.cmd.ID
		ev.Progress = &dispatch.Progress{
			CurrentAcq:        index,
			TotalAcqs:         len(rs.entries),
			CurrentImageInAcq: p,
			ImagesInAcq:       images,
			TotalImageCount:   rs.total,
			ImageCounter:      rs.counter,
		}
		c.emit(ev)
		rs.counter++
	}

	return c.endSeries()
}

func (c *Controller) endSeries() error {
	if c.writer == nil {
		return nil
	}
	return c.writer.End()
}

func (c *Controller) discardSeries() {
	if c.writer != nil {
		c.writer.Discard()
	}
}

// configure writes the entry's optics into the model and pushes them to the
// hardware.
func (c *Controller) configure(ctx context.Context, entry acquisition.Entry) error {
	optics := entry.Optics()
	res := c.model.Assign(optics)
	if len(res.Rejected) > 0 {
		r := res.Rejected[0]
		return fmt.Errorf("entry optics rejected: %s: %w", r.Key, r.Err)
	}

	return c.pushParameters(ctx, res.Accepted)
}

// moveTo drives every axis to p, one after another. p is in the reported
// frame, zeroed axes included.
func (c *Controller) moveTo(ctx context.Context, p acquisition.Point) error {
	targets := map[hardware.Axis]float64{
		hardware.AxisX:     p.X,
		hardware.AxisY:     p.Y,
		hardware.AxisZ:     p.Z,
		hardware.AxisTheta: p.Theta,
		hardware.AxisF:     p.F,
	}
	for _, axis := range hardware.Axes {
		if err := c.rig.Stage.MoveAbsolute(ctx, axis, targets[axis]+c.offsets[axis]); err != nil {
			return err
		}
		c.syncPosition(axis)
	}
	return nil
}

// checkpoint drains the command mailbox between planes: stop cancels the
// run, change requests are applied, everything else is rejected. A change
// that fails to reach the hardware aborts the run with that error.
func (c *Controller) checkpoint(ctx context.Context, rs *runState) error {
	if ctx.Err() != nil {
		return errCancelled
	}

	for {
		cmd, ok := c.commands.TryReceive()
		if !ok {
			break
		}

		switch cmd.Kind {
		case dispatch.CmdStop:
			rs.stop = true
			c.ack(cmd, "")
		case dispatch.CmdChangeRequest:
			next, err := c.applyChanges(ctx, cmd)
			if err != nil && rs.err == nil {
				rs.err = err
			}
			if next == StateIdle {
				rs.stop = true
			}
			c.ack(cmd, "")
		default:
			c.reject(cmd, "acquisition running")
		}
	}

	switch {
	case rs.err != nil:
		return rs.err
	case rs.stop:
		c.logger.Info("Acquisition run stop requested", zap.String("run_id", rs.id.String()))
		return errCancelled
	}
	return nil
}
