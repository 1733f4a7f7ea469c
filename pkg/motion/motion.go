// Package motion assembles the three pipeline stages into one system value:
// the move queue, the segment generator, the step pulser, and the endstop
// controller, together with homing, probing, and kill handling.
package motion

import (
	"sync"

	"go.uber.org/zap"

	"printmotion/pkg/axis"
	"printmotion/pkg/config"
	"printmotion/pkg/endstop"
	"printmotion/pkg/hal"
	"printmotion/pkg/kinematics"
	"printmotion/pkg/moterr"
	"printmotion/pkg/planner"
	"printmotion/pkg/pulser"
	"printmotion/pkg/ring"
	"printmotion/pkg/sched"
	"printmotion/pkg/segment"
)

// System owns the full motion pipeline. It replaces the per-stage global
// state of classic firmwares with a single explicitly constructed value;
// interrupt handlers dispatch into it through the exported *Tick and
// EndstopTriggered entry points.
type System struct {
	log *zap.Logger
	cfg *config.Config
	kin kinematics.Kinematics

	Planner  *planner.Planner
	Endstops *endstop.Controller

	gen   *segment.Generator
	pulse *pulser.Pulser

	segs  *ring.Ring[segment.Segment]
	steps *ring.Ring[pulser.Slice]

	driver hal.StepperDriver

	mu    sync.Mutex
	homed axis.Mask

	allMotors axis.Mask
}

// Options carries the optional collaborators of a System.
type Options struct {
	// Tool computes the per-slice secondary intensity. Defaults to a
	// speed-scaling laser tool.
	Tool segment.Tool
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// New builds a system over the config and hardware.
func New(cfg *config.Config, driver hal.StepperDriver, toolOut hal.ToolOutput, opts Options) (*System, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tool := opts.Tool
	if tool == nil {
		tool = ScaledTool{}
	}

	kin, err := kinematics.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	s := &System{
		log:   logger,
		cfg:   cfg,
		kin:   kin,
		segs:  ring.New[segment.Segment](cfg.SegmentQueueDepth),
		steps: ring.New[pulser.Slice](cfg.StepQueueDepth),
	}
	for i := 0; i < axis.Count; i++ {
		s.allMotors |= axis.Bits[i]
	}
	s.driver = driver

	s.Planner = planner.New(cfg, logger.Named("planner"))
	s.pulse = pulser.New(s.steps, driver, toolOut)
	s.gen = segment.New(cfg, kin, s.Planner, s.segs, s.steps, s.pulse, driver, tool, logger.Named("segment"))
	s.Endstops = endstop.New(s.pulse, s.gen, logger.Named("endstop"))
	s.Planner.SetMotorPosFunc(s.gen.MotorPos)

	s.pulse.SetSliceDoneFunc(func(parentID uint8, last bool) {
		if last {
			s.gen.ReleaseOldest()
		}
	})
	s.Endstops.SetUnhomeFunc(func(ax int) {
		s.setHomed(ax, false)
	})

	return s, nil
}

// AttachTimers registers the pipeline tick entry points on a timer driver:
// the step interrupt above the prepare timer. Hosts that have real timer
// interrupts call PrepTick/StepTick directly instead.
func (s *System) AttachTimers(d *sched.Driver) {
	d.Schedule(s.cfg.PrepareFrequency, 1, s.PrepTick)
	d.Schedule(s.cfg.StepFrequencyMax, 2, s.StepTick)
}

// Kinematics returns the active geometry.
func (s *System) Kinematics() kinematics.Kinematics {
	return s.kin
}

// PrepTick runs one segment-generator invocation. Call it from the
// mid-priority prepare timer.
func (s *System) PrepTick() {
	s.gen.Tick()
}

// StepTick runs one step-interrupt invocation. Call it from the
// highest-priority step timer.
func (s *System) StepTick() {
	s.pulse.Tick()
}

// EndstopTriggered is the interrupt entry point for endstop wiring.
func (s *System) EndstopTriggered(ax int, positive bool) {
	s.Endstops.Trigger(ax, positive)
}

// QueueMove appends a cartesian move.
func (s *System) QueueMove(target axis.Vector, feedrate float64) error {
	return s.Planner.QueueMove(target, feedrate, true)
}

// QueueSteps appends a motor-space move.
func (s *System) QueueSteps(delta axis.Steps, feedrate float64) error {
	return s.Planner.QueueSteps(delta, feedrate, false)
}

// QueueWait appends a dwell.
func (s *System) QueueWait(milliseconds uint32) error {
	return s.Planner.QueueWait(milliseconds)
}

// QueueWarmup appends a warmup barrier.
func (s *System) QueueWarmup(tool int, targetC float64) error {
	return s.Planner.QueueWarmup(tool, targetC)
}

// MoveBlocking queues a move, pumping the pipeline (or calling yield) until
// a slot frees up. Errors other than a full queue are returned immediately.
func (s *System) MoveBlocking(target axis.Vector, feedrate float64, yield func()) error {
	for {
		err := s.Planner.QueueMove(target, feedrate, true)
		if !moterr.Is(err, moterr.CodeQueueFull) {
			return err
		}
		if yield != nil {
			yield()
		} else {
			s.pump()
		}
	}
}

// pump advances the pipeline by one prep tick and drains the step queue.
func (s *System) pump() {
	s.gen.Tick()
	for {
		s.pulse.Tick()
		if s.pulse.Idle() {
			return
		}
	}
}

// Drained reports whether every stage is empty.
func (s *System) Drained() bool {
	return s.Planner.Len() == 0 && !s.gen.Active() &&
		s.segs.Len() == 0 && s.steps.Len() == 0
}

// RunUntilIdle pumps the pipeline until it drains. Used by the simulator;
// real embedders drive PrepTick/StepTick from timers instead. maxTicks
// bounds the work to catch runaway pipelines.
func (s *System) RunUntilIdle(maxTicks int) error {
	for i := 0; i < maxTicks; i++ {
		s.pump()
		if s.Drained() {
			return nil
		}
	}
	return moterr.New(moterr.CodeConfig, "pipeline did not drain within %d ticks", maxTicks)
}

// WaitUntilDrained pumps until all queued motion has been pulsed.
func (s *System) WaitUntilDrained() {
	for !s.Drained() {
		s.pump()
	}
}

// IsQueueFull reports whether the move queue has no free slot.
func (s *System) IsQueueFull() bool {
	return s.Planner.IsFull()
}

// CurrentPosition returns the logical position (queue-time semantics).
func (s *System) CurrentPosition() axis.Vector {
	return s.Planner.CurrentPosition()
}

// MotorPosition returns the published motor-space position.
func (s *System) MotorPosition() axis.Steps {
	return s.gen.MotorPos()
}

// SetPosition declares the current position without motion. The pipeline
// must be drained.
func (s *System) SetPosition(pos axis.Vector) {
	s.Planner.SetPosition(pos)
	s.gen.SetMotorPosFromCartesian(pos)
}

// SetOrigin sets the workspace offset.
func (s *System) SetOrigin(origin axis.Vector) {
	s.Planner.SetOrigin(origin)
}

// SetFeedrate sets the feedrate used by moves queued without one.
func (s *System) SetFeedrate(f float64) {
	s.Planner.SetFeedrate(f)
}

// SetFeedrateMultiply scales queued feedrates (percent).
func (s *System) SetFeedrateMultiply(percent float64) {
	s.Planner.SetFeedrateMultiply(percent)
}

// SetFlowMultiply scales queued extrusion (percent).
func (s *System) SetFlowMultiply(percent float64) {
	s.Planner.SetFlowMultiply(percent)
}

// Status returns and clears the caller-visible motion error. The command
// loop reads this once per iteration.
func (s *System) Status() error {
	return s.Endstops.ConsumeStatus()
}

// Homed reports whether the axis has a trusted position.
func (s *System) Homed(ax int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homed.Has(ax)
}

func (s *System) setHomed(ax int, on bool) {
	s.mu.Lock()
	if on {
		s.homed = s.homed.Set(ax)
	} else {
		s.homed = s.homed.Clear(ax)
	}
	s.mu.Unlock()
}

// Kill drains all three stages immediately, disables the motors, and clears
// the homed flags.
func (s *System) Kill() {
	s.Planner.Clear()
	s.gen.Reset()
	s.pulse.Reset()
	if s.driver != nil {
		s.driver.Disable(s.allMotors)
	}
	s.mu.Lock()
	s.homed = 0
	s.mu.Unlock()
	s.log.Info("motion killed")
}
