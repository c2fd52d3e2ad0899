// Package system is the top-level orchestrator of spec.md §4.5: it wires
// a vm.Engine to an ipc.Core, resolves the five extrinsics against
// whichever thread the engine just interrupted, applies the resulting
// events back onto the engine, and dispatches messages addressed to the
// reserved virtual PIDs ("interface", "threads", "loader") to their
// built-in native programs. Its lifecycle — Config, NewSystem, Run —
// follows the teacher's matter.Node: validate config, apply defaults,
// build every internal manager, then run until told to stop.
package system

import (
	"context"
	"fmt"

	"github.com/backkem/wasmkernel/pkg/extrinsic"
	"github.com/backkem/wasmkernel/pkg/ipc"
	"github.com/backkem/wasmkernel/pkg/native"
	"github.com/backkem/wasmkernel/pkg/vm"
	"github.com/backkem/wasmkernel/pkg/wasmsig"
	"github.com/pion/logging"
)

// System owns the IPC core, the engine it drives, and the native programs
// hosted at the reserved virtual PIDs.
type System struct {
	config   Config
	log      logging.LeveledLogger
	engine   vm.Engine
	resolver vm.ImportResolver
	core     *ipc.Core

	// pendingMainThread holds processes returned by Execute whose main
	// ThreadID isn't known yet: Instantiate only returns a Pid, so
	// RegisterProcess is deferred until the first RunOutcome naming this
	// Pid arrives.
	pendingMainThread map[ipc.Pid]struct{}

	interfaceRegistry *native.InterfaceRegistry
	threadsProgram    *native.ThreadsProgram
	loaderFacade      *native.Facade
	selfTest          *native.Facade
}

// NewSystem builds a System from config, registers the built-in reserved
// interfaces, and (if configured) runs the Echo self-test's initial
// registration.
func NewSystem(config Config) (*System, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	s := &System{
		config:            config,
		engine:            config.Engine,
		resolver:          importResolver{},
		pendingMainThread: make(map[ipc.Pid]struct{}),
		interfaceRegistry: native.NewInterfaceRegistry(),
		threadsProgram:    native.NewThreadsProgram(config.Engine),
		loaderFacade:      native.NewFacade(PidLoader, native.NewLoaderProgram(config.Sources...)),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("system")
	}
	s.core = ipc.NewCore(engineMemWriter{engine: config.Engine}, isReservedPid)

	if config.RunSelfTest {
		s.selfTest = native.NewFacade(pidSelfTest, native.NewEchoInterface())
	}

	if err := s.bootstrap(); err != nil {
		return nil, err
	}
	return s, nil
}

// bootstrap registers the built-in reserved interfaces so emit_message
// calls against them reach the right native program, and kicks off the
// Echo self-test's own registration if enabled.
func (s *System) bootstrap() error {
	builtins := []struct {
		hash ipc.InterfaceHash
		pid  ipc.Pid
	}{
		{native.InterfaceHash, PidInterface},
		{native.ThreadsHash, PidThreads},
		{native.LoaderHash, PidLoader},
	}
	for _, b := range builtins {
		if _, err := s.core.SetInterfaceHandler(b.hash, b.pid); err != nil {
			return fmt.Errorf("system: register %x: %w", b.hash, err)
		}
	}

	if s.selfTest != nil {
		if _, err := s.applyEvents(s.selfTest.Drive(s.core)); err != nil {
			return err
		}
	}
	return nil
}

// Execute instantiates module as a new process and returns the Pid the
// engine assigned it. The process becomes runnable once Step is next
// called.
func (s *System) Execute(module wasmsig.Module) (ipc.Pid, error) {
	pid, err := s.engine.Instantiate(module, s.resolver)
	if err != nil {
		return 0, err
	}
	s.pendingMainThread[pid] = struct{}{}
	return pid, nil
}

// Step advances the engine by one RunOutcome and applies its effect:
// decoding and dispatching an extrinsic call, reaping a finished thread
// or process, or doing nothing on Idle. It returns the ipc.Events this
// step produced, already applied to the engine and any reserved-PID
// programs.
func (s *System) Step() ([]ipc.Event, error) {
	outcome, err := s.engine.RunOne()
	if err != nil {
		return nil, err
	}
	return s.handleOutcome(outcome)
}

// Run drives Step in a loop until ctx is cancelled, mirroring the
// teacher's examples.RunDevice event loop. Engine.RunOne has no context
// parameter, so cancellation is only observed between steps, not while a
// step is already blocked waiting for the next outcome.
func (s *System) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
}

func (s *System) registerIfPending(pid ipc.Pid, mainTid ipc.ThreadID) error {
	if _, pending := s.pendingMainThread[pid]; !pending {
		return nil
	}
	delete(s.pendingMainThread, pid)
	return s.core.RegisterProcess(pid, mainTid)
}

func (s *System) handleOutcome(outcome vm.RunOutcome) ([]ipc.Event, error) {
	switch outcome.Kind {
	case vm.Idle:
		return nil, nil

	case vm.Interrupted:
		if err := s.registerIfPending(outcome.Pid, outcome.InterruptedThread); err != nil {
			return nil, err
		}
		return s.handleInterrupted(outcome)

	case vm.ThreadFinished:
		if err := s.core.HandleThreadFinished(outcome.FinishedThread); err != nil {
			return nil, err
		}
		return s.applyEvents(s.core.Drain())

	case vm.ProcessFinished:
		var mainTid ipc.ThreadID
		if len(outcome.DeadThread) > 0 {
			mainTid = outcome.DeadThread[0]
		}
		if err := s.registerIfPending(outcome.Pid, mainTid); err != nil {
			return nil, err
		}
		if err := s.core.HandleProcessFinished(outcome.Pid, outcome.Outcome); err != nil {
			return nil, err
		}
		if s.log != nil {
			s.log.Infof("process %d finished: %v", outcome.Pid, outcome.Outcome)
		}
		return s.applyEvents(s.core.Drain())

	default:
		return nil, fmt.Errorf("system: unknown run outcome kind %v", outcome.Kind)
	}
}

// handleInterrupted decodes the extrinsic call a thread suspended on and
// dispatches it to the matching Core method, resuming the thread
// immediately unless the core parked it.
func (s *System) handleInterrupted(outcome vm.RunOutcome) ([]ipc.Event, error) {
	tid := outcome.InterruptedThread
	mem := threadMemReader{h: s.engine.Thread(tid)}
	p := outcome.Params

	switch extrinsic.Tag(outcome.Tag) {
	case extrinsic.TagNextMessage:
		if len(p) < 5 {
			return s.fault(outcome.Pid)
		}
		call, err := extrinsic.DecodeNextMessage(mem, u32(p[0]), u32(p[1]), u32(p[2]), u32(p[3]), u32(p[4]))
		if err != nil {
			return s.fault(outcome.Pid)
		}
		value, parked, err := s.core.NextMessage(tid, call)
		if err != nil {
			return nil, err
		}
		if !parked {
			if err := s.engine.Thread(tid).Resume(value); err != nil {
				return nil, err
			}
		}
		return s.applyEvents(s.core.Drain())

	case extrinsic.TagEmitMessage:
		if len(p) < 6 {
			return s.fault(outcome.Pid)
		}
		call, err := extrinsic.DecodeEmitMessage(mem, u32(p[0]), u32(p[1]), u32(p[2]), u32(p[3]), u32(p[4]), u32(p[5]))
		if err != nil {
			return s.fault(outcome.Pid)
		}
		value, parked, events, err := s.core.EmitMessage(tid, call)
		if err != nil {
			return nil, err
		}
		if !parked {
			if err := s.engine.Thread(tid).Resume(value); err != nil {
				return nil, err
			}
		}
		return s.applyEvents(append(events, s.core.Drain()...))

	case extrinsic.TagEmitAnswer:
		if len(p) < 3 {
			return s.fault(outcome.Pid)
		}
		call, err := extrinsic.DecodeEmitAnswer(mem, u32(p[0]), u32(p[1]), u32(p[2]))
		if err != nil {
			return s.fault(outcome.Pid)
		}
		value, events, err := s.core.EmitAnswer(tid, call)
		if err != nil {
			return nil, err
		}
		if err := s.engine.Thread(tid).Resume(value); err != nil {
			return nil, err
		}
		return s.applyEvents(append(events, s.core.Drain()...))

	case extrinsic.TagEmitMessageError:
		if len(p) < 1 {
			return s.fault(outcome.Pid)
		}
		call, err := extrinsic.DecodeMessageID(mem, u32(p[0]))
		if err != nil {
			return s.fault(outcome.Pid)
		}
		value, events, err := s.core.EmitMessageError(tid, call)
		if err != nil {
			return nil, err
		}
		if err := s.engine.Thread(tid).Resume(value); err != nil {
			return nil, err
		}
		return s.applyEvents(append(events, s.core.Drain()...))

	case extrinsic.TagCancelMessage:
		if len(p) < 1 {
			return s.fault(outcome.Pid)
		}
		call, err := extrinsic.DecodeMessageID(mem, u32(p[0]))
		if err != nil {
			return s.fault(outcome.Pid)
		}
		value, err := s.core.CancelMessage(tid, call)
		if err != nil {
			return nil, err
		}
		if err := s.engine.Thread(tid).Resume(value); err != nil {
			return nil, err
		}
		return s.applyEvents(s.core.Drain())

	default:
		return nil, fmt.Errorf("system: unknown extrinsic tag %d", outcome.Tag)
	}
}

// fault terminates pid after a malformed extrinsic call (spec.md §7, kind
// 1: "the calling process is terminated with a trap").
func (s *System) fault(pid ipc.Pid) ([]ipc.Event, error) {
	if s.log != nil {
		s.log.Warnf("process %d: malformed extrinsic call, aborting", pid)
	}
	if err := s.engine.Abort(pid); err != nil {
		return nil, err
	}
	return nil, nil
}

func u32(v int64) uint32 { return uint32(v) }

// applyEvents carries out every ipc.Event the core produced: resuming a
// thread, dispatching a reserved-PID delivery to its native program, or
// just logging a process's death.
func (s *System) applyEvents(events []ipc.Event) ([]ipc.Event, error) {
	for _, ev := range events {
		switch e := ev.(type) {
		case ipc.ResumeThread:
			if err := s.engine.Thread(e.Tid).Resume(e.Value); err != nil {
				return events, err
			}
		case ipc.ReservedPidDelivery:
			if err := s.dispatchReserved(e); err != nil {
				return events, err
			}
		case ipc.ProcessFinished:
			if s.log != nil {
				s.log.Debugf("process %d cleanup: %d interfaces unregistered, %d messages cancelled",
					e.Pid, len(e.UnregisteredInterfaces), len(e.CancelledMessages))
			}
		}
	}
	return events, nil
}

// dispatchReserved routes a message addressed to a reserved Pid to its
// native program and applies whatever events that produces in turn.
func (s *System) dispatchReserved(e ipc.ReservedPidDelivery) error {
	var events []ipc.Event

	switch e.HandlerPid {
	case PidInterface:
		im, ok := e.Message.(ipc.InterfaceMessage)
		if !ok {
			return nil
		}
		events = s.interfaceRegistry.Handle(s.core, PidInterface, im.Emitter, im.MessageID, im.Payload)

	case PidThreads:
		im, ok := e.Message.(ipc.InterfaceMessage)
		if !ok {
			return nil
		}
		events = s.threadsProgram.Handle(s.core, PidThreads, im.Emitter, im.MessageID, im.Payload)

	case PidLoader:
		s.loaderFacade.Deliver(e.Message)
		events = s.loaderFacade.Drive(s.core)

	case pidSelfTest:
		if s.selfTest == nil {
			return nil
		}
		s.selfTest.Deliver(e.Message)
		events = s.selfTest.Drive(s.core)

	default:
		return nil
	}

	_, err := s.applyEvents(events)
	return err
}
