// Package gpusim executes ring commands on the host. It stands in for the
// GPU command streamer so the ring protocol can run end to end without
// hardware.
package gpusim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/dispatcher"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrAlreadyRunning = errors.New("command streamer already started")
	ErrNotStarted     = errors.New("command streamer not started")
)

// Resolver maps a GPU address to the CPU view of memory starting there.
type Resolver interface {
	Resolve(gpuAddress uint64) ([]byte, error)
}

// CommandStreamer runs one command stream in its own goroutine until it
// reaches a batch buffer end, faults or is stopped.
type CommandStreamer struct {
	resolver Resolver
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error

	executed atomic.Uint64
	waits    atomic.Uint64
}

func NewCommandStreamer(resolver Resolver, logger *zap.Logger) *CommandStreamer {
	return &CommandStreamer{
		resolver: resolver,
		logger:   logger.Named("command_streamer"),
		done:     make(chan struct{}),
	}
}

// Start begins execution at gpuAddress. A streamer runs at most once.
func (s *CommandStreamer) Start(ctx context.Context, gpuAddress uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyRunning
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Debug("command streamer started", zap.String("gpuAddress", fmt.Sprintf("0x%x", gpuAddress)))
	go func() {
		err := s.run(ctx, gpuAddress)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("command streamer faulted", zap.Error(err))
		} else {
			s.logger.Debug("command streamer finished", zap.Uint64("executed", s.executed.Load()))
		}
		close(s.done)
	}()
	return nil
}

// Started reports whether Start was called.
func (s *CommandStreamer) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Done is closed once execution ends.
func (s *CommandStreamer) Done() <-chan struct{} {
	return s.done
}

// Err returns why execution ended. It is nil after a batch buffer end.
func (s *CommandStreamer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until execution ends or ctx is done.
func (s *CommandStreamer) Wait(ctx context.Context) error {
	if !s.Started() {
		return ErrNotStarted
	}
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels execution and waits for the goroutine to exit.
func (s *CommandStreamer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

// ExecutedCommands returns the number of commands executed so far.
func (s *CommandStreamer) ExecutedCommands() uint64 {
	return s.executed.Load()
}

// SemaphoreWaits returns the number of semaphore waits passed so far.
func (s *CommandStreamer) SemaphoreWaits() uint64 {
	return s.waits.Load()
}

func (s *CommandStreamer) run(ctx context.Context, gpuAddress uint64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		cmd, err := s.resolver.Resolve(gpuAddress)
		if err != nil {
			return err
		}
		if len(cmd) < dispatcher.DwordSize {
			return fmt.Errorf("command at %#x crosses the end of its allocation", gpuAddress)
		}
		op, length := dispatcher.DecodeHeader(binary.LittleEndian.Uint32(cmd))
		size := length * dispatcher.DwordSize
		if len(cmd) < size {
			return fmt.Errorf("%s at %#x crosses the end of its allocation", op, gpuAddress)
		}
		cmd = cmd[:size]
		s.executed.Add(1)

		next := gpuAddress + uint64(size)
		switch op {
		case dispatcher.OpNoop, dispatcher.OpLoadRegisterImm:
		case dispatcher.OpBatchBufferEnd:
			return nil
		case dispatcher.OpBatchBufferStart:
			next = dispatcher.DecodeBatchBufferStart(cmd)
		case dispatcher.OpSemaphoreWait:
			if err := s.semaphoreWait(ctx, cmd); err != nil {
				return err
			}
		case dispatcher.OpStoreDataImm:
			address, value := dispatcher.DecodeStoreDataImm(cmd)
			if err := s.store32(address, value); err != nil {
				return err
			}
		case dispatcher.OpPipeControl, dispatcher.OpFlushDw:
			write, address, data := dispatcher.DecodePostSync(op, cmd)
			if write {
				if err := s.store64(address, data); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: header %#08x at %#x", ErrUnknownCommand, binary.LittleEndian.Uint32(cmd), gpuAddress)
		}
		gpuAddress = next
	}
}

func (s *CommandStreamer) semaphoreWait(ctx context.Context, cmd []byte) error {
	compare, address, value := dispatcher.DecodeSemaphoreWait(cmd)
	if compare != dispatcher.CompareGreaterOrEqual {
		return fmt.Errorf("%w: semaphore compare operation %d", ErrUnknownCommand, compare)
	}
	word, err := s.word32(address)
	if err != nil {
		return err
	}
	for atomic.LoadUint32(word) < value {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	s.waits.Add(1)
	return nil
}

func (s *CommandStreamer) word32(gpuAddress uint64) (*uint32, error) {
	mem, err := s.resolver.Resolve(gpuAddress)
	if err != nil {
		return nil, err
	}
	if len(mem) < 4 || uintptr(unsafe.Pointer(&mem[0]))%4 != 0 {
		return nil, fmt.Errorf("unaligned dword access at %#x", gpuAddress)
	}
	return (*uint32)(unsafe.Pointer(&mem[0])), nil
}

func (s *CommandStreamer) store32(gpuAddress uint64, value uint32) error {
	word, err := s.word32(gpuAddress)
	if err != nil {
		return err
	}
	atomic.StoreUint32(word, value)
	return nil
}

func (s *CommandStreamer) store64(gpuAddress uint64, value uint64) error {
	mem, err := s.resolver.Resolve(gpuAddress)
	if err != nil {
		return err
	}
	if len(mem) < 8 || uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return fmt.Errorf("unaligned qword access at %#x", gpuAddress)
	}
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&mem[0])), value)
	return nil
}
