package thread

import (
	"errors"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/protocol/abi"
)

func (t *State) getAndExecuteCommand() error {
	if err := t.talkWithDriver(true); err != nil {
		return err
	}
	if t.in.DataAvail() == 0 {
		return nil
	}
	cmd, payload, err := t.nextCommand()
	if err != nil {
		return err
	}
	return t.executeCommand(cmd, payload)
}

// SetupPolling enters looper mode for a caller that waits on the driver fd
// itself. It returns the fd to poll.
func (t *State) SetupPolling() (int, error) {
	t.isLooper = true
	t.writeCommand(abi.BCEnterLooper, nil)
	if err := t.FlushCommands(); err != nil {
		return -1, err
	}
	return t.drv.FD(), nil
}

// HandlePolledCommands drains the commands available after the polled fd
// became readable.
func (t *State) HandlePolledCommands() error {
	for {
		if err := t.getAndExecuteCommand(); err != nil {
			return err
		}
		if t.in.DataAvail() == 0 {
			break
		}
	}
	t.processPendingDerefs()
	return t.FlushCommands()
}

// JoinLooper serves inbound transactions on this thread until the driver
// connection fails. A non-main looper also returns when the driver retires
// it with BR_FINISHED.
func (t *State) JoinLooper(isMain bool) error {
	t.isLooper = true
	if isMain {
		t.writeCommand(abi.BCEnterLooper, nil)
	} else {
		t.writeCommand(abi.BCRegisterLooper, nil)
	}
	t.log.Debug().Bool("main", isMain).Msg("looper joined")

	var result error
	for {
		t.processPendingDerefs()
		err := t.getAndExecuteCommand()
		if err == nil {
			continue
		}
		if errors.Is(err, binder.TimedOut) {
			if !isMain {
				break
			}
			continue
		}
		if errors.Is(err, ErrDriverIO) || errors.Is(err, binder.BadFd) {
			result = err
			break
		}
		t.log.Error().Err(err).Msg("looper command failed")
	}

	t.writeCommand(abi.BCExitLooper, nil)
	t.isLooper = false
	if err := t.talkWithDriver(false); err != nil && result == nil {
		result = err
	}
	t.log.Debug().Err(result).Msg("looper exited")
	return result
}
