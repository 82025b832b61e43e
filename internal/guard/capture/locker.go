package capture

import (
	"context"
	"fmt"
	"os/exec"
)

// Locker locks the host session after a lockout.
type Locker interface {
	Lock(ctx context.Context) error
}

// CommandLocker runs an external command such as "loginctl lock-session".
// An empty command does nothing.
type CommandLocker struct {
	Command []string
}

func (l CommandLocker) Lock(ctx context.Context) error {
	if len(l.Command) == 0 {
		return nil
	}
	out, err := exec.CommandContext(ctx, l.Command[0], l.Command[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("lock command %q failed: %w: %s", l.Command[0], err, out)
	}
	return nil
}
