// +build !windows

package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
)

// interrupt blocks until the process is told to stop or cancel is closed.
// SIGUSR1 requests a bitstream cleanup, SIGUSR2 logs the plugins.
func interrupt(cancel <-chan struct{}, cleanup, report func()) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	for {
		select {
		case sig := <-c:
			switch sig {
			case syscall.SIGUSR1:
				cleanup()
				continue
			case syscall.SIGUSR2:
				report()
				continue
			default:
				return fmt.Errorf("received signal %s", sig)
			}
		case <-cancel:
			return errors.New("canceled")
		}
	}
}
