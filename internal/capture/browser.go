package capture

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Opener hands a URL to an external agent, usually the user's browser. It
// must not block until the agent is done with the URL.
type Opener func(url string) error

// browserLauncher starts the command; tests replace it.
var browserLauncher = func(cmd *exec.Cmd) error {
	return cmd.Start()
}

// browserCommand returns the command that opens url on goos.
func browserCommand(goos, url string) (*exec.Cmd, error) {
	switch goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		return exec.Command("xdg-open", url), nil
	case "darwin":
		return exec.Command("open", url), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", goos)
	}
}

// OpenBrowser opens url in the default web browser without waiting for it.
func OpenBrowser(url string) error {
	cmd, err := browserCommand(runtime.GOOS, url)
	if err != nil {
		return err
	}
	if err := browserLauncher(cmd); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
