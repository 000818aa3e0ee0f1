// Package browser opens the authorization start page in the user's default browser.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

var linuxOpeners = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// OpenURL opens url with open-golang and falls back to a platform command.
func OpenURL(url string) error {
	err := open.Run(url)
	if err == nil {
		return nil
	}
	log.Debugf("browser: open-golang failed: %v", err)

	cmd, err := platformCommand(url)
	if err != nil {
		return err
	}
	if err = cmd.Start(); err != nil {
		return fmt.Errorf("browser: start %s: %w", cmd.Path, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// IsAvailable reports whether a platform opener exists.
func IsAvailable() bool {
	_, err := platformCommand("about:blank")
	return err == nil
}

func platformCommand(url string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url), nil
	case "linux", "freebsd", "openbsd":
		for _, name := range linuxOpeners {
			if path, err := exec.LookPath(name); err == nil {
				return exec.Command(path, url), nil
			}
		}
		return nil, fmt.Errorf("browser: no opener found (tried %v)", linuxOpeners)
	default:
		return nil, fmt.Errorf("browser: unsupported platform %s", runtime.GOOS)
	}
}
