package notify

import (
	"fmt"
	"os/exec"
	"strings"
)

// OSAScript posts macOS notifications through osascript.
type OSAScript struct{}

func (OSAScript) IsSupported() bool {
	_, err := exec.LookPath("osascript")
	return err == nil
}

// Send posts a notification with the default sound.
func (OSAScript) Send(title, message string) error {
	script := fmt.Sprintf(
		`display notification "%s" with title "%s" sound name "default"`,
		escapeAppleScript(message), escapeAppleScript(title),
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
