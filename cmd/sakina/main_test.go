package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/sakina/internal/config"
	"github.com/msageha/sakina/internal/model"
)

const cliConfig = `dnd:
  backend: memory
notifications:
  enabled: false
alarm:
  backend: file
`

// executeCommand runs a fresh root command against home and returns its
// stdout.
func executeCommand(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvDNDBackend, "memory")
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--home", home}, args...))
	err := root.Execute()
	return out.String(), err
}

// newHome writes a config and one prayer two hours from now.
func newHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	at := time.Now().Add(2 * time.Hour).Format("15:04")
	prayers := fmt.Sprintf(`is_globally_active: true
prayers:
  - id: 1
    name: Fajr
    scheduled_time: "%s"
    duration_minutes: 1
    is_enabled: true
`, at)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(cliConfig), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(home, "prayers.yaml"), []byte(prayers), 0o600))
	return home
}

func TestVersion(t *testing.T) {
	out, err := executeCommand(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, "sakina dev\n", out)
}

func TestSetup_WritesTemplates(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	out, err := executeCommand(t, home, "setup")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")
	assert.FileExists(t, filepath.Join(home, "prayers.yaml"))

	out, err = executeCommand(t, home, "setup")
	require.NoError(t, err)
	assert.Contains(t, out, "kept")
}

func TestReschedule_ArmsDurableLayerWithoutDaemon(t *testing.T) {
	home := newHome(t)

	out, err := executeCommand(t, home, "reschedule")
	require.NoError(t, err)
	assert.Contains(t, out, "Rescheduled 1 prayers, 3 timers armed")

	out, err = executeCommand(t, home, "alarm", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ENABLE")
	assert.Contains(t, out, "DISABLE")
	assert.Contains(t, out, "RESCHEDULE")

	out, err = executeCommand(t, home, "alarm", "list", "--json")
	require.NoError(t, err)
	var timers []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &timers))
	assert.Len(t, timers, 3)
}

func TestReschedule_MissingPrayersFile(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(cliConfig), 0o600))
	_, err := executeCommand(t, home, "reschedule")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sakina setup")
}

func TestBoot_FallsBackToPrayersFile(t *testing.T) {
	home := newHome(t)
	out, err := executeCommand(t, home, "boot")
	require.NoError(t, err)
	assert.Contains(t, out, "3 timers armed")

	// Second boot re-arms from the stored snapshot.
	out, err = executeCommand(t, home, "boot")
	require.NoError(t, err)
	assert.Contains(t, out, "3 timers armed")
}

func TestToggle_OffCancelsTimersAndPersists(t *testing.T) {
	home := newHome(t)
	_, err := executeCommand(t, home, "reschedule")
	require.NoError(t, err)

	out, err := executeCommand(t, home, "toggle", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "Scheduling paused")

	set, _, err := config.LoadPrayers(home)
	require.NoError(t, err)
	assert.False(t, set.IsGloballyActive)
	assert.Len(t, set.Prayers, 1)

	out, err = executeCommand(t, home, "alarm", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No timers registered")

	out, err = executeCommand(t, home, "toggle", "on")
	require.NoError(t, err)
	assert.Contains(t, out, "3 timers armed")
}

func TestToggle_RejectsUnknownArg(t *testing.T) {
	_, err := executeCommand(t, newHome(t), "toggle", "maybe")
	assert.Error(t, err)
}

func TestToggle_OffEndsActiveSilence(t *testing.T) {
	home := newHome(t)
	_, err := executeCommand(t, home, "reschedule")
	require.NoError(t, err)
	_, err = executeCommand(t, home, "alarm", "fire", "--id", "1002", "--action", "ENABLE",
		"--prayer-id", "1", "--prayer-name", "Fajr", "--duration", "20")
	require.NoError(t, err)

	out, err := executeCommand(t, home, "toggle", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "Notifications restored (Fajr ended early)")

	out, err = executeCommand(t, home, "sessions", "pending")
	require.NoError(t, err)
	var pending []model.Session
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, model.SessionInterrupted, pending[0].Status)
}

func TestAlarmFire_DisableRecordsSessionAndReschedules(t *testing.T) {
	home := newHome(t)
	_, err := executeCommand(t, home, "reschedule")
	require.NoError(t, err)

	_, err = executeCommand(t, home, "alarm", "fire", "--id", "1003", "--action", "DISABLE",
		"--prayer-id", "1", "--prayer-name", "Fajr", "--duration", "1")
	require.NoError(t, err)

	out, err := executeCommand(t, home, "sessions", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, `"prayerName":"Fajr"`)

	out, err = executeCommand(t, home, "sessions", "drain")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 sessions")

	out, err = executeCommand(t, home, "sessions", "pending")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))

	out, err = executeCommand(t, home, "sessions", "history", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Fajr")
	assert.Contains(t, out, "layer2")
}

func TestAlarmFire_RejectsBadAction(t *testing.T) {
	_, err := executeCommand(t, newHome(t), "alarm", "fire", "--id", "1002", "--action", "SNOOZE")
	assert.Error(t, err)

	_, err = executeCommand(t, newHome(t), "alarm", "fire", "--action", "ENABLE")
	assert.Error(t, err, "--id is required")
}

func TestSessionsClear(t *testing.T) {
	home := newHome(t)
	_, err := executeCommand(t, home, "alarm", "fire", "--id", "1003", "--action", "DISABLE",
		"--prayer-id", "1", "--prayer-name", "Fajr", "--duration", "1")
	require.NoError(t, err)

	out, err := executeCommand(t, home, "sessions", "clear")
	require.NoError(t, err)
	assert.Equal(t, "Cleared 1 pending sessions\n", out)
}

func TestPrayersList(t *testing.T) {
	home := newHome(t)
	out, err := executeCommand(t, home, "prayers", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Fajr")
	assert.Contains(t, out, "every day")
	assert.Contains(t, out, "in 1h")

	out, err = executeCommand(t, home, "prayers", "list", "--stored")
	require.NoError(t, err)
	assert.NotContains(t, out, "Fajr", "nothing stored before the first reschedule")
}

func TestPermissionAndPower(t *testing.T) {
	home := newHome(t)
	out, err := executeCommand(t, home, "permission", "status")
	require.NoError(t, err)
	assert.Equal(t, "permission: granted\n", out)

	out, err = executeCommand(t, home, "power", "request")
	require.NoError(t, err)
	assert.Equal(t, "power: granted\n", out)
}

func TestStatus_JSON(t *testing.T) {
	home := newHome(t)
	_, err := executeCommand(t, home, "reschedule")
	require.NoError(t, err)

	out, err := executeCommand(t, home, "status", "--json")
	require.NoError(t, err)
	var r map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, true, r["globally_active"])
	assert.Equal(t, "file", r["timer_backend"])
}
