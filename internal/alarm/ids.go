package alarm

// Timer ids are derived from prayer ids so a reschedule can cancel timers it
// no longer remembers arming.
const (
	MidnightID = 999
	idBase     = 1000
)

func EnableID(prayerID int) int  { return idBase + 2*prayerID }
func DisableID(prayerID int) int { return idBase + 2*prayerID + 1 }

// PrayerIDOf maps a transition timer id back to its prayer id.
func PrayerIDOf(timerID int) (int, bool) {
	if timerID < idBase {
		return 0, false
	}
	return (timerID - idBase) / 2, true
}
