package model

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"05:00", 300, false},
		{"13:15", 795, false},
		{" 23:59 ", 1439, false},
		{"24:00", 0, true},
		{"7:5", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClock(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	tests := map[int]string{
		0:    "00:00",
		795:  "13:15",
		1439: "23:59",
		1440: "00:00",
		1450: "00:10",
		-10:  "23:50",
	}
	for in, want := range tests {
		if got := FormatClock(in); got != want {
			t.Errorf("FormatClock(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{
		"Mon":      time.Monday,
		"monday":   time.Monday,
		"SUN":      time.Sunday,
		" fri ":    time.Friday,
		"Saturday": time.Saturday,
	} {
		got, err := ParseWeekday(in)
		if err != nil {
			t.Errorf("ParseWeekday(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseWeekday(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseWeekday("xyz"); err == nil {
		t.Error("expected error for unknown weekday")
	}
	if _, err := ParseWeekday("mo"); err == nil {
		t.Error("expected error for short weekday")
	}
}

func TestPrayer_ActiveOn(t *testing.T) {
	p := Prayer{Name: "Jumuah", ActiveDays: []string{"Fri"}}
	if !p.ActiveOn(time.Friday) {
		t.Error("expected active on Friday")
	}
	if p.ActiveOn(time.Thursday) {
		t.Error("expected inactive on Thursday")
	}

	all := Prayer{Name: "Isha"}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if !all.ActiveOn(wd) {
			t.Errorf("empty active_days should match %v", wd)
		}
	}
}

func TestPrayer_Validate(t *testing.T) {
	valid := Prayer{ID: 1, Name: "Fajr", ScheduledTime: "05:00", DurationMinutes: 15, IsEnabled: true}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid prayer rejected: %v", err)
	}

	cases := map[string]func(p *Prayer){
		"empty name":    func(p *Prayer) { p.Name = " " },
		"zero duration": func(p *Prayer) { p.DurationMinutes = 0 },
		"bad time":      func(p *Prayer) { p.ScheduledTime = "5am" },
		"bad weekday":   func(p *Prayer) { p.ActiveDays = []string{"Funday"} },
	}
	for name, mutate := range cases {
		p := valid
		mutate(&p)
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestClonePrayers_DeepCopy(t *testing.T) {
	orig := []Prayer{{ID: 1, Name: "Fajr", ActiveDays: []string{"Mon"}}}
	cp := ClonePrayers(orig)
	cp[0].Name = "changed"
	cp[0].ActiveDays[0] = "Tue"

	if orig[0].Name != "Fajr" || orig[0].ActiveDays[0] != "Mon" {
		t.Errorf("clone aliases the original: %+v", orig[0])
	}
	if ClonePrayers(nil) != nil {
		t.Error("ClonePrayers(nil) should be nil")
	}
}

func TestSchedulingState_CurrentSilence(t *testing.T) {
	var s SchedulingState
	if _, ok := s.Current(); ok {
		t.Fatal("zero state must have no current silence")
	}

	start := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	s.SetCurrent(CurrentSilence{Prayer: "Dhuhr", Start: start, DurationMinutes: 20})
	cs, ok := s.Current()
	if !ok {
		t.Fatal("expected current silence")
	}
	if cs.Prayer != "Dhuhr" || !cs.Start.Equal(start) || cs.DurationMinutes != 20 {
		t.Errorf("unexpected current silence: %+v", cs)
	}

	s.ClearCurrent()
	if _, ok := s.Current(); ok {
		t.Error("ClearCurrent left a record behind")
	}
}

func TestSession_Overlaps(t *testing.T) {
	base := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	a := Session{StartTime: base, EndTime: base.Add(20 * time.Minute)}
	b := Session{StartTime: base.Add(10 * time.Minute), EndTime: base.Add(30 * time.Minute)}
	c := Session{StartTime: base.Add(20 * time.Minute), EndTime: base.Add(40 * time.Minute)}

	if !a.Overlaps(b) || !b.Overlaps(a) {
		t.Error("a and b should overlap")
	}
	if a.Overlaps(c) {
		t.Error("touching sessions should not overlap")
	}
}

func TestParseTimerAction(t *testing.T) {
	for _, s := range []string{"ENABLE", "DISABLE", "RESCHEDULE", "REMIND_START", "REMIND_END"} {
		if _, err := ParseTimerAction(s); err != nil {
			t.Errorf("ParseTimerAction(%q): %v", s, err)
		}
	}
	if _, err := ParseTimerAction("enable"); err == nil {
		t.Error("expected lowercase action to be rejected")
	}
}
