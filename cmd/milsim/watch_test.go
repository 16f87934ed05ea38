package main

import (
	"strings"
	"testing"

	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/reconcile"
)

func TestFormatSeconds(t *testing.T) {
	tests := map[int]string{0: "0:00", 59: "0:59", 61: "1:01", 3600: "1:00:00", 3725: "1:02:05", -5: "0:00"}
	for in, want := range tests {
		if got := formatSeconds(in); got != want {
			t.Errorf("formatSeconds(%d) = %q, want %q", in, got, want)
		}
	}
	if got := formatRemaining(nil); got != "unlimited" {
		t.Errorf("formatRemaining(nil) = %q", got)
	}
}

func TestRender(t *testing.T) {
	red := "red"
	remaining := 90
	v := reconcile.View{
		Status:    domain.StatusRunning,
		Elapsed:   30,
		Remaining: &remaining,
		Holds: map[int64]reconcile.HoldView{
			2: {Team: &red, Seconds: 12},
			1: {},
		},
		Bombs:    map[int64]reconcile.BombView{2: {Remaining: 45, Total: 60, Active: true}},
		Contests: map[int64]map[string]int{1: {"blue": 3, "red": 1}},
	}

	var sb strings.Builder
	render(&sb, 7, v, true, "InvalidCode: invalid code")
	out := sb.String()

	for _, want := range []string{
		"Game 7  running  elapsed 0:30  remaining 1:30",
		"no update from server",
		"red        held 0:12  bomb ARMED 0:45",
		"contest blue=3 red=1",
		"last error: InvalidCode",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "CP 1") > strings.Index(out, "CP 2") {
		t.Errorf("control points not sorted:\n%s", out)
	}
}
