package main

import (
	"testing"
	"time"
)

func TestHoursToDurationZeroMeansNeverExpire(t *testing.T) {
	if got := hoursToDuration(0); got != 0 {
		t.Fatalf("expected 0 duration for 0 hours, got %v", got)
	}
	if got := hoursToDuration(-1); got != 0 {
		t.Fatalf("expected 0 duration for negative hours, got %v", got)
	}
}

func TestHoursToDurationConvertsFractionalHours(t *testing.T) {
	got := hoursToDuration(0.5)
	want := 30 * time.Minute
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}
