package runcmd

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	cfgpkg "github.com/ArgLab/lo-event/internal/config"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.QueueType = "memory"
	cfg.UseDisabler = false
	cfg.SendRuntimeInfo = false
	cfg.Debug.Dest = "null"
	return cfg
}

func TestRunForwardsInput(t *testing.T) {
	out := &lockedBuffer{}
	input := strings.Join([]string{
		`{"event":"page_view","url":"/home"}`,
		`not valid json`,
		`{"event":"click","target":"save"}`,
	}, "\n")

	err := Run(context.Background(), Options{
		Config:  testConfig(),
		Source:  "testapp",
		Version: "0.1",
		Input:   strings.NewReader(input),
		Output:  out,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{`"page_view"`, `"click"`, `"raw"`, `not valid json`} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %s:\n%s", want, got)
		}
	}
}

func TestRunFilterDropsEvents(t *testing.T) {
	out := &lockedBuffer{}
	input := `{"event":"keep"}` + "\n" + `{"event":"discard"}` + "\n"

	err := Run(context.Background(), Options{
		Config:  testConfig(),
		Source:  "testapp",
		Version: "0.1",
		Filter:  `event == "keep"`,
		Input:   strings.NewReader(input),
		Output:  out,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, `"keep"`) {
		t.Fatalf("filtered output missing kept event:\n%s", got)
	}
	if strings.Contains(got, `"discard"`) {
		t.Fatalf("filter leaked a dropped event:\n%s", got)
	}
}

func TestRunBadFilterFails(t *testing.T) {
	err := Run(context.Background(), Options{
		Config:  testConfig(),
		Source:  "testapp",
		Version: "0.1",
		Filter:  `event ==`,
		Input:   strings.NewReader(""),
		Output:  &lockedBuffer{},
	})
	if err == nil {
		t.Fatalf("expected compile error for bad filter")
	}
}
