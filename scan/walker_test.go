package scan

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func TestExclusionMatcher(t *testing.T) {
	t.Run("directory names and globs", func(t *testing.T) {
		m := newExclusionMatcher([]string{".git", "node_modules", "*.tmp", "/srv/*/cache"}, nil)

		cases := []struct {
			name, path string
			want       bool
		}{
			{".git", "/repo/.git", true},
			{"node_modules", "/app/node_modules", true},
			{"build.tmp", "/app/build.tmp", true},
			{"cache", "/srv/web/cache", true},
			{"cache", "/home/web/cache", false},
			{"src", "/repo/src", false},
		}
		for _, c := range cases {
			if got := m.dir(c.name, c.path); got != c.want {
				t.Errorf("dir(%q, %q) = %v, want %v", c.name, c.path, got, c.want)
			}
		}
	})

	t.Run("extensions normalize dot and case", func(t *testing.T) {
		m := newExclusionMatcher(nil, []string{".TMP", "log"})

		if !m.file("debug.tmp") {
			t.Error("expected .tmp to be excluded")
		}
		if !m.file("server.LOG") {
			t.Error("expected .log to be excluded case-insensitively")
		}
		if m.file("data.txt") {
			t.Error(".txt must not be excluded")
		}
	})

	t.Run("no extension exclusions", func(t *testing.T) {
		m := newExclusionMatcher(nil, nil)
		if m.file("anything.bin") {
			t.Error("empty matcher must not exclude")
		}
	})
}

func TestProcessDirectoryListingFailure(t *testing.T) {
	var pending atomic.Int64
	pending.Add(1)

	results := make(chan resultMsg, 8)
	w := &walker{
		extractor:  NewExtractor("scan-err"),
		exclusions: newExclusionMatcher(nil, nil),
		queue:      make(chan string, 1),
		results:    results,
		pending:    &pending,
		tracker:    newProgress("scan-err", Config{}),
		log:        hclog.NewNullLogger(),
	}

	missing := filepath.Join(t.TempDir(), "does-not-exist")
	w.tracker.add(missing)
	w.processDirectory(context.Background(), missing)
	close(results)

	var records, markers int
	for msg := range results {
		if msg.doneDir != "" {
			markers++
			continue
		}
		records++
		if !msg.rec.IsError() {
			t.Errorf("expected error record, got %+v", msg.rec)
		}
		if msg.rec.Path != missing {
			t.Errorf("error record attributed to %s, want %s", msg.rec.Path, missing)
		}
	}
	// Exactly one synthetic record for the unreadable directory, and the
	// done marker still fires so the directory retires from the pending set.
	if records != 1 {
		t.Errorf("expected 1 record, got %d", records)
	}
	if markers != 1 {
		t.Errorf("expected 1 done marker, got %d", markers)
	}
	if pending.Load() != 0 {
		t.Errorf("expected pending 0, got %d", pending.Load())
	}
}
