package logsink

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushDrainOrder(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.Logf("a", SeverityService, "line %d", i)
	}
	assert.Equal(t, 5, s.Len())

	first := s.Drain(2)
	require.Len(t, first, 2)
	assert.Equal(t, "line 0", first[0].Text)
	assert.Equal(t, "line 1", first[1].Text)
	assert.False(t, first[0].Time.IsZero())

	rest := s.Drain(0)
	require.Len(t, rest, 3)
	assert.Equal(t, "line 4", rest[2].Text)
	assert.Nil(t, s.Drain(0))
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	s := New(WithMaxBuffered(0))
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			tag := fmt.Sprintf("p%d", p)
			for i := 0; i < perProducer; i++ {
				s.Logf(tag, SeverityService, "%d", i)
			}
		}(p)
	}
	wg.Wait()

	next := map[string]int{}
	lines := s.Drain(0)
	require.Len(t, lines, producers*perProducer)
	for _, l := range lines {
		assert.Equal(t, fmt.Sprintf("%d", next[l.Tag]), l.Text, "tag %s out of order", l.Tag)
		next[l.Tag]++
	}
}

func TestBoundedDropsOldest(t *testing.T) {
	s := New(WithMaxBuffered(3))
	for i := 0; i < 5; i++ {
		s.Logf("a", SeverityInfo, "%d", i)
	}
	lines := s.Drain(0)
	require.Len(t, lines, 3)
	assert.Equal(t, "2", lines[0].Text)
	assert.Equal(t, uint64(2), s.Dropped())
}

func TestMirrorReceivesRenderedLines(t *testing.T) {
	var buf bytes.Buffer
	s := New(WithMirror(&buf))
	ts := time.Date(2024, 1, 2, 13, 4, 5, 0, time.Local)
	s.Push(Line{Time: ts, Tag: "backend", Severity: SeveritySystem, Text: "started"})
	assert.Equal(t, "[13:04:05] [backend] started\n", buf.String())
}

func TestRunDeliversUntilClose(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), func(l Line) {
			mu.Lock()
			got = append(got, l.Text)
			mu.Unlock()
		})
	}()

	s.Logf("a", SeverityInfo, "one")
	s.Logf("a", SeverityInfo, "two")
	s.Close()
	s.Logf("a", SeverityInfo, "ignored")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, "one,two", strings.Join(got, ","))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, func(Line) {}) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
