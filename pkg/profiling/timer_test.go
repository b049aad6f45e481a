package profiling

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDisabledProfilerRecordsNothing(t *testing.T) {
	p := &Profiler{}
	p.Start("x").Stop()

	var buf bytes.Buffer
	p.Summarize(&buf)
	assert.Empty(t, buf.String())
}

func TestSummarizeOrdersBySlowest(t *testing.T) {
	p := &Profiler{}
	p.Enable()

	fast := p.Start("fast")
	fast.Stop()
	slow := p.Start("slow")
	time.Sleep(5 * time.Millisecond)
	slow.Stop()
	slow.Stop() // second Stop is ignored

	var buf bytes.Buffer
	p.Summarize(&buf)
	out := buf.String()

	assert.Contains(t, out, "- slow:")
	assert.Contains(t, out, "1 calls")
	assert.NotContains(t, out, "2 calls")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("- slow:")), bytes.Index(buf.Bytes(), []byte("- fast:")))
}
