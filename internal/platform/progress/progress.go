// Package progress renders segment download progress as terminal bars.
package progress

import (
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"stream-acquirer/internal/segments"
)

// Bars draws one bar per download attempt. A new bar starts whenever the
// total changes, e.g. when the acquirer moves to the next candidate.
type Bars struct {
	mu    sync.Mutex
	p     *mpb.Progress
	bar   *mpb.Bar
	total int
	name  string
}

// New returns Bars writing to w. A nil w disables rendering.
func New(w io.Writer) *Bars {
	opts := []mpb.ContainerOption{mpb.WithWidth(48)}
	if w == nil {
		opts = append(opts, mpb.WithOutput(nil))
	} else {
		opts = append(opts, mpb.WithOutput(w))
	}
	return &Bars{p: mpb.New(opts...)}
}

// SetName labels the next bar, typically with the candidate URL.
func (b *Bars) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
}

// Update implements the engine's progress callback.
func (b *Bars) Update(p segments.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil || b.total != p.Total {
		b.abortLocked()
		b.total = p.Total
		b.bar = b.p.AddBar(int64(p.Total),
			mpb.PrependDecorators(
				decor.Name(left(b.name, 32), decor.WC{W: 33, C: decor.DindentRight}),
				decor.CountersNoUnit("%d/%d", decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WCSyncSpace),
				decor.Name(" "),
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
			),
		)
	}
	done := int64(p.Completed + p.Failed)
	b.bar.SetCurrent(done)
	if p.Done() {
		b.bar.SetTotal(int64(p.Total), true)
		b.bar = nil
	}
}

// Wait flushes the bars. Call it once, after the last Update.
func (b *Bars) Wait() {
	b.mu.Lock()
	b.abortLocked()
	b.mu.Unlock()
	b.p.Wait()
}

func (b *Bars) abortLocked() {
	if b.bar != nil {
		b.bar.Abort(false)
		b.bar = nil
	}
}

func left(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n+1:])
}
