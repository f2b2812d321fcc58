package netclient

import (
	"fmt"
	"io"
	"math"
)

// ProgressEvent reports how much of a download has arrived.
type ProgressEvent struct {
	FractionCompleted float64
	Description       string
	BytesReceived     int64
	// TotalBytes is -1 when the server did not announce a length.
	TotalBytes int64
}

// progressReader reports progress as the body is consumed. Fractions never decrease
// and stay below 1 until finish is called.
type progressReader struct {
	r        io.Reader
	total    int64
	received int64
	last     float64
	emitted  bool
	onUpdate func(ProgressEvent)
}

func newProgressReader(r io.Reader, total int64, onUpdate func(ProgressEvent)) *progressReader {
	if total <= 0 {
		total = -1
	}
	return &progressReader{r: r, total: total, onUpdate: onUpdate}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.received += int64(n)
		p.report(p.fraction())
	}
	return n, err
}

func (p *progressReader) fraction() float64 {
	if p.total <= 0 {
		return 0
	}
	f := float64(p.received) / float64(p.total)
	// Servers that under-announce the length must not reach 1 before the body ends.
	return math.Min(f, math.Nextafter(1, 0))
}

func (p *progressReader) report(f float64) {
	if p.onUpdate == nil {
		return
	}
	if f < p.last {
		f = p.last
	}
	if p.emitted && f == p.last && f != 0 {
		return
	}
	p.last = f
	p.emitted = true
	p.onUpdate(ProgressEvent{
		FractionCompleted: f,
		Description:       describe(f),
		BytesReceived:     p.received,
		TotalBytes:        p.total,
	})
}

// finish emits the terminal 1.0 event once the whole body has been read.
func (p *progressReader) finish() {
	if p.onUpdate == nil || (p.emitted && p.last == 1) {
		return
	}
	p.last = 1
	p.emitted = true
	p.onUpdate(ProgressEvent{
		FractionCompleted: 1,
		Description:       describe(1),
		BytesReceived:     p.received,
		TotalBytes:        p.total,
	})
}

func describe(f float64) string {
	return fmt.Sprintf("%d%% completed", int(math.Floor(f*100)))
}
