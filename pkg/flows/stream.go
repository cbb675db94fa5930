package flows

import (
	"context"

	"github.com/google/gopacket"
)

// Stream feeds packets to the tracker and emits completed flows. When the
// packet channel closes, the connections still open are flushed. The output
// channel closes once the input is drained or ctx is done.
func (t *Tracker) Stream(ctx context.Context, packets <-chan gopacket.Packet) <-chan Flow {
	out := make(chan Flow, 100)

	go func() {
		defer close(out)

		emit := func(fs []Flow) bool {
			for _, f := range fs {
				select {
				case out <- f:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-packets:
				if !ok {
					emit(t.Flush())
					return
				}
				if !emit(t.Add(pkt)) {
					return
				}
			}
		}
	}()

	return out
}
