// Package pcap turns PCAP files and live interfaces into connection records.
package pcap

import (
	"context"
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/hed1ad/nidsguard/pkg/features"
	"github.com/hed1ad/nidsguard/pkg/flows"
	nidsio "github.com/hed1ad/nidsguard/pkg/io"
)

// Reader assembles packets from a PCAP handle into connection records.
type Reader struct {
	handle  *pcap.Handle
	tracker *flows.Tracker
	isLive  bool
}

var _ nidsio.Reader = (*Reader)(nil)

// NewFileReader creates a reader for PCAP files.
func NewFileReader(filename string, opts ...flows.Option) (*Reader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, err
	}

	return &Reader{
		handle:  handle,
		tracker: flows.NewTracker(opts...),
		isLive:  false,
	}, nil
}

// NewLiveReader creates a reader for live packet capture.
func NewLiveReader(iface string, snaplen int32, promisc bool, timeout time.Duration, opts ...flows.Option) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, timeout)
	if err != nil {
		return nil, err
	}

	return &Reader{
		handle:  handle,
		tracker: flows.NewTracker(opts...),
		isLive:  true,
	}, nil
}

// SetFilter applies a BPF filter expression to the capture.
func (r *Reader) SetFilter(expr string) error {
	if r.handle == nil {
		return errors.New("reader not initialized")
	}
	return r.handle.SetBPFFilter(expr)
}

// IsLive reports whether the reader captures from an interface.
func (r *Reader) IsLive() bool {
	return r.isLive
}

// Flows returns completed connections as they are assembled.
func (r *Reader) Flows(ctx context.Context) (<-chan flows.Flow, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	return r.tracker.Stream(ctx, packetSource.Packets()), nil
}

// Read returns every connection in the capture as an unlabeled record.
// On a live interface it blocks until the handle is closed.
func (r *Reader) Read() ([]features.LabeledRecord, error) {
	ch, err := r.Flows(context.Background())
	if err != nil {
		return nil, err
	}

	var data []features.LabeledRecord
	for f := range ch {
		data = append(data, features.LabeledRecord{Record: f.Record})
	}
	return data, nil
}

// Stream returns a channel of unlabeled records for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan features.LabeledRecord, error) {
	ch, err := r.Flows(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan features.LabeledRecord, 100)
	go func() {
		defer close(out)
		for f := range ch {
			select {
			case out <- features.LabeledRecord{Record: f.Record}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.handle != nil {
		r.handle.Close()
	}
	return nil
}
