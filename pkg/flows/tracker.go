// Package flows reassembles decoded packets into connections and derives
// NSL-KDD style connection records from them.
//
// Basic features (duration, protocol, service, flag, byte counts, land,
// fragments, urgent packets) come from each connection's packets. Traffic
// features come from previously completed connections: every connection in a
// two second window keyed by destination host and service, and the last 100
// connections keyed by destination host. Content features (hot indicators, login attempts,
// shells, ...) require payload inspection and stay zero.
package flows

import (
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/hed1ad/nidsguard/pkg/features"
)

// KDD connection flags.
const (
	FlagSF   = "SF"
	FlagS0   = "S0"
	FlagS1   = "S1"
	FlagSH   = "SH"
	FlagREJ  = "REJ"
	FlagRSTO = "RSTO"
	FlagRSTR = "RSTR"
	FlagOTH  = "OTH"
)

// Key identifies a connection from the originator's point of view.
type Key struct {
	Protocol string
	SrcIP    string
	SrcPort  uint16
	DstIP    string
	DstPort  uint16
}

func (k Key) reverse() Key {
	return Key{Protocol: k.Protocol, SrcIP: k.DstIP, SrcPort: k.DstPort, DstIP: k.SrcIP, DstPort: k.SrcPort}
}

// String formats the key as "proto src:port -> dst:port".
func (k Key) String() string {
	return k.Protocol + " " + net.JoinHostPort(k.SrcIP, strconv.Itoa(int(k.SrcPort))) +
		" -> " + net.JoinHostPort(k.DstIP, strconv.Itoa(int(k.DstPort)))
}

// Flow is a completed connection and its derived record.
type Flow struct {
	Key    Key
	Start  time.Time
	End    time.Time
	Record features.Record
}

type conn struct {
	key        Key
	start      time.Time
	last       time.Time
	srcBytes   int
	dstBytes   int
	fragments  int
	urgent     int
	service    string
	origSYN    bool
	respSYNACK bool
	origFIN    bool
	respFIN    bool
	origRST    bool
	respRST    bool
}

// summary is what traffic features need from a completed connection.
type summary struct {
	start   time.Time
	dstIP   string
	srcPort uint16
	service string
	flag    string
}

// Tracker assembles connections. It is not safe for concurrent use.
type Tracker struct {
	idle        time.Duration
	window      time.Duration
	hostHistory int

	conns     map[Key]*conn
	history   []summary
	recent    []summary
	newest    time.Time
	lastSweep time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithIdleTimeout sets how long a connection may stay silent before it is
// considered complete.
func WithIdleTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		t.idle = d
	}
}

// WithWindow sets the time window of the traffic features.
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) {
		t.window = d
	}
}

// WithHostHistory sets how many past connections the host features consider.
func WithHostHistory(n int) Option {
	return func(t *Tracker) {
		t.hostHistory = n
	}
}

// NewTracker creates a Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		idle:        30 * time.Second,
		window:      2 * time.Second,
		hostHistory: 100,
		conns:       make(map[Key]*conn),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add feeds one packet and returns the connections it completed, including
// any that went idle. Packets without an IP and TCP, UDP or ICMPv4 layer
// are ignored.
func (t *Tracker) Add(pkt gopacket.Packet) []Flow {
	ts := time.Now()
	if md := pkt.Metadata(); md != nil && !md.Timestamp.IsZero() {
		ts = md.Timestamp
	}

	var done []Flow
	if ts.Sub(t.lastSweep) >= time.Second {
		done = t.expire(ts)
		t.lastSweep = ts
	}

	key, ok := packetKey(pkt)
	if !ok {
		return done
	}

	c, forward := t.conns[key], true
	if c == nil {
		if rc := t.conns[key.reverse()]; rc != nil {
			c, forward = rc, false
		}
	}
	if c == nil {
		c = &conn{key: key, start: ts, service: serviceName(key)}
		t.conns[key] = c
	}
	c.last = ts

	size := 0
	if app := pkt.ApplicationLayer(); app != nil {
		size = len(app.Payload())
	}
	if forward {
		c.srcBytes += size
	} else {
		c.dstBytes += size
	}

	if ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		if ip.FragOffset != 0 || ip.Flags&layers.IPv4MoreFragments != 0 {
			c.fragments++
		}
	}

	if tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		if tcp.URG {
			c.urgent++
		}
		switch {
		case forward:
			c.origSYN = c.origSYN || (tcp.SYN && !tcp.ACK)
			c.origFIN = c.origFIN || tcp.FIN
			c.origRST = c.origRST || tcp.RST
		default:
			c.respSYNACK = c.respSYNACK || (tcp.SYN && tcp.ACK)
			c.respFIN = c.respFIN || tcp.FIN
			c.respRST = c.respRST || tcp.RST
		}
		if c.origRST || c.respRST || (c.origFIN && c.respFIN) {
			delete(t.conns, c.key)
			done = append(done, t.complete(c))
		}
	}

	return done
}

// Flush completes every open connection.
func (t *Tracker) Flush() []Flow {
	open := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		open = append(open, c)
	}
	return t.completeAll(open)
}

// Open returns the number of connections in progress.
func (t *Tracker) Open() int {
	return len(t.conns)
}

func (t *Tracker) expire(now time.Time) []Flow {
	var idle []*conn
	for _, c := range t.conns {
		if now.Sub(c.last) >= t.idle {
			idle = append(idle, c)
		}
	}
	return t.completeAll(idle)
}

func (t *Tracker) completeAll(cs []*conn) []Flow {
	sort.Slice(cs, func(i, j int) bool { return cs[i].start.Before(cs[j].start) })
	out := make([]Flow, 0, len(cs))
	for _, c := range cs {
		delete(t.conns, c.key)
		out = append(out, t.complete(c))
	}
	return out
}

func (t *Tracker) complete(c *conn) Flow {
	r := features.Record{
		Duration:      c.last.Sub(c.start).Seconds(),
		ProtocolType:  c.key.Protocol,
		Service:       c.service,
		Flag:          c.flag(),
		SrcBytes:      float64(c.srcBytes),
		DstBytes:      float64(c.dstBytes),
		WrongFragment: float64(c.fragments),
		Urgent:        float64(c.urgent),
	}
	if c.key.SrcIP == c.key.DstIP && c.key.SrcPort == c.key.DstPort {
		r.Land = 1
	}

	cur := summary{start: c.start, dstIP: c.key.DstIP, srcPort: c.key.SrcPort, service: c.service, flag: r.Flag}
	t.trafficFeatures(&r, cur)

	t.history = append(t.history, cur)
	if len(t.history) > t.hostHistory {
		t.history = t.history[len(t.history)-t.hostHistory:]
	}
	t.remember(cur)

	return Flow{Key: c.key, Start: c.start, End: c.last, Record: r}
}

// trafficFeatures fills the time-window and host-window features. Both
// windows include the current connection.
func (t *Tracker) trafficFeatures(r *features.Record, cur summary) {
	var host, srv, hostSYN, srvSYN, hostREJ, srvREJ, hostSameSrv, srvDiffHost int
	count := func(s summary) {
		sameHost := s.dstIP == cur.dstIP
		sameSrv := s.service == cur.service
		if sameHost {
			host++
			if isSYNError(s.flag) {
				hostSYN++
			}
			if s.flag == FlagREJ {
				hostREJ++
			}
			if sameSrv {
				hostSameSrv++
			}
		}
		if sameSrv {
			srv++
			if isSYNError(s.flag) {
				srvSYN++
			}
			if s.flag == FlagREJ {
				srvREJ++
			}
			if !sameHost {
				srvDiffHost++
			}
		}
	}

	cutoff := cur.start.Add(-t.window)
	for _, s := range t.recent {
		if !s.start.Before(cutoff) {
			count(s)
		}
	}
	count(cur)

	r.Count = float64(host)
	r.SrvCount = float64(srv)
	r.SerrorRate = rate(hostSYN, host)
	r.SrvSerrorRate = rate(srvSYN, srv)
	r.RerrorRate = rate(hostREJ, host)
	r.SrvRerrorRate = rate(srvREJ, srv)
	r.SameSrvRate = rate(hostSameSrv, host)
	r.DiffSrvRate = 1 - r.SameSrvRate
	r.SrvDiffHostRate = rate(srvDiffHost, srv)

	var dHost, dSrv, dSameSrv, dSamePort, dSrvDiffHost, dHostSYN, dSrvSYN, dHostREJ, dSrvREJ int
	window := append(t.tail(t.hostHistory-1), cur)
	for _, s := range window {
		sameHost := s.dstIP == cur.dstIP
		sameSrv := s.service == cur.service
		if sameHost {
			dHost++
			if sameSrv {
				dSameSrv++
			}
			if s.srcPort == cur.srcPort {
				dSamePort++
			}
			if isSYNError(s.flag) {
				dHostSYN++
			}
			if s.flag == FlagREJ {
				dHostREJ++
			}
		}
		if sameSrv {
			dSrv++
			if !sameHost {
				dSrvDiffHost++
			}
			if isSYNError(s.flag) {
				dSrvSYN++
			}
			if s.flag == FlagREJ {
				dSrvREJ++
			}
		}
	}

	r.DstHostCount = float64(dHost)
	r.DstHostSrvCount = float64(dSrv)
	r.DstHostSameSrvRate = rate(dSameSrv, dHost)
	r.DstHostDiffSrvRate = 1 - r.DstHostSameSrvRate
	r.DstHostSameSrcPortRate = rate(dSamePort, dHost)
	r.DstHostSrvDiffHostRate = rate(dSrvDiffHost, dSrv)
	r.DstHostSerrorRate = rate(dHostSYN, dHost)
	r.DstHostSrvSerrorRate = rate(dSrvSYN, dSrv)
	r.DstHostRerrorRate = rate(dHostREJ, dHost)
	r.DstHostSrvRerrorRate = rate(dSrvREJ, dSrv)
}

// remember keeps cur for the time-window features and drops summaries that
// started more than one window before the newest connection. Connections
// complete out of start order, so the slice is filtered rather than cut.
func (t *Tracker) remember(cur summary) {
	if cur.start.After(t.newest) {
		t.newest = cur.start
	}
	cutoff := t.newest.Add(-t.window)
	kept := t.recent[:0]
	for _, s := range t.recent {
		if !s.start.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	t.recent = append(kept, cur)
}

func (t *Tracker) tail(n int) []summary {
	if n <= 0 {
		return nil
	}
	if len(t.history) <= n {
		return append([]summary(nil), t.history...)
	}
	return append([]summary(nil), t.history[len(t.history)-n:]...)
}

// flag maps the observed TCP handshake and teardown to a KDD flag.
func (c *conn) flag() string {
	if c.key.Protocol != "tcp" {
		return FlagSF
	}
	switch {
	case !c.origSYN:
		return FlagOTH
	case c.respRST && !c.respSYNACK:
		return FlagREJ
	case c.respSYNACK && c.origRST:
		return FlagRSTO
	case c.respSYNACK && c.respRST:
		return FlagRSTR
	case c.respSYNACK && (c.origFIN || c.respFIN):
		return FlagSF
	case c.respSYNACK:
		return FlagS1
	case c.origFIN:
		return FlagSH
	default:
		return FlagS0
	}
}

func isSYNError(flag string) bool {
	return flag == FlagS0 || flag == FlagS1 || flag == FlagSH
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

func packetKey(pkt gopacket.Packet) (Key, bool) {
	var k Key
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		k.SrcIP, k.DstIP = ip.SrcIP.String(), ip.DstIP.String()
	case *layers.IPv6:
		k.SrcIP, k.DstIP = ip.SrcIP.String(), ip.DstIP.String()
	default:
		return k, false
	}

	switch l := pkt.TransportLayer().(type) {
	case *layers.TCP:
		k.Protocol, k.SrcPort, k.DstPort = "tcp", uint16(l.SrcPort), uint16(l.DstPort)
		return k, true
	case *layers.UDP:
		k.Protocol, k.SrcPort, k.DstPort = "udp", uint16(l.SrcPort), uint16(l.DstPort)
		return k, true
	}

	if icmp, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
		k.Protocol = "icmp"
		k.SrcPort = uint16(icmp.TypeCode.Type())
		k.DstPort = uint16(icmp.TypeCode.Code())
		return k, true
	}
	return k, false
}
