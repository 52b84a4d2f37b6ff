package netlinkbridge

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// FPM frame header layout, grounded on original_source/fpmsyncd's use of
// libfpm's fpm_msg_hdr_t: a fixed version/type/length header followed by a
// raw netlink message payload (a route add/delete encoded exactly as the
// kernel would encode it, so the same RTM_* attribute parsing applies to
// both kernel-sourced and FPM-sourced routes).
const (
	fpmHeaderVersion1 = 1
	fpmMsgTypeNetlink = 1
	fpmHeaderLen      = 4 // version(1) + type(1) + length(2), big-endian
)

// RTM_F_OFFLOAD, carried unchanged from routesync.h: Debian buster's kernel
// headers omit it, so SONiC's fpmsyncd #defines it locally too.
const RTMFlagOffload = 0x4000

// FpmFrame is one framed message read from (or written to) the FPM Unix
// socket: a header plus an opaque netlink-message payload.
type FpmFrame struct {
	Version byte
	Type    byte
	Payload []byte
}

// FpmReader reads framed FPM messages off a stream connection to the
// routing daemon.
type FpmReader struct {
	r *bufio.Reader
}

// NewFpmReader wraps r for frame-at-a-time reads.
func NewFpmReader(r io.Reader) *FpmReader {
	return &FpmReader{r: bufio.NewReader(r)}
}

// ReadFrame reads the next frame, blocking until one is available or the
// underlying reader errors (including io.EOF on disconnect).
func (f *FpmReader) ReadFrame() (FpmFrame, error) {
	header := make([]byte, fpmHeaderLen)
	if _, err := io.ReadFull(f.r, header); err != nil {
		return FpmFrame{}, err
	}
	version := header[0]
	typ := header[1]
	length := binary.BigEndian.Uint16(header[2:4])
	if int(length) < fpmHeaderLen {
		return FpmFrame{}, fmt.Errorf("netlinkbridge: fpm frame length %d shorter than header", length)
	}
	payload := make([]byte, int(length)-fpmHeaderLen)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return FpmFrame{}, err
	}
	return FpmFrame{Version: version, Type: typ, Payload: payload}, nil
}

// FpmWriter writes framed FPM messages to a stream connection — used by
// route-sync's offload-acknowledgement path, which re-encodes a route
// message with RTM_F_OFFLOAD set and sends it back to the routing daemon.
type FpmWriter struct {
	w io.Writer
}

// NewFpmWriter wraps w for frame-at-a-time writes.
func NewFpmWriter(w io.Writer) *FpmWriter {
	return &FpmWriter{w: w}
}

// WriteFrame frames and writes payload.
func (f *FpmWriter) WriteFrame(typ byte, payload []byte) error {
	length := fpmHeaderLen + len(payload)
	header := []byte{fpmHeaderVersion1, typ, 0, 0}
	binary.BigEndian.PutUint16(header[2:4], uint16(length))
	if _, err := f.w.Write(header); err != nil {
		return err
	}
	_, err := f.w.Write(payload)
	return err
}

// RouteEvent is the decoded shape of an RTM_{NEW,DEL}ROUTE message,
// carrying the attributes route-sync needs regardless of whether it arrived
// from the kernel or over FPM: the prefix, resolved next-hops (with
// optional MPLS labels), and — for EVPN/VXLAN routes — the overlay VNI and
// router MAC, or — for SRv6 — the local-SID function attributes.
type RouteEvent struct {
	Prefix    string
	VRF       string
	Deleted   bool
	Offloaded bool
	Protocol  string

	NextHops []RouteNextHop

	// EVPN/VXLAN overlay attributes, set only for VNET/VXLAN routes.
	VNI        uint32
	RouterMAC  string

	// SRv6 local-SID attributes, set only for SRV6_MY_SID routes.
	SRv6LocalSID *SRv6LocalSID
}

// RouteNextHop is one next-hop of a (possibly ECMP) route.
type RouteNextHop struct {
	IP         string
	Interface  string
	Weight     int
	MPLSLabels []uint32
}

// SRv6LocalSID carries the My-SID function-attribute fields routesync
// writes into SRV6_MY_SID_TABLE, grounded on routesync.h's
// parseEncapSrv6LocalSid/parseEncapSrv6LocalSidFormat.
type SRv6LocalSID struct {
	BlockLen uint8
	NodeLen  uint8
	FuncLen  uint8
	ArgLen   uint8
	Action   string
	VRF      string
	Adjacency string
}
