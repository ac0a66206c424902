// Package pkttest builds Ethernet frames for tests with gopacket's serializer.
package pkttest

import (
	"encoding/binary"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	srcMAC = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	dstMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
)

// TCP describes one TCP segment to serialize. Src and Dst must share a family.
type TCP struct {
	Src, Dst         netip.Addr
	SrcPort, DstPort uint16
	SYN, ACK         bool
	RST, FIN, PSH    bool
	Payload          []byte
	VLAN             uint16 // 0 = untagged
}

// Frame serializes the segment into an Ethernet frame with valid lengths and checksums.
func Frame(tb testing.TB, s TCP) []byte {
	tb.Helper()

	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.SrcPort),
		DstPort: layers.TCPPort(s.DstPort),
		Seq:     1000,
		Window:  65535,
		SYN:     s.SYN,
		ACK:     s.ACK,
		RST:     s.RST,
		FIN:     s.FIN,
		PSH:     s.PSH,
	}

	var (
		ip        gopacket.SerializableLayer
		etherType layers.EthernetType
	)
	if s.Src.Is4() {
		v4 := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Flags:    layers.IPv4DontFragment,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    s.Src.AsSlice(),
			DstIP:    s.Dst.AsSlice(),
		}
		if err := tcp.SetNetworkLayerForChecksum(v4); err != nil {
			tb.Fatalf("checksum layer: %v", err)
		}
		ip, etherType = v4, layers.EthernetTypeIPv4
	} else {
		v6 := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolTCP,
			SrcIP:      s.Src.AsSlice(),
			DstIP:      s.Dst.AsSlice(),
		}
		if err := tcp.SetNetworkLayerForChecksum(v6); err != nil {
			tb.Fatalf("checksum layer: %v", err)
		}
		ip, etherType = v6, layers.EthernetTypeIPv6
	}

	stack := []gopacket.SerializableLayer{}
	if s.VLAN != 0 {
		stack = append(stack,
			&layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeDot1Q},
			&layers.Dot1Q{VLANIdentifier: s.VLAN, Type: etherType},
		)
	} else {
		stack = append(stack, &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: etherType})
	}
	stack = append(stack, ip, tcp, gopacket.Payload(s.Payload))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		tb.Fatalf("serialize frame: %v", err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

// IPBytes returns the IP packet carried by a frame built with Frame, without
// the Ethernet padding the serializer adds to short frames.
func IPBytes(frame []byte, s TCP) []byte {
	ip := frame[14:]
	if s.VLAN != 0 {
		ip = frame[18:]
	}
	if s.Src.Is4() {
		return ip[:binary.BigEndian.Uint16(ip[2:4])]
	}
	return ip[:40+int(binary.BigEndian.Uint16(ip[4:6]))]
}

// NonIPFrame returns an ARP-typed Ethernet frame of the given total length.
func NonIPFrame(length int) []byte {
	frame := make([]byte, length)
	copy(frame[0:6], dstMAC)
	copy(frame[6:12], srcMAC)
	frame[12], frame[13] = 0x08, 0x06
	return frame
}

// WritePcap writes frames to a classic Ethernet pcap file in a temporary
// directory, one second apart from start, and returns its path.
func WritePcap(tb testing.TB, frames [][]byte, start time.Time) string {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "trace.pcap")
	f, err := os.Create(path)
	if err != nil {
		tb.Fatalf("create pcap: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		tb.Fatalf("pcap header: %v", err)
	}
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Second),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := w.WritePacket(ci, frame); err != nil {
			tb.Fatalf("pcap write: %v", err)
		}
	}
	return path
}
