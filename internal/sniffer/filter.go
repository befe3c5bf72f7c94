package sniffer

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/net/bpf"
)

// Ethernet frame offsets used by the filter programs.
const (
	offEtherType = 12
	offIPProto   = 23
	offIPSrc     = 26
	offIPDst     = 30
)

const (
	etherTypeIPv4 = 0x0800
	etherTypeARP  = 0x0806
)

var protocols = map[string]uint32{
	"icmp": 1,
	"tcp":  6,
	"udp":  17,
}

// Filter selects the frames a Writer records. It accepts a small subset of
// the tcpdump syntax, one primitive per expression:
//
//	ip | arp | icmp | tcp | udp
//	host A | src A | dst A
//	net A/nn
type Filter struct {
	expr string
	prog []bpf.RawInstruction
	vm   *bpf.VM
}

// CompileFilter assembles expr into a BPF program.
func CompileFilter(expr string) (*Filter, error) {
	insns, err := parseFilter(expr)
	if err != nil {
		return nil, fmt.Errorf("capture filter %q: %w", expr, err)
	}
	prog, err := bpf.Assemble(insns)
	if err != nil {
		return nil, fmt.Errorf("capture filter %q: %w", expr, err)
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("capture filter %q: %w", expr, err)
	}
	return &Filter{expr: expr, prog: prog, vm: vm}, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Program returns the assembled instructions.
func (f *Filter) Program() []bpf.RawInstruction { return f.prog }

// Match reports whether frame passes the filter.
func (f *Filter) Match(frame []byte) bool {
	n, err := f.vm.Run(frame)
	return err == nil && n > 0
}

func parseFilter(expr string) ([]bpf.Instruction, error) {
	fields := strings.Fields(strings.ToLower(expr))
	switch len(fields) {
	case 1:
		switch kw := fields[0]; kw {
		case "ip":
			return etherTypeFilter(etherTypeIPv4), nil
		case "arp":
			return etherTypeFilter(etherTypeARP), nil
		default:
			proto, ok := protocols[kw]
			if !ok {
				return nil, fmt.Errorf("unknown primitive %q", kw)
			}
			return ipFieldFilter(offIPProto, 1, proto), nil
		}
	case 2:
		kw, arg := fields[0], fields[1]
		if kw == "net" {
			prefix, err := netip.ParsePrefix(arg)
			if err != nil || !prefix.Addr().Is4() {
				return nil, fmt.Errorf("invalid network %q", arg)
			}
			return netFilter(prefix.Masked()), nil
		}
		addr, err := netip.ParseAddr(arg)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("invalid address %q", arg)
		}
		v := addrValue(addr)
		switch kw {
		case "src":
			return ipFieldFilter(offIPSrc, 4, v), nil
		case "dst":
			return ipFieldFilter(offIPDst, 4, v), nil
		case "host":
			return hostFilter(v), nil
		}
		return nil, fmt.Errorf("unknown qualifier %q", kw)
	}
	return nil, fmt.Errorf("expected one primitive")
}

func addrValue(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func keep() bpf.Instruction   { return bpf.RetConstant{Val: SnapLen} }
func reject() bpf.Instruction { return bpf.RetConstant{Val: 0} }

func etherTypeFilter(etherType uint32) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: offEtherType, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherType, SkipFalse: 1},
		keep(),
		reject(),
	}
}

// ipFieldFilter matches IPv4 frames whose field at off equals val.
func ipFieldFilter(off uint32, size int, val uint32) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: offEtherType, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: etherTypeIPv4, SkipTrue: 3},
		bpf.LoadAbsolute{Off: off, Size: size},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: val, SkipFalse: 1},
		keep(),
		reject(),
	}
}

func hostFilter(addr uint32) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: offEtherType, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: etherTypeIPv4, SkipTrue: 5},
		bpf.LoadAbsolute{Off: offIPSrc, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: addr, SkipTrue: 2},
		bpf.LoadAbsolute{Off: offIPDst, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: addr, SkipFalse: 1},
		keep(),
		reject(),
	}
}

// netFilter matches IPv4 frames with either address inside prefix.
func netFilter(prefix netip.Prefix) []bpf.Instruction {
	network := addrValue(prefix.Addr())
	mask := uint32(0)
	if bits := prefix.Bits(); bits > 0 {
		mask = ^uint32(0) << (32 - bits)
	}
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: offEtherType, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: etherTypeIPv4, SkipTrue: 7},
		bpf.LoadAbsolute{Off: offIPSrc, Size: 4},
		bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: mask},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: network, SkipTrue: 3},
		bpf.LoadAbsolute{Off: offIPDst, Size: 4},
		bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: mask},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: network, SkipFalse: 1},
		keep(),
		reject(),
	}
}
