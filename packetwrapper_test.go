package trafficsim

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// fixedClock is a SimulationClock that never moves.
type fixedClock struct {
	t   float64
	tod float64
}

var _ SimulationClock = &fixedClock{}

// Time implements SimulationClock
func (fc *fixedClock) Time() float64 {
	return fc.t
}

// TimeOfDay implements SimulationClock
func (fc *fixedClock) TimeOfDay() float64 {
	return fc.tod
}

func TestNewPacketWrapper(t *testing.T) {
	frame := newTCPFrame(t, "10.0.0.1", "10.0.0.2", 40000, 8080, nil)
	ci := testCaptureInfo(frame, time.Unix(1700000000, 123456000))
	packet := gopacket.NewPacket(frame, layers.LinkTypeEthernet, gopacket.Default)
	packet.Metadata().CaptureInfo = ci
	clock := &fixedClock{t: 12.5, tod: 45012.5}

	pw, err := NewPacketWrapper(DissectCapturedPacket(packet), clock)
	if err != nil {
		t.Fatal(err)
	}

	expect := &PacketWrapper{
		RealTimestamp:    pw.RealTimestamp,
		VirtualTimestamp: 12.5,
		TimeOfDay:        45012.5,
		Protocols:        "eth:ip:tcp",
		Length:           len(frame),
		SrcIP:            "10.0.0.1",
		DstIP:            "10.0.0.2",
		SrcPort:          "40000",
		DstPort:          "8080",
	}
	if diff := cmp.Diff(expect, pw); diff != "" {
		t.Fatal(diff)
	}
	if pw.RealTimestamp < 1700000000.123455 || pw.RealTimestamp > 1700000000.123457 {
		t.Fatal("unexpected real timestamp", pw.RealTimestamp)
	}
}

func TestNewPacketWrapperWithoutIP(t *testing.T) {
	frame := newARPFrame(t)
	packet := gopacket.NewPacket(frame, layers.LinkTypeEthernet, gopacket.Default)
	pw, err := NewPacketWrapper(DissectCapturedPacket(packet), &fixedClock{})
	if !errors.Is(err, ErrDissectNetwork) {
		t.Fatal("unexpected error", err)
	}
	if pw != nil {
		t.Fatal("expected nil wrapper")
	}
}

func TestNewPacketWrapperConsistentClock(t *testing.T) {
	const startTimeOfDay = 86000
	sim := NewSimulation(&SimulationConfig{
		Logger:         &NullLogger{},
		Queue:          NewTaskQueue(&NullLogger{}),
		StartTimeOfDay: startTimeOfDay,
	})
	frame := newTCPFrame(t, "10.0.0.1", "10.0.0.2", 40000, 8080, nil)
	packet := DissectCapturedPacket(gopacket.NewPacket(frame, layers.LinkTypeEthernet, gopacket.Default))

	// step the clock while we stamp packets
	stop := make(chan any)
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for step := 0; ; step++ {
			select {
			case <-stop:
				return
			default:
				sim.setTime(float64(step % 1000))
			}
		}
	}()
	defer wg.Wait()
	defer close(stop)

	for idx := 0; idx < 10000; idx++ {
		pw := Must1(NewPacketWrapper(packet, sim))
		if expect := math.Mod(pw.VirtualTimestamp+startTimeOfDay, secondsInADay); pw.TimeOfDay != expect {
			t.Fatal("time of day does not match the clock", pw.VirtualTimestamp, pw.TimeOfDay)
		}
	}
}

func TestPacketWrapperCSVRecord(t *testing.T) {
	type testcase struct {
		name   string
		pw     *PacketWrapper
		expect string
	}

	cases := []testcase{{
		name: "TCP packet",
		pw: &PacketWrapper{
			RealTimestamp:    1700000000.5,
			VirtualTimestamp: 12.5,
			TimeOfDay:        45012.5,
			Protocols:        "eth:ip:tcp",
			Length:           74,
			SrcIP:            "10.0.0.1",
			DstIP:            "10.0.0.2",
			SrcPort:          "40000",
			DstPort:          "8080",
		},
		expect: "12.5000,45012.5000,1700000000.500000,eth:ip:tcp,10.0.0.1,10.0.0.2,40000,8080,74",
	}, {
		name: "ICMP packet without ports",
		pw: &PacketWrapper{
			RealTimestamp:    1.25,
			VirtualTimestamp: 0,
			TimeOfDay:        0.123456,
			Protocols:        "eth:ip:icmp",
			Length:           98,
			SrcIP:            "10.0.0.1",
			DstIP:            "8.8.8.8",
			SrcPort:          NotApplicable,
			DstPort:          NotApplicable,
		},
		expect: "0.0000,0.1235,1.250000,eth:ip:icmp,10.0.0.1,8.8.8.8,N/A,N/A,98",
	}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.expect, tc.pw.CSVRecord()); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}
