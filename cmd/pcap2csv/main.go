// Command pcap2csv converts a pcap or pcapng file into the CSV packet
// log written by trafficsim, clocking packets by their timestamps.
package main

import (
	"flag"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/netsim-lab/trafficsim"
)

var (
	// inputFlag is the pcap file to convert.
	inputFlag = flag.String("input", "capture.pcap", "pcap or pcapng file to convert")

	// outputFlag is the CSV file to write.
	outputFlag = flag.String("output", "capture.csv", "CSV packet log to write")
)

func main() {
	flag.Parse()
	log.SetHandler(cli.Default)

	written, err := convert(log.Log, *inputFlag, *outputFlag)
	if err != nil {
		log.WithError(err).Fatal("pcap2csv")
	}
	log.Infof("pcap2csv: written %d packets to %s", written, *outputFlag)
}

// convert replays input through the capture pipeline into output and
// returns the number of written packets.
func convert(logger trafficsim.Logger, input, output string) (int, error) {
	buffer := trafficsim.NewCaptureBuffer(nil)
	packetLogger := trafficsim.NewPacketLogger(&trafficsim.PacketLoggerConfig{
		Buffer:      buffer,
		Logger:      logger,
		WritePacing: -1,
		IdleRetry:   10 * time.Millisecond,
	})
	sniffer := trafficsim.NewPacketSniffer(&trafficsim.PacketSnifferConfig{
		Buffer: buffer,
		Clock:  &trafficsim.PacketClock{},
		Logger: logger,
		Open:   trafficsim.OpenPCAPFile,
	})

	if err := packetLogger.StartLog(output); err != nil {
		return 0, err
	}
	if err := sniffer.StartCapture(input); err != nil {
		packetLogger.StopLog()
		return 0, err
	}

	// the capture terminates by itself at the end of the file
	<-sniffer.Done()
	sniffer.StopCapture()
	packetLogger.StopLog()
	return packetLogger.Written(), nil
}
