// Package trafficsim schedules synthetic network traffic on an emulated
// network and records the resulting packets.
//
// The scheduling side consists of a [TaskQueue] of time-stamped [Task]
// values and of a [Simulation] that drains the queue in time order,
// advancing a simulation clock and running each due task in its own
// goroutine. A failing or panicking task is logged and does not affect
// the other tasks. The clock either tracks the wall clock (real-time
// mode) or jumps directly to the start time of the next task, with a
// small pacing delay between dispatch batches (discretized mode).
//
// The [PeriodicScheduler] is an alternate dispatch model where each
// [PeriodicTask] invokes a function repeatedly for a bounded amount of
// time, waiting a normally distributed interval between invocations.
//
// The [TrafficGenerator] fills a [TaskQueue] with random HTTP and FTP
// requests issued by emulated hosts (see [Host] and [NamespaceHost])
// toward local servers or remote endpoints. Use [TrafficDistribution]
// to derive the number of requests over time from a daily profile.
//
// The capture side consists of a [PacketSniffer], which reads packets
// from a [CaptureHandle] and stamps each IP packet with the simulation
// clock producing a [PacketWrapper]; of a [CaptureBuffer], which queues
// the wrappers without ever blocking the capture; and of a [PacketLogger],
// which drains the buffer in batches into a CSV file. Use [OpenLiveInterface]
// to capture from a network interface and [OpenPCAPFile] to replay a
// capture file. The optional [PCAPRecorder] stores the raw frames.
//
// The [Metrics] struct exposes the scheduler and capture counters to
// prometheus and the [RunConfig] struct describes a whole run.
package trafficsim
