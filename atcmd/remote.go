package atcmd

// remoteFrameMarker prefixes a remote AT command sent over the air, so the
// receiving end can tell it apart from an ordinary AT command reply. It
// mirrors the original firmware's "RT" + command convention, where the
// leading 'R' is swapped for 'A' on the receiving side before the command
// is actually run locally.
const remoteFrameMarker = "RT"

// MaxCommandLen bounds a remote command/reply payload, matching the
// original firmware's AT_CMD_MAXLEN.
const MaxCommandLen = 64

// RemoteQueue holds at most one pending outbound remote AT command (the
// original firmware has exactly one remote_at_cmd buffer) and dispatches
// replies received from the far end.
type RemoteQueue struct {
	pending []byte // framed "RT<command>" bytes waiting to be sent, nil if none
}

// Send queues cmd to be run on the far end of the link at the next
// transmit opportunity, replacing any not-yet-sent command.
func (q *RemoteQueue) Send(cmd string) {
	framed := append([]byte(remoteFrameMarker), cmd...)
	if len(framed) > MaxCommandLen {
		framed = framed[:MaxCommandLen]
	}
	q.pending = framed
}

// Pending returns the framed command bytes waiting to be transmitted, or
// nil if there is nothing queued.
func (q *RemoteQueue) Pending() []byte { return q.pending }

// Clear drops the pending command once it has been handed to the MAC for
// transmission.
func (q *RemoteQueue) Clear() { q.pending = nil }

// HandleInbound classifies a received command-flagged payload: if it
// carries the "RT" marker, it is a remote command request to run locally,
// and the returned local command has the marker's 'R' swapped for 'A' (so
// it parses as an ordinary "AT..." command). Otherwise it is a plain AT
// reply from a command this side sent earlier, to be printed to the local
// serial port verbatim.
func HandleInbound(payload []byte) (localCommand []byte, isRequest bool, reply []byte) {
	if len(payload) >= 2 && payload[0] == 'R' && payload[1] == 'T' && len(payload) <= MaxCommandLen {
		local := append([]byte(nil), payload...)
		local[0] = 'A'
		return local, true, nil
	}
	return nil, false, payload
}
