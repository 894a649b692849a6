package runtime

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/livebook-dev/pythonx"
	"github.com/livebook-dev/pythonx/capi"
	"github.com/livebook-dev/pythonx/errors"
)

// The call context token travels into the interpreter as bytes planted in an
// evaluation's globals and comes back through host hooks. It identifies the
// evaluation, the scheduler thread it runs on, and the output devices it
// registered.
//
// Layout, big endian: version byte, call id u64, origin thread id u64,
// stdout device id u32, stderr device id u32.
const (
	tokenVersion = 1
	tokenSize    = 1 + 8 + 8 + 4 + 4
)

type callToken struct {
	callID    uint64
	originTID capi.ThreadID
	stdout    deviceID
	stderr    deviceID
}

func (t callToken) encode() []byte {
	buf := make([]byte, tokenSize)
	buf[0] = tokenVersion
	binary.BigEndian.PutUint64(buf[1:], t.callID)
	binary.BigEndian.PutUint64(buf[9:], uint64(t.originTID))
	binary.BigEndian.PutUint32(buf[17:], uint32(t.stdout))
	binary.BigEndian.PutUint32(buf[21:], uint32(t.stderr))
	return buf
}

func decodeCallToken(data []byte) (callToken, error) {
	if len(data) != tokenSize {
		return callToken{}, errors.InvalidData(errors.PhaseCallback, nil, "call token has wrong size")
	}
	if data[0] != tokenVersion {
		return callToken{}, errors.InvalidData(errors.PhaseCallback, nil, "call token has unknown version")
	}
	return callToken{
		callID:    binary.BigEndian.Uint64(data[1:]),
		originTID: capi.ThreadID(binary.BigEndian.Uint64(data[9:])),
		stdout:    deviceID(binary.BigEndian.Uint32(data[17:])),
		stderr:    deviceID(binary.BigEndian.Uint32(data[21:])),
	}, nil
}

// handleOutput is the WriteOutput host hook. When the writing thread is the
// evaluation's own scheduler thread the device is invoked inline, keeping
// output synchronous with the write; writes from other threads go through
// the janitor so a detached interpreter thread never runs user Go code.
func (r *Runtime) handleOutput(current capi.ThreadID, token []byte, stream pythonx.Stream, text string) {
	tok, err := decodeCallToken(token)
	if err != nil {
		r.logger.Debug("output with unusable call token, dropped",
			zap.Error(err), zap.Int("bytes", len(text)))
		return
	}

	id := tok.stdout
	if stream == pythonx.Stderr {
		id = tok.stderr
	}

	device, ok := r.devices.get(id)
	if !ok {
		r.logger.Debug("output with no registered device, dropped",
			zap.Uint64("call_id", tok.callID), zap.Stringer("stream", stream))
		return
	}

	if current == tok.originTID {
		device.WriteOutput(stream, text)
		return
	}
	r.janitor.dispatch(func() {
		device.WriteOutput(stream, text)
	})
}

// handleSend is the SendTagged host hook. The object reference is borrowed
// from the caller for the duration of the hook; a reference is taken before
// the delivery leaves the hook. Unresolvable consumers drop the message with
// a diagnostic.
func (r *Runtime) handleSend(current capi.ThreadID, token []byte, pidBytes []byte, tag string, obj capi.ObjRef) {
	name := string(pidBytes)
	consumer, ok := r.names.whereis(name)
	if !ok {
		r.logger.Warn("tagged send to unknown consumer, dropped",
			zap.String("name", name), zap.String("tag", tag))
		return
	}

	// The hook runs with the global lock held by the sending thread.
	r.api.IncRef(obj)
	msg := Message{Tag: tag, Value: r.newObject(obj)}

	tok, err := decodeCallToken(token)
	if err == nil && current == tok.originTID {
		consumer.Deliver(msg)
		return
	}
	r.janitor.dispatch(func() {
		consumer.Deliver(msg)
	})
}
