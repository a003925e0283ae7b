// Package wire serializes document operations to a compact binary form.
//
// A batch is a two-byte header followed by length-prefixed records,
// one per operation:
//
//	batch   := version(0x01) frame(1) record*
//	frame   := delta(0x00) | snapshot(0x01)
//	record  := uvarint(len) payload
//	payload := kind(1) id rest
//	id      := uvarint(seq) replica(16)
//	insert  := origin-id dur(1) uvarint(nkeys) (uvarint(len) bytes)*
//	delete  := (nothing further)
//	set     := uvarint(len) key uvarint(len) value
//
// The duration byte packs the duration code in the low bits and the
// rest flag in the high bit. Records are self-describing, so a decoder
// needs no external framing and a batch of any size round-trips.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/astromechza/scoresync/pkg/crdt"
)

// ErrDecode marks malformed input. Decode never returns partial
// results: on any error the caller's state is untouched.
var ErrDecode = errors.New("wire: malformed update")

const version = 0x01

// The frame byte separates routine incremental updates from full
// snapshots, so receivers can treat snapshots as a sync handshake
// without inspecting the records.
const (
	frameDelta    = 0x00
	frameSnapshot = 0x01
)

const restBit = 0x80

// maxKeyLen bounds pitch/metadata strings so a corrupt length prefix
// cannot ask for gigabytes.
const maxKeyLen = 1 << 12

// EncodeDelta encodes an incremental update carrying exactly the given
// operations.
func EncodeDelta(ops []crdt.Op) []byte {
	return encode(frameDelta, ops)
}

func encode(frame byte, ops []crdt.Op) []byte {
	buf := []byte{version, frame}
	for _, op := range ops {
		rec := appendOp(nil, op)
		buf = binary.AppendUvarint(buf, uint64(len(rec)))
		buf = append(buf, rec...)
	}
	return buf
}

// EncodeFull encodes a self-contained snapshot of a sequence and
// register. Every element is emitted as an insert in document order
// (so each origin precedes its dependents), tombstoned elements are
// followed by their delete, and the register's winning writes close
// the batch. Decoding the result into a fresh replica reproduces the
// same observable state.
func EncodeFull(seq *crdt.Sequence, reg *crdt.Register) []byte {
	var ops []crdt.Op
	for _, el := range seq.Elements() {
		ops = append(ops, crdt.Op{Kind: crdt.OpInsert, ID: el.ID, Origin: el.Origin, Event: el.Event})
		if el.Tombstone {
			ops = append(ops, crdt.Op{Kind: crdt.OpDelete, ID: el.ID})
		}
	}
	ops = append(ops, reg.Entries()...)
	return encode(frameSnapshot, ops)
}

// Decode recovers the operations from a batch, reporting whether the
// sender marked it as a full snapshot. It is all-or-nothing: a
// malformed batch yields ErrDecode and no ops.
func Decode(buf []byte) (ops []crdt.Op, snapshot bool, err error) {
	if len(buf) < 2 {
		return nil, false, fmt.Errorf("%w: truncated header", ErrDecode)
	}
	if buf[0] != version {
		return nil, false, fmt.Errorf("%w: unsupported version %#x", ErrDecode, buf[0])
	}
	switch buf[1] {
	case frameDelta, frameSnapshot:
		snapshot = buf[1] == frameSnapshot
	default:
		return nil, false, fmt.Errorf("%w: unknown frame kind %#x", ErrDecode, buf[1])
	}
	buf = buf[2:]
	for len(buf) > 0 {
		n, w := binary.Uvarint(buf)
		if w <= 0 || n > uint64(len(buf)-w) {
			return nil, false, fmt.Errorf("%w: bad record length", ErrDecode)
		}
		op, err := decodeOp(buf[w : w+int(n)])
		if err != nil {
			return nil, false, err
		}
		ops = append(ops, op)
		buf = buf[w+int(n):]
	}
	return ops, snapshot, nil
}

func appendOp(buf []byte, op crdt.Op) []byte {
	buf = append(buf, byte(op.Kind))
	buf = appendID(buf, op.ID)
	switch op.Kind {
	case crdt.OpInsert:
		buf = appendID(buf, op.Origin)
		d := byte(op.Event.Duration)
		if op.Event.Rest {
			d |= restBit
		}
		buf = append(buf, d)
		buf = binary.AppendUvarint(buf, uint64(len(op.Event.Keys)))
		for _, k := range op.Event.Keys {
			buf = appendString(buf, k)
		}
	case crdt.OpDelete:
	case crdt.OpSet:
		buf = appendString(buf, op.Key)
		buf = appendString(buf, op.Value)
	}
	return buf
}

func appendID(buf []byte, id crdt.ID) []byte {
	buf = binary.AppendUvarint(buf, id.Seq)
	return append(buf, id.Replica[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

type reader struct {
	buf []byte
}

func (r *reader) uvarint() (uint64, error) {
	n, w := binary.Uvarint(r.buf)
	if w <= 0 {
		return 0, fmt.Errorf("%w: truncated varint", ErrDecode)
	}
	r.buf = r.buf[w:]
	return n, nil
}

func (r *reader) id() (crdt.ID, error) {
	seq, err := r.uvarint()
	if err != nil {
		return crdt.ID{}, err
	}
	var id crdt.ID
	id.Seq = seq
	if len(r.buf) < len(id.Replica) {
		return crdt.ID{}, fmt.Errorf("%w: truncated replica token", ErrDecode)
	}
	copy(id.Replica[:], r.buf)
	r.buf = r.buf[len(id.Replica):]
	return id, nil
}

func (r *reader) str() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if n > maxKeyLen || n > uint64(len(r.buf)) {
		return "", fmt.Errorf("%w: bad string length %d", ErrDecode, n)
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s, nil
}

func decodeOp(rec []byte) (crdt.Op, error) {
	if len(rec) == 0 {
		return crdt.Op{}, fmt.Errorf("%w: empty record", ErrDecode)
	}
	r := &reader{buf: rec[1:]}
	op := crdt.Op{Kind: crdt.OpKind(rec[0])}
	var err error
	if op.ID, err = r.id(); err != nil {
		return crdt.Op{}, err
	}
	switch op.Kind {
	case crdt.OpInsert:
		if op.Origin, err = r.id(); err != nil {
			return crdt.Op{}, err
		}
		if len(r.buf) < 1 {
			return crdt.Op{}, fmt.Errorf("%w: truncated duration", ErrDecode)
		}
		d := r.buf[0]
		r.buf = r.buf[1:]
		op.Event.Rest = d&restBit != 0
		op.Event.Duration = crdt.Duration(d &^ restBit)
		if op.Event.Duration > crdt.Eighth {
			return crdt.Op{}, fmt.Errorf("%w: unknown duration %d", ErrDecode, op.Event.Duration)
		}
		nkeys, err := r.uvarint()
		if err != nil {
			return crdt.Op{}, err
		}
		if nkeys > maxKeyLen {
			return crdt.Op{}, fmt.Errorf("%w: bad key count %d", ErrDecode, nkeys)
		}
		for i := uint64(0); i < nkeys; i++ {
			k, err := r.str()
			if err != nil {
				return crdt.Op{}, err
			}
			op.Event.Keys = append(op.Event.Keys, k)
		}
	case crdt.OpDelete:
	case crdt.OpSet:
		if op.Key, err = r.str(); err != nil {
			return crdt.Op{}, err
		}
		if op.Value, err = r.str(); err != nil {
			return crdt.Op{}, err
		}
	default:
		return crdt.Op{}, fmt.Errorf("%w: unknown op kind %d", ErrDecode, rec[0])
	}
	if len(r.buf) != 0 {
		return crdt.Op{}, fmt.Errorf("%w: %d trailing bytes in record", ErrDecode, len(r.buf))
	}
	return op, nil
}
