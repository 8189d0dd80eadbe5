// SPDX-License-Identifier: GPL-3.0-or-later
// Copyright (c) 2026 Ferromont Controls

package updwire

import (
	"errors"
	"io"
)

// EncodeResponse produces the single wire frame answering one command: the
// reply telegram when the handler populated one, a bare ACK/NACK otherwise.
func EncodeResponse(resp Response) ([]byte, error) {
	if resp.ReplyOp != 0 {
		return EncodeFrame(resp.ReplyOp, resp.Payload)
	}
	if resp.Status == ACK {
		return EncodeFrame(OpAck, nil)
	}
	return EncodeFrame(OpNack, nil)
}

// Serve runs the device side of the protocol on conn: decode commands, hand
// them to the handler one at a time, write back the reply frame. Commands
// are dispatched strictly in order; the handler is never re-entered.
//
// Telegrams that fail framing or CRC are dropped without a reply, exactly as
// the bus transport drops damaged frames, and reported to onError when it is
// non-nil. Serve returns nil when conn reaches EOF.
func Serve(conn io.ReadWriter, h Handler, onError func(error)) error {
	decoder := NewDecoder()
	buf := make([]byte, 512)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		for i := 0; i < n; i++ {
			tel, err := decoder.DecodeByte(buf[i])
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if tel == nil || !tel.IsCommand() {
				continue
			}

			resp := h.Dispatch(tel.Opcode(), tel.Payload())
			frame, err := EncodeResponse(resp)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if _, err := conn.Write(frame); err != nil {
				return err
			}
		}
	}
}
