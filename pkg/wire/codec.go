package wire

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Encode marshals v with XDR.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("xdr encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Decode unmarshals data into v, which must be a pointer.
func Decode(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("xdr decode %T: %w", v, err)
	}
	return nil
}

// EncodeCall builds a call body: the header followed by args. A nil args
// produces a header-only body.
func EncodeCall(xid uint32, proc Procedure, args any) ([]byte, error) {
	return encodeWithHeader(&CallHeader{XID: xid, Procedure: proc}, args)
}

// DecodeCall parses the call header and returns the remaining argument
// bytes.
func DecodeCall(body []byte) (CallHeader, []byte, error) {
	var hdr CallHeader
	n, err := xdr.Unmarshal(bytes.NewReader(body), &hdr)
	if err != nil {
		return hdr, nil, fmt.Errorf("unmarshal call header: %w", err)
	}
	return hdr, body[n:], nil
}

// EncodeReply builds a reply body. res is only encoded when stat is
// Accepted and res is non-nil.
func EncodeReply(xid uint32, proc Procedure, stat AcceptStat, res any) ([]byte, error) {
	if stat != Accepted {
		res = nil
	}
	return encodeWithHeader(&ReplyHeader{XID: xid, Procedure: proc, Stat: stat}, res)
}

// DecodeReply parses the reply header and returns the remaining result
// bytes.
func DecodeReply(body []byte) (ReplyHeader, []byte, error) {
	var hdr ReplyHeader
	n, err := xdr.Unmarshal(bytes.NewReader(body), &hdr)
	if err != nil {
		return hdr, nil, fmt.Errorf("unmarshal reply header: %w", err)
	}
	return hdr, body[n:], nil
}

func encodeWithHeader(hdr any, payload any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, hdr); err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if payload != nil {
		if _, err := xdr.Marshal(&buf, payload); err != nil {
			return nil, fmt.Errorf("marshal %T: %w", payload, err)
		}
	}
	return buf.Bytes(), nil
}
