package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/pipectl/internal/testutil/testlog"
)

func TestNewPicksHeaderVersion(t *testing.T) {
	testlog.Start(t)
	oneWay := New(7, 0, 99, 16)
	if oneWay.Header.NumBytes != V0HeaderLen || oneWay.Header.Version != 0 {
		t.Fatalf("one-way header: %+v", oneWay.Header)
	}
	if oneWay.Header.RequestID != 0 {
		t.Fatalf("v0 header must not carry request id: %+v", oneWay.Header)
	}
	req := New(7, FlagExpectsResponse, 99, 16)
	if req.Header.NumBytes != V1HeaderLen || req.Header.Version != 1 || req.Header.RequestID != 99 {
		t.Fatalf("request header: %+v", req.Header)
	}
	if len(req.Payload) != 16 {
		t.Fatalf("payload len=%d", len(req.Payload))
	}
}

func TestBytesParseRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := New(3, FlagExpectsResponse, 1234, 8)
	in.SetInterfaceID(5)
	copy(in.Payload, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	out, err := Parse(in.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Header != in.Header {
		t.Fatalf("header mismatch: got=%+v want=%+v", out.Header, in.Header)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestParseRejectsBadHeaders(t *testing.T) {
	testlog.Start(t)
	if _, err := Parse([]byte{1, 2, 3}); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}

	b := New(1, 0, 0, 0).Bytes()
	binary.LittleEndian.PutUint32(b[0:4], V1HeaderLen)
	if _, err := Parse(b); !errors.Is(err, ErrHeaderLenMismatch) {
		t.Fatalf("expected ErrHeaderLenMismatch, got %v", err)
	}

	b = New(1, 0, 0, 0).Bytes()
	binary.LittleEndian.PutUint32(b[4:8], 2)
	if _, err := Parse(b); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}

	b = New(1, FlagIsResponse, 0, 0).Bytes()
	if _, err := Parse(b[:28]); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader for truncated v1, got %v", err)
	}
}

func TestValidateRequestWithoutResponse(t *testing.T) {
	testlog.Start(t)
	if err := New(1, 0, 0, 0).ValidateRequestWithoutResponse(); err != nil {
		t.Fatalf("one-way message rejected: %v", err)
	}
	if err := New(1, FlagExpectsResponse, 1, 0).ValidateRequestWithoutResponse(); err == nil {
		t.Fatalf("expected error for expects-response")
	}
	if err := New(1, FlagIsResponse, 1, 0).ValidateRequestWithoutResponse(); err == nil {
		t.Fatalf("expected error for is-response")
	}
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := New(42, 0, 0, 24)
	in.SetInterfaceID(0xFFFFFFFF)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := WriteFrame(&buf, New(43, 0, 0, 0), DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header != in.Header || len(out.Payload) != 24 {
		t.Fatalf("frame mismatch: got=%+v", out.Header)
	}
	next, err := ReadFrame(&buf, DefaultLimits())
	if err != nil || next.Header.Name != 43 {
		t.Fatalf("second frame: %+v err=%v", next, err)
	}
	if _, err := ReadFrame(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestFrameLimits(t *testing.T) {
	testlog.Start(t)
	limits := Limits{MaxMessageBytes: 32}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, New(1, 0, 0, 16), limits); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge on write, got %v", err)
	}
	if err := WriteFrame(&buf, New(1, 0, 0, 16), DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if _, err := ReadFrame(&buf, limits); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge on read, got %v", err)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, New(1, 0, 0, 8), DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	b := buf.Bytes()[:buf.Len()-3]
	if _, err := ReadFrame(bytes.NewReader(b), DefaultLimits()); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{1, 0}), DefaultLimits()); !errors.Is(err, ErrShortPrefix) {
		t.Fatalf("expected ErrShortPrefix, got %v", err)
	}
}
