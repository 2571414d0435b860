package haier

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// Gateway frame topics.
const (
	TopicBoundDevs   = "BoundDevs"
	TopicHeartBeat   = "HeartBeat"
	TopicBatchCmdReq = "BatchCmdReq"
	TopicGenMsgDown  = "GenMsgDown"

	businTypeDigitalModel = "DigitalModel"
)

// maxInflatedArgs bounds the decompressed size of one push payload.
const maxInflatedArgs = 4 << 20

// Frame is the envelope of every gateway message in both directions.
type Frame struct {
	AgClientID string          `json:"agClientId"`
	Topic      string          `json:"topic"`
	Content    json.RawMessage `json:"content"`
}

type pushContent struct {
	BusinType string `json:"businType"`
	Data      string `json:"data"`
	DataFmt   string `json:"dataFmt,omitempty"`
	SN        string `json:"sn,omitempty"`
}

type pushData struct {
	Dev  string `json:"dev"`
	Args string `json:"args"`
}

type pushArgs struct {
	Attributes []Attribute `json:"attributes"`
}

// CommandItem is one entry of a BatchCmdReq batch.
type CommandItem struct {
	SN           string         `json:"sn"`
	Index        int            `json:"index"`
	DelaySeconds int            `json:"delaySeconds"`
	SubSN        string         `json:"subSn"`
	DeviceID     string         `json:"deviceId"`
	CmdArgs      map[string]any `json:"cmdArgs"`
}

// CommandContent is the content of a BatchCmdReq frame.
type CommandContent struct {
	Trace string        `json:"trace"`
	SN    string        `json:"sn"`
	Data  []CommandItem `json:"data"`
}

// DecodeFrame turns one inbound text frame into a snapshot.
//
// Frames other than DigitalModel pushes are not errors: DecodeFrame
// returns (nil, nil) for them. Malformed pushes return an error wrapping
// ErrDecode and should be dropped by the caller.
func DecodeFrame(raw []byte) (*Snapshot, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: frame: %w", ErrDecode, err)
	}
	if frame.Topic != TopicGenMsgDown {
		return nil, nil
	}

	var content pushContent
	if err := json.Unmarshal(frame.Content, &content); err != nil {
		return nil, fmt.Errorf("%w: push content: %w", ErrDecode, err)
	}
	if content.BusinType != businTypeDigitalModel {
		return nil, nil
	}

	dataJSON, err := base64.StdEncoding.DecodeString(content.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: push data base64: %w", ErrDecode, err)
	}
	var data pushData
	if err := json.Unmarshal(dataJSON, &data); err != nil {
		return nil, fmt.Errorf("%w: push data: %w", ErrDecode, err)
	}
	if data.Dev == "" {
		return nil, fmt.Errorf("%w: push data has no dev", ErrDecode)
	}

	argsJSON, err := inflateArgs(data.Args)
	if err != nil {
		return nil, fmt.Errorf("%w: push args for %s: %w", ErrDecode, data.Dev, err)
	}
	var args pushArgs
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return nil, fmt.Errorf("%w: push args for %s: %w", ErrDecode, data.Dev, err)
	}
	if args.Attributes == nil {
		return nil, fmt.Errorf("%w: push args for %s have no attributes", ErrDecode, data.Dev)
	}

	return &Snapshot{DeviceID: data.Dev, Attributes: SnapshotOf(args.Attributes)}, nil
}

// inflateArgs base64-decodes and gunzips the args field.
func inflateArgs(encoded string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxInflatedArgs))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return out, nil
}

// EncodeCommand builds a BatchCmdReq frame that writes attributes to
// deviceID. The vendor requires a one-element batch even for a single
// command.
func EncodeCommand(agClientID, deviceID string, attributes map[string]any) ([]byte, error) {
	sn := newSerial()
	content := CommandContent{
		Trace: newSerial(),
		SN:    sn,
		Data: []CommandItem{{
			SN:       sn,
			SubSN:    sn + ":0",
			DeviceID: deviceID,
			CmdArgs:  attributes,
		}},
	}
	return encodeFrame(agClientID, TopicBatchCmdReq, content)
}

// EncodeSubscribe builds the BoundDevs frame for deviceIDs.
func EncodeSubscribe(agClientID string, deviceIDs []string) ([]byte, error) {
	if deviceIDs == nil {
		deviceIDs = []string{}
	}
	return encodeFrame(agClientID, TopicBoundDevs, struct {
		Devs []string `json:"devs"`
	}{Devs: deviceIDs})
}

// EncodeHeartbeat builds a HeartBeat frame with a fresh serial.
func EncodeHeartbeat(agClientID string) ([]byte, error) {
	return encodeFrame(agClientID, TopicHeartBeat, struct {
		SN       string `json:"sn"`
		Duration int    `json:"duration"`
	}{SN: newSerial()})
}

func encodeFrame(agClientID, topic string, content any) ([]byte, error) {
	body, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding %s content: %w", topic, err)
	}
	return json.Marshal(Frame{AgClientID: agClientID, Topic: topic, Content: body})
}

// newSerial returns 32 lowercase hex characters.
func newSerial() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
