package buildapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"chromite/internal/services"
)

// Format is a message serialization format.
type Format int

const (
	FormatBinary Format = iota + 1
	FormatJSON
)

var (
	// ErrInvalidInputFile is returned when an input file cannot be read.
	ErrInvalidInputFile = errors.New("invalid input file")
	// ErrInvalidInputFormat is returned when input cannot be parsed.
	ErrInvalidInputFormat = errors.New("invalid input format")
	// ErrInvalidOutputFile is returned when an output file cannot be written.
	ErrInvalidOutputFile = errors.New("invalid output file")
)

// Serializer converts messages to and from bytes.
type Serializer interface {
	Serialize(msg any) ([]byte, error)
	Deserialize(data []byte, msg any) error
}

// JSONSerializer reads JSON, ignoring unknown fields, and writes compact
// JSON.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(data, []byte("null")) {
		return []byte("{}"), nil
	}
	return data, nil
}

func (JSONSerializer) Deserialize(data []byte, msg any) error {
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("%w: Unable to parse the input json: %v", ErrInvalidInputFormat, err)
	}
	return nil
}

// BinarySerializer uses msgpack keyed by the JSON field names, so both
// formats describe a message the same way.
type BinarySerializer struct{}

func (BinarySerializer) Serialize(msg any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (BinarySerializer) Deserialize(data []byte, msg any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(msg); err != nil {
		return fmt.Errorf("%w: Unable to parse the input binary message: %v", ErrInvalidInputFormat, err)
	}
	return nil
}

// MessageHandler reads and writes messages at a path in one format. The
// argument names are used to pass the same format to a re-executed
// build_api.
type MessageHandler struct {
	Path       string
	Serializer Serializer
	Binary     bool
	InputArg   string
	OutputArg  string
	ConfigArg  string
	Logger     *slog.Logger
}

// MessageHandlerFor returns the handler for path in format.
func MessageHandlerFor(path string, format Format) (*MessageHandler, error) {
	switch format {
	case FormatBinary:
		return &MessageHandler{
			Path:       path,
			Serializer: BinarySerializer{},
			Binary:     true,
			InputArg:   "--input-binary",
			OutputArg:  "--output-binary",
			ConfigArg:  "--config-binary",
		}, nil
	case FormatJSON:
		return &MessageHandler{
			Path:       path,
			Serializer: JSONSerializer{},
			InputArg:   "--input-json",
			OutputArg:  "--output-json",
			ConfigArg:  "--config-json",
		}, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "buildapi", "handler", fmt.Sprintf("unknown format %d", format), nil)
	}
}

func (h *MessageHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// ReadInto deserializes the file at path, or at the handler's path when
// path is empty, into msg. An empty file leaves msg untouched.
func (h *MessageHandler) ReadInto(msg any, path string) error {
	target := path
	if target == "" {
		target = h.Path
	}
	if target == "" {
		return fmt.Errorf("%w: No input file has been specified.", ErrInvalidInputFile)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: The input file does not exist.", ErrInvalidInputFile)
		}
		return fmt.Errorf("%w: Unable to read input file: %v", ErrInvalidInputFile, err)
	}
	if len(data) == 0 {
		h.logger().Warn("no content found to deserialize", slog.String("path", target))
		return nil
	}
	return h.Serializer.Deserialize(data, msg)
}

// WriteFrom serializes msg to path, or to the handler's path when path is
// empty.
func (h *MessageHandler) WriteFrom(msg any, path string) error {
	target := path
	if target == "" {
		target = h.Path
	}
	if target == "" {
		return fmt.Errorf("%w: No output file has been specified.", ErrInvalidOutputFile)
	}
	data, err := h.Serializer.Serialize(msg)
	if err != nil {
		return fmt.Errorf("%w: Cannot serialize output: %v", ErrInvalidOutputFile, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("%w: Cannot write output file: %v", ErrInvalidOutputFile, err)
	}
	return nil
}
