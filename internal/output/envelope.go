package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Response is the success envelope for JSON output.
type Response struct {
	OK      bool           `json:"ok"`
	Data    any            `json:"data,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Context map[string]any `json:"context,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// ErrorResponse is the error envelope for JSON output.
type ErrorResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Code   string `json:"code"`
	Hint   string `json:"hint,omitempty"`
	Status int    `json:"status,omitempty"`
}

// Format specifies the output format.
type Format int

const (
	FormatAuto Format = iota // TTY -> Styled, otherwise JSON
	FormatJSON
	FormatStyled
	FormatQuiet
	FormatIDs
	FormatCount
)

// ParseFormat maps a config value to a Format. Unknown values are auto.
func ParseFormat(s string) Format {
	switch s {
	case "json":
		return FormatJSON
	case "styled":
		return FormatStyled
	case "quiet":
		return FormatQuiet
	case "ids":
		return FormatIDs
	case "count":
		return FormatCount
	default:
		return FormatAuto
	}
}

// Options controls output behavior.
type Options struct {
	Format Format
	Writer io.Writer
}

// Writer handles all output formatting.
type Writer struct {
	opts Options
}

// New creates a new output writer.
func New(opts Options) *Writer {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	return &Writer{opts: opts}
}

// Format returns the configured format.
func (w *Writer) Format() Format { return w.opts.Format }

// OK outputs a success response.
func (w *Writer) OK(data any, opts ...ResponseOption) error {
	resp := &Response{OK: true, Data: data}
	for _, opt := range opts {
		opt(resp)
	}
	return w.write(resp)
}

// Err outputs an error response.
func (w *Writer) Err(err error) error {
	e := AsError(err)
	resp := &ErrorResponse{
		OK:     false,
		Error:  e.Message,
		Code:   e.Code,
		Hint:   e.Hint,
		Status: e.HTTPStatus,
	}
	return w.write(resp)
}

func (w *Writer) write(v any) error {
	format := w.opts.Format
	if format == FormatAuto {
		if isTTY(w.opts.Writer) {
			format = FormatStyled
		} else {
			format = FormatJSON
		}
	}

	switch format {
	case FormatQuiet:
		if resp, ok := v.(*Response); ok {
			return w.writeJSON(resp.Data)
		}
		return w.writeJSON(v)
	case FormatIDs:
		return w.writeIDs(v)
	case FormatCount:
		return w.writeCount(v)
	case FormatStyled:
		return w.writeStyled(v)
	default:
		return w.writeJSON(v)
	}
}

func (w *Writer) writeJSON(v any) error {
	enc := json.NewEncoder(w.opts.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (w *Writer) writeIDs(v any) error {
	resp, ok := v.(*Response)
	if !ok {
		return w.writeJSON(v)
	}

	switch d := normalizeData(resp.Data).(type) {
	case []map[string]any:
		for _, item := range d {
			if id, ok := item["id"]; ok {
				fmt.Fprintln(w.opts.Writer, id)
			}
		}
	case map[string]any:
		if id, ok := d["id"]; ok {
			fmt.Fprintln(w.opts.Writer, id)
		}
	}
	return nil
}

func (w *Writer) writeCount(v any) error {
	resp, ok := v.(*Response)
	if !ok {
		return w.writeJSON(v)
	}

	switch d := normalizeData(resp.Data).(type) {
	case []any:
		fmt.Fprintln(w.opts.Writer, len(d))
	case []map[string]any:
		fmt.Fprintln(w.opts.Writer, len(d))
	case nil:
		fmt.Fprintln(w.opts.Writer, 0)
	default:
		fmt.Fprintln(w.opts.Writer, 1)
	}
	return nil
}

// normalizeData converts typed values to generic JSON shapes so the
// ID/count/table writers can inspect them uniformly.
func normalizeData(data any) any {
	if raw, ok := data.(json.RawMessage); ok {
		var unmarshaled any
		if err := json.Unmarshal(raw, &unmarshaled); err == nil {
			return normalizeUnmarshaled(unmarshaled)
		}
		return data
	}

	switch data.(type) {
	case []map[string]any, map[string]any, nil:
		return data
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return data
		}
		var unmarshaled any
		if err := json.Unmarshal(b, &unmarshaled); err != nil {
			return data
		}
		return normalizeUnmarshaled(unmarshaled)
	}
}

// normalizeUnmarshaled converts []any to []map[string]any if all elements are maps.
func normalizeUnmarshaled(v any) any {
	d, ok := v.([]any)
	if !ok {
		return v
	}
	maps := make([]map[string]any, 0, len(d))
	for _, item := range d {
		m, ok := item.(map[string]any)
		if !ok {
			return v
		}
		maps = append(maps, m)
	}
	return maps
}

func (w *Writer) writeStyled(v any) error {
	r := NewRenderer(w.opts.Writer, true)
	switch resp := v.(type) {
	case *Response:
		return r.RenderResponse(w.opts.Writer, resp)
	case *ErrorResponse:
		return r.RenderError(w.opts.Writer, resp)
	default:
		return w.writeJSON(v)
	}
}

// ResponseOption modifies a Response.
type ResponseOption func(*Response)

// WithSummary adds a summary to the response.
func WithSummary(s string) ResponseOption {
	return func(r *Response) { r.Summary = s }
}

// WithContext adds context to the response.
func WithContext(key string, value any) ResponseOption {
	return func(r *Response) {
		if r.Context == nil {
			r.Context = make(map[string]any)
		}
		r.Context[key] = value
	}
}

// WithMeta adds metadata to the response.
func WithMeta(key string, value any) ResponseOption {
	return func(r *Response) {
		if r.Meta == nil {
			r.Meta = make(map[string]any)
		}
		r.Meta[key] = value
	}
}
