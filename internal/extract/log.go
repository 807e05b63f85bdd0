package extract

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	"sparkify/internal/timedim"
)

// PageNextSong marks an event that records a song being played.
const PageNextSong = "NextSong"

// Event is one kept "NextSong" log line.
type Event struct {
	Line      int
	TS        int64 // ms since epoch, UTC
	Song      string
	Artist    string
	Length    float64
	UserID    int64
	FirstName string
	LastName  string
	Gender    string
	Level     string
	SessionID int64
	Location  string
	UserAgent string
}

// rawEvent mirrors a log line. Every field is optional at this stage because
// non-NextSong lines (logged-out users, navigation) omit most of them, and
// numeric fields stay raw until the line is known to be kept.
type rawEvent struct {
	Page      string          `json:"page"`
	TS        json.RawMessage `json:"ts"`
	Song      *string         `json:"song"`
	Artist    *string         `json:"artist"`
	Length    json.RawMessage `json:"length"`
	UserID    json.RawMessage `json:"userId"`
	FirstName *string         `json:"firstName"`
	LastName  *string         `json:"lastName"`
	Gender    *string         `json:"gender"`
	Level     *string         `json:"level"`
	SessionID json.RawMessage `json:"sessionId"`
	Location  *string         `json:"location"`
	UserAgent *string         `json:"userAgent"`
}

// ReadLog reads one newline-delimited event log and returns its NextSong
// events and the number of bytes read.
func ReadLog(fsys afero.Fs, path string) ([]Event, int64, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	events, err := ParseLog(path, data)
	return events, int64(len(data)), err
}

// ParseLog decodes one JSON object per line and keeps only NextSong events,
// in line order.
//
// Lines holding only whitespace are skipped. A malformed line fails the
// whole file with a *ParseError naming the line; nothing is recovered from
// it. Type errors in kept events (ts, userId, sessionId, length) wrap
// timedim.ErrTypeConversion.
func ParseLog(path string, data []byte) ([]Event, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)

	out := make([]Event, 0, 64)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}

		var raw rawEvent
		if err := json.Unmarshal(text, &raw); err != nil {
			return nil, &ParseError{Path: path, Line: line, Err: err}
		}
		if raw.Page != PageNextSong {
			continue
		}

		ev, err := raw.event(line)
		if err != nil {
			return nil, &ParseError{Path: path, Line: line, Err: err}
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Path: path, Line: line + 1, Err: err}
	}
	return out, nil
}

func (r rawEvent) event(line int) (Event, error) {
	ts, err := timedim.Millis(scalar(r.TS))
	if err != nil {
		return Event{}, fmt.Errorf("ts: %w", err)
	}
	uid, err := toInt64("userId", scalar(r.UserID))
	if err != nil {
		return Event{}, err
	}
	sid, err := toInt64("sessionId", scalar(r.SessionID))
	if err != nil {
		return Event{}, err
	}
	length, err := toFloat64("length", scalar(r.Length))
	if err != nil {
		return Event{}, err
	}

	return Event{
		Line:      line,
		TS:        ts,
		Song:      deref(r.Song),
		Artist:    deref(r.Artist),
		Length:    length,
		UserID:    uid,
		FirstName: deref(r.FirstName),
		LastName:  deref(r.LastName),
		Gender:    deref(r.Gender),
		Level:     deref(r.Level),
		SessionID: sid,
		Location:  deref(r.Location),
		UserAgent: deref(r.UserAgent),
	}, nil
}

// scalar decodes a raw JSON value keeping numbers as json.Number. Missing
// values, null and anything that does not decode become nil.
func scalar(raw json.RawMessage) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

// toInt64 accepts a JSON integer or a string holding one; userId arrives as
// a string ("39") in the corpus.
func toInt64(field string, v any) (int64, error) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = string(t)
	case string:
		s = strings.TrimSpace(t)
	case nil:
		return 0, fmt.Errorf("%s: %w: null", field, timedim.ErrTypeConversion)
	default:
		return 0, fmt.Errorf("%s: %w: unexpected %T", field, timedim.ErrTypeConversion, v)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %q", field, timedim.ErrTypeConversion, s)
	}
	return n, nil
}

func toFloat64(field string, v any) (float64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%s: %w: unexpected %T", field, timedim.ErrTypeConversion, v)
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %q", field, timedim.ErrTypeConversion, n)
	}
	return f, nil
}
