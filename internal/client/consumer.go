package client

import (
	"errors"
	"fmt"
	"io"

	"deskagent/internal/action"
	"deskagent/internal/stream"
)

// ErrStreamTruncated means the server closed the stream without a final or
// error event.
var ErrStreamTruncated = errors.New("stream ended before a final or error event")

// EventSource yields stream events; *stream.Decoder and *EventStream satisfy it.
type EventSource interface {
	Next() (stream.Event, error)
}

// Terminal 一轮流的结束状态：Final 或 Error 二选一
// Terminal is how one turn's stream ended: exactly one of Final or Error
type Terminal struct {
	SessionID string
	Final     *action.Envelope
	Error     *stream.ErrorPayload
}

// Consume 读取事件直到 final/error；session_id 立即回调
// Consume renders events until the terminal one. onSession is called as
// soon as a session_id event arrives.
func Consume(events EventSource, r *Renderer, onSession func(string)) (Terminal, error) {
	var term Terminal
	for {
		ev, err := events.Next()
		if errors.Is(err, io.EOF) {
			return term, ErrStreamTruncated
		}
		if err != nil {
			return term, fmt.Errorf("read stream: %w", err)
		}
		switch ev.Type {
		case stream.TypeSessionID:
			id, err := ev.Text()
			if err != nil {
				return term, err
			}
			term.SessionID = id
			if onSession != nil {
				onSession(id)
			}
		case stream.TypeFinal:
			env, err := ev.Envelope()
			if err != nil {
				return term, err
			}
			r.Final(env)
			term.Final = &env
			return term, nil
		case stream.TypeError:
			p, err := ev.ErrorPayload()
			if err != nil {
				return term, err
			}
			r.Error(p)
			term.Error = &p
			return term, nil
		default:
			r.Event(ev)
		}
	}
}

func errorPayload(err error) stream.ErrorPayload {
	return stream.ErrorPayload{Message: err.Error()}
}
