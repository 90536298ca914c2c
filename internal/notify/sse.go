package notify

import (
	"bufio"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// WriteEvent writes msg in Server-Sent Events framing and flushes it.
func WriteEvent(w *bufio.Writer, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.ID, msg.Type, data); err != nil {
		return err
	}
	return w.Flush()
}

// WriteHeartbeat writes an SSE comment line so proxies keep the stream open.
func WriteHeartbeat(w *bufio.Writer, now time.Time) error {
	if _, err := fmt.Fprintf(w, ": ping %d\n\n", now.Unix()); err != nil {
		return err
	}
	return w.Flush()
}

// Stream copies messages from ch to w until ch is closed, done fires or a write fails.
// A heartbeat is sent every interval.
func Stream(w *bufio.Writer, ch <-chan Message, done <-chan struct{}, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := WriteEvent(w, msg); err != nil {
				return err
			}
		case t := <-ticker.C:
			if err := WriteHeartbeat(w, t); err != nil {
				return err
			}
		case <-done:
			return nil
		}
	}
}
