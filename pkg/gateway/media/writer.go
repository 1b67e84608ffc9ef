package media

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/voicebridge/pkg/core/audio"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type outboundFrame struct {
	payload []byte
	// paced frames carry audio and wait on the pacer before being written.
	paced bool
}

// outboundBatch is one utterance: its media frames followed by its mark.
type outboundBatch struct {
	id     string
	frames []outboundFrame
}

type writerConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	FrameSpacing time.Duration
}

// outboundWriter owns every write to the socket. Priority frames (clear)
// preempt audio and discard whatever utterances are still queued.
type outboundWriter struct {
	ws       wsWriter
	ctx      context.Context
	cfg      writerConfig
	priority <-chan []byte
	normal   <-chan outboundBatch
	onFrame  func()
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	pacer := audio.NewPacer(w.cfg.FrameSpacing)

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var current []outboundFrame

	for {
		select {
		case <-w.ctx.Done():
			w.flushPriorityOnShutdown(writeTimeout)
			_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
			_ = w.ws.Close()
			return nil
		default:
		}

		select {
		case payload, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			current = nil
			w.drainNormal()
			if err := w.write(payload, writeTimeout); err != nil {
				return err
			}
			continue
		default:
		}

		if len(current) > 0 {
			frame := current[0]
			current = current[1:]
			if frame.paced {
				if err := pacer.Wait(w.ctx); err != nil {
					continue
				}
			}
			if err := w.write(frame.payload, writeTimeout); err != nil {
				return err
			}
			if frame.paced && w.onFrame != nil {
				w.onFrame()
			}
			continue
		}

		if w.priority == nil && w.normal == nil {
			return nil
		}

		select {
		case <-w.ctx.Done():
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case payload, ok := <-w.priority:
			if !ok {
				w.priority = nil
				continue
			}
			w.drainNormal()
			if err := w.write(payload, writeTimeout); err != nil {
				return err
			}
		case batch, ok := <-w.normal:
			if !ok {
				w.normal = nil
				continue
			}
			current = batch.frames
		}
	}
}

func (w *outboundWriter) drainNormal() {
	for {
		select {
		case _, ok := <-w.normal:
			if !ok {
				w.normal = nil
				return
			}
		default:
			return
		}
	}
}

func (w *outboundWriter) flushPriorityOnShutdown(writeTimeout time.Duration) {
	if w.priority == nil {
		return
	}
	flushTimeout := 100 * time.Millisecond
	if writeTimeout > 0 && writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)
	for i := 0; i < 4 && time.Now().Before(deadline); i++ {
		select {
		case payload, ok := <-w.priority:
			if !ok {
				return
			}
			_ = w.write(payload, writeTimeout)
		default:
			return
		}
	}
}

func (w *outboundWriter) write(payload []byte, writeTimeout time.Duration) error {
	if len(payload) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, payload)
}
