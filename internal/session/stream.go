package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/journal"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

// tap forwards captured buffers to the live recognition stream and recorder.
// It runs on the capture goroutine, so it has its own lock.
type tap struct {
	mu       sync.Mutex
	stream   stt.Stream
	recorder audio.Recorder
	log      *slog.Logger
}

func (t *tap) set(stream stt.Stream, rec audio.Recorder) {
	t.mu.Lock()
	t.stream, t.recorder = stream, rec
	t.mu.Unlock()
}

func (t *tap) setStream(stream stt.Stream) {
	t.mu.Lock()
	t.stream = stream
	t.mu.Unlock()
}

func (t *tap) handle(pcm []byte) {
	t.mu.Lock()
	stream, rec := t.stream, t.recorder
	t.mu.Unlock()
	if rec != nil {
		if err := rec.Write(pcm); err != nil && t.log != nil {
			t.log.Debug("recorder write failed", slog.String("error", err.Error()))
		}
	}
	if stream != nil {
		// Push fails only for a stream being replaced; the next one picks up.
		_ = stream.Push(pcm)
	}
}

func (c *Controller) openStream(sessionID string) (stt.Stream, error) {
	format := c.opts.Source.Format()
	return c.opts.Recognizer.Open(c.ctx, stt.Request{
		SessionID:  sessionID,
		Locale:     c.opts.Locale,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Interim:    true,
	})
}

// attach makes stream the live one and starts forwarding its events.
func (c *Controller) attach(stream stt.Stream) {
	c.gen++
	gen := c.gen
	c.stream = stream
	c.tap.log = c.log
	c.tap.setStream(stream)
	c.resetTimer()
	go func() {
		for ev := range stream.Events() {
			c.post(func() { c.onEvent(gen, ev) })
		}
		c.post(func() { c.onStreamEnded(gen) })
	}()
}

// detach abandons the live stream; its remaining events are ignored.
func (c *Controller) detach() {
	c.gen++
	c.stopTimer()
	if c.stream == nil {
		return
	}
	old := c.stream
	c.stream = nil
	c.tap.setStream(nil)
	go old.Cancel()
}

func (c *Controller) onEvent(gen int, ev stt.Event) {
	if gen != c.gen {
		return
	}
	switch ev.Kind {
	case stt.EventPartial:
		c.text.update(ev.Text)
		if c.recording {
			c.resetTimer()
		}
	case stt.EventFinal:
		c.text.update(ev.Text)
		c.text.commit()
	case stt.EventError:
		c.onError(ev.Err)
		return
	}
	c.publish()
}

func (c *Controller) onError(err error) {
	if err == nil {
		return
	}
	if stt.IsBenign(err) {
		c.log.Debug("recognition ended", slog.String("code", stt.CodeOf(err).String()))
		return
	}
	if c.recording {
		// Recovered by the restart that follows the stream's end.
		c.log.Warn("recognition error during session", slog.String("error", err.Error()))
		c.journal(journal.KindError, err.Error())
		return
	}
	if c.clock().Before(c.graceUntil) {
		c.log.Debug("recognition error after stop ignored", slog.String("error", err.Error()))
		return
	}
	c.errMsg = "Speech recognition failed: " + err.Error()
	c.publish()
}

// onStreamEnded restarts recognition if the stream ended while recording.
func (c *Controller) onStreamEnded(gen int) {
	if gen != c.gen {
		return
	}
	c.stream = nil
	c.tap.setStream(nil)
	c.text.commit()
	if c.recording {
		c.restart("stream ended")
	}
}

func (c *Controller) resetTimer() {
	c.stopTimer()
	gen := c.gen
	c.timer = time.AfterFunc(c.restartWait, func() {
		c.post(func() {
			if gen == c.gen && c.recording {
				c.restart("timer")
			}
		})
	})
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// restart commits the transcript so far, drops the current stream and opens
// a new one after the settle delay. Tap, recorder and segments stay live.
func (c *Controller) restart(reason string) {
	c.text.commit()
	c.detach()
	c.add(c.restarts)
	c.journal(journal.KindRestarted, reason)
	c.log.Info("restarting recognition", slog.String("session_id", c.sessionID), slog.String("reason", reason))

	gen := c.gen
	time.AfterFunc(c.settle, func() {
		c.post(func() { c.reopen(gen) })
	})
}

func (c *Controller) reopen(gen int) {
	if gen != c.gen || !c.recording {
		return
	}
	stream, err := c.openStream(c.sessionID)
	if err != nil {
		c.log.Warn("recognition restart failed", slog.String("error", err.Error()))
		c.stop("restart failed")
		c.errMsg = "Speech recognition stopped: " + err.Error()
		c.publish()
		return
	}
	c.attach(stream)
	c.publish()
}
