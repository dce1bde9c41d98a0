package chrome

import (
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"svg2pdf/internal/domain"
	"svg2pdf/internal/infra/logging"
)

// startPump subscribes to browser-level protocol events and supervises the
// connection. chromedp's own reader goroutine resolves command responses;
// the pump counts and dispatches events and turns a dropped connection into
// a session failure instead of a crash.
func (s *Session) startPump() {
	c := chromedp.FromContext(s.browserCtx)
	lost := c.Browser.LostConnection

	chromedp.ListenBrowser(s.browserCtx, func(ev interface{}) {
		s.events.Add(1)
		dispatchEvent(ev)
	})

	go func() {
		select {
		case <-lost:
			logging.Error("Browser connection lost", "driver", DriverName)
			s.fail(domain.ErrConnectionLost)
		case <-s.browserCtx.Done():
			// Close already recorded ErrSessionClosed; anything else means the
			// browser went away underneath us.
			s.fail(domain.ErrConnectionLost)
		case <-s.done:
		}
	}()
}

// dispatchEvent runs on chromedp's event goroutine and must not block.
func dispatchEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCrashed:
		logging.Error("Browser target crashed", "target_id", string(e.TargetID), "status", e.Status, "code", e.ErrorCode)
	case *target.EventDetachedFromTarget:
		logging.Debug("Detached from target", "session_id", string(e.SessionID))
	case *inspector.EventDetached:
		logging.Warn("Inspector detached", "reason", e.Reason)
	}
}
