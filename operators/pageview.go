package operators

import (
	"errors"

	"github.com/birdayz/clickstream/kprocessor"
	"github.com/birdayz/clickstream/kstate"
)

// PageView is one click of a web log, keyed by client IP.
type PageView struct {
	IP        string `json:"ip"`
	Timestamp int64  `json:"timestamp"`
	URL       string `json:"url"`
	Referrer  string `json:"referrer"`
	UserAgent string `json:"useragent"`
	SessionID int64  `json:"sessionid"`
}

// StampPageView sets the session id on a copy of pv.
func StampPageView(pv PageView, sessionID int64) PageView {
	pv.SessionID = sessionID
	return pv
}

// PageViewTimestamp uses the click time carried in the payload.
func PageViewTimestamp(r kprocessor.Record[string, PageView]) int64 {
	return r.Value.Timestamp
}

var errMissingTimestamp = errors.New("page view without timestamp")

// ValidatePageView rejects page views the sessionizer cannot place in time.
func ValidatePageView(ip string, pv PageView) error {
	if pv.Timestamp <= 0 {
		return errMissingTimestamp
	}
	return nil
}

// PageViewSessionizer is the sessionizer shipped with clickstream: string IP
// keys and PageView payloads, sessionized on the payload timestamp.
// A nil store selects an unbounded in-memory store.
func PageViewSessionizer(sessionLengthMs int64, store kstate.StoreBuilder[string, SessionState]) kprocessor.OperatorBuilder[string, PageView, PageView] {
	return Validated(ValidatePageView, NewSessionizer(SessionizerConfig[string, PageView]{
		SessionLengthMs: sessionLengthMs,
		Stamp:           StampPageView,
		Timestamp:       PageViewTimestamp,
		Store:           store,
	}))
}
