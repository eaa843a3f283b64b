package channel

import (
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/sharedorigin/internal/cluster"
)

// Receiver accepts broadcasts on POST /events and hands them to a
// Dispatcher, dropping duplicates.
type Receiver struct {
	dispatcher Dispatcher
	log        *zap.Logger

	mu   sync.Mutex
	last map[cluster.PeerID]uint64
}

// NewReceiver returns a handler that passes each new message to dispatcher.
func NewReceiver(dispatcher Dispatcher, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		dispatcher: dispatcher,
		log:        logger,
		last:       make(map[cluster.PeerID]uint64),
	}
}

// ServeHTTP accepts one message per POST. Duplicates are answered but not
// dispatched.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg cluster.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := msg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !rc.accept(msg) {
		duplicates.Inc()
		rc.log.Debug("duplicate message dropped",
			zap.String("kind", string(msg.Kind)), zap.Uint64("seq", msg.Seq))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	received.WithLabelValues(string(msg.Kind)).Inc()
	rc.dispatcher.Dispatch(r.Context(), msg)
	w.WriteHeader(http.StatusNoContent)
}

// accept records msg and reports whether it is new. Sequence 1 restarts the
// sender's numbering.
func (rc *Receiver) accept(msg cluster.Message) bool {
	if msg.Seq == 0 {
		return true
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	last, ok := rc.last[msg.Sender]
	if ok && msg.Seq <= last && msg.Seq != 1 {
		return false
	}
	rc.last[msg.Sender] = msg.Seq
	return true
}
