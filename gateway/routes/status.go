package routes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"paymebridge/events"
)

const maxDebugBody = 64 << 10

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"mode":        s.mode(),
		"merchant_id": s.cfg.MerchantID,
		"publisher": map[string]interface{}{
			"driver":    s.cfg.Publisher.Driver,
			"connected": s.publisherConnected(),
		},
		"time": s.cfg.Now().UnixMilli(),
	})
}

func (s *server) publisherStatus(w http.ResponseWriter, _ *http.Request) {
	endpoint := ""
	if s.cfg.Publisher.Status != nil {
		endpoint = s.cfg.Publisher.Status.Endpoint()
	}
	body := map[string]interface{}{
		"driver":    s.cfg.Publisher.Driver,
		"connected": s.publisherConnected(),
		"endpoint":  endpoint,
		"topics": map[string]string{
			"payments": s.topic(),
			"control":  "control/" + s.cfg.MerchantID,
			"config":   "config/" + s.cfg.MerchantID,
		},
		"merchant_id": s.cfg.MerchantID,
	}
	if s.cfg.Queue != nil {
		body["queue"] = s.cfg.Queue.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *server) debugTransactions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Transactions == nil {
		writeError(w, http.StatusNotFound, "transactions unavailable")
		return
	}
	txs, err := s.cfg.Transactions.Transactions(r.Context())
	if err != nil {
		s.cfg.Logger.Error("debug: list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(txs),
		"transactions": txs,
	})
}

// debugPublish queues a test event for the device. An empty body sends a
// synthetic confirmed payment.
func (s *server) debugPublish(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "event queue unavailable")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDebugBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	now := s.cfg.Now().UnixMilli()
	payload := map[string]interface{}{
		"status":         "confirmed",
		"amount":         5000,
		"amount_tiyin":   500000,
		"currency":       "UZS",
		"transaction_id": "test_" + strconv.FormatInt(now, 10),
		"time":           now,
		"test":           true,
	}
	if len(body) > 0 {
		custom := map[string]interface{}{}
		if err := json.Unmarshal(body, &custom); err != nil {
			writeError(w, http.StatusBadRequest, "payload must be a JSON object")
			return
		}
		payload = custom
	}
	if !s.publisherConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success":   false,
			"error":     "publisher not connected",
			"connected": false,
			"topic":     s.topic(),
		})
		return
	}
	if err := s.cfg.Queue.Enqueue(s.topic(), payload); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, events.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"queued":  true,
		"topic":   s.topic(),
		"payload": payload,
	})
}
