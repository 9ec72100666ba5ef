package homiecards

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/homie-scheduler/homie-cards/cards"
)

// SetupDebugHandlers registers the card runtime debug handler.
func SetupDebugHandlers(kraWeb interface {
	Handle(pattern string, handler http.Handler)
}, manager *cards.Manager) {
	kraWeb.Handle("/debug/cards", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		debugInfo := struct {
			Timestamp time.Time           `json:"timestamp"`
			Cards     []cards.CardRuntime `json:"cards"`
		}{
			Timestamp: time.Now(),
			Cards:     manager.Runtime(),
		}

		data, err := json.MarshalIndent(debugInfo, "", "  ")
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to marshal debug info: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			return
		}
	}))
}
