package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type observation struct {
	method, route, status string
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observation
}

func (r *recordingObserver) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observation{method, route, status})
}

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	obs := &recordingObserver{}
	router := setupTestRouter()
	router.Use(Metrics(obs), RequestLogger(quietLogger()))
	router.GET("/bookings/:booking_id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for _, path := range []string{"/bookings/a", "/bookings/b", "/nope"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	}

	assert.Equal(t, []observation{
		{"GET", "/bookings/:booking_id", "204"},
		{"GET", "/bookings/:booking_id", "204"},
		{"GET", "unmatched", "404"},
	}, obs.seen)
}
