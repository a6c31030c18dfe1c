// Package obs carries the service's observability surface: the shared
// JSON-lines logger, Prometheus metrics and the HTTP instrumentation wrapper.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

const serviceName = "opsdeck-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line. Entries are tagged with the
// service name so governance lines are separable when logs are aggregated
// with the rest of the platform.
func LogRequest(entry map[string]any) {
	if _, ok := entry["service"]; !ok {
		entry["service"] = serviceName
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed","service":"` + serviceName + `"}`)
		return
	}
	Logger().Println(string(data))
}
