package instance

import "os"

// ID names the running process for log correlation. Heroku sets DYNO; the
// worker fleet sets WORKER_ID.
func ID() string {
	for _, key := range []string{"DYNO", "WORKER_ID"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
