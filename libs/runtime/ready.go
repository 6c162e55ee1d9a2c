package runtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ReadyCheck names one dependency probed by /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// NewBaseMuxWithReady builds the service mux with the liveness and readiness
// endpoints. /healthz always answers ok; /readyz runs every check under a
// short timeout and lists the failures in the body.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		var failures []string
		for _, check := range checks {
			if check.Check == nil {
				continue
			}
			if err := runCheck(r.Context(), check); err != nil {
				failures = append(failures, err.Error())
			}
		}
		if len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Join(failures, "; ")))
			return
		}
		writeOK(w)
	})
	return mux
}

func runCheck(ctx context.Context, check ReadyCheck) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := check.Check(ctx); err != nil {
		name := check.Name
		if name == "" {
			name = "dependency"
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func writeOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
