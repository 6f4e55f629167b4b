package diag

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/diagscope/diagscope/internal/domain/response"
	"github.com/diagscope/diagscope/internal/domain/session"
)

// metricsHandler renders the registry in the exposition format the
// client asked for. Text is the default.
func metricsHandler(g prometheus.Gatherer) response.Response {
	return response.Try(func(s *session.Params) (response.WireResponse, error) {
		families, err := g.Gather()
		if err != nil && len(families) == 0 {
			return response.WireResponse{}, fmt.Errorf("gather metrics: %w", err)
		}

		format := expfmt.Negotiate(http.Header{"Accept": s.HeaderValues("Accept")})
		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, format)
		for _, mf := range families {
			if encErr := enc.Encode(mf); encErr != nil {
				return response.WireResponse{}, fmt.Errorf("encode %s: %w", mf.GetName(), encErr)
			}
		}

		w := response.Fixed(http.StatusOK, string(format), buf.Bytes())
		// Partial gather failures still serve what was collected
		w.Err = err
		return w, nil
	})
}
