package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/dittomount/dms/pkg/metrics"
	"github.com/dittomount/dms/pkg/model"
	"github.com/dittomount/dms/pkg/rpctransport"
)

// TransportCaller adapts *rpctransport.Client to the Caller interface
// so the coordinator's RPC dependency can be stubbed in tests without
// dragging in a broker.
type TransportCaller struct {
	Client  *rpctransport.Client
	Metrics *metrics.Metrics
}

func (t *TransportCaller) Call(ctx context.Context, nodeID string, req *model.MountRequest, timeout time.Duration) (*model.MountResponse, error) {
	start := time.Now()
	resp, err := rpctransport.CallMount(ctx, t.Client, nodeID, req, timeout)

	status := metrics.StatusSuccess
	switch {
	case err != nil:
		status = metrics.StatusError
		if te, ok := err.(*model.TransportError); ok && strings.HasPrefix(te.Message, "no reply within") {
			status = metrics.StatusTimeout
		}
	case resp.Status != model.StatusSuccess:
		status = metrics.StatusError
	}
	t.Metrics.ObserveRPC(string(req.Action), status, time.Since(start))

	return resp, err
}

var _ Caller = (*TransportCaller)(nil)
