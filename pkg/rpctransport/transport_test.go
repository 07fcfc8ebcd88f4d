package rpctransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dittomount/dms/pkg/broker"
	"github.com/dittomount/dms/pkg/model"
)

func TestCallMountRoundTrip(t *testing.T) {
	b := broker.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewListener(b, "node-1")
	go listener.Serve(ctx, func(ctx context.Context, body []byte) []byte {
		req, err := UnmarshalRequest(body)
		require.NoError(t, err)
		assert.Equal(t, "tgt-A", req.BackupTarget.ID)

		mountPath := req.BackupTarget.FilesystemExportMountPath
		return MarshalResponse(&model.MountResponse{
			Status:    model.StatusSuccess,
			MountPath: &mountPath,
		})
	})

	client, err := NewClient(ctx, b)
	require.NoError(t, err)
	defer client.Close()

	// give the listener's consumer goroutine a moment to register.
	time.Sleep(10 * time.Millisecond)

	req := &model.MountRequest{
		Token:  "tok",
		Job:    model.Job{ID: 1001},
		Host:   "h1",
		Action: model.ActionMount,
		BackupTarget: model.BackupTarget{
			ID:                        "tgt-A",
			Type:                      model.TargetTypeS3,
			SecretRef:                 strPtrT("vault://secrets/tgt-A"),
			FilesystemExportMountPath: "/m/A",
		},
	}

	resp, err := CallMount(ctx, client, "node-1", req, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
	require.NotNil(t, resp.MountPath)
	assert.Equal(t, "/m/A", *resp.MountPath)
}

func TestCallTimesOutWithoutListener(t *testing.T) {
	b := broker.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewClient(ctx, b)
	require.NoError(t, err)
	defer client.Close()

	req := &model.MountRequest{
		Token:  "tok",
		Job:    model.Job{ID: 1001},
		Host:   "h1",
		Action: model.ActionMount,
		BackupTarget: model.BackupTarget{
			ID:                        "tgt-A",
			Type:                      model.TargetTypeS3,
			SecretRef:                 strPtrT("vault://secrets/tgt-A"),
			FilesystemExportMountPath: "/m/A",
		},
	}

	_, err = CallMount(ctx, client, "no-such-node", req, 50*time.Millisecond)
	require.Error(t, err)

	var terr *model.TransportError
	require.ErrorAs(t, err, &terr)
}

func TestConcurrentCallsGetCorrectReplies(t *testing.T) {
	b := broker.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewListener(b, "node-1")
	go listener.Serve(ctx, func(ctx context.Context, body []byte) []byte {
		req, _ := UnmarshalRequest(body)
		return MarshalResponse(&model.MountResponse{
			Status:    model.StatusSuccess,
			MountPath: &req.BackupTarget.FilesystemExportMountPath,
		})
	})

	client, err := NewClient(ctx, b)
	require.NoError(t, err)
	defer client.Close()
	time.Sleep(10 * time.Millisecond)

	results := make(chan string, 2)
	call := func(targetID, path string) {
		req := &model.MountRequest{
			Token:  "tok",
			Job:    model.Job{ID: 1},
			Host:   "h1",
			Action: model.ActionMount,
			BackupTarget: model.BackupTarget{
				ID:                        targetID,
				Type:                      model.TargetTypeS3,
				SecretRef:                 strPtrT("vault://secrets/" + targetID),
				FilesystemExportMountPath: path,
			},
		}
		resp, err := CallMount(ctx, client, "node-1", req, 2*time.Second)
		require.NoError(t, err)
		results <- *resp.MountPath
	}

	go call("tgt-A", "/m/A")
	go call("tgt-B", "/m/B")

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case path := <-results:
			got[path] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent replies")
		}
	}
	assert.True(t, got["/m/A"])
	assert.True(t, got["/m/B"])
}

func strPtrT(s string) *string { return &s }
