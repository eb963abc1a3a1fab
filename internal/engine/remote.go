package engine

import (
	"context"
	"errors"
	"time"

	"github.com/msageha/sakina/internal/model"
	"github.com/msageha/sakina/internal/uds"
)

// RemoteLoop drives the in-process loop of a running daemon over its socket.
// Short-lived CLI activations use it as their loop layer; with no daemon
// running it reports itself unavailable.
type RemoteLoop struct {
	client *uds.Client
}

func NewRemoteLoop(socketPath string) *RemoteLoop {
	c := uds.NewClient(socketPath)
	c.SetTimeout(5 * time.Second)
	return &RemoteLoop{client: c}
}

func (r *RemoteLoop) Name() string { return "layer1 (daemon)" }

func (r *RemoteLoop) Available(context.Context) bool {
	return r.client.Ping()
}

func (r *RemoteLoop) Arm(_ context.Context, snap model.Snapshot) error {
	return r.client.Call(uds.CmdArmLoop, snap, nil)
}

// Stop asks the daemon to stop its loop. No daemon means no loop to stop.
func (r *RemoteLoop) Stop(context.Context) error {
	err := r.client.Call(uds.CmdStopLoop, nil, nil)
	if errors.Is(err, uds.ErrDaemonUnavailable) {
		return nil
	}
	return err
}
