package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/himalmaps/tilevault/internal/core/domain"
)

const (
	deviceStateKey = "device:state"
	deviceStateTTL = 10 * time.Minute
)

// DeviceStateRepository keeps the latest client-reported connectivity
// snapshot in Valkey. The entry expires so a silent client falls back to
// scheduler defaults instead of a stale report.
type DeviceStateRepository struct {
	client valkey.Client
}

func NewDeviceStateRepository(addr string) (*DeviceStateRepository, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &DeviceStateRepository{client: client}, nil
}

func (r *DeviceStateRepository) Put(ctx context.Context, state domain.DeviceState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	cmd := r.client.Do(ctx, r.client.B().Set().Key(deviceStateKey).
		Value(string(payload)).
		Ex(deviceStateTTL).Build())
	return cmd.Error()
}

func (r *DeviceStateRepository) Get(ctx context.Context) (domain.DeviceState, bool, error) {
	cmd := r.client.Do(ctx, r.client.B().Get().Key(deviceStateKey).Build())
	payload, err := cmd.AsBytes()
	if err != nil {
		if errors.Is(err, valkey.Nil) {
			return domain.DeviceState{}, false, nil
		}
		return domain.DeviceState{}, false, err
	}
	var state domain.DeviceState
	if err := json.Unmarshal(payload, &state); err != nil {
		return domain.DeviceState{}, false, err
	}
	return state, true, nil
}

func (r *DeviceStateRepository) Close() {
	r.client.Close()
}
