package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/ledger"
	"github.com/oasisprotocol/yieldvault/storage/kvstore"
	"github.com/oasisprotocol/yieldvault/vault"
	"github.com/oasisprotocol/yieldvault/venue"
)

// CheckpointKey is where the latest checkpoint is stored.
const CheckpointKey = "checkpoint/latest"

// Checkpoint is a consistent copy of the whole world.
type Checkpoint struct {
	TakenAt int64          `cbor:"1,keyasint"`
	Ledger  ledger.State   `cbor:"2,keyasint"`
	Pools   []PoolSnapshot `cbor:"3,keyasint"`
	Vault   vault.State    `cbor:"4,keyasint"`
	APRs    []AdapterAPR   `cbor:"5,keyasint"`
}

// PoolSnapshot is one pool and its incentives controller, if any.
type PoolSnapshot struct {
	Name       string                 `cbor:"1,keyasint"`
	Pool       venue.PoolState        `cbor:"2,keyasint"`
	Incentives *venue.IncentivesState `cbor:"3,keyasint,omitempty"`
}

// AdapterAPR is the APR estimate of a lending adapter.
type AdapterAPR struct {
	Adapter common.Address `cbor:"1,keyasint"`
	Bps     uint64         `cbor:"2,keyasint"`
}

// Snapshot captures the world while no engine operation runs.
func (w *World) Snapshot(ctx context.Context) (*Checkpoint, error) {
	var cp Checkpoint
	err := w.Engine.View(ctx, func(ctx context.Context) error {
		cp.TakenAt = w.clock().Unix()
		cp.Ledger = w.Ledger.Export()
		for _, name := range w.PoolNames() {
			snap := PoolSnapshot{Name: name, Pool: w.pools[name].Export()}
			if inc, ok := w.incentives[name]; ok {
				s := inc.Export()
				snap.Incentives = &s
			}
			cp.Pools = append(cp.Pools, snap)
		}
		cp.Vault = w.Engine.Export(ctx)
		for _, s := range w.cfg.Strategies {
			addr, _ := common.ResolveAddress(s.Address)
			if a, ok := w.lending[addr]; ok {
				cp.APRs = append(cp.APRs, AdapterAPR{Adapter: addr, Bps: a.APR(ctx)})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Checkpoint writes a snapshot of the world into store.
func (w *World) Checkpoint(ctx context.Context, store kvstore.KVStore) error {
	cp, err := w.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := kvstore.PutValue(store, CheckpointKey, cp); err != nil {
		return fmt.Errorf("sandbox: writing checkpoint: %w", err)
	}
	w.logger.Info("checkpoint written",
		"accounts", len(cp.Vault.Accounts),
		"pools", len(cp.Pools),
	)
	return nil
}

// Restore loads the latest checkpoint from store. It returns false if the
// store holds none.
func (w *World) Restore(ctx context.Context, store kvstore.KVStore) (bool, error) {
	var cp Checkpoint
	switch err := kvstore.GetValue(store, CheckpointKey, &cp); {
	case errors.Is(err, kvstore.ErrNoSuchKey):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("sandbox: reading checkpoint: %w", err)
	}
	if err := w.Load(ctx, &cp); err != nil {
		return false, err
	}
	w.logger.Info("checkpoint restored", "taken_at", cp.TakenAt, "accounts", len(cp.Vault.Accounts))
	return true, nil
}

// Load replaces the world state with cp. Pools in cp that are no longer
// configured are skipped.
func (w *World) Load(ctx context.Context, cp *Checkpoint) error {
	err := w.Engine.View(ctx, func(ctx context.Context) error {
		w.Ledger.Import(cp.Ledger)
		for _, snap := range cp.Pools {
			pool, ok := w.pools[snap.Name]
			if !ok {
				w.logger.Warn("checkpoint references unknown pool", "pool", snap.Name)
				continue
			}
			pool.Import(snap.Pool)
			if inc, ok := w.incentives[snap.Name]; ok && snap.Incentives != nil {
				inc.Import(*snap.Incentives)
			}
		}
		for _, apr := range cp.APRs {
			if a, ok := w.lending[apr.Adapter]; ok {
				if err := a.UpdateAPR(ctx, w.admin, apr.Bps); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return w.Engine.Import(ctx, cp.Vault)
}
