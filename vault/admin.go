package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/oasisprotocol/yieldvault/common"
	"github.com/oasisprotocol/yieldvault/strategy"
)

// WithdrawFees sends the accumulated fees to the administrator and returns
// the amount sent.
func (e *Engine) WithdrawFees(ctx context.Context, caller common.Address) (*big.Int, error) {
	sent := new(big.Int)
	err := e.guarded(ctx, "withdraw_fees", func(ctx context.Context) error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		fees := e.totals.AccumulatedFees
		if fees.Sign() == 0 {
			return nil
		}
		held, err := e.ledger.BalanceOf(ctx, e.asset, e.address)
		if err != nil {
			return fmt.Errorf("reading vault balance: %w", err)
		}
		if held.Cmp(fees) < 0 {
			return fmt.Errorf("%w: owed %s, holding %s", ErrInsufficientFeeReserve, fees, held)
		}
		if err = e.ledger.Transfer(ctx, e.asset, e.address, e.admin, fees); err != nil {
			return fmt.Errorf("sending fees: %w", err)
		}
		sent.Set(fees)
		totals := e.totals.copy()
		totals.AccumulatedFees = new(big.Int)
		e.setTotals(totals)

		ev := newEvent(EventFeesWithdrawn, e.now())
		ev.To, ev.Amount = addr(e.admin), amount(sent)
		e.emit(ev)
		e.logger.Info("fees withdrawn", "amount", sent)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sent, nil
}

// EmergencyWithdraw pulls everything out of the active strategy and sends it
// to the administrator, bypassing per-user accounting. Afterwards user
// records are no longer backed by funds. Works even if the active strategy
// has been revoked.
func (e *Engine) EmergencyWithdraw(ctx context.Context, caller common.Address) (*big.Int, error) {
	recovered := new(big.Int)
	err := e.guarded(ctx, "emergency_withdraw", func(ctx context.Context) error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		active := e.registry.active
		if active == common.ZeroAddress {
			return nil
		}
		adapter, ok := e.Adapter(active)
		if !ok {
			return fmt.Errorf("%w: active %s is not registered", ErrInvalidStrategy, active)
		}
		got, err := adapter.WithdrawAll(ctx, e.address)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWithdrawFailed, err)
		}
		if err = e.ledger.Transfer(ctx, e.asset, e.address, e.admin, got); err != nil {
			return fmt.Errorf("sending recovered funds: %w", err)
		}
		recovered = got

		ev := newEvent(EventEmergencyWithdrawn, e.now())
		ev.Adapter, ev.To, ev.Amount = addr(active), addr(e.admin), amount(got)
		e.emit(ev)
		e.logger.Warn("emergency withdrawal", "strategy", active, "amount", got)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

// WithdrawRewardToken sweeps amount of an incidental token held by the vault
// to `to`. The vault asset cannot be swept.
func (e *Engine) WithdrawRewardToken(ctx context.Context, caller, token, to common.Address, amt *big.Int) error {
	return e.guarded(ctx, "withdraw_reward_token", func(ctx context.Context) error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		if token == e.asset {
			return ErrRewardTokenNotAllowed
		}
		if amt == nil || amt.Sign() <= 0 {
			return ErrZeroAmount
		}
		if err := e.ledger.Transfer(ctx, token, e.address, to, amt); err != nil {
			return fmt.Errorf("sweeping %s: %w", token, err)
		}

		ev := newEvent(EventRewardTokenWithdrawn, e.now())
		ev.Token, ev.To, ev.Amount = addr(token), addr(to), amount(amt)
		e.emit(ev)
		e.logger.Info("reward token withdrawn", "token", token, "to", to, "amount", amt)
		return nil
	})
}

// ClaimRewards asks the active strategy to claim venue incentives to the
// vault. Strategy failures are logged and reported as zero.
func (e *Engine) ClaimRewards(ctx context.Context, caller common.Address) (*big.Int, error) {
	claimed := new(big.Int)
	err := e.guarded(ctx, "claim_rewards", func(ctx context.Context) error {
		if err := e.requireAdmin(caller); err != nil {
			return err
		}
		active := e.registry.active
		if active == common.ZeroAddress {
			return nil
		}
		adapter, ok := e.Adapter(active)
		if !ok {
			return nil
		}
		res := strategy.TryCall(ctx, func(ctx context.Context) (*big.Int, error) {
			return adapter.ClaimRewards(ctx, e.address)
		})
		if !res.OK() {
			e.metrics.BestEffortFailures("claim_rewards").Inc()
			e.logger.Warn("claiming rewards failed", "strategy", active, "err", res.Err)
			return nil
		}
		claimed = res.Value
		if claimed.Sign() > 0 {
			ev := newEvent(EventRewardsClaimed, e.now())
			ev.Adapter, ev.Amount = addr(active), amount(claimed)
			e.emit(ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
