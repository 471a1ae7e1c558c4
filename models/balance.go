package models

import (
	"strconv"
	"time"
)

// UnlimitedSentinel is the stored representation of an unlimited balance or
// quota. It only exists at the storage boundary; in code, Balance keeps the
// unlimited case out of arithmetic entirely.
const UnlimitedSentinel int64 = -1

// Balance is the number of invites a user may still mint under one role.
// It is a tagged value: either Unlimited, or Finite with a non-negative count.
type Balance struct {
	unlimited bool
	remaining int64
}

// Finite returns a balance of n remaining invites. Negative n is clamped to 0.
func Finite(n int64) Balance {
	if n < 0 {
		n = 0
	}
	return Balance{remaining: n}
}

// Unlimited returns the inexhaustible balance.
func Unlimited() Balance {
	return Balance{unlimited: true}
}

// BalanceFromStored converts the persisted integer (-1 = unlimited) into a Balance.
func BalanceFromStored(v int64) Balance {
	if v == UnlimitedSentinel {
		return Unlimited()
	}
	return Finite(v)
}

// IsUnlimited reports whether the balance is inexhaustible.
func (b Balance) IsUnlimited() bool {
	return b.unlimited
}

// Remaining returns the finite count. Zero for unlimited balances; callers
// must check IsUnlimited before doing quota math.
func (b Balance) Remaining() int64 {
	if b.unlimited {
		return 0
	}
	return b.remaining
}

// Stored returns the persisted integer representation.
func (b Balance) Stored() int64 {
	if b.unlimited {
		return UnlimitedSentinel
	}
	return b.remaining
}

func (b Balance) String() string {
	if b.unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(b.remaining, 10)
}

// UserBalance is one user's invite allowance under one qualifying role.
// A user can hold independent balances under multiple roles at once.
type UserBalance struct {
	ID        int64     `db:"id"`
	GuildID   int64     `db:"guild_id"`
	UserID    int64     `db:"user_id"`
	RoleID    int64     `db:"role_id"`
	Remaining Balance   `db:"invites_remaining"`
	CreatedAt time.Time `db:"created_at"`
}
