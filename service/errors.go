package service

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded means the user has no invite allowance left. The
	// storage-layer guard rejecting a concurrent decrement surfaces as this
	// same error: from the user's view another request used their last invite.
	ErrQuotaExceeded = errors.New("no invites remaining")

	// ErrNoInviteRole means none of the user's roles grant invites.
	ErrNoInviteRole = errors.New("no role grants invites")

	// ErrNotConfigured means the guild has not completed /setup.
	ErrNotConfigured = errors.New("guild is not set up")

	// ErrAlreadySetup means /setup was already completed for the guild.
	ErrAlreadySetup = errors.New("guild is already set up")

	// ErrInviteGone is returned by the gateway when Discord reports an
	// invite code that no longer exists. Deletion paths treat it as success.
	ErrInviteGone = errors.New("invite no longer exists on discord")

	// ErrInviteNotFound means the referenced invite record does not exist.
	ErrInviteNotFound = errors.New("invite not found")

	// ErrInsufficientBalance means an admin removal would overdraw the target.
	ErrInsufficientBalance = errors.New("not enough invites remaining to remove")
)

// RemoteError wraps a failed or timed-out Discord REST call. It is never
// retried automatically; when it follows a successful pre-decrement the
// caller has already issued the compensating refund.
type RemoteError struct {
	Op  string // "create_invite", "delete_invite", "fetch_invites"
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("discord %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// WrongChannelError means a command ran outside the configured bot channel.
type WrongChannelError struct {
	BotChannelID int64
}

func (e *WrongChannelError) Error() string {
	return fmt.Sprintf("command restricted to channel %d", e.BotChannelID)
}
