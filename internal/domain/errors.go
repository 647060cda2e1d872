package domain

import "errors"

var (
	// ErrNotFound is returned when a tenant-scoped row does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a row whose natural key is taken
	ErrAlreadyExists = errors.New("already exists")

	// ErrCapacityRaceLost is returned when a conditional load increment matched no row
	// because the agent's last slot was claimed by a concurrent routing decision.
	ErrCapacityRaceLost = errors.New("capacity race lost")

	// ErrCapacityUnderflow is returned when a decrement would take an agent's load below zero.
	// It always indicates a bookkeeping defect upstream.
	ErrCapacityUnderflow = errors.New("capacity underflow")

	// ErrInvalidStateTransition covers enqueueing an assigned conversation, releasing a
	// conversation from an agent that does not hold it, and similar misuse.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrStoreUnavailable marks failures of the persistence layer during a write
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidRule is returned for routing rules that fail validation
	ErrInvalidRule = errors.New("invalid routing rule")

	// ErrInvalidSettings is returned for tenant routing settings that fail validation
	ErrInvalidSettings = errors.New("invalid routing settings")

	// ErrInvalidAgent is returned for agent capacity rows that fail validation
	ErrInvalidAgent = errors.New("invalid agent capacity")

	// ErrInvalidConversation is returned for routing requests missing identity or with a bad priority
	ErrInvalidConversation = errors.New("invalid conversation")
)
