package cqrs_test

import (
	"context"
	"fmt"

	"github.com/parrrate/cqrs/core/cqrs"
)

// Account is the aggregate used across the package tests.
type Account struct {
	Open    bool  `json:"open"`
	Balance int64 `json:"balance"`
}

type Opened struct {
	Balance int64 `json:"balance"`
}

func (Opened) EventType() string { return "account.opened" }

type Deposited struct {
	Amount int64 `json:"amount"`
}

func (Deposited) EventType() string { return "account.deposited" }

type Withdrawn struct {
	Amount int64 `json:"amount"`
}

func (Withdrawn) EventType() string { return "account.withdrawn" }

type OpenAccount struct {
	Balance int64
}

type Deposit struct {
	Amount int64
}

type Withdraw struct {
	Amount int64
}

// Ping is a command that produces no events.
type Ping struct{}

func (a *Account) AggregateType() string { return "account" }

func (a *Account) Apply(event any) error {
	switch ev := event.(type) {
	case *Opened:
		a.Open = true
		a.Balance = ev.Balance
	case *Deposited:
		a.Balance += ev.Amount
	case *Withdrawn:
		a.Balance -= ev.Amount
	default:
		return fmt.Errorf("unexpected event %T", event)
	}
	return nil
}

func (a *Account) Handle(_ context.Context, command any) ([]any, error) {
	switch cmd := command.(type) {
	case OpenAccount:
		if a.Open {
			return nil, cqrs.NewUserError("account already open")
		}
		return []any{&Opened{Balance: cmd.Balance}}, nil
	case Deposit:
		if !a.Open {
			return nil, cqrs.NewUserError("account not open")
		}
		if cmd.Amount <= 0 {
			return nil, cqrs.NewUserErrorWithCode("invalid_amount", "amount must be positive")
		}
		return []any{&Deposited{Amount: cmd.Amount}}, nil
	case Withdraw:
		if !a.Open {
			return nil, cqrs.NewUserError("account not open")
		}
		if cmd.Amount > a.Balance {
			return nil, cqrs.NewUserErrorWithCode("insufficient_funds", "insufficient funds")
		}
		return []any{&Withdrawn{Amount: cmd.Amount}}, nil
	case Ping:
		return nil, nil
	}
	return nil, cqrs.NewTechnicalError(fmt.Sprintf("unexpected command %T", command))
}

func accountRegistry() *cqrs.EventRegistry {
	reg := cqrs.NewEventRegistry()
	if err := reg.Register(
		cqrs.Event[Opened](),
		cqrs.Event[Deposited](),
		cqrs.Event[Withdrawn](),
	); err != nil {
		panic(err)
	}
	return reg
}
