package main

import (
	"context"
	"fmt"
	"os"

	"github.com/axiomesh/allocator/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// percentExp shifts a whole percentage to the 18-decimal fixed point.
const percentExp = 16

// PoolFile describes a funding pool and its committee.
type PoolFile struct {
	Pool     uint64 `yaml:"pool"`
	Need     string `yaml:"need"`
	Deposit  string `yaml:"deposit,omitempty"`
	Managers []struct {
		Address string `yaml:"address"`
		Weight  string `yaml:"weight"`
	} `yaml:"managers"`
	Donors []struct {
		Address string `yaml:"address"`
		Amount  string `yaml:"amount"`
	} `yaml:"donors"`
}

type Pool struct {
	ID       uint64
	Need     *uint256.Int
	Registry *core.MemoryRegistry
	Custody  *core.MemoryCustody
}

// Action is one line of an action script. Fields a kind does not use are ignored.
type Action struct {
	Action     string `yaml:"action"`
	From       string `yaml:"from"`
	Recipient  string `yaml:"recipient,omitempty"`
	Status     string `yaml:"status,omitempty"`
	Index      int    `yaml:"index,omitempty"`
	Metadata   string `yaml:"metadata,omitempty"`
	Milestones []struct {
		Percentage string `yaml:"percentage"`
		Metadata   string `yaml:"metadata"`
	} `yaml:"milestones,omitempty"`
}

type Script struct {
	Pool    uint64   `yaml:"pool,omitempty"`
	Actions []Action `yaml:"actions"`
}

func readYaml(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

func LoadPool(path string) (*Pool, error) {
	var f PoolFile
	if err := readYaml(path, &f); err != nil {
		return nil, err
	}
	return f.build()
}

func (f *PoolFile) build() (*Pool, error) {
	need, err := parseAmount(f.Need, 0)
	if err != nil {
		return nil, errors.Wrap(err, "incorrect 'need'")
	}

	registry := core.NewMemoryRegistry()
	registry.RegisterPool(f.Pool, need)
	for i, m := range f.Managers {
		addr, err := parseAddress(m.Address)
		if err != nil {
			return nil, errors.Wrapf(err, "managers[%d]", i)
		}
		w, err := parseAmount(m.Weight, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "managers[%d].weight", i)
		}
		if err := registry.AddManager(f.Pool, addr, w); err != nil {
			return nil, err
		}
	}

	custody := core.NewMemoryCustody()
	for i, d := range f.Donors {
		addr, err := parseAddress(d.Address)
		if err != nil {
			return nil, errors.Wrapf(err, "donors[%d]", i)
		}
		amount, err := parseAmount(d.Amount, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "donors[%d].amount", i)
		}
		if err := registry.AddDonor(f.Pool, addr, amount); err != nil {
			return nil, err
		}
		custody.Deposit(addr, amount)
	}
	// an explicit deposit tops the pool up beyond the donor contributions
	if f.Deposit != "" {
		extra, err := parseAmount(f.Deposit, 0)
		if err != nil {
			return nil, errors.Wrap(err, "incorrect 'deposit'")
		}
		custody.Deposit(common.Address{}, extra)
	}

	return &Pool{ID: f.Pool, Need: need, Registry: registry, Custody: custody}, nil
}

func LoadScript(path string) (*Script, error) {
	var s Script
	if err := readYaml(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount reads a non-negative decimal and shifts it by exp digits. The
// shifted value must be whole.
func parseAmount(s string, exp int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	d = d.Shift(exp)
	if d.IsNegative() || !d.IsInteger() {
		return nil, errors.Errorf("%s is not a non-negative amount with at most %d decimals", s, exp)
	}
	v, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return nil, errors.Errorf("%s overflows 256 bits", s)
	}
	return v, nil
}

func parsePercentage(s string) (*uint256.Int, error) {
	return parseAmount(s, percentExp)
}

// formatPercentage renders an 18-decimal fraction as a percentage.
func formatPercentage(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x.ToBig(), -percentExp).String()
}

// Apply runs a single action against the strategy.
func (a Action) Apply(ctx context.Context, s *core.Strategy) error {
	from, err := parseAddress(a.From)
	if err != nil {
		return errors.Wrap(err, "from")
	}
	status := func() (core.MilestoneStatus, error) {
		return core.ParseMilestoneStatus(a.Status)
	}

	switch a.Action {
	case "offer-milestones":
		inputs := make([]core.MilestoneInput, len(a.Milestones))
		for i, m := range a.Milestones {
			pct, err := parsePercentage(m.Percentage)
			if err != nil {
				return errors.Wrapf(err, "milestones[%d].percentage", i)
			}
			inputs[i] = core.MilestoneInput{Percentage: pct, Metadata: m.Metadata}
		}
		return s.OfferMilestones(ctx, from, inputs)
	case "review-milestones":
		st, err := status()
		if err != nil {
			return err
		}
		return s.ReviewMilestones(ctx, from, st)
	case "review-recipient":
		recipient, err := parseAddress(a.Recipient)
		if err != nil {
			return errors.Wrap(err, "recipient")
		}
		st, err := status()
		if err != nil {
			return err
		}
		return s.ReviewRecipient(ctx, from, recipient, st)
	case "submit-milestone":
		return s.SubmitMilestone(ctx, from, a.Index, a.Metadata)
	case "review-submission":
		st, err := status()
		if err != nil {
			return err
		}
		return s.ReviewSubmission(ctx, from, a.Index, st)
	case "reject-strategy":
		return s.RejectStrategy(ctx, from)
	default:
		return errors.Errorf("unknown action %q", a.Action)
	}
}

func (a Action) String() string {
	switch a.Action {
	case "review-recipient":
		return fmt.Sprintf("%s %s by %s", a.Action, a.Recipient, a.From)
	case "submit-milestone", "review-submission":
		return fmt.Sprintf("%s #%d by %s", a.Action, a.Index, a.From)
	default:
		return fmt.Sprintf("%s by %s", a.Action, a.From)
	}
}
