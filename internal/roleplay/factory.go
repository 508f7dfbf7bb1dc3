package roleplay

import (
	"context"

	"callcoach/internal/usecase"
)

// Factory builds the policy for a roleplay id from shared dependencies.
type Factory struct {
	catalog Catalog
	deps    usecase.Dependencies
}

func NewFactory(catalog Catalog, deps usecase.Dependencies) *Factory {
	return &Factory{catalog: catalog, deps: deps}
}

func (f *Factory) Catalog() Catalog {
	return f.catalog
}

func (f *Factory) New(ctx context.Context, roleplayID string) (Policy, error) {
	var (
		policy Policy
		err    error
	)
	switch f.catalog.KindFor(roleplayID) {
	case KindMarathon:
		var m *Marathon
		m, err = NewMarathon(ctx, roleplayID, f.deps)
		policy = m
	case KindAdvanced:
		var a *Advanced
		a, err = NewAdvanced(ctx, roleplayID, f.deps)
		policy = a
	default:
		var p *Practice
		p, err = NewPractice(ctx, roleplayID, f.deps)
		policy = p
	}
	if err != nil {
		return nil, err
	}
	return policy, nil
}
