package lookup

import (
	"context"

	"golang.org/x/sync/errgroup"

	"bioscout/internal/network"
)

// fetchBundle asks the network about target. Status and business profile are
// only requested for registered targets and run in parallel; their errors are
// recorded in the bundle rather than returned.
func fetchBundle(ctx context.Context, c network.Client, target string) network.Bundle {
	b := network.Bundle{Target: target}

	reg, err := c.CheckRegistered(ctx, target)
	if err != nil {
		b.RegisterErr = network.Normalize(err)
		return b
	}
	b.Registered = true
	b.Exists = reg.Exists
	if !reg.Exists {
		return b
	}

	var g errgroup.Group
	g.Go(func() error {
		st, err := c.FetchStatus(ctx, target)
		if err != nil {
			b.StatusErr = network.Normalize(err)
			return nil
		}
		b.Status = st
		return nil
	})
	g.Go(func() error {
		bp, err := c.FetchBusinessProfile(ctx, target)
		if err != nil {
			b.BusinessErr = network.Normalize(err)
			return nil
		}
		b.Business = bp
		return nil
	})
	_ = g.Wait()
	return b
}
