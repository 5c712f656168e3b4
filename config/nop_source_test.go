package config_test

import (
	"context"

	"github.com/beststories/go-beststories/model"
)

type nopSource struct{}

func (nopSource) FetchIDs(context.Context) ([]string, error) {
	return nil, nil
}

func (nopSource) FetchItem(context.Context, string) (model.Item, error) {
	return model.Item{}, nil
}

func (nopSource) String() string {
	return "nop"
}
