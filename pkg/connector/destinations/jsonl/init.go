package jsonl

import (
	"github.com/crmflow/crmflow/pkg/config"
	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/connector/registry"
	"github.com/crmflow/crmflow/pkg/errors"
)

func init() {
	if err := registry.RegisterDestination("jsonl", newFromRawConfig); err != nil {
		panic(err)
	}
}

func newFromRawConfig(rawConfig []byte) (core.Destination, error) {
	cfg := &config.JSONLDestinationConfig{BaseConfig: *config.NewBaseConfig("jsonl", "destination")}
	if err := config.Parse(rawConfig, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid jsonl destination config")
	}
	return NewJSONLDestination(cfg)
}
